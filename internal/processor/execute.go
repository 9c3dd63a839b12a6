package processor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"agents-eval/internal/conversation"
	"agents-eval/internal/shared/eventbus"
	"agents-eval/internal/shared/model"
)

// runLease 执行中 Run 的租约，心跳和最终写回互斥
type runLease struct {
	mu   sync.Mutex
	done bool
	stop chan struct{}
}

func (p *Processor) acquireLease(runID string) *runLease {
	l := &runLease{stop: make(chan struct{})}
	p.leaseMu.Lock()
	p.leases[runID] = l
	p.leaseMu.Unlock()
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RunsInFlight.Inc()
	}
	return l
}

func (p *Processor) releaseLease(runID string) {
	p.leaseMu.Lock()
	delete(p.leases, runID)
	p.leaseMu.Unlock()
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RunsInFlight.Dec()
	}
}

func (p *Processor) owns(runID string) bool {
	p.leaseMu.Lock()
	defer p.leaseMu.Unlock()
	_, ok := p.leases[runID]
	return ok
}

// execute 执行单个 Run，所有错误（包括 panic）都转换成 error 状态
func (p *Processor) execute(ctx context.Context, run *model.Run, lease *runLease) {
	start := p.now()
	log := p.log.WithRunID(run.ID)

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeat(ctx, run.ID, lease)
	}()
	defer func() {
		close(lease.stop)
		<-hbDone
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("[processor.run.panic]", "panic", r, "stack", string(debug.Stack()))
			lease.mu.Lock()
			finished := lease.done
			lease.mu.Unlock()
			// 终态已写回，不再覆盖
			if finished {
				return
			}
			p.fail(ctx, run, lease, fmt.Errorf("panic: %v", r), start)
		}
	}()

	if p.cfg.OnRunStart != nil {
		p.callback(run.ID, "start", func() { p.cfg.OnRunStart(run) })
	}
	p.publish(ctx, run.ID, eventbus.EventRunStarted, map[string]any{
		"scenario_id": run.ScenarioID,
		"persona_id":  run.PersonaID,
	})

	in, err := p.resolve(ctx, run)
	if err != nil {
		p.fail(ctx, run, lease, err, start)
		return
	}
	in.OnTurn = func(turn int, msgs []model.Message) {
		p.publish(ctx, run.ID, eventbus.EventRunTurn, map[string]any{
			"turn":     turn,
			"messages": msgs,
		})
	}

	out, err := p.runner.Run(ctx, *in)
	if err != nil {
		p.fail(ctx, run, lease, err, start)
		return
	}
	p.complete(ctx, run, lease, out, start)
}

// resolve 加载 Run 依赖的场景、人设和连接器
func (p *Processor) resolve(ctx context.Context, run *model.Run) (*conversation.Input, error) {
	scenario, err := p.repos.Scenarios.FindByID(ctx, run.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", run.ScenarioID, err)
	}
	if scenario == nil {
		return nil, fmt.Errorf("scenario %s not found", run.ScenarioID)
	}

	var persona *model.Persona
	if run.PersonaID != "" {
		persona, err = p.repos.Personas.FindByID(ctx, run.PersonaID)
		if err != nil {
			return nil, fmt.Errorf("load persona %s: %w", run.PersonaID, err)
		}
		if persona == nil {
			return nil, fmt.Errorf("persona %s not found", run.PersonaID)
		}
	}

	connectorID := run.ConnectorID
	if connectorID == "" && run.EvalID != "" {
		eval, err := p.repos.Evals.FindByID(ctx, run.EvalID)
		if err != nil {
			return nil, fmt.Errorf("load eval %s: %w", run.EvalID, err)
		}
		if eval != nil {
			connectorID = eval.ConnectorID
		}
	}
	if connectorID == "" {
		return nil, fmt.Errorf("run %s has no connector", run.ID)
	}
	conn, err := p.repos.Connectors.FindByID(ctx, connectorID)
	if err != nil {
		return nil, fmt.Errorf("load connector %s: %w", connectorID, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("connector %s not found", connectorID)
	}

	return &conversation.Input{Run: run, Scenario: scenario, Persona: persona, Connector: conn}, nil
}

func (p *Processor) complete(ctx context.Context, run *model.Run, lease *runLease, out *conversation.Outcome, start time.Time) {
	lease.mu.Lock()
	lease.done = true
	now := p.now()
	run.Status = model.RunStatusCompleted
	run.Messages = out.Messages
	if out.ThreadID != "" {
		run.ThreadID = out.ThreadID
	}
	result := out.Result
	run.Result = &result
	meta := out.Metadata
	run.Metadata = &meta
	run.Error = nil
	run.CompletedAt = &now
	run.UpdatedAt = now
	err := p.repos.Runs.Save(ctx, run)
	lease.mu.Unlock()

	if err != nil {
		p.log.Error("[processor.run.save.failed]", "run_id", run.ID, "error", err)
		p.fail(ctx, run, lease, fmt.Errorf("save completed run: %w", err), start)
		return
	}

	if err := p.cfg.Archive.SaveTranscript(ctx, run); err != nil {
		p.log.Warn("[processor.run.archive.failed]", "run_id", run.ID, "error", err)
	}

	p.observe(model.RunStatusCompleted, start)
	p.log.Info("[processor.run.completed]",
		"run_id", run.ID,
		"success", result.Success,
		"turns", meta.Turns,
		"termination", string(meta.TerminationReason),
		"duration_ms", p.now().Sub(start).Milliseconds())
	p.publish(ctx, run.ID, eventbus.EventRunCompleted, map[string]any{
		"success":     result.Success,
		"reason":      result.Reason,
		"turns":       meta.Turns,
		"termination": meta.TerminationReason,
	})
	if p.cfg.OnRunComplete != nil {
		p.callback(run.ID, "complete", func() { p.cfg.OnRunComplete(run) })
	}
}

func (p *Processor) fail(ctx context.Context, run *model.Run, lease *runLease, cause error, start time.Time) {
	lease.mu.Lock()
	lease.done = true
	now := p.now()
	msg := cause.Error()
	run.Status = model.RunStatusError
	run.Error = &msg
	run.Result = nil
	run.CompletedAt = &now
	run.UpdatedAt = now
	err := p.repos.Runs.Save(ctx, run)
	lease.mu.Unlock()

	if err != nil {
		p.log.Error("[processor.run.save.failed]", "run_id", run.ID, "error", err)
	}

	p.observe(model.RunStatusError, start)
	p.log.Error("[processor.run.error]", "run_id", run.ID, "error", msg)
	p.publish(ctx, run.ID, eventbus.EventRunError, map[string]any{"error": msg})
	if p.cfg.OnRunError != nil {
		p.callback(run.ID, "error", func() { p.cfg.OnRunError(run, cause) })
	}
}

// callback 调用外部回调，回调 panic 只记录日志，不影响 Run 状态
func (p *Processor) callback(runID, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("[processor.callback.panic]", "run_id", runID, "callback", name, "panic", r)
		}
	}()
	fn()
}

// heartbeat 定期刷新 heartbeat_at，直到 Run 结束
func (p *Processor) heartbeat(ctx context.Context, runID string, lease *runLease) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lease.stop:
			return
		case <-ticker.C:
			if err := p.touch(ctx, runID, lease); err != nil {
				p.log.Warn("[processor.run.heartbeat.failed]", "run_id", runID, "error", err)
			}
		}
	}
}

func (p *Processor) touch(ctx context.Context, runID string, lease *runLease) error {
	lease.mu.Lock()
	defer lease.mu.Unlock()
	if lease.done {
		return nil
	}
	run, err := p.repos.Runs.FindByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil || run.Status != model.RunStatusRunning {
		return nil
	}
	now := p.now()
	run.HeartbeatAt = &now
	return p.repos.Runs.Save(ctx, run)
}

func (p *Processor) observe(status model.RunStatus, start time.Time) {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.RunsFinished.WithLabelValues(string(status)).Inc()
	p.cfg.Metrics.RunDuration.WithLabelValues(string(status)).Observe(p.now().Sub(start).Seconds())
}

func (p *Processor) publish(ctx context.Context, runID, typ string, payload map[string]any) {
	err := p.cfg.EventBus.PublishRunEvent(ctx, runID, &eventbus.RunEvent{
		Type:      typ,
		Timestamp: p.now(),
		Payload:   payload,
	})
	if err != nil {
		p.log.Debug("[processor.event.publish.failed]", "run_id", runID, "type", typ, "error", err)
	}
}
