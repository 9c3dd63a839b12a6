package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agents-eval/internal/shared/eventbus"
	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
)

func (p *Processor) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StaleThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.ReapStale(ctx); err != nil {
				p.log.Error("[processor.reap.failed]", "error", err)
			} else if n > 0 {
				p.log.Warn("[processor.reap]", "requeued", n)
			}
		}
	}
}

// ReapStale 把心跳超时且不属于本实例的 running Run 重新排队
//
// 重新排队与重试一致：清空消息、结论、错误和元数据，并分配新的会话线程。
func (p *Processor) ReapStale(ctx context.Context) (int, error) {
	if p.cfg.StaleThreshold <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.cfg.StaleThreshold)
	filter := storage.StatusFilter(p.cfg.ProjectID, model.RunStatusRunning)
	filter.HeartbeatBefore = &cutoff

	stale, err := p.repos.Runs.FindBy(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list stale runs: %w", err)
	}

	reaped := 0
	for _, run := range stale {
		if p.owns(run.ID) {
			continue
		}
		run.ResetForRetry(uuid.NewString(), p.now())
		if err := p.repos.Runs.Save(ctx, run); err != nil {
			p.log.Error("[processor.reap.save.failed]", "run_id", run.ID, "error", err)
			continue
		}
		reaped++
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RunsReaped.Inc()
		}
		p.publish(ctx, run.ID, eventbus.EventRunQueued, map[string]any{"reason": "stale heartbeat"})
		if p.cfg.Queue != nil {
			if _, err := p.cfg.Queue.ScheduleRun(ctx, run.ID, run.ProjectID); err != nil {
				p.log.Warn("[processor.reap.notify.failed]", "run_id", run.ID, "error", err)
			}
		}
	}
	return reaped, nil
}
