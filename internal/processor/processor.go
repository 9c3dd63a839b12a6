// Package processor 运行处理器
//
// 处理器定期轮询仓储中 queued 状态的 Run，在并发上限内按创建时间认领，
// 每个 Run 在独立的 goroutine 中交给对话驱动执行，结束后写回最终状态。
//
// 架构：仓储轮询（保底）+ 唤醒队列（可选，Redis Streams）
//
//	queued ──认领──▶ running ──▶ completed / error
//	   ▲                │
//	   └──心跳超时回收───┘
//
// 同一个存储只应运行一个处理器实例，多实例部署时用 instancelock 保证。
package processor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"agents-eval/internal/conversation"
	"agents-eval/internal/shared/eventbus"
	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/objstore"
	"agents-eval/internal/shared/queue"
	"agents-eval/internal/shared/storage"
	"agents-eval/pkg/logging"
)

// 默认配置
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultMaxConcurrent     = 3
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStaleThreshold    = 2 * time.Minute
)

// Runner 执行一次对话
type Runner interface {
	Run(ctx context.Context, in conversation.Input) (*conversation.Outcome, error)
}

// Config 处理器配置
type Config struct {
	PollInterval  time.Duration
	MaxConcurrent int
	// ProjectID 为空时处理所有项目的 Run
	ProjectID string

	// HeartbeatInterval 执行中 Run 的心跳间隔
	HeartbeatInterval time.Duration
	// StaleThreshold 心跳超过该时间未更新的 running Run 会被重新排队，<0 关闭回收
	StaleThreshold time.Duration

	OnRunStart    func(run *model.Run)
	OnRunComplete func(run *model.Run)
	OnRunError    func(run *model.Run, err error)

	// 以下均可为空
	EventBus eventbus.RunEventBus
	Queue    queue.SchedulerQueue
	Archive  objstore.Archive
	Metrics  *Metrics
	Logger   *logging.Logger
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StaleThreshold == 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	if c.StaleThreshold > 0 && c.HeartbeatInterval >= c.StaleThreshold {
		c.HeartbeatInterval = c.StaleThreshold / 3
	}
	if c.EventBus == nil {
		c.EventBus = eventbus.NewNoOpEventBus()
	}
	if c.Archive == nil {
		c.Archive = objstore.NoOpArchive{}
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
}

// Processor 运行处理器
type Processor struct {
	cfg    Config
	repos  *storage.Repos
	runner Runner
	log    *logging.Logger
	now    func() time.Time

	mu       sync.Mutex // 保护 running / cancel
	running  bool
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	inflight sync.WaitGroup

	cycleMu sync.Mutex // 串行化轮询周期，避免重复认领

	leaseMu sync.Mutex
	leases  map[string]*runLease
}

// New 创建处理器
func New(repos *storage.Repos, runner Runner, cfg Config) *Processor {
	cfg.applyDefaults()
	if cfg.ProjectID == "" {
		cfg.ProjectID = repos.ProjectID
	}
	return &Processor{
		cfg:    cfg,
		repos:  repos,
		runner: runner,
		log:    cfg.Logger.Component("processor"),
		now:    time.Now,
		leases: make(map[string]*runLease),
	}
}

// Start 启动轮询，重复调用无副作用
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.log.Info("[processor.start]",
		"project_id", p.cfg.ProjectID,
		"poll_interval", p.cfg.PollInterval.String(),
		"max_concurrent", p.cfg.MaxConcurrent,
		"queue_enabled", p.cfg.Queue != nil)

	p.loops.Add(1)
	go func() {
		defer p.loops.Done()
		p.pollLoop(loopCtx)
	}()

	if p.cfg.StaleThreshold > 0 {
		p.loops.Add(1)
		go func() {
			defer p.loops.Done()
			p.reapLoop(loopCtx)
		}()
	}

	if p.cfg.Queue != nil {
		p.loops.Add(1)
		go func() {
			defer p.loops.Done()
			p.wakeLoop(loopCtx)
		}()
	}
}

// Stop 停止认领新 Run，并等待执行中的 Run 全部结束
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.inflight.Wait()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.loops.Wait()
	p.log.Info("[processor.stopping] waiting for in-flight runs", "in_flight", p.InFlight())
	p.inflight.Wait()
	p.log.Info("[processor.stopped]")
}

// Wait 等待当前执行中的 Run 全部结束
func (p *Processor) Wait() {
	p.inflight.Wait()
}

// InFlight 本实例正在执行的 Run 数量
func (p *Processor) InFlight() int {
	p.leaseMu.Lock()
	defer p.leaseMu.Unlock()
	return len(p.leases)
}

func (p *Processor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.cycle(ctx, "start")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx, "poll")
		}
	}
}

// wakeLoop 消费唤醒队列，收到消息立即执行一轮
func (p *Processor) wakeLoop(ctx context.Context) {
	if err := p.cfg.Queue.CreateSchedulerConsumerGroup(ctx); err != nil {
		p.log.Warn("[processor.queue.group.failed]", "error", err)
	}
	consumer := consumerID()

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := p.cfg.Queue.ConsumeSchedulerRuns(ctx, consumer, 10, p.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("[processor.queue.consume.failed]", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		for _, m := range msgs {
			if err := p.cfg.Queue.AckSchedulerRun(ctx, m.ID); err != nil {
				p.log.Warn("[processor.queue.ack.failed]", "msg_id", m.ID, "error", err)
			}
		}
		p.cycle(ctx, "queue")
	}
}

func (p *Processor) cycle(ctx context.Context, source string) {
	n, err := p.ProcessOnce(ctx)
	if err != nil {
		p.log.Error("[processor.cycle.failed]", "source", source, "error", err)
		return
	}
	if n > 0 {
		p.log.Info("[processor.cycle]", "source", source, "started", n)
	}
}

// ProcessOnce 执行一轮轮询，返回本轮启动的 Run 数量
//
// 按创建时间认领最多 (并发上限 - 执行中数量) 个 queued Run，认领后立即返回，不等待执行结束。
func (p *Processor) ProcessOnce(ctx context.Context) (int, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.PollCycles.Inc()
	}

	slots := p.maxConcurrent(ctx) - p.InFlight()
	if slots <= 0 {
		return 0, nil
	}

	filter := storage.StatusFilter(p.cfg.ProjectID, model.RunStatusQueued)
	filter.Limit = slots
	queued, err := p.repos.Runs.FindBy(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list queued runs: %w", err)
	}

	runCtx := context.WithoutCancel(ctx)
	started := 0
	for _, run := range queued {
		if started >= slots {
			break
		}
		if err := p.claim(ctx, run); err != nil {
			p.log.Error("[processor.run.claim.failed]", "run_id", run.ID, "error", err)
			continue
		}
		started++

		lease := p.acquireLease(run.ID)
		p.inflight.Add(1)
		go func(run *model.Run) {
			defer p.inflight.Done()
			defer p.releaseLease(run.ID)
			p.execute(runCtx, run, lease)
		}(run)
	}
	return started, nil
}

// maxConcurrent 项目设置优先于处理器配置
func (p *Processor) maxConcurrent(ctx context.Context) int {
	if p.cfg.ProjectID == "" || p.repos.Projects == nil {
		return p.cfg.MaxConcurrent
	}
	project, err := p.repos.Projects.FindByID(ctx, p.cfg.ProjectID)
	if err != nil || project == nil {
		return p.cfg.MaxConcurrent
	}
	if project.Settings.MaxConcurrentRuns > 0 {
		return project.Settings.MaxConcurrentRuns
	}
	return p.cfg.MaxConcurrent
}

// claim 在任何外部调用之前把 Run 标记为 running
func (p *Processor) claim(ctx context.Context, run *model.Run) error {
	now := p.now()
	run.Status = model.RunStatusRunning
	run.StartedAt = &now
	run.HeartbeatAt = &now
	run.UpdatedAt = now
	if err := p.repos.Runs.Save(ctx, run); err != nil {
		return err
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RunsStarted.Inc()
	}
	p.log.Info("[processor.run.claimed]", "run_id", run.ID, "scenario_id", run.ScenarioID, "persona_id", run.PersonaID)
	return nil
}

func consumerID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "processor"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
