// Package runs 运行的创建、查询、重试和删除
//
// 命令行和 HTTP 层都通过 Service 操作 Run。引用错误（场景、人设、连接器不存在）
// 在创建时同步返回，不会留到执行阶段。
package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"agents-eval/internal/shared/eventbus"
	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/objstore"
	"agents-eval/internal/shared/queue"
	"agents-eval/internal/shared/storage"
	"agents-eval/pkg/connector"
	"agents-eval/pkg/logging"
)

var (
	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("invalid run state")
	// ErrInvalidInput 请求参数不合法
	ErrInvalidInput = errors.New("invalid input")
)

// Options 可选依赖
type Options struct {
	Queue      queue.SchedulerQueue
	EventBus   eventbus.RunEventBus
	Archive    objstore.Archive
	Connectors *connector.Client
	Logger     *logging.Logger
}

// Service 运行服务
type Service struct {
	repos      *storage.Repos
	queue      queue.SchedulerQueue
	events     eventbus.RunEventBus
	archive    objstore.Archive
	connectors *connector.Client
	log        *logging.Logger
	now        func() time.Time
}

// NewService 创建运行服务
func NewService(repos *storage.Repos, opts Options) *Service {
	s := &Service{
		repos:      repos,
		queue:      opts.Queue,
		events:     opts.EventBus,
		archive:    opts.Archive,
		connectors: opts.Connectors,
		log:        opts.Logger,
		now:        time.Now,
	}
	if s.events == nil {
		s.events = eventbus.NewNoOpEventBus()
	}
	if s.archive == nil {
		s.archive = objstore.NoOpArchive{}
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.Component("runs")
	return s
}

// ============================================================================
// 创建
// ============================================================================

// CreateForEval 为评测创建一次执行，按 场景 × 人设 展开 Run
//
// 没有人设的场景展开为一个不带人设的 Run。所有 Run 继承评测的连接器。
func (s *Service) CreateForEval(ctx context.Context, evalID string) (*model.Execution, []*model.Run, error) {
	eval, err := s.repos.Evals.FindByID(ctx, evalID)
	if err != nil {
		return nil, nil, fmt.Errorf("load eval %s: %w", evalID, err)
	}
	if eval == nil || !s.inScope(eval.ProjectID) {
		return nil, nil, fmt.Errorf("eval %s: %w", evalID, storage.ErrNotFound)
	}
	if len(eval.ScenarioIDs) == 0 {
		return nil, nil, fmt.Errorf("%w: eval %s has no scenarios", ErrInvalidInput, evalID)
	}
	if _, err := s.requireConnector(ctx, eval.ConnectorID); err != nil {
		return nil, nil, err
	}

	type pair struct {
		scenarioID string
		personaID  string
	}
	var pairs []pair
	for _, sid := range eval.ScenarioIDs {
		sc, err := s.requireScenario(ctx, sid)
		if err != nil {
			return nil, nil, err
		}
		if len(sc.PersonaIDs) == 0 {
			pairs = append(pairs, pair{scenarioID: sc.ID})
			continue
		}
		for _, pid := range sc.PersonaIDs {
			if _, err := s.requirePersona(ctx, pid); err != nil {
				return nil, nil, err
			}
			pairs = append(pairs, pair{scenarioID: sc.ID, personaID: pid})
		}
	}

	number, err := s.nextExecutionNumber(ctx, eval.ID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	exec := &model.Execution{
		ID:        uuid.NewString(),
		ProjectID: eval.ProjectID,
		EvalID:    eval.ID,
		Number:    number,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repos.Executions.Save(ctx, exec); err != nil {
		return nil, nil, fmt.Errorf("save execution: %w", err)
	}

	runs := make([]*model.Run, 0, len(pairs))
	for i, pr := range pairs {
		// 同一批次内保持展开顺序
		created := now.Add(time.Duration(i) * time.Microsecond)
		runs = append(runs, &model.Run{
			ID:          uuid.NewString(),
			ProjectID:   eval.ProjectID,
			EvalID:      eval.ID,
			ExecutionID: exec.ID,
			ScenarioID:  pr.scenarioID,
			PersonaID:   pr.personaID,
			ConnectorID: eval.ConnectorID,
			Status:      model.RunStatusQueued,
			Messages:    []model.Message{},
			ThreadID:    uuid.NewString(),
			CreatedAt:   created,
			UpdatedAt:   created,
		})
	}
	if err := s.repos.Runs.SaveMany(ctx, runs); err != nil {
		return nil, nil, fmt.Errorf("save runs: %w", err)
	}

	s.log.Info("[runs.execution.created]", "eval_id", eval.ID, "execution_id", exec.ID, "number", number, "runs", len(runs))
	for _, run := range runs {
		s.enqueue(ctx, run)
	}
	return exec, runs, nil
}

// PlaygroundRequest 单次试跑请求
type PlaygroundRequest struct {
	ScenarioID  string `json:"scenario_id"`
	ConnectorID string `json:"connector_id"`
	PersonaID   string `json:"persona_id,omitempty"`
}

// CreatePlayground 创建不属于任何评测的单个 Run
func (s *Service) CreatePlayground(ctx context.Context, req PlaygroundRequest) (*model.Run, error) {
	if req.ScenarioID == "" || req.ConnectorID == "" {
		return nil, fmt.Errorf("%w: scenario_id and connector_id are required", ErrInvalidInput)
	}
	sc, err := s.requireScenario(ctx, req.ScenarioID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireConnector(ctx, req.ConnectorID); err != nil {
		return nil, err
	}
	if req.PersonaID != "" {
		if _, err := s.requirePersona(ctx, req.PersonaID); err != nil {
			return nil, err
		}
	}

	projectID := s.repos.ProjectID
	if projectID == "" {
		projectID = sc.ProjectID
	}
	now := s.now()
	run := &model.Run{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		ScenarioID:  req.ScenarioID,
		PersonaID:   req.PersonaID,
		ConnectorID: req.ConnectorID,
		Status:      model.RunStatusQueued,
		Messages:    []model.Message{},
		ThreadID:    uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repos.Runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	s.log.Info("[runs.playground.created]", "run_id", run.ID, "scenario_id", run.ScenarioID)
	s.enqueue(ctx, run)
	return run, nil
}

// ============================================================================
// 查询和状态变更
// ============================================================================

// Get 获取 Run
func (s *Service) Get(ctx context.Context, id string) (*model.Run, error) {
	run, err := s.repos.Runs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	if run == nil || !s.inScope(run.ProjectID) {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return run, nil
}

// ListFilter 列表过滤条件
type ListFilter struct {
	EvalID      string
	ExecutionID string
	ScenarioID  string
	Statuses    []model.RunStatus
	Limit       int
}

// List 按创建时间升序列出 Run
func (s *Service) List(ctx context.Context, f ListFilter) ([]*model.Run, error) {
	filter := storage.StatusFilter(s.repos.ProjectID, f.Statuses...)
	filter.EvalID = f.EvalID
	filter.ExecutionID = f.ExecutionID
	filter.ScenarioID = f.ScenarioID
	filter.Limit = f.Limit
	runs, err := s.repos.Runs.FindBy(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Retry 重试出错的 Run，只允许 error 状态
func (s *Service) Retry(ctx context.Context, id string) (*model.Run, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !run.CanRetry() {
		return nil, fmt.Errorf("%w: run %s is %s, only error runs can be retried", ErrInvalidState, id, run.Status)
	}
	run.ResetForRetry(uuid.NewString(), s.now())
	if err := s.repos.Runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	if err := s.events.DeleteRunEvents(ctx, run.ID); err != nil {
		s.log.Warn("[runs.retry.events.clear.failed]", "run_id", id, "error", err)
	}
	s.log.Info("[runs.retry]", "run_id", id)
	s.enqueue(ctx, run)
	return run, nil
}

// Delete 删除 Run，执行中的 Run 不能删除
func (s *Service) Delete(ctx context.Context, id string) error {
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.IsRunning() {
		return fmt.Errorf("%w: run %s is running", ErrInvalidState, id)
	}
	return s.deleteRun(ctx, run.ID)
}

// DeleteExecution 删除执行及其所有 Run，返回删除的 Run 数量
func (s *Service) DeleteExecution(ctx context.Context, id string) (int, error) {
	exec, err := s.repos.Executions.FindByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load execution %s: %w", id, err)
	}
	if exec == nil || !s.inScope(exec.ProjectID) {
		return 0, fmt.Errorf("execution %s: %w", id, storage.ErrNotFound)
	}

	runs, err := s.repos.Runs.FindBy(ctx, storage.Filter{ExecutionID: id})
	if err != nil {
		return 0, fmt.Errorf("list execution runs: %w", err)
	}
	// 执行中的 Run 由处理器持有，删除后会在完成时被写回
	for _, run := range runs {
		if run.IsRunning() {
			return 0, fmt.Errorf("%w: execution %s has running run %s", ErrInvalidState, id, run.ID)
		}
	}
	for _, run := range runs {
		if err := s.deleteRun(ctx, run.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
	}
	if err := s.repos.Executions.DeleteByID(ctx, id); err != nil {
		return 0, fmt.Errorf("delete execution %s: %w", id, err)
	}
	s.log.Info("[runs.execution.deleted]", "execution_id", id, "runs", len(runs))
	return len(runs), nil
}

// PruneExecutions 只保留评测最近的 keep 次执行，返回删除的执行数量
//
// 仍有 Run 在执行的旧执行会被跳过，留到下次清理。
func (s *Service) PruneExecutions(ctx context.Context, evalID string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep must not be negative", ErrInvalidInput)
	}
	execs, err := s.repos.Executions.FindBy(ctx, storage.Filter{ProjectID: s.repos.ProjectID, EvalID: evalID})
	if err != nil {
		return 0, fmt.Errorf("list executions: %w", err)
	}
	if len(execs) <= keep {
		return 0, nil
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].Number > execs[j].Number })

	pruned := 0
	for _, exec := range execs[keep:] {
		if _, err := s.DeleteExecution(ctx, exec.ID); err != nil {
			if errors.Is(err, ErrInvalidState) {
				s.log.Info("[runs.execution.prune.skipped]", "execution_id", exec.ID, "reason", err.Error())
				continue
			}
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// TestConnector 探测连接器是否可用
func (s *Service) TestConnector(ctx context.Context, id string) (string, error) {
	if s.connectors == nil {
		return "", fmt.Errorf("connector client is not configured")
	}
	conn, err := s.requireConnector(ctx, id)
	if err != nil {
		return "", err
	}
	return s.connectors.Test(ctx, conn)
}

// ============================================================================
// 内部辅助
// ============================================================================

func (s *Service) inScope(projectID string) bool {
	return s.repos.ProjectID == "" || s.repos.ProjectID == projectID
}

func (s *Service) deleteRun(ctx context.Context, id string) error {
	if err := s.repos.Runs.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if err := s.archive.DeleteTranscript(ctx, id); err != nil {
		s.log.Warn("[runs.delete.archive.failed]", "run_id", id, "error", err)
	}
	if err := s.events.DeleteRunEvents(ctx, id); err != nil {
		s.log.Warn("[runs.delete.events.failed]", "run_id", id, "error", err)
	}
	return nil
}

func (s *Service) nextExecutionNumber(ctx context.Context, evalID string) (int64, error) {
	execs, err := s.repos.Executions.FindBy(ctx, storage.Filter{EvalID: evalID})
	if err != nil {
		return 0, fmt.Errorf("list executions: %w", err)
	}
	var highest int64
	for _, e := range execs {
		if e.Number > highest {
			highest = e.Number
		}
	}
	return highest + 1, nil
}

// enqueue 写入唤醒队列并发布 queued 事件，失败只记日志（处理器有保底轮询）
func (s *Service) enqueue(ctx context.Context, run *model.Run) {
	if s.queue != nil {
		if _, err := s.queue.ScheduleRun(ctx, run.ID, run.ProjectID); err != nil {
			s.log.Warn("[runs.queue.failed]", "run_id", run.ID, "error", err)
		}
	}
	err := s.events.PublishRunEvent(ctx, run.ID, &eventbus.RunEvent{
		Type:      eventbus.EventRunQueued,
		Timestamp: s.now(),
		Payload:   map[string]any{"scenario_id": run.ScenarioID, "persona_id": run.PersonaID},
	})
	if err != nil {
		s.log.Debug("[runs.event.failed]", "run_id", run.ID, "error", err)
	}
}

func (s *Service) requireScenario(ctx context.Context, id string) (*model.Scenario, error) {
	sc, err := s.repos.Scenarios.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", id, err)
	}
	if sc == nil {
		return nil, fmt.Errorf("scenario %s: %w", id, storage.ErrNotFound)
	}
	return sc, nil
}

func (s *Service) requirePersona(ctx context.Context, id string) (*model.Persona, error) {
	p, err := s.repos.Personas.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load persona %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("persona %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Service) requireConnector(ctx context.Context, id string) (*model.Connector, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: connector id is empty", ErrInvalidInput)
	}
	c, err := s.repos.Connectors.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load connector %s: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("connector %s: %w", id, storage.ErrNotFound)
	}
	return c, nil
}
