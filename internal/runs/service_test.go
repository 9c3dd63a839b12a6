package runs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/shared/eventbus"
	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/queue"
	"agents-eval/internal/shared/storage"
	"agents-eval/internal/shared/storage/memory"
	"agents-eval/pkg/connector"
	"agents-eval/pkg/connector/builtin"
)

const projectID = "proj-1"

// recordingQueue 记录唤醒通知
type recordingQueue struct {
	queue.NoOpQueue
	scheduled []string
	err       error
}

func (q *recordingQueue) ScheduleRun(_ context.Context, runID, _ string) (string, error) {
	q.scheduled = append(q.scheduled, runID)
	return "1-0", q.err
}

func seed(t *testing.T) *storage.Repos {
	t.Helper()
	ctx := context.Background()
	repos := memory.NewRepos(projectID)
	require.NoError(t, repos.Connectors.Save(ctx, &model.Connector{ID: "c1", ProjectID: projectID, Type: model.ConnectorTypeHTTP, BaseURL: "http://agent"}))
	require.NoError(t, repos.Personas.Save(ctx, &model.Persona{ID: "p1", ProjectID: projectID, Name: "P1"}))
	require.NoError(t, repos.Personas.Save(ctx, &model.Persona{ID: "p2", ProjectID: projectID, Name: "P2"}))
	require.NoError(t, repos.Scenarios.Save(ctx, &model.Scenario{ID: "s1", ProjectID: projectID, PersonaIDs: []string{"p1", "p2"}}))
	require.NoError(t, repos.Scenarios.Save(ctx, &model.Scenario{ID: "s2", ProjectID: projectID}))
	require.NoError(t, repos.Evals.Save(ctx, &model.Eval{ID: "e1", ProjectID: projectID, ScenarioIDs: []string{"s1", "s2"}, ConnectorID: "c1"}))
	return repos
}

func saveRun(t *testing.T, repos *storage.Repos, run *model.Run) {
	t.Helper()
	if run.ProjectID == "" {
		run.ProjectID = projectID
	}
	require.NoError(t, repos.Runs.Save(context.Background(), run))
}

// ============================================================================
// 创建
// ============================================================================

func TestCreateForEval_FanOut(t *testing.T) {
	repos := seed(t)
	q := &recordingQueue{}
	bus := eventbus.NewMemoryEventBus()
	svc := NewService(repos, Options{Queue: q, EventBus: bus})

	exec, runs, err := svc.CreateForEval(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), exec.Number)
	require.Len(t, runs, 3)

	type pair struct{ scenario, persona string }
	var got []pair
	for _, r := range runs {
		got = append(got, pair{r.ScenarioID, r.PersonaID})
		assert.Equal(t, model.RunStatusQueued, r.Status)
		assert.Equal(t, "c1", r.ConnectorID)
		assert.Equal(t, exec.ID, r.ExecutionID)
		assert.Equal(t, "e1", r.EvalID)
		assert.NotEmpty(t, r.ThreadID)
		assert.NotNil(t, r.Messages)
	}
	assert.Equal(t, []pair{{"s1", "p1"}, {"s1", "p2"}, {"s2", ""}}, got)
	assert.Len(t, q.scheduled, 3)

	stored, err := svc.List(context.Background(), ListFilter{ExecutionID: exec.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	events, err := bus.GetRunEvents(context.Background(), runs[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventRunQueued, events[0].Type)
}

func TestCreateForEval_ExecutionNumberIncrements(t *testing.T) {
	svc := NewService(seed(t), Options{})
	for want := int64(1); want <= 3; want++ {
		exec, _, err := svc.CreateForEval(context.Background(), "e1")
		require.NoError(t, err)
		assert.Equal(t, want, exec.Number)
	}
}

func TestCreateForEval_ConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	repos := seed(t)
	svc := NewService(repos, Options{})

	_, _, err := svc.CreateForEval(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, repos.Evals.Save(ctx, &model.Eval{ID: "e-bad-scenario", ProjectID: projectID, ScenarioIDs: []string{"nope"}, ConnectorID: "c1"}))
	_, _, err = svc.CreateForEval(ctx, "e-bad-scenario")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Contains(t, err.Error(), "scenario nope")

	require.NoError(t, repos.Evals.Save(ctx, &model.Eval{ID: "e-bad-conn", ProjectID: projectID, ScenarioIDs: []string{"s2"}, ConnectorID: "gone"}))
	_, _, err = svc.CreateForEval(ctx, "e-bad-conn")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, repos.Scenarios.Save(ctx, &model.Scenario{ID: "s3", ProjectID: projectID, PersonaIDs: []string{"ghost"}}))
	require.NoError(t, repos.Evals.Save(ctx, &model.Eval{ID: "e-bad-persona", ProjectID: projectID, ScenarioIDs: []string{"s3"}, ConnectorID: "c1"}))
	_, _, err = svc.CreateForEval(ctx, "e-bad-persona")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, repos.Evals.Save(ctx, &model.Eval{ID: "e-empty", ProjectID: projectID, ConnectorID: "c1"}))
	_, _, err = svc.CreateForEval(ctx, "e-empty")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	// 出错时不留下任何 Run 或 Execution
	all, err := repos.Runs.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	execs, err := repos.Executions.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestCreatePlayground(t *testing.T) {
	ctx := context.Background()
	q := &recordingQueue{err: errors.New("redis down")}
	svc := NewService(seed(t), Options{Queue: q})

	run, err := svc.CreatePlayground(ctx, PlaygroundRequest{ScenarioID: "s1", ConnectorID: "c1", PersonaID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Empty(t, run.EvalID)
	assert.Equal(t, "p2", run.PersonaID)
	assert.Equal(t, []string{run.ID}, q.scheduled)

	_, err = svc.CreatePlayground(ctx, PlaygroundRequest{ScenarioID: "s1"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = svc.CreatePlayground(ctx, PlaygroundRequest{ScenarioID: "s1", ConnectorID: "c1", PersonaID: "nobody"})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

// ============================================================================
// 重试
// ============================================================================

func TestRetry_OnlyFromError(t *testing.T) {
	repos := seed(t)
	svc := NewService(repos, Options{})
	ctx := context.Background()

	for _, status := range []model.RunStatus{model.RunStatusQueued, model.RunStatusRunning, model.RunStatusCompleted} {
		saveRun(t, repos, &model.Run{ID: "r-" + string(status), Status: status})
		_, err := svc.Retry(ctx, "r-"+string(status))
		assert.True(t, errors.Is(err, ErrInvalidState), status)
	}

	msg := "connector unreachable"
	now := time.Now()
	saveRun(t, repos, &model.Run{
		ID:          "r-error",
		Status:      model.RunStatusError,
		Error:       &msg,
		ThreadID:    "old-thread",
		Messages:    []model.Message{{ID: "m1", Role: model.RoleUser, Content: "hi"}},
		Result:      &model.RunResult{Success: false},
		Metadata:    &model.RunMetadata{Turns: 2},
		CompletedAt: &now,
	})

	run, err := svc.Retry(ctx, "r-error")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	stored, err := svc.Get(ctx, "r-error")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, stored.Status)
	assert.NotNil(t, stored.Messages)
	assert.Empty(t, stored.Messages)
	assert.Nil(t, stored.Result)
	assert.Nil(t, stored.Error)
	assert.Nil(t, stored.Metadata)
	assert.Nil(t, stored.CompletedAt)
	assert.NotEqual(t, "old-thread", stored.ThreadID)
	assert.NotEmpty(t, stored.ThreadID)

	_, err = svc.Retry(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

// ============================================================================
// 删除和保留
// ============================================================================

func TestDelete(t *testing.T) {
	repos := seed(t)
	svc := NewService(repos, Options{})
	ctx := context.Background()
	saveRun(t, repos, &model.Run{ID: "done", Status: model.RunStatusCompleted})
	saveRun(t, repos, &model.Run{ID: "busy", Status: model.RunStatusRunning})

	require.NoError(t, svc.Delete(ctx, "done"))
	_, err := svc.Get(ctx, "done")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	assert.True(t, errors.Is(svc.Delete(ctx, "busy"), ErrInvalidState))
	assert.True(t, errors.Is(svc.Delete(ctx, "done"), storage.ErrNotFound))
}

func TestDeleteExecution_Cascades(t *testing.T) {
	repos := seed(t)
	svc := NewService(repos, Options{})
	ctx := context.Background()

	exec1, _, err := svc.CreateForEval(ctx, "e1")
	require.NoError(t, err)
	exec2, _, err := svc.CreateForEval(ctx, "e1")
	require.NoError(t, err)

	n, err := svc.DeleteExecution(ctx, exec1.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := svc.List(ctx, ListFilter{EvalID: "e1"})
	require.NoError(t, err)
	assert.Len(t, left, 3)
	for _, r := range left {
		assert.Equal(t, exec2.ID, r.ExecutionID)
	}

	_, err = svc.DeleteExecution(ctx, exec1.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestDeleteExecution_RejectsRunningRun(t *testing.T) {
	repos := seed(t)
	svc := NewService(repos, Options{})
	ctx := context.Background()

	exec, created, err := svc.CreateForEval(ctx, "e1")
	require.NoError(t, err)
	busy := created[1]
	busy.Status = model.RunStatusRunning
	require.NoError(t, repos.Runs.Save(ctx, busy))

	n, err := svc.DeleteExecution(ctx, exec.ID)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, 0, n)

	// 什么都没删
	left, err := svc.List(ctx, ListFilter{ExecutionID: exec.ID})
	require.NoError(t, err)
	assert.Len(t, left, 3)
	stored, err := repos.Executions.FindByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestPruneExecutions_SkipsRunning(t *testing.T) {
	repos := seed(t)
	svc := NewService(repos, Options{})
	ctx := context.Background()

	var execs []*model.Execution
	var first []*model.Run
	for i := 0; i < 3; i++ {
		exec, created, err := svc.CreateForEval(ctx, "e1")
		require.NoError(t, err)
		execs = append(execs, exec)
		if i == 0 {
			first = created
		}
	}
	first[0].Status = model.RunStatusRunning
	require.NoError(t, repos.Runs.Save(ctx, first[0]))

	pruned, err := svc.PruneExecutions(ctx, "e1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	kept, err := repos.Executions.FindAll(ctx)
	require.NoError(t, err)
	var ids []string
	for _, e := range kept {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{execs[0].ID, execs[2].ID}, ids)

	running, err := svc.Get(ctx, first[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, running.Status)
}

func TestPruneExecutions(t *testing.T) {
	repos := seed(t)
	svc := NewService(repos, Options{})
	ctx := context.Background()

	var last *model.Execution
	for i := 0; i < 4; i++ {
		exec, _, err := svc.CreateForEval(ctx, "e1")
		require.NoError(t, err)
		last = exec
	}

	pruned, err := svc.PruneExecutions(ctx, "e1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	execs, err := repos.Executions.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, last.ID, execs[0].ID)
	assert.Equal(t, int64(4), execs[0].Number)

	runs, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	_, err = svc.PruneExecutions(ctx, "e1", -1)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

// ============================================================================
// 作用域和连接器探测
// ============================================================================

func TestProjectScope(t *testing.T) {
	repos := seed(t)
	saveRun(t, repos, &model.Run{ID: "foreign", ProjectID: "proj-2", Status: model.RunStatusError})
	svc := NewService(repos, Options{})

	_, err := svc.Get(context.Background(), "foreign")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	unscoped := NewService(repos.WithProject(""), Options{})
	run, err := unscoped.Get(context.Background(), "foreign")
	require.NoError(t, err)
	assert.Equal(t, "proj-2", run.ProjectID)
}

func TestTestConnector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("healthy"))
	}))
	defer srv.Close()

	repos := seed(t)
	require.NoError(t, repos.Connectors.Save(context.Background(), &model.Connector{ID: "live", ProjectID: projectID, Type: model.ConnectorTypeHTTP, BaseURL: srv.URL}))
	svc := NewService(repos, Options{Connectors: connector.NewClient(builtin.Default(), time.Second)})

	desc, err := svc.TestConnector(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, "ok: healthy", desc)

	_, err = svc.TestConnector(context.Background(), "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
