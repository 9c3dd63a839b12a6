package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/conversation"
	"agents-eval/internal/processor"
	"agents-eval/internal/shared/instancelock"
	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage/memory"
)

// blockingRunner 阻塞直到 release 关闭
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Run(_ context.Context, in conversation.Input) (*conversation.Outcome, error) {
	close(r.started)
	<-r.release
	return &conversation.Outcome{
		Messages: []model.Message{},
		ThreadID: in.Run.ThreadID,
		Result:   model.RunResult{Success: true},
	}, nil
}

// recordingLease 记录释放时处理器上仍在执行的 Run 数
type recordingLease struct {
	proc     *processor.Processor
	mu       sync.Mutex
	released bool
	inFlight int
}

func (l *recordingLease) Done() <-chan struct{} { return nil }

func (l *recordingLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	l.inFlight = l.proc.InFlight()
	return nil
}

func (l *recordingLease) state() (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released, l.inFlight
}

type recordingLocker struct{ lease *recordingLease }

func (l recordingLocker) Acquire(context.Context) (instancelock.Lease, error) { return l.lease, nil }
func (l recordingLocker) TryAcquire(context.Context) (instancelock.Lease, error) {
	return l.lease, nil
}
func (recordingLocker) Close() error { return nil }

func TestRunProcessor_ReleasesLockAfterDrain(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewRepos("proj-1")
	require.NoError(t, repos.Scenarios.Save(ctx, &model.Scenario{ID: "s1", ProjectID: "proj-1"}))
	require.NoError(t, repos.Connectors.Save(ctx, &model.Connector{ID: "c1", ProjectID: "proj-1", Type: model.ConnectorTypeHTTP, BaseURL: "http://x"}))
	require.NoError(t, repos.Runs.Save(ctx, &model.Run{ID: "r1", ProjectID: "proj-1", ScenarioID: "s1", ConnectorID: "c1", Status: model.RunStatusQueued, Messages: []model.Message{}}))

	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	proc := processor.New(repos, runner, processor.Config{PollInterval: 10 * time.Millisecond, StaleThreshold: -1})
	lease := &recordingLease{proc: proc}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runProcessor(runCtx, recordingLocker{lease: lease}, proc)
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run was not picked up")
	}

	cancel()
	time.Sleep(50 * time.Millisecond)
	released, _ := lease.state()
	assert.False(t, released, "lock released while a run is still executing")

	close(runner.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runProcessor did not return")
	}

	released, inFlight := lease.state()
	assert.True(t, released)
	assert.Equal(t, 0, inFlight)

	run, err := repos.Runs.FindByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
}
