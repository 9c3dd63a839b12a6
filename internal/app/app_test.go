package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/config"
	"agents-eval/internal/evaluator"
	"agents-eval/internal/processor"
	"agents-eval/internal/runs"
	"agents-eval/internal/shared/infra"
	"agents-eval/internal/shared/model"
	"agents-eval/pkg/llm"
)

func testConfig() *config.Config {
	return &config.Config{
		DatabaseDriver: "memory",
		Processor: config.ProcessorConfig{
			ProjectID:         "proj-1",
			PollInterval:      50 * time.Millisecond,
			MaxConcurrent:     2,
			HeartbeatInterval: time.Second,
			StaleThreshold:    -1,
			UnparseableLimit:  3,
			MaxTurnsCap:       5,
		},
		LLM:       config.LLMConfig{SimulatorModel: "sim-model", JudgeModel: "judge-model", Timeout: time.Second},
		Connector: config.ConnectorConfig{Timeout: 5 * time.Second},
	}
}

// 模拟器说出 refund，评判器在对话出现 refund issued 时判定成功
func scriptedLLM() *llm.MockClient {
	client := llm.NewMockClient()
	client.Handler = func(req llm.Request) (string, error) {
		if req.JSONMode {
			return `{"success": true, "reason": "agent issued the refund"}`, nil
		}
		return "I would like a refund for order 42", nil
	}
	return client
}

func TestPipeline_EndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		received []map[string]any
	)
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		received = append(received, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content": "Sure, refund issued", "usage": {"input_tokens": 10, "output_tokens": 5}}`))
	}))
	defer agent.Close()

	ctx := context.Background()
	cfg := testConfig()
	inf := infra.NewMemoryInfrastructure(cfg.Processor.ProjectID)
	reg := prometheus.NewRegistry()
	a, err := New(cfg, inf, nil, Options{LLM: scriptedLLM(), Registerer: reg})
	require.NoError(t, err)

	repos := inf.Repos
	require.NoError(t, repos.Connectors.Save(ctx, &model.Connector{ID: "c1", ProjectID: "proj-1", Type: model.ConnectorTypeHTTP, BaseURL: agent.URL}))
	require.NoError(t, repos.Personas.Save(ctx, &model.Persona{ID: "p1", ProjectID: "proj-1", Name: "Impatient customer"}))
	require.NoError(t, repos.Scenarios.Save(ctx, &model.Scenario{
		ID:              "s1",
		ProjectID:       "proj-1",
		Name:            "refund",
		MaxMessages:     3,
		SuccessCriteria: "the agent confirms the refund",
		PersonaIDs:      []string{"p1"},
		Evaluators:      []model.EvaluatorRef{{Type: "contains", Config: map[string]any{"text": "refund"}}},
	}))

	run, err := a.Runs.CreatePlayground(ctx, runs.PlaygroundRequest{ScenarioID: "s1", ConnectorID: "c1", PersonaID: "p1"})
	require.NoError(t, err)

	completed := make(chan string, 1)
	p := a.NewProcessor(processor.Config{OnRunComplete: func(r *model.Run) { completed <- r.ID }})
	started, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	p.Wait()

	got, err := a.Runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCompleted, got.Status, "error: %v", got.Error)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Success)
	assert.Equal(t, run.ID, <-completed)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, model.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "Sure, refund issued", got.Messages[1].Content)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, run.ThreadID, received[0]["threadId"])

	require.NotNil(t, got.Metadata)
	assert.Equal(t, 1, got.Metadata.Turns)
	assert.Equal(t, model.TerminationSuccessCriteria, got.Metadata.TerminationReason)
	assert.Equal(t, 15, got.Metadata.TokenUsage.Total)

	var containsPassed *bool
	for _, ev := range got.Metadata.Evaluations {
		if ev.Type == "contains" {
			containsPassed = ev.Passed
		}
	}
	require.NotNil(t, containsPassed)
	assert.True(t, *containsPassed)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.RunsStarted))
}

func TestNew_RejectsDuplicateEvaluator(t *testing.T) {
	cfg := testConfig()
	inf := infra.NewMemoryInfrastructure("")
	_, err := New(cfg, inf, nil, Options{
		LLM: llm.NewMockClient(),
		Evaluators: []evaluator.Definition{
			{Type: "contains", Kind: model.EvaluatorKindAssertion, Evaluate: func(context.Context, evaluator.Input, map[string]any) (evaluator.Outcome, error) {
				return evaluator.Outcome{}, nil
			}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "builtin")
}
