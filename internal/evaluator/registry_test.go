package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/shared/model"
)

func sampleInput() Input {
	return Input{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "Where is my order?"},
			{Role: model.RoleAssistant, Content: "", ToolCalls: []model.ToolCall{
				{ID: "c1", Function: model.ToolFunction{Name: "find_order", Arguments: "{}"}},
			}},
			{Role: model.RoleTool, Content: "shipped"},
			{Role: model.RoleAssistant, Content: "Your order has SHIPPED."},
		},
		Metadata: model.RunMetadata{
			LatencyMs:  1200,
			TokenUsage: model.TokenUsage{Input: 80, Output: 20, Total: 100},
			Turns:      1,
		},
	}
}

func noop(context.Context, Input, map[string]any) (Outcome, error) { return Outcome{}, nil }

func TestRegister_DuplicateNamesBuiltin(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.Register(Definition{Type: TypeContains, Kind: model.EvaluatorKindAssertion, Evaluate: noop}, false)
	require.Error(t, err)
	assert.Equal(t, `evaluator type "contains" already registered (builtin)`, err.Error())

	require.NoError(t, r.Register(Definition{Type: "custom", Kind: model.EvaluatorKindMetric, Evaluate: noop}, false))
	err = r.RegisterAll([]Definition{{Type: "custom", Kind: model.EvaluatorKindMetric, Evaluate: noop}})
	assert.EqualError(t, err, `evaluator type "custom" already registered (custom)`)
}

func TestRegister_Invalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Definition{Kind: model.EvaluatorKindMetric, Evaluate: noop}, false))
	assert.Error(t, r.Register(Definition{Type: "x", Kind: "other", Evaluate: noop}, false))
	assert.Error(t, r.Register(Definition{Type: "x", Kind: model.EvaluatorKindMetric}, false))
	assert.Error(t, r.Register(Definition{Type: "x", Kind: model.EvaluatorKindMetric, Evaluate: noop, ConfigSchema: "{"}, false))
}

func TestList(t *testing.T) {
	infos := NewDefaultRegistry().List()
	require.Len(t, infos, 8)
	for i := 1; i < len(infos); i++ {
		assert.Less(t, infos[i-1].Type, infos[i].Type)
	}

	byType := map[string]Info{}
	for _, info := range infos {
		byType[info.Type] = info
		assert.True(t, info.Builtin)
	}
	assert.True(t, byType[TypeTokenUsage].Auto)
	assert.False(t, byType[TypeTurnCount].Auto)
	assert.Equal(t, "object", byType[TypeContains].ConfigSchema["type"])
}

func TestValidateConfig(t *testing.T) {
	r := NewDefaultRegistry()
	assert.NoError(t, r.ValidateConfig(TypeContains, map[string]any{"text": "hi", "role": "any"}))
	assert.Error(t, r.ValidateConfig(TypeContains, map[string]any{}))
	assert.Error(t, r.ValidateConfig(TypeContains, map[string]any{"text": "hi", "role": "robot"}))
	assert.Error(t, r.ValidateConfig(TypeMaxTokens, map[string]any{"max": 1.5}))
	assert.NoError(t, r.ValidateConfig(TypeMaxTokens, map[string]any{"max": 500}))
	assert.Error(t, r.ValidateConfig("nope", nil))
}

func TestScore_AutoAndAttached(t *testing.T) {
	r := NewDefaultRegistry()
	results := r.Score(context.Background(), sampleInput(), []model.EvaluatorRef{
		{Type: TypeContains, Config: map[string]any{"text": "shipped"}},
		{Type: TypeToolCalled, Config: map[string]any{"name": "find_order"}},
		{Type: TypeMaxTokens, Config: map[string]any{"max": 50}},
		{Type: TypeMaxLatency, Config: map[string]any{"maxMs": 5000}},
		{Type: TypeTurnCount},
	})
	require.Len(t, results, 8)

	// 自动评估器按类型排序在前
	assert.Equal(t, TypeLatency, results[0].Type)
	assert.Equal(t, 1200.0, *results[0].Value)
	assert.Equal(t, TypeTokenUsage, results[1].Type)
	assert.Equal(t, 100.0, *results[1].Value)
	assert.Equal(t, TypeToolCallCount, results[2].Type)
	assert.Equal(t, 1.0, *results[2].Value)

	assert.True(t, *results[3].Passed, results[3].Reason)
	assert.True(t, *results[4].Passed)
	assert.False(t, *results[5].Passed)
	assert.True(t, *results[6].Passed)
	assert.Equal(t, 1.0, *results[7].Value)
	for _, res := range results {
		assert.Empty(t, res.Error)
	}
}

func TestScore_AttachedAutoNotDuplicated(t *testing.T) {
	results := NewDefaultRegistry().Score(context.Background(), sampleInput(), []model.EvaluatorRef{{Type: TypeLatency}})
	count := 0
	for _, res := range results {
		if res.Type == TypeLatency {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, results, 3)
}

func TestScore_Isolation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterAll([]Definition{
		{Type: "boom", Kind: model.EvaluatorKindMetric, Evaluate: func(context.Context, Input, map[string]any) (Outcome, error) {
			panic("bad evaluator")
		}},
		{Type: "fails", Kind: model.EvaluatorKindAssertion, Evaluate: func(context.Context, Input, map[string]any) (Outcome, error) {
			return Outcome{}, errors.New("cannot evaluate")
		}},
		{Type: "ok", Kind: model.EvaluatorKindAssertion, Evaluate: func(context.Context, Input, map[string]any) (Outcome, error) {
			return assertion(true, "fine"), nil
		}},
	}))
	require.NoError(t, r.Register(Definition{Type: TypeContains, Kind: model.EvaluatorKindAssertion, Evaluate: evalContains,
		ConfigSchema: Builtins()[4].ConfigSchema}, true))

	results := r.Score(context.Background(), sampleInput(), []model.EvaluatorRef{
		{Type: "boom"}, {Type: "fails"}, {Type: "missing"}, {Type: TypeContains, Config: map[string]any{"txt": "x"}}, {Type: "ok"},
	})
	require.Len(t, results, 5)
	assert.Contains(t, results[0].Error, "panic: bad evaluator")
	assert.Nil(t, results[0].Value)
	assert.Equal(t, "cannot evaluate", results[1].Error)
	assert.Contains(t, results[2].Error, `unknown evaluator type "missing"`)
	assert.Contains(t, results[3].Error, "invalid config")
	assert.Empty(t, results[4].Error)
	assert.True(t, *results[4].Passed)
}

func TestContains_CaseAndRole(t *testing.T) {
	in := sampleInput()
	out, err := evalContains(context.Background(), in, map[string]any{"text": "shipped", "caseSensitive": true})
	require.NoError(t, err)
	assert.False(t, *out.Passed)

	out, err = evalContains(context.Background(), in, map[string]any{"text": "where is", "role": "user"})
	require.NoError(t, err)
	assert.True(t, *out.Passed)
}
