package judge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/shared/model"
	"agents-eval/pkg/llm"
)

var transcript = []model.Message{
	{Role: model.RoleUser, Content: "Refund order 42"},
	{Role: model.RoleAssistant, Content: "Looking it up", ToolCalls: []model.ToolCall{
		{ID: "c1", Function: model.ToolFunction{Name: "find_order", Arguments: `{"id":42}`}},
	}},
	{Role: model.RoleTool, Name: "find_order", Content: "found"},
	{Role: model.RoleAssistant, Content: "Refund issued."},
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	a := BuildPrompt(transcript, "The assistant issues a refund.")
	b := BuildPrompt(transcript, "The assistant issues a refund.")
	assert.Equal(t, a, b)
	require.Len(t, a, 2)
	assert.Contains(t, a[1].Content, "[1] USER: Refund order 42")
	assert.Contains(t, a[1].Content, "tool call find_order({\"id\":42})")
	assert.Contains(t, a[1].Content, "[3] TOOL (find_order): found")
	assert.Contains(t, a[1].Content, "# Criterion\nThe assistant issues a refund.")
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Verdict
		wantErr bool
	}{
		{"plain", `{"success": true, "reason": "refunded"}`, Verdict{true, "refunded"}, false},
		{"fenced", "```json\n{\"success\": false, \"reason\": \"no\"}\n```", Verdict{false, "no"}, false},
		{"surrounding text", `Sure! {"success": true, "reason": "ok"} Done.`, Verdict{true, "ok"}, false},
		{"string bool", `{"success": "true", "reason": "ok"}`, Verdict{true, "ok"}, false},
		{"missing success", `{"reason": "?"}`, Verdict{}, true},
		{"no json", "yes", Verdict{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate(t *testing.T) {
	client := llm.NewMockClient(`{"success": true, "reason": "refund confirmed"}`)
	j := New(client, "judge-model")

	v, err := j.Evaluate(context.Background(), transcript, "The assistant issues a refund.")
	require.NoError(t, err)
	assert.True(t, v.Success)
	assert.Equal(t, "refund confirmed", v.Reason)

	require.Len(t, client.Calls, 1)
	assert.Equal(t, float32(0), client.Calls[0].Temperature)
	assert.True(t, client.Calls[0].JSONMode)
	assert.Equal(t, "judge-model", client.Calls[0].Model)
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := New(llm.NewMockClient(), "m").Evaluate(context.Background(), transcript, " ")
	assert.Error(t, err)

	_, err = New(llm.NewMockClient("not json"), "m").Evaluate(context.Background(), transcript, "x")
	assert.ErrorContains(t, err, "no JSON object")
}
