package langgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/shared/model"
	"agents-eval/pkg/connector"
)

func lgConnector() *model.Connector {
	return &model.Connector{
		ID:      "lg-1",
		Type:    model.ConnectorTypeLangGraph,
		BaseURL: "http://lg.local:2024/",
		Headers: map[string]string{"x-api-key": "k"},
		Config: map[string]any{
			"assistantId":  "support",
			"configurable": map[string]any{"model": "small"},
		},
	}
}

func TestBuildTestRequest(t *testing.T) {
	req, err := New().BuildTestRequest(lgConnector())
	require.NoError(t, err)
	assert.Equal(t, "http://lg.local:2024/info", req.URL)
	assert.Equal(t, "GET", req.Method)
	assert.Nil(t, req.Body)
}

func TestBuildInvokeRequest_ThreadAndUnseenOnly(t *testing.T) {
	msgs := []model.Message{
		{ID: "s1", Role: model.RoleSystem, Content: "be nice"},
		{ID: "u1", Role: model.RoleUser, Content: "first"},
		{ID: "a1", Role: model.RoleAssistant, Content: "reply", ToolCalls: []model.ToolCall{
			{ID: "c1", Type: "function", Function: model.ToolFunction{Name: "search", Arguments: `{"q":"x"}`}},
		}},
		{ID: "u2", Role: model.RoleUser, Content: "second"},
	}
	req, err := New().BuildInvokeRequest(lgConnector(), connector.InvokeInput{
		Messages:       msgs,
		RunID:          "thread-42",
		SeenMessageIDs: map[string]bool{"s1": true, "u1": true, "a1": true},
	})
	require.NoError(t, err)

	assert.Equal(t, "http://lg.local:2024/threads/thread-42/runs/wait", req.URL)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "k", req.Headers["x-api-key"])

	body := req.Body.(runRequest)
	assert.Equal(t, "support", body.AssistantID)
	assert.Equal(t, "enqueue", body.MultitaskStrategy)
	assert.Equal(t, "create", body.IfNotExists)
	require.NotNil(t, body.Config)
	assert.Equal(t, "small", body.Config.Configurable["model"])
	require.Len(t, body.Input.Messages, 1)
	assert.Equal(t, "u2", body.Input.Messages[0].ID)
	assert.Equal(t, "human", body.Input.Messages[0].Type)
}

func TestBuildInvokeRequest_NoThread(t *testing.T) {
	conn := lgConnector()
	conn.Config = nil
	req, err := New().BuildInvokeRequest(conn, connector.InvokeInput{
		Messages: []model.Message{{ID: "u1", Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://lg.local:2024/runs/wait", req.URL)
	body := req.Body.(runRequest)
	assert.Equal(t, DefaultAssistantID, body.AssistantID)
	assert.Nil(t, body.Config)
}

func TestRoleMapping(t *testing.T) {
	for role, typ := range map[model.MessageRole]string{
		model.RoleUser:      "human",
		model.RoleAssistant: "ai",
		model.RoleTool:      "tool",
		model.RoleSystem:    "system",
	} {
		w := toWire(model.Message{ID: "x", Role: role, Content: "c"})
		assert.Equal(t, typ, w.Type)
		assert.Equal(t, role, fromWire(w).Role)
	}
}

const threadState = `{
	"messages": [
		{"id": "u1", "type": "human", "content": "hello"},
		{"id": "a1", "type": "ai", "content": "",
		 "tool_calls": [{"id": "c1", "name": "lookup", "args": {"order": 7}, "type": "tool_call"}],
		 "usage_metadata": {"input_tokens": 20, "output_tokens": 5, "total_tokens": 25},
		 "response_metadata": {"model_name": "small"}},
		{"id": "t1", "type": "tool", "content": "shipped", "tool_call_id": "c1", "name": "lookup"},
		{"id": "a2", "type": "ai", "content": [{"type": "text", "text": "Your order shipped."}],
		 "usage_metadata": {"input_tokens": 30, "output_tokens": 7, "total_tokens": 37}}
	]
}`

func TestParseInvokeResponse(t *testing.T) {
	res := New().ParseInvokeResponse(threadState, map[string]bool{"u1": true})
	require.False(t, res.Metadata.Unparseable)
	require.Len(t, res.Messages, 3)

	a1 := res.Messages[0]
	assert.Equal(t, model.RoleAssistant, a1.Role)
	require.Len(t, a1.ToolCalls, 1)
	assert.Equal(t, "lookup", a1.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"order": 7}`, a1.ToolCalls[0].Function.Arguments)
	assert.Equal(t, map[string]any{"model_name": "small"}, a1.Metadata["response_metadata"])

	assert.Equal(t, model.RoleTool, res.Messages[1].Role)
	assert.Equal(t, "c1", res.Messages[1].ToolCallID)
	assert.Equal(t, "Your order shipped.", res.Messages[2].Content)

	require.NotNil(t, res.Metadata.TokensUsage)
	assert.Equal(t, model.TokenUsage{Input: 50, Output: 12, Total: 62}, *res.Metadata.TokensUsage)
}

func TestParseInvokeResponse_Idempotent(t *testing.T) {
	s := New()
	first := s.ParseInvokeResponse(threadState, map[string]bool{"u1": true})
	seen := map[string]bool{"u1": true}
	for _, m := range first.Messages {
		seen[m.ID] = true
	}
	second := s.ParseInvokeResponse(threadState, seen)
	assert.Empty(t, second.Messages)
	assert.Nil(t, second.Metadata.TokensUsage)
	assert.False(t, second.Metadata.Unparseable)
}

func TestParseInvokeResponse_DuplicateIDsInPayload(t *testing.T) {
	text := `{"messages":[{"id":"a1","type":"ai","content":"x"},{"id":"a1","type":"ai","content":"x"}]}`
	res := New().ParseInvokeResponse(text, nil)
	assert.Len(t, res.Messages, 1)
}

func TestParseInvokeResponse_ValuesWrapper(t *testing.T) {
	text := `{"values":{"messages":[{"id":"a9","type":"ai","content":"wrapped"}]},"thread_id":"t1"}`
	res := New().ParseInvokeResponse(text, nil)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "wrapped", res.Messages[0].Content)
}

func TestParseInvokeResponse_Malformed(t *testing.T) {
	s := New()
	for _, text := range []string{"", "not json", `{"messages": "nope"}`, `{"detail": "error"}`, `[1,2]`} {
		res := s.ParseInvokeResponse(text, nil)
		assert.Empty(t, res.Messages, text)
		assert.True(t, res.Metadata.Unparseable, text)
	}
}

func TestParseTestResponse(t *testing.T) {
	s := New()
	assert.Equal(t, "langgraph server 0.2.1", s.ParseTestResponse(`{"version":"0.2.1","flags":{}}`))
	assert.Equal(t, "langgraph server: ok", s.ParseTestResponse("ok"))
}
