package langgraph

import (
	"encoding/json"
	"strings"

	"agents-eval/internal/shared/model"
)

// wireMessage LangGraph 消息格式
type wireMessage struct {
	ID               string          `json:"id,omitempty"`
	Type             string          `json:"type,omitempty"`
	Role             string          `json:"role,omitempty"`
	Content          json.RawMessage `json:"content"`
	Name             string          `json:"name,omitempty"`
	ToolCalls        []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	UsageMetadata    *usageMetadata  `json:"usage_metadata,omitempty"`
	ResponseMetadata map[string]any  `json:"response_metadata,omitempty"`
	AdditionalKwargs map[string]any  `json:"additional_kwargs,omitempty"`
	InvalidToolCalls []any           `json:"invalid_tool_calls,omitempty"`
}

type wireToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	Type string         `json:"type,omitempty"`
}

type usageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (u *usageMetadata) toUsage() model.TokenUsage {
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	return model.TokenUsage{Input: u.InputTokens, Output: u.OutputTokens, Total: total}
}

// 角色映射：user↔human，assistant↔ai
var (
	toWireType = map[model.MessageRole]string{
		model.RoleUser:      "human",
		model.RoleAssistant: "ai",
		model.RoleTool:      "tool",
		model.RoleSystem:    "system",
	}
	fromWireType = map[string]model.MessageRole{
		"human":     model.RoleUser,
		"user":      model.RoleUser,
		"ai":        model.RoleAssistant,
		"assistant": model.RoleAssistant,
		"tool":      model.RoleTool,
		"system":    model.RoleSystem,
	}
)

func toWire(m model.Message) wireMessage {
	content, _ := json.Marshal(m.Content)
	w := wireMessage{
		ID:         m.ID,
		Type:       toWireType[m.Role],
		Content:    content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	if w.Type == "" {
		w.Type = "human"
	}
	for _, tc := range m.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		w.ToolCalls = append(w.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
			Type: "tool_call",
		})
	}
	return w
}

func fromWire(w wireMessage) model.Message {
	typ := w.Type
	if typ == "" {
		typ = w.Role
	}
	role, ok := fromWireType[strings.ToLower(typ)]
	if !ok {
		role = model.RoleAssistant
	}

	msg := model.Message{
		ID:         w.ID,
		Role:       role,
		Content:    contentText(w.Content),
		Name:       w.Name,
		ToolCallID: w.ToolCallID,
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	for _, tc := range w.ToolCalls {
		args, _ := json.Marshal(tc.Args)
		if tc.Args == nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: model.ToolFunction{Name: tc.Name, Arguments: string(args)},
		})
	}

	meta := map[string]any{}
	if len(w.ResponseMetadata) > 0 {
		meta["response_metadata"] = w.ResponseMetadata
	}
	if len(w.AdditionalKwargs) > 0 {
		meta["additional_kwargs"] = w.AdditionalKwargs
	}
	if w.UsageMetadata != nil {
		meta["usage_metadata"] = w.UsageMetadata.toUsage()
	}
	if len(w.InvalidToolCalls) > 0 {
		meta["invalid_tool_calls"] = w.InvalidToolCalls
	}
	if len(meta) > 0 {
		msg.Metadata = meta
	}
	return msg
}

// contentText content 可能是字符串或内容块数组
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []map[string]any
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, blk := range blocks {
			if t, _ := blk["type"].(string); t != "" && t != "text" {
				continue
			}
			if text, ok := blk["text"].(string); ok {
				b.WriteString(text)
			}
		}
		return b.String()
	}
	return string(raw)
}
