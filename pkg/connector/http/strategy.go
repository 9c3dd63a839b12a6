// Package http 通用 HTTP 连接器
//
// 请求：POST {baseUrl}{config.path}，请求体 {"messages": [...], "threadId": "..."}
//
// 响应支持以下几种形式：
//   - {"messages": [{...}, ...]}
//   - {"message": {...}}
//   - {"content" | "output" | "response": "..."}
//   - 纯文本，作为一条 assistant 消息
package http

import (
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/google/uuid"

	"agents-eval/internal/shared/model"
	"agents-eval/pkg/connector"
)

// Strategy 通用 HTTP 连接器
type Strategy struct{}

var _ connector.Strategy = (*Strategy)(nil)

// New 创建通用 HTTP 连接器
func New() *Strategy { return &Strategy{} }

func (s *Strategy) Type() string { return model.ConnectorTypeHTTP }

func (s *Strategy) BuildTestRequest(conn *model.Connector) (*connector.Request, error) {
	if conn.BaseURL == "" {
		return nil, fmt.Errorf("connector %s: base url is empty", conn.ID)
	}
	path := conn.ConfigString("testPath")
	return &connector.Request{
		URL:     joinURL(conn.BaseURL, path),
		Method:  nethttp.MethodGet,
		Headers: connector.MergeHeaders(conn.Headers),
	}, nil
}

func (s *Strategy) BuildInvokeRequest(conn *model.Connector, in connector.InvokeInput) (*connector.Request, error) {
	if conn.BaseURL == "" {
		return nil, fmt.Errorf("connector %s: base url is empty", conn.ID)
	}
	method := strings.ToUpper(conn.ConfigString("method"))
	if method == "" {
		method = nethttp.MethodPost
	}

	body := map[string]any{"messages": in.Messages}
	if in.RunID != "" {
		body["threadId"] = in.RunID
	}
	return &connector.Request{
		URL:     joinURL(conn.BaseURL, conn.ConfigString("path")),
		Method:  method,
		Headers: connector.MergeHeaders(conn.Headers, in.ExtraHeaders),
		Body:    body,
	}, nil
}

func (s *Strategy) ParseTestResponse(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "ok (empty response)"
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return "ok: " + text
}

// wireMessage 响应中的消息，字段名兼容 camelCase 和 snake_case
type wireMessage struct {
	ID          string           `json:"id"`
	Role        string           `json:"role"`
	Content     json.RawMessage  `json:"content"`
	ToolCalls   []model.ToolCall `json:"tool_calls"`
	ToolCallsC  []model.ToolCall `json:"toolCalls"`
	ToolCallID  string           `json:"tool_call_id"`
	ToolCallIDC string           `json:"toolCallId"`
	Name        string           `json:"name"`
}

func (s *Strategy) ParseInvokeResponse(text string, seen map[string]bool) connector.InvokeResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return unparseable(nil)
	}

	if trimmed[0] != '{' && trimmed[0] != '[' {
		return connector.InvokeResult{Messages: []model.Message{{
			ID:      uuid.NewString(),
			Role:    model.RoleAssistant,
			Content: trimmed,
		}}}
	}

	if trimmed[0] == '[' {
		var list []wireMessage
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			return unparseable(nil)
		}
		return connector.InvokeResult{Messages: convert(list, seen)}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return unparseable(nil)
	}

	raw := make(map[string]any)
	_ = json.Unmarshal([]byte(trimmed), &raw)

	var result connector.InvokeResult
	result.Metadata.ThreadID = firstString(obj, "threadId", "thread_id")
	result.Metadata.TokensUsage = parseUsage(obj)

	switch {
	case obj["messages"] != nil:
		var list []wireMessage
		if err := json.Unmarshal(obj["messages"], &list); err != nil {
			return unparseable(raw)
		}
		result.Messages = convert(list, seen)
	case obj["message"] != nil:
		var m wireMessage
		if err := json.Unmarshal(obj["message"], &m); err != nil {
			return unparseable(raw)
		}
		result.Messages = convert([]wireMessage{m}, seen)
	default:
		content := firstString(obj, "content", "output", "response")
		if content == "" {
			return unparseable(raw)
		}
		result.Messages = []model.Message{{ID: uuid.NewString(), Role: model.RoleAssistant, Content: content}}
	}
	return result
}

func convert(list []wireMessage, seen map[string]bool) []model.Message {
	out := make([]model.Message, 0, len(list))
	for _, w := range list {
		if w.ID != "" && seen[w.ID] {
			continue
		}
		role := model.MessageRole(strings.ToLower(w.Role))
		switch role {
		case model.RoleUser, model.RoleAssistant, model.RoleTool, model.RoleSystem:
		default:
			role = model.RoleAssistant
		}
		msg := model.Message{
			ID:         w.ID,
			Role:       role,
			Content:    contentText(w.Content),
			ToolCalls:  w.ToolCalls,
			ToolCallID: w.ToolCallID,
			Name:       w.Name,
		}
		if len(msg.ToolCalls) == 0 {
			msg.ToolCalls = w.ToolCallsC
		}
		if msg.ToolCallID == "" {
			msg.ToolCallID = w.ToolCallIDC
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		out = append(out, msg)
	}
	return out
}

// contentText 兼容字符串和 [{type:text,text:...}] 两种 content
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return string(raw)
}

func parseUsage(obj map[string]json.RawMessage) *model.TokenUsage {
	data, ok := obj["usage"]
	if !ok {
		return nil
	}
	var u struct {
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
		TotalTokens      int `json:"total_tokens"`
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return nil
	}
	usage := &model.TokenUsage{Input: u.InputTokens, Output: u.OutputTokens, Total: u.TotalTokens}
	if usage.Input == 0 {
		usage.Input = u.PromptTokens
	}
	if usage.Output == 0 {
		usage.Output = u.CompletionTokens
	}
	if usage.Total == 0 {
		usage.Total = usage.Input + usage.Output
	}
	return usage
}

func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		data, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(data, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func unparseable(raw map[string]any) connector.InvokeResult {
	return connector.InvokeResult{
		Messages: []model.Message{},
		Metadata: connector.ResultMetadata{Raw: raw, Unparseable: true},
	}
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
