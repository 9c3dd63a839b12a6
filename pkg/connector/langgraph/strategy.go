// Package langgraph LangGraph Platform 连接器
//
// 协议：
//   - 探测：GET {baseUrl}/info
//   - 调用：POST {baseUrl}/threads/{threadId}/runs/wait（没有线程时 POST {baseUrl}/runs/wait）
//
// 每次调用只发送线程里还没有的消息，线程状态由服务端保存。
// 服务端返回线程的完整消息列表，解析时按消息 ID 去掉已经见过的部分。
package langgraph

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"agents-eval/internal/shared/model"
	"agents-eval/pkg/connector"
)

// DefaultAssistantID 未配置 assistantId 时使用的图名称
const DefaultAssistantID = "agent"

// Strategy LangGraph 连接器
type Strategy struct{}

var _ connector.Strategy = (*Strategy)(nil)

// New 创建 LangGraph 连接器
func New() *Strategy { return &Strategy{} }

func (s *Strategy) Type() string { return model.ConnectorTypeLangGraph }

func (s *Strategy) BuildTestRequest(conn *model.Connector) (*connector.Request, error) {
	if conn.BaseURL == "" {
		return nil, fmt.Errorf("connector %s: base url is empty", conn.ID)
	}
	return &connector.Request{
		URL:     strings.TrimRight(conn.BaseURL, "/") + "/info",
		Method:  http.MethodGet,
		Headers: connector.MergeHeaders(conn.Headers),
	}, nil
}

// runRequest /runs/wait 请求体
type runRequest struct {
	AssistantID       string     `json:"assistant_id"`
	Input             runInput   `json:"input"`
	MultitaskStrategy string     `json:"multitask_strategy"`
	IfNotExists       string     `json:"if_not_exists"`
	Config            *runConfig `json:"config,omitempty"`
}

type runInput struct {
	Messages []wireMessage `json:"messages"`
}

type runConfig struct {
	Configurable map[string]any `json:"configurable"`
}

func (s *Strategy) BuildInvokeRequest(conn *model.Connector, in connector.InvokeInput) (*connector.Request, error) {
	if conn.BaseURL == "" {
		return nil, fmt.Errorf("connector %s: base url is empty", conn.ID)
	}

	assistantID := conn.ConfigString("assistantId")
	if assistantID == "" {
		assistantID = DefaultAssistantID
	}

	msgs := make([]wireMessage, 0, len(in.Messages))
	for _, m := range in.Messages {
		if m.ID != "" && in.SeenMessageIDs[m.ID] {
			continue
		}
		msgs = append(msgs, toWire(m))
	}

	body := runRequest{
		AssistantID:       assistantID,
		Input:             runInput{Messages: msgs},
		MultitaskStrategy: "enqueue",
		IfNotExists:       "create",
	}
	if c, ok := conn.Config["configurable"].(map[string]any); ok && len(c) > 0 {
		body.Config = &runConfig{Configurable: c}
	}

	base := strings.TrimRight(conn.BaseURL, "/")
	target := base + "/runs/wait"
	if in.RunID != "" {
		target = base + "/threads/" + url.PathEscape(in.RunID) + "/runs/wait"
	}

	return &connector.Request{
		URL:     target,
		Method:  http.MethodPost,
		Headers: connector.MergeHeaders(conn.Headers, in.ExtraHeaders),
		Body:    body,
	}, nil
}

func (s *Strategy) ParseTestResponse(text string) string {
	var info struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal([]byte(text), &info); err == nil && info.Version != "" {
		return "langgraph server " + info.Version
	}
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return "langgraph server: " + text
}

func (s *Strategy) ParseInvokeResponse(text string, seen map[string]bool) connector.InvokeResult {
	var state map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &state); err != nil {
		return unparseable(nil)
	}
	raw := make(map[string]any)
	_ = json.Unmarshal([]byte(text), &raw)

	// 部分部署把状态包在 values 里
	if values, ok := state["values"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(values, &inner); err == nil {
			state = inner
		}
	}

	data, ok := state["messages"]
	if !ok {
		return unparseable(raw)
	}
	var wire []wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return unparseable(raw)
	}

	result := connector.InvokeResult{Messages: []model.Message{}}
	var usage *model.TokenUsage
	emitted := make(map[string]bool)
	for _, w := range wire {
		if w.ID != "" && (seen[w.ID] || emitted[w.ID]) {
			continue
		}
		msg := fromWire(w)
		emitted[msg.ID] = true
		if msg.Role == model.RoleAssistant && w.UsageMetadata != nil {
			if usage == nil {
				usage = &model.TokenUsage{}
			}
			usage.Add(w.UsageMetadata.toUsage())
		}
		result.Messages = append(result.Messages, msg)
	}
	result.Metadata.TokensUsage = usage

	if tid, ok := state["thread_id"]; ok {
		_ = json.Unmarshal(tid, &result.Metadata.ThreadID)
	}
	return result
}

func unparseable(raw map[string]any) connector.InvokeResult {
	return connector.InvokeResult{
		Messages: []model.Message{},
		Metadata: connector.ResultMetadata{Raw: raw, Unparseable: true},
	}
}

// newID 为服务端没有返回 ID 的消息补齐 ID
var newID = uuid.NewString
