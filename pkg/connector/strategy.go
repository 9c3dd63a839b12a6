// Package connector 被测智能体的连接器协议
//
// 每种连接器类型对应一个 Strategy，负责把对话转换成 HTTP 请求，
// 以及把响应解析回消息列表。Strategy 只做纯转换，不发起网络调用，
// 网络调用由 Client 统一完成。
package connector

import (
	"agents-eval/internal/shared/model"
)

// Request 待发送的 HTTP 请求描述
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	// Body 为 nil 表示无请求体
	Body any `json:"body,omitempty"`
}

// InvokeInput 一次调用的输入
type InvokeInput struct {
	// Messages 当前完整对话
	Messages []model.Message
	// RunID 会话线程标识，即 Run.ThreadID
	RunID string
	// SeenMessageIDs 连接器已经收到或返回过的消息 ID
	SeenMessageIDs map[string]bool
	ExtraHeaders   map[string]string
}

// ResultMetadata 解析响应时附带的信息
type ResultMetadata struct {
	TokensUsage *model.TokenUsage `json:"tokens_usage,omitempty"`
	// ThreadID 连接器返回的会话线程，非空时覆盖 Run.ThreadID
	ThreadID string         `json:"thread_id,omitempty"`
	Raw      map[string]any `json:"raw,omitempty"`
	// Unparseable 响应无法解析，结果按空处理
	Unparseable bool `json:"unparseable,omitempty"`
}

// InvokeResult 解析后的调用结果，Messages 只包含新消息
type InvokeResult struct {
	Messages []model.Message `json:"messages"`
	Metadata ResultMetadata  `json:"metadata"`
}

// Strategy 连接器协议
//
// 实现必须满足：
//   - ParseInvokeResponse 不返回 SeenMessageIDs 中的消息
//   - 对格式错误的响应不报错，返回空结果并设置 Unparseable
type Strategy interface {
	// Type 连接器类型，与 Connector.Type 对应
	Type() string
	// BuildTestRequest 构造连通性探测请求
	BuildTestRequest(conn *model.Connector) (*Request, error)
	// BuildInvokeRequest 构造对话调用请求
	BuildInvokeRequest(conn *model.Connector, in InvokeInput) (*Request, error)
	// ParseTestResponse 把探测响应转成一行可读描述
	ParseTestResponse(text string) string
	// ParseInvokeResponse 解析对话调用响应
	ParseInvokeResponse(text string, seen map[string]bool) InvokeResult
}

// MergeHeaders 合并请求头，后面的覆盖前面的
func MergeHeaders(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, set := range sets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}

// SeenIDs 收集消息 ID 集合
func SeenIDs(msgs []model.Message) map[string]bool {
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			seen[m.ID] = true
		}
	}
	return seen
}
