// Package llm 模拟用户和评判模型使用的 LLM 客户端
//
// Client 是唯一的抽象，OpenAIClient 对接 OpenAI 兼容接口，
// MockClient 用于测试和离线演示（EVAL_LLM_MODE=MOCK）。
package llm

import "context"

// Role 对话角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 发给模型的一条消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 一次补全请求
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// JSONMode 要求模型只输出 JSON 对象
	JSONMode bool `json:"json_mode,omitempty"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response 补全结果
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Client LLM 客户端
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
