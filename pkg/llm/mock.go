package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient 脚本化的 LLM 客户端
//
// 依次返回 Replies 中的内容；用完后调用 Handler，Handler 为空时返回默认回复。
// 所有请求都会记录在 Calls 中。
type MockClient struct {
	mu      sync.Mutex
	Replies []string
	Handler func(req Request) (string, error)
	Calls   []Request
}

var _ Client = (*MockClient)(nil)

// NewMockClient 创建 MockClient
func NewMockClient(replies ...string) *MockClient {
	return &MockClient{Replies: replies}
}

func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	n := len(m.Calls)
	var content string
	var scripted bool
	if len(m.Replies) > 0 {
		content, m.Replies = m.Replies[0], m.Replies[1:]
		scripted = true
	}
	handler := m.Handler
	m.mu.Unlock()

	if !scripted {
		if handler != nil {
			var err error
			if content, err = handler(req); err != nil {
				return nil, err
			}
		} else {
			content = defaultReply(req, n)
		}
	}

	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	completion := len(content) / 4
	return &Response{
		Content: content,
		Model:   req.Model,
		Usage:   Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
	}, nil
}

// CallCount 已收到的请求数
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func defaultReply(req Request, n int) string {
	if req.JSONMode {
		return `{"success": false, "reason": "mock judge: criterion not evaluated"}`
	}
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	if len(last) > 40 {
		last = last[:40]
	}
	return strings.TrimSpace(fmt.Sprintf("mock message %d (re: %s)", n, last))
}
