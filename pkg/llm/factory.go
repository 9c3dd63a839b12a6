package llm

import (
	"log"
	"os"
	"time"
)

const (
	// EnvMode 模式选择环境变量
	EnvMode = "EVAL_LLM_MODE"
	// ModeMock 使用 MockClient
	ModeMock = "MOCK"
)

// NewClient 根据配置创建客户端
// mock 为 true 或 EVAL_LLM_MODE=MOCK 时返回 MockClient
func NewClient(baseURL, apiKey string, timeout time.Duration, mock bool) Client {
	if mock || os.Getenv(EnvMode) == ModeMock {
		log.Println("[llm] mock mode enabled, using scripted client")
		return NewMockClient()
	}
	return NewOpenAIClient(baseURL, apiKey, timeout)
}
