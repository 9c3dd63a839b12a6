package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agents-eval/internal/shared/model"
)

// DefaultTimeout 单次连接器调用的默认超时
const DefaultTimeout = 120 * time.Second

// maxResponseBytes 响应体读取上限
const maxResponseBytes = 8 << 20

// StatusError 连接器返回非 2xx 状态码
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	return fmt.Sprintf("connector returned status %d: %s", e.StatusCode, body)
}

// Client 执行连接器请求
type Client struct {
	registry *Registry
	http     *http.Client
	timeout  time.Duration
}

// NewClient 创建客户端，timeout <= 0 时使用 DefaultTimeout
func NewClient(registry *Registry, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		registry: registry,
		http:     &http.Client{},
		timeout:  timeout,
	}
}

// Registry 返回使用的注册表
func (c *Client) Registry() *Registry {
	return c.registry
}

// Invoke 发送一轮对话并解析新消息
func (c *Client) Invoke(ctx context.Context, conn *model.Connector, in InvokeInput) (*InvokeResult, error) {
	strategy, err := c.registry.For(conn)
	if err != nil {
		return nil, err
	}
	req, err := strategy.BuildInvokeRequest(conn, in)
	if err != nil {
		return nil, fmt.Errorf("build invoke request: %w", err)
	}
	text, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	// 对话中已有的消息和连接器已确认的消息都不算新消息
	known := SeenIDs(in.Messages)
	for id := range in.SeenMessageIDs {
		known[id] = true
	}
	result := strategy.ParseInvokeResponse(text, known)
	return &result, nil
}

// Test 探测连接器是否可用，返回可读描述
func (c *Client) Test(ctx context.Context, conn *model.Connector) (string, error) {
	strategy, err := c.registry.For(conn)
	if err != nil {
		return "", err
	}
	req, err := strategy.BuildTestRequest(conn)
	if err != nil {
		return "", fmt.Errorf("build test request: %w", err)
	}
	text, err := c.Do(ctx, req)
	if err != nil {
		return "", err
	}
	return strategy.ParseTestResponse(text), nil
}

// Do 执行请求并返回响应文本，每次调用单独受超时约束
func (c *Client) Do(ctx context.Context, r *Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return "", fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, r.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return string(data), nil
}
