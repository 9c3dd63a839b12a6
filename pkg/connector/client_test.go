package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/shared/model"
)

// echoStrategy 最简协议：请求体为对话，响应为一条 assistant 消息
type echoStrategy struct{}

func (echoStrategy) Type() string { return "echo" }

func (echoStrategy) BuildTestRequest(conn *model.Connector) (*Request, error) {
	return &Request{URL: conn.BaseURL + "/ping", Method: http.MethodGet}, nil
}

func (echoStrategy) BuildInvokeRequest(conn *model.Connector, in InvokeInput) (*Request, error) {
	return &Request{
		URL:     conn.BaseURL + "/invoke",
		Method:  http.MethodPost,
		Headers: MergeHeaders(conn.Headers, in.ExtraHeaders),
		Body:    map[string]any{"messages": in.Messages},
	}, nil
}

func (echoStrategy) ParseTestResponse(text string) string { return "pong=" + text }

func (echoStrategy) ParseInvokeResponse(text string, seen map[string]bool) InvokeResult {
	var m model.Message
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return InvokeResult{Metadata: ResultMetadata{Unparseable: true}}
	}
	if seen[m.ID] {
		return InvokeResult{}
	}
	return InvokeResult{Messages: []model.Message{m}}
}

func newEchoClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) (*Client, *model.Connector) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoStrategy{}))
	return NewClient(reg, timeout), &model.Connector{ID: "c1", Type: "echo", BaseURL: srv.URL, Headers: map[string]string{"X-Key": "k"}}
}

func TestClient_Invoke(t *testing.T) {
	client, conn := newEchoClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoke", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "hello")
		_, _ = w.Write([]byte(`{"id":"a1","role":"assistant","content":"hi"}`))
	}, time.Second)

	res, err := client.Invoke(context.Background(), conn, InvokeInput{
		Messages: []model.Message{{ID: "u1", Role: model.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hi", res.Messages[0].Content)
}

func TestClient_InvokeNon2xx(t *testing.T) {
	client, conn := newEchoClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}, time.Second)

	_, err := client.Invoke(context.Background(), conn, InvokeInput{})
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_Timeout(t *testing.T) {
	client, conn := newEchoClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)

	start := time.Now()
	_, err := client.Invoke(context.Background(), conn, InvokeInput{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_Test(t *testing.T) {
	client, conn := newEchoClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte("ok"))
	}, time.Second)

	desc, err := client.Test(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "pong=ok", desc)
}

func TestClient_UnknownType(t *testing.T) {
	client := NewClient(NewRegistry(), 0)
	_, err := client.Invoke(context.Background(), &model.Connector{Type: "smtp"}, InvokeInput{})
	assert.EqualError(t, err, `unknown connector type "smtp"`)
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoStrategy{}))
	err := r.Register(echoStrategy{})
	assert.EqualError(t, err, `connector type "echo" already registered`)
	assert.Equal(t, []string{"echo"}, r.Types())
	assert.Panics(t, func() { r.MustRegister(echoStrategy{}) })
}
