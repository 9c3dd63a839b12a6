package server

import (
	"net"
	"net/http"
	"time"

	"agents-eval/internal/apiserver/auth"
	"agents-eval/internal/apiserver/run"
	"agents-eval/internal/apiserver/sysconfig"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET /health
//   - GET /metrics
//
// 执行管理 (Run):
//   - POST   /api/v1/evals/{id}/runs         - 为评测创建一次执行
//   - DELETE /api/v1/evals/{id}/executions   - 只保留最近 keep 次执行
//   - POST   /api/v1/runs/playground         - 创建试跑
//   - GET    /api/v1/runs                    - 列出运行
//   - GET    /api/v1/runs/{id}               - 获取运行详情
//   - POST   /api/v1/runs/{id}/retry         - 重试出错的运行
//   - DELETE /api/v1/runs/{id}               - 删除运行
//   - DELETE /api/v1/executions/{id}         - 删除执行及其运行
//   - POST   /api/v1/connectors/{id}/test    - 连接器连通性测试
//
// 评估器与配置:
//   - GET    /api/v1/evaluators
//   - GET    /api/v1/config                  - 生效配置（不含密钥）
//
// WebSocket:
//   - GET    /ws/runs/{id}/events            - 实时事件推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", MetricsHandler(h.gatherer))

	runHandler := run.NewHandler(h.runs)
	runHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /api/v1/evaluators", h.ListEvaluators)

	if h.cfg != nil {
		sysconfig.NewHandler(h.cfg).RegisterRoutes(mux)
	}

	apiHandler := h.metrics.MetricsMiddleware(h.requestLog(mux))
	authedHandler := auth.Middleware(h.auth)(apiHandler)
	corsHandler := corsMiddleware(authedHandler)

	// WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.Handle("/ws/runs/{id}/events", auth.Middleware(h.auth)(http.HandlerFunc(h.eventGateway.HandleWebSocket)))
	topMux.Handle("/", corsHandler)

	return topMux
}

// requestLog 记录每个请求的方法、路径、状态码和耗时
func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		h.log.HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), clientIP(r))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
