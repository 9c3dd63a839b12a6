// Package server 评测服务 HTTP 入口
//
// 文件组织：
//   - handler.go: 路由与中间件
//   - common.go: Handler 定义和通用工具函数
//   - websocket.go: Run 生命周期事件网关
//   - metrics.go: Prometheus HTTP 指标
//
// 运行相关接口在 run 包中，认证在 auth 包中。
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"agents-eval/internal/apiserver/auth"
	"agents-eval/internal/apiserver/run"
	"agents-eval/internal/config"
	"agents-eval/internal/evaluator"
	"agents-eval/internal/shared/eventbus"
	"agents-eval/pkg/logging"
)

// EvaluatorCatalog 列出已注册的评估器
type EvaluatorCatalog interface {
	List() []evaluator.Info
}

// Deps Handler 依赖
type Deps struct {
	Runs       run.RunService
	Evaluators EvaluatorCatalog
	EventBus   eventbus.RunEventBus
	Auth       auth.Config
	// Config 为空时不注册 GET /api/v1/config
	Config *config.Config

	// Registerer / Gatherer 为空时使用 prometheus 默认注册表
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *logging.Logger
}

// Handler API 处理器
type Handler struct {
	runs       run.RunService
	evaluators EvaluatorCatalog
	auth       auth.Config
	cfg        *config.Config
	gatherer   prometheus.Gatherer
	log        *logging.Logger

	eventGateway *EventGateway
	metrics      *Metrics
}

// NewHandler 创建 Handler 实例
func NewHandler(d Deps) *Handler {
	if d.Registerer == nil {
		d.Registerer = prometheus.DefaultRegisterer
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.EventBus == nil {
		d.EventBus = eventbus.NewNoOpEventBus()
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	metrics := NewMetrics(d.Registerer, "api")
	return &Handler{
		runs:         d.Runs,
		evaluators:   d.Evaluators,
		auth:         d.Auth,
		cfg:          d.Config,
		gatherer:     d.Gatherer,
		log:          d.Logger.Component("api"),
		eventGateway: NewEventGateway(d.Runs, d.EventBus, metrics),
		metrics:      metrics,
	}
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListEvaluators 列出评估器
//
// 路由: GET /api/v1/evaluators
func (h *Handler) ListEvaluators(w http.ResponseWriter, r *http.Request) {
	var list []evaluator.Info
	if h.evaluators != nil {
		list = h.evaluators.List()
	}
	if list == nil {
		list = []evaluator.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"evaluators": list, "count": len(list)})
}
