package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics API 层指标，处理器指标见 processor.Metrics
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge

	streams      prometheus.Gauge
	streamFrames *prometheus.CounterVec
}

// NewMetrics 在 reg 上注册 API 指标
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method, route and status code",
		}, []string{"method", "path", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "API requests currently being served",
		}),
		streams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_event_streams_active",
			Help:      "Open run event websocket streams",
		}),
		streamFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_event_stream_frames_total",
			Help:      "Websocket frames by direction and event type",
		}, []string{"direction", "type"}),
	}
}

// MetricsMiddleware 统计请求数、耗时和并发数
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		sw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := normalizePath(r.URL.Path)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.statusCode)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// responseWriter 记录状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// 这些资源后面紧跟的路径段是 ID
var idSegments = map[string]bool{
	"runs":       true,
	"evals":      true,
	"executions": true,
	"connectors": true,
	"evaluators": true,
}

// normalizePath 把 ID 段替换为 {id}，控制标签基数
//
//	/api/v1/runs/3f2a.../retry -> /api/v1/runs/{id}/retry
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if idSegments[parts[i-1]] && parts[i] != "" && parts[i] != "playground" {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// MetricsHandler 暴露 g 中的全部指标
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordWSMessage 记录一帧 WebSocket 消息，direction 为 in 或 out
func (m *Metrics) RecordWSMessage(direction, eventType string) {
	m.streamFrames.WithLabelValues(direction, eventType).Inc()
}

func (m *Metrics) WSConnectionOpened() { m.streams.Inc() }

func (m *Metrics) WSConnectionClosed() { m.streams.Dec() }
