// Package run 运行领域 - HTTP 处理
//
// 只做参数解析和错误映射，业务逻辑都在 runs.Service 中。
package run

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"agents-eval/internal/runs"
	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
)

// RunService 定义 run handler 需要的服务接口（用于测试 mock）
type RunService interface {
	CreateForEval(ctx context.Context, evalID string) (*model.Execution, []*model.Run, error)
	CreatePlayground(ctx context.Context, req runs.PlaygroundRequest) (*model.Run, error)
	Get(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context, f runs.ListFilter) ([]*model.Run, error)
	Retry(ctx context.Context, id string) (*model.Run, error)
	Delete(ctx context.Context, id string) error
	DeleteExecution(ctx context.Context, id string) (int, error)
	PruneExecutions(ctx context.Context, evalID string, keep int) (int, error)
	TestConnector(ctx context.Context, id string) (string, error)
}

var _ RunService = (*runs.Service)(nil)

// Handler 运行领域 HTTP 处理器
type Handler struct {
	svc RunService
}

// NewHandler 创建处理器
func NewHandler(svc RunService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册运行相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/evals/{id}/runs", h.CreateForEval)
	mux.HandleFunc("DELETE /api/v1/evals/{id}/executions", h.PruneExecutions)
	mux.HandleFunc("POST /api/v1/runs/playground", h.CreatePlayground)
	mux.HandleFunc("GET /api/v1/runs", h.List)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/runs/{id}/retry", h.Retry)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", h.Delete)
	mux.HandleFunc("DELETE /api/v1/executions/{id}", h.DeleteExecution)
	mux.HandleFunc("POST /api/v1/connectors/{id}/test", h.TestConnector)
}

// CreateForEval 为评测创建一次执行
// POST /api/v1/evals/{id}/runs
//
// 引用错误（场景、人设、连接器不存在）同步返回 404，不会创建任何 Run。
func (h *Handler) CreateForEval(w http.ResponseWriter, r *http.Request) {
	evalID := r.PathValue("id")
	exec, created, err := h.svc.CreateForEval(r.Context(), evalID)
	if err != nil {
		log.Printf("[run.create.failed] eval_id=%s error=%v", evalID, err)
		writeServiceError(w, err)
		return
	}
	log.Printf("[run.create.complete] eval_id=%s execution_id=%s runs=%d", evalID, exec.ID, len(created))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"execution": exec, "runs": created})
}

// CreatePlayground 创建单个试跑
// POST /api/v1/runs/playground
func (h *Handler) CreatePlayground(w http.ResponseWriter, r *http.Request) {
	var req runs.PlaygroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	run, err := h.svc.CreatePlayground(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// List 列出 Run
// GET /api/v1/runs?eval_id=&execution_id=&scenario_id=&status=queued,error&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := runs.ListFilter{
		EvalID:      q.Get("eval_id"),
		ExecutionID: q.Get("execution_id"),
		ScenarioID:  q.Get("scenario_id"),
	}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Statuses = append(f.Statuses, model.RunStatus(part))
			}
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	list, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": list, "count": len(list)})
}

// Get 获取单个 Run 详情
// GET /api/v1/runs/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Retry 重试出错的 Run
// POST /api/v1/runs/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.svc.Retry(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("[run.retry] run_id=%s", id)
	writeJSON(w, http.StatusOK, run)
}

// Delete 删除 Run
// DELETE /api/v1/runs/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteExecution 删除执行及其 Run
// DELETE /api/v1/executions/{id}
func (h *Handler) DeleteExecution(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DeleteExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted_runs": n})
}

// PruneExecutions 只保留最近 keep 次执行
// DELETE /api/v1/evals/{id}/executions?keep=N
func (h *Handler) PruneExecutions(w http.ResponseWriter, r *http.Request) {
	keep, err := strconv.Atoi(r.URL.Query().Get("keep"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "keep must be an integer")
		return
	}
	n, err := h.svc.PruneExecutions(r.Context(), r.PathValue("id"), keep)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": n})
}

// TestConnector 探测连接器
// POST /api/v1/connectors/{id}/test
//
// 连接器不可达不是服务端错误，返回 200 和 ok=false。
func (h *Handler) TestConnector(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msg, err := h.svc.TestConnector(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeServiceError(w, err)
			return
		}
		log.Printf("[run.connector.test.failed] connector_id=%s error=%v", id, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "message": msg})
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError 按哨兵错误映射状态码
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, runs.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runs.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[run.internal.error] error=%v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
