// Package model 定义核心数据模型
//
// run.go 包含评测执行相关的数据模型定义：
//   - Run：场景 × 人设在某个连接器上的一次对话评测
//   - RunStatus：执行状态枚举
//   - RunResult：评测结论
//   - RunMetadata：运行结束时汇总的指标
package model

import (
	"time"
)

// ============================================================================
// RunStatus - 执行状态
// ============================================================================

// RunStatus 表示一次评测（Run）的状态
//
// 状态流转：
//
//	创建 → queued → running → completed / error
//	error → (retry) → queued
//
// pending 为保留状态，处理器不会写入。
type RunStatus string

const (
	// RunStatusQueued 排队中：等待处理器认领
	RunStatusQueued RunStatus = "queued"

	// RunStatusPending 保留状态
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning 执行中：已被处理器认领
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted 已完成：对话结束并得出结论（结论可以是失败）
	RunStatusCompleted RunStatus = "completed"

	// RunStatusError 出错：执行过程中出现系统错误，没有结论
	RunStatusError RunStatus = "error"
)

// TerminationReason 对话结束原因
type TerminationReason string

const (
	TerminationSuccessCriteria TerminationReason = "success_criteria"
	TerminationFailureCriteria TerminationReason = "failure_criteria"
	TerminationMaxMessages     TerminationReason = "max_messages"
	TerminationNoInput         TerminationReason = "no_input"
)

// ============================================================================
// Run - 评测实例
// ============================================================================

// Run 表示一次评测执行
//
// 字段说明：
//   - EvalID / ExecutionID：由评测批量创建时填充；playground 运行为空
//   - PersonaID：为空表示没有模拟用户，只发送场景种子消息
//   - ConnectorID：评测创建的运行继承评测的连接器，之后不可变
//   - ThreadID：会话线程标识，创建和重试时重新生成
//   - Result：仅 completed 状态下存在
//   - Error：仅 error 状态下存在
//   - HeartbeatAt：执行期间的租约心跳，用于回收崩溃遗留的 running
type Run struct {
	ID          string       `json:"id" bson:"_id" db:"id"`
	ProjectID   string       `json:"project_id" bson:"project_id" db:"project_id"`
	EvalID      string       `json:"eval_id,omitempty" bson:"eval_id,omitempty" db:"eval_id"`
	ScenarioID  string       `json:"scenario_id" bson:"scenario_id" db:"scenario_id"`
	PersonaID   string       `json:"persona_id,omitempty" bson:"persona_id,omitempty" db:"persona_id"`
	ConnectorID string       `json:"connector_id,omitempty" bson:"connector_id,omitempty" db:"connector_id"`
	ExecutionID string       `json:"execution_id,omitempty" bson:"execution_id,omitempty" db:"execution_id"`
	Status      RunStatus    `json:"status" bson:"status" db:"status"`
	Messages    []Message    `json:"messages" bson:"messages" db:"messages"`
	ThreadID    string       `json:"thread_id,omitempty" bson:"thread_id,omitempty" db:"thread_id"`
	Result      *RunResult   `json:"result,omitempty" bson:"result,omitempty" db:"result"`
	Error       *string      `json:"error,omitempty" bson:"error,omitempty" db:"error"`
	Metadata    *RunMetadata `json:"metadata,omitempty" bson:"metadata,omitempty" db:"metadata"`
	HeartbeatAt *time.Time   `json:"heartbeat_at,omitempty" bson:"heartbeat_at,omitempty" db:"heartbeat_at"`
	CreatedAt   time.Time    `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" bson:"updated_at" db:"updated_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty" bson:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" bson:"completed_at,omitempty" db:"completed_at"`
}

// RunResult 评测结论
type RunResult struct {
	Success bool     `json:"success" bson:"success"`
	Score   *float64 `json:"score,omitempty" bson:"score,omitempty"`
	Reason  string   `json:"reason" bson:"reason"`
}

// TokenUsage token 用量
type TokenUsage struct {
	Input  int `json:"input" bson:"input"`
	Output int `json:"output" bson:"output"`
	Total  int `json:"total" bson:"total"`
}

// Add 累加另一份用量
func (u *TokenUsage) Add(o TokenUsage) {
	u.Input += o.Input
	u.Output += o.Output
	u.Total += o.Total
}

// RunMetadata 运行结束时汇总的数据，内置评估器只读取这里和消息列表
type RunMetadata struct {
	LatencyMs         int64             `json:"latency_ms" bson:"latency_ms"`
	TokenUsage        TokenUsage        `json:"token_usage" bson:"token_usage"`
	Turns             int               `json:"turns" bson:"turns"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty" bson:"termination_reason,omitempty"`
	Unparseable       int               `json:"unparseable_responses,omitempty" bson:"unparseable_responses,omitempty"`
	Evaluations       []EvaluatorResult `json:"evaluations,omitempty" bson:"evaluations,omitempty"`
	// Connector 各轮连接器元数据的合并：thread_id 为最近返回的线程，
	// last_unparseable 为最近一次无法解析的响应体
	Connector map[string]any `json:"connector,omitempty" bson:"connector,omitempty"`
}

// EvaluatorKind 评估器类型
type EvaluatorKind string

const (
	EvaluatorKindAssertion EvaluatorKind = "assertion"
	EvaluatorKindMetric    EvaluatorKind = "metric"
)

// EvaluatorResult 单个评估器的输出
//
// assertion 类型填充 Passed，metric 类型填充 Value；评估器自身出错时只填 Error。
type EvaluatorResult struct {
	Type   string        `json:"type" bson:"type"`
	Label  string        `json:"label" bson:"label"`
	Kind   EvaluatorKind `json:"kind" bson:"kind"`
	Passed *bool         `json:"passed,omitempty" bson:"passed,omitempty"`
	Value  *float64      `json:"value,omitempty" bson:"value,omitempty"`
	Reason string        `json:"reason,omitempty" bson:"reason,omitempty"`
	Error  string        `json:"error,omitempty" bson:"error,omitempty"`
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsTerminal 判断 Run 是否处于终止状态
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusError:
		return true
	default:
		return false
	}
}

// IsRunning 判断 Run 是否正在运行
func (r *Run) IsRunning() bool {
	return r.Status == RunStatusRunning
}

// CanRetry 只有 error 状态的 Run 可以重试
func (r *Run) CanRetry() bool {
	return r.Status == RunStatusError
}

// ResetForRetry 把 Run 重置为待执行状态
//
// 清空消息、结论、错误和元数据，并使用新的会话线程，避免复用连接器侧的状态。
func (r *Run) ResetForRetry(threadID string, now time.Time) {
	r.Status = RunStatusQueued
	r.Messages = []Message{}
	r.Result = nil
	r.Error = nil
	r.Metadata = nil
	r.ThreadID = threadID
	r.StartedAt = nil
	r.CompletedAt = nil
	r.HeartbeatAt = nil
	r.UpdatedAt = now
}

// RecordID 实现 Record
func (r *Run) RecordID() string { return r.ID }

// RecordIndex 实现 Record
func (r *Run) RecordIndex() RecordIndex {
	return RecordIndex{
		ProjectID:   r.ProjectID,
		Status:      string(r.Status),
		EvalID:      r.EvalID,
		ExecutionID: r.ExecutionID,
		ScenarioID:  r.ScenarioID,
		HeartbeatAt: r.HeartbeatAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
