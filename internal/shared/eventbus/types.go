// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"
)

// RunEvent Run 生命周期事件
type RunEvent struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Seq       int                    `json:"seq"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// 事件类型
const (
	EventRunQueued    = "run.queued"
	EventRunStarted   = "run.started"
	EventRunTurn      = "run.turn"
	EventRunCompleted = "run.completed"
	EventRunError     = "run.error"
)

// IsFinal 是否为终止事件
func (e *RunEvent) IsFinal() bool {
	return e.Type == EventRunCompleted || e.Type == EventRunError
}

const (
	// KeyRunEvents Redis Stream key 前缀
	KeyRunEvents = "eval:run_events:"

	// MaxStreamLength Stream 最大长度
	MaxStreamLength = 1000
)
