// Package queue 消息队列类型定义
package queue

import (
	"time"
)

// SchedulerMessage 调度器消息
type SchedulerMessage struct {
	ID        string
	RunID     string
	ProjectID string
	CreatedAt time.Time
}

const (
	// KeySchedulerRuns 调度器队列
	KeySchedulerRuns = "eval:scheduler:runs"

	// SchedulerConsumerGroup 消费者组
	SchedulerConsumerGroup = "run_processors"
)
