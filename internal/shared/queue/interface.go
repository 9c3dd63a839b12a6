// Package queue 调度唤醒队列
//
// Run 进入 queued 状态时写入一条唤醒消息，处理器消费后立即执行一轮调度，
// 不必等待下一次轮询。队列只是提示，实际认领仍以仓储中的状态为准。
package queue

import (
	"context"
	"time"
)

// SchedulerQueue 调度队列接口
type SchedulerQueue interface {
	// ScheduleRun 通知有新的待执行 Run
	ScheduleRun(ctx context.Context, runID, projectID string) (string, error)
	CreateSchedulerConsumerGroup(ctx context.Context) error
	ConsumeSchedulerRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*SchedulerMessage, error)
	AckSchedulerRun(ctx context.Context, messageID string) error
	GetSchedulerQueueLength(ctx context.Context) (int64, error)
}

// Queue 消息队列组合接口
type Queue interface {
	SchedulerQueue
	Close() error
}
