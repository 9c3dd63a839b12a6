package queue

import (
	"context"
	"time"
)

// NoOpQueue 不做任何操作的队列实现，未配置 Redis 时使用
type NoOpQueue struct{}

// NewNoOpQueue 创建 NoOpQueue
func NewNoOpQueue() *NoOpQueue {
	return &NoOpQueue{}
}

func (q *NoOpQueue) ScheduleRun(ctx context.Context, runID, projectID string) (string, error) {
	return "", nil
}

func (q *NoOpQueue) CreateSchedulerConsumerGroup(ctx context.Context) error {
	return nil
}

// ConsumeSchedulerRuns 阻塞到超时或 ctx 取消，返回空
func (q *NoOpQueue) ConsumeSchedulerRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*SchedulerMessage, error) {
	timer := time.NewTimer(blockTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (q *NoOpQueue) AckSchedulerRun(ctx context.Context, messageID string) error {
	return nil
}

func (q *NoOpQueue) GetSchedulerQueueLength(ctx context.Context) (int64, error) {
	return 0, nil
}

func (q *NoOpQueue) Close() error {
	return nil
}

var _ Queue = (*NoOpQueue)(nil)
