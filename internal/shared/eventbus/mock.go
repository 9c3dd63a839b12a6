// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
)

// NoOpEventBus 是一个不做任何操作的 EventBus 实现
type NoOpEventBus struct{}

// NewNoOpEventBus 创建 NoOpEventBus 实例
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

func (e *NoOpEventBus) Close() error {
	return nil
}

func (e *NoOpEventBus) PublishRunEvent(ctx context.Context, runID string, event *RunEvent) error {
	return nil
}

func (e *NoOpEventBus) GetRunEvents(ctx context.Context, runID string, count int64) ([]*RunEvent, error) {
	return []*RunEvent{}, nil
}

func (e *NoOpEventBus) SubscribeRunEvents(ctx context.Context, runID string) (<-chan *RunEvent, error) {
	ch := make(chan *RunEvent)
	close(ch)
	return ch, nil
}

func (e *NoOpEventBus) DeleteRunEvents(ctx context.Context, runID string) error {
	return nil
}

var _ EventBus = (*NoOpEventBus)(nil)
