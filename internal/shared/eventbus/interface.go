// Package eventbus 事件总线抽象接口
//
// 提供 Run 生命周期事件的发布/订阅能力，由 Redis Streams 或进程内实现。
// 事件只用于通知和展示，Run 的状态以仓储为准。
package eventbus

import (
	"context"
)

// RunEventBus Run 事件总线接口
type RunEventBus interface {
	PublishRunEvent(ctx context.Context, runID string, event *RunEvent) error
	GetRunEvents(ctx context.Context, runID string, count int64) ([]*RunEvent, error)
	SubscribeRunEvents(ctx context.Context, runID string) (<-chan *RunEvent, error)
	DeleteRunEvents(ctx context.Context, runID string) error
}

// EventBus 事件总线组合接口
type EventBus interface {
	RunEventBus
	Close() error
}
