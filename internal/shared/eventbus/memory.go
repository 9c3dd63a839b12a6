package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryEventBus 进程内事件总线，单机部署和测试使用
type MemoryEventBus struct {
	mu     sync.Mutex
	events map[string][]*RunEvent
	subs   map[string]map[chan *RunEvent]struct{}
}

// NewMemoryEventBus 创建进程内事件总线
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{
		events: make(map[string][]*RunEvent),
		subs:   make(map[string]map[chan *RunEvent]struct{}),
	}
}

func (b *MemoryEventBus) PublishRunEvent(_ context.Context, runID string, event *RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := b.events[runID]
	event.RunID = runID
	event.Seq = len(history) + 1
	event.ID = fmt.Sprintf("%d-0", event.Seq)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if len(history) >= MaxStreamLength {
		history = history[1:]
	}
	b.events[runID] = append(history, event)

	for ch := range b.subs[runID] {
		select {
		case ch <- event:
		default:
			// 订阅者消费过慢时丢弃，历史仍可通过 GetRunEvents 获取
		}
	}
	return nil
}

func (b *MemoryEventBus) GetRunEvents(_ context.Context, runID string, count int64) ([]*RunEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := b.events[runID]
	if count > 0 && int64(len(history)) > count {
		history = history[:count]
	}
	out := make([]*RunEvent, len(history))
	copy(out, history)
	return out, nil
}

func (b *MemoryEventBus) SubscribeRunEvents(ctx context.Context, runID string) (<-chan *RunEvent, error) {
	ch := make(chan *RunEvent, 100)

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan *RunEvent]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[runID], ch)
		if len(b.subs[runID]) == 0 {
			delete(b.subs, runID)
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *MemoryEventBus) DeleteRunEvents(_ context.Context, runID string) error {
	b.mu.Lock()
	delete(b.events, runID)
	b.mu.Unlock()
	return nil
}

func (b *MemoryEventBus) Close() error {
	return nil
}

var _ EventBus = (*MemoryEventBus)(nil)
