// Package redis 基于 Redis Streams 的 Run 事件总线
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"agents-eval/internal/shared/eventbus"
)

// Store Redis 事件总线
type Store struct {
	client *redis.Client
}

var _ eventbus.EventBus = (*Store)(nil)

// NewStoreFromClient 复用已有的 Redis 连接
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func runEventsKey(runID string) string {
	return eventbus.KeyRunEvents + runID
}

// PublishRunEvent 发布 Run 事件
func (s *Store) PublishRunEvent(ctx context.Context, runID string, event *eventbus.RunEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: runEventsKey(runID),
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"type":      event.Type,
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}

	event.ID = id
	event.RunID = runID
	log.Printf("[Redis/EventBus] Published run event: run=%s id=%s type=%s", runID, id, event.Type)
	return nil
}

// GetRunEvents 获取 Run 的历史事件
func (s *Store) GetRunEvents(ctx context.Context, runID string, count int64) ([]*eventbus.RunEvent, error) {
	var msgs []redis.XMessage
	var err error
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, runEventsKey(runID), "-", "+", count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, runEventsKey(runID), "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}

	events := make([]*eventbus.RunEvent, 0, len(msgs))
	for i, msg := range msgs {
		ev := decodeMessage(runID, msg)
		ev.Seq = i + 1
		events = append(events, ev)
	}
	return events, nil
}

// SubscribeRunEvents 订阅 Run 的新事件，ctx 取消后通道关闭
func (s *Store) SubscribeRunEvents(ctx context.Context, runID string) (<-chan *eventbus.RunEvent, error) {
	key := runEventsKey(runID)
	ch := make(chan *eventbus.RunEvent, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() == nil {
					log.Printf("[Redis/EventBus] Run event subscription error: run=%s err=%v", runID, err)
				}
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					select {
					case ch <- decodeMessage(runID, msg):
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// DeleteRunEvents 删除 Run 事件流
func (s *Store) DeleteRunEvents(ctx context.Context, runID string) error {
	return s.client.Del(ctx, runEventsKey(runID)).Err()
}

// Close 连接由 infra 统一关闭
func (s *Store) Close() error {
	return nil
}

func decodeMessage(runID string, msg redis.XMessage) *eventbus.RunEvent {
	ev := &eventbus.RunEvent{ID: msg.ID, RunID: runID}
	if t, ok := msg.Values["type"].(string); ok {
		ev.Type = t
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
	}
	if p, ok := msg.Values["payload"].(string); ok {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(p), &payload); err == nil {
			ev.Payload = payload
		}
	}
	return ev
}
