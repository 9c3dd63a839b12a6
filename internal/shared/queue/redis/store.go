// Package redis SchedulerQueue 的 Redis Streams 实现
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agents-eval/internal/shared/queue"
)

// Store Redis 调度队列
type Store struct {
	client *redis.Client
}

var _ queue.Queue = (*Store)(nil)

// NewStoreFromClient 复用已有的 Redis 连接
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// ScheduleRun 写入唤醒消息
func (s *Store) ScheduleRun(ctx context.Context, runID, projectID string) (string, error) {
	args := &redis.XAddArgs{
		Stream: queue.KeySchedulerRuns,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"run_id":     runID,
			"project_id": projectID,
			"created_at": time.Now().Format(time.RFC3339Nano),
		},
	}

	return s.client.XAdd(ctx, args).Result()
}

// CreateSchedulerConsumerGroup 创建调度器消费者组
func (s *Store) CreateSchedulerConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.KeySchedulerRuns, queue.SchedulerConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create scheduler consumer group: %w", err)
	}
	return nil
}

// ConsumeSchedulerRuns 消费唤醒消息
func (s *Store) ConsumeSchedulerRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.SchedulerMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.SchedulerConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{queue.KeySchedulerRuns, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []*queue.SchedulerMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			messages = append(messages, decodeMessage(msg))
		}
	}
	return messages, nil
}

// AckSchedulerRun 确认消息已处理
func (s *Store) AckSchedulerRun(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, queue.KeySchedulerRuns, queue.SchedulerConsumerGroup, messageID).Err()
}

// GetSchedulerQueueLength 队列长度
func (s *Store) GetSchedulerQueueLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, queue.KeySchedulerRuns).Result()
}

// Close 连接由 infra 统一关闭
func (s *Store) Close() error {
	return nil
}

func decodeMessage(msg redis.XMessage) *queue.SchedulerMessage {
	m := &queue.SchedulerMessage{ID: msg.ID}
	if runID, ok := msg.Values["run_id"].(string); ok {
		m.RunID = runID
	}
	if projectID, ok := msg.Values["project_id"].(string); ok {
		m.ProjectID = projectID
	}
	if createdAt, ok := msg.Values["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			m.CreatedAt = t
		}
	}
	return m
}
