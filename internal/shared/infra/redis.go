package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"agents-eval/internal/shared/eventbus"
	eventbusredis "agents-eval/internal/shared/eventbus/redis"
	"agents-eval/internal/shared/queue"
	queueredis "agents-eval/internal/shared/queue/redis"
)

// RedisInfra 共享一个 Redis 连接的事件总线和唤醒队列
type RedisInfra struct {
	eventBusStore *eventbusredis.Store
	queueStore    *queueredis.Store

	client *redis.Client
}

// NewRedisInfra 从 URL 创建 Redis 基础设施
func NewRedisInfra(ctx context.Context, redisURL string) (*RedisInfra, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return newRedisInfra(ctx, redis.NewClient(opts))
}

func newRedisInfra(ctx context.Context, client *redis.Client) (*RedisInfra, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[infra] connected to Redis addr=%s", client.Options().Addr)

	return &RedisInfra{
		client:        client,
		eventBusStore: eventbusredis.NewStoreFromClient(client),
		queueStore:    queueredis.NewStoreFromClient(client),
	}, nil
}

// EventBus 返回事件总线
func (r *RedisInfra) EventBus() eventbus.EventBus {
	return r.eventBusStore
}

// Queue 返回唤醒队列
func (r *RedisInfra) Queue() queue.Queue {
	return r.queueStore
}

// Client 返回底层 Redis 客户端
func (r *RedisInfra) Client() *redis.Client {
	return r.client
}

// Close 关闭 Redis 连接
func (r *RedisInfra) Close() error {
	return r.client.Close()
}
