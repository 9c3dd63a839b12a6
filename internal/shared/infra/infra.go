// Package infra 基础设施聚合层
//
// 按配置统一初始化基础设施，未配置的组件退化为进程内或空操作实现：
//   - Repos：仓储（SQLite / PostgreSQL / MongoDB / 内存）
//   - EventBus：Run 生命周期事件（Redis Streams / 内存）
//   - Queue：调度唤醒队列（Redis Streams / NoOp）
//   - Archive：对话记录归档（MinIO / NoOp）
//   - Locker：处理器单实例锁（etcd / NoOp）
package infra

import (
	"context"
	"errors"
	"fmt"
	"log"

	"agents-eval/internal/config"
	"agents-eval/internal/shared/eventbus"
	"agents-eval/internal/shared/instancelock"
	"agents-eval/internal/shared/objstore"
	"agents-eval/internal/shared/queue"
	"agents-eval/internal/shared/storage"
	"agents-eval/internal/shared/storage/memory"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	Repos    *storage.Repos
	EventBus eventbus.EventBus
	Queue    queue.Queue
	Archive  objstore.Archive
	Locker   instancelock.Locker

	redis *RedisInfra
}

// Open 按配置初始化全部基础设施，任何一个组件失败都会关闭已打开的连接
func Open(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	inf := &Infrastructure{}
	ok := false
	defer func() {
		if !ok {
			inf.Close()
		}
	}()

	repos, err := OpenRepos(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DatabaseDBName, cfg.Processor.ProjectID)
	if err != nil {
		return nil, err
	}
	inf.Repos = repos

	if cfg.RedisURL != "" {
		r, err := NewRedisInfra(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		inf.redis = r
		inf.EventBus = r.EventBus()
		inf.Queue = r.Queue()
		if err := inf.Queue.CreateSchedulerConsumerGroup(ctx); err != nil {
			return nil, fmt.Errorf("create scheduler consumer group: %w", err)
		}
	} else {
		inf.EventBus = eventbus.NewMemoryEventBus()
		inf.Queue = queue.NewNoOpQueue()
	}

	if cfg.MinIO.Endpoint != "" {
		c, err := objstore.NewClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := c.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		inf.Archive = c
		log.Printf("[infra] transcript archive enabled endpoint=%s bucket=%s", cfg.MinIO.Endpoint, cfg.MinIO.Bucket)
	} else {
		inf.Archive = objstore.NoOpArchive{}
	}

	if len(cfg.Etcd.Endpoints) > 0 {
		l, err := instancelock.NewEtcdLocker(instancelock.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Key:         cfg.Etcd.LockKey,
		})
		if err != nil {
			return nil, err
		}
		inf.Locker = l
	} else {
		inf.Locker = instancelock.NoOpLocker{}
	}

	ok = true
	return inf, nil
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var errs []error
	if i.Locker != nil {
		errs = append(errs, i.Locker.Close())
	}
	if i.redis != nil {
		errs = append(errs, i.redis.Close())
	} else {
		if i.EventBus != nil {
			errs = append(errs, i.EventBus.Close())
		}
		if i.Queue != nil {
			errs = append(errs, i.Queue.Close())
		}
	}
	if i.Repos != nil {
		errs = append(errs, i.Repos.Close())
	}
	return errors.Join(errs...)
}

// NewMemoryInfrastructure 全部使用进程内实现（用于测试和 playground）
func NewMemoryInfrastructure(projectID string) *Infrastructure {
	return &Infrastructure{
		Repos:    memory.NewRepos(projectID),
		EventBus: eventbus.NewMemoryEventBus(),
		Queue:    queue.NewNoOpQueue(),
		Archive:  objstore.NoOpArchive{},
		Locker:   instancelock.NoOpLocker{},
	}
}
