// Package instancelock 处理器单实例锁
//
// 同一仓储上只允许一个处理器认领 Run。配置了 etcd 时使用
// concurrency.Mutex 实现，会话过期（进程崩溃或网络分区）后锁自动释放；
// 未配置时使用 NoOp 实现。
package instancelock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// ErrHeld 锁已被其他实例持有
var ErrHeld = errors.New("processor lock is held by another instance")

// Lease 已获得的锁
type Lease interface {
	// Done 锁丢失时关闭（NoOp 实现永不关闭）
	Done() <-chan struct{}
	Release() error
}

// Locker 单实例锁
type Locker interface {
	// Acquire 阻塞直到获得锁或 ctx 取消
	Acquire(ctx context.Context) (Lease, error)
	// TryAcquire 立即返回，锁被占用时返回 ErrHeld
	TryAcquire(ctx context.Context) (Lease, error)
	Close() error
}

// Config etcd 锁配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Key         string
	TTL         time.Duration
}

// EtcdLocker 基于 etcd 的实现
type EtcdLocker struct {
	client *clientv3.Client
	key    string
	ttl    int
}

// NewEtcdLocker 连接 etcd
func NewEtcdLocker(cfg Config) (*EtcdLocker, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Key == "" {
		cfg.Key = "/agents-eval/processor"
	}
	ttl := int(cfg.TTL.Seconds())
	if ttl <= 0 {
		ttl = 15
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd] Connected to %v", cfg.Endpoints)
	return &EtcdLocker{client: client, key: cfg.Key, ttl: ttl}, nil
}

func (l *EtcdLocker) Acquire(ctx context.Context) (Lease, error) {
	return l.acquire(ctx, false)
}

func (l *EtcdLocker) TryAcquire(ctx context.Context) (Lease, error) {
	return l.acquire(ctx, true)
}

func (l *EtcdLocker) acquire(ctx context.Context, try bool) (Lease, error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("create etcd session: %w", err)
	}

	mu := concurrency.NewMutex(session, l.key)
	if try {
		err = mu.TryLock(ctx)
	} else {
		err = mu.Lock(ctx)
	}
	if err != nil {
		session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("lock %s: %w", l.key, err)
	}

	log.Printf("[instancelock.acquired] key=%s", l.key)
	return &etcdLease{session: session, mu: mu}, nil
}

func (l *EtcdLocker) Close() error {
	return l.client.Close()
}

type etcdLease struct {
	session *concurrency.Session
	mu      *concurrency.Mutex
}

func (e *etcdLease) Done() <-chan struct{} {
	return e.session.Done()
}

func (e *etcdLease) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := e.mu.Unlock(ctx)
	if cerr := e.session.Close(); err == nil {
		err = cerr
	}
	return err
}

// NoOpLocker 总是立即获得锁
type NoOpLocker struct{}

func (NoOpLocker) Acquire(context.Context) (Lease, error)    { return noopLease{}, nil }
func (NoOpLocker) TryAcquire(context.Context) (Lease, error) { return noopLease{}, nil }
func (NoOpLocker) Close() error                              { return nil }

type noopLease struct{}

func (noopLease) Done() <-chan struct{} { return nil }
func (noopLease) Release() error        { return nil }
