package connector

import (
	"fmt"
	"sort"
	"sync"

	"agents-eval/internal/shared/model"
)

// Registry 连接器类型注册表
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// MustRegister 注册连接器，重复注册时 panic（启动期使用）
func (r *Registry) MustRegister(s Strategy) *Registry {
	if err := r.Register(s); err != nil {
		panic(err)
	}
	return r
}

// Register 注册连接器，同一类型只能注册一次
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[s.Type()]; ok {
		return fmt.Errorf("connector type %q already registered", s.Type())
	}
	r.strategies[s.Type()] = s
	return nil
}

// Get 按类型查找
func (r *Registry) Get(typ string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[typ]
	if !ok {
		return nil, fmt.Errorf("unknown connector type %q", typ)
	}
	return s, nil
}

// For 查找连接器对应的协议
func (r *Registry) For(conn *model.Connector) (Strategy, error) {
	return r.Get(conn.Type)
}

// Types 已注册类型，按字母序
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
