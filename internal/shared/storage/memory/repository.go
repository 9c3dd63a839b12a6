// Package memory 提供进程内的仓储实现
//
// 用于测试、playground 和不需要持久化的单机场景。
// 记录在写入和读取时都通过 JSON 深拷贝，调用方拿到的对象互不共享。
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
)

// Repository 内存仓储
type Repository[T model.Record] struct {
	mu    sync.RWMutex
	items map[string][]byte
	index map[string]model.RecordIndex
}

var _ storage.Repository[*model.Run] = (*Repository[*model.Run])(nil)

// NewRepository 创建内存仓储
func NewRepository[T model.Record]() *Repository[T] {
	return &Repository[T]{
		items: make(map[string][]byte),
		index: make(map[string]model.RecordIndex),
	}
}

// NewRepos 创建一组内存仓储
func NewRepos(projectID string) *storage.Repos {
	return &storage.Repos{
		ProjectID:  projectID,
		Projects:   NewRepository[*model.Project](),
		Runs:       NewRepository[*model.Run](),
		Scenarios:  NewRepository[*model.Scenario](),
		Personas:   NewRepository[*model.Persona](),
		Connectors: NewRepository[*model.Connector](),
		Evals:      NewRepository[*model.Eval](),
		Executions: NewRepository[*model.Execution](),
	}
}

func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.FindBy(ctx, storage.Filter{})
}

func (r *Repository[T]) FindByID(_ context.Context, id string) (T, error) {
	var zero T
	r.mu.RLock()
	data, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		return zero, nil
	}
	return decode[T](data)
}

func (r *Repository[T]) FindBy(_ context.Context, filter storage.Filter) ([]T, error) {
	r.mu.RLock()
	type entry struct {
		data []byte
		idx  model.RecordIndex
	}
	var matched []entry
	for id, idx := range r.index {
		if filter.Match(idx) {
			matched = append(matched, entry{data: r.items[id], idx: idx})
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].idx.CreatedAt.Before(matched[j].idx.CreatedAt)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]T, 0, len(matched))
	for _, m := range matched {
		item, err := decode[T](m.data)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *Repository[T]) Save(_ context.Context, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	r.mu.Lock()
	r.items[item.RecordID()] = data
	r.index[item.RecordID()] = item.RecordIndex()
	r.mu.Unlock()
	return nil
}

func (r *Repository[T]) SaveMany(ctx context.Context, items []T) error {
	for _, item := range items {
		if err := r.Save(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository[T]) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return storage.ErrNotFound
	}
	delete(r.items, id)
	delete(r.index, id)
	return nil
}

func decode[T model.Record](data []byte) (T, error) {
	var zero T
	item := reflect.New(reflect.TypeOf(zero).Elem()).Interface().(T)
	if err := json.Unmarshal(data, item); err != nil {
		return zero, fmt.Errorf("failed to decode record: %w", err)
	}
	return item, nil
}
