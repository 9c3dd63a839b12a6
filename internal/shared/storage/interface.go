// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖 Repository 接口，不知道具体实现
//   - 具体实现在子包中：memory/、repository/（SQL）、mongostore/
//   - 所有调用都显式传入 Repos，不存在全局存储目录
package storage

import (
	"context"
	"time"

	"agents-eval/internal/shared/model"
)

// Repository 单个实体集合的通用仓储
//
// 约定：
//   - FindByID 找不到时返回 (nil, nil)
//   - FindAll / FindBy 按 created_at 升序返回
//   - Save 为 upsert 语义，最后一次写入生效
//   - DeleteByID 找不到时返回 ErrNotFound
type Repository[T model.Record] interface {
	FindAll(ctx context.Context) ([]T, error)
	FindByID(ctx context.Context, id string) (T, error)
	FindBy(ctx context.Context, filter Filter) ([]T, error)
	Save(ctx context.Context, item T) error
	SaveMany(ctx context.Context, items []T) error
	DeleteByID(ctx context.Context, id string) error
}

// Filter 按索引字段过滤，零值字段不参与过滤
type Filter struct {
	ProjectID   string
	Statuses    []string
	EvalID      string
	ExecutionID string
	ScenarioID  string
	// HeartbeatBefore 非空时只返回心跳早于该时间（或没有心跳）的记录
	HeartbeatBefore *time.Time
	// Limit 大于 0 时限制返回条数
	Limit int
}

// Match 判断索引字段是否满足过滤条件（内存实现和测试使用）
func (f Filter) Match(idx model.RecordIndex) bool {
	if f.ProjectID != "" && idx.ProjectID != f.ProjectID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == idx.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EvalID != "" && idx.EvalID != f.EvalID {
		return false
	}
	if f.ExecutionID != "" && idx.ExecutionID != f.ExecutionID {
		return false
	}
	if f.ScenarioID != "" && idx.ScenarioID != f.ScenarioID {
		return false
	}
	if f.HeartbeatBefore != nil && idx.HeartbeatAt != nil && !idx.HeartbeatAt.Before(*f.HeartbeatBefore) {
		return false
	}
	return true
}

// StatusFilter 构造按状态过滤的条件
func StatusFilter(projectID string, statuses ...model.RunStatus) Filter {
	f := Filter{ProjectID: projectID}
	for _, s := range statuses {
		f.Statuses = append(f.Statuses, string(s))
	}
	return f
}

// ============================================================================
// Repos - 显式存储上下文
// ============================================================================

// Repos 聚合所有实体仓储，并携带项目作用域
//
// 处理器、运行服务和 HTTP 层都通过它访问数据。
type Repos struct {
	// ProjectID 为空表示不按项目过滤
	ProjectID string

	Projects   Repository[*model.Project]
	Runs       Repository[*model.Run]
	Scenarios  Repository[*model.Scenario]
	Personas   Repository[*model.Persona]
	Connectors Repository[*model.Connector]
	Evals      Repository[*model.Eval]
	Executions Repository[*model.Execution]

	closer func() error
}

// WithCloser 设置底层连接的关闭函数
func (r *Repos) WithCloser(fn func() error) *Repos {
	r.closer = fn
	return r
}

// WithProject 返回同一组仓储在另一个项目作用域下的副本
func (r *Repos) WithProject(projectID string) *Repos {
	cp := *r
	cp.ProjectID = projectID
	return &cp
}

// Close 关闭底层连接
func (r *Repos) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
