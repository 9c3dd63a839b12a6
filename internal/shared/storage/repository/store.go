// Package repository 数据库无关的 SQL 仓储实现
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
package repository

import (
	"database/sql"

	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
	"agents-eval/internal/shared/storage/dbutil"
)

// Store 持有数据库连接和方言，为每个实体创建 Table
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

// NewStore 创建 SQL 存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect 返回当前方言
func (s *Store) Dialect() dbutil.Dialect {
	return s.dialect
}

// Repos 创建绑定到该连接的一组仓储
func (s *Store) Repos(projectID string) *storage.Repos {
	repos := &storage.Repos{
		ProjectID:  projectID,
		Projects:   NewTable[*model.Project](s, "projects"),
		Runs:       NewTable[*model.Run](s, "runs"),
		Scenarios:  NewTable[*model.Scenario](s, "scenarios"),
		Personas:   NewTable[*model.Persona](s, "personas"),
		Connectors: NewTable[*model.Connector](s, "connectors"),
		Evals:      NewTable[*model.Eval](s, "evals"),
		Executions: NewTable[*model.Execution](s, "executions"),
	}
	return repos.WithCloser(s.Close)
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}
