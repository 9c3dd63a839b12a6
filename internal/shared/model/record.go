package model

import "time"

// RecordIndex 持久化层用于过滤和排序的字段
//
// 各存储后端把这些字段作为独立列（或文档字段）建立索引，
// 其余内容作为整体文档保存。实体没有的字段保持零值。
type RecordIndex struct {
	ProjectID   string
	Status      string
	EvalID      string
	ExecutionID string
	ScenarioID  string
	HeartbeatAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Record 可被通用仓储保存的实体
type Record interface {
	RecordID() string
	RecordIndex() RecordIndex
}
