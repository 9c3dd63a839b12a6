package model

import "time"

// Eval 一组场景在某个连接器上的评测定义
type Eval struct {
	ID          string    `json:"id" bson:"_id"`
	ProjectID   string    `json:"project_id" bson:"project_id"`
	Name        string    `json:"name" bson:"name"`
	ScenarioIDs []string  `json:"scenario_ids" bson:"scenario_ids"`
	ConnectorID string    `json:"connector_id" bson:"connector_id"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

func (e *Eval) RecordID() string { return e.ID }

func (e *Eval) RecordIndex() RecordIndex {
	return RecordIndex{ProjectID: e.ProjectID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
}

// Execution 一次评测批量执行的标记，Number 在同一个 Eval 内递增
type Execution struct {
	ID        string    `json:"id" bson:"_id"`
	ProjectID string    `json:"project_id" bson:"project_id"`
	EvalID    string    `json:"eval_id" bson:"eval_id"`
	Number    int64     `json:"number" bson:"number"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (e *Execution) RecordID() string { return e.ID }

func (e *Execution) RecordIndex() RecordIndex {
	return RecordIndex{ProjectID: e.ProjectID, EvalID: e.EvalID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
}

// Project 项目，运行按项目隔离
type Project struct {
	ID        string          `json:"id" bson:"_id"`
	Name      string          `json:"name" bson:"name"`
	Settings  ProjectSettings `json:"settings" bson:"settings"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updated_at"`
}

// ProjectSettings 项目级设置
type ProjectSettings struct {
	// MaxConcurrentRuns 大于 0 时覆盖处理器的并发上限
	MaxConcurrentRuns int `json:"max_concurrent_runs,omitempty" bson:"max_concurrent_runs,omitempty"`
}

func (p *Project) RecordID() string { return p.ID }

func (p *Project) RecordIndex() RecordIndex {
	return RecordIndex{ProjectID: p.ID, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}
