package model

import "time"

// FailureCriteriaMode 失败判据的检查时机
type FailureCriteriaMode string

const (
	// FailureEveryTurn 每轮检查，满足即失败
	FailureEveryTurn FailureCriteriaMode = "every_turn"
	// FailureOnMaxMessages 只在达到轮数上限时检查一次
	FailureOnMaxMessages FailureCriteriaMode = "on_max_messages"
)

// Scenario 评测场景
//
// Messages 是对话的种子消息；MaxMessages 为 0 表示未设置上限。
type Scenario struct {
	ID                  string              `json:"id" bson:"_id"`
	ProjectID           string              `json:"project_id" bson:"project_id"`
	Name                string              `json:"name" bson:"name"`
	Instructions        string              `json:"instructions,omitempty" bson:"instructions,omitempty"`
	Messages            []Message           `json:"messages,omitempty" bson:"messages,omitempty"`
	MaxMessages         int                 `json:"max_messages,omitempty" bson:"max_messages,omitempty"`
	SuccessCriteria     string              `json:"success_criteria,omitempty" bson:"success_criteria,omitempty"`
	FailureCriteria     string              `json:"failure_criteria,omitempty" bson:"failure_criteria,omitempty"`
	FailureCriteriaMode FailureCriteriaMode `json:"failure_criteria_mode,omitempty" bson:"failure_criteria_mode,omitempty"`
	PersonaIDs          []string            `json:"persona_ids,omitempty" bson:"persona_ids,omitempty"`
	Evaluators          []EvaluatorRef      `json:"evaluators,omitempty" bson:"evaluators,omitempty"`
	CreatedAt           time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at" bson:"updated_at"`
}

// EvaluatorRef 场景上挂载的评估器及其配置
type EvaluatorRef struct {
	Type   string         `json:"type" bson:"type"`
	Config map[string]any `json:"config,omitempty" bson:"config,omitempty"`
}

// FailureMode 返回失败判据模式，未设置时为 every_turn
func (s *Scenario) FailureMode() FailureCriteriaMode {
	if s.FailureCriteriaMode == "" {
		return FailureEveryTurn
	}
	return s.FailureCriteriaMode
}

// HasCriteria 是否设置了任一判据
func (s *Scenario) HasCriteria() bool {
	return s.SuccessCriteria != "" || s.FailureCriteria != ""
}

func (s *Scenario) RecordID() string { return s.ID }

func (s *Scenario) RecordIndex() RecordIndex {
	return RecordIndex{ProjectID: s.ProjectID, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}

// Persona 模拟用户人设
type Persona struct {
	ID           string    `json:"id" bson:"_id"`
	ProjectID    string    `json:"project_id" bson:"project_id"`
	Name         string    `json:"name" bson:"name"`
	Description  string    `json:"description,omitempty" bson:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty" bson:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

func (p *Persona) RecordID() string { return p.ID }

func (p *Persona) RecordIndex() RecordIndex {
	return RecordIndex{ProjectID: p.ProjectID, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}
