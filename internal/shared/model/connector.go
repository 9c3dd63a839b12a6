package model

import "time"

// 内置连接器类型
const (
	ConnectorTypeHTTP      = "http"
	ConnectorTypeLangGraph = "langgraph"
)

// Connector 被测系统的连接配置
//
// Config 按类型解释：
//   - http：path、method
//   - langgraph：assistantId、configurable
type Connector struct {
	ID        string            `json:"id" bson:"_id"`
	ProjectID string            `json:"project_id" bson:"project_id"`
	Name      string            `json:"name" bson:"name"`
	Type      string            `json:"type" bson:"type"`
	BaseURL   string            `json:"base_url" bson:"base_url"`
	Headers   map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Config    map[string]any    `json:"config,omitempty" bson:"config,omitempty"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" bson:"updated_at"`
}

// ConfigString 读取字符串配置项
func (c *Connector) ConfigString(key string) string {
	if c.Config == nil {
		return ""
	}
	if v, ok := c.Config[key].(string); ok {
		return v
	}
	return ""
}

func (c *Connector) RecordID() string { return c.ID }

func (c *Connector) RecordIndex() RecordIndex {
	return RecordIndex{ProjectID: c.ProjectID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}
