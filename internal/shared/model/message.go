package model

// MessageRole 消息角色
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// Message 对话中的一条消息
//
// ID 由连接器或模拟器分配，用于跨轮次去重；种子消息可以没有 ID。
// Metadata 保存协议侧的附加字段（如 LangGraph 的 response_metadata）。
type Message struct {
	ID         string         `json:"id,omitempty" bson:"id,omitempty"`
	Role       MessageRole    `json:"role" bson:"role"`
	Content    string         `json:"content" bson:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty" bson:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty" bson:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty" bson:"name,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// ToolCall 助手发起的工具调用
type ToolCall struct {
	ID       string       `json:"id" bson:"id"`
	Type     string       `json:"type" bson:"type"`
	Function ToolFunction `json:"function" bson:"function"`
}

// ToolFunction 工具调用的函数名和参数（参数为 JSON 字符串）
type ToolFunction struct {
	Name      string `json:"name" bson:"name"`
	Arguments string `json:"arguments" bson:"arguments"`
}

// LastMessage 返回最后一条消息，没有时返回 nil
func LastMessage(msgs []Message) *Message {
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[len(msgs)-1]
}
