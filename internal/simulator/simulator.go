// Package simulator 模拟用户（人设）生成下一条用户消息
package simulator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"agents-eval/internal/shared/model"
	"agents-eval/pkg/llm"
)

// DefaultTemperature 模拟用户的采样温度
const DefaultTemperature = 0.7

// openingPrompt 对话还没有开始时发给模拟器的提示
const openingPrompt = "Start the conversation. Send your first message to the assistant."

// Simulator 基于 LLM 的人设模拟器
type Simulator struct {
	client      llm.Client
	model       string
	temperature float32
}

// New 创建模拟器
func New(client llm.Client, model string) *Simulator {
	return &Simulator{client: client, model: model, temperature: DefaultTemperature}
}

// Next 生成下一条用户消息
func (s *Simulator) Next(ctx context.Context, persona *model.Persona, scenario *model.Scenario, transcript []model.Message) (model.Message, error) {
	if persona == nil {
		return model.Message{}, fmt.Errorf("simulator: persona is required")
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		Model:       s.model,
		Messages:    BuildMessages(persona, scenario, transcript),
		Temperature: s.temperature,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("simulate persona %s: %w", persona.ID, err)
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return model.Message{}, fmt.Errorf("simulate persona %s: empty reply", persona.ID)
	}

	return model.Message{
		ID:      uuid.NewString(),
		Role:    model.RoleUser,
		Content: content,
	}, nil
}

// SystemPrompt 由人设和场景说明组成的系统提示
func SystemPrompt(persona *model.Persona, scenario *model.Scenario) string {
	var b strings.Builder
	b.WriteString("You are role-playing a user talking to an AI assistant. Stay in character and never reveal that you are simulated.\n")
	fmt.Fprintf(&b, "\n# Persona: %s\n", persona.Name)
	if persona.Description != "" {
		b.WriteString(persona.Description)
		b.WriteString("\n")
	}
	if persona.SystemPrompt != "" {
		fmt.Fprintf(&b, "\n%s\n", persona.SystemPrompt)
	}
	if scenario != nil && scenario.Instructions != "" {
		fmt.Fprintf(&b, "\n# Scenario\n%s\n", scenario.Instructions)
	}
	b.WriteString("\nReply with the next user message only.")
	return b.String()
}

// BuildMessages 构造模拟器的输入
//
// 角色互换：被测助手的消息作为 user，模拟用户自己发过的消息作为 assistant。
// 工具消息、系统消息和没有文本的消息不发送。
func BuildMessages(persona *model.Persona, scenario *model.Scenario, transcript []model.Message) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: SystemPrompt(persona, scenario)}}
	for _, m := range transcript {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case model.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case model.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	if msgs[len(msgs)-1].Role != llm.RoleUser {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: openingPrompt})
	}
	return msgs
}
