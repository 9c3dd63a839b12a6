// Package judge 用 LLM 判断对话是否满足成功/失败条件
//
// 提示词只由对话记录和条件决定，温度固定为 0；
// 模型本身的不确定性不在这里处理。
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agents-eval/internal/shared/model"
	"agents-eval/pkg/llm"
)

const systemPrompt = `You are an impartial judge evaluating a conversation between a USER and an AI ASSISTANT.
Decide whether the criterion below is met by the conversation so far.
Respond with a single JSON object and nothing else:
{"success": true or false, "reason": "one or two sentences"}`

// Verdict 评判结论
type Verdict struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// Judge 条件评判器
type Judge struct {
	client llm.Client
	model  string
}

// New 创建评判器
func New(client llm.Client, model string) *Judge {
	return &Judge{client: client, model: model}
}

// Evaluate 判断对话是否满足条件
func (j *Judge) Evaluate(ctx context.Context, transcript []model.Message, criterion string) (Verdict, error) {
	if strings.TrimSpace(criterion) == "" {
		return Verdict{}, fmt.Errorf("judge: criterion is empty")
	}
	resp, err := j.client.Complete(ctx, llm.Request{
		Model:       j.model,
		Messages:    BuildPrompt(transcript, criterion),
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("judge criterion: %w", err)
	}
	v, err := ParseVerdict(resp.Content)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge criterion: %w", err)
	}
	return v, nil
}

// BuildPrompt 构造评判提示词
func BuildPrompt(transcript []model.Message, criterion string) []llm.Message {
	var b strings.Builder
	b.WriteString("# Conversation\n")
	b.WriteString(RenderTranscript(transcript))
	b.WriteString("\n# Criterion\n")
	b.WriteString(strings.TrimSpace(criterion))
	b.WriteString("\n")
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// RenderTranscript 把对话渲染成纯文本
func RenderTranscript(transcript []model.Message) string {
	if len(transcript) == 0 {
		return "(empty)\n"
	}
	var b strings.Builder
	for i, m := range transcript {
		fmt.Fprintf(&b, "[%d] %s", i+1, strings.ToUpper(string(m.Role)))
		if m.Name != "" {
			fmt.Fprintf(&b, " (%s)", m.Name)
		}
		b.WriteString(": ")
		b.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "\n    -> tool call %s(%s)", tc.Function.Name, tc.Function.Arguments)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ParseVerdict 解析模型输出，容忍 ``` 代码块和前后多余文本
func ParseVerdict(text string) (Verdict, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("no JSON object in judge reply: %q", truncate(text, 200))
	}

	var raw struct {
		Success any    `json:"success"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return Verdict{}, fmt.Errorf("invalid judge reply: %w", err)
	}

	v := Verdict{Reason: raw.Reason}
	switch val := raw.Success.(type) {
	case bool:
		v.Success = val
	case string:
		v.Success = strings.EqualFold(val, "true") || strings.EqualFold(val, "yes")
	case nil:
		return Verdict{}, fmt.Errorf("judge reply missing success field")
	default:
		return Verdict{}, fmt.Errorf("judge reply has invalid success field %v", val)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
