package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agents-eval/internal/shared/model"
)

// 内置评估器类型
const (
	TypeTokenUsage    = "token_usage"
	TypeToolCallCount = "tool_call_count"
	TypeLatency       = "latency"
	TypeTurnCount     = "turn_count"
	TypeContains      = "contains"
	TypeToolCalled    = "tool_called"
	TypeMaxLatency    = "max_latency"
	TypeMaxTokens     = "max_tokens"
)

// Builtins 内置评估器定义
func Builtins() []Definition {
	return []Definition{
		{
			Type:     TypeTokenUsage,
			Label:    "Token usage",
			Kind:     model.EvaluatorKindMetric,
			Auto:     true,
			Evaluate: evalTokenUsage,
		},
		{
			Type:     TypeToolCallCount,
			Label:    "Tool call count",
			Kind:     model.EvaluatorKindMetric,
			Auto:     true,
			Evaluate: evalToolCallCount,
		},
		{
			Type:     TypeLatency,
			Label:    "Latency (ms)",
			Kind:     model.EvaluatorKindMetric,
			Auto:     true,
			Evaluate: evalLatency,
		},
		{
			Type:     TypeTurnCount,
			Label:    "Turn count",
			Kind:     model.EvaluatorKindMetric,
			Evaluate: evalTurnCount,
		},
		{
			Type:  TypeContains,
			Label: "Response contains text",
			Kind:  model.EvaluatorKindAssertion,
			ConfigSchema: `{
				"type": "object",
				"required": ["text"],
				"properties": {
					"text": {"type": "string", "minLength": 1},
					"role": {"type": "string", "enum": ["user", "assistant", "tool", "system", "any"]},
					"caseSensitive": {"type": "boolean"}
				},
				"additionalProperties": false
			}`,
			Evaluate: evalContains,
		},
		{
			Type:  TypeToolCalled,
			Label: "Tool was called",
			Kind:  model.EvaluatorKindAssertion,
			ConfigSchema: `{
				"type": "object",
				"required": ["name"],
				"properties": {"name": {"type": "string", "minLength": 1}},
				"additionalProperties": false
			}`,
			Evaluate: evalToolCalled,
		},
		{
			Type:  TypeMaxLatency,
			Label: "Latency under limit",
			Kind:  model.EvaluatorKindAssertion,
			ConfigSchema: `{
				"type": "object",
				"required": ["maxMs"],
				"properties": {"maxMs": {"type": "number", "minimum": 0}},
				"additionalProperties": false
			}`,
			Evaluate: evalMaxLatency,
		},
		{
			Type:  TypeMaxTokens,
			Label: "Token usage under limit",
			Kind:  model.EvaluatorKindAssertion,
			ConfigSchema: `{
				"type": "object",
				"required": ["max"],
				"properties": {"max": {"type": "integer", "minimum": 0}},
				"additionalProperties": false
			}`,
			Evaluate: evalMaxTokens,
		},
	}
}

func metric(v float64, reason string) Outcome {
	return Outcome{Value: &v, Reason: reason}
}

func assertion(passed bool, reason string) Outcome {
	return Outcome{Passed: &passed, Reason: reason}
}

// decodeConfig 把已校验的配置解码到结构体
func decodeConfig(config map[string]any, out any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func evalTokenUsage(_ context.Context, in Input, _ map[string]any) (Outcome, error) {
	u := in.Metadata.TokenUsage
	return metric(float64(u.Total), fmt.Sprintf("input=%d output=%d total=%d", u.Input, u.Output, u.Total)), nil
}

func evalToolCallCount(_ context.Context, in Input, _ map[string]any) (Outcome, error) {
	n := 0
	for _, m := range in.Messages {
		n += len(m.ToolCalls)
	}
	return metric(float64(n), ""), nil
}

func evalLatency(_ context.Context, in Input, _ map[string]any) (Outcome, error) {
	return metric(float64(in.Metadata.LatencyMs), ""), nil
}

func evalTurnCount(_ context.Context, in Input, _ map[string]any) (Outcome, error) {
	turns := in.Metadata.Turns
	if turns == 0 {
		for _, m := range in.Messages {
			if m.Role == model.RoleUser {
				turns++
			}
		}
	}
	return metric(float64(turns), ""), nil
}

func evalContains(_ context.Context, in Input, config map[string]any) (Outcome, error) {
	var cfg struct {
		Text          string `json:"text"`
		Role          string `json:"role"`
		CaseSensitive bool   `json:"caseSensitive"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return Outcome{}, err
	}
	role := cfg.Role
	if role == "" {
		role = string(model.RoleAssistant)
	}

	needle := cfg.Text
	if !cfg.CaseSensitive {
		needle = strings.ToLower(needle)
	}
	for _, m := range in.Messages {
		if role != "any" && string(m.Role) != role {
			continue
		}
		hay := m.Content
		if !cfg.CaseSensitive {
			hay = strings.ToLower(hay)
		}
		if strings.Contains(hay, needle) {
			return assertion(true, fmt.Sprintf("found %q in %s message", cfg.Text, m.Role)), nil
		}
	}
	return assertion(false, fmt.Sprintf("no %s message contains %q", role, cfg.Text)), nil
}

func evalToolCalled(_ context.Context, in Input, config map[string]any) (Outcome, error) {
	var cfg struct {
		Name string `json:"name"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return Outcome{}, err
	}
	for _, m := range in.Messages {
		for _, tc := range m.ToolCalls {
			if tc.Function.Name == cfg.Name {
				return assertion(true, fmt.Sprintf("tool %q was called", cfg.Name)), nil
			}
		}
	}
	return assertion(false, fmt.Sprintf("tool %q was not called", cfg.Name)), nil
}

func evalMaxLatency(_ context.Context, in Input, config map[string]any) (Outcome, error) {
	var cfg struct {
		MaxMs float64 `json:"maxMs"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return Outcome{}, err
	}
	got := float64(in.Metadata.LatencyMs)
	return assertion(got <= cfg.MaxMs, fmt.Sprintf("latency %.0fms, limit %.0fms", got, cfg.MaxMs)), nil
}

func evalMaxTokens(_ context.Context, in Input, config map[string]any) (Outcome, error) {
	var cfg struct {
		Max int `json:"max"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return Outcome{}, err
	}
	got := in.Metadata.TokenUsage.Total
	return assertion(got <= cfg.Max, fmt.Sprintf("used %d tokens, limit %d", got, cfg.Max)), nil
}
