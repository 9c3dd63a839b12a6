// Package evaluator 运行结束后的评估器（指标和断言）
//
// 评估器只读取运行收集到的数据（消息列表和 RunMetadata），不调用外部服务。
// 宿主在启动时通过 Register / RegisterAll 注册评估器，内置评估器由 NewDefaultRegistry 注册。
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"agents-eval/internal/shared/model"
)

// Input 评估器输入
type Input struct {
	Messages []model.Message
	Metadata model.RunMetadata
}

// Outcome 评估器输出，assertion 填 Passed，metric 填 Value
type Outcome struct {
	Passed *bool
	Value  *float64
	Reason string
}

// EvaluateFunc 评估函数，config 已通过 schema 校验
type EvaluateFunc func(ctx context.Context, in Input, config map[string]any) (Outcome, error)

// Definition 评估器定义
type Definition struct {
	Type  string
	Label string
	Kind  model.EvaluatorKind
	// ConfigSchema JSON Schema，为空表示不接受配置
	ConfigSchema string
	// Auto 为 true 时每次运行都会执行
	Auto     bool
	Evaluate EvaluateFunc
}

// Info 对外展示的评估器信息
type Info struct {
	Type         string              `json:"type"`
	Label        string              `json:"label"`
	Kind         model.EvaluatorKind `json:"kind"`
	ConfigSchema map[string]any      `json:"config_schema,omitempty"`
	Builtin      bool                `json:"builtin"`
	Auto         bool                `json:"auto"`
}

type entry struct {
	def     Definition
	schema  *openapi3.Schema
	builtin bool
}

// Registry 评估器注册表
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// NewDefaultRegistry 创建注册了内置评估器的注册表
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range Builtins() {
		if err := r.Register(def, true); err != nil {
			panic(err)
		}
	}
	return r
}

// Register 注册评估器，类型重复时返回错误
func (r *Registry) Register(def Definition, builtin bool) error {
	if def.Type == "" {
		return fmt.Errorf("evaluator type is empty")
	}
	if def.Evaluate == nil {
		return fmt.Errorf("evaluator %q has no evaluate function", def.Type)
	}
	if def.Kind != model.EvaluatorKindAssertion && def.Kind != model.EvaluatorKindMetric {
		return fmt.Errorf("evaluator %q has invalid kind %q", def.Type, def.Kind)
	}

	var schema *openapi3.Schema
	if def.ConfigSchema != "" {
		schema = &openapi3.Schema{}
		if err := json.Unmarshal([]byte(def.ConfigSchema), schema); err != nil {
			return fmt.Errorf("evaluator %q: invalid config schema: %w", def.Type, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[def.Type]; ok {
		origin := "custom"
		if existing.builtin {
			origin = "builtin"
		}
		return fmt.Errorf("evaluator type %q already registered (%s)", def.Type, origin)
	}
	r.entries[def.Type] = &entry{def: def, schema: schema, builtin: builtin}
	return nil
}

// RegisterAll 批量注册自定义评估器，遇到第一个错误即返回
func (r *Registry) RegisterAll(defs []Definition) error {
	for _, def := range defs {
		if err := r.Register(def, false); err != nil {
			return err
		}
	}
	return nil
}

// Get 按类型查找
func (r *Registry) Get(typ string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// List 所有评估器，按类型排序
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		info := Info{
			Type:    e.def.Type,
			Label:   e.def.Label,
			Kind:    e.def.Kind,
			Builtin: e.builtin,
			Auto:    e.def.Auto,
		}
		if e.def.ConfigSchema != "" {
			_ = json.Unmarshal([]byte(e.def.ConfigSchema), &info.ConfigSchema)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// ValidateConfig 按评估器的 schema 校验配置
func (r *Registry) ValidateConfig(typ string, config map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[typ]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown evaluator type %q", typ)
	}
	_, err := e.normalize(config)
	return err
}

// normalize 把配置转成 JSON 值并校验
func (e *entry) normalize(config map[string]any) (map[string]any, error) {
	if config == nil {
		config = map[string]any{}
	}
	data, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if e.schema != nil {
		if err := e.schema.VisitJSON(value); err != nil {
			return nil, fmt.Errorf("invalid config for evaluator %q: %w", e.def.Type, err)
		}
	}
	return value, nil
}
