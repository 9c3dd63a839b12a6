package evaluator

import (
	"context"
	"fmt"
	"sort"

	"agents-eval/internal/shared/model"
)

// Score 执行自动评估器和场景挂载的评估器
//
// 顺序：先按类型排序的自动评估器（场景已显式挂载的除外），再按场景中的顺序执行挂载的评估器。
// 单个评估器出错（包括 panic、未知类型、配置不合法）只影响它自己的结果。
func (r *Registry) Score(ctx context.Context, in Input, refs []model.EvaluatorRef) []model.EvaluatorResult {
	attached := make(map[string]bool, len(refs))
	for _, ref := range refs {
		attached[ref.Type] = true
	}

	r.mu.RLock()
	var auto []*entry
	for _, e := range r.entries {
		if e.def.Auto && !attached[e.def.Type] {
			auto = append(auto, e)
		}
	}
	r.mu.RUnlock()
	sort.Slice(auto, func(i, j int) bool { return auto[i].def.Type < auto[j].def.Type })

	results := make([]model.EvaluatorResult, 0, len(auto)+len(refs))
	for _, e := range auto {
		results = append(results, e.run(ctx, in, nil))
	}
	for _, ref := range refs {
		r.mu.RLock()
		e, ok := r.entries[ref.Type]
		r.mu.RUnlock()
		if !ok {
			results = append(results, model.EvaluatorResult{
				Type:  ref.Type,
				Label: ref.Type,
				Error: fmt.Sprintf("unknown evaluator type %q", ref.Type),
			})
			continue
		}
		results = append(results, e.run(ctx, in, ref.Config))
	}
	return results
}

func (e *entry) run(ctx context.Context, in Input, config map[string]any) (result model.EvaluatorResult) {
	result = model.EvaluatorResult{Type: e.def.Type, Label: e.def.Label, Kind: e.def.Kind}

	defer func() {
		if p := recover(); p != nil {
			result.Passed, result.Value = nil, nil
			result.Error = fmt.Sprintf("panic: %v", p)
		}
	}()

	cfg, err := e.normalize(config)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	out, err := e.def.Evaluate(ctx, in, cfg)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Passed = out.Passed
	result.Value = out.Value
	result.Reason = out.Reason
	return result
}
