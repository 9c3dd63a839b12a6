// Package conversation 单次运行的多轮对话驱动
//
// Driver 负责一次 Run 的完整对话：
//
//	种子消息 → [用户消息 → 调用连接器 → 检查判据] × N → 评估器打分
//
// 模拟器、评判器、连接器和评估器都通过接口注入，Driver 本身不做任何网络调用。
// 外部调用失败直接返回 error，由处理器记录为运行错误；
// 连接器响应无法解析时按空结果处理，连续次数超过上限才返回 error。
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agents-eval/internal/evaluator"
	"agents-eval/internal/judge"
	"agents-eval/internal/shared/model"
	"agents-eval/pkg/connector"
)

const (
	// DefaultMaxTurnsCap 场景未设置轮数上限但设置了判据时的安全上限
	DefaultMaxTurnsCap = 50
	// DefaultUnparseableLimit 连续无法解析的响应次数上限
	DefaultUnparseableLimit = 3

	// ReasonMaxMessages 达到上限仍未满足成功判据
	ReasonMaxMessages = "max messages reached without meeting success criteria"
	// ReasonNoInput 没有人设也没有种子用户消息
	ReasonNoInput = "nothing to send: scenario has no trailing user message and the run has no persona"

	// RunMetadata.Connector 的键
	MetaThreadID        = "thread_id"
	MetaLastUnparseable = "last_unparseable"
)

// Simulator 模拟用户
type Simulator interface {
	Next(ctx context.Context, persona *model.Persona, scenario *model.Scenario, transcript []model.Message) (model.Message, error)
}

// Judge 判据评判
type Judge interface {
	Evaluate(ctx context.Context, transcript []model.Message, criterion string) (judge.Verdict, error)
}

// ConnectorClient 连接器调用
type ConnectorClient interface {
	Invoke(ctx context.Context, conn *model.Connector, in connector.InvokeInput) (*connector.InvokeResult, error)
}

// Scorer 评估器打分
type Scorer interface {
	Score(ctx context.Context, in evaluator.Input, refs []model.EvaluatorRef) []model.EvaluatorResult
}

// Config 驱动配置
type Config struct {
	// MaxTurnsCap 场景未设置 MaxMessages 时的轮数上限，<= 0 使用默认值
	MaxTurnsCap int
	// UnparseableLimit 连续无法解析的响应达到该次数时返回错误，0 表示不限制
	UnparseableLimit int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{MaxTurnsCap: DefaultMaxTurnsCap, UnparseableLimit: DefaultUnparseableLimit}
}

// TurnFunc 每轮结束后的回调，messages 为本轮新增的消息
type TurnFunc func(turn int, messages []model.Message)

// Input 一次对话的输入
type Input struct {
	Run       *model.Run
	Scenario  *model.Scenario
	Persona   *model.Persona // 可为 nil
	Connector *model.Connector
	OnTurn    TurnFunc
}

// Outcome 对话结果
type Outcome struct {
	Messages []model.Message
	ThreadID string
	Result   model.RunResult
	Metadata model.RunMetadata
}

// Driver 对话驱动
type Driver struct {
	simulator Simulator
	judge     Judge
	connector ConnectorClient
	scorer    Scorer
	cfg       Config
}

// NewDriver 创建对话驱动，scorer 可为 nil
func NewDriver(sim Simulator, j Judge, conn ConnectorClient, scorer Scorer, cfg Config) *Driver {
	if cfg.MaxTurnsCap <= 0 {
		cfg.MaxTurnsCap = DefaultMaxTurnsCap
	}
	if cfg.UnparseableLimit < 0 {
		cfg.UnparseableLimit = 0
	}
	return &Driver{simulator: sim, judge: j, connector: conn, scorer: scorer, cfg: cfg}
}

// conversation 一次对话的可变状态
type conversation struct {
	transcript []model.Message
	delivered  map[string]bool
	threadID   string
	usage      model.TokenUsage
	latency    time.Duration
	turns      int

	unparseable    int
	unparseableRun int
	connectorMeta  map[string]any
}

// Run 执行对话直到满足终止条件
func (d *Driver) Run(ctx context.Context, in Input) (*Outcome, error) {
	if in.Run == nil || in.Scenario == nil || in.Connector == nil {
		return nil, fmt.Errorf("conversation: run, scenario and connector are required")
	}
	sc := in.Scenario

	conv := &conversation{
		transcript: seedMessages(sc.Messages),
		delivered:  make(map[string]bool),
		threadID:   in.Run.ThreadID,
	}

	seedUser := len(conv.transcript) > 0 && conv.transcript[len(conv.transcript)-1].Role == model.RoleUser
	if in.Persona == nil && !seedUser {
		return d.finish(ctx, in, conv, model.RunResult{Success: false, Reason: ReasonNoInput}, model.TerminationNoInput), nil
	}

	limit := d.turnLimit(sc, in.Persona != nil)
	mode := sc.FailureMode()

	for conv.turns < limit {
		if conv.turns > 0 || !seedUser {
			msg, err := d.simulator.Next(ctx, in.Persona, sc, conv.transcript)
			if err != nil {
				return nil, fmt.Errorf("turn %d: simulate user: %w", conv.turns+1, err)
			}
			conv.transcript = append(conv.transcript, msg)
		}
		conv.turns++

		added, err := d.exchange(ctx, in.Connector, conv)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", conv.turns, err)
		}
		if in.OnTurn != nil {
			in.OnTurn(conv.turns, added)
		}

		if sc.SuccessCriteria != "" {
			v, err := d.judge.Evaluate(ctx, conv.transcript, sc.SuccessCriteria)
			if err != nil {
				return nil, fmt.Errorf("turn %d: success criteria: %w", conv.turns, err)
			}
			if v.Success {
				return d.finish(ctx, in, conv, model.RunResult{Success: true, Reason: v.Reason}, model.TerminationSuccessCriteria), nil
			}
		}
		if sc.FailureCriteria != "" && mode == model.FailureEveryTurn {
			v, err := d.judge.Evaluate(ctx, conv.transcript, sc.FailureCriteria)
			if err != nil {
				return nil, fmt.Errorf("turn %d: failure criteria: %w", conv.turns, err)
			}
			if v.Success {
				return d.finish(ctx, in, conv, model.RunResult{Success: false, Reason: v.Reason}, model.TerminationFailureCriteria), nil
			}
		}
	}

	// 达到轮数上限
	if sc.FailureCriteria != "" && mode == model.FailureOnMaxMessages {
		v, err := d.judge.Evaluate(ctx, conv.transcript, sc.FailureCriteria)
		if err != nil {
			return nil, fmt.Errorf("final failure criteria: %w", err)
		}
		if v.Success {
			return d.finish(ctx, in, conv, model.RunResult{Success: false, Reason: v.Reason}, model.TerminationFailureCriteria), nil
		}
		if sc.SuccessCriteria == "" {
			return d.finish(ctx, in, conv, model.RunResult{Success: true, Reason: "failure criteria not met: " + v.Reason}, model.TerminationMaxMessages), nil
		}
	}
	if sc.SuccessCriteria == "" && sc.FailureCriteria != "" && mode == model.FailureEveryTurn {
		return d.finish(ctx, in, conv, model.RunResult{Success: true, Reason: "failure criteria never met"}, model.TerminationMaxMessages), nil
	}
	return d.finish(ctx, in, conv, model.RunResult{Success: false, Reason: ReasonMaxMessages}, model.TerminationMaxMessages), nil
}

// turnLimit 计算轮数上限
func (d *Driver) turnLimit(sc *model.Scenario, hasPersona bool) int {
	if !hasPersona {
		return 1
	}
	if sc.MaxMessages > 0 {
		return sc.MaxMessages
	}
	if sc.HasCriteria() {
		return d.cfg.MaxTurnsCap
	}
	return 1
}

// exchange 把当前对话发给连接器，追加新消息，返回本轮新增的消息（含用户消息）
func (d *Driver) exchange(ctx context.Context, conn *model.Connector, conv *conversation) ([]model.Message, error) {
	before := len(conv.transcript)
	if before > 0 && conv.transcript[before-1].Role == model.RoleUser {
		before--
	}

	start := time.Now()
	res, err := d.connector.Invoke(ctx, conn, connector.InvokeInput{
		Messages:       conv.transcript,
		RunID:          conv.threadID,
		SeenMessageIDs: conv.delivered,
	})
	conv.latency += time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("invoke connector %s: %w", conn.ID, err)
	}

	for _, m := range conv.transcript {
		conv.delivered[m.ID] = true
	}

	if res.Metadata.Unparseable {
		conv.unparseable++
		conv.unparseableRun++
		if d.cfg.UnparseableLimit > 0 && conv.unparseableRun >= d.cfg.UnparseableLimit {
			return nil, fmt.Errorf("connector %s returned %d consecutive unparseable responses", conn.ID, conv.unparseableRun)
		}
	} else {
		conv.unparseableRun = 0
	}

	for _, m := range res.Messages {
		if m.ID != "" {
			if conv.delivered[m.ID] {
				continue
			}
			conv.delivered[m.ID] = true
		}
		conv.transcript = append(conv.transcript, m)
	}
	if res.Metadata.ThreadID != "" {
		conv.threadID = res.Metadata.ThreadID
	}
	if res.Metadata.TokensUsage != nil {
		conv.usage.Add(*res.Metadata.TokensUsage)
	}
	conv.mergeConnectorMeta(res.Metadata)

	added := make([]model.Message, len(conv.transcript)-before)
	copy(added, conv.transcript[before:])
	return added, nil
}

// mergeConnectorMeta 累积各轮连接器元数据，同名键保留最新值
func (c *conversation) mergeConnectorMeta(md connector.ResultMetadata) {
	if md.ThreadID == "" && md.Raw == nil {
		return
	}
	if c.connectorMeta == nil {
		c.connectorMeta = make(map[string]any)
	}
	if md.ThreadID != "" {
		c.connectorMeta[MetaThreadID] = md.ThreadID
	}
	if md.Raw != nil {
		c.connectorMeta[MetaLastUnparseable] = md.Raw
	}
}

// finish 汇总元数据并运行评估器
func (d *Driver) finish(ctx context.Context, in Input, conv *conversation, result model.RunResult, reason model.TerminationReason) *Outcome {
	meta := model.RunMetadata{
		LatencyMs:         conv.latency.Milliseconds(),
		TokenUsage:        conv.usage,
		Turns:             conv.turns,
		TerminationReason: reason,
		Unparseable:       conv.unparseable,
		Connector:         conv.connectorMeta,
	}
	if d.scorer != nil {
		meta.Evaluations = d.scorer.Score(ctx, evaluator.Input{Messages: conv.transcript, Metadata: meta}, in.Scenario.Evaluators)
	}

	msgs := conv.transcript
	if msgs == nil {
		msgs = []model.Message{}
	}
	return &Outcome{
		Messages: msgs,
		ThreadID: conv.threadID,
		Result:   result,
		Metadata: meta,
	}
}

// seedMessages 复制种子消息，没有 ID 的补齐 ID 以便连接器去重
func seedMessages(seed []model.Message) []model.Message {
	out := make([]model.Message, len(seed))
	for i, m := range seed {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		out[i] = m
	}
	return out
}
