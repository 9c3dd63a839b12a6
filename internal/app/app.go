// Package app 组装评测流水线
//
// eval-server 和 evalctl 共用同一套装配逻辑：
//
//	config → infra → LLM 客户端 → 模拟器 / 评判器 → 对话驱动 → 处理器 / 运行服务
package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"agents-eval/internal/config"
	"agents-eval/internal/conversation"
	"agents-eval/internal/evaluator"
	"agents-eval/internal/judge"
	"agents-eval/internal/processor"
	"agents-eval/internal/runs"
	"agents-eval/internal/shared/infra"
	"agents-eval/internal/simulator"
	"agents-eval/pkg/connector"
	"agents-eval/pkg/connector/builtin"
	"agents-eval/pkg/llm"
	"agents-eval/pkg/logging"
)

// MetricsNamespace Prometheus 指标前缀
const MetricsNamespace = "agents_eval"

// App 装配好的流水线组件
type App struct {
	Config     *config.Config
	Infra      *infra.Infrastructure
	Logger     *logging.Logger
	LLM        llm.Client
	Connectors *connector.Client
	Evaluators *evaluator.Registry
	Driver     *conversation.Driver
	Runs       *runs.Service
	Metrics    *processor.Metrics
}

// Options 装配选项，零值使用配置中的实现
type Options struct {
	// LLM 替换模拟器和评判器使用的客户端
	LLM llm.Client
	// Evaluators 宿主在启动时注册的自定义评估器
	Evaluators []evaluator.Definition
	// Registerer 处理器指标注册位置，为空时不采集指标
	Registerer prometheus.Registerer
}

// New 组装流水线
func New(cfg *config.Config, inf *infra.Infrastructure, logger *logging.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	client := opts.LLM
	if client == nil {
		client = llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout, cfg.LLM.Mock)
	}

	evaluators := evaluator.NewDefaultRegistry()
	if err := evaluators.RegisterAll(opts.Evaluators); err != nil {
		return nil, err
	}

	connectors := connector.NewClient(builtin.Default(), cfg.Connector.Timeout)

	driver := conversation.NewDriver(
		simulator.New(client, cfg.LLM.SimulatorModel),
		judge.New(client, cfg.LLM.JudgeModel),
		connectors,
		evaluators,
		conversation.Config{
			MaxTurnsCap:      cfg.Processor.MaxTurnsCap,
			UnparseableLimit: cfg.Processor.UnparseableLimit,
		},
	)

	a := &App{
		Config:     cfg,
		Infra:      inf,
		Logger:     logger,
		LLM:        client,
		Connectors: connectors,
		Evaluators: evaluators,
		Driver:     driver,
		Runs: runs.NewService(inf.Repos, runs.Options{
			Queue:      inf.Queue,
			EventBus:   inf.EventBus,
			Archive:    inf.Archive,
			Connectors: connectors,
			Logger:     logger,
		}),
	}
	if opts.Registerer != nil {
		a.Metrics = processor.NewMetrics(opts.Registerer, MetricsNamespace)
	}
	return a, nil
}

// NewProcessor 创建处理器，回调可为空
func (a *App) NewProcessor(hooks processor.Config) *processor.Processor {
	p := a.Config.Processor
	hooks.PollInterval = p.PollInterval
	hooks.MaxConcurrent = p.MaxConcurrent
	hooks.ProjectID = p.ProjectID
	hooks.HeartbeatInterval = p.HeartbeatInterval
	hooks.StaleThreshold = p.StaleThreshold
	hooks.EventBus = a.Infra.EventBus
	hooks.Queue = a.Infra.Queue
	hooks.Archive = a.Infra.Archive
	hooks.Metrics = a.Metrics
	hooks.Logger = a.Logger
	return processor.New(a.Infra.Repos, a.Driver, hooks)
}

// NewLogger 按配置创建日志器
func NewLogger(cfg *config.Config, component string) *logging.Logger {
	return logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    "stdout",
		Component: component,
	})
}
