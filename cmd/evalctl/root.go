package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"agents-eval/internal/app"
	"agents-eval/internal/config"
	"agents-eval/internal/shared/infra"
	"agents-eval/pkg/logging"
)

// bootstrapFunc 按配置组装流水线，返回的 cleanup 负责释放基础设施
type bootstrapFunc func(ctx context.Context, cfg *config.Config) (*app.App, func(), error)

// defaultBootstrap 打开配置中的基础设施，日志输出到 stderr 避免污染命令输出
func defaultBootstrap(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	inf, err := infra.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    "stderr",
		Component: "evalctl",
	})
	a, err := app.New(cfg, inf, logger, app.Options{})
	if err != nil {
		inf.Close()
		return nil, nil, err
	}
	return a, func() { inf.Close() }, nil
}

// cli 命令共享状态
type cli struct {
	configDir string
	output    string
	project   string

	bootstrap bootstrapFunc
	loadCfg   func() *config.Config
	out       io.Writer

	app     *app.App
	cleanup func()
}

// execute 执行命令并释放基础设施
func execute(c *cli, args []string) error {
	root := newRootCmdWith(c)
	root.SetArgs(args)
	defer c.close()
	return root.Execute()
}

func (c *cli) close() {
	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}
}

func newRootCmdWith(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "evalctl",
		Short: "Run and inspect agent evaluations",
		Long: `evalctl creates evaluation runs, drives them through the conversation
pipeline and inspects their results.

It talks to the configured storage directly, so it can drain queued runs
without a running eval-server.`,
		// 参数错误之外不打印 usage
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch c.output {
			case "table", "json":
			default:
				return fmt.Errorf("unsupported output format %q (table|json)", c.output)
			}
			if c.out == nil {
				c.out = cmd.OutOrStdout()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.configDir, "config", "", "configuration directory (overrides CONFIG_DIR)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "output format: table or json")
	root.PersistentFlags().StringVar(&c.project, "project", "", "project scope (overrides processor.project_id)")

	root.AddCommand(newRunCmd(c))
	root.AddCommand(newConnectorCmd(c))
	root.AddCommand(newEvaluatorCmd(c))
	root.AddCommand(newTokenCmd(c))
	return root
}

// loadConfig 加载配置并应用命令行覆盖
func (c *cli) loadConfig() *config.Config {
	if c.configDir != "" {
		config.SetConfigDir(c.configDir)
	}
	cfg := c.loadCfg()
	if c.project != "" {
		cfg.Processor.ProjectID = c.project
	}
	return cfg
}

// ensureApp 延迟组装，只有需要存储的命令才会连接基础设施
func (c *cli) ensureApp(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, cleanup, err := c.bootstrap(ctx, c.loadConfig())
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	c.app = a
	c.cleanup = cleanup
	return a, nil
}
