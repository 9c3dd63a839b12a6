package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"agents-eval/internal/app"
	"agents-eval/internal/processor"
	"agents-eval/internal/runs"
	"agents-eval/internal/shared/instancelock"
	"agents-eval/internal/shared/model"
)

func newRunCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create, process and inspect runs",
		Long: `Manage evaluation runs.

Available commands:
  create     - Create one run per scenario x persona of an eval
  playground - Create a single run outside any eval
  process    - Process queued runs until none are left
  watch      - Keep processing runs until interrupted
  retry      - Re-queue a run that ended in error
  list       - List runs
  get        - Show a run with its transcript
  delete     - Delete a run`,
	}
	cmd.AddCommand(
		newRunCreateCmd(c),
		newRunPlaygroundCmd(c),
		newRunProcessCmd(c),
		newRunWatchCmd(c),
		newRunRetryCmd(c),
		newRunListCmd(c),
		newRunGetCmd(c),
		newRunDeleteCmd(c),
	)
	return cmd
}

func newRunCreateCmd(c *cli) *cobra.Command {
	var (
		evalID  string
		process bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an execution of an eval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.ensureApp(ctx)
			if err != nil {
				return err
			}
			exec, created, err := a.Runs.CreateForEval(ctx, evalID)
			if err != nil {
				return err
			}
			if c.output == "table" {
				fmt.Fprintf(c.out, "Execution #%d (%s) created with %d runs\n", exec.Number, exec.ID, len(created))
			}
			if process {
				if _, err := c.drain(ctx); err != nil {
					return err
				}
				created, err = a.Runs.List(ctx, runs.ListFilter{ExecutionID: exec.ID})
				if err != nil {
					return err
				}
			}
			return c.printRuns(created)
		},
	}
	cmd.Flags().StringVar(&evalID, "eval", "", "eval id")
	cmd.Flags().BoolVar(&process, "process", false, "process the created runs before returning")
	cmd.MarkFlagRequired("eval")
	return cmd
}

func newRunPlaygroundCmd(c *cli) *cobra.Command {
	var (
		req     runs.PlaygroundRequest
		process bool
	)
	cmd := &cobra.Command{
		Use:   "playground",
		Short: "Create a single run outside any eval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.ensureApp(ctx)
			if err != nil {
				return err
			}
			run, err := a.Runs.CreatePlayground(ctx, req)
			if err != nil {
				return err
			}
			if process {
				if _, err := c.drain(ctx); err != nil {
					return err
				}
				if run, err = a.Runs.Get(ctx, run.ID); err != nil {
					return err
				}
			}
			return c.printRun(run)
		},
	}
	cmd.Flags().StringVar(&req.ScenarioID, "scenario", "", "scenario id")
	cmd.Flags().StringVar(&req.ConnectorID, "connector", "", "connector id")
	cmd.Flags().StringVar(&req.PersonaID, "persona", "", "persona id (optional)")
	cmd.Flags().BoolVar(&process, "process", false, "process the run before returning")
	cmd.MarkFlagRequired("scenario")
	cmd.MarkFlagRequired("connector")
	return cmd
}

// drainStats process 命令的统计
type drainStats struct {
	completed atomic.Int64
	failed    atomic.Int64
}

// drain 反复认领 queued Run 并等待执行结束，直到没有可认领的 Run
func (c *cli) drain(ctx context.Context) (*drainStats, error) {
	a, err := c.ensureApp(ctx)
	if err != nil {
		return nil, err
	}
	lease, err := lockProcessor(ctx, a)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	stats := &drainStats{}
	proc := a.NewProcessor(processor.Config{
		OnRunComplete: func(*model.Run) { stats.completed.Add(1) },
		OnRunError:    func(*model.Run, error) { stats.failed.Add(1) },
	})
	for {
		n, err := proc.ProcessOnce(ctx)
		if err != nil {
			proc.Wait()
			return stats, err
		}
		proc.Wait()
		if n == 0 {
			return stats, nil
		}
	}
}

// lockProcessor 获取单实例锁，已被其他处理器持有时直接返回错误
func lockProcessor(ctx context.Context, a *app.App) (instancelock.Lease, error) {
	lease, err := a.Infra.Locker.TryAcquire(ctx)
	if err != nil {
		if errors.Is(err, instancelock.ErrHeld) {
			return nil, fmt.Errorf("another processor is already running")
		}
		return nil, err
	}
	return lease, nil
}

func newRunProcessCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process queued runs until none are left",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.drain(cmd.Context())
			if err != nil {
				return err
			}
			summary := map[string]int64{
				"completed": stats.completed.Load(),
				"error":     stats.failed.Load(),
			}
			if c.output == "json" {
				return c.printJSON(summary)
			}
			fmt.Fprintf(c.out, "Processed %d runs: %d completed, %d error\n",
				summary["completed"]+summary["error"], summary["completed"], summary["error"])
			return nil
		},
	}
}

func newRunWatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep processing runs until interrupted",
		Long: `Start the run processor in the foreground.

When etcd is configured only one processor may run at a time; watch exits
immediately if another instance holds the lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.ensureApp(ctx)
			if err != nil {
				return err
			}
			lease, err := lockProcessor(ctx, a)
			if err != nil {
				return err
			}
			defer lease.Release()

			proc := a.NewProcessor(processor.Config{})
			proc.Start(ctx)
			fmt.Fprintln(c.out, "Processing runs, press Ctrl+C to stop")

			select {
			case <-ctx.Done():
			case <-lease.Done():
				fmt.Fprintln(c.out, "Processor lock lost, stopping")
			}
			proc.Stop()
			return nil
		},
	}
}

func newRunRetryCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Re-queue a run that ended in error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.ensureApp(ctx)
			if err != nil {
				return err
			}
			run, err := a.Runs.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printRun(run)
		},
	}
}

func newRunListCmd(c *cli) *cobra.Command {
	var (
		f      runs.ListFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.ensureApp(ctx)
			if err != nil {
				return err
			}
			for _, s := range strings.Split(status, ",") {
				if s = strings.TrimSpace(s); s != "" {
					f.Statuses = append(f.Statuses, model.RunStatus(s))
				}
			}
			list, err := a.Runs.List(ctx, f)
			if err != nil {
				return err
			}
			return c.printRuns(list)
		},
	}
	cmd.Flags().StringVar(&f.EvalID, "eval", "", "filter by eval id")
	cmd.Flags().StringVar(&f.ExecutionID, "execution", "", "filter by execution id")
	cmd.Flags().StringVar(&f.ScenarioID, "scenario", "", "filter by scenario id")
	cmd.Flags().StringVar(&status, "status", "", "comma separated statuses")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of runs")
	return cmd
}

func newRunGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run with its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.ensureApp(ctx)
			if err != nil {
				return err
			}
			run, err := a.Runs.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printRun(run)
		},
	}
}

func newRunDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.ensureApp(ctx)
			if err != nil {
				return err
			}
			if err := a.Runs.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Run %s deleted\n", args[0])
			return nil
		},
	}
}
