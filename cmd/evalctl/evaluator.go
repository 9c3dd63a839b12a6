package main

import (
	"github.com/spf13/cobra"
)

func newEvaluatorCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluator",
		Short: "Inspect registered evaluators",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List builtin and custom evaluators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			return c.printEvaluators(a.Evaluators.List())
		},
	})
	return cmd
}
