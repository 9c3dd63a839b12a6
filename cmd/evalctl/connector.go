package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConnectorCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Inspect agent connectors",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test <connector-id>",
		Short: "Send a test message to a connector",
		Long: `Send a single test message through the connector's strategy and
print the agent's reply. A failing test exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.ensureApp(ctx)
			if err != nil {
				return err
			}
			msg, err := a.Runs.TestConnector(ctx, args[0])
			if err != nil {
				return err
			}
			if c.output == "json" {
				return c.printJSON(map[string]interface{}{"ok": true, "message": msg})
			}
			fmt.Fprintln(c.out, msg)
			return nil
		},
	})
	return cmd
}
