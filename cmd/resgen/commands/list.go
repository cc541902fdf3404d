package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Discover and list available providers",
		Long: `Run a discovery pass over every provider source and list the providers
found, in the order they would run.

Sources that cannot be fully enumerated (for example a script with a syntax
error) are reported; the providers they did yield are still listed.`,
		Example: `  # List providers
  resgen list

  # List providers as JSON
  resgen list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			descs := a.orchestrator.RefreshProviders(ctx)

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, descs)
			}

			if len(descs) == 0 {
				fmt.Fprintln(out, "No providers found.")
				return nil
			}
			for _, d := range descs {
				if d.Description != "" {
					fmt.Fprintf(out, "%-40s %s\n", d.Identity, d.Description)
				} else {
					fmt.Fprintln(out, d.Identity)
				}
			}
			return nil
		},
	}

	return cmd
}
