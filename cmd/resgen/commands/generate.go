package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run every provider",
		Long: `Discover providers afresh and run each of them in discovery order.

A provider that fails is reported and the remaining providers still run.
The command exits non-zero if any provider failed.`,
		Example: `  # Generate all artifacts
  resgen generate

  # Generate and stream lifecycle events as JSON lines to stderr
  resgen generate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			batch := a.orchestrator.RunAllProviders(ctx)
			if failed := batch.Failed(); failed > 0 {
				return fmt.Errorf("%d of %d providers failed", failed, len(batch.Results))
			}
			return nil
		},
	}

	return cmd
}
