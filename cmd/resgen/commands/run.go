package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/resgen/pkg/engine"
)

func newRunCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "run <identity>",
		Short: "Run a single provider",
		Long: `Run one provider by identity without running discovery.

Identities have the form <source>:<name>, as shown by "resgen list".`,
		Example: `  # Run the builtin artifact index
  resgen run builtin:artifact-index

  # Run a script provider
  resgen run script:docs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := engine.ParseIdentity(args[0])
			if err != nil {
				return err
			}

			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			result := a.orchestrator.RunSingleProvider(ctx, id, name)
			if !result.OK() {
				return fmt.Errorf("provider %s failed: %w", id, result.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name used in the log")

	return cmd
}
