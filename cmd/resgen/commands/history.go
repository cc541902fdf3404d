package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/resgen/pkg/stores"
)

var errNoHistory = errors.New("run history is disabled (history_path is empty)")

func newHistoryCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded in the history database, most recent first.

Use "resgen history show <run-id>" for per-provider results and the saved log.`,
		Example: `  # Show the last 10 runs
  resgen history --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if a.store == nil {
				return errNoHistory
			}

			runs, err := a.store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %s  %-10s  %-9s  providers=%d new=%d changed=%d failed=%d  %.3fs\n",
					r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Operation, r.Status,
					r.Providers, r.TotalCreated, r.TotalChanged, r.Failed, r.Duration().Seconds())
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if a.store == nil {
				return errNoHistory
			}

			run, err := a.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			lines, err := a.store.GetLog(ctx, run.ID, a.settings.LogFile)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), struct {
					*stores.Run
					Log []string `json:"log"`
				}{run, lines})
			}

			fmt.Printf("Run:       %s\n", run.ID)
			fmt.Printf("Operation: %s\n", run.Operation)
			fmt.Printf("Status:    %s\n", run.Status)
			fmt.Printf("Started:   %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("Duration:  %.3fs\n\n", run.Duration().Seconds())

			for _, r := range run.Results {
				if r.Error != "" {
					fmt.Printf("  %-40s FAILED  %s\n", r.Identity, r.Error)
					continue
				}
				fmt.Printf("  %-40s new=%d changed=%d\n", r.Identity, r.Created, r.Changed)
			}

			if len(lines) > 0 {
				fmt.Println()
				for _, line := range lines {
					fmt.Println(line)
				}
			}
			return nil
		},
	}

	return cmd
}
