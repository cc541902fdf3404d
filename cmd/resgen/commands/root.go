package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath    string
	verbose       bool
	jsonOutput    bool
	traceExporter string
	otlpEndpoint  string
	logCaller     bool

	appVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "resgen",
		Short: "resgen - artifact generation harness",
		Long: `resgen discovers artifact generators and runs them against an output
directory, reporting how many artifacts each one created or changed.

Generators come from three places:
  - builtin providers compiled into resgen
  - Starlark scripts (*.star) in the configured script directories
  - WebAssembly modules (*.wasm) in the configured wasm directories

A failing generator never stops the others from running.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "resgen.yaml", "settings file path (.yaml or .cue)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP gRPC collector endpoint")
	rootCmd.PersistentFlags().BoolVar(&logCaller, "log-caller", false, "add file:line of the caller to log entries")

	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
