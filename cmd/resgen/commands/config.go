package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/resgen/pkg/config"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the settings file",
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigManager() (*config.Manager, *telemetry.Telemetry, error) {
	tel, err := newTelemetry()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return config.NewManager(configPath, tel.Logger), tel, nil
}

func newConfigInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default settings file",
		Long: `Write the default settings to the settings file, replacing any existing
content. A .cue path is written as JSON, which CUE reads natively.`,
		Example: `  # Reset resgen.yaml to the defaults
  resgen config init

  # Create a CUE settings file
  resgen config init --config resgen.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, tel, err := newConfigManager()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			if err := manager.Regenerate(); err != nil {
				return err
			}
			fmt.Printf("Wrote default settings to %s\n", manager.Path())
			return nil
		},
	}

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, tel, err := newConfigManager()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			settings := manager.Load()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), settings)
			}

			data, err := config.Marshal(config.DefaultPath, settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the settings file without falling back to defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, tel, err := newConfigManager()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			if _, err := manager.Read(); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", manager.Path())
			return nil
		},
	}

	return cmd
}
