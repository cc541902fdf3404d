package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/resgen/pkg/providers/registry"
	"github.com/openfroyo/resgen/pkg/providers/script"
	"github.com/openfroyo/resgen/pkg/providers/wasm"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var (
		metricsAddr string
		generate    bool
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh providers when provider directories change",
		Long: `Watch the script and wasm directories and run a discovery pass after
every burst of changes. With --generate every change also runs all providers.

Prometheus metrics can be exposed while watching.`,
		Example: `  # Refresh the provider list on change
  resgen watch

  # Regenerate on change and expose metrics
  resgen watch --generate --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			logger := a.tel.Logger.NewComponentLogger("watch")

			if metricsAddr != "" {
				srv := a.tel.Metrics.NewServer(metricsAddr)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.WithError(err).Error("Metrics server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Infof("Serving metrics on %s", metricsAddr)
			}

			a.events.Subscribe(func(e telemetry.Event) {
				logger.WithRunID(e.RunID).Info(e.Message)
			}, telemetry.FilterByType(telemetry.EventTypeProvidersDiscovered, telemetry.EventTypeRunCompleted))

			onChange := func(ctx context.Context) {
				if generate {
					a.orchestrator.RunAllProviders(ctx)
				} else {
					a.orchestrator.RefreshProviders(ctx)
				}
				if err := a.tel.Tracer.ForceFlush(ctx); err != nil {
					logger.WithError(err).Warn("Failed to flush spans")
				}
			}
			onChange(ctx)

			dirs := append(append([]string{}, a.settings.ScriptDirs...), a.settings.WasmDirs...)
			watcher := registry.NewWatcher(a.tel.Logger, dirs, script.Extension, wasm.Extension, ".yaml")
			watcher.SetDebounce(debounce)
			if err := watcher.Watch(ctx, onChange); err != nil {
				return err
			}
			defer watcher.Stop()

			<-ctx.Done()
			logger.Info("Stopped watching")
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on")
	cmd.Flags().BoolVar(&generate, "generate", false, "run all providers after every change")
	cmd.Flags().DurationVar(&debounce, "debounce", registry.DefaultDebounce, "quiet period before reacting to changes")

	return cmd
}
