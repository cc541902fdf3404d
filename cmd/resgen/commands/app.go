package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/resgen/pkg/config"
	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/logsink"
	"github.com/openfroyo/resgen/pkg/orchestrator"
	"github.com/openfroyo/resgen/pkg/policy"
	"github.com/openfroyo/resgen/pkg/providers/registry"
	"github.com/openfroyo/resgen/pkg/providers/script"
	"github.com/openfroyo/resgen/pkg/providers/wasm"
	"github.com/openfroyo/resgen/pkg/stores"
	"github.com/openfroyo/resgen/pkg/telemetry"

	// Builtin providers register themselves
	_ "github.com/openfroyo/resgen/pkg/providers/builtin"
)

// app holds the components shared by commands.
type app struct {
	tel          *telemetry.Telemetry
	manager      *config.Manager
	settings     *config.Settings
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	store        *stores.SQLiteStore
	wasm         *wasm.Source
	events       *telemetry.EventPublisher
}

func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = appVersion
	if verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.EnableCaller = logCaller
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	if traceExporter != "" && traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = otlpEndpoint
	}
	return telemetry.NewTelemetry(cfg)
}

// newApp wires the registry, engine and orchestrator from the settings file.
// The returned context carries the telemetry. With --json, lifecycle events
// are streamed as JSON lines to the command's stderr so stdout stays a
// single JSON document.
func newApp(cmd *cobra.Command) (*app, context.Context, error) {
	ctx := cmd.Context()
	tel, err := newTelemetry()
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)
	logger := tel.Logger

	manager := config.NewManager(configPath, logger)
	settings := manager.Load()

	a := &app{
		tel:      tel,
		manager:  manager,
		settings: settings,
		wasm:     wasm.NewSource(logger, wasm.DefaultHostConfig(), settings.WasmDirs...),
		events:   telemetry.NewEventPublisher(),
	}

	a.registry = registry.New(logger,
		registry.Builtin(),
		script.NewSource(logger, settings.ScriptDirs...),
		a.wasm,
	)

	sink := logsink.New(logger.NewComponentLogger("log"))

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithOutputDir(settings.OutputPath),
	}
	if settings.PolicyPath != "" {
		admission, err := policy.LoadAdmission(ctx, settings.PolicyPath, logger)
		if err != nil {
			a.close(ctx)
			return nil, ctx, err
		}
		engineOpts = append(engineOpts, engine.WithAdmitter(admission))
	}
	eng := engine.New(a.registry, sink, engineOpts...)

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithEvents(a.events),
	}
	if jsonOutput {
		enc := json.NewEncoder(cmd.ErrOrStderr())
		a.events.Subscribe(func(e telemetry.Event) {
			_ = enc.Encode(e)
		}, nil)
	}
	if settings.HistoryPath != "" {
		store, err := openHistory(ctx, settings.HistoryPath)
		if err != nil {
			logger.WithError(err).Warn("Run history disabled")
		} else {
			a.store = store
			orchOpts = append(orchOpts, orchestrator.WithHistory(store))
		}
	}

	a.orchestrator = orchestrator.New(a.registry, eng, manager, sink, orchOpts...)
	return a, ctx, nil
}

func openHistory(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	return stores.Open(ctx, stores.Config{Path: path})
}

// close releases everything newApp opened.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.wasm != nil {
		errs = append(errs, a.wasm.Close(ctx))
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		a.tel.Logger.WithError(err).Warn("Failed to release resources")
	}
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
