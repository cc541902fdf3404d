// Package telemetry provides observability instrumentation for resgen.
//
// The package integrates structured logging (zerolog), tracing (OpenTelemetry)
// and metrics (Prometheus) behind a single Telemetry value that is carried in
// the context.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithRunID(runID).WithIdentity("builtin:artifact-index").Info("Provider completed")
//
// # Tracing
//
// Orchestrated operations open a span with StartOperation; every provider
// invocation runs inside RecordProviderOperation, which opens a child span and
// records call metrics:
//
//	ic := telemetry.StartOperation(ctx, "resgen.run_all")
//	defer ic.End(nil)
//
//	err := telemetry.RecordProviderOperation(ic.Ctx, id, "generate", func(ctx context.Context) error {
//	    _, err := p.GenerateAndSave(ctx, req)
//	    return err
//	})
//
// # Metrics
//
// Key metrics exposed:
//
//   - resgen_operations_started_total{operation}
//   - resgen_operations_completed_total{operation,status}
//   - resgen_operation_duration_seconds{operation}
//   - resgen_providers_discovered
//   - resgen_discovery_failures_total{source}
//   - resgen_provider_calls_total{provider,operation}
//   - resgen_provider_errors_total{provider,class}
//   - resgen_artifacts_created_total{provider}
//   - resgen_artifacts_changed_total{provider}
//
// # Events
//
// An EventPublisher delivers run lifecycle events (run.started,
// provider.completed, provider.failed, run.completed) to subscribers in
// publish order. The CLI streams them as JSON lines with --json.
package telemetry
