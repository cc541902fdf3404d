package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/resgen/pkg/config"
	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/logsink"
	"github.com/openfroyo/resgen/pkg/providers/registry"
	"github.com/openfroyo/resgen/pkg/stores"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// Operation names, used for spans, metrics and history records.
const (
	OperationRefresh   = "resgen.refresh"
	OperationRunAll    = "resgen.run_all"
	OperationRunSingle = "resgen.run_single"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	separator  = "--------------------------------"
)

// Discoverer lists the available providers. *registry.Registry implements it.
type Discoverer interface {
	Discover(ctx context.Context) *registry.Discovery
	Lookup(id engine.Identity) (engine.Descriptor, bool)
}

// Runner executes providers. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, id engine.Identity) engine.RunResult
	RunAll(ctx context.Context, ids []engine.Identity) engine.BatchResult
	SetOutputDir(dir string)
}

// SettingsLoader returns the current settings. *config.Manager implements it.
type SettingsLoader interface {
	Load() *config.Settings
}

// History records runs and their logs. *stores.SQLiteStore implements it.
type History interface {
	SaveRun(ctx context.Context, run *stores.Run) error
	stores.LogAppender
}

// Orchestrator owns the log sink and runs the user-facing operations.
type Orchestrator struct {
	mu sync.Mutex

	registry Discoverer
	engine   Runner
	settings SettingsLoader
	sink     *logsink.Sink
	history  History
	dial     RemoteDialer
	events   *telemetry.EventPublisher
	logger   *telemetry.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistory records every run in h.
func WithHistory(h History) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithRemoteDialer replaces the SFTP dialer used for remote_log.
func WithRemoteDialer(d RemoteDialer) Option {
	return func(o *Orchestrator) { o.dial = d }
}

// WithEvents publishes lifecycle events of every operation to ep.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(o *Orchestrator) { o.events = ep }
}

// WithLogger sets the structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.NewComponentLogger("orchestrator") }
}

// New creates an orchestrator. A nil settings loader uses the defaults; a nil
// sink is replaced by a fresh one.
func New(reg Discoverer, eng Runner, settings SettingsLoader, sink *logsink.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		engine:   eng,
		settings: settings,
		sink:     sink,
		dial:     DialSFTP,
		logger:   telemetry.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = logsink.New(o.logger)
	}
	return o
}

// Sink returns the log sink operations write to.
func (o *Orchestrator) Sink() *logsink.Sink {
	return o.sink
}

// RefreshProviders runs a discovery pass and logs what was found.
func (o *Orchestrator) RefreshProviders(ctx context.Context) []engine.Descriptor {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized() {
		return nil
	}

	ic := telemetry.StartOperation(ctx, OperationRefresh)
	metrics := telemetry.MetricsFromContext(ctx)
	metrics.RecordOperationStarted(OperationRefresh)

	o.sink.Clear()
	start := o.now()
	o.sink.Appendf("Time: %s", start.Format(timeLayout))

	discovery := o.discover(ic.Ctx)
	o.finishTask(start)

	ic.SetAttributes(telemetry.AttrProviderCount.Int(len(discovery.Providers)))
	ic.End(nil)
	metrics.RecordOperationCompleted(OperationRefresh, "completed", o.now().Sub(start))

	return discovery.Providers
}

// RunAllProviders discovers providers afresh and runs every one of them in
// discovery order.
func (o *Orchestrator) RunAllProviders(ctx context.Context) *engine.BatchResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized() {
		return &engine.BatchResult{}
	}

	settings := o.loadSettings()
	o.engine.SetOutputDir(settings.OutputPath)

	runID := uuid.NewString()
	ic := telemetry.StartOperation(ctx, OperationRunAll, telemetry.AttrRunID.String(runID))
	metrics := telemetry.MetricsFromContext(ctx)
	metrics.RecordOperationStarted(OperationRunAll)
	logger := o.logger.WithRunID(runID)

	o.sink.Clear()
	start := o.now()
	o.sink.Appendf("Time: %s", start.Format(timeLayout))
	o.publishStarted(runID, stores.OperationRunAll, "")

	discovery := o.discover(ic.Ctx)

	o.sink.Append("Starting resource generation...")

	var batch engine.BatchResult
	if len(discovery.Providers) == 0 {
		o.sink.Append("No providers found.")
	} else {
		batch = o.engine.RunAll(ic.Ctx, discovery.Identities())
		o.sink.Append("All providers completed.")
		o.sink.Append(separator)
		o.sink.Append("GENERATION SUMMARY")
		o.sink.Appendf("[NEW] %d", batch.TotalCreated)
		o.sink.Appendf("[CHANGED] %d", batch.TotalChanged)
		o.sink.Appendf("[TOTAL] %d", batch.TotalAffected())
	}
	o.finishTask(start)
	end := o.now()

	run := newRun(runID, stores.OperationRunAll, start, end, batch.Results)
	o.record(ic.Ctx, logger, settings, run)
	o.publishCompleted(run)

	ic.SetAttributes(batch.SpanAttributes()...)
	ic.End(nil)
	metrics.RecordOperationCompleted(OperationRunAll, string(run.Status), end.Sub(start))

	logger.WithFields(map[string]interface{}{
		"providers": len(batch.Results),
		"failed":    batch.Failed(),
		"created":   batch.TotalCreated,
		"changed":   batch.TotalChanged,
	}).Debug("Run all completed")

	return &batch
}

// RunSingleProvider runs the provider id alone. It does not trigger
// discovery. displayName is used in the log; when empty it is taken from
// the last discovery, or the identity's name.
func (o *Orchestrator) RunSingleProvider(ctx context.Context, id engine.Identity, displayName string) engine.RunResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized() {
		return engine.RunResult{Identity: id, Err: engine.NewResolutionError(id, engine.ErrProviderNotFound)}
	}

	if displayName == "" {
		if d, ok := o.registry.Lookup(id); ok {
			displayName = d.DisplayName
		} else {
			displayName = id.Name()
		}
	}

	settings := o.loadSettings()
	o.engine.SetOutputDir(settings.OutputPath)

	runID := uuid.NewString()
	ic := telemetry.StartOperation(ctx, OperationRunSingle,
		telemetry.AttrRunID.String(runID),
		telemetry.AttrProviderIdentity.String(string(id)),
	)
	metrics := telemetry.MetricsFromContext(ctx)
	metrics.RecordOperationStarted(OperationRunSingle)
	logger := o.logger.WithRunID(runID).WithIdentity(string(id))

	o.sink.Clear()
	start := o.now()
	o.sink.Appendf("Time: %s", start.Format(timeLayout))
	o.sink.Appendf("Starting resource generation for provider: %s", displayName)
	o.publishStarted(runID, stores.OperationRunSingle, id)

	result := o.engine.Run(ic.Ctx, id)

	o.sink.Appendf("Provider %s run complete. New=%d, Changed=%d, Affected=%d",
		displayName, result.Created, result.Changed, result.Affected())
	o.finishTask(start)
	end := o.now()

	run := newRun(runID, stores.OperationRunSingle, start, end, []engine.RunResult{result})
	o.record(ic.Ctx, logger, settings, run)
	o.publishCompleted(run)

	ic.SetAttributes(
		telemetry.AttrArtifactsCreated.Int(result.Created),
		telemetry.AttrArtifactsChanged.Int(result.Changed),
	)
	if !result.OK() {
		ic.SetAttributes(telemetry.AttrErrorClass.String(string(engine.ClassOf(result.Err))))
	}
	ic.End(result.Err)
	metrics.RecordOperationCompleted(OperationRunSingle, string(run.Status), end.Sub(start))

	return result
}

// initialized reports whether the registry and engine are set, logging if not.
func (o *Orchestrator) initialized() bool {
	if isNil(o.registry) || isNil(o.engine) {
		o.logger.Error("Provider orchestrator not initialized correctly. Please restart resgen.")
		return false
	}
	return true
}

// isNil also catches interfaces holding a nil pointer.
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func (o *Orchestrator) loadSettings() *config.Settings {
	if o.settings == nil {
		return config.Defaults()
	}
	return o.settings.Load()
}

// discover runs a discovery pass and logs each provider found.
func (o *Orchestrator) discover(ctx context.Context) *registry.Discovery {
	o.sink.Append("Initializing provider discovery...")

	discovery := o.registry.Discover(ctx)
	for _, f := range discovery.Failures {
		o.sink.Appendf("Provider source %s failed: %v", f.Source, f.Err)
	}
	for _, d := range discovery.Providers {
		o.sink.Appendf("Discovered provider: %s", d.Identity)
	}
	o.sink.Appendf("Discovered %d providers.", len(discovery.Providers))

	o.events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeProvidersDiscovered,
		Message: fmt.Sprintf("Discovered %d providers", len(discovery.Providers)),
		Data: map[string]interface{}{
			"providers": discovery.Identities(),
			"failures":  len(discovery.Failures),
		},
	})

	return discovery
}

func (o *Orchestrator) finishTask(start time.Time) {
	o.sink.Appendf("Task completed in %.3f seconds.", o.now().Sub(start).Seconds())
}

func newRun(id string, op stores.Operation, start, end time.Time, results []engine.RunResult) *stores.Run {
	run := &stores.Run{
		ID:          id,
		Operation:   op,
		StartedAt:   start,
		CompletedAt: end,
		Providers:   len(results),
	}
	for _, r := range results {
		run.TotalCreated += r.Created
		run.TotalChanged += r.Changed
		if !r.OK() {
			run.Failed++
		}
		run.Results = append(run.Results, stores.ProviderResult{
			Identity: string(r.Identity),
			Created:  r.Created,
			Changed:  r.Changed,
			Error:    r.ErrorMessage(),
			Duration: r.Duration,
		})
	}
	run.Status = stores.StatusFor(run.Providers, run.Failed)
	return run
}
