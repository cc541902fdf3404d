package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/resgen/pkg/logsink"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// Resolver maps an identity back to a provider factory.
type Resolver interface {
	Resolve(ctx context.Context, id Identity) (Factory, error)
}

// Admitter decides whether a provider may run.
type Admitter interface {
	Admit(ctx context.Context, id Identity) error
}

// Engine runs providers one at a time, isolating every failure.
type Engine struct {
	resolver  Resolver
	sink      *logsink.Sink
	admitter  Admitter
	outputDir string
	logger    *telemetry.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAdmitter installs an admission check consulted before each run.
func WithAdmitter(a Admitter) Option {
	return func(e *Engine) { e.admitter = a }
}

// WithOutputDir sets the directory handed to providers.
func WithOutputDir(dir string) Option {
	return func(e *Engine) { e.outputDir = dir }
}

// WithLogger sets the structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l.NewComponentLogger("engine") }
}

// New creates an engine that resolves providers with resolver and records to sink.
func New(resolver Resolver, sink *logsink.Sink, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		sink:     sink,
		logger:   telemetry.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetOutputDir changes the directory handed to providers on subsequent runs.
func (e *Engine) SetOutputDir(dir string) {
	e.outputDir = dir
}

// Run runs a single provider. It never panics and never returns an error:
// every failure is logged to the sink and reported in the result.
func (e *Engine) Run(ctx context.Context, id Identity) RunResult {
	start := e.now()
	result := RunResult{Identity: id}

	factory, err := e.resolve(ctx, id)
	if err != nil {
		e.sink.Appendf("Provider not found: %s", id)
		return e.fail(ctx, result, NewResolutionError(id, err), start)
	}

	if e.admitter != nil {
		if err := e.admitter.Admit(ctx, id); err != nil {
			e.sink.Appendf("Provider %s denied: %s", id, err)
			return e.fail(ctx, result, NewDeniedError(id, err), start)
		}
	}

	var counts Counts
	err = telemetry.RecordProviderOperation(ctx, string(id), "generate", func(ctx context.Context) error {
		var runErr error
		counts, runErr = e.invoke(ctx, id, factory)
		return runErr
	})
	if err != nil {
		e.sink.Appendf("Error in %s: %s", id, errorMessage(err))
		return e.fail(ctx, result, err, start)
	}

	result.Counts = counts
	result.Duration = e.now().Sub(start)
	e.sink.Appendf("Provider %s completed. New=%d, Changed=%d, Affected=%d",
		id.Name(), counts.Created, counts.Changed, counts.Affected())
	telemetry.MetricsFromContext(ctx).RecordArtifacts(string(id), counts.Created, counts.Changed)

	return result
}

// RunAll runs every identity in order. A failure never prevents later providers from running.
func (e *Engine) RunAll(ctx context.Context, ids []Identity) BatchResult {
	batch := BatchResult{Results: make([]RunResult, 0, len(ids))}
	if len(ids) == 0 {
		e.sink.Append("No providers to run.")
		return batch
	}

	for _, id := range ids {
		batch.add(e.Run(ctx, id))
	}
	return batch
}

// resolve asks the resolver for a factory. A panicking resolver is reported
// as a resolution failure.
func (e *Engine) resolve(ctx context.Context, id Identity) (factory Factory, err error) {
	defer func() {
		if r := recover(); r != nil {
			factory, err = nil, fmt.Errorf("resolver panicked: %v", r)
		}
	}()
	factory, err = e.resolver.Resolve(ctx, id)
	if err == nil && factory == nil {
		err = fmt.Errorf("resolver returned no factory")
	}
	return factory, err
}

// invoke constructs one instance, generates, and releases it on every path.
func (e *Engine) invoke(ctx context.Context, id Identity, factory Factory) (counts Counts, err error) {
	defer func() {
		if r := recover(); r != nil {
			counts = Counts{}
			err = NewExecutionError(id, "provider panicked", fmt.Errorf("%v", r))
		}
	}()

	p, err := factory()
	if err != nil {
		return Counts{}, NewExecutionError(id, "failed to construct provider", err)
	}
	if p == nil {
		return Counts{}, NewExecutionError(id, "failed to construct provider", fmt.Errorf("factory returned nil"))
	}
	defer e.release(ctx, id, p)

	counts, err = p.GenerateAndSave(ctx, Request{OutputDir: e.outputDir})
	if err != nil {
		return Counts{}, err
	}
	if counts.Created < 0 || counts.Changed < 0 {
		return Counts{}, NewInvalidResultError(id, counts)
	}
	return counts, nil
}

// release frees the instance's resources. Release failures are logged but do
// not change the outcome of the run.
func (e *Engine) release(ctx context.Context, id Identity, p Provider) {
	var err error
	switch c := p.(type) {
	case ContextCloser:
		err = c.Close(ctx)
	case io.Closer:
		err = c.Close()
	}
	if err != nil {
		e.sink.Appendf("Provider %s released with error: %s", id, err)
		e.logger.WithIdentity(string(id)).WithError(err).Warn("Provider release failed")
	}
}

// fail turns err into a failed result.
func (e *Engine) fail(ctx context.Context, result RunResult, err error, start time.Time) RunResult {
	result.Counts = Counts{}
	result.Err = err
	result.Duration = e.now().Sub(start)

	class := ClassOf(err)
	telemetry.MetricsFromContext(ctx).RecordProviderError(string(result.Identity), string(class))
	e.logger.WithIdentity(string(result.Identity)).
		WithError(err).
		WithField(string(telemetry.AttrErrorClass), class).
		Warn("Provider run failed")

	return result
}

// errorMessage returns the innermost meaningful message of err.
func errorMessage(err error) string {
	if ge, ok := err.(*GeneratorError); ok && ge.Err != nil {
		return fmt.Sprintf("%s: %s", ge.Message, ge.Err.Error())
	}
	return err.Error()
}

// SpanAttributes summarises the batch for tracing.
func (b *BatchResult) SpanAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		telemetry.AttrProviderCount.Int(len(b.Results)),
		telemetry.AttrArtifactsCreated.Int(b.TotalCreated),
		telemetry.AttrArtifactsChanged.Int(b.TotalChanged),
	}
}
