// Package registry discovers generator providers and resolves them back to factories.
//
// Providers come from one or more Sources. The builtin source is the
// process-wide table populated by Register from provider packages' init
// functions; script and wasm sources scan directories on disk.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// Source enumerates providers of one kind and constructs them on demand.
type Source interface {
	// Name is the identity prefix of every provider the source reports.
	Name() string

	// Enumerate lists the providers currently available, in a stable order.
	// A partial failure returns the descriptors that could be enumerated
	// together with a non-nil error.
	Enumerate(ctx context.Context) ([]engine.Descriptor, error)

	// Resolve returns a factory for the named provider, or an error matching
	// engine.ErrProviderNotFound if it no longer exists.
	Resolve(ctx context.Context, name string) (engine.Factory, error)
}

// Failure records a source that could not be fully enumerated.
type Failure struct {
	Source string `json:"source"`
	Err    error  `json:"-"`
}

// Discovery is the outcome of one discovery pass.
type Discovery struct {
	// Providers are deduplicated and in discovery order.
	Providers []engine.Descriptor `json:"providers"`

	// Failures lists sources that failed partially or completely.
	Failures []Failure `json:"failures,omitempty"`
}

// Identities returns the identities of the discovered providers, in order.
func (d *Discovery) Identities() []engine.Identity {
	ids := make([]engine.Identity, len(d.Providers))
	for i, p := range d.Providers {
		ids[i] = p.Identity
	}
	return ids
}

// Registry holds the sources and the most recently discovered provider set.
type Registry struct {
	mu        sync.RWMutex
	sources   []Source
	providers []engine.Descriptor
	index     map[engine.Identity]int
	logger    *telemetry.Logger
}

// New creates a registry over the given sources, queried in order.
func New(logger *telemetry.Logger, sources ...Source) *Registry {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Registry{
		sources: sources,
		index:   make(map[engine.Identity]int),
		logger:  logger.NewComponentLogger("registry"),
	}
}

// AddSource appends a source. It takes part in the next discovery pass.
func (r *Registry) AddSource(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sources {
		if existing.Name() == s.Name() {
			return fmt.Errorf("source %s already registered", s.Name())
		}
	}
	r.sources = append(r.sources, s)
	return nil
}

// Sources returns the registered source names in query order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Discover enumerates every source and replaces the discovered set.
// It never fails: sources that cannot be enumerated are recorded in
// Discovery.Failures and whatever they did report is kept.
func (r *Registry) Discover(ctx context.Context) *Discovery {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics := telemetry.MetricsFromContext(ctx)
	result := &Discovery{Providers: make([]engine.Descriptor, 0)}
	index := make(map[engine.Identity]int)

	for _, src := range r.sources {
		descs, err := enumerate(ctx, src)
		if err != nil {
			result.Failures = append(result.Failures, Failure{Source: src.Name(), Err: err})
			metrics.RecordDiscoveryFailure(src.Name())
			r.logger.WithField("source", src.Name()).
				WithError(err).
				Warn("Provider source could not be fully enumerated")
		}

		for _, d := range descs {
			if d.Identity == "" {
				d.Identity = engine.NewIdentity(src.Name(), d.DisplayName)
			}
			if _, dup := index[d.Identity]; dup {
				r.logger.WithIdentity(string(d.Identity)).Debug("Skipping duplicate provider")
				continue
			}
			if d.DisplayName == "" {
				d.DisplayName = d.Identity.Name()
			}
			index[d.Identity] = len(result.Providers)
			result.Providers = append(result.Providers, d)
		}
	}

	r.providers = result.Providers
	r.index = index
	metrics.SetProvidersDiscovered(len(result.Providers))

	r.logger.WithFields(map[string]interface{}{
		"providers": len(result.Providers),
		"failures":  len(result.Failures),
	}).Debug("Discovery completed")

	return result
}

// enumerate calls src.Enumerate, turning a panic into a failure of that source.
func enumerate(ctx context.Context, src Source) (descs []engine.Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			descs, err = nil, fmt.Errorf("source %s panicked: %v", src.Name(), r)
		}
	}()
	return src.Enumerate(ctx)
}

// Providers returns a copy of the most recently discovered set.
func (r *Registry) Providers() []engine.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]engine.Descriptor, len(r.providers))
	copy(out, r.providers)
	return out
}

// Lookup finds a descriptor in the most recently discovered set.
func (r *Registry) Lookup(id engine.Identity) (engine.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return engine.Descriptor{}, false
	}
	return r.providers[i], true
}

// Resolve implements engine.Resolver. The owning source is asked at call time,
// so a provider removed since discovery fails to resolve.
func (r *Registry) Resolve(ctx context.Context, id engine.Identity) (engine.Factory, error) {
	r.mu.RLock()
	var src Source
	for _, s := range r.sources {
		if s.Name() == id.Source() {
			src = s
			break
		}
	}
	r.mu.RUnlock()

	if src == nil {
		return nil, fmt.Errorf("%w: unknown source %q", engine.ErrProviderNotFound, id.Source())
	}

	factory, err := src.Resolve(ctx, id.Name())
	if err != nil {
		if !errors.Is(err, engine.ErrProviderNotFound) {
			err = fmt.Errorf("%w: %s: %w", engine.ErrProviderNotFound, id, err)
		}
		return nil, err
	}
	return factory, nil
}
