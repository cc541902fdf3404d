package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/resgen/pkg/engine"
)

// BuiltinSource is the name of the source backed by the process-wide table.
const BuiltinSource = "builtin"

// Entry is one statically registered provider.
type Entry struct {
	Name        string
	Description string
	Factory     engine.Factory
}

// Table is a set of statically registered provider factories.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Register adds a provider factory under name.
func (t *Table) Register(name, description string, factory engine.Factory) error {
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if factory == nil {
		return fmt.Errorf("provider %s: factory is nil", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	t.entries[name] = Entry{Name: name, Description: description, Factory: factory}
	t.order = append(t.order, name)
	return nil
}

// Unregister removes a provider. Previously discovered identities for it no longer resolve.
func (t *Table) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[name]; !ok {
		return
	}
	delete(t.entries, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

// Entries returns the registered providers in registration order.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.entries[name])
	}
	return out
}

func (t *Table) lookup(name string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	return e, ok
}

var defaultTable = NewTable()

// Register adds a provider to the process-wide table. It is meant to be
// called from init and panics if name is already registered or factory is nil.
func Register(name, description string, factory engine.Factory) {
	if err := defaultTable.Register(name, description, factory); err != nil {
		panic("registry: " + err.Error())
	}
}

// Builtin returns a source over the process-wide table.
func Builtin() Source {
	return NewStaticSource(BuiltinSource, defaultTable)
}

// staticSource exposes a Table as a Source.
type staticSource struct {
	name  string
	table *Table
}

// NewStaticSource exposes t as a source called name.
func NewStaticSource(name string, t *Table) Source {
	return &staticSource{name: name, table: t}
}

func (s *staticSource) Name() string {
	return s.name
}

func (s *staticSource) Enumerate(_ context.Context) ([]engine.Descriptor, error) {
	entries := s.table.Entries()
	descs := make([]engine.Descriptor, len(entries))
	for i, e := range entries {
		descs[i] = engine.Descriptor{
			Identity:    engine.NewIdentity(s.name, e.Name),
			DisplayName: e.Name,
			Description: e.Description,
		}
	}
	return descs, nil
}

func (s *staticSource) Resolve(_ context.Context, name string) (engine.Factory, error) {
	e, ok := s.table.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrProviderNotFound, engine.NewIdentity(s.name, name))
	}
	return e.Factory, nil
}
