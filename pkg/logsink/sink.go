// Package logsink holds the per-operation log of an orchestrated run.
//
// Entries accumulate from the start of one operation until they are cleared
// at the start of the next, or drained into a Persister at the end.
package logsink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/resgen/pkg/telemetry"
)

// Entry is one immutable log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Persister writes a drained log to a named external resource.
type Persister interface {
	Persist(ctx context.Context, name string, lines []string) error
}

// Sink is an append-only, clearable in-memory log.
type Sink struct {
	mu      sync.Mutex
	entries []Entry
	logger  *telemetry.Logger
	now     func() time.Time
}

// New creates a sink that mirrors every line to logger. A nil logger mirrors nothing.
func New(logger *telemetry.Logger) *Sink {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Sink{
		logger: logger,
		now:    time.Now,
	}
}

// Append adds a line.
func (s *Sink) Append(line string) {
	s.mu.Lock()
	s.entries = append(s.entries, Entry{Time: s.now(), Message: line})
	s.mu.Unlock()

	s.logger.Info(line)
}

// Appendf adds a formatted line.
func (s *Sink) Appendf(format string, args ...interface{}) {
	s.Append(fmt.Sprintf(format, args...))
}

// Clear drops every entry.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// Len returns the number of entries.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the entries in append order.
func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lines returns the messages in append order.
func (s *Sink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Message
	}
	return out
}

// DrainAndPersist writes every line to p under name and then clears the sink.
// On failure the entries are kept so the caller can retry.
func (s *Sink) DrainAndPersist(ctx context.Context, name string, p Persister) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, len(s.entries))
	for i, e := range s.entries {
		lines[i] = e.Message
	}

	if err := p.Persist(ctx, name, lines); err != nil {
		return fmt.Errorf("failed to persist log %s: %w", name, err)
	}

	s.entries = nil
	return nil
}
