package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/resgen/pkg/logsink"
)

// Mock resolver for testing
type mockResolver struct {
	factories map[Identity]Factory
}

func newMockResolver() *mockResolver {
	return &mockResolver{factories: make(map[Identity]Factory)}
}

func (m *mockResolver) add(id Identity, f Factory) {
	m.factories[id] = f
}

func (m *mockResolver) Resolve(_ context.Context, id Identity) (Factory, error) {
	f, ok := m.factories[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return f, nil
}

// Mock provider for testing
type mockProvider struct {
	counts   Counts
	err      error
	panicVal interface{}
	closeErr error

	mu      sync.Mutex
	calls   int
	closed  int
	lastReq Request
}

func (m *mockProvider) GenerateAndSave(_ context.Context, req Request) (Counts, error) {
	m.mu.Lock()
	m.calls++
	m.lastReq = req
	m.mu.Unlock()

	if m.panicVal != nil {
		panic(m.panicVal)
	}
	return m.counts, m.err
}

func (m *mockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return m.closeErr
}

func factoryFor(p Provider) Factory {
	return func() (Provider, error) { return p, nil }
}

// ctxProvider releases through ContextCloser.
type ctxProvider struct {
	closed bool
}

func (c *ctxProvider) GenerateAndSave(context.Context, Request) (Counts, error) {
	return Counts{Created: 1}, nil
}

func (c *ctxProvider) Close(context.Context) error {
	c.closed = true
	return nil
}

type denyAll struct{}

func (denyAll) Admit(context.Context, Identity) error {
	return errors.New("blocked by rule")
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func TestRunAllIsolatesFailures(t *testing.T) {
	resolver := newMockResolver()
	p1 := &mockProvider{counts: Counts{Created: 3, Changed: 1}}
	p2 := &mockProvider{err: errors.New("disk full")}
	p3 := &mockProvider{counts: Counts{Created: 0, Changed: 2}}
	resolver.add("builtin:P1", factoryFor(p1))
	resolver.add("builtin:P2", factoryFor(p2))
	resolver.add("builtin:P3", factoryFor(p3))

	sink := logsink.New(nil)
	eng := New(resolver, sink, WithOutputDir("out"))

	batch := eng.RunAll(context.Background(), []Identity{"builtin:P1", "builtin:P2", "builtin:P3"})

	if len(batch.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(batch.Results))
	}
	if batch.TotalCreated != 3 || batch.TotalChanged != 3 || batch.TotalAffected() != 6 {
		t.Errorf("unexpected totals: created=%d changed=%d", batch.TotalCreated, batch.TotalChanged)
	}
	if batch.Failed() != 1 {
		t.Errorf("expected 1 failure, got %d", batch.Failed())
	}

	r2 := batch.Results[1]
	if r2.OK() || r2.Created != 0 || r2.Changed != 0 {
		t.Errorf("expected failed zero-count result for P2, got %+v", r2)
	}
	if !strings.Contains(r2.ErrorMessage(), "disk full") {
		t.Errorf("expected error message to mention disk full, got %q", r2.ErrorMessage())
	}

	lines := sink.Lines()
	for _, want := range []string{
		"Provider P1 completed. New=3, Changed=1, Affected=4",
		"Error in builtin:P2: disk full",
		"Provider P3 completed. New=0, Changed=2, Affected=2",
	} {
		if !containsLine(lines, want) {
			t.Errorf("missing log line %q in %v", want, lines)
		}
	}

	if p3.lastReq.OutputDir != "out" {
		t.Errorf("expected output dir to be passed through, got %q", p3.lastReq.OutputDir)
	}
}

func TestRunAllPreservesOrder(t *testing.T) {
	resolver := newMockResolver()
	var order []string
	for _, name := range []string{"c", "a", "b"} {
		name := name
		resolver.add(NewIdentity("builtin", name), func() (Provider, error) {
			order = append(order, name)
			return &mockProvider{}, nil
		})
	}

	eng := New(resolver, logsink.New(nil))
	batch := eng.RunAll(context.Background(), []Identity{"builtin:c", "builtin:a", "builtin:b"})

	if strings.Join(order, ",") != "c,a,b" {
		t.Errorf("expected providers to run in input order, got %v", order)
	}
	for i, id := range []Identity{"builtin:c", "builtin:a", "builtin:b"} {
		if batch.Results[i].Identity != id {
			t.Errorf("result %d: expected %s, got %s", i, id, batch.Results[i].Identity)
		}
	}
}

func TestRunAllEmpty(t *testing.T) {
	sink := logsink.New(nil)
	eng := New(newMockResolver(), sink)

	batch := eng.RunAll(context.Background(), nil)

	if len(batch.Results) != 0 || batch.TotalCreated != 0 || batch.TotalChanged != 0 {
		t.Errorf("expected empty batch, got %+v", batch)
	}
	if !containsLine(sink.Lines(), "No providers to run.") {
		t.Errorf("expected empty batch message, got %v", sink.Lines())
	}
}

func TestRunFailureFollowedBySuccess(t *testing.T) {
	resolver := newMockResolver()
	resolver.add("builtin:A", func() (Provider, error) {
		return nil, errors.New("construction failed")
	})
	resolver.add("builtin:B", factoryFor(&mockProvider{counts: Counts{Created: 2, Changed: 1}}))

	eng := New(resolver, logsink.New(nil))
	batch := eng.RunAll(context.Background(), []Identity{"builtin:A", "builtin:B"})

	if batch.Results[0].OK() {
		t.Error("expected A to fail")
	}
	if ClassOf(batch.Results[0].Err) != ErrorClassExecution {
		t.Errorf("expected execution class, got %s", ClassOf(batch.Results[0].Err))
	}
	if !batch.Results[1].OK() {
		t.Errorf("expected B to succeed, got %v", batch.Results[1].Err)
	}
	if batch.TotalCreated != 2 || batch.TotalChanged != 1 {
		t.Errorf("unexpected totals: created=%d changed=%d", batch.TotalCreated, batch.TotalChanged)
	}
}

func TestRunUnresolvedIdentity(t *testing.T) {
	sink := logsink.New(nil)
	eng := New(newMockResolver(), sink)

	result := eng.Run(context.Background(), "script:gone")

	if result.OK() {
		t.Fatal("expected unresolved provider to fail")
	}
	if !IsNotFound(result.Err) {
		t.Errorf("expected not found error, got %v", result.Err)
	}
	if ClassOf(result.Err) != ErrorClassResolution {
		t.Errorf("expected resolution class, got %s", ClassOf(result.Err))
	}
	if !containsLine(sink.Lines(), "Provider not found: script:gone") {
		t.Errorf("expected not found line, got %v", sink.Lines())
	}
}

type panicResolver struct{}

func (panicResolver) Resolve(context.Context, Identity) (Factory, error) {
	panic("resolve failed")
}

func TestRunRecoversResolverPanic(t *testing.T) {
	sink := logsink.New(nil)
	eng := New(panicResolver{}, sink)

	batch := eng.RunAll(context.Background(), []Identity{"script:a", "script:b"})

	if len(batch.Results) != 2 {
		t.Fatalf("expected both providers to be reported, got %d", len(batch.Results))
	}
	for _, r := range batch.Results {
		if r.OK() || r.Counts != (Counts{}) {
			t.Errorf("expected failed (0,0) result for %s, got %+v", r.Identity, r)
		}
		if ClassOf(r.Err) != ErrorClassResolution {
			t.Errorf("expected resolution class, got %s", ClassOf(r.Err))
		}
		if !strings.Contains(r.Err.Error(), "resolve failed") {
			t.Errorf("expected error to carry the panic value, got %v", r.Err)
		}
	}
	if !containsLine(sink.Lines(), "Provider not found: script:b") {
		t.Errorf("expected not found line, got %v", sink.Lines())
	}
}

func TestRunRecoversPanic(t *testing.T) {
	resolver := newMockResolver()
	p := &mockProvider{panicVal: "boom"}
	resolver.add("builtin:panicky", factoryFor(p))

	sink := logsink.New(nil)
	eng := New(resolver, sink)

	result := eng.Run(context.Background(), "builtin:panicky")

	if result.OK() || result.Created != 0 || result.Changed != 0 {
		t.Fatalf("expected failed zero-count result, got %+v", result)
	}
	if !strings.Contains(result.ErrorMessage(), "boom") {
		t.Errorf("expected panic value in error, got %q", result.ErrorMessage())
	}
	if p.closed != 1 {
		t.Errorf("expected provider released after panic, closed=%d", p.closed)
	}
	if !containsLine(sink.Lines(), "Error in builtin:panicky: provider panicked: boom") {
		t.Errorf("expected panic line, got %v", sink.Lines())
	}
}

func TestRunReleasesOnEveryPath(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockProvider
		wantOK   bool
	}{
		{name: "success", provider: &mockProvider{counts: Counts{Created: 1}}, wantOK: true},
		{name: "error", provider: &mockProvider{err: errors.New("failed")}},
		{name: "negative counts", provider: &mockProvider{counts: Counts{Created: -1}}},
		{name: "close error", provider: &mockProvider{counts: Counts{Changed: 1}, closeErr: errors.New("leak")}, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := newMockResolver()
			resolver.add("builtin:x", factoryFor(tt.provider))

			result := New(resolver, logsink.New(nil)).Run(context.Background(), "builtin:x")

			if result.OK() != tt.wantOK {
				t.Errorf("expected OK=%v, got %v (%v)", tt.wantOK, result.OK(), result.Err)
			}
			if tt.provider.calls != 1 {
				t.Errorf("expected exactly one invocation, got %d", tt.provider.calls)
			}
			if tt.provider.closed != 1 {
				t.Errorf("expected exactly one release, got %d", tt.provider.closed)
			}
		})
	}
}

func TestRunReleasesContextCloser(t *testing.T) {
	resolver := newMockResolver()
	p := &ctxProvider{}
	resolver.add("wasm:mod", factoryFor(p))

	result := New(resolver, logsink.New(nil)).Run(context.Background(), "wasm:mod")

	if !result.OK() {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if !p.closed {
		t.Error("expected context closer to be released")
	}
}

func TestRunRejectsNegativeCounts(t *testing.T) {
	resolver := newMockResolver()
	resolver.add("builtin:bad", factoryFor(&mockProvider{counts: Counts{Created: 2, Changed: -3}}))

	result := New(resolver, logsink.New(nil)).Run(context.Background(), "builtin:bad")

	if result.OK() {
		t.Fatal("expected negative counts to fail")
	}
	if ClassOf(result.Err) != ErrorClassInvalidResult {
		t.Errorf("expected invalid result class, got %s", ClassOf(result.Err))
	}
	if result.Created != 0 || result.Changed != 0 {
		t.Errorf("expected zero counts, got %+v", result.Counts)
	}
}

func TestRunCloseErrorKeepsResult(t *testing.T) {
	resolver := newMockResolver()
	resolver.add("builtin:leaky", factoryFor(&mockProvider{counts: Counts{Created: 4}, closeErr: errors.New("leak")}))

	sink := logsink.New(nil)
	result := New(resolver, sink).Run(context.Background(), "builtin:leaky")

	if !result.OK() || result.Created != 4 {
		t.Errorf("expected release error to leave result unchanged, got %+v err=%v", result.Counts, result.Err)
	}
	if !containsLine(sink.Lines(), "Provider builtin:leaky released with error: leak") {
		t.Errorf("expected release error line, got %v", sink.Lines())
	}
}

func TestRunDeniedByAdmitter(t *testing.T) {
	resolver := newMockResolver()
	p := &mockProvider{counts: Counts{Created: 1}}
	resolver.add("script:blocked", factoryFor(p))

	eng := New(resolver, logsink.New(nil), WithAdmitter(denyAll{}))
	result := eng.Run(context.Background(), "script:blocked")

	if !IsDenied(result.Err) {
		t.Fatalf("expected denied error, got %v", result.Err)
	}
	if p.calls != 0 {
		t.Errorf("expected denied provider not to run, got %d calls", p.calls)
	}
}

func TestBatchSpanAttributes(t *testing.T) {
	batch := BatchResult{}
	batch.add(RunResult{Identity: "builtin:a", Counts: Counts{Created: 2, Changed: 5}})

	attrs := batch.SpanAttributes()
	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(attrs))
	}
	if attrs[1].Value.AsInt64() != 2 || attrs[2].Value.AsInt64() != 5 {
		t.Errorf("unexpected attribute values: %v", attrs)
	}
}
