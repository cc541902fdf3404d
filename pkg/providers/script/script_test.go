package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/resgen/pkg/engine"
)

func writeScript(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestEnumerate(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "b_docs.star", "# Writes docs\ndef generate():\n    return (1, 0)\n")
	writeScript(t, dir, "a_counts.star", "def generate():\n    return (0, 0)\n")
	writeScript(t, dir, "helper.star", "def other():\n    pass\n")
	writeScript(t, dir, "broken.star", "def generate(:\n")
	writeScript(t, dir, "notes.txt", "ignored")

	src := NewSource(nil, dir, filepath.Join(dir, "missing"))
	descs, err := src.Enumerate(context.Background())

	if err == nil {
		t.Fatal("expected partial failure error for broken and helper scripts")
	}
	if !strings.Contains(err.Error(), "broken.star") || !strings.Contains(err.Error(), "helper.star") {
		t.Errorf("expected error to name failing files, got %v", err)
	}

	if len(descs) != 2 {
		t.Fatalf("expected 2 providers, got %d: %+v", len(descs), descs)
	}
	if descs[0].Identity != "script:a_counts" || descs[1].Identity != "script:b_docs" {
		t.Errorf("unexpected identities: %s, %s", descs[0].Identity, descs[1].Identity)
	}
}

func TestEnumerateFirstDirectoryWins(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeScript(t, first, "gen.star", "def generate():\n    return (1, 0)\n")
	writeScript(t, second, "gen.star", "def generate():\n    return (2, 0)\n")

	src := NewSource(nil, first, second)
	descs, err := src.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(descs))
	}

	factory, err := src.Resolve(context.Background(), "gen")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	p, err := factory()
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	counts, err := p.GenerateAndSave(context.Background(), engine.Request{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("GenerateAndSave failed: %v", err)
	}
	if counts.Created != 1 {
		t.Errorf("expected script from first directory to run, got %+v", counts)
	}
}

func TestEnumerateBrokenFirstShadowsLater(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeScript(t, first, "gen.star", "def generate(:\n")
	writeScript(t, second, "gen.star", "def generate():\n    return (2, 1)\n")

	src := NewSource(nil, first, second)
	descs, err := src.Enumerate(context.Background())
	if err == nil || !strings.Contains(err.Error(), filepath.Join(first, "gen.star")) {
		t.Fatalf("expected failure naming the first gen.star, got %v", err)
	}
	if len(descs) != 0 {
		t.Fatalf("expected broken script to hide later ones, got %+v", descs)
	}
}

func TestGenerateWithWriteFile(t *testing.T) {
	scripts := t.TempDir()
	out := t.TempDir()
	writeScript(t, scripts, "site.star", `
def generate():
    write_file("index.html", "<h1>" + output_dir + "</h1>")
    write_file("about/index.html", "about")
    return None
`)

	src := NewSource(nil, scripts)
	run := func() engine.Counts {
		factory, err := src.Resolve(context.Background(), "site")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		p, err := factory()
		if err != nil {
			t.Fatalf("factory failed: %v", err)
		}
		counts, err := p.GenerateAndSave(context.Background(), engine.Request{OutputDir: out})
		if err != nil {
			t.Fatalf("GenerateAndSave failed: %v", err)
		}
		return counts
	}

	if counts := run(); counts.Created != 2 || counts.Changed != 0 {
		t.Errorf("first run: expected 2 created, got %+v", counts)
	}
	if counts := run(); counts.Created != 0 || counts.Changed != 0 {
		t.Errorf("second run: expected no changes, got %+v", counts)
	}

	data, err := os.ReadFile(filepath.Join(out, "about", "index.html"))
	if err != nil || string(data) != "about" {
		t.Errorf("unexpected artifact %q (%v)", string(data), err)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "fail", src: "def generate():\n    fail(\"disk full\")\n", want: "disk full"},
		{name: "badreturn", src: "def generate():\n    return \"lots\"\n", want: "must return"},
		{name: "escape", src: "def generate():\n    write_file(\"../x\", \"y\")\n", want: "escapes"},
		{name: "negative", src: "def generate():\n    return (-1, 0)\n"},
	}

	dir := t.TempDir()
	for _, tt := range tests {
		writeScript(t, dir, tt.name+".star", tt.src)
	}
	src := NewSource(nil, dir)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := src.Resolve(context.Background(), tt.name)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			p, err := factory()
			if err != nil {
				t.Fatalf("factory failed: %v", err)
			}
			counts, err := p.GenerateAndSave(context.Background(), engine.Request{OutputDir: t.TempDir()})
			if tt.want == "" {
				// Negative counts are passed through for the engine to reject
				if err != nil || counts.Created != -1 {
					t.Errorf("expected raw counts, got %+v (%v)", counts, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestGenerateHonoursTimeout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "spin.star", `
def generate():
    n = 0
    for i in range(100000000):
        n += i
    return (0, 0)
`)

	src := NewSource(nil, dir)
	src.SetTimeout(50 * time.Millisecond)

	factory, err := src.Resolve(context.Background(), "spin")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	p, err := factory()
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	if _, err := p.GenerateAndSave(context.Background(), engine.Request{OutputDir: t.TempDir()}); err == nil {
		t.Error("expected long-running script to be cancelled")
	}
}

func TestResolveRemovedScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "gone.star", "def generate():\n    return (0, 0)\n")
	src := NewSource(nil, dir)

	if _, err := src.Enumerate(context.Background()); err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "gone.star")); err != nil {
		t.Fatal(err)
	}

	_, err := src.Resolve(context.Background(), "gone")
	if !errors.Is(err, engine.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}
