package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/providers/registry"
)

func TestArtifactIndexRegistered(t *testing.T) {
	reg := registry.New(nil, registry.Builtin())
	reg.Discover(context.Background())

	if _, ok := reg.Lookup("builtin:artifact-index"); !ok {
		t.Fatal("expected artifact-index to register itself")
	}
	if _, err := reg.Resolve(context.Background(), "builtin:artifact-index"); err != nil {
		t.Errorf("Resolve failed: %v", err)
	}
}

func TestArtifactIndexCounts(t *testing.T) {
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(out, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewArtifactIndex()
	if err != nil {
		t.Fatal(err)
	}
	run := func() engine.Counts {
		counts, err := p.GenerateAndSave(context.Background(), engine.Request{OutputDir: out})
		if err != nil {
			t.Fatalf("GenerateAndSave failed: %v", err)
		}
		return counts
	}

	if c := run(); c.Created != 1 || c.Changed != 0 {
		t.Errorf("first run: expected index created, got %+v", c)
	}
	if c := run(); c.Created != 0 || c.Changed != 0 {
		t.Errorf("second run: expected no change, got %+v", c)
	}

	if err := os.MkdirAll(filepath.Join(out, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "sub", "b.txt"), []byte("bb"), 0o644); err != nil {
		t.Fatal(err)
	}
	if c := run(); c.Created != 0 || c.Changed != 1 {
		t.Errorf("third run: expected index changed, got %+v", c)
	}

	data, err := os.ReadFile(filepath.Join(out, IndexFile))
	if err != nil {
		t.Fatal(err)
	}
	var index Index
	if err := yaml.Unmarshal(data, &index); err != nil {
		t.Fatalf("index is not valid YAML: %v", err)
	}
	if len(index.Artifacts) != 2 || index.Artifacts[0].Path != "a.txt" || index.Artifacts[1].Path != "sub/b.txt" {
		t.Errorf("unexpected index: %+v", index.Artifacts)
	}
	if index.Artifacts[1].Size != 2 {
		t.Errorf("expected size 2, got %d", index.Artifacts[1].Size)
	}
}

func TestArtifactIndexRequiresOutputDir(t *testing.T) {
	p, _ := NewArtifactIndex()
	if _, err := p.GenerateAndSave(context.Background(), engine.Request{}); err == nil {
		t.Error("expected error without output directory")
	}
}
