// Package builtin holds providers compiled into the binary. Each registers
// itself with the process-wide registry from init; import the package for
// its side effects:
//
//	import _ "github.com/openfroyo/resgen/pkg/providers/builtin"
package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/resgen/pkg/artifacts"
	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/providers/registry"
)

// IndexFile is the name of the file written by the artifact-index provider.
const IndexFile = "index.yaml"

func init() {
	registry.Register("artifact-index",
		"Writes index.yaml listing every artifact in the output directory with its SHA-256 digest",
		NewArtifactIndex)
}

// IndexEntry is one artifact listed in the index.
type IndexEntry struct {
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

// Index is the document written to IndexFile.
type Index struct {
	Artifacts []IndexEntry `yaml:"artifacts"`
}

// ArtifactIndex lists the contents of the output directory.
type ArtifactIndex struct{}

// NewArtifactIndex is the registry factory for ArtifactIndex.
func NewArtifactIndex() (engine.Provider, error) {
	return &ArtifactIndex{}, nil
}

// GenerateAndSave implements engine.Provider. The index counts as one created
// artifact the first time and one changed artifact whenever its content changes.
func (a *ArtifactIndex) GenerateAndSave(ctx context.Context, req engine.Request) (engine.Counts, error) {
	if req.OutputDir == "" {
		return engine.Counts{}, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return engine.Counts{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	index, err := buildIndex(ctx, req.OutputDir)
	if err != nil {
		return engine.Counts{}, err
	}

	data, err := yaml.Marshal(index)
	if err != nil {
		return engine.Counts{}, fmt.Errorf("failed to marshal index: %w", err)
	}

	writer := artifacts.NewWriter(req.OutputDir)
	if _, err := writer.Write(IndexFile, data); err != nil {
		return engine.Counts{}, err
	}
	return writer.Counts(), nil
}

// buildIndex walks root and digests every regular file except the index itself.
func buildIndex(ctx context.Context, root string) (*Index, error) {
	index := &Index{Artifacts: make([]IndexEntry, 0)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == IndexFile {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := artifacts.Checksum(path)
		if err != nil {
			return err
		}

		index.Artifacts = append(index.Artifacts, IndexEntry{
			Path:   rel,
			Size:   info.Size(),
			SHA256: sum,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", root, err)
	}

	sort.Slice(index.Artifacts, func(i, j int) bool {
		return index.Artifacts[i].Path < index.Artifacts[j].Path
	})
	return index, nil
}
