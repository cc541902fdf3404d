// Package artifacts writes generated files under an output directory and
// tallies how many were created and how many changed.
package artifacts

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openfroyo/resgen/pkg/engine"
)

// Status is the effect a write had on disk.
type Status string

const (
	StatusCreated   Status = "created"
	StatusChanged   Status = "changed"
	StatusUnchanged Status = "unchanged"
)

// WriteResult describes one write.
type WriteResult struct {
	Path         string `json:"path"`
	Status       Status `json:"status"`
	Checksum     string `json:"checksum"`
	BytesWritten int64  `json:"bytes_written"`
}

// Writer writes files below a root directory.
type Writer struct {
	root string

	mu     sync.Mutex
	counts engine.Counts
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{root: dir}
}

// Root returns the output directory.
func (w *Writer) Root() string {
	return w.root
}

// Resolve maps a relative artifact path to a path below the root.
func (w *Writer) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative: %s", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes output directory: %s", rel)
	}
	return filepath.Join(w.root, clean), nil
}

// Write stores content at rel. Identical content is left untouched.
func (w *Writer) Write(rel string, content []byte) (*WriteResult, error) {
	path, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}

	existing, err := os.ReadFile(path)
	fileExists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read existing artifact: %w", err)
	}

	hash := sha256.Sum256(content)
	result := &WriteResult{
		Path:     rel,
		Checksum: fmt.Sprintf("%x", hash),
	}

	if fileExists && bytes.Equal(existing, content) {
		result.Status = StatusUnchanged
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	result.BytesWritten = int64(len(content))

	w.mu.Lock()
	if fileExists {
		result.Status = StatusChanged
		w.counts.Changed++
	} else {
		result.Status = StatusCreated
		w.counts.Created++
	}
	w.mu.Unlock()

	return result, nil
}

// Counts returns the tally of created and changed artifacts so far.
func (w *Writer) Counts() engine.Counts {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts
}

// Checksum returns the hex SHA-256 digest of the file at path.
func Checksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash), nil
}
