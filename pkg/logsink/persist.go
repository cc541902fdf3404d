package logsink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilePersister writes logs into a local directory, replacing any previous file.
type FilePersister struct {
	Dir string
}

// NewFilePersister creates a persister rooted at dir.
func NewFilePersister(dir string) *FilePersister {
	return &FilePersister{Dir: dir}
}

// Persist implements Persister.
func (f *FilePersister) Persist(_ context.Context, name string, lines []string) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(f.Dir, name)
	tmp, err := os.CreateTemp(f.Dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeLines(tmp, lines); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace log file: %w", err)
	}
	return nil
}

// Path returns the file a log named name is written to.
func (f *FilePersister) Path(name string) string {
	return filepath.Join(f.Dir, name)
}

// writeLines writes each line followed by a newline.
func writeLines(w io.Writer, lines []string) error {
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("failed to write log line: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write log line: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush log: %w", err)
	}
	return nil
}

// multiPersister fans a log out to several persisters.
type multiPersister []Persister

// Multi returns a persister that writes to every p, in order.
// All persisters are attempted; their errors are joined.
func Multi(ps ...Persister) Persister {
	out := make(multiPersister, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Persist implements Persister.
func (m multiPersister) Persist(ctx context.Context, name string, lines []string) error {
	var errs []error
	for _, p := range m {
		if err := p.Persist(ctx, name, lines); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PersisterFunc adapts a function to the Persister interface.
type PersisterFunc func(ctx context.Context, name string, lines []string) error

// Persist implements Persister.
func (f PersisterFunc) Persist(ctx context.Context, name string, lines []string) error {
	return f(ctx, name, lines)
}
