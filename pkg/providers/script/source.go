// Package script discovers and runs generator providers written in Starlark.
//
// Every *.star file in the configured directories that defines a top-level
// generate function is a provider named after the file. generate returns a
// (created, changed) tuple, or None to report the writes it made through the
// write_file builtin:
//
//	def generate():
//	    write_file("hello.txt", "hello from " + output_dir)
//	    return None
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.starlark.net/syntax"

	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// SourceName is the identity prefix of script providers.
const SourceName = "script"

// Extension is the file extension of script providers.
const Extension = ".star"

const entryPoint = "generate"

// Source enumerates Starlark providers in a set of directories.
type Source struct {
	dirs    []string
	timeout time.Duration
	logger  *telemetry.Logger
}

// NewSource creates a source scanning dirs in order.
func NewSource(logger *telemetry.Logger, dirs ...string) *Source {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Source{
		dirs:    dirs,
		timeout: 30 * time.Second,
		logger:  logger.NewComponentLogger("script"),
	}
}

// SetTimeout bounds the run time of a single script.
func (s *Source) SetTimeout(d time.Duration) {
	s.timeout = d
}

// Name implements registry.Source.
func (s *Source) Name() string {
	return SourceName
}

// Enumerate implements registry.Source. Files that cannot be read or parsed
// are skipped and reported in the returned error. A name is served by the
// first directory that contains it.
func (s *Source) Enumerate(_ context.Context) ([]engine.Descriptor, error) {
	var descs []engine.Descriptor
	var errs []error
	seen := make(map[string]bool)

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("failed to read script directory %s: %w", dir, err))
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), Extension)
			if seen[name] {
				continue
			}
			// The first file with a name shadows later ones even when it is
			// broken, matching find.
			seen[name] = true

			path := filepath.Join(dir, entry.Name())
			desc, err := describe(path, name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			descs = append(descs, desc)
		}
	}

	return descs, errors.Join(errs...)
}

// Resolve implements registry.Source.
func (s *Source) Resolve(_ context.Context, name string) (engine.Factory, error) {
	path, ok := s.find(name)
	if !ok {
		return nil, fmt.Errorf("%w: script %s", engine.ErrProviderNotFound, name)
	}

	return func() (engine.Provider, error) {
		return newProvider(path, name, s.timeout, s.logger)
	}, nil
}

// find returns the first file providing name.
func (s *Source) find(name string) (string, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	for _, dir := range s.dirs {
		path := filepath.Join(dir, name+Extension)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// describe parses path without executing it and checks for a generate function.
func describe(path, name string) (engine.Descriptor, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return engine.Descriptor{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	f, err := syntax.Parse(path, src, syntax.RetainComments)
	if err != nil {
		return engine.Descriptor{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	found := false
	for _, stmt := range f.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok && def.Name.Name == entryPoint {
			found = true
			break
		}
	}
	if !found {
		return engine.Descriptor{}, fmt.Errorf("%s: no %s function", path, entryPoint)
	}

	return engine.Descriptor{
		Identity:    engine.NewIdentity(SourceName, name),
		DisplayName: name,
		Description: leadingComment(f),
	}, nil
}

// leadingComment returns the first comment block of the file, if any.
func leadingComment(f *syntax.File) string {
	if len(f.Stmts) == 0 {
		return ""
	}
	comments := f.Stmts[0].Comments()
	if comments == nil || len(comments.Before) == 0 {
		return ""
	}
	lines := make([]string, 0, len(comments.Before))
	for _, c := range comments.Before {
		lines = append(lines, strings.TrimSpace(strings.TrimPrefix(c.Text, "#")))
	}
	return strings.Join(lines, " ")
}
