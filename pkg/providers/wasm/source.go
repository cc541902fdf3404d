// Package wasm discovers and runs generator providers compiled to WebAssembly.
//
// A provider is a *.wasm module exporting
//
//	generate() -> (i32 created, i32 changed)
//
// The output directory is mounted at /out through WASI. Modules may also
// import host functions from the "env" module:
//
//	log(ptr, len i32)
//	write_file(path_ptr, path_len, data_ptr, data_len i32) -> i32
//
// write_file returns 1 when the artifact was created, 2 when it changed,
// 0 when it was left unchanged and -1 on error.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// SourceName is the identity prefix of wasm providers.
const SourceName = "wasm"

// Extension is the file extension of wasm providers.
const Extension = ".wasm"

const (
	entryPoint     = "generate"
	guestOutDir    = "/out"
	hostModule     = "env"
	initFunction   = "_initialize"
	manifestSuffix = ".yaml"
)

// HostConfig contains configuration for the WASM host.
type HostConfig struct {
	// Timeout bounds a single generate call.
	Timeout time.Duration

	// MemoryLimitPages is the maximum memory limit in pages (64KB each).
	// Default is 256 pages (16MB).
	MemoryLimitPages uint32
}

// DefaultHostConfig returns the default host configuration.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Timeout:          30 * time.Second,
		MemoryLimitPages: 256,
	}
}

// Source enumerates WASM providers in a set of directories.
type Source struct {
	dirs   []string
	config HostConfig
	cache  wazero.CompilationCache
	logger *telemetry.Logger
}

// NewSource creates a source scanning dirs in order.
func NewSource(logger *telemetry.Logger, cfg HostConfig, dirs ...string) *Source {
	if logger == nil {
		logger = telemetry.Nop()
	}
	defaults := DefaultHostConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = defaults.MemoryLimitPages
	}
	return &Source{
		dirs:   dirs,
		config: cfg,
		cache:  wazero.NewCompilationCache(),
		logger: logger.NewComponentLogger("wasm"),
	}
}

// Name implements registry.Source.
func (s *Source) Name() string {
	return SourceName
}

// Close releases the compilation cache.
func (s *Source) Close(ctx context.Context) error {
	return s.cache.Close(ctx)
}

// Enumerate implements registry.Source. Modules that fail to compile or do
// not export a valid generate function are skipped and reported.
func (s *Source) Enumerate(ctx context.Context) ([]engine.Descriptor, error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCompilationCache(s.cache))
	defer runtime.Close(ctx)

	var descs []engine.Descriptor
	var errs []error
	seen := make(map[string]bool)

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("failed to read wasm directory %s: %w", dir, err))
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
			seen[name] = true

			path := filepath.Join(dir, entry.Name())
			manifest, compiled, err := s.load(ctx, runtime, path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			_ = compiled.Close(ctx)

			descs = append(descs, engine.Descriptor{
				Identity:    engine.NewIdentity(SourceName, name),
				DisplayName: name,
				Description: manifest.Description,
			})
		}
	}

	return descs, errors.Join(errs...)
}

// Resolve implements registry.Source.
func (s *Source) Resolve(_ context.Context, name string) (engine.Factory, error) {
	path, ok := s.find(name)
	if !ok {
		return nil, fmt.Errorf("%w: wasm module %s", engine.ErrProviderNotFound, name)
	}

	return func() (engine.Provider, error) {
		return newProvider(path, name, s.config, s.cache, s.logger)
	}, nil
}

// find returns the first module providing name, as Enumerate does.
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

// load reads, verifies and compiles the module at path.
func (s *Source) load(ctx context.Context, runtime wazero.Runtime, path string) (*Manifest, wazero.CompiledModule, error) {
	manifest, bin, err := readModule(path)
	if err != nil {
		return nil, nil, err
	}

	compiled, err := runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile WASM module %s: %w", path, err)
	}
	if err := checkEntryPoint(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, compiled, nil
}

// readModule reads the module at path and its manifest, verifying the checksum.
func readModule(path string) (*Manifest, []byte, error) {
	manifest, err := LoadManifest(strings.TrimSuffix(path, Extension) + manifestSuffix)
	if err != nil {
		return nil, nil, err
	}

	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read WASM module %s: %w", path, err)
	}
	if err := manifest.VerifyChecksum(bin); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, bin, nil
}

// checkEntryPoint verifies the generate export has the expected signature.
func checkEntryPoint(compiled wazero.CompiledModule) error {
	def, ok := compiled.ExportedFunctions()[entryPoint]
	if !ok {
		return fmt.Errorf("module does not export %s", entryPoint)
	}

	params, results := def.ParamTypes(), def.ResultTypes()
	if len(params) != 0 || len(results) != 2 ||
		results[0] != api.ValueTypeI32 || results[1] != api.ValueTypeI32 {
		return fmt.Errorf("%s must have signature () -> (i32, i32)", entryPoint)
	}
	return nil
}
