package wasm

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/openfroyo/resgen/pkg/artifacts"
	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// Provider runs one WASM module. Each instance owns its own runtime, which
// Close releases.
type Provider struct {
	name     string
	module   []byte
	manifest *Manifest
	config   HostConfig
	cache    wazero.CompilationCache
	logger   *telemetry.Logger

	runtime wazero.Runtime
}

func newProvider(path, name string, cfg HostConfig, cache wazero.CompilationCache, logger *telemetry.Logger) (*Provider, error) {
	manifest, bin, err := readModule(path)
	if err != nil {
		return nil, err
	}

	if manifest.MemoryLimitPages != 0 {
		cfg.MemoryLimitPages = manifest.MemoryLimitPages
	}

	return &Provider{
		name:     name,
		module:   bin,
		manifest: manifest,
		config:   cfg,
		cache:    cache,
		logger:   logger.WithIdentity(string(engine.NewIdentity(SourceName, name))),
	}, nil
}

// GenerateAndSave implements engine.Provider.
func (p *Provider) GenerateAndSave(ctx context.Context, req engine.Request) (engine.Counts, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	// Create wazero runtime with configuration
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(p.config.MemoryLimitPages).
		WithCloseOnContextDone(true)
	if p.cache != nil {
		runtimeConfig = runtimeConfig.WithCompilationCache(p.cache)
	}
	p.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, p.runtime); err != nil {
		return engine.Counts{}, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	writer := artifacts.NewWriter(req.OutputDir)
	if err := p.instantiateHost(ctx, writer); err != nil {
		return engine.Counts{}, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(p.name).
		WithStartFunctions(initFunction).
		WithStdout(logWriter{p.logger}).
		WithStderr(logWriter{p.logger})
	if req.OutputDir != "" {
		if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
			return engine.Counts{}, fmt.Errorf("failed to create output directory: %w", err)
		}
		moduleConfig = moduleConfig.WithFSConfig(wazero.NewFSConfig().WithDirMount(req.OutputDir, guestOutDir))
	}

	mod, err := p.runtime.InstantiateWithConfig(ctx, p.module, moduleConfig)
	if err != nil {
		return engine.Counts{}, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	fn := mod.ExportedFunction(entryPoint)
	if fn == nil {
		return engine.Counts{}, fmt.Errorf("module does not export %s", entryPoint)
	}

	results, err := fn.Call(ctx)
	if err != nil {
		return engine.Counts{}, fmt.Errorf("%s failed: %w", entryPoint, err)
	}
	if len(results) != 2 {
		return engine.Counts{}, fmt.Errorf("%s returned %d values, expected 2", entryPoint, len(results))
	}

	return engine.Counts{
		Created: int(api.DecodeI32(results[0])),
		Changed: int(api.DecodeI32(results[1])),
	}, nil
}

// instantiateHost registers the env host functions backed by writer.
func (p *Provider) instantiateHost(ctx context.Context, writer *artifacts.Writer) error {
	_, err := p.runtime.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			msg, ok := mod.Memory().Read(ptr, length)
			if !ok {
				p.logger.Warn("log called with out of range memory")
				return
			}
			p.logger.Info(string(msg))
		}).
		Export("log").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, pathPtr, pathLen, dataPtr, dataLen uint32) int32 {
			pathBytes, ok := mod.Memory().Read(pathPtr, pathLen)
			if !ok {
				return -1
			}
			data, ok := mod.Memory().Read(dataPtr, dataLen)
			if !ok {
				return -1
			}

			res, err := writer.Write(string(pathBytes), data)
			if err != nil {
				p.logger.WithError(err).Warn("write_file failed")
				return -1
			}
			switch res.Status {
			case artifacts.StatusCreated:
				return 1
			case artifacts.StatusChanged:
				return 2
			default:
				return 0
			}
		}).
		Export("write_file").
		Instantiate(ctx)
	return err
}

// Close releases the runtime and every module instantiated in it.
func (p *Provider) Close(ctx context.Context) error {
	if p.runtime == nil {
		return nil
	}
	err := p.runtime.Close(ctx)
	p.runtime = nil
	return err
}

// logWriter forwards guest stdout and stderr to the logger.
type logWriter struct {
	logger *telemetry.Logger
}

func (w logWriter) Write(b []byte) (int, error) {
	w.logger.Info(string(b))
	return len(b), nil
}
