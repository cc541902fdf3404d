package script

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/resgen/pkg/artifacts"
	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// Provider runs one Starlark file.
type Provider struct {
	path    string
	name    string
	src     []byte
	timeout time.Duration
	logger  *telemetry.Logger
}

func newProvider(path, name string, timeout time.Duration, logger *telemetry.Logger) (*Provider, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return &Provider{
		path:    path,
		name:    name,
		src:     src,
		timeout: timeout,
		logger:  logger.WithIdentity(string(engine.NewIdentity(SourceName, name))),
	}, nil
}

// GenerateAndSave implements engine.Provider.
func (p *Provider) GenerateAndSave(ctx context.Context, req engine.Request) (engine.Counts, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	thread := &starlark.Thread{
		Name: "resgen:" + p.name,
		Print: func(_ *starlark.Thread, msg string) {
			p.logger.Info(msg)
		},
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	writer := artifacts.NewWriter(req.OutputDir)
	predeclared := starlark.StringDict{
		"struct":     starlarkstruct.Default,
		"output_dir": starlark.String(req.OutputDir),
		"write_file": starlark.NewBuiltin("write_file", writeFileBuiltin(writer)),
		"read_file":  starlark.NewBuiltin("read_file", readFileBuiltin(writer)),
	}

	globals, err := starlark.ExecFile(thread, p.path, p.src, predeclared)
	if err != nil {
		return engine.Counts{}, fmt.Errorf("starlark execution failed: %w", err)
	}

	fn, ok := globals[entryPoint].(starlark.Callable)
	if !ok {
		return engine.Counts{}, fmt.Errorf("%s does not define a callable %s", p.path, entryPoint)
	}

	v, err := starlark.Call(thread, fn, nil, nil)
	if err != nil {
		return engine.Counts{}, fmt.Errorf("%s failed: %w", entryPoint, err)
	}

	if v == starlark.None {
		return writer.Counts(), nil
	}
	return countsFromValue(v)
}

// countsFromValue converts a (created, changed) tuple or list.
func countsFromValue(v starlark.Value) (engine.Counts, error) {
	seq, ok := v.(starlark.Indexable)
	if !ok || seq.Len() != 2 {
		return engine.Counts{}, fmt.Errorf("%s must return (created, changed) or None, got %s", entryPoint, v.Type())
	}

	created, err := starlark.AsInt32(seq.Index(0))
	if err != nil {
		return engine.Counts{}, fmt.Errorf("created count: %w", err)
	}
	changed, err := starlark.AsInt32(seq.Index(1))
	if err != nil {
		return engine.Counts{}, fmt.Errorf("changed count: %w", err)
	}
	return engine.Counts{Created: created, Changed: changed}, nil
}

// writeFileBuiltin implements write_file(path, content) -> "created" | "changed" | "unchanged".
func writeFileBuiltin(w *artifacts.Writer) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path, content string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
			return nil, err
		}
		res, err := w.Write(path, []byte(content))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.String(res.Status), nil
	}
}

// readFileBuiltin implements read_file(path) -> string | None.
func readFileBuiltin(w *artifacts.Writer) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
			return nil, err
		}
		full, err := w.Resolve(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		data, err := os.ReadFile(full)
		if os.IsNotExist(err) {
			return starlark.None, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.String(data), nil
	}
}
