package wasm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/resgen/pkg/engine"
	"github.com/openfroyo/resgen/pkg/telemetry"
)

// generateModule exports generate() -> (i32, i32) returning (3, 0).
var generateModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x06, 0x01, 0x60, 0x00, 0x02, 0x7f, 0x7f, // type: () -> (i32, i32)
	0x03, 0x02, 0x01, 0x00, // function: type 0
	0x07, 0x0c, 0x01, 0x08, 'g', 'e', 'n', 'e', 'r', 'a', 't', 'e', 0x00, 0x00, // export "generate"
	0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, 0x03, 0x41, 0x00, 0x0b, // code: i32.const 3, i32.const 0
}

// singleResultModule exports generate() -> i32.
var singleResultModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f, // type: () -> i32
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0c, 0x01, 0x08, 'g', 'e', 'n', 'e', 'r', 'a', 't', 'e', 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x03, 0x0b, // code: i32.const 3
}

// hostImportModule imports env.write_file and env.log. generate logs "log!",
// writes "hello" to a.txt and returns (write_file result, 0).
var hostImportModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x13, 0x03, // type section
	0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, // (i32, i32, i32, i32) -> i32
	0x60, 0x02, 0x7f, 0x7f, 0x00, // (i32, i32) -> ()
	0x60, 0x00, 0x02, 0x7f, 0x7f, // () -> (i32, i32)
	0x02, 0x1c, 0x02, // import section
	0x03, 'e', 'n', 'v', 0x0a, 'w', 'r', 'i', 't', 'e', '_', 'f', 'i', 'l', 'e', 0x00, 0x00,
	0x03, 'e', 'n', 'v', 0x03, 'l', 'o', 'g', 0x00, 0x01,
	0x03, 0x02, 0x01, 0x02, // function: type 2
	0x05, 0x03, 0x01, 0x00, 0x01, // memory: 1 page
	0x07, 0x0c, 0x01, 0x08, 'g', 'e', 'n', 'e', 'r', 'a', 't', 'e', 0x00, 0x02,
	0x0a, 0x16, 0x01, 0x14, 0x00, // code
	0x41, 0x0a, 0x41, 0x04, 0x10, 0x01, // log(10, 4)
	0x41, 0x00, 0x41, 0x05, 0x41, 0x05, 0x41, 0x05, 0x10, 0x00, // write_file(0, 5, 5, 5)
	0x41, 0x00, // i32.const 0
	0x0b,
	0x0b, 0x14, 0x01, 0x00, 0x41, 0x00, 0x0b, 0x0e, // data at offset 0
	'a', '.', 't', 'x', 't', 'h', 'e', 'l', 'l', 'o', 'l', 'o', 'g', '!',
}

func writeModule(t *testing.T, dir, name string, bin []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), bin, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestEnumerate(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "counter.wasm", generateModule)
	writeModule(t, dir, "single.wasm", singleResultModule)
	writeModule(t, dir, "garbage.wasm", []byte("not a module"))
	if err := os.WriteFile(filepath.Join(dir, "counter.yaml"), []byte("description: counts things\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewSource(nil, HostConfig{}, dir)
	defer src.Close(context.Background())

	descs, err := src.Enumerate(context.Background())
	if err == nil {
		t.Fatal("expected partial failure for invalid modules")
	}
	if !strings.Contains(err.Error(), "garbage.wasm") || !strings.Contains(err.Error(), "single.wasm") {
		t.Errorf("expected error to name failing modules, got %v", err)
	}

	if len(descs) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(descs))
	}
	if descs[0].Identity != "wasm:counter" || descs[0].Description != "counts things" {
		t.Errorf("unexpected descriptor: %+v", descs[0])
	}
}

func TestGenerateAndSave(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "counter.wasm", generateModule)

	src := NewSource(nil, HostConfig{}, dir)
	defer src.Close(context.Background())

	factory, err := src.Resolve(context.Background(), "counter")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	p, err := factory()
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	ctx := context.Background()
	counts, err := p.GenerateAndSave(ctx, engine.Request{OutputDir: filepath.Join(t.TempDir(), "out")})
	if err != nil {
		t.Fatalf("GenerateAndSave failed: %v", err)
	}
	if counts.Created != 3 || counts.Changed != 0 {
		t.Errorf("expected (3, 0), got %+v", counts)
	}

	closer, ok := p.(engine.ContextCloser)
	if !ok {
		t.Fatal("expected wasm provider to implement ContextCloser")
	}
	if err := closer.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestChecksumVerification(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "counter.wasm", generateModule)

	sum := sha256.Sum256(generateModule)
	good := hex.EncodeToString(sum[:])

	t.Run("match", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "counter.yaml"), []byte("checksum: "+good+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		descs, err := NewSource(nil, HostConfig{}, dir).Enumerate(context.Background())
		if err != nil || len(descs) != 1 {
			t.Errorf("expected module to be discovered, got %d (%v)", len(descs), err)
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "counter.yaml"), []byte("checksum: deadbeef\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		descs, err := NewSource(nil, HostConfig{}, dir).Enumerate(context.Background())
		if err == nil || len(descs) != 0 {
			t.Errorf("expected checksum mismatch to reject module, got %d (%v)", len(descs), err)
		}
	})
}

func TestResolveMissingModule(t *testing.T) {
	src := NewSource(nil, HostConfig{}, t.TempDir())
	_, err := src.Resolve(context.Background(), "nothing")
	if !errors.Is(err, engine.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestEnumerateBrokenFirstShadowsLater(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeModule(t, first, "counter.wasm", []byte("not a module"))
	writeModule(t, second, "counter.wasm", generateModule)

	src := NewSource(nil, HostConfig{}, first, second)
	defer src.Close(context.Background())

	descs, err := src.Enumerate(context.Background())
	if err == nil || !strings.Contains(err.Error(), filepath.Join(first, "counter.wasm")) {
		t.Fatalf("expected failure naming the first counter.wasm, got %v", err)
	}
	if len(descs) != 0 {
		t.Fatalf("expected broken module to hide later ones, got %+v", descs)
	}
}

func TestHostFunctions(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()
	writeModule(t, dir, "writer.wasm", hostImportModule)

	var logs bytes.Buffer
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "info", Format: "json"}, &logs)
	src := NewSource(logger, HostConfig{}, dir)
	defer src.Close(context.Background())

	descs, err := src.Enumerate(context.Background())
	if err != nil || len(descs) != 1 {
		t.Fatalf("expected module importing env to be discovered, got %d (%v)", len(descs), err)
	}

	run := func() engine.Counts {
		t.Helper()
		ctx := context.Background()
		factory, err := src.Resolve(ctx, "writer")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		p, err := factory()
		if err != nil {
			t.Fatalf("factory failed: %v", err)
		}
		defer p.(engine.ContextCloser).Close(ctx)

		counts, err := p.GenerateAndSave(ctx, engine.Request{OutputDir: out})
		if err != nil {
			t.Fatalf("GenerateAndSave failed: %v", err)
		}
		return counts
	}

	if counts := run(); counts.Created != 1 || counts.Changed != 0 {
		t.Errorf("first run: expected write_file to report created, got %+v", counts)
	}
	if counts := run(); counts.Created != 0 || counts.Changed != 0 {
		t.Errorf("second run: expected write_file to report unchanged, got %+v", counts)
	}

	data, err := os.ReadFile(filepath.Join(out, "a.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("unexpected artifact %q (%v)", string(data), err)
	}
	if !strings.Contains(logs.String(), "log!") {
		t.Errorf("expected guest log message, got %s", logs.String())
	}
}
