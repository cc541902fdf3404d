package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/resgen/pkg/engine"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

// executeOutput runs the command and returns what it wrote to stdout and stderr.
func executeOutput(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// writeSettings creates a script directory with hello.star and a settings
// file pointing at it, returning the settings path.
func writeSettings(t *testing.T, dir string, extra ...string) string {
	t.Helper()
	scripts := filepath.Join(dir, "scripts")
	if err := os.MkdirAll(scripts, 0o755); err != nil {
		t.Fatal(err)
	}
	script := "# Says hello\ndef generate():\n    write_file(\"hello.txt\", \"hello\")\n"
	if err := os.WriteFile(filepath.Join(scripts, "hello.star"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	lines := append([]string{
		"output_path: " + filepath.Join(dir, "out"),
		"log_dir: " + dir,
		"script_dirs: [" + scripts + "]",
		"wasm_dirs: []",
		"history_path: " + filepath.Join(dir, "history.db"),
	}, extra...)
	path := filepath.Join(dir, "resgen.yaml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListJSON(t *testing.T) {
	path := writeSettings(t, t.TempDir())

	stdout, stderr, err := executeOutput(t, "list", "--json", "--config", path)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	var descs []engine.Descriptor
	if err := json.Unmarshal([]byte(stdout), &descs); err != nil {
		t.Fatalf("stdout is not a single JSON document: %v\n%s", err, stdout)
	}
	found := false
	for _, d := range descs {
		if d.Identity == "script:hello" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected script:hello to be listed, got %+v", descs)
	}

	if !strings.Contains(stderr, `"type":"providers.discovered"`) {
		t.Errorf("expected discovery event on stderr, got %q", stderr)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resgen.yaml")

	if err := execute(t, "config", "init", "--config", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected settings file: %v", err)
	}
	if !strings.Contains(string(data), "log_generation: false") {
		t.Errorf("unexpected settings file:\n%s", data)
	}

	if err := execute(t, "config", "validate", "--config", path); err != nil {
		t.Errorf("regenerated settings should validate: %v", err)
	}
}

func TestRunInvalidIdentity(t *testing.T) {
	if err := execute(t, "run", "no-source"); err == nil {
		t.Error("expected error for identity without source")
	}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	path := writeSettings(t, dir, "log_generation: true", "log_file: run.log")

	if err := execute(t, "generate", "--config", path); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "out", "hello.txt")); err != nil {
		t.Errorf("expected script artifact: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "run.log"))
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if !strings.Contains(string(data), "Discovered provider: script:hello") {
		t.Errorf("unexpected log:\n%s", data)
	}

	if err := execute(t, "history", "--config", path); err != nil {
		t.Errorf("history failed: %v", err)
	}
}
