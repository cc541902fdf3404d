package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/resgen/pkg/engine"
)

const testPolicy = `
package resgen.admission

import rego.v1

default allow := false

allow if input.source == "builtin"

allow if {
	input.source == "script"
	not startswith(input.name, "draft-")
}

deny contains msg if {
	input.source == "wasm"
	msg := "wasm providers are disabled"
}
`

func TestAdmit(t *testing.T) {
	ctx := context.Background()
	a, err := NewAdmission(ctx, "test.rego", testPolicy, nil)
	if err != nil {
		t.Fatalf("NewAdmission failed: %v", err)
	}

	tests := []struct {
		id      engine.Identity
		allowed bool
		reason  string
	}{
		{"builtin:artifact-index", true, ""},
		{"script:docs", true, ""},
		{"script:draft-docs", false, ErrNotAllowed.Error()},
		{"wasm:counter", false, "wasm providers are disabled"},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			err := a.Admit(ctx, tt.id)
			if tt.allowed {
				if err != nil {
					t.Errorf("expected %s to be admitted, got %v", tt.id, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected %s to be denied", tt.id)
			}
			if err.Error() != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, err.Error())
			}
		})
	}
}

func TestAdmitUndefinedPackage(t *testing.T) {
	ctx := context.Background()
	a, err := NewAdmission(ctx, "other.rego", "package other\n\nallow := true\n", nil)
	if err != nil {
		t.Fatalf("NewAdmission failed: %v", err)
	}

	if err := a.Admit(ctx, "builtin:x"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("expected ErrNotAllowed for undefined policy, got %v", err)
	}
}

func TestNewAdmissionInvalid(t *testing.T) {
	if _, err := NewAdmission(context.Background(), "bad.rego", "package resgen.admission\n\nallow if {", nil); err == nil {
		t.Error("expected compile error")
	}
}

func TestLoadAdmission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admission.rego")
	if err := os.WriteFile(path, []byte(testPolicy), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := LoadAdmission(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("LoadAdmission failed: %v", err)
	}
	if err := a.Admit(context.Background(), "builtin:x"); err != nil {
		t.Errorf("expected builtin to be admitted: %v", err)
	}

	if _, err := LoadAdmission(context.Background(), filepath.Join(t.TempDir(), "missing.rego"), nil); err == nil {
		t.Error("expected error for missing policy file")
	}
}

func TestEngineDenial(t *testing.T) {
	ctx := context.Background()
	a, err := NewAdmission(ctx, "test.rego", testPolicy, nil)
	if err != nil {
		t.Fatal(err)
	}

	var admitter engine.Admitter = a
	err = admitter.Admit(ctx, "wasm:counter")
	denied := engine.NewDeniedError("wasm:counter", err)
	if !engine.IsDenied(denied) {
		t.Errorf("expected denied classification, got %v", engine.ClassOf(denied))
	}
}
