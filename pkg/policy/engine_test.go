package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func baseInput() *Input {
	return &Input{
		Package: ManifestInput{
			Name:    "foo",
			Version: "1.0",
			URL:     "https://example.org/foo-1.0.tar.gz",
			Patches: []string{},
			Depends: []string{"glibc"},
			Hooks:   []string{"build", "do_install"},
		},
		Context: Context{Operation: "install"},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	expected := []string{"metapackage-hooks", "package-name", "plaintext-transport", "source-scheme"}
	policies := eng.ListPolicies()
	if len(policies) != len(expected) {
		t.Fatalf("expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("expected policy %s, got %s", expected[i], p.Name)
		}
	}
}

func TestEvaluate_BuiltinPolicies(t *testing.T) {
	tests := []struct {
		name          string
		modify        func(*Input)
		expectAllowed bool
		violations    int
		warnings      int
	}{
		{
			name:          "clean manifest",
			modify:        func(*Input) {},
			expectAllowed: true,
		},
		{
			name:          "ftp source",
			modify:        func(in *Input) { in.Package.URL = "ftp://example.org/foo.tar.gz" },
			expectAllowed: false,
			violations:    1,
		},
		{
			name:          "scheme-less patch",
			modify:        func(in *Input) { in.Package.Patches = []string{"fix.patch"} },
			expectAllowed: false,
			violations:    1,
		},
		{
			name:          "plain http warns",
			modify:        func(in *Input) { in.Package.URL = "http://example.org/foo.tar.gz" },
			expectAllowed: true,
			warnings:      1,
		},
		{
			name: "git over ssh",
			modify: func(in *Input) {
				in.Package.Version = "git"
				in.Package.Git = true
				in.Package.URL = "ssh://git@example.org/foo.git"
			},
			expectAllowed: true,
		},
		{
			name:          "bad dependency name",
			modify:        func(in *Input) { in.Package.Depends = []string{"Foo Bar"} },
			expectAllowed: false,
			violations:    1,
		},
		{
			name: "metapackage with hooks",
			modify: func(in *Input) {
				in.Package.Metapackage = true
				in.Package.URL = ""
			},
			expectAllowed: true,
			warnings:      2,
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := baseInput()
			tt.modify(input)

			result, err := eng.Evaluate(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("expected allowed=%v, got %v (violations: %+v)", tt.expectAllowed, result.Allowed, result.Violations)
			}
			if len(result.Violations) != tt.violations {
				t.Errorf("expected %d violations, got %+v", tt.violations, result.Violations)
			}
			if len(result.Warnings) != tt.warnings {
				t.Errorf("expected %d warnings, got %+v", tt.warnings, result.Warnings)
			}
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	rego := `# Only accept sources from our own mirror.
# severity: error
package site.mirror

import rego.v1

deny contains msg if {
	not startswith(input.package.url, "https://src.example.org/")
	msg := sprintf("%s is not mirrored", [input.package.url])
}
`
	if err := os.WriteFile(filepath.Join(dir, "mirror.rego"), []byte(rego), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir, filepath.Join(dir, "missing")}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p, err := eng.GetPolicy("mirror")
	if err != nil {
		t.Fatalf("expected mirror policy: %v", err)
	}
	if p.Severity != SeverityError || p.Description != "Only accept sources from our own mirror." {
		t.Errorf("unexpected policy metadata %+v", p)
	}

	result, err := eng.Evaluate(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected custom policy to block")
	}
	if !strings.Contains(result.Violations[0].Message, "is not mirrored") {
		t.Errorf("unexpected message %q", result.Violations[0].Message)
	}
	if result.Violations[0].Package != "foo" {
		t.Errorf("expected package foo, got %s", result.Violations[0].Package)
	}

	if err := eng.DisablePolicy("mirror"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	result, err = eng.Evaluate(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Error("expected disabled policy to be skipped")
	}
}

func TestLoadPolicies_Invalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package broken\n\ndeny[ {"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := newTestEngine(t).LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Error("expected compile error")
	}
}
