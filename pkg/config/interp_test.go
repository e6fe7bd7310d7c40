package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParse_Bindings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		key   string
		want  string
	}{
		{name: "plain", input: "MIRROR=https://mirror.example.org/pkgs", key: "MIRROR", want: "https://mirror.example.org/pkgs"},
		{name: "double quoted", input: `PAGER="less -R"`, key: "PAGER", want: "less -R"},
		{name: "single quoted", input: `EDITOR='vim'`, key: "EDITOR", want: "vim"},
		{name: "empty", input: "POLICY_DIR=", key: "POLICY_DIR", want: ""},
		{name: "equals in value", input: "FLAGS=--prefix=/usr", key: "FLAGS", want: "--prefix=/usr"},
		{name: "trailing comment", input: "LOG_LEVEL=debug # noisy", key: "LOG_LEVEL", want: "debug"},
		{name: "hash inside word", input: "URL=https://host/a#frag", key: "URL", want: "https://host/a#frag"},
		{name: "brace reference kept", input: "CACHE_DIR=${HOME}/cache", key: "CACHE_DIR", want: "${HOME}/cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Parse(strings.NewReader(tt.input), "test.conf")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, ok := b.Get(tt.key)
			if !ok {
				t.Fatalf("expected %s to be bound", tt.key)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParse_SkipsCommentsAndBlanks(t *testing.T) {
	input := `
# global configuration
   # indented comment

MIRROR=file:///srv/mirror
`
	b, err := Parse(strings.NewReader(input), "test.conf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 binding, got %d", b.Len())
	}
}

func TestParse_Lists(t *testing.T) {
	input := `PATCHES=(one.patch "two words.patch" three.patch)
DEPENDS=()
SINGLE=glibc`
	b, err := Parse(strings.NewReader(input), "test.conf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"one.patch", "two words.patch", "three.patch"}
	if got := b.List("PATCHES"); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := b.List("DEPENDS"); len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
	if got := b.List("SINGLE"); !reflect.DeepEqual(got, []string{"glibc"}) {
		t.Errorf("expected scalar promoted to list, got %v", got)
	}
	if v, _ := b.Lookup("PATCHES"); !v.IsList {
		t.Error("expected PATCHES to be list-valued")
	}
}

func TestParse_ExportPrefix(t *testing.T) {
	b, err := Parse(strings.NewReader("env:CFLAGS=-O2\nMIRROR=file:///m"), "test.conf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := b.Get("CFLAGS"); !ok || v != "-O2" {
		t.Errorf("expected CFLAGS=-O2, got %q (bound=%v)", v, ok)
	}
	exported := b.Exported()
	if len(exported) != 1 || exported["CFLAGS"] != "-O2" {
		t.Errorf("expected only CFLAGS exported, got %v", exported)
	}
}

func TestParse_KeepsFirstPositionOnRebind(t *testing.T) {
	b, err := Parse(strings.NewReader("A=1\nB=2\nA=3"), "test.conf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Keys(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("expected [A B], got %v", got)
	}
	if v, _ := b.Get("A"); v != "3" {
		t.Errorf("expected last value 3, got %s", v)
	}
}

func TestParse_ForbiddenConstructs(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "command substitution", line: "MIRROR=$(curl evil)"},
		{name: "backtick", line: "MIRROR=`id`"},
		{name: "separator", line: "MIRROR=x; rm -rf /"},
		{name: "background", line: "MIRROR=x & sleep 1"},
		{name: "pipe", line: "MIRROR=x | sh"},
		{name: "quoted substitution", line: `MIRROR="$(id)"`},
		{name: "inside list", line: "PATCHES=(a $(id))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "CACHE_DIR=/var/cache/sl-pkg\n" + tt.line + "\nLATER=never"
			b, err := Parse(strings.NewReader(input), "test.conf")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if b != nil {
				t.Error("expected no bindings on failure")
			}
			if !errors.Is(err, ErrForbiddenConstruct) {
				t.Errorf("expected ErrForbiddenConstruct, got %v", err)
			}
			var synErr *SyntaxError
			if !errors.As(err, &synErr) {
				t.Fatalf("expected *SyntaxError, got %T", err)
			}
			if synErr.Line != 2 {
				t.Errorf("expected line 2, got %d", synErr.Line)
			}
		})
	}
}

func TestParse_MalformedLines(t *testing.T) {
	tests := []string{
		"just some words",
		"=value",
		"1KEY=value",
		"KEY NAME=value",
		"KEY=two words",
		`KEY="unterminated`,
		"KEY=(a b",
		"KEY=(a b) trailing",
	}

	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			_, err := Parse(strings.NewReader(line), "test.conf")
			if !errors.Is(err, ErrMalformedLine) {
				t.Errorf("expected ErrMalformedLine, got %v", err)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sl-pkg.conf")
	if err := os.WriteFile(path, []byte("MIRROR=file:///srv/mirror\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	b, err := ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := b.Get("MIRROR"); v != "file:///srv/mirror" {
		t.Errorf("expected mirror, got %q", v)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Error("expected error for missing file")
	}
}
