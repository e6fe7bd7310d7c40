package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{name: "bash"},
		{name: "gcc-pass1"},
		{name: "libstdc++"},
		{name: "python3"},
		{name: "", wantErr: true},
		{name: "Bash", wantErr: true},
		{name: "../etc", wantErr: true},
		{name: "foo/bar", wantErr: true},
		{name: "-rf", wantErr: true},
		{name: "foo bar", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("expected ErrInvalidName, got %v", err)
			}
		})
	}
}

func TestEnsure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "var", "cache", "sl-pkg")
	c := New(root)

	if err := c.Ensure(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected root directory to exist: %v", err)
	}

	// Idempotent.
	if err := c.Ensure(); err != nil {
		t.Errorf("expected second Ensure to succeed, got %v", err)
	}
}

func TestEnsure_NotDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	if err := os.WriteFile(root, []byte("oops"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	err := New(root).Ensure()
	if !errors.Is(err, ErrNotDirectory) {
		t.Errorf("expected ErrNotDirectory, got %v", err)
	}
}

func TestPrepare(t *testing.T) {
	c := New(t.TempDir())

	dir, created, err := c.Prepare("zlib")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected first Prepare to create the directory")
	}
	if dir != filepath.Join(c.Root(), "zlib") {
		t.Errorf("unexpected dir %s", dir)
	}

	again, created, err := c.Prepare("zlib")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || again != dir {
		t.Errorf("expected reuse of %s, got %s (created=%v)", dir, again, created)
	}

	if _, _, err := c.Prepare("../escape"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	c := New(t.TempDir())
	for _, name := range []string{"bash", "zlib"} {
		dir, _, err := c.Prepare(name)
		if err != nil {
			t.Fatalf("prepare failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "PACKAGE"), []byte("x"), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	if err := c.Purge(); err != nil {
		t.Fatalf("purge failed: %v", err)
	}

	entries, err := os.ReadDir(c.Root())
	if err != nil {
		t.Fatalf("expected root to remain: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty root, got %d entries", len(entries))
	}

	if err := New(filepath.Join(c.Root(), "missing")).Purge(); err != nil {
		t.Errorf("expected purge of missing root to succeed, got %v", err)
	}
}
