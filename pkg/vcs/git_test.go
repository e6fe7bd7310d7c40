package vcs

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/scratchlinux/slpkg/pkg/manifest"
)

// fakeGit records argv and simulates a clone by creating dir/.git.
type fakeGit struct {
	calls [][]string
	code  int
}

func (f *fakeGit) Run(_ context.Context, cmd manifest.Command) (int, error) {
	f.calls = append(f.calls, cmd.Argv)
	if f.code != 0 {
		_, _ = cmd.Stderr.Write([]byte("fatal: repository not found\n"))
		return f.code, nil
	}
	if cmd.Argv[1] == "clone" {
		dir := cmd.Argv[len(cmd.Argv)-1]
		if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
			return -1, err
		}
	}
	return 0, nil
}

func TestSync_CloneThenPull(t *testing.T) {
	fake := &fakeGit{}
	g := NewGit(fake, zerolog.Nop())
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "tool", "tool")

	action, err := g.Sync(ctx, "https://example.org/tool.git", dir)
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	if action != ActionClone {
		t.Errorf("expected clone, got %s", action)
	}

	action, err = g.Sync(ctx, "https://example.org/tool.git", dir)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if action != ActionPull {
		t.Errorf("expected pull, got %s", action)
	}

	want := [][]string{
		{"git", "clone", "--", "https://example.org/tool.git", dir},
		{"git", "-C", dir, "pull", "--ff-only"},
	}
	if !reflect.DeepEqual(fake.calls, want) {
		t.Errorf("expected %v, got %v", want, fake.calls)
	}
}

func TestSync_Failure(t *testing.T) {
	g := NewGit(&fakeGit{code: 128}, zerolog.Nop())

	_, err := g.Sync(context.Background(), "https://example.org/missing.git", filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "repository not found") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}
