// Package vcs acquires sources that track a git repository instead of a
// release tarball. Every command targets its working copy with git -C, so
// the process working directory is never changed.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scratchlinux/slpkg/pkg/manifest"
)

// Action reports what Sync did.
type Action string

const (
	ActionClone Action = "clone"
	ActionPull  Action = "pull"
)

// Git runs the git CLI through an executor.
type Git struct {
	exec    manifest.Executor
	binary  string
	environ func() []string
	logger  zerolog.Logger
}

// NewGit returns a Git using exec. A nil exec runs real processes.
func NewGit(exec manifest.Executor, logger zerolog.Logger) *Git {
	if exec == nil {
		exec = manifest.ExecRunner{}
	}
	return &Git{
		exec:    exec,
		binary:  "git",
		environ: os.Environ,
		logger:  logger,
	}
}

// Sync clones url into dir, or pulls when dir already holds a working copy.
// Both paths converge on the same directory.
func (g *Git) Sync(ctx context.Context, url, dir string) (Action, error) {
	if IsWorkingCopy(dir) {
		g.logger.Info().Str("dir", dir).Msg("updating working copy")
		if _, err := g.Run(ctx, dir, "pull", "--ff-only"); err != nil {
			return ActionPull, err
		}
		return ActionPull, nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return ActionClone, fmt.Errorf("failed to create %s: %w", filepath.Dir(dir), err)
	}
	g.logger.Info().Str("url", url).Str("dir", dir).Msg("cloning repository")
	if _, err := g.run(ctx, "", "clone", "--", url, dir); err != nil {
		return ActionClone, err
	}
	return ActionClone, nil
}

// Run executes a git command targeting dir and returns stdout.
func (g *Git) Run(ctx context.Context, dir string, args ...string) (string, error) {
	return g.run(ctx, dir, args...)
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	argv := []string{g.binary}
	if dir != "" {
		argv = append(argv, "-C", dir)
	}
	argv = append(argv, args...)

	var stdout, stderr bytes.Buffer
	code, err := g.exec.Run(ctx, manifest.Command{
		Argv:   argv,
		Env:    append(g.environ(), "GIT_TERMINAL_PROMPT=0"),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	if code != 0 {
		return "", fmt.Errorf("git %s in %s: exit status %d (stderr: %s)",
			strings.Join(args, " "), dir, code, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// IsWorkingCopy reports whether dir contains a .git entry.
func IsWorkingCopy(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
