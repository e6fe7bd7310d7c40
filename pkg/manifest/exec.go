package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Command is a single argv invocation requested by a hook. No shell is involved.
type Command struct {
	Argv   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs hook commands.
type Executor interface {
	// Run executes cmd and returns its exit code. The error is non-nil only
	// when the command could not be started or was interrupted.
	Run(ctx context.Context, cmd Command) (int, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run implements Executor.
func (ExecRunner) Run(ctx context.Context, c Command) (int, error) {
	if len(c.Argv) == 0 {
		return -1, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	if ctx.Err() != nil {
		return -1, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to execute command: %w", err)
}
