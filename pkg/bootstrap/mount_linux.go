package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// UnixMounter mounts with mount(2). Unmount falls back to a lazy detach
// when the target is busy.
type UnixMounter struct {
	Logger zerolog.Logger
}

// Mount implements Mounter.
func (u UnixMounter) Mount(m Mount, target string) error {
	var flags uintptr
	if m.Bind {
		flags |= unix.MS_BIND
	}
	if m.NoSuid {
		flags |= unix.MS_NOSUID
	}
	if m.NoDev {
		flags |= unix.MS_NODEV
	}
	return unix.Mount(m.Source, target, m.FSType, flags, m.Data)
}

// Unmount implements Mounter.
func (u UnixMounter) Unmount(target string) error {
	err := unix.Unmount(target, 0)
	if err == nil || errors.Is(err, unix.EINVAL) {
		return nil
	}
	u.Logger.Warn().Err(err).Str("target", target).Msg("unmount failed; detaching lazily")
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		return err
	}
	return nil
}

// IsMountPoint reports whether path is on a different device than its parent.
func IsMountPoint(path string) (bool, error) {
	var st, parent unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, err
	}
	if err := unix.Stat(filepath.Dir(filepath.Clean(path)), &parent); err != nil {
		return false, err
	}
	if st.Dev != parent.Dev {
		return true, nil
	}
	// Same device: only the filesystem root is its own parent.
	return st.Ino == parent.Ino, nil
}

// ExecRunner runs the child process chrooted into Child.Root.
type ExecRunner struct{}

// Run implements ChildRunner.
func (ExecRunner) Run(ctx context.Context, c Child) (int, error) {
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = "/"
	cmd.Env = c.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: c.Root}

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("failed to start %s in %s: %w", c.Argv[0], c.Root, err)
	}
	return 0, nil
}
