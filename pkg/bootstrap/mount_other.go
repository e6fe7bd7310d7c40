//go:build !linux

package bootstrap

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// UnixMounter is only implemented on Linux.
type UnixMounter struct {
	Logger zerolog.Logger
}

// Mount implements Mounter.
func (UnixMounter) Mount(Mount, string) error { return errors.ErrUnsupported }

// Unmount implements Mounter.
func (UnixMounter) Unmount(string) error { return errors.ErrUnsupported }

// IsMountPoint is only implemented on Linux.
func IsMountPoint(string) (bool, error) { return false, errors.ErrUnsupported }

// ExecRunner is only implemented on Linux.
type ExecRunner struct{}

// Run implements ChildRunner.
func (ExecRunner) Run(context.Context, Child) (int, error) { return -1, errors.ErrUnsupported }
