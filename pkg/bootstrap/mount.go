package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Mount describes one filesystem mounted under the bootstrap target.
type Mount struct {
	Source string
	// Target is relative to the bootstrap root.
	Target string
	FSType string
	Bind   bool
	NoSuid bool
	NoDev  bool
	Data   string
}

func (m Mount) String() string {
	if m.Bind {
		return fmt.Sprintf("bind %s on %s", m.Source, m.Target)
	}
	return fmt.Sprintf("%s on %s type %s", m.Source, m.Target, m.FSType)
}

// Mounter performs mount and unmount system calls on absolute paths.
type Mounter interface {
	Mount(m Mount, target string) error
	Unmount(target string) error
}

// chrootMounts are the virtual filesystems every chroot receives, in mount
// order. dev/shm is handled separately.
var chrootMounts = []Mount{
	{Source: "/dev", Target: "dev", Bind: true},
	{Source: "devpts", Target: "dev/pts", FSType: "devpts", Data: "gid=5,mode=0620"},
	{Source: "proc", Target: "proc", FSType: "proc"},
	{Source: "sysfs", Target: "sys", FSType: "sysfs"},
	{Source: "tmpfs", Target: "run", FSType: "tmpfs"},
}

var shmMount = Mount{Source: "tmpfs", Target: "dev/shm", FSType: "tmpfs", NoSuid: true, NoDev: true}

// mountTable tracks what has been mounted so teardown can reverse it.
type mountTable struct {
	root    string
	mounter Mounter
	logger  zerolog.Logger
	mounted []string
}

func (t *mountTable) mount(m Mount) error {
	target := filepath.Join(t.root, m.Target)
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", target, err)
	}
	if err := t.mounter.Mount(m, target); err != nil {
		return fmt.Errorf("failed to mount %s: %w", m, err)
	}
	t.logger.Debug().Str("mount", m.String()).Msg("mounted")
	t.mounted = append(t.mounted, target)
	return nil
}

// setup mounts the standard set. A dev/shm symlink inside the target gets
// its destination directory created instead of a tmpfs.
func (t *mountTable) setup() error {
	for _, m := range chrootMounts {
		if err := t.mount(m); err != nil {
			return err
		}
	}

	shm := filepath.Join(t.root, shmMount.Target)
	link, err := os.Readlink(shm)
	if err != nil {
		return t.mount(shmMount)
	}

	dir, err := resolveInRoot(t.root, filepath.Dir(shm), link)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.Chmod(dir, os.ModeSticky|0777); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", dir, err)
	}
	t.logger.Debug().Str("dir", dir).Msg("dev/shm is a symlink; created its target")
	return nil
}

// teardown unmounts in reverse order and reports every failure.
func (t *mountTable) teardown() error {
	var errs []error
	for i := len(t.mounted) - 1; i >= 0; i-- {
		target := t.mounted[i]
		if err := t.mounter.Unmount(target); err != nil {
			errs = append(errs, fmt.Errorf("failed to unmount %s: %w", target, err))
			continue
		}
		t.logger.Debug().Str("target", target).Msg("unmounted")
	}
	t.mounted = nil
	return errors.Join(errs...)
}

// resolveInRoot resolves a symlink destination found in dir as if root
// were /. The result never leaves root.
func resolveInRoot(root, dir, link string) (string, error) {
	var p string
	if filepath.IsAbs(link) {
		p = filepath.Join(root, link)
	} else {
		p = filepath.Join(dir, link)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("symlink %s points outside %s", link, root)
	}
	return p, nil
}
