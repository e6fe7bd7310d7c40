package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// HostFiles are copied from the host into the target so the chroot can
// resolve users, hosts and DNS.
var HostFiles = []string{
	"/etc/passwd",
	"/etc/group",
	"/etc/profile",
	"/etc/inputrc",
	"/etc/shells",
	"/etc/sysconfig/clock",
	"/etc/sysconfig/console",
	"/etc/sysconfig/network",
	"/etc/resolv.conf",
	"/etc/hostname",
	"/etc/hosts",
}

// HostRuleDirs have every regular file copied.
var HostRuleDirs = []string{"/etc/udev/rules.d"}

// copyHostFiles copies HostFiles and HostRuleDirs from hostRoot into target.
// Missing host files are skipped.
func copyHostFiles(hostRoot, target string, logger zerolog.Logger) error {
	paths := append([]string(nil), HostFiles...)
	for _, dir := range HostRuleDirs {
		entries, err := os.ReadDir(filepath.Join(hostRoot, dir))
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug().Str("dir", dir).Msg("host directory missing; skipping")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}

	for _, p := range paths {
		src := filepath.Join(hostRoot, p)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			logger.Debug().Str("file", p).Msg("host file missing; skipping")
			continue
		}
		if err := copyFile(src, filepath.Join(target, p)); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies src to dst with src's permissions, creating parents.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer sourceFile.Close()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	// A symlink at dst would redirect the write outside the target.
	if info, err := os.Lstat(dst); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("failed to replace symlink %s: %w", dst, err)
		}
	}

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := destFile.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return os.Chmod(dst, sourceInfo.Mode().Perm())
}
