// Package cache maps package names to directories under a cache root.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var (
	// ErrInvalidName is returned for names outside [a-z0-9+-].
	ErrInvalidName = errors.New("invalid package name")

	// ErrNotDirectory is returned when a cache root exists but is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+\-]*$`)

// ValidateName checks that name is usable as a package name and directory.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (allowed: lowercase letters, digits, + and -)", ErrInvalidName, name)
	}
	return nil
}

// Cache is one cache root. The system root serves privileged operations and
// the user root serves download-only operations.
type Cache struct {
	root string
}

// New returns a cache rooted at root. Call Ensure before use.
func New(root string) *Cache {
	return &Cache{root: filepath.Clean(root)}
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Ensure creates the root with mode 0755 if missing. A root that exists but
// is not a directory is an error.
func (c *Cache) Ensure() error {
	info, err := os.Stat(c.root)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("cache root %s: %w", c.root, ErrNotDirectory)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to stat cache root %s: %w", c.root, err)
	}

	if err := os.MkdirAll(c.root, 0755); err != nil {
		return fmt.Errorf("failed to create cache root %s: %w", c.root, err)
	}
	return nil
}

// PackageDir returns the directory for name without creating it.
func (c *Cache) PackageDir(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.root, name), nil
}

// Prepare creates or reuses the directory for name. created reports whether
// this call made it, so a failed fetch can remove only what it created.
func (c *Cache) Prepare(name string) (dir string, created bool, err error) {
	dir, err = c.PackageDir(name)
	if err != nil {
		return "", false, err
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return "", false, fmt.Errorf("package cache %s: %w", dir, ErrNotDirectory)
		}
		return dir, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("failed to stat package cache %s: %w", dir, err)
	}

	if err := os.Mkdir(dir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create package cache %s: %w", dir, err)
	}
	return dir, true, nil
}

// Dir returns a named directory under the root, creating it if missing.
// It is used for non-package entries such as base-<version>.
func (c *Cache) Dir(name string) (string, error) {
	dir := filepath.Join(c.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// Purge removes everything under the root but keeps the root itself.
func (c *Cache) Purge() error {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache root %s: %w", c.root, err)
	}

	var errs []error
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(c.root, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
