package bootstrap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/scratchlinux/slpkg/pkg/cache"
	"github.com/scratchlinux/slpkg/pkg/config"
	"github.com/scratchlinux/slpkg/pkg/fetch"
	"github.com/scratchlinux/slpkg/pkg/manifest"
)

const (
	// ReleaseFile is the descriptor name inside a release directory.
	ReleaseFile = "RELEASE"

	releaseDirPrefix = "base-"
)

var (
	// ErrInvalidRelease is returned for descriptors missing URL or WITH_PACKAGES.
	ErrInvalidRelease = errors.New("invalid release descriptor")

	// ErrInvalidVersion is returned for release versions that are not
	// plain version strings.
	ErrInvalidVersion = errors.New("invalid bootstrap version")
)

// Release is a parsed base release descriptor with absolute URLs.
type Release struct {
	Version string

	// BaseURL is the release directory on the mirror.
	BaseURL string

	// Tarball is the base system archive.
	Tarball string

	// PackageList is the file naming the packages installed in the chroot.
	PackageList string
}

// ValidateVersion checks that version is a release version such as 12.1.
func ValidateVersion(version string) error {
	if _, err := manifest.ParseVersion(version); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	return nil
}

// ReleaseDir returns the release directory name for version.
func ReleaseDir(version string) string {
	return releaseDirPrefix + version
}

// ReleaseURL returns the directory URL of version on mirror.
func ReleaseURL(mirror, version string) string {
	return fetch.Join(mirror, ReleaseDir(version))
}

// ParseRelease reads a descriptor with the configuration interpreter and
// resolves its references against baseURL.
func ParseRelease(r io.Reader, name, version, baseURL string) (*Release, error) {
	b, err := config.Parse(r, name)
	if err != nil {
		return nil, err
	}

	tarball, _ := b.Get("URL")
	list, _ := b.Get("WITH_PACKAGES")
	switch {
	case tarball == "":
		return nil, fmt.Errorf("%w: %s: URL is not set", ErrInvalidRelease, name)
	case list == "":
		return nil, fmt.Errorf("%w: %s: WITH_PACKAGES is not set", ErrInvalidRelease, name)
	}

	return &Release{
		Version:     version,
		BaseURL:     baseURL,
		Tarball:     fetch.Resolve(baseURL, tarball),
		PackageList: fetch.Resolve(baseURL, list),
	}, nil
}

// ParseReleaseFile parses the descriptor at path.
func ParseReleaseFile(path, version, baseURL string) (*Release, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open release descriptor: %w", err)
	}
	defer f.Close()
	return ParseRelease(f, path, version, baseURL)
}

// ParsePackageList reads one package name per line. Blank lines and #
// comments are skipped; order is preserved.
func ParsePackageList(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := cache.ValidateName(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read package list: %w", err)
	}
	return names, nil
}
