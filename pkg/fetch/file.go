package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
)

// FileFetcher copies from file:// URLs, used for local mirrors.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(ctx context.Context, rawURL, dest string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL %q: %w", rawURL, err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return fmt.Errorf("file URL %q names a remote host", rawURL)
	}

	src, err := os.Open(u.Path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", u.Path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", u.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", u.Path)
	}

	return writeFile(ctx, src, dest)
}
