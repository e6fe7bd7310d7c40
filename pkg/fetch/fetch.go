// Package fetch retrieves mirror files over http(s)://, file:// and sftp://.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scratchlinux/slpkg/pkg/telemetry"
)

var (
	// ErrNotFound is returned when the remote resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedScheme is returned for URL schemes with no transport.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
)

// Fetcher copies the resource at rawURL to the local file dest.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dest string) error
}

// Mux dispatches on the URL scheme.
type Mux struct {
	transports map[string]Fetcher
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
}

// Option configures a Mux.
type Option func(*Mux)

// WithTransport registers f for scheme, replacing any default.
func WithTransport(scheme string, f Fetcher) Option {
	return func(m *Mux) { m.transports[scheme] = f }
}

// WithMetrics records fetch outcomes.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Mux) { m.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Mux) { m.logger = logger }
}

// New returns a Mux with http, https and file transports. sftp is only
// available when registered with WithTransport.
func New(opts ...Option) *Mux {
	httpFetcher := NewHTTPFetcher(nil)
	m := &Mux{
		transports: map[string]Fetcher{
			"http":  httpFetcher,
			"https": httpFetcher,
			"file":  FileFetcher{},
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fetch implements Fetcher.
func (m *Mux) Fetch(ctx context.Context, rawURL, dest string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL %q: %w", rawURL, err)
	}

	f, ok := m.transports[u.Scheme]
	if !ok {
		m.metrics.RecordFetch(u.Scheme, "unsupported")
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	m.logger.Debug().Str("url", rawURL).Str("dest", dest).Msg("fetching")

	err = f.Fetch(ctx, rawURL, dest)
	switch {
	case err == nil:
		m.metrics.RecordFetch(u.Scheme, "ok")
	case errors.Is(err, ErrNotFound):
		m.metrics.RecordFetch(u.Scheme, "not_found")
	default:
		m.metrics.RecordFetch(u.Scheme, "error")
	}
	return err
}

// Join appends path elements to a base URL.
func Join(base string, elem ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.Join(elem, "/")
	}
	return u.JoinPath(elem...).String()
}

// Resolve returns ref unchanged if it is an absolute URL, otherwise ref
// joined onto base.
func Resolve(base, ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return ref
	}
	return Join(base, ref)
}

// FileName returns the last path element of rawURL, ignoring any query.
func FileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

var archiveAliases = map[string]string{
	"tgz":  "gz",
	"tbz2": "bz2",
	"tbz":  "bz2",
	"txz":  "xz",
	"tzst": "zst",
}

// ArchiveName returns the canonical local name <name>-<version>.tar.<ext>
// for a source URL, where ext is the last extension of the remote file.
func ArchiveName(name, version, rawURL string) (string, error) {
	ext := path.Ext(FileName(rawURL))
	if ext == "" || ext == "." {
		return "", fmt.Errorf("source URL %q has no file extension", rawURL)
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if alias, ok := archiveAliases[ext]; ok {
		ext = alias
	}
	return fmt.Sprintf("%s-%s.tar.%s", name, version, ext), nil
}

// writeFile streams r to dest through a temporary file in the same
// directory, so dest only ever holds a complete download.
func writeFile(ctx context.Context, r io.Reader, dest string) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
