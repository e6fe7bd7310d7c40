package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scratchlinux/slpkg/pkg/transports/ssh"
)

// SFTPFetcher downloads from sftp:// mirrors, keeping one connection per
// user, host and port for the life of the fetcher.
type SFTPFetcher struct {
	user       string
	keyPath    string
	knownHosts string
	logger     zerolog.Logger

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSFTPFetcher returns a fetcher using the given default credentials.
// Empty values fall back to ssh.DefaultConfig behaviour.
func NewSFTPFetcher(user, keyPath, knownHosts string, logger zerolog.Logger) *SFTPFetcher {
	return &SFTPFetcher{
		user:       user,
		keyPath:    keyPath,
		knownHosts: knownHosts,
		logger:     logger,
		clients:    make(map[string]*ssh.Client),
	}
}

// Fetch implements Fetcher.
func (s *SFTPFetcher) Fetch(ctx context.Context, rawURL, dest string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL %q: %w", rawURL, err)
	}

	client, err := s.client(ctx, u)
	if err != nil {
		return err
	}

	if err := client.Download(ctx, u.Path, dest); err != nil {
		if errors.Is(err, ssh.ErrRemoteNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
		}
		return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	return nil
}

func (s *SFTPFetcher) client(ctx context.Context, u *url.URL) (*ssh.Client, error) {
	cfg, err := ssh.ConfigFromURL(u, s.user, s.keyPath, s.knownHosts)
	if err != nil {
		return nil, err
	}
	key := cfg.User + "@" + cfg.Address()

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[key]; ok {
		return c, nil
	}
	c, err := ssh.Dial(ctx, cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", key, err)
	}
	s.clients[key] = c
	return c, nil
}

// Close closes every open connection.
func (s *SFTPFetcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, c := range s.clients {
		errs = append(errs, c.Close())
		delete(s.clients, key)
	}
	return errors.Join(errs...)
}
