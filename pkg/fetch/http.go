package fetch

import (
	"context"
	"fmt"
	"net/http"
)

// UserAgent is sent with every HTTP request.
var UserAgent = "sl-pkg"

// HTTPFetcher downloads over http:// and https://.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher using client, or http.DefaultClient.
// Cancellation comes from the request context; there is no client timeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher. 404 and 410 map to ErrNotFound.
func (h *HTTPFetcher) Fetch(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("failed to fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	return writeFile(ctx, resp.Body, dest)
}
