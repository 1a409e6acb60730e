// Package spotify is the polling source: it reads the "currently playing"
// endpoint with a bearer token maintained by an external authorization flow.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/care/nowplaying/internal/source"
)

// TokenFunc returns the current access token ("" when not authorized)
type TokenFunc func() (string, error)

// FileToken reads the token from path on every call, so an external refresher
// can rotate it without restarting the service
func FileToken(path string) TokenFunc {
	return func() (string, error) {
		if path == "" {
			return "", nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil
			}
			return "", fmt.Errorf("read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
}

// Client implements source.PollingClient
type Client struct {
	endpoint string
	token    TokenFunc
	http     *http.Client
	timeout  time.Duration
}

// New creates a client; httpClient may be nil
func New(endpoint string, token TokenFunc, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     httpClient,
		timeout:  timeout,
	}
}

// IsAuthenticated reports whether a token is available
func (c *Client) IsAuthenticated() bool {
	tok, err := c.token()
	return err == nil && tok != ""
}

// CurrentPlayback implements source.PollingClient.
// 204 No Content means nothing is playing and yields (nil, nil).
func (c *Client) CurrentPlayback(ctx context.Context) (*source.SpotifyPlayback, error) {
	tok, err := c.token()
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, source.ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch playback: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("fetch playback: status %d: %w", resp.StatusCode, source.ErrNotAuthenticated)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("fetch playback: status %d: %w", resp.StatusCode, source.ErrTransient)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch playback: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read playback: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	var pb source.SpotifyPlayback
	if err := json.Unmarshal(body, &pb); err != nil {
		return nil, fmt.Errorf("decode playback: %w", err)
	}
	return &pb, nil
}
