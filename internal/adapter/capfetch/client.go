// Package capfetch downloads CAP documents over HTTP: single alerts from the
// NAAD archive mirrors, and operator-configured feeds.
package capfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
)

const (
	userAgent = "naad-alert-ingest"

	// maxBodyBytes caps a single response; CAP documents are small, feeds a
	// little larger.
	maxBodyBytes = 8 << 20
)

// Client fetches CAP documents. It implements pipeline.Fetcher.
type Client struct {
	mirrors    []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client that tries mirrors in the given order.
func NewClient(mirrors []string, timeout time.Duration, logger *slog.Logger) *Client {
	trimmed := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		if m = strings.TrimRight(strings.TrimSpace(m), "/"); m != "" {
			trimmed = append(trimmed, m)
		}
	}
	return &Client{
		mirrors: trimmed,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchReference downloads the alert a heartbeat reference points at,
// returning the first mirror's successful response.
func (c *Client) FetchReference(ctx context.Context, ref domain.Reference) ([]byte, error) {
	path, err := domain.BackfillPath(ref)
	if err != nil {
		return nil, err
	}
	if len(c.mirrors) == 0 {
		return nil, errors.New("no backfill mirrors configured")
	}

	var errs []error
	for _, mirror := range c.mirrors {
		body, err := c.get(ctx, mirror+"/"+path)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("backfill mirror failed", "mirror", mirror, "path", path, "error", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("fetch %s from %d mirrors: %w", path, len(c.mirrors), errors.Join(errs...))
}

// FetchFeed downloads an absolute feed URL.
func (c *Client) FetchFeed(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/xml, text/xml, application/atom+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("read %s: body exceeds %d bytes", url, maxBodyBytes)
	}
	return body, nil
}
