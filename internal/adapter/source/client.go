// Package source fetches raw snapshots from the upstream telemetry and
// incident endpoints.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// maxBodyBytes caps a single snapshot.
const maxBodyBytes = 4 << 20

// Client performs one bounded HTTP round trip per call. It holds no state
// besides the http.Client and is safe for concurrent use across sources.
type Client struct {
	httpClient *http.Client
	clock      clockwork.Clock
}

// NewClient creates a source client. Per-call timeouts come from the source
// descriptor, not from httpClient.
func NewClient(httpClient *http.Client, clock clockwork.Clock) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, clock: clock}
}

// FetchSnapshot GETs src.URL. Every failure is returned as a *domain.FetchError.
func (c *Client) FetchSnapshot(ctx context.Context, src domain.Source) (domain.RawPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, src.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return domain.RawPayload{}, fetchErr(src, domain.FetchUnreachable, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RawPayload{}, fetchErr(src, transportKind(ctx, err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return domain.RawPayload{}, fetchErr(src, domain.FetchBadResponse,
			fmt.Errorf("status %d: %s", resp.StatusCode, snippet))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return domain.RawPayload{}, fetchErr(src, transportKind(ctx, err), fmt.Errorf("read body: %w", err))
	}
	if len(body) > maxBodyBytes {
		return domain.RawPayload{}, fetchErr(src, domain.FetchBadResponse,
			fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
	}
	if !json.Valid(body) {
		return domain.RawPayload{}, fetchErr(src, domain.FetchBadResponse, errors.New("body is not valid JSON"))
	}

	return domain.RawPayload{
		Source:    src.Name,
		Kind:      src.Kind,
		Body:      body,
		FetchedAt: c.clock.Now().UTC(),
	}, nil
}

// transportKind separates deadline expiry from other transport failures.
// A truncated body read is reported as a bad response unless the deadline
// caused it.
func transportKind(ctx context.Context, err error) domain.FetchErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.FetchTimeout
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.FetchBadResponse
	}
	return domain.FetchUnreachable
}

func fetchErr(src domain.Source, kind domain.FetchErrorKind, err error) *domain.FetchError {
	return &domain.FetchError{Source: src.Name, Kind: kind, Err: err}
}
