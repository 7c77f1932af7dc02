package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

var fetchedAt = time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)

func testClient() *Client {
	return NewClient(nil, clockwork.NewFakeClockAt(fetchedAt))
}

func testSource(url string) domain.Source {
	return domain.Source{
		Name:     "nashik-cams",
		Kind:     domain.SourceTelemetry,
		URL:      url,
		Interval: 5 * time.Second,
		Timeout:  time.Second,
	}
}

func requireFetchKind(t *testing.T, err error, want domain.FetchErrorKind) {
	t.Helper()
	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe), "want *domain.FetchError, got %T: %v", err, err)
	assert.Equal(t, want, fe.Kind)
	assert.Equal(t, "nashik-cams", fe.Source)
}

func TestFetchSnapshot_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"camera_id":"CAM101","timestamp":1714143000,"car_count":4}]`))
	}))
	defer srv.Close()

	p, err := testClient().FetchSnapshot(context.Background(), testSource(srv.URL))

	require.NoError(t, err)
	assert.Equal(t, "nashik-cams", p.Source)
	assert.Equal(t, domain.SourceTelemetry, p.Kind)
	assert.Equal(t, fetchedAt, p.FetchedAt)
	assert.Contains(t, string(p.Body), "CAM101")
}

func TestFetchSnapshot_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient().FetchSnapshot(context.Background(), testSource(srv.URL))

	requireFetchKind(t, err, domain.FetchBadResponse)
	assert.Contains(t, err.Error(), "status 502")
}

func TestFetchSnapshot_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	_, err := testClient().FetchSnapshot(context.Background(), testSource(srv.URL))

	requireFetchKind(t, err, domain.FetchBadResponse)
}

func TestFetchSnapshot_OversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`"` + strings.Repeat("x", maxBodyBytes) + `"`))
	}))
	defer srv.Close()

	_, err := testClient().FetchSnapshot(context.Background(), testSource(srv.URL))

	requireFetchKind(t, err, domain.FetchBadResponse)
}

func TestFetchSnapshot_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src := testSource(srv.URL)
	src.Timeout = 50 * time.Millisecond
	_, err := testClient().FetchSnapshot(context.Background(), src)

	requireFetchKind(t, err, domain.FetchTimeout)
}

func TestFetchSnapshot_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := testClient().FetchSnapshot(context.Background(), testSource(url))

	requireFetchKind(t, err, domain.FetchUnreachable)
}
