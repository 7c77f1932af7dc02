//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
	"github.com/couchcryptid/traffic-alerts-service/internal/observability"
)

// Live checks against the Mapbox API. Needs MAPBOX_TOKEN:
//
//	MAPBOX_TOKEN=... go test -tags=mapbox ./internal/adapter/mapbox/ -count=1

func liveGeocoder(t *testing.T) *CachedGeocoder {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Skip("MAPBOX_TOKEN not set")
	}
	metrics := observability.NewMetricsForTesting()
	client := NewClient(token, 10*time.Second, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewCachedGeocoder(client, 16, metrics)
}

func TestLive_EnrichIncidentFromText(t *testing.T) {
	geo := liveGeocoder(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reports := []struct {
		location string
		lat, lon float64
	}{
		{"College Road, Nashik", 20.0, 73.78},
		{"Gangapur Road, Nashik", 20.01, 73.76},
	}
	for _, r := range reports {
		t.Run(r.location, func(t *testing.T) {
			rec := domain.IncidentRecord{ID: "A1", Type: domain.IncidentAccident, Location: r.location}

			got := domain.EnrichIncidentLocation(context.Background(), rec, geo, logger)

			require.NotNil(t, got.Geo, "incident should gain coordinates")
			assert.InDelta(t, r.lat, got.Geo.Lat, 0.2)
			assert.InDelta(t, r.lon, got.Geo.Lon, 0.2)
			assert.Equal(t, r.location, got.Location)
		})
	}
}

func TestLive_EnrichIncidentFromCoordinates(t *testing.T) {
	geo := liveGeocoder(t)
	rec := domain.IncidentRecord{ID: "2", Type: domain.IncidentAccident, Geo: &domain.Geo{Lat: 37.7849, Lon: -122.4094}}

	got := domain.EnrichIncidentLocation(context.Background(), rec, geo, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Contains(t, got.Location, "San Francisco")
}

func TestLive_RepeatedLocationIsCached(t *testing.T) {
	geo := liveGeocoder(t)

	first, err := geo.ForwardGeocode(context.Background(), "Dwarka Circle, Nashik")
	require.NoError(t, err)
	second, err := geo.ForwardGeocode(context.Background(), "Dwarka Circle, Nashik")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
