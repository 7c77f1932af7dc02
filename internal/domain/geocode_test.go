package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock geocoder ---

type mockGeocoder struct {
	forwardResult GeocodingResult
	forwardErr    error
	reverseResult GeocodingResult
	reverseErr    error
	forwardCalls  int
	reverseCalls  int
	lastQuery     string
}

func (m *mockGeocoder) ForwardGeocode(_ context.Context, query string) (GeocodingResult, error) {
	m.forwardCalls++
	m.lastQuery = query
	return m.forwardResult, m.forwardErr
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (GeocodingResult, error) {
	m.reverseCalls++
	return m.reverseResult, m.reverseErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestEnrichIncidentLocation_NilGeocoder(t *testing.T) {
	rec := IncidentRecord{ID: "A1", Location: "Highway 1"}

	result := EnrichIncidentLocation(context.Background(), rec, nil, discardLogger())

	assert.Nil(t, result.Geo)
	assert.Equal(t, "Highway 1", result.Location)
}

func TestEnrichIncidentLocation_ForwardGeocode(t *testing.T) {
	geo := &mockGeocoder{
		forwardResult: GeocodingResult{
			Lat:              19.9975,
			Lon:              73.7898,
			FormattedAddress: "College Road, Nashik, Maharashtra, India",
			PlaceName:        "College Road",
			Confidence:       0.93,
		},
	}
	rec := IncidentRecord{ID: "A1", Location: "College Rd"}

	result := EnrichIncidentLocation(context.Background(), rec, geo, discardLogger())

	require.NotNil(t, result.Geo)
	assert.Equal(t, 19.9975, result.Geo.Lat)
	assert.Equal(t, 73.7898, result.Geo.Lon)
	assert.Equal(t, "College Rd", result.Location, "free-text location is kept")
	assert.Equal(t, "College Rd", geo.lastQuery)
	assert.Equal(t, 1, geo.forwardCalls)
	assert.Equal(t, 0, geo.reverseCalls)
}

func TestEnrichIncidentLocation_ReverseGeocode(t *testing.T) {
	geo := &mockGeocoder{
		reverseResult: GeocodingResult{
			FormattedAddress: "Highway 1, San Francisco, California",
			PlaceName:        "Highway 1",
		},
	}
	rec := IncidentRecord{ID: "2", Geo: &Geo{Lat: 37.7849, Lon: -122.4094}}

	result := EnrichIncidentLocation(context.Background(), rec, geo, discardLogger())

	assert.Equal(t, "Highway 1, San Francisco, California", result.Location)
	assert.Equal(t, 0, geo.forwardCalls)
	assert.Equal(t, 1, geo.reverseCalls)
}

func TestEnrichIncidentLocation_ForwardError_LeavesCoordinateUnset(t *testing.T) {
	geo := &mockGeocoder{forwardErr: errors.New("API timeout")}
	rec := IncidentRecord{ID: "A1", Location: "Gangapur Rd"}

	result := EnrichIncidentLocation(context.Background(), rec, geo, discardLogger())

	assert.Nil(t, result.Geo)
	assert.Equal(t, "Gangapur Rd", result.Location)
}

func TestEnrichIncidentLocation_ReverseError_KeepsCoordinates(t *testing.T) {
	geo := &mockGeocoder{reverseErr: errors.New("rate limited")}
	rec := IncidentRecord{ID: "2", Geo: &Geo{Lat: 37.7849, Lon: -122.4094}}

	result := EnrichIncidentLocation(context.Background(), rec, geo, discardLogger())

	require.NotNil(t, result.Geo)
	assert.Equal(t, 37.7849, result.Geo.Lat)
	assert.Empty(t, result.Location)
}

func TestEnrichIncidentLocation_BothPresent_NoLookup(t *testing.T) {
	geo := &mockGeocoder{}
	rec := IncidentRecord{ID: "2", Location: "Highway 1", Geo: &Geo{Lat: 37.7849, Lon: -122.4094}}

	EnrichIncidentLocation(context.Background(), rec, geo, discardLogger())

	assert.Equal(t, 0, geo.forwardCalls)
	assert.Equal(t, 0, geo.reverseCalls)
}

func TestEnrichIncidentLocation_ForwardEmptyResult(t *testing.T) {
	geo := &mockGeocoder{forwardResult: GeocodingResult{}}
	rec := IncidentRecord{ID: "3", Location: "Amrutdham"}

	result := EnrichIncidentLocation(context.Background(), rec, geo, discardLogger())

	assert.Nil(t, result.Geo)
}
