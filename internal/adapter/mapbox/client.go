package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
	"github.com/couchcryptid/traffic-alerts-service/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Incidents are reported against roads and junctions, so forward lookups
// prefer street-level features over whole towns.
const incidentFeatureTypes = "address,poi,neighborhood,locality,place"

// Lookup directions, used as the method label on geocoding metrics.
const (
	lookupForward = "forward"
	lookupReverse = "reverse"
)

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		metrics:    metrics,
		logger:     logger,
	}
}

// ForwardGeocode resolves a free-text incident location to coordinates.
func (c *Client) ForwardGeocode(ctx context.Context, location string) (domain.GeocodingResult, error) {
	return c.lookup(ctx, lookupForward, url.PathEscape(location), url.Values{"types": {incidentFeatureTypes}})
}

// ReverseGeocode names the place at an incident's coordinates.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	// Mapbox paths take lon,lat.
	return c.lookup(ctx, lookupReverse, fmt.Sprintf("%.6f,%.6f", lon, lat), nil)
}

// lookup queries an escaped path segment and returns the best feature. No
// match is an empty result, not an error.
func (c *Client) lookup(ctx context.Context, direction, segment string, params url.Values) (domain.GeocodingResult, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	params.Set("limit", "1")
	endpoint := fmt.Sprintf("%s/%s.json?%s", c.baseURL, segment, params.Encode())

	features, err := c.fetch(ctx, direction, endpoint)
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(direction, "error").Inc()
		return domain.GeocodingResult{}, err
	}
	if len(features) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues(direction, "empty").Inc()
		c.logger.Debug("geocode returned no features", "method", direction)
		return domain.GeocodingResult{}, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues(direction, "success").Inc()
	return features[0].result(), nil
}

func (c *Client) fetch(ctx context.Context, direction, endpoint string) ([]feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s geocode request: %w", direction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded.Features, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}

func (f feature) result() domain.GeocodingResult {
	r := domain.GeocodingResult{
		FormattedAddress: f.PlaceName,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		r.Lon, r.Lat = f.Center[0], f.Center[1]
	}
	return r
}
