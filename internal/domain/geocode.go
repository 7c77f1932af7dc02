package domain

import (
	"context"
	"log/slog"
)

// EnrichIncidentLocation fills whichever half of an incident's location is
// missing. Free text without coordinates is forward geocoded; coordinates
// without text are reverse geocoded. Failures leave the record unchanged so
// ingestion is never blocked by the geocoder. A nil geocoder is a no-op.
func EnrichIncidentLocation(ctx context.Context, rec IncidentRecord, geocoder Geocoder, logger *slog.Logger) IncidentRecord {
	if geocoder == nil {
		return rec
	}

	if rec.Geo == nil && rec.Location != "" {
		result, err := geocoder.ForwardGeocode(ctx, rec.Location)
		if err != nil {
			logger.Warn("forward geocoding failed",
				"incident_id", rec.ID,
				"location", rec.Location,
				"error", err,
			)
			return rec
		}
		if result.Lat != 0 || result.Lon != 0 {
			rec.Geo = &Geo{Lat: result.Lat, Lon: result.Lon}
		}
		return rec
	}

	if rec.Geo != nil && rec.Location == "" {
		result, err := geocoder.ReverseGeocode(ctx, rec.Geo.Lat, rec.Geo.Lon)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"incident_id", rec.ID,
				"lat", rec.Geo.Lat,
				"lon", rec.Geo.Lon,
				"error", err,
			)
			return rec
		}
		switch {
		case result.FormattedAddress != "":
			rec.Location = result.FormattedAddress
		case result.PlaceName != "":
			rec.Location = result.PlaceName
		}
	}

	return rec
}
