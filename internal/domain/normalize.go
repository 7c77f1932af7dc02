package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// epochMillisAbove separates epoch seconds from epoch milliseconds. 1e12
// seconds is tens of thousands of years away; 1e12 milliseconds is 2001.
const epochMillisAbove = 1e12

// envelopeKeys are the object keys checked for a wrapped record array.
var envelopeKeys = []string{"data", "records", "incidents", "items"}

// NormalizeResult holds the records that passed validation and one
// ValidationError per dropped record.
type NormalizeResult struct {
	Samples   []TelemetrySample
	Incidents []IncidentRecord
	Errors    []ValidationError
}

// Normalize dispatches on the payload kind.
func Normalize(p RawPayload) NormalizeResult {
	if p.Kind == SourceIncidents {
		return NormalizeIncidents(p)
	}
	return NormalizeTelemetry(p)
}

// NormalizeTelemetry validates every record in a telemetry payload. A bad
// record is reported and skipped; it never aborts the rest of the batch.
func NormalizeTelemetry(p RawPayload) NormalizeResult {
	var res NormalizeResult
	records, err := splitRecords(p.Body)
	if err != nil {
		res.Errors = append(res.Errors, ValidationError{Index: -1, Field: "$", Reason: err.Error()})
		return res
	}

	res.Samples = make([]TelemetrySample, 0, len(records))
	for i, raw := range records {
		sample, verr := parseTelemetry(raw, p.Source)
		if verr != nil {
			verr.Index = i
			res.Errors = append(res.Errors, *verr)
			continue
		}
		res.Samples = append(res.Samples, sample)
	}
	return res
}

// NormalizeIncidents validates every record in an incident payload with the
// same partial-failure policy as NormalizeTelemetry.
func NormalizeIncidents(p RawPayload) NormalizeResult {
	var res NormalizeResult
	records, err := splitRecords(p.Body)
	if err != nil {
		res.Errors = append(res.Errors, ValidationError{Index: -1, Field: "$", Reason: err.Error()})
		return res
	}

	fallback := p.FetchedAt
	if fallback.IsZero() {
		fallback = Now()
	}

	res.Incidents = make([]IncidentRecord, 0, len(records))
	for i, raw := range records {
		rec, verr := parseIncident(raw, fallback)
		if verr != nil {
			verr.Index = i
			res.Errors = append(res.Errors, *verr)
			continue
		}
		res.Incidents = append(res.Incidents, rec)
	}
	return res
}

// splitRecords accepts a bare array, an envelope object wrapping an array,
// or a single object.
func splitRecords(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty payload")
	}

	switch body[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return records, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		for _, key := range envelopeKeys {
			inner, ok := obj[key]
			if !ok || !bytes.HasPrefix(bytes.TrimSpace(inner), []byte("[")) {
				continue
			}
			var records []json.RawMessage
			if err := json.Unmarshal(inner, &records); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			return records, nil
		}
		return []json.RawMessage{body}, nil
	default:
		return nil, errors.New("payload is neither a JSON array nor an object")
	}
}

func parseTelemetry(raw json.RawMessage, source string) (TelemetrySample, *ValidationError) {
	f, verr := decodeFields(raw)
	if verr != nil {
		return TelemetrySample{}, verr
	}

	sourceID, verr := f.optionalString("camera_id", "source_id", "sourceId", "cameraId")
	if verr != nil {
		return TelemetrySample{}, verr
	}
	if sourceID == "" {
		sourceID = source
	}

	key, tsRaw, ok := f.lookup("timestamp", "ts")
	if !ok {
		return TelemetrySample{}, &ValidationError{Field: "timestamp", Reason: "required"}
	}
	ts, err := parseTimestamp(tsRaw)
	if err != nil {
		return TelemetrySample{}, &ValidationError{Field: key, Reason: err.Error()}
	}

	sample := TelemetrySample{SourceID: sourceID, Timestamp: ts}
	counts := []struct {
		dst  *int
		keys []string
	}{
		{&sample.CarCount, []string{"car_count", "carCount"}},
		{&sample.MotorcycleCount, []string{"motorcycle_count", "motorcycleCount"}},
		{&sample.BusCount, []string{"bus_count", "busCount"}},
		{&sample.TruckCount, []string{"truck_count", "truckCount"}},
	}
	for _, c := range counts {
		n, verr := f.count(c.keys...)
		if verr != nil {
			return TelemetrySample{}, verr
		}
		*c.dst = n
	}
	return sample, nil
}

func parseIncident(raw json.RawMessage, fallback time.Time) (IncidentRecord, *ValidationError) {
	f, verr := decodeFields(raw)
	if verr != nil {
		return IncidentRecord{}, verr
	}

	id, verr := f.identifier("id")
	if verr != nil {
		return IncidentRecord{}, verr
	}

	label, verr := f.optionalString("type", "issue")
	if verr != nil {
		return IncidentRecord{}, verr
	}
	if label == "" {
		return IncidentRecord{}, &ValidationError{Field: "type", Reason: "required"}
	}

	location, verr := f.optionalString("location")
	if verr != nil {
		return IncidentRecord{}, verr
	}
	geo, verr := f.coordinates()
	if verr != nil {
		return IncidentRecord{}, verr
	}
	if location == "" && geo == nil {
		return IncidentRecord{}, &ValidationError{Field: "location", Reason: "location text or coordinates required"}
	}

	severityLabel, verr := f.optionalString("severity")
	if verr != nil {
		return IncidentRecord{}, verr
	}

	statusLabel, verr := f.optionalString("status")
	if verr != nil {
		return IncidentRecord{}, verr
	}
	status, err := ParseIncidentStatus(statusLabel)
	if err != nil {
		return IncidentRecord{}, &ValidationError{Field: "status", Reason: err.Error()}
	}

	reportedAt := fallback.UTC().Truncate(time.Millisecond)
	if key, tsRaw, ok := f.lookup("reported_at", "reportedAt", "time", "timestamp"); ok {
		ts, err := parseTimestamp(tsRaw)
		if err != nil {
			return IncidentRecord{}, &ValidationError{Field: key, Reason: err.Error()}
		}
		reportedAt = ts
	}

	reportedBy, verr := f.optionalString("reported_by", "reportedBy")
	if verr != nil {
		return IncidentRecord{}, verr
	}

	rec := IncidentRecord{
		ID:         id,
		Type:       ParseIncidentType(label),
		Location:   location,
		Geo:        geo,
		Severity:   ParseSeverity(severityLabel),
		Status:     status,
		ReportedAt: reportedAt,
		ReportedBy: reportedBy,
	}
	if rec.Type == IncidentOther {
		rec.TypeLabel = label
	}
	return rec, nil
}

// fields is one decoded record. Unknown keys are ignored.
type fields map[string]json.RawMessage

func decodeFields(raw json.RawMessage) (fields, *ValidationError) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, &ValidationError{Field: "$", Reason: "record is not a JSON object"}
	}
	return f, nil
}

// lookup returns the first present, non-null key among the candidates.
func (f fields) lookup(keys ...string) (string, json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		return k, v, true
	}
	return "", nil, false
}

func (f fields) optionalString(keys ...string) (string, *ValidationError) {
	key, raw, ok := f.lookup(keys...)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &ValidationError{Field: key, Reason: "must be a string"}
	}
	return strings.TrimSpace(s), nil
}

// identifier accepts a non-empty string or an integral number.
func (f fields) identifier(keys ...string) (string, *ValidationError) {
	key, raw, ok := f.lookup(keys...)
	if !ok {
		return "", &ValidationError{Field: keys[0], Reason: "required"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", &ValidationError{Field: key, Reason: "must not be empty"}
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", &ValidationError{Field: key, Reason: "must be a string or integer"}
	}
	if _, err := n.Int64(); err != nil {
		return "", &ValidationError{Field: key, Reason: "must be a string or integer"}
	}
	return n.String(), nil
}

// count reads a required non-negative integer.
func (f fields) count(keys ...string) (int, *ValidationError) {
	key, raw, ok := f.lookup(keys...)
	if !ok {
		return 0, &ValidationError{Field: keys[0], Reason: "required"}
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, &ValidationError{Field: key, Reason: "must be a number"}
	}
	if v < 0 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, &ValidationError{Field: key, Reason: "must be a non-negative integer"}
	}
	return int(v), nil
}

// coordinates reads an optional lat plus lng/lon pair.
func (f fields) coordinates() (*Geo, *ValidationError) {
	latKey, latRaw, hasLat := f.lookup("lat", "latitude")
	lonKey, lonRaw, hasLon := f.lookup("lng", "lon", "longitude")
	switch {
	case !hasLat && !hasLon:
		return nil, nil
	case !hasLat:
		return nil, &ValidationError{Field: "lat", Reason: "required when longitude is set"}
	case !hasLon:
		return nil, &ValidationError{Field: "lng", Reason: "required when latitude is set"}
	}

	var g Geo
	if err := json.Unmarshal(latRaw, &g.Lat); err != nil || g.Lat < -90 || g.Lat > 90 {
		return nil, &ValidationError{Field: latKey, Reason: "must be a number between -90 and 90"}
	}
	if err := json.Unmarshal(lonRaw, &g.Lon); err != nil || g.Lon < -180 || g.Lon > 180 {
		return nil, &ValidationError{Field: lonKey, Reason: "must be a number between -180 and 180"}
	}
	return &g, nil
}

// parseTimestamp accepts epoch seconds, epoch milliseconds, or ISO-8601,
// and returns UTC at millisecond precision.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(v)
		}
		t, err := iso8601.ParseString(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
		}
		return t.UTC().Truncate(time.Millisecond), nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, errors.New("must be a number or string")
	}
	return fromEpoch(v)
}

func fromEpoch(v float64) (time.Time, error) {
	if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return time.Time{}, errors.New("epoch must be positive")
	}
	if v > epochMillisAbove {
		return time.UnixMilli(int64(v)).UTC(), nil
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Truncate(time.Millisecond), nil
}
