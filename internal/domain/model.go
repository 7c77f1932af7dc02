package domain

import (
	"fmt"
	"time"
)

// SourceKind identifies which normalizer a source's payloads go through.
type SourceKind string

const (
	SourceTelemetry SourceKind = "telemetry"
	SourceIncidents SourceKind = "incidents"
)

// Source describes one polled upstream endpoint.
type Source struct {
	Name     string        `yaml:"name" json:"name"`
	Kind     SourceKind    `yaml:"kind" json:"kind"`
	URL      string        `yaml:"url" json:"url"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Validate reports the first problem with the descriptor.
func (s Source) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("source name is required")
	case s.Kind != SourceTelemetry && s.Kind != SourceIncidents:
		return fmt.Errorf("source %q: kind must be %q or %q", s.Name, SourceTelemetry, SourceIncidents)
	case s.URL == "":
		return fmt.Errorf("source %q: url is required", s.Name)
	case s.Interval <= 0:
		return fmt.Errorf("source %q: interval must be positive", s.Name)
	case s.Timeout <= 0:
		return fmt.Errorf("source %q: timeout must be positive", s.Name)
	}
	return nil
}

// RawPayload is an unparsed response body from a source.
type RawPayload struct {
	Source    string
	Kind      SourceKind
	Body      []byte
	FetchedAt time.Time
}

// TelemetrySample is one vehicle-count observation. Samples are values and
// are never modified after normalization.
type TelemetrySample struct {
	SourceID        string    `json:"source_id"`
	Timestamp       time.Time `json:"timestamp"`
	CarCount        int       `json:"car_count"`
	MotorcycleCount int       `json:"motorcycle_count"`
	BusCount        int       `json:"bus_count"`
	TruckCount      int       `json:"truck_count"`
}

// TotalVehicles sums the category counts.
func (s TelemetrySample) TotalVehicles() int {
	return s.CarCount + s.MotorcycleCount + s.BusCount + s.TruckCount
}

// ClassifiedSample is a read-time view pairing a sample with its congestion level.
type ClassifiedSample struct {
	TelemetrySample
	TotalVehicles int             `json:"total_vehicles"`
	Congestion    CongestionLevel `json:"congestion"`
}

// Classify builds the read-time view of a sample.
func Classify(s TelemetrySample) ClassifiedSample {
	total := s.TotalVehicles()
	return ClassifiedSample{
		TelemetrySample: s,
		TotalVehicles:   total,
		Congestion:      ClassifyCongestion(total),
	}
}

// Geo is a WGS-84 latitude/longitude pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IncidentRecord is a reported traffic incident. ID is stable across updates
// from the source.
type IncidentRecord struct {
	ID         string         `json:"id"`
	Type       IncidentType   `json:"type"`
	TypeLabel  string         `json:"type_label,omitempty"`
	Location   string         `json:"location,omitempty"`
	Geo        *Geo           `json:"geo,omitempty"`
	Severity   Severity       `json:"severity"`
	Status     IncidentStatus `json:"status"`
	ReportedAt time.Time      `json:"reported_at"`
	ReportedBy string         `json:"reported_by,omitempty"`

	// Set by the incident store.
	FirstSeen time.Time `json:"first_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransitionKind is the outcome of ingesting an incident.
type TransitionKind int

const (
	TransitionUnchanged TransitionKind = iota
	TransitionCreated
	TransitionResolved
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionCreated:
		return "created"
	case TransitionResolved:
		return "resolved"
	default:
		return "unchanged"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k TransitionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *TransitionKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "created":
		*k = TransitionCreated
	case "resolved":
		*k = TransitionResolved
	case "unchanged":
		*k = TransitionUnchanged
	default:
		return fmt.Errorf("unknown transition kind %q", b)
	}
	return nil
}

// TransitionEvent reports what an ingest or resolve did to the store.
// Record is a snapshot taken after the transition was applied.
type TransitionEvent struct {
	Kind       TransitionKind `json:"kind"`
	IncidentID string         `json:"incident_id"`
	Record     IncidentRecord `json:"record"`
	At         time.Time      `json:"at"`
}

// ActionAmbulance is the only dispatch action currently issued.
const ActionAmbulance = "ambulance_dispatch"

// AlertDispatchRecord is an append-only ledger entry. There is at most one
// per IncidentID.
type AlertDispatchRecord struct {
	ID           string    `json:"id"`
	IncidentID   string    `json:"incident_id"`
	DispatchedAt time.Time `json:"dispatched_at"`
	Action       string    `json:"action"`
	Channels     []string  `json:"channels,omitempty"`
}

// DispatchNotice is the message handed to notification channels.
type DispatchNotice struct {
	IncidentID string       `json:"incident_id"`
	Action     string       `json:"action"`
	Type       IncidentType `json:"type"`
	Severity   Severity     `json:"severity"`
	Location   string       `json:"location,omitempty"`
	Geo        *Geo         `json:"geo,omitempty"`
	ReportedAt time.Time    `json:"reported_at"`
	ReportedBy string       `json:"reported_by,omitempty"`
	IssuedAt   time.Time    `json:"issued_at"`
}

// NewDispatchNotice builds the notice for an incident.
func NewDispatchNotice(rec IncidentRecord, action string, issuedAt time.Time) DispatchNotice {
	return DispatchNotice{
		IncidentID: rec.ID,
		Action:     action,
		Type:       rec.Type,
		Severity:   rec.Severity,
		Location:   rec.Location,
		Geo:        rec.Geo,
		ReportedAt: rec.ReportedAt,
		ReportedBy: rec.ReportedBy,
		IssuedAt:   issuedAt,
	}
}

// Summary renders the notice as a single human-readable line.
func (n DispatchNotice) Summary() string {
	where := n.Location
	if where == "" && n.Geo != nil {
		where = fmt.Sprintf("%.5f,%.5f", n.Geo.Lat, n.Geo.Lon)
	}
	if where == "" {
		where = "unknown location"
	}
	return fmt.Sprintf("%s: %s severity %s at %s (incident %s)", n.Action, n.Severity, n.Type, where, n.IncidentID)
}
