package domain

import (
	"fmt"
	"strings"
)

// Congestion thresholds on the total vehicle count. Comparisons are strict:
// 50 vehicles is Medium and 51 is High.
const (
	congestionHighAbove   = 50
	congestionMediumAbove = 30
)

// CongestionLevel is derived from a vehicle total. It is never stored.
type CongestionLevel string

const (
	CongestionLow    CongestionLevel = "Low"
	CongestionMedium CongestionLevel = "Medium"
	CongestionHigh   CongestionLevel = "High"
)

// ClassifyCongestion maps a vehicle total to a congestion level.
func ClassifyCongestion(totalVehicles int) CongestionLevel {
	switch {
	case totalVehicles > congestionHighAbove:
		return CongestionHigh
	case totalVehicles > congestionMediumAbove:
		return CongestionMedium
	default:
		return CongestionLow
	}
}

// Severity is an incident severity. SeverityUnknown marks a missing or
// unrecognized upstream value.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognized values
// decode to SeverityUnknown rather than failing.
func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

// ParseSeverity reads a source-provided severity label.
func ParseSeverity(v string) Severity {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "low":
		return SeverityLow
	case "medium", "moderate":
		return SeverityMedium
	case "high":
		return SeverityHigh
	default:
		return SeverityUnknown
	}
}

// ClassifySeverity returns the source-provided severity when it is known and
// Medium otherwise.
func ClassifySeverity(rec IncidentRecord) Severity {
	if rec.Severity != SeverityUnknown {
		return rec.Severity
	}
	return SeverityMedium
}

// IncidentType is the normalized kind of incident.
type IncidentType string

const (
	IncidentAccident       IncidentType = "Accident"
	IncidentRoadblock      IncidentType = "Roadblock"
	IncidentStalledVehicle IncidentType = "StalledVehicle"
	IncidentWeather        IncidentType = "Weather"
	IncidentOther          IncidentType = "Other"
)

var incidentTypeAliases = map[string]IncidentType{
	"accident":       IncidentAccident,
	"crash":          IncidentAccident,
	"collision":      IncidentAccident,
	"roadblock":      IncidentRoadblock,
	"roadwork":       IncidentRoadblock,
	"roadworks":      IncidentRoadblock,
	"roadclosure":    IncidentRoadblock,
	"stalledvehicle": IncidentStalledVehicle,
	"breakdown":      IncidentStalledVehicle,
	"weather":        IncidentWeather,
	"weatherissue":   IncidentWeather,
}

// ParseIncidentType maps a free-form label to an IncidentType.
func ParseIncidentType(label string) IncidentType {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(label)))
	if t, ok := incidentTypeAliases[key]; ok {
		return t
	}
	return IncidentOther
}

// IncidentStatus is the lifecycle state of an incident. Resolved is terminal.
type IncidentStatus string

const (
	StatusActive   IncidentStatus = "Active"
	StatusResolved IncidentStatus = "Resolved"
)

// ParseIncidentStatus reads a status label. An empty label means Active.
func ParseIncidentStatus(v string) (IncidentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "active", "open", "ongoing":
		return StatusActive, nil
	case "resolved", "closed", "cleared":
		return StatusResolved, nil
	default:
		return "", fmt.Errorf("unknown status %q", v)
	}
}

// QualifiesForDispatch reports whether an incident warrants an automatic
// ambulance dispatch on first sighting.
func QualifiesForDispatch(rec IncidentRecord) bool {
	return rec.Type == IncidentAccident && rec.Severity == SeverityHigh && rec.Status == StatusActive
}
