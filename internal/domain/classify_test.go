package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCongestion_Boundaries(t *testing.T) {
	tests := []struct {
		total int
		want  CongestionLevel
	}{
		{0, CongestionLow},
		{30, CongestionLow},
		{31, CongestionMedium},
		{50, CongestionMedium},
		{51, CongestionHigh},
		{500, CongestionHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyCongestion(tt.total), "total=%d", tt.total)
	}
}

func TestClassifyCongestion_AllRanges(t *testing.T) {
	for total := 0; total <= 120; total++ {
		got := ClassifyCongestion(total)
		switch {
		case total <= 30:
			assert.Equal(t, CongestionLow, got, "total=%d", total)
		case total <= 50:
			assert.Equal(t, CongestionMedium, got, "total=%d", total)
		default:
			assert.Equal(t, CongestionHigh, got, "total=%d", total)
		}
	}
}

func TestClassify_DerivesTotal(t *testing.T) {
	s := TelemetrySample{SourceID: "CAM101", CarCount: 40, MotorcycleCount: 15, BusCount: 3, TruckCount: 2}

	c := Classify(s)

	assert.Equal(t, 60, c.TotalVehicles)
	assert.Equal(t, CongestionHigh, c.Congestion)
}

func TestClassifySeverity(t *testing.T) {
	t.Run("passes through known severity", func(t *testing.T) {
		for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh} {
			assert.Equal(t, s, ClassifySeverity(IncidentRecord{Severity: s}))
		}
	})

	t.Run("unknown defaults to medium", func(t *testing.T) {
		assert.Equal(t, SeverityMedium, ClassifySeverity(IncidentRecord{Type: IncidentAccident}))
	})
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityHigh, ParseSeverity("High"))
	assert.Equal(t, SeverityHigh, ParseSeverity(" HIGH "))
	assert.Equal(t, SeverityMedium, ParseSeverity("moderate"))
	assert.Equal(t, SeverityLow, ParseSeverity("low"))
	assert.Equal(t, SeverityUnknown, ParseSeverity("catastrophic"))
	assert.Equal(t, SeverityUnknown, ParseSeverity(""))
}

func TestParseIncidentType(t *testing.T) {
	tests := map[string]IncidentType{
		"Accident":        IncidentAccident,
		"ACCIDENT":        IncidentAccident,
		"Stalled Vehicle": IncidentStalledVehicle,
		"stalled_vehicle": IncidentStalledVehicle,
		"StalledVehicle":  IncidentStalledVehicle,
		"Road block":      IncidentRoadblock,
		"Roadwork":        IncidentRoadblock,
		"Weather Issue":   IncidentWeather,
		"Traffic Jam":     IncidentOther,
		"":                IncidentOther,
	}
	for label, want := range tests {
		assert.Equal(t, want, ParseIncidentType(label), "label=%q", label)
	}
}

func TestParseIncidentStatus(t *testing.T) {
	s, err := ParseIncidentStatus("")
	assert.NoError(t, err)
	assert.Equal(t, StatusActive, s)

	s, err = ParseIncidentStatus("Resolved")
	assert.NoError(t, err)
	assert.Equal(t, StatusResolved, s)

	_, err = ParseIncidentStatus("pending-review")
	assert.Error(t, err)
}

func TestQualifiesForDispatch(t *testing.T) {
	base := IncidentRecord{Type: IncidentAccident, Severity: SeverityHigh, Status: StatusActive}
	assert.True(t, QualifiesForDispatch(base))

	medium := base
	medium.Severity = SeverityMedium
	assert.False(t, QualifiesForDispatch(medium))

	roadblock := base
	roadblock.Type = IncidentRoadblock
	assert.False(t, QualifiesForDispatch(roadblock))

	resolved := base
	resolved.Status = StatusResolved
	assert.False(t, QualifiesForDispatch(resolved))
}

func TestSeverity_MarshalText(t *testing.T) {
	b, err := SeverityHigh.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "High", string(b))

	var s Severity
	assert.NoError(t, s.UnmarshalText([]byte("bogus")))
	assert.Equal(t, SeverityUnknown, s)
}

func TestTransitionKind_TextRoundTrip(t *testing.T) {
	for _, k := range []TransitionKind{TransitionUnchanged, TransitionCreated, TransitionResolved} {
		b, err := k.MarshalText()
		assert.NoError(t, err)
		var got TransitionKind
		assert.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}

	var k TransitionKind
	assert.Error(t, k.UnmarshalText([]byte("escalated")))
}
