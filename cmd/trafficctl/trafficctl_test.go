package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNormalize_TelemetryTable(t *testing.T) {
	path := writeFile(t, `{"camera_id":"CAM101","timestamp":1714143000,"car_count":40,"motorcycle_count":15,"bus_count":3,"truck_count":2}`)

	out, _, err := execute(t, "", "normalize", path)

	require.NoError(t, err)
	assert.Contains(t, out, "CONGESTION")
	assert.Contains(t, out, "CAM101")
	assert.Contains(t, out, "60")
	assert.Contains(t, out, "High")
}

func TestNormalize_IncidentsJSONFromStdin(t *testing.T) {
	stdin := `[
		{"id":"A1","type":"Accident","severity":"High","location":"Highway 1"},
		{"id":"A2","type":"Accident","location":"Ring Rd"},
		{"id":"A3","type":"Accident"}
	]`

	out, _, err := execute(t, stdin, "normalize", "-", "--kind", "incidents", "-o", "json")

	require.NoError(t, err)
	var got struct {
		Incidents []struct {
			ID       string          `json:"id"`
			Severity domain.Severity `json:"severity"`
			Dispatch bool            `json:"dispatch"`
		} `json:"incidents"`
		Errors []domain.ValidationError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Incidents, 2)
	assert.True(t, got.Incidents[0].Dispatch)
	assert.Equal(t, domain.SeverityMedium, got.Incidents[1].Severity, "unknown severity is classified as medium")
	assert.False(t, got.Incidents[1].Dispatch)
	want := []domain.ValidationError{{Index: 2, Field: "location", Reason: "location text or coordinates required"}}
	if diff := cmp.Diff(want, got.Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_StrictFailsOnDroppedRecords(t *testing.T) {
	path := writeFile(t, `[{"camera_id":"CAM1","timestamp":"yesterday","car_count":1,"motorcycle_count":0,"bus_count":0,"truck_count":0}]`)

	_, stderr, err := execute(t, "", "normalize", path, "--strict")

	require.Error(t, err)
	assert.Contains(t, stderr, "timestamp")
}

func TestNormalize_RejectsBadFlags(t *testing.T) {
	path := writeFile(t, `[]`)

	_, _, err := execute(t, "", "normalize", path, "--kind", "weather")
	assert.ErrorContains(t, err, "unknown kind")

	_, _, err = execute(t, "", "normalize", path, "-o", "yaml")
	assert.ErrorContains(t, err, "unknown output format")

	_, _, err = execute(t, "", "normalize", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "", "version")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "trafficctl dev"))
}

func TestMockFeed_IsDeterministicAndNormalizes(t *testing.T) {
	a := httptest.NewServer(newMockFeed(3, 7).routes())
	defer a.Close()
	b := httptest.NewServer(newMockFeed(3, 7).routes())
	defer b.Close()

	for range 5 {
		for _, path := range []string{"/telemetry", "/incidents"} {
			bodyA := get(t, a.URL+path)
			bodyB := get(t, b.URL+path)
			assert.Equal(t, bodyA, bodyB, "same seed, same feed")

			kind := domain.SourceTelemetry
			if path == "/incidents" {
				kind = domain.SourceIncidents
			}
			res := domain.Normalize(domain.RawPayload{Source: "mock", Kind: kind, Body: bodyA})
			assert.Empty(t, res.Errors, "%s: %s", path, bodyA)
		}
	}
}

func TestMockFeed_TelemetryCoversEveryCamera(t *testing.T) {
	samples := newMockFeed(4, 1).telemetry()

	require.Len(t, samples, 4)
	assert.Equal(t, "CAM101", samples[0].CameraID)
	assert.Equal(t, "CAM104", samples[3].CameraID)
}

func get(t *testing.T, url string) []byte {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.Bytes()
}
