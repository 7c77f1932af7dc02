package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

func testNotice() domain.DispatchNotice {
	return domain.DispatchNotice{
		IncidentID: "A1",
		Action:     domain.ActionAmbulance,
		Type:       domain.IncidentAccident,
		Severity:   domain.SeverityHigh,
		Location:   "Highway 1",
		IssuedAt:   time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC),
	}
}

func TestNotifier_PostsNotice(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "A1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL, time.Second).Notify(context.Background(), testNotice())

	require.NoError(t, err)
	assert.Equal(t, "A1", got["incident_id"])
	assert.Equal(t, "High", got["severity"])
	assert.Equal(t, "ambulance_dispatch", got["action"])
	assert.Contains(t, got["text"], "Highway 1")
}

func TestNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL, time.Second).Notify(context.Background(), testNotice())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNotifier_Name(t *testing.T) {
	assert.Equal(t, "webhook", NewNotifier("http://localhost", time.Second).Name())
}
