package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

type mockfeedOptions struct {
	addr    string
	cameras int
	seed    uint64
}

func newMockfeedCmd() *cobra.Command {
	opts := mockfeedOptions{}
	cmd := &cobra.Command{
		Use:   "mockfeed",
		Short: "Serve deterministic mock telemetry and incident feeds",
		Long: `Serve GET /telemetry and GET /incidents in the formats trafficd polls.

Each request advances the feed one step. The same seed always yields the same
sequence of counts and incidents, so a local run is reproducible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMockfeed(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8081", "listen address")
	cmd.Flags().IntVar(&opts.cameras, "cameras", 4, "number of simulated cameras")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "random seed")
	return cmd
}

func runMockfeed(ctx context.Context, opts mockfeedOptions) error {
	if opts.cameras <= 0 {
		return errors.New("--cameras must be positive")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	feed := newMockFeed(opts.cameras, opts.seed)
	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           feed.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock feed listening", "addr", opts.addr, "cameras", opts.cameras, "seed", opts.seed)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

var (
	mockIncidentTypes = []string{"Accident", "Accident", "Roadblock", "Stalled Vehicle", "Weather"}
	mockSeverities    = []string{"Low", "Medium", "High"}
	mockLocations     = []string{"College Rd", "Gangapur Rd", "Highway 1", "Ring Rd", "Amrutdham", "Main St"}
)

type mockIncident struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Status     string `json:"status"`
	Location   string `json:"location"`
	ReportedAt string `json:"reported_at"`
	ReportedBy string `json:"reported_by"`
}

type mockSample struct {
	CameraID        string `json:"camera_id"`
	Timestamp       int64  `json:"timestamp"`
	CarCount        int    `json:"car_count"`
	MotorcycleCount int    `json:"motorcycle_count"`
	BusCount        int    `json:"bus_count"`
	TruckCount      int    `json:"truck_count"`
}

// mockFeed is a seeded random walk over camera counts plus a small set of
// incidents that appear and later resolve.
type mockFeed struct {
	mu        sync.Mutex
	rng       *rand.Rand
	step      int64
	cameras   []string
	nextID    int
	incidents []*mockIncident
	start     time.Time
}

func newMockFeed(cameras int, seed uint64) *mockFeed {
	f := &mockFeed{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		start: time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC),
	}
	for i := range cameras {
		f.cameras = append(f.cameras, fmt.Sprintf("CAM%03d", 101+i))
	}
	return f
}

func (f *mockFeed) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/telemetry", func(w http.ResponseWriter, _ *http.Request) {
		sharedobs.WriteJSON(w, http.StatusOK, f.telemetry())
	})
	r.Get("/incidents", func(w http.ResponseWriter, _ *http.Request) {
		sharedobs.WriteJSON(w, http.StatusOK, f.incidentSnapshot())
	})
	return r
}

func (f *mockFeed) telemetry() []mockSample {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.step++
	ts := f.start.Add(time.Duration(f.step) * 5 * time.Second).Unix()
	out := make([]mockSample, 0, len(f.cameras))
	for _, cam := range f.cameras {
		out = append(out, mockSample{
			CameraID:        cam,
			Timestamp:       ts,
			CarCount:        f.rng.IntN(45),
			MotorcycleCount: f.rng.IntN(20),
			BusCount:        f.rng.IntN(5),
			TruckCount:      f.rng.IntN(6),
		})
	}
	return out
}

func (f *mockFeed) incidentSnapshot() []mockIncident {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.step++
	now := f.start.Add(time.Duration(f.step) * 5 * time.Second)

	kept := f.incidents[:0]
	for _, inc := range f.incidents {
		if inc.Status != "Resolved" {
			kept = append(kept, inc)
		}
	}
	f.incidents = kept

	for _, inc := range f.incidents {
		if f.rng.IntN(6) == 0 {
			inc.Status = "Resolved"
		}
	}
	if len(f.incidents) == 0 || f.rng.IntN(3) == 0 {
		f.nextID++
		f.incidents = append(f.incidents, &mockIncident{
			ID:         fmt.Sprintf("INC-%04d", f.nextID),
			Type:       mockIncidentTypes[f.rng.IntN(len(mockIncidentTypes))],
			Severity:   mockSeverities[f.rng.IntN(len(mockSeverities))],
			Status:     "Active",
			Location:   mockLocations[f.rng.IntN(len(mockLocations))],
			ReportedAt: now.Format(time.RFC3339),
			ReportedBy: fmt.Sprintf("officer-%02d", 1+f.rng.IntN(20)),
		})
	}

	out := make([]mockIncident, 0, len(f.incidents))
	for _, inc := range f.incidents {
		out = append(out, *inc)
	}
	return out
}
