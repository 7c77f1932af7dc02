// Command trafficd polls traffic telemetry and incident feeds, keeps the
// classified state in memory, dispatches emergency notifications for
// qualifying incidents and serves the operator API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/eclipse/paho.golang/paho"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/traffic-alerts-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/traffic-alerts-service/internal/adapter/kafka"
	"github.com/couchcryptid/traffic-alerts-service/internal/adapter/mapbox"
	"github.com/couchcryptid/traffic-alerts-service/internal/adapter/mqtt"
	"github.com/couchcryptid/traffic-alerts-service/internal/adapter/source"
	"github.com/couchcryptid/traffic-alerts-service/internal/adapter/sqlite"
	"github.com/couchcryptid/traffic-alerts-service/internal/adapter/telegram"
	"github.com/couchcryptid/traffic-alerts-service/internal/adapter/webhook"
	"github.com/couchcryptid/traffic-alerts-service/internal/config"
	"github.com/couchcryptid/traffic-alerts-service/internal/dispatch"
	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
	"github.com/couchcryptid/traffic-alerts-service/internal/observability"
	"github.com/couchcryptid/traffic-alerts-service/internal/pipeline"
	"github.com/couchcryptid/traffic-alerts-service/internal/store"
)

const mqttConnectTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("trafficd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry := store.NewTelemetry(cfg.TelemetryHistory)
	incidents := store.NewIncidents(clock, logger)

	var ledger dispatch.Ledger
	readiness := readinessChecks{}
	if cfg.LedgerPath != "" {
		db, err := sqlite.Open(ctx, cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer db.Close()
		ledger = db
		readiness = append(readiness, db.Ping)
		logger.Info("dispatch ledger persisted", "path", cfg.LedgerPath)
	} else {
		ledger = store.NewMemoryLedger()
		logger.Info("dispatch ledger in memory")
	}

	notifiers, closeNotifiers := buildNotifiers(ctx, cfg, logger)
	defer closeNotifiers()
	dispatcher := dispatch.New(
		dispatch.NewFanout(logger, notifiers...),
		ledger, clock, metrics, logger,
		dispatch.WithRateLimit(cfg.DispatchRatePerMinute),
		dispatch.WithNotifyTimeout(cfg.NotifyTimeout),
		dispatch.WithIncidentLookup(incidents),
	)

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var sink pipeline.EventSink
	if cfg.KafkaEnabled {
		publisher := kafkaadapter.NewPublisher(cfg, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		sink = publisher
		logger.Info("kafka event stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	processor := pipeline.NewProcessor(telemetry, incidents, dispatcher, geocoder, sink, metrics, logger)
	fetcher := source.NewClient(&http.Client{}, clock)
	scheduler := pipeline.NewScheduler(cfg.Sources, fetcher, processor, clock, metrics, logger)
	readiness = append(readiness, scheduler.CheckReadiness)

	var retries *dispatch.RetryScheduler
	if cfg.DispatchRetrySchedule != "" {
		var err error
		retries, err = dispatch.NewRetryScheduler(cfg.DispatchRetrySchedule, dispatcher, cfg.NotifyTimeout*4, logger)
		if err != nil {
			return err
		}
		retries.OnDispatched(processor.PublishDispatches)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.API{
		Telemetry:  telemetry,
		Incidents:  incidents,
		Resolver:   processor,
		Dispatches: dispatcher,
		Retrier:    publishingRetrier{dispatcher: dispatcher, processor: processor},
		Sources:    scheduler,
	}, readiness, metrics, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if retries != nil {
		retries.Start()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	scheduler.Stop()
	if retries != nil {
		retries.Stop(shutdownCtx)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildNotifiers creates every configured notification channel. A channel
// that cannot be set up is logged and left out; the log channel covers the
// case where none is configured.
func buildNotifiers(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]dispatch.Notifier, func()) {
	var (
		notifiers []dispatch.Notifier
		closers   []func()
	)

	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, webhook.NewNotifier(cfg.WebhookURL, cfg.NotifyTimeout))
		logger.Info("webhook notifications enabled")
	}

	if cfg.TelegramBotToken != "" {
		n, err := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.NotifyTimeout)
		if err != nil {
			logger.Error("telegram notifier unavailable", "error", err)
		} else {
			notifiers = append(notifiers, n)
			logger.Info("telegram notifications enabled", "chat_id", cfg.TelegramChatID)
		}
	}

	if cfg.MQTTBroker != "" {
		connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		client, err := mqtt.ConnectWithRetry(connectCtx, cfg.MQTTBroker, cfg.MQTTClientID, 5*time.Second, logger)
		cancel()
		if err != nil {
			logger.Error("mqtt notifier unavailable", "broker", cfg.MQTTBroker, "error", err)
		} else {
			notifiers = append(notifiers, mqtt.NewNotifier(client, cfg.MQTTTopic))
			closers = append(closers, func() { _ = client.Disconnect(&paho.Disconnect{ReasonCode: 0}) })
			logger.Info("mqtt notifications enabled", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
		}
	}

	return notifiers, func() {
		for _, c := range closers {
			c()
		}
	}
}

// readinessChecks is ready when every check passes.
type readinessChecks []func(context.Context) error

func (r readinessChecks) CheckReadiness(ctx context.Context) error {
	for _, check := range r {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// publishingRetrier runs a manual retry sweep and publishes what it dispatched.
type publishingRetrier struct {
	dispatcher *dispatch.Dispatcher
	processor  *pipeline.Processor
}

func (r publishingRetrier) Retry(ctx context.Context) dispatch.RetryReport {
	report := r.dispatcher.Retry(ctx)
	if len(report.Records) > 0 {
		r.processor.PublishDispatches(ctx, report.Records)
	}
	return report
}
