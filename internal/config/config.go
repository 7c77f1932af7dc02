package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Polled upstream endpoints.
	Sources          []domain.Source
	TelemetryHistory int

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Transition and dispatch event stream.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Dispatch ledger, retry and notification channels.
	LedgerPath            string
	DispatchRetrySchedule string
	DispatchRatePerMinute int
	NotifyTimeout         time.Duration
	WebhookURL            string
	TelegramBotToken      string
	TelegramChatID        int64
	MQTTBroker            string
	MQTTTopic             string
	MQTTClientID          string
}

// sourcesFile is the layout of SOURCES_FILE.
type sourcesFile struct {
	Sources []domain.Source `yaml:"sources"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	pollInterval, err := parseDuration("POLL_INTERVAL", "5s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "3s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	notifyTimeout, err := parseDuration("NOTIFY_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	history, err := parsePositiveInt("TELEMETRY_HISTORY", 100)
	if err != nil {
		return nil, err
	}
	ratePerMinute, err := parsePositiveInt("DISPATCH_RATE_PER_MINUTE", 30)
	if err != nil {
		return nil, err
	}

	sources, err := loadSources(pollInterval, fetchTimeout)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	var chatID int64
	if s := os.Getenv("TELEGRAM_CHAT_ID"); s != "" {
		if chatID, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, errors.New("invalid TELEGRAM_CHAT_ID: must be an integer")
		}
	}

	retrySchedule, ok := os.LookupEnv("DISPATCH_RETRY_SCHEDULE")
	if !ok {
		retrySchedule = "@every 30s"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Sources:          sources,
		TelemetryHistory: history,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "traffic-incident-events"),

		LedgerPath:            os.Getenv("LEDGER_PATH"),
		DispatchRetrySchedule: retrySchedule,
		DispatchRatePerMinute: ratePerMinute,
		NotifyTimeout:         notifyTimeout,
		WebhookURL:            os.Getenv("WEBHOOK_URL"),
		TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:        chatID,
		MQTTBroker:            os.Getenv("MQTT_BROKER"),
		MQTTTopic:             sharedcfg.EnvOrDefault("MQTT_TOPIC", "traffic/dispatch"),
		MQTTClientID:          sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "traffic-alerts-service"),
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == 0) {
		return nil, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	return cfg, nil
}

// loadSources reads SOURCES_FILE when set, otherwise builds one telemetry and
// one incident source from TELEMETRY_URL and INCIDENTS_URL. Interval and
// timeout default to POLL_INTERVAL and FETCH_TIMEOUT.
func loadSources(interval, timeout time.Duration) ([]domain.Source, error) {
	var sources []domain.Source
	if path := os.Getenv("SOURCES_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read SOURCES_FILE: %w", err)
		}
		var f sourcesFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse SOURCES_FILE: %w", err)
		}
		sources = f.Sources
	} else {
		if u := sharedcfg.EnvOrDefault("TELEMETRY_URL", "http://localhost:8081/telemetry"); u != "-" {
			sources = append(sources, domain.Source{Name: "telemetry", Kind: domain.SourceTelemetry, URL: u})
		}
		if u := sharedcfg.EnvOrDefault("INCIDENTS_URL", "http://localhost:8081/incidents"); u != "-" {
			sources = append(sources, domain.Source{Name: "incidents", Kind: domain.SourceIncidents, URL: u})
		}
	}

	if len(sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	seen := make(map[string]bool, len(sources))
	for i := range sources {
		s := &sources[i]
		if s.Interval == 0 {
			s.Interval = interval
		}
		if s.Timeout == 0 {
			s.Timeout = timeout
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return sources, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
