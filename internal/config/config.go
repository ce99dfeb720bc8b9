package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sink selects where acknowledged reports are delivered.
const (
	SinkAPI   = "api"
	SinkKafka = "kafka"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Local queue settings.
	DBPath        string
	MediaMaxBytes int64
	StationID     string

	// Sink selection and per-sink settings.
	Sink           string
	HazardAPIURL   string
	HazardAPIToken string
	SubmitTimeout  time.Duration
	KafkaBrokers   []string
	KafkaTopic     string

	// Sync scheduling.
	SyncInterval time.Duration
	StartupDelay time.Duration
	SettleDelay  time.Duration
	MaxRetries   int

	// Reachability probing.
	ProbeURL      string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	submitTimeout, err := parseDuration("SUBMIT_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	syncInterval, err := parseDuration("SYNC_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	startupDelay, err := parseDelay("STARTUP_DELAY", "5s")
	if err != nil {
		return nil, err
	}
	settleDelay, err := parseDelay("SETTLE_DELAY", "2s")
	if err != nil {
		return nil, err
	}
	probeInterval, err := parseDuration("PROBE_INTERVAL", "15s")
	if err != nil {
		return nil, err
	}
	probeTimeout, err := parseDuration("PROBE_TIMEOUT", "3s")
	if err != nil {
		return nil, err
	}
	maxRetries, err := parseBoundedInt("MAX_RETRIES", "3", 1, 10)
	if err != nil {
		return nil, err
	}
	mediaMaxBytes, err := parseByteSize("MEDIA_MAX_BYTES", "8388608")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8093"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DBPath:        envOrDefault("DB_PATH", "pending-reports.db"),
		MediaMaxBytes: mediaMaxBytes,
		StationID:     envOrDefault("STATION_ID", defaultStationID()),

		Sink:           envOrDefault("SINK", SinkAPI),
		HazardAPIURL:   strings.TrimRight(envOrDefault("HAZARD_API_URL", "http://localhost:8081"), "/"),
		HazardAPIToken: os.Getenv("HAZARD_API_TOKEN"),
		SubmitTimeout:  submitTimeout,
		KafkaBrokers:   parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     envOrDefault("KAFKA_TOPIC", "raw-hazard-reports"),

		SyncInterval: syncInterval,
		StartupDelay: startupDelay,
		SettleDelay:  settleDelay,
		MaxRetries:   maxRetries,

		ProbeURL:      os.Getenv("PROBE_URL"),
		ProbeInterval: probeInterval,
		ProbeTimeout:  probeTimeout,
	}

	switch cfg.Sink {
	case SinkAPI:
		if cfg.HazardAPIURL == "" {
			return nil, errors.New("HAZARD_API_URL is required when SINK=api")
		}
		if cfg.ProbeURL == "" {
			cfg.ProbeURL = cfg.HazardAPIURL + "/healthz"
		}
	case SinkKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when SINK=kafka")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when SINK=kafka")
		}
		if cfg.ProbeURL == "" {
			return nil, errors.New("PROBE_URL is required when SINK=kafka")
		}
	default:
		return nil, fmt.Errorf("invalid SINK %q (want %q or %q)", cfg.Sink, SinkAPI, SinkKafka)
	}

	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseDuration parses a duration env var that must be strictly positive.
func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

// parseDelay parses a duration env var that may be zero (delay disabled).
func parseDelay(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBoundedInt(key, def string, minimum, maximum int) (int, error) {
	n, err := strconv.Atoi(envOrDefault(key, def))
	if err != nil || n < minimum || n > maximum {
		return 0, fmt.Errorf("invalid %s (want %d-%d)", key, minimum, maximum)
	}
	return n, nil
}

func parseByteSize(key, def string) (int64, error) {
	n, err := strconv.ParseInt(envOrDefault(key, def), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

// parseBrokers splits a comma-separated broker list, dropping empty entries.
func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// defaultStationID tags submissions with the host name so the hazard API can
// attribute reports to a station when STATION_ID is not set explicitly.
func defaultStationID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "station-unknown"
	}
	return host
}
