package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STATION_ID", "station-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8093", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "pending-reports.db", cfg.DBPath)
	assert.Equal(t, int64(8388608), cfg.MediaMaxBytes)
	assert.Equal(t, "station-test", cfg.StationID)
	assert.Equal(t, SinkAPI, cfg.Sink)
	assert.Equal(t, "http://localhost:8081", cfg.HazardAPIURL)
	assert.Empty(t, cfg.HazardAPIToken)
	assert.Equal(t, 15*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 5*time.Second, cfg.StartupDelay)
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "http://localhost:8081/healthz", cfg.ProbeURL)
	assert.Equal(t, 15*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("DB_PATH", "/var/lib/report-sync/queue.db")
	t.Setenv("MEDIA_MAX_BYTES", "1048576")
	t.Setenv("STATION_ID", "westport-jetty-3")
	t.Setenv("HAZARD_API_URL", "https://hazards.example.org/")
	t.Setenv("HAZARD_API_TOKEN", "tok-test")
	t.Setenv("SUBMIT_TIMEOUT", "5s")
	t.Setenv("SYNC_INTERVAL", "1m")
	t.Setenv("STARTUP_DELAY", "0s")
	t.Setenv("SETTLE_DELAY", "500ms")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("PROBE_URL", "https://hazards.example.org/ping")
	t.Setenv("PROBE_INTERVAL", "5s")
	t.Setenv("PROBE_TIMEOUT", "1s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/var/lib/report-sync/queue.db", cfg.DBPath)
	assert.Equal(t, int64(1048576), cfg.MediaMaxBytes)
	assert.Equal(t, "westport-jetty-3", cfg.StationID)
	assert.Equal(t, "https://hazards.example.org", cfg.HazardAPIURL, "trailing slash trimmed")
	assert.Equal(t, "tok-test", cfg.HazardAPIToken)
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, time.Duration(0), cfg.StartupDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "https://hazards.example.org/ping", cfg.ProbeURL)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
	assert.Equal(t, time.Second, cfg.ProbeTimeout)
}

func TestLoad_KafkaSink(t *testing.T) {
	t.Setenv("SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-reports")
	t.Setenv("PROBE_URL", "http://gateway.local/healthz")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, SinkKafka, cfg.Sink)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-reports", cfg.KafkaTopic)
	assert.Equal(t, "http://gateway.local/healthz", cfg.ProbeURL)
}

func TestLoad_KafkaSinkRequiresProbeURL(t *testing.T) {
	t.Setenv("SINK", "kafka")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROBE_URL")
}

func TestLoad_KafkaSinkRequiresBrokers(t *testing.T) {
	t.Setenv("SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", " , ")
	t.Setenv("PROBE_URL", "http://gateway.local/healthz")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_InvalidSink(t *testing.T) {
	t.Setenv("SINK", "ftp")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SINK")
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeSyncInterval(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "-5s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_INTERVAL")
}

func TestLoad_ZeroSyncIntervalRejected(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "0s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_INTERVAL")
}

func TestLoad_ZeroDelaysAllowed(t *testing.T) {
	t.Setenv("STARTUP_DELAY", "0s")
	t.Setenv("SETTLE_DELAY", "0s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.StartupDelay)
	assert.Zero(t, cfg.SettleDelay)
}

func TestLoad_MaxRetriesBounds(t *testing.T) {
	t.Setenv("MAX_RETRIES", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_RETRIES")

	t.Setenv("MAX_RETRIES", "11")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_RETRIES")
}

func TestLoad_InvalidMediaMaxBytes(t *testing.T) {
	t.Setenv("MEDIA_MAX_BYTES", "-1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDIA_MAX_BYTES")
}
