//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/couchcryptid/coastal-report-sync/internal/adapter/kafka"
	"github.com/couchcryptid/coastal-report-sync/internal/config"
	"github.com/couchcryptid/coastal-report-sync/internal/domain"
	"github.com/couchcryptid/coastal-report-sync/internal/events"
	"github.com/couchcryptid/coastal-report-sync/internal/observability"
	"github.com/couchcryptid/coastal-report-sync/internal/store"
	"github.com/couchcryptid/coastal-report-sync/internal/syncer"
)

const testTopic = "hazard-reports-raw-test"

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// sinkMessage holds a deserialized message read from the report topic. The
// body stays a generic map so assertions track the wire contract, not the
// adapter's internal types.
type sinkMessage struct {
	Body    map[string]any
	Key     string
	Headers map[string]string
}

// TestKafkaSinkRoundTrip verifies the adapter layer: Writer.Submit publishes
// a message whose key, headers, and body a downstream consumer can rely on.
func TestKafkaSinkRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testTopic,
		StationID:    "station-07",
	}
	writer := kafkaadapter.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	enqueuedAt := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

	withMedia, err := domain.NewPendingReport(domain.ReportPayload{
		HazardType:  "rip_current",
		Description: "strong rip south of the jetty",
		Severity:    "severe",
		Lat:         46.9042,
		Lon:         -124.1051,
		Location:    "north jetty, Westport",
	}, &domain.MediaAttachment{MIME: "image/png", Data: pngBytes}, enqueuedAt, 8<<20)
	require.NoError(t, err)

	noMedia, err := domain.NewPendingReport(domain.ReportPayload{
		HazardType:  "debris",
		Description: "drift logs across beach approach 3",
		Severity:    "moderate",
		Lat:         46.9102,
		Lon:         -124.1144,
	}, nil, enqueuedAt, 8<<20)
	require.NoError(t, err)

	require.NoError(t, writer.Submit(ctx, withMedia))
	require.NoError(t, writer.Submit(ctx, noMedia))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	// Single partition, so messages arrive in submit order.
	first := readReport(ctx, t, consumer)
	assert.Equal(t, withMedia.ID, first.Key)
	assert.Equal(t, "rip_current", first.Headers["hazard_type"])
	assert.Equal(t, "station-07", first.Headers["station_id"])
	assert.Equal(t, withMedia.ID, first.Body["client_report_id"])
	assert.Equal(t, "station-07", first.Body["station_id"])
	assert.Equal(t, "rip_current", first.Body["hazard_type"])
	assert.Equal(t, "severe", first.Body["severity"])
	assert.Equal(t, 46.9042, first.Body["lat"])
	assert.Equal(t, -124.1051, first.Body["lon"])
	assert.Equal(t, "north jetty, Westport", first.Body["location"])
	assert.Equal(t, "2026-03-14T09:30:00Z", first.Body["enqueued_at"])

	uri, ok := first.Body["media_uri"].(string)
	require.True(t, ok, "media_uri should be present")
	media, err := domain.ParseDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/png", media.MIME)
	assert.Equal(t, pngBytes, media.Data)

	second := readReport(ctx, t, consumer)
	assert.Equal(t, noMedia.ID, second.Key)
	assert.Equal(t, "debris", second.Body["hazard_type"])
	assert.NotContains(t, second.Body, "media_uri")
	assert.NotContains(t, second.Body, "location")
}

// TestQueueDrainsThroughKafka wires the real queue store and sync engine to
// the Kafka sink and verifies one pass drains the queue onto the topic.
func TestQueueDrainsThroughKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers:  []string{broker},
		KafkaTopic:    testTopic,
		StationID:     "station-07",
		DBPath:        filepath.Join(t.TempDir(), "queue.db"),
		MediaMaxBytes: 8 << 20,
	}

	st, err := store.Open(cfg, clockwork.NewRealClock(), discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hazards := []string{"rip_current", "storm_surge", "high_surf"}
	enqueued := make(map[string]string, len(hazards))
	for i, hazard := range hazards {
		entry, err := st.Enqueue(ctx, domain.ReportPayload{
			HazardType:  hazard,
			Description: fmt.Sprintf("integration report %d", i),
			Severity:    "moderate",
			Lat:         46.88,
			Lon:         -124.10,
		}, nil)
		require.NoError(t, err)
		enqueued[entry.ID] = hazard
	}

	writer := kafkaadapter.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	bus := events.NewBus(discardLogger())
	t.Cleanup(bus.Close)

	engine := syncer.NewEngine(st, writer, alwaysOnline{}, bus, discardLogger(),
		observability.NewMetricsForTesting(), syncer.EngineOptions{})

	res, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncer.OutcomeCompleted, res.Outcome)
	assert.Equal(t, len(hazards), res.Synced)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Pending)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Active)
	assert.Zero(t, counts.Failed)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-drain-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	for range hazards {
		tm := readReport(ctx, t, consumer)
		hazard, ok := enqueued[tm.Key]
		require.True(t, ok, "message key %q should match an enqueued report", tm.Key)
		assert.Equal(t, hazard, tm.Body["hazard_type"])
		assert.Equal(t, hazard, tm.Headers["hazard_type"])
		delete(enqueued, tm.Key)
	}
	assert.Empty(t, enqueued, "every enqueued report should reach the topic")
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// startKafka runs a single-node Kafka broker in a container and returns its
// bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err, "resolve broker addresses")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "resolve controller")

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}), "create topic")
}

// readReport reads a single message from the consumer and deserializes it.
func readReport(ctx context.Context, t *testing.T, consumer *kafkago.Reader) sinkMessage {
	t.Helper()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from report topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body), "unmarshal report message")

	return sinkMessage{Body: body, Key: string(msg.Key), Headers: headers}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
