package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/coastal-report-sync/internal/config"
	"github.com/couchcryptid/coastal-report-sync/internal/domain"
)

// Writer publishes queued reports to the raw hazard reports topic. It is the
// syncer.Submitter used by stations that sit on the ingest LAN, where the
// broker is reachable directly and the HTTPS API would be a detour.
type Writer struct {
	writer    *kafkago.Writer
	stationID string
	logger    *slog.Logger
}

// NewWriter creates a Kafka producer for the configured report topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, stationID: cfg.StationID, logger: logger}
}

// Submit publishes one report. RequireAll acks make a nil return as strong a
// delivery guarantee as the API sink's 2xx, so the engine can treat both
// sinks identically.
func (w *Writer) Submit(ctx context.Context, report domain.PendingReport) error {
	msg, err := serializeReport(report, w.stationID)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// rawReport is the wire form consumed by the ingest pipeline. Media rides
// along as a data URI so the message is self-contained.
type rawReport struct {
	ClientReportID string  `json:"client_report_id"`
	StationID      string  `json:"station_id"`
	HazardType     string  `json:"hazard_type"`
	Description    string  `json:"description"`
	Severity       string  `json:"severity"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Location       string  `json:"location,omitempty"`
	EnqueuedAt     string  `json:"enqueued_at"`
	MediaURI       string  `json:"media_uri,omitempty"`
}

// serializeReport marshals a pending report into a Kafka message. The report
// ID keys the message, so retries of the same report land on one partition
// and downstream dedupe stays cheap.
func serializeReport(report domain.PendingReport, stationID string) (kafkago.Message, error) {
	raw := rawReport{
		ClientReportID: report.ID,
		StationID:      stationID,
		HazardType:     report.Payload.HazardType,
		Description:    report.Payload.Description,
		Severity:       report.Payload.Severity,
		Lat:            report.Payload.Lat,
		Lon:            report.Payload.Lon,
		Location:       report.Payload.Location,
		EnqueuedAt:     report.EnqueuedAt.Format(time.RFC3339Nano),
	}
	if report.Media != nil {
		raw.MediaURI = report.Media.DataURI()
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize report: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(report.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "hazard_type", Value: []byte(report.Payload.HazardType)},
			{Key: "station_id", Value: []byte(stationID)},
		},
	}, nil
}
