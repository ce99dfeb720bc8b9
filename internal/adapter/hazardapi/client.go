package hazardapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/coastal-report-sync/internal/config"
	"github.com/couchcryptid/coastal-report-sync/internal/domain"
	"github.com/couchcryptid/coastal-report-sync/internal/syncer"
)

// maxErrorBody caps how much of an error response is folded into the
// returned error. The store truncates lastError further.
const maxErrorBody = 2048

// Client submits queued reports to the central hazard ingest API as
// multipart POSTs. It implements syncer.Submitter: rejections that retrying
// cannot fix come back wrapped as terminal.
type Client struct {
	baseURL    string
	token      string
	stationID  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a hazard API client from the sink configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   cfg.HazardAPIURL,
		token:     cfg.HazardAPIToken,
		stationID: cfg.StationID,
		httpClient: &http.Client{
			Timeout: cfg.SubmitTimeout,
		},
		logger: logger,
	}
}

// Submit delivers one report. A nil return means the API acknowledged the
// report and the entry may leave the queue.
func (c *Client) Submit(ctx context.Context, report domain.PendingReport) error {
	body, contentType, err := encodeForm(report, c.stationID)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/hazard-reports", body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("hazard API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	if terminalStatus(resp.StatusCode) {
		return syncer.Terminal(err)
	}
	return err
}

// terminalStatus reports whether retrying the same payload can ever succeed.
// 408 and 429 are transient despite being 4xx.
func terminalStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

func encodeForm(report domain.PendingReport, stationID string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"client_report_id", report.ID},
		{"station_id", stationID},
		{"hazard_type", report.Payload.HazardType},
		{"description", report.Payload.Description},
		{"severity", report.Payload.Severity},
		{"lat", strconv.FormatFloat(report.Payload.Lat, 'f', -1, 64)},
		{"lon", strconv.FormatFloat(report.Payload.Lon, 'f', -1, 64)},
		{"enqueued_at", report.EnqueuedAt.Format(time.RFC3339Nano)},
	}
	if report.Payload.Location != "" {
		fields = append(fields, struct{ name, value string }{"location", report.Payload.Location})
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	if m := report.Media; m != nil {
		part, err := w.CreatePart(mediaHeader(m.MIME))
		if err != nil {
			return nil, "", fmt.Errorf("create media part: %w", err)
		}
		if _, err := part.Write(m.Data); err != nil {
			return nil, "", fmt.Errorf("write media: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func mediaHeader(mime string) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, mediaFilename(mime)))
	h.Set("Content-Type", mime)
	return h
}

// mediaFilename derives a filename from the MIME subtype. The API keys on
// the part's Content-Type; the name is informational.
func mediaFilename(mime string) string {
	ext := strings.TrimPrefix(mime, "image/")
	if ext == "jpeg" {
		ext = "jpg"
	}
	return "photo." + ext
}
