package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queued report.
type Status string

const (
	// StatusPending marks an entry waiting for its next submission attempt.
	StatusPending Status = "pending"
	// StatusSyncing marks an entry with a submission attempt in flight.
	StatusSyncing Status = "syncing"
	// StatusFailed marks an entry whose retry budget is exhausted or whose
	// payload was rejected by the hazard API. Failed entries are kept for
	// operator review and can be requeued.
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusFailed:
		return true
	}
	return false
}

// ErrInvalidPayload is wrapped by all enqueue-time validation failures so
// callers can distinguish bad input from storage errors with errors.Is.
var ErrInvalidPayload = errors.New("invalid report payload")

// ReportPayload is the reporter-entered content of a hazard report. It is
// the unit forwarded to the hazard API; queue bookkeeping lives on
// PendingReport, not here.
type ReportPayload struct {
	HazardType  string  `json:"hazard_type"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	// Location is an optional free-text place name ("north jetty, Westport")
	// for reports where GPS alone is ambiguous.
	Location string `json:"location,omitempty"`
}

// PendingReport is one durable queue entry: a payload plus the bookkeeping
// the sync engine needs to drive it through the lifecycle.
type PendingReport struct {
	ID         string           `json:"id"`
	Payload    ReportPayload    `json:"payload"`
	Media      *MediaAttachment `json:"media,omitempty"`
	Status     Status           `json:"status"`
	RetryCount int              `json:"retry_count"`
	LastError  string           `json:"last_error,omitempty"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// NewPendingReport validates the payload and media and builds a queue entry
// in the pending state. The ID is assigned here, before any network contact,
// so it stays stable across retries. maxMediaBytes caps the decoded
// attachment size; zero means no attachment is accepted.
func NewPendingReport(payload ReportPayload, media *MediaAttachment, now time.Time, maxMediaBytes int64) (PendingReport, error) {
	normalized, err := payload.Normalize()
	if err != nil {
		return PendingReport{}, err
	}
	if media != nil {
		if err := media.Validate(maxMediaBytes); err != nil {
			return PendingReport{}, err
		}
	}
	return PendingReport{
		ID:         uuid.NewString(),
		Payload:    normalized,
		Media:      media,
		Status:     StatusPending,
		EnqueuedAt: now.UTC(),
	}, nil
}

// Normalize trims free-text fields, lowercases the classification fields,
// and validates the result. It returns the normalized payload so callers
// store exactly what was checked.
func (p ReportPayload) Normalize() (ReportPayload, error) {
	p.HazardType = strings.ToLower(strings.TrimSpace(p.HazardType))
	p.Severity = strings.ToLower(strings.TrimSpace(p.Severity))
	p.Description = strings.TrimSpace(p.Description)
	p.Location = strings.TrimSpace(p.Location)

	if !validHazardType(p.HazardType) {
		return ReportPayload{}, fmt.Errorf("%w: unknown hazard_type %q", ErrInvalidPayload, p.HazardType)
	}
	if !validSeverity(p.Severity) {
		return ReportPayload{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidPayload, p.Severity)
	}
	if p.Description == "" {
		return ReportPayload{}, fmt.Errorf("%w: description is required", ErrInvalidPayload)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return ReportPayload{}, fmt.Errorf("%w: lat %v out of range", ErrInvalidPayload, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return ReportPayload{}, fmt.Errorf("%w: lon %v out of range", ErrInvalidPayload, p.Lon)
	}
	return p, nil
}

// validHazardType accepts the hazard API intake categories (exact matches only).
func validHazardType(value string) bool {
	switch value {
	case "rip_current", "storm_surge", "high_surf", "coastal_flood", "erosion", "debris", "pollution":
		return true
	}
	return false
}

// validSeverity accepts the hazard API's four-level scale.
func validSeverity(value string) bool {
	switch value {
	case "minor", "moderate", "severe", "extreme":
		return true
	}
	return false
}
