// Package store persists the pending report queue in a local SQLite file.
//
// The store is the durability boundary of the service: a report accepted by
// Enqueue has been committed to disk before the call returns, so reports
// captured while offline survive crashes and power loss. Sync bookkeeping
// (status transitions, retry counts) goes through the same database, which
// makes recovery after an interrupted submission attempt a single UPDATE at
// open time.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/coastal-report-sync/internal/config"
	"github.com/couchcryptid/coastal-report-sync/internal/domain"
	"github.com/couchcryptid/coastal-report-sync/internal/observability"
)

var (
	// ErrNotFound is returned when the given report ID matches no queue entry.
	ErrNotFound = errors.New("report not found")
	// ErrStorageFull is returned when SQLite reports the database or disk is
	// full. Callers surface this distinctly so operators know captured
	// reports are at risk.
	ErrStorageFull = errors.New("local storage full")
	// ErrNotFailed is returned by Requeue when the entry exists but is not
	// in the failed state.
	ErrNotFailed = errors.New("report is not in the failed state")
)

// Counts summarizes queue depth by state. Active covers pending and syncing
// entries; Failed covers entries awaiting operator review.
type Counts struct {
	Active int `json:"active"`
	Failed int `json:"failed"`
}

// Store is a durable FIFO queue of pending reports backed by SQLite. It is
// safe for concurrent use; access is serialized over a single connection.
type Store struct {
	db      *sql.DB
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	maxMediaBytes int64
}

const schema = `
CREATE TABLE IF NOT EXISTS pending_reports (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT    NOT NULL UNIQUE,
	payload     TEXT    NOT NULL,
	media_uri   TEXT,
	status      TEXT    NOT NULL DEFAULT 'pending'
	            CHECK (status IN ('pending', 'syncing', 'failed')),
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT    NOT NULL DEFAULT '',
	enqueued_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_reports_status ON pending_reports (status);
`

// Open opens (creating if necessary) the queue database at cfg.DBPath and
// resets entries left in the syncing state by an interrupted process back to
// pending. The clock stamps enqueue times; tests pass a fake.
func Open(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", cfg.DBPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	// One connection keeps writes serialized and makes WAL+FULL durability
	// reasoning straightforward. Queue throughput is a handful of rows per
	// sync pass, nowhere near this bottleneck.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	s := &Store{
		db:            db,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
		maxMediaBytes: cfg.MediaMaxBytes,
	}

	if err := s.recoverInterrupted(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// recoverInterrupted returns syncing entries to pending. An entry can only
// be syncing while a submission attempt is in flight, so finding one at open
// time means the previous process died mid-attempt.
func (s *Store) recoverInterrupted(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_reports SET status = ? WHERE status = ?`,
		domain.StatusPending, domain.StatusSyncing,
	)
	if err != nil {
		return fmt.Errorf("recover interrupted entries: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("recovered interrupted sync entries", "count", n)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Enqueue validates the payload, assigns an ID, and durably appends the
// report to the queue. The returned entry reflects exactly what was stored.
// A full disk surfaces as ErrStorageFull.
func (s *Store) Enqueue(ctx context.Context, payload domain.ReportPayload, media *domain.MediaAttachment) (domain.PendingReport, error) {
	report, err := domain.NewPendingReport(payload, media, s.clock.Now(), s.maxMediaBytes)
	if err != nil {
		return domain.PendingReport{}, err
	}

	payloadJSON, err := marshalPayload(report.Payload)
	if err != nil {
		return domain.PendingReport{}, err
	}

	var mediaURI sql.NullString
	if report.Media != nil {
		mediaURI = sql.NullString{String: report.Media.DataURI(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_reports (id, payload, media_uri, status, retry_count, last_error, enqueued_at)
		 VALUES (?, ?, ?, ?, 0, '', ?)`,
		report.ID, payloadJSON, mediaURI, report.Status, formatTime(report.EnqueuedAt),
	)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return domain.PendingReport{}, s.mapStorageErr("enqueue report", err)
	}

	s.metrics.ReportsEnqueued.Inc()
	s.refreshDepth(ctx)
	s.logger.Info("report enqueued",
		"report_id", report.ID,
		"hazard_type", report.Payload.HazardType,
		"has_media", report.Media != nil,
	)
	return report, nil
}

// ListPending returns every entry a reporter would see in the outbox view:
// pending and failed entries in enqueue order. Syncing entries are excluded;
// they reappear as pending or failed once the in-flight attempt resolves.
func (s *Store) ListPending(ctx context.Context) ([]domain.PendingReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, media_uri, status, retry_count, last_error, enqueued_at
		 FROM pending_reports
		 WHERE status IN (?, ?)
		 ORDER BY seq`,
		domain.StatusPending, domain.StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.PendingReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending reports: %w", err)
	}
	return reports, nil
}

// Get returns the entry with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (domain.PendingReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, payload, media_uri, status, retry_count, last_error, enqueued_at
		 FROM pending_reports WHERE id = ?`, id)
	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingReport{}, ErrNotFound
	}
	return report, err
}

// UpdateStatus transitions an entry to the given status, replacing its last
// error message. Returns ErrNotFound if the entry was deleted out from under
// the caller, which the sync engine treats as "already handled".
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status, lastErr string) error {
	if !status.Valid() {
		return fmt.Errorf("update status: invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_reports SET status = ?, last_error = ? WHERE id = ?`,
		status, lastErr, id,
	)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return s.mapStorageErr("update report status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.refreshDepth(ctx)
	return nil
}

// RecordFailure notes a failed submission attempt: the retry count is
// incremented and the entry moves to the given status (pending when budget
// remains, failed when exhausted or rejected outright).
func (s *Store) RecordFailure(ctx context.Context, id string, status domain.Status, lastErr string) error {
	if status != domain.StatusPending && status != domain.StatusFailed {
		return fmt.Errorf("record failure: invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_reports
		 SET status = ?, retry_count = retry_count + 1, last_error = ?
		 WHERE id = ?`,
		status, lastErr, id,
	)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return s.mapStorageErr("record submission failure", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.refreshDepth(ctx)
	return nil
}

// Delete removes an entry. Deleting an ID that no longer exists is a no-op,
// so success acknowledgments and reporter cancellations can race safely.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_reports WHERE id = ?`, id)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return s.mapStorageErr("delete report", err)
	}
	s.refreshDepth(ctx)
	return nil
}

// Requeue returns a failed entry to pending with a fresh retry budget. The
// entry keeps its original queue position. Requeueing an entry that is not
// failed returns ErrNotFailed.
func (s *Store) Requeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_reports
		 SET status = ?, retry_count = 0, last_error = ''
		 WHERE id = ? AND status = ?`,
		domain.StatusPending, id, domain.StatusFailed,
	)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return s.mapStorageErr("requeue report", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNotFailed
	}
	s.refreshDepth(ctx)
	s.logger.Info("report requeued", "report_id", id)
	return nil
}

// Counts returns queue depth by state. Active (pending + syncing) drives the
// outbox badge; failed entries are surfaced separately for review.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pending_reports GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("count queue entries: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status domain.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("count queue entries: %w", err)
		}
		switch status {
		case domain.StatusFailed:
			c.Failed += n
		default:
			c.Active += n
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("count queue entries: %w", err)
	}
	return c, nil
}

// refreshDepth updates the queue depth gauges after a mutation. Gauge drift
// on a failed count is tolerable; the next mutation corrects it.
func (s *Store) refreshDepth(ctx context.Context) {
	c, err := s.Counts(ctx)
	if err != nil {
		s.logger.Debug("refresh queue depth failed", "error", err)
		return
	}
	s.metrics.QueueDepth.WithLabelValues("active").Set(float64(c.Active))
	s.metrics.QueueDepth.WithLabelValues("failed").Set(float64(c.Failed))
}

// mapStorageErr wraps driver errors, translating SQLITE_FULL into
// ErrStorageFull so callers can alert on exhausted local storage.
func (s *Store) mapStorageErr(op string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrFull {
		return fmt.Errorf("%s: %w", op, ErrStorageFull)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (domain.PendingReport, error) {
	var (
		report      domain.PendingReport
		payloadJSON string
		mediaURI    sql.NullString
		enqueuedAt  string
	)
	err := row.Scan(&report.ID, &payloadJSON, &mediaURI, &report.Status,
		&report.RetryCount, &report.LastError, &enqueuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PendingReport{}, err
		}
		return domain.PendingReport{}, fmt.Errorf("scan report row: %w", err)
	}

	if err := unmarshalPayload(payloadJSON, &report.Payload); err != nil {
		return domain.PendingReport{}, err
	}
	if mediaURI.Valid {
		media, err := domain.ParseDataURI(mediaURI.String)
		if err != nil {
			return domain.PendingReport{}, fmt.Errorf("scan report row: %w", err)
		}
		report.Media = media
	}
	report.EnqueuedAt, err = parseTime(enqueuedAt)
	if err != nil {
		return domain.PendingReport{}, fmt.Errorf("scan report row: %w", err)
	}
	return report, nil
}

func marshalPayload(p domain.ReportPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal report payload: %w", err)
	}
	return string(data), nil
}

func unmarshalPayload(s string, p *domain.ReportPayload) error {
	if err := json.Unmarshal([]byte(s), p); err != nil {
		return fmt.Errorf("unmarshal report payload: %w", err)
	}
	return nil
}

// Timestamps are stored as RFC3339Nano strings so the column round-trips
// without depending on driver time parsing.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
