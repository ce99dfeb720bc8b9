// Package syncer drives pending reports from the local queue to the hazard
// sink. The Engine performs one pass over the queue per invocation; the
// Coordinator decides when passes happen.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/coastal-report-sync/internal/domain"
	"github.com/couchcryptid/coastal-report-sync/internal/events"
	"github.com/couchcryptid/coastal-report-sync/internal/observability"
	"github.com/couchcryptid/coastal-report-sync/internal/store"
)

// Queue is the slice of the store the engine drives. Implemented by *store.Store.
type Queue interface {
	ListPending(ctx context.Context) ([]domain.PendingReport, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, lastErr string) error
	RecordFailure(ctx context.Context, id string, status domain.Status, lastErr string) error
	Delete(ctx context.Context, id string) error
	Counts(ctx context.Context) (store.Counts, error)
}

// Submitter delivers a single report to the hazard sink. Implementations
// wrap rejections that retrying cannot fix with Terminal.
type Submitter interface {
	Submit(ctx context.Context, report domain.PendingReport) error
}

// Reachability reports whether the sink is currently reachable.
type Reachability interface {
	Online() bool
}

// Outcome classifies how a sync pass ended.
type Outcome string

const (
	// OutcomeCompleted means the pass worked the queue to the end.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkipped means another pass was already in flight.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeOffline means the sink was unreachable and nothing was attempted.
	OutcomeOffline Outcome = "offline"
)

// Result summarizes one sync pass. Failed counts entries that moved to the
// failed state during this pass; Pending counts entries still waiting after
// it (scheduled retries plus entries a cancelled pass never reached).
type Result struct {
	Outcome Outcome `json:"outcome"`
	Synced  int     `json:"synced"`
	Failed  int     `json:"failed"`
	Pending int     `json:"pending"`
}

// TerminalError marks a submission failure that retrying cannot fix, such as
// a validation rejection from the hazard API.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as a TerminalError. Returns nil for a nil err.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether any error in the chain is a TerminalError.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}

// EngineOptions tunes a sync engine. Zero values select the defaults.
type EngineOptions struct {
	// MaxRetries is the total number of submission attempts an entry gets
	// before it is parked as failed. Default 3.
	MaxRetries int
	// AttemptTimeout bounds a single submission attempt. Default 15s.
	AttemptTimeout time.Duration
}

// Engine performs sync passes over the pending queue. At most one pass runs
// at a time; overlapping Run calls return immediately with OutcomeSkipped.
type Engine struct {
	queue     Queue
	submitter Submitter
	reach     Reachability
	bus       *events.Bus
	logger    *slog.Logger
	metrics   *observability.Metrics

	maxRetries     int
	attemptTimeout time.Duration

	inFlight atomic.Bool
}

// NewEngine creates an Engine with the given collaborators.
func NewEngine(queue Queue, submitter Submitter, reach Reachability, bus *events.Bus, logger *slog.Logger, metrics *observability.Metrics, opts EngineOptions) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 15 * time.Second
	}
	return &Engine{
		queue:          queue,
		submitter:      submitter,
		reach:          reach,
		bus:            bus,
		logger:         logger,
		metrics:        metrics,
		maxRetries:     opts.MaxRetries,
		attemptTimeout: opts.AttemptTimeout,
	}
}

// InFlight reports whether a pass is currently running.
func (e *Engine) InFlight() bool {
	return e.inFlight.Load()
}

// Run executes one sync pass: capture the pending entries, submit them in
// enqueue order, and settle each entry's fate independently. The in-flight
// guard is cleared on every exit path, including storage errors.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.metrics.SyncPasses.WithLabelValues(string(OutcomeSkipped)).Inc()
		e.logger.Debug("sync pass skipped, another pass in flight")
		return Result{Outcome: OutcomeSkipped}, nil
	}
	defer e.inFlight.Store(false)

	if !e.reach.Online() {
		e.metrics.SyncPasses.WithLabelValues(string(OutcomeOffline)).Inc()
		res := Result{Outcome: OutcomeOffline}
		if counts, err := e.queue.Counts(ctx); err == nil {
			res.Pending = counts.Active
		}
		e.logger.Info("sync pass skipped, sink unreachable", "pending", res.Pending)
		return res, nil
	}

	entries, err := e.queue.ListPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("capture pending entries: %w", err)
	}

	// Failed entries stay parked until a reporter requeues them.
	work := make([]domain.PendingReport, 0, len(entries))
	for _, entry := range entries {
		if entry.Status == domain.StatusPending {
			work = append(work, entry)
		}
	}

	start := time.Now()
	e.metrics.SyncInFlight.Set(1)
	defer e.metrics.SyncInFlight.Set(0)
	e.bus.Publish(events.SyncStarted{At: start})
	e.logger.Info("sync pass started", "queued", len(work))

	res := Result{Outcome: OutcomeCompleted}
	for i, entry := range work {
		if ctx.Err() != nil {
			res.Pending += len(work) - i
			e.logger.Warn("sync pass interrupted", "remaining", len(work)-i)
			break
		}
		switch e.processEntry(ctx, entry) {
		case entrySynced:
			res.Synced++
		case entryFailed:
			res.Failed++
		case entryRetry:
			res.Pending++
		case entryGone:
			// Deleted mid-pass; nothing to account for.
		}
	}

	e.metrics.SyncPasses.WithLabelValues(string(OutcomeCompleted)).Inc()
	e.metrics.SyncPassDuration.Observe(time.Since(start).Seconds())
	e.bus.Publish(events.SyncCompleted{
		At:      time.Now(),
		Synced:  res.Synced,
		Failed:  res.Failed,
		Pending: res.Pending,
	})
	e.logger.Info("sync pass completed",
		"synced", res.Synced, "failed", res.Failed, "pending", res.Pending,
		"duration", time.Since(start),
	)
	return res, nil
}

type entryOutcome int

const (
	entrySynced entryOutcome = iota
	entryRetry
	entryFailed
	entryGone
)

// processEntry drives one queue entry through a single submission attempt.
// Errors here never abort the pass: each entry succeeds or fails on its own.
func (e *Engine) processEntry(ctx context.Context, entry domain.PendingReport) entryOutcome {
	if err := e.queue.UpdateStatus(ctx, entry.ID, domain.StatusSyncing, ""); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("entry deleted before submission", "report_id", entry.ID)
			return entryGone
		}
		e.logger.Error("marking entry syncing failed", "report_id", entry.ID, "error", err)
		return entryRetry
	}

	err := e.submitOnce(ctx, entry)
	if err == nil {
		return e.settleSynced(ctx, entry)
	}
	return e.settleFailed(ctx, entry, err)
}

func (e *Engine) submitOnce(ctx context.Context, entry domain.PendingReport) error {
	ctx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	start := time.Now()
	err := e.submitter.Submit(ctx, entry)
	e.metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	return err
}

func (e *Engine) settleSynced(ctx context.Context, entry domain.PendingReport) entryOutcome {
	if err := e.queue.Delete(ctx, entry.ID); err != nil {
		// The sink has the report but the entry could not be removed. It
		// stays in syncing until the next open resets it; the resubmission
		// is absorbed by the sink's client_report_id dedupe.
		e.logger.Error("removing synced entry failed", "report_id", entry.ID, "error", err)
	}
	e.metrics.ReportsSynced.Inc()
	e.bus.Publish(events.ReportSynced{At: time.Now(), ReportID: entry.ID})
	e.logger.Info("report synced", "report_id", entry.ID, "attempts", entry.RetryCount+1)
	return entrySynced
}

func (e *Engine) settleFailed(ctx context.Context, entry domain.PendingReport, submitErr error) entryOutcome {
	terminal := IsTerminal(submitErr)
	attempts := entry.RetryCount + 1
	msg := truncateErr(submitErr)

	class := "transient"
	if terminal {
		class = "terminal"
	}
	e.metrics.SubmitErrors.WithLabelValues(class).Inc()

	if terminal || attempts >= e.maxRetries {
		if err := e.queue.RecordFailure(ctx, entry.ID, domain.StatusFailed, msg); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.logger.Error("recording permanent failure failed", "report_id", entry.ID, "error", err)
		}
		e.metrics.ReportsFailed.Inc()
		e.logger.Warn("report failed permanently",
			"report_id", entry.ID, "attempts", attempts, "terminal", terminal, "error", submitErr)
		return entryFailed
	}

	if err := e.queue.RecordFailure(ctx, entry.ID, domain.StatusPending, msg); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Error("recording retry failed", "report_id", entry.ID, "error", err)
	}
	e.logger.Warn("report submission failed, will retry",
		"report_id", entry.ID, "attempts", attempts, "error", submitErr)
	return entryRetry
}

// truncateErr bounds stored error text; hazard API rejections can include
// large response bodies.
func truncateErr(err error) string {
	const limit = 512
	msg := err.Error()
	if len(msg) > limit {
		return msg[:limit]
	}
	return msg
}
