package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/coastal-report-sync/internal/observability"
)

// Runner executes one sync pass. Implemented by *Engine.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// CoordinatorConfig holds the trigger schedule. Zero durations are legal for
// the delays (fire immediately); a zero Interval selects the 30s default.
type CoordinatorConfig struct {
	// Interval between periodic passes.
	Interval time.Duration
	// StartupDelay before the first pass after Start, giving the prober and
	// HTTP server time to come up before the launch backlog drains.
	StartupDelay time.Duration
	// SettleDelay between an online transition and the pass it triggers, so
	// a flapping link must hold before the queue drains into it.
	SettleDelay time.Duration
	// Transitions carries reachability changes (true = became online). May
	// be nil when no prober is wired; periodic passes still run.
	Transitions <-chan bool
	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
}

// Coordinator owns the trigger state machine: it listens for periodic ticks,
// online transitions, and manual triggers, and dispatches at most one sync
// pass at a time. Triggers that arrive while a pass is running are dropped;
// the next periodic tick catches whatever that trigger would have synced.
type Coordinator struct {
	runner  Runner
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	interval     time.Duration
	startupDelay time.Duration
	settleDelay  time.Duration
	transitions  <-chan bool

	manual  chan struct{}
	running atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup

	mu         sync.Mutex
	lastResult Result
	lastRun    time.Time
	hasResult  bool
}

// NewCoordinator creates a Coordinator around the given runner.
func NewCoordinator(runner Runner, cfg CoordinatorConfig, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		runner:       runner,
		clock:        cfg.Clock,
		logger:       logger,
		metrics:      metrics,
		interval:     cfg.Interval,
		startupDelay: cfg.StartupDelay,
		settleDelay:  cfg.SettleDelay,
		transitions:  cfg.Transitions,
		manual:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start launches the trigger loop. Idempotent; extra calls are no-ops.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop shuts the trigger loop down and waits for any in-flight pass to
// finish. The pass sees its context cancelled and stops between entries.
func (c *Coordinator) Stop() {
	if !c.started.Load() || c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.wg.Wait()
}

// TriggerNow requests an immediate pass, as after a reporter taps "sync
// now". Returns false when the trigger was dropped because a pass is already
// running or an earlier trigger is still queued. The pass itself still goes
// through the engine's reachability and overlap checks.
func (c *Coordinator) TriggerNow() bool {
	select {
	case <-c.done:
		return false // loop already stopped
	default:
	}
	if c.running.Load() {
		c.metrics.TriggersDropped.Inc()
		c.logger.Debug("manual sync trigger dropped, pass running")
		return false
	}
	select {
	case c.manual <- struct{}{}:
		return true
	default:
		c.metrics.TriggersDropped.Inc()
		c.logger.Debug("manual sync trigger dropped, trigger already queued")
		return false
	}
}

// Running reports whether a pass is executing right now.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// LastResult returns the most recent pass result and when it finished.
// ok is false until the first pass completes.
func (c *Coordinator) LastResult() (res Result, at time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult, c.lastRun, c.hasResult
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	startup := c.clock.NewTimer(c.startupDelay)
	defer startup.Stop()

	// settle is armed by an online transition and disarmed by an offline
	// one, so only a link that holds for the full delay triggers a pass.
	var settle clockwork.Timer
	var settleCh <-chan time.Time
	disarmSettle := func() {
		if settle == nil {
			return
		}
		if !settle.Stop() {
			select {
			case <-settleCh:
			default:
			}
		}
		settle, settleCh = nil, nil
	}
	defer disarmSettle()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("trigger loop stopping", "reason", ctx.Err())
			return

		case <-startup.Chan():
			c.dispatch(ctx, "startup")

		case <-ticker.Chan():
			c.dispatch(ctx, "interval")

		case <-c.manual:
			c.dispatch(ctx, "manual")

		case online := <-c.transitions:
			if online {
				disarmSettle()
				settle = c.clock.NewTimer(c.settleDelay)
				settleCh = settle.Chan()
				c.logger.Debug("online transition, settling before sync", "delay", c.settleDelay)
			} else {
				disarmSettle()
			}

		case <-settleCh:
			settle, settleCh = nil, nil
			c.dispatch(ctx, "online")
		}
	}
}

// dispatch starts a pass unless one is already running. The pass runs in its
// own goroutine so the trigger loop keeps absorbing (and dropping) triggers
// while it executes.
func (c *Coordinator) dispatch(ctx context.Context, cause string) {
	if ctx.Err() != nil {
		return
	}
	if !c.running.CompareAndSwap(false, true) {
		c.metrics.TriggersDropped.Inc()
		c.logger.Debug("sync trigger dropped, pass still running", "cause", cause)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)

		res, err := c.runner.Run(ctx)
		if err != nil {
			c.logger.Error("sync pass failed", "cause", cause, "error", err)
			return
		}
		if res.Outcome != OutcomeSkipped {
			c.noteResult(res)
		}
		c.logger.Debug("sync pass finished", "cause", cause, "outcome", res.Outcome)
	}()
}

func (c *Coordinator) noteResult(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastResult = res
	c.lastRun = c.clock.Now()
	c.hasResult = true
}
