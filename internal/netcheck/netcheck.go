// Package netcheck tracks whether the hazard sink is reachable from this
// station. Field deployments sit behind flaky cellular and satellite links,
// so reachability is probed actively instead of trusting interface state.
package netcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/coastal-report-sync/internal/config"
	"github.com/couchcryptid/coastal-report-sync/internal/observability"
)

// Checker periodically probes a URL and tracks online/offline state. Any
// HTTP response counts as online, including error statuses: a 500 from the
// probe endpoint still proves the network path works. Only transport
// failures (DNS, dial, TLS, timeout) mean offline.
type Checker struct {
	client   *http.Client
	probeURL string
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	online      atomic.Bool
	transitions chan bool

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Checker from the probe settings in cfg.
func New(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Checker {
	return &Checker{
		client:   &http.Client{Timeout: cfg.ProbeTimeout},
		probeURL: cfg.ProbeURL,
		interval: cfg.ProbeInterval,
		timeout:  cfg.ProbeTimeout,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		// Small buffer so a burst of flaps cannot block the probe loop;
		// the consumer only cares about the latest state anyway.
		transitions: make(chan bool, 4),
		done:        make(chan struct{}),
	}
}

// Start launches the probe loop. The first probe establishes the baseline
// state without emitting a transition; afterwards a transition is sent only
// when the state actually changes. Start is idempotent.
func (c *Checker) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop terminates the probe loop and waits for it to exit.
func (c *Checker) Stop() {
	if !c.started.Load() || c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Online reports the most recently probed state.
func (c *Checker) Online() bool {
	return c.online.Load()
}

// Transitions returns the channel carrying state changes: true when the sink
// became reachable, false when it became unreachable.
func (c *Checker) Transitions() <-chan bool {
	return c.transitions
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.done)

	c.setOnline(c.probe(ctx))
	c.logger.Info("reachability baseline", "online", c.Online(), "probe_url", c.probeURL)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.observe(ctx)
		}
	}
}

// observe probes once and publishes a transition if the state changed.
func (c *Checker) observe(ctx context.Context) {
	online := c.probe(ctx)
	previous := c.online.Swap(online)
	c.updateGauge(online)
	if online == previous {
		return
	}
	c.logger.Info("reachability changed", "online", online)

	select {
	case c.transitions <- online:
	default:
		c.logger.Warn("reachability transition dropped, consumer not keeping up")
	}
}

func (c *Checker) setOnline(online bool) {
	c.online.Store(online)
	c.updateGauge(online)
}

func (c *Checker) updateGauge(online bool) {
	if online {
		c.metrics.Online.Set(1)
	} else {
		c.metrics.Online.Set(0)
	}
}

// probe performs one GET against the probe URL.
func (c *Checker) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.probeURL, nil)
	if err != nil {
		c.metrics.ProbeErrors.Inc()
		c.logger.Error("building probe request failed", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ProbeErrors.Inc()
		c.logger.Debug("probe failed", "error", err)
		return false
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck // drain for connection reuse
	resp.Body.Close()
	return true
}
