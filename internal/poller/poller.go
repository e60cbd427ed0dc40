// Package poller implements the tick-based reading loop. It fetches one
// reading per interval, hands successes to a callback, and counts consecutive
// failures against a retry budget. When the budget is exceeded the poller
// stops and calls its exit handler; it never dispatches to sinks itself.
package poller

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/metrics"
	"github.com/Guliveer/nutwatch/internal/models"
)

// Source is anything that can produce one reading on demand.
type Source interface {
	Fetch(ctx context.Context) (*models.Reading, error)
}

// DefaultInterval is used when neither Start nor Options give a positive
// interval.
const DefaultInterval = 20 * time.Second

// Options configures a Poller.
type Options struct {
	// Interval between attempts when Start is given no explicit interval.
	Interval time.Duration

	// Retries is the number of consecutive failures tolerated. Exhaustion
	// happens on failure Retries+1.
	Retries int

	// Timeout bounds a single fetch. Zero means no timeout.
	Timeout time.Duration

	// Exit terminates the process after retry exhaustion. Defaults to os.Exit.
	Exit func(code int)
}

// Poller drives a Source on a fixed cadence.
type Poller struct {
	source  Source
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	failures    atomic.Int64
	lastSuccess atomic.Int64
	inFlight    atomic.Bool
	exitOnce    sync.Once
}

// New creates a Poller for source.
func New(source Source, opts Options, logger *zap.Logger, m *metrics.Metrics) *Poller {
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	return &Poller{
		source:  source,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Handle controls a running poll loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels future ticks and waits for the loop to return. An attempt
// already in flight finishes but its result is discarded.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed when the loop has returned, after Stop, parent context
// cancellation, or retry exhaustion.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start runs one attempt immediately and then one per interval until the
// handle is stopped, ctx is cancelled, or the retry budget is exhausted.
// A non-positive interval falls back to Options.Interval, then to
// DefaultInterval.
func (p *Poller) Start(ctx context.Context, onReading func(*models.Reading), interval time.Duration) *Handle {
	if interval <= 0 {
		interval = p.opts.Interval
	}
	if interval <= 0 {
		p.logger.Warn("No poll interval configured, using default",
			zap.Duration("interval", DefaultInterval))
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	p.logger.Info("Starting poller",
		zap.Duration("interval", interval),
		zap.Int("retries", p.opts.Retries))

	go p.run(ctx, h, onReading, interval)
	return h
}

func (p *Poller) run(ctx context.Context, h *Handle, onReading func(*models.Reading), interval time.Duration) {
	defer close(h.done)
	defer h.cancel()

	if !p.attempt(ctx, onReading) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return
		case <-ticker.C:
			if !p.attempt(ctx, onReading) {
				ticker.Stop()
				return
			}
		}
	}
}

// attempt performs one guarded fetch and applies the retry policy. It
// returns false when the loop must end.
func (p *Poller) attempt(ctx context.Context, onReading func(*models.Reading)) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Warn("Previous poll still running, skipping tick")
		return true
	}
	reading, err := p.fetch(ctx)
	p.inFlight.Store(false)

	if ctx.Err() != nil {
		p.logger.Debug("Discarding poll result after stop", zap.Error(err))
		return false
	}

	if err == nil {
		p.failures.Store(0)
		p.lastSuccess.Store(time.Now().UnixNano())
		p.metrics.PollSucceeded()
		onReading(reading)
		return true
	}

	failures := int(p.failures.Add(1))
	p.metrics.PollFailed(failures)
	p.logger.Warn("Poll failed",
		zap.Int("consecutive_failures", failures),
		zap.Error(&ReadError{Attempt: failures, Err: err}))

	if failures > p.opts.Retries {
		exhausted := &RetryExhaustedError{Retries: p.opts.Retries, Failures: failures, Err: err}
		p.logger.Error("Retry budget exhausted, exiting", zap.Error(exhausted))
		p.exitOnce.Do(func() { p.opts.Exit(1) })
		return false
	}

	p.logger.Warn("Unable to read UPS data, will retry",
		zap.Int("remaining", p.opts.Retries-failures))
	return true
}

// PollOnce fetches a single reading outside the loop. It shares the in-flight
// guard with the loop but does not touch the failure count.
func (p *Poller) PollOnce(ctx context.Context) (*models.Reading, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.inFlight.Store(false)
	return p.fetch(ctx)
}

func (p *Poller) fetch(ctx context.Context) (*models.Reading, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	return p.source.Fetch(ctx)
}

// ConsecutiveFailures reports the current failure run.
func (p *Poller) ConsecutiveFailures() int {
	return int(p.failures.Load())
}

// LastSuccess returns the time of the last successful poll, or the zero time.
func (p *Poller) LastSuccess() time.Time {
	ns := p.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
