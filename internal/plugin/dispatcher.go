package plugin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/metrics"
	"github.com/Guliveer/nutwatch/internal/models"
)

// Dispatcher holds the fixed, ordered set of sinks.
type Dispatcher struct {
	sinks   []Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewDispatcher creates an empty dispatcher. A positive timeout bounds each
// sink's Accept call.
func NewDispatcher(logger *zap.Logger, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		sinks:   make([]Sink, 0),
		logger:  logger,
		metrics: m,
		timeout: timeout,
	}
}

// Register adds a sink. Call it only during startup.
func (d *Dispatcher) Register(s Sink) {
	d.sinks = append(d.sinks, s)
	d.logger.Info("Registered sink", zap.String("sink", s.Name()))
}

// Sinks returns a copy of the registered sinks.
func (d *Dispatcher) Sinks() []Sink {
	result := make([]Sink, len(d.sinks))
	copy(result, d.sinks)
	return result
}

// Dispatch hands r to every sink in registration order. Failures and panics
// are logged per sink; nothing is returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, r *models.Reading) {
	for _, s := range d.sinks {
		start := time.Now()
		err := d.accept(ctx, s, r)
		d.metrics.SinkDelivered(s.Name(), time.Since(start), err)

		if err != nil {
			d.logger.Error("Sink failed to accept reading",
				zap.String("sink", s.Name()),
				zap.Error(err))
			continue
		}
		d.logger.Debug("Reading delivered", zap.String("sink", s.Name()))
	}
}

func (d *Dispatcher) accept(ctx context.Context, s Sink, r *models.Reading) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = &SinkError{Sink: s.Name(), Op: "accept", Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if err := s.Accept(ctx, r); err != nil {
		return &SinkError{Sink: s.Name(), Op: "accept", Err: err}
	}
	return nil
}

// CloseAll closes every sink, continuing past failures. Each outcome is
// logged; the combined error is returned for a final report.
func (d *Dispatcher) CloseAll() error {
	var errs error
	for _, s := range d.sinks {
		if err := closeSink(s); err != nil {
			d.logger.Error("Failed to close sink",
				zap.String("sink", s.Name()),
				zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		d.logger.Info("Sink closed", zap.String("sink", s.Name()))
	}
	return errs
}

func closeSink(s Sink) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &SinkError{Sink: s.Name(), Op: "close", Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := s.Close(); err != nil {
		return &SinkError{Sink: s.Name(), Op: "close", Err: err}
	}
	return nil
}
