// Package plugin defines the Sink contract and the dispatcher that fans each
// reading out to every configured sink. A failing sink is logged and counted
// but never stops delivery to the others or reaches the poller.
package plugin

import (
	"context"
	"fmt"

	"github.com/Guliveer/nutwatch/internal/models"
)

// Sink is the interface that all output plugins must implement.
type Sink interface {
	// Name returns the unique identifier used in logs and metrics.
	Name() string

	// Accept delivers one reading. The context carries the dispatch timeout.
	Accept(ctx context.Context, r *models.Reading) error

	// Close flushes buffered state and releases resources.
	Close() error
}

// SinkError is a failure inside one sink.
type SinkError struct {
	Sink string
	Op   string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %s failed: %v", e.Sink, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
