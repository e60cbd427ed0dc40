// Package sender implements the http sink: readings are marshalled to JSON,
// compressed with gzip and POSTed to an ingest endpoint with exponential
// backoff on failure. Batches that cannot be delivered go to a local file
// buffer and are replayed, under their original Idempotency-Key, after the
// next successful send.
package sender

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/buffer"
	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/plugin"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// A whole delivery, every attempt and backoff included, has to fit in the
// dispatcher's per-sink timeout. With the defaults below it takes at most
// 3*2s + 0.5s + 1s; see Config.WorstCase.
const (
	// baseRetryDelay is the base delay for exponential backoff between retries.
	baseRetryDelay = 500 * time.Millisecond

	// requestTimeout is the HTTP request timeout for each send attempt.
	requestTimeout = 2 * time.Second

	defaultRetries = 2
)

// Model is the HTTP_* configuration.
var Model = schema.FieldModel{
	"URL":           {Type: schema.String, Required: true, Pattern: `https?://.+`},
	"TOKEN":         {Type: schema.String},
	"RETRIES":       {Type: schema.Number, Default: float64(defaultRetries)},
	"BUFFER_DIR":    {Type: schema.String, Default: "./buffer"},
	"BUFFER_MAX_MB": {Type: schema.Number, Default: float64(50)},
}

// Factory registers the sink in a plugin.Catalog.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name:      "http",
		Namespace: "http",
		Model:     Model,
		New: func(cfg schema.Values, deps plugin.Deps) (plugin.Sink, error) {
			c := Config{
				URL:   cfg.StringOr("URL", ""),
				Token: cfg.StringOr("TOKEN", ""),
			}
			var err error
			if c.Retries, err = cfg.Whole("RETRIES"); err != nil {
				return nil, fmt.Errorf("http.%w", err)
			}
			if err := c.Validate(); err != nil {
				return nil, err
			}

			maxMB, err := cfg.Whole("BUFFER_MAX_MB")
			if err != nil {
				return nil, fmt.Errorf("http.%w", err)
			}
			buf, err := buffer.New(cfg.StringOr("BUFFER_DIR", "./buffer"), maxMB, deps.Logger.Named("buffer"))
			if err != nil {
				return nil, err
			}

			if worst := c.WorstCase(); deps.DispatchTimeout > 0 && worst > deps.DispatchTimeout {
				deps.Logger.Warn("HTTP retries do not fit in the dispatch timeout, late attempts will be cut short and buffered",
					zap.Int("retries", c.Retries),
					zap.Duration("worst_case", worst),
					zap.Duration("dispatch_timeout", deps.DispatchTimeout))
			}
			return New(c, deps.Agent, deps.Logger, buf), nil
		},
	}
}

// Config holds the ingest endpoint settings.
type Config struct {
	URL     string
	Token   string
	Retries int
}

// Validate requires HTTPS for anything but a loopback host.
func (c Config) Validate() error {
	if c.Retries < 0 {
		return fmt.Errorf("http.RETRIES must not be negative")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid http.URL: %w", err)
	}
	if u.Scheme != "https" {
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
		default:
			return fmt.Errorf("http.URL must use HTTPS (got: %s)", c.URL)
		}
	}
	return nil
}

// WorstCase is the longest a delivery can take: every attempt timing out,
// plus the backoff between attempts.
func (c Config) WorstCase() time.Duration {
	worst := time.Duration(c.Retries+1) * requestTimeout
	for attempt := 1; attempt <= c.Retries; attempt++ {
		worst += backoff(baseRetryDelay, attempt)
	}
	return worst
}

func backoff(base time.Duration, attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt-1))) * base
}

// Sender handles batch transmission of readings with retry logic and local
// buffering as a fallback when the server is unreachable.
type Sender struct {
	client     *http.Client
	cfg        Config
	agent      models.Agent
	logger     *zap.Logger
	buf        *buffer.Buffer
	retryDelay time.Duration
}

// New creates a Sender. buf may be nil, in which case failed batches are
// dropped.
func New(cfg Config, agent models.Agent, logger *zap.Logger, buf *buffer.Buffer) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: requestTimeout,
		},
		cfg:        cfg,
		agent:      agent,
		logger:     logger.Named("http"),
		buf:        buf,
		retryDelay: baseRetryDelay,
	}
}

func (s *Sender) Name() string { return "http" }

// Accept sends the reading, then replays whatever earlier outages left in
// the buffer.
func (s *Sender) Accept(ctx context.Context, r *models.Reading) error {
	if err := s.Send(ctx, []models.Reading{*r}); err != nil {
		return err
	}
	s.FlushBuffer(ctx)
	return nil
}

// Send delivers readings as a new batch. Every attempt of the batch carries
// the same Idempotency-Key. On failure the batch is buffered and the error
// returned.
func (s *Sender) Send(ctx context.Context, readings []models.Reading) error {
	batch := models.Batch{
		ID:       uuid.NewString(),
		Agent:    s.agent,
		Readings: readings,
	}

	err := s.deliver(ctx, batch)
	if err != nil {
		s.bufferBatch(batch)
	}
	return err
}

// deliver POSTs batch until it is accepted, the retry budget is spent, the
// server rate limits us, or ctx ends. It never buffers.
func (s *Sender) deliver(ctx context.Context, batch models.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("failed to compress batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize gzip compression: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := backoff(s.retryDelay, attempt)
			s.logger.Warn("Retrying send",
				zap.String("batch", batch.ID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("send cancelled, batch buffered: %w", err)
			}
		}

		lastErr = s.doSend(ctx, batch.ID, compressed.Bytes())
		if lastErr == nil {
			s.logger.Debug("Batch sent successfully",
				zap.String("batch", batch.ID),
				zap.Int("readings", len(batch.Readings)))
			return nil
		}

		// Rate limited, buffer immediately without further retries
		var rl *RateLimitError
		if errors.As(lastErr, &rl) {
			s.logger.Warn("Rate limited by server, buffering batch",
				zap.String("batch", batch.ID),
				zap.Error(lastErr))
			return lastErr
		}

		s.logger.Warn("Send failed",
			zap.String("batch", batch.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	s.logger.Error("All retries exhausted, buffering batch", zap.String("batch", batch.ID))
	return fmt.Errorf("all %d retries exhausted: %w", s.cfg.Retries, lastErr)
}

// doSend performs a single HTTP POST to the ingest endpoint.
func (s *Sender) doSend(ctx context.Context, id string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Idempotency-Key", id)
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	}

	return fmt.Errorf("server returned %d", resp.StatusCode)
}

func (s *Sender) bufferBatch(batch models.Batch) {
	if s.buf == nil {
		s.logger.Warn("No buffer available, dropping readings",
			zap.String("batch", batch.ID),
			zap.Int("count", len(batch.Readings)))
		return
	}
	if err := s.buf.Store(batch); err != nil {
		s.logger.Error("Failed to buffer readings", zap.String("batch", batch.ID), zap.Error(err))
	}
}

// FlushBuffer replays buffered batches oldest first, each under the
// Idempotency-Key it was first sent with. It stops at the first batch that
// fails again; that batch and the rest go back into the buffer in order.
func (s *Sender) FlushBuffer(ctx context.Context) {
	if s.buf == nil {
		return
	}

	entries, err := s.buf.Take()
	if err != nil {
		s.logger.Error("Failed to retrieve buffered readings", zap.Error(err))
		return
	}

	if len(entries) == 0 {
		return
	}

	s.logger.Info("Flushing buffered readings", zap.Int("batches", len(entries)))

	for i, e := range entries {
		if err := s.deliver(ctx, e.Batch); err != nil {
			s.logger.Warn("Replay failed, keeping batches buffered",
				zap.String("batch", e.Batch.ID),
				zap.Int("replays", e.Replays+1),
				zap.Error(err))
			for _, rest := range entries[i:] {
				if err := s.buf.Requeue(rest); err != nil {
					s.logger.Error("Failed to requeue batch", zap.String("batch", rest.Batch.ID), zap.Error(err))
				}
			}
			return
		}
	}
}

// Close leaves pending batches on disk for the next run.
func (s *Sender) Close() error {
	s.client.CloseIdleConnections()
	if s.buf != nil {
		if n := s.buf.Len(); n > 0 {
			s.logger.Info("Batches left in buffer", zap.Int("batches", n))
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimitError indicates the server returned HTTP 429.
type RateLimitError struct {
	StatusCode int
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("rate limited (%d), retry after %s", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (%d)", e.StatusCode)
}
