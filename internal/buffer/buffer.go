// Package buffer is the http sink's spool of undelivered batches. Each batch
// is kept whole, including the ID its Idempotency-Key was derived from, so a
// replay is recognised by the ingest server as the same delivery. Entries are
// files named after the time they were first queued and survive a restart.
// The spool is capped at a configured size; the oldest entries are evicted
// first.
package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/models"
)

const (
	ext      = ".json"
	tmpExt   = ".tmp"
	stampFmt = "20060102T150405.000000000"
)

// Entry is a batch waiting for redelivery.
type Entry struct {
	Batch    models.Batch `json:"batch"`
	QueuedAt time.Time    `json:"queued_at"`
	// Replays counts how often a failed flush put the batch back.
	Replays int `json:"replays"`
}

func (e Entry) fileName() string {
	return e.QueuedAt.UTC().Format(stampFmt) + "-" + e.Batch.ID + ext
}

// Buffer is a directory of pending batches.
type Buffer struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
	mu       sync.Mutex
	now      func() time.Time
}

// New creates the spool directory if it does not exist.
func New(dir string, maxSizeMB int, logger *zap.Logger) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create buffer directory: %w", err)
	}
	return &Buffer{
		dir:      dir,
		maxBytes: int64(maxSizeMB) << 20,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Store queues a batch that has not been buffered before.
func (b *Buffer) Store(batch models.Batch) error {
	return b.write(Entry{Batch: batch, QueuedAt: b.now()})
}

// Requeue puts back an entry taken by Take. It keeps its place in the queue
// and its batch ID.
func (b *Buffer) Requeue(e Entry) error {
	e.Replays++
	return b.write(e)
}

func (b *Buffer) write(e Entry) error {
	if e.Batch.ID == "" {
		return errors.New("batch has no ID")
	}
	if strings.ContainsAny(e.Batch.ID, `/\`) {
		return fmt.Errorf("batch ID %q is not a valid file name", e.Batch.ID)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode batch %s: %w", e.Batch.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.evict(int64(len(data)))

	// Write and rename so a crash never leaves a half-written entry behind.
	path := filepath.Join(b.dir, e.fileName())
	tmp := path + tmpExt
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("failed to write batch %s: %w", e.Batch.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit batch %s: %w", e.Batch.ID, err)
	}
	return nil
}

// Take reads and removes every entry, oldest first. Unreadable entries are
// removed and logged.
func (b *Buffer) Take() ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names, err := b.entries()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, name := range names {
		path := filepath.Join(b.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			b.logger.Warn("Failed to read buffered batch",
				zap.String("file", path),
				zap.Error(err))
			continue
		}

		var e Entry
		if err := json.Unmarshal(data, &e); err != nil || e.Batch.ID == "" {
			if err == nil {
				err = errors.New("batch has no ID")
			}
			b.logger.Warn("Discarding corrupted buffered batch",
				zap.String("file", path),
				zap.Error(err))
			os.Remove(path)
			continue
		}

		out = append(out, e)
		os.Remove(path)
	}

	return out, nil
}

// Len returns the number of queued batches.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	names, err := b.entries()
	if err != nil {
		return 0
	}
	return len(names)
}

// entries lists entry file names in queue order. ReadDir sorts by name and
// names start with the queue time. Must be called with b.mu held.
func (b *Buffer) entries() ([]string, error) {
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range dirEntries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ext {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// evict drops the oldest entries until incoming more bytes fit under the cap.
// The newest batch is always written, even if it alone exceeds the cap.
// Must be called with b.mu held.
func (b *Buffer) evict(incoming int64) {
	names, err := b.entries()
	if err != nil {
		return
	}

	sizes := make([]int64, len(names))
	var total int64
	for i, name := range names {
		if info, err := os.Stat(filepath.Join(b.dir, name)); err == nil {
			sizes[i] = info.Size()
			total += sizes[i]
		}
	}

	for i := 0; i < len(names) && total+incoming > b.maxBytes; i++ {
		path := filepath.Join(b.dir, names[i])
		if err := os.Remove(path); err != nil {
			b.logger.Warn("Failed to evict buffered batch",
				zap.String("file", path),
				zap.Error(err))
			continue
		}
		total -= sizes[i]
		b.logger.Warn("Buffer full, evicted oldest batch",
			zap.String("batch", batchID(names[i])),
			zap.Int64("max_bytes", b.maxBytes))
	}
}

// batchID recovers the batch ID from an entry file name.
func batchID(name string) string {
	name = strings.TrimSuffix(name, ext)
	if i := strings.IndexByte(name, '-'); i >= 0 {
		return name[i+1:]
	}
	return name
}
