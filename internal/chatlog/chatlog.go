// Package chatlog writes session cycle events to an NDJSON file without
// blocking the session that produced them.
package chatlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/timetalks/internal/session"
)

// DefaultQueueSize is used when Config.QueueSize is not positive.
const DefaultQueueSize = 256

// Config controls the cycle log.
type Config struct {
	Path      string
	QueueSize int
}

// Line is one NDJSON record.
type Line struct {
	Timestamp   time.Time         `json:"ts"`
	SessionID   string            `json:"session_id"`
	CycleID     string            `json:"cycle_id"`
	CharacterID int               `json:"character_id"`
	Kind        session.EventKind `json:"kind"`
	Sender      string            `json:"sender,omitempty"`
	Body        string            `json:"body,omitempty"`
	Cause       string            `json:"cause,omitempty"`
	DurationMS  int64             `json:"duration_ms,omitempty"`
}

func lineFromEvent(e session.Event) Line {
	return Line{
		Timestamp:   e.Timestamp.UTC(),
		SessionID:   e.SessionID,
		CycleID:     e.CycleID,
		CharacterID: e.CharacterID,
		Kind:        e.Kind,
		Sender:      e.Sender,
		Body:        e.Body,
		Cause:       e.Cause,
		DurationMS:  e.Duration.Milliseconds(),
	}
}

var _ session.Recorder = (*Writer)(nil)

// Writer is a session.Recorder that appends events to a file from a
// background goroutine. When the queue is full the oldest event is dropped.
type Writer struct {
	file    *os.File
	enc     *json.Encoder
	queue   chan Line
	logger  *slog.Logger
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New opens (or creates) the log file and starts the writer.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("chat log path is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create chat log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}

	w := &Writer{
		file:   f,
		enc:    json.NewEncoder(f),
		queue:  make(chan Line, cfg.QueueSize),
		logger: logger.With("component", "chatlog"),
	}

	w.wg.Add(1)
	go w.process()

	w.logger.Info("Chat log started", "path", cfg.Path, "queue_size", cfg.QueueSize)
	return w, nil
}

// Record queues e for writing. It never blocks.
func (w *Writer) Record(e session.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	line := lineFromEvent(e)
	select {
	case w.queue <- line:
		return
	default:
	}

	// Queue full: drop the oldest line to make room.
	select {
	case <-w.queue:
		w.dropped.Add(1)
	default:
	}
	select {
	case w.queue <- line:
	default:
		w.dropped.Add(1)
	}
	w.logger.Warn("Chat log queue full, dropped oldest event",
		"queue_len", len(w.queue),
		"dropped_total", w.dropped.Load(),
	)
}

// Dropped returns how many events were lost to backpressure.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) process() {
	defer w.wg.Done()

	for line := range w.queue {
		if err := w.enc.Encode(line); err != nil {
			w.logger.Warn("Failed to write chat log line", "cycle_id", line.CycleID, "error", err)
		}
	}
}

// Close flushes queued events and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close chat log: %w", err)
	}
	return nil
}
