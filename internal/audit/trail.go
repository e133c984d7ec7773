package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relief.org/internal/obs"
)

// Options tunes the asynchronous writer.
type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Trail writes audit entries to a Store without ever failing the caller's
// primary operation. Append is synchronous and reports failures as
// ErrUnavailable; Record queues the entry for a background worker.
type Trail struct {
	store   Store
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
}

type job struct {
	ctx   context.Context
	entry Entry
}

// NewTrail starts the background writer.
func NewTrail(store Store, opts Options) *Trail {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	t := &Trail{
		store:   store,
		timeout: opts.WriteTimeout,
		queue:   make(chan job, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

// Append persists e and returns its id.
func (t *Trail) Append(ctx context.Context, e Entry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.write(ctx, &e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// Record queues e for asynchronous persistence. A full queue drops the entry.
func (t *Trail) Record(ctx context.Context, e Entry) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.dropped(e, "closed")
		return
	}
	select {
	case t.queue <- job{ctx: context.WithoutCancel(ctx), entry: e}:
	default:
		t.dropped(e, "queue_full")
	}
}

// Recent returns the newest entries, limit clamped to 1..100.
func (t *Trail) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return t.store.Recent(ctx, ClampLimit(limit))
}

// Close stops accepting entries and waits for queued ones to be written.
func (t *Trail) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Trail) run() {
	defer close(t.done)
	for j := range t.queue {
		ctx, cancel := context.WithTimeout(j.ctx, t.timeout)
		_ = t.write(ctx, &j.entry)
		cancel()
	}
}

func (t *Trail) write(ctx context.Context, e *Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrUnavailable, r)
		}
		if err != nil {
			obs.AuditWrites.WithLabelValues("failed").Inc()
			obs.Logger().Error("audit_write_failed",
				"request_id", RequestIDFromContext(ctx),
				"action", e.Action,
				"entity_type", e.EntityType,
				"entity_id", e.EntityID,
				"error", err.Error(),
			)
		}
	}()

	if serr := t.store.Append(ctx, e); serr != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, serr)
	}
	obs.AuditWrites.WithLabelValues("ok").Inc()
	_ = LogEvent(ctx, e.Action, map[string]any{
		"id":          e.ID,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"details":     e.Details,
	})
	return nil
}

func (t *Trail) dropped(e Entry, reason string) {
	obs.AuditWrites.WithLabelValues("dropped").Inc()
	obs.Logger().Warn("audit_entry_dropped",
		"action", e.Action,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"reason", reason,
	)
}
