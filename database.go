// Package kvdex is a typed, schema-driven document layer built atop the
// ordered key-value abstraction in package kv. It adds nested
// prefix-namespaced collections, transactional primary/secondary
// indexing, large-value segmentation, and an atomic builder composing
// writes across collections into one backend commit.
package kvdex

import (
	"context"
	"log/slog"
	"time"

	"github.com/kvdex-go/kvdex/kv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Database is the entry point: a handle on one backing kv.KV plus the
// database-level operations (atomic builder, bulk maintenance, queue,
// periodic tasks) that cut across individual collections.
type Database struct {
	backend kv.KV
	log     *slog.Logger
	tracer  trace.Tracer

	collections []collectionHandle
}

// collectionHandle is the subset of Collection[T] the database needs for
// cross-collection operations (CountAll, DeleteAll, Wipe) without knowing
// T.
type collectionHandle interface {
	base() kv.Key
	countAll(ctx context.Context) (int, error)
	deleteAll(ctx context.Context) error
}

// DatabaseOption configures a Database at construction time.
type DatabaseOption func(*Database)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) DatabaseOption {
	return func(d *Database) { d.log = l }
}

// WithTracer attaches an OpenTelemetry tracer; defaults to the global
// tracer provider's "kvdex" tracer.
func WithTracer(t trace.Tracer) DatabaseOption {
	return func(d *Database) { d.tracer = t }
}

// NewDatabase wraps a kv.KV backend.
func NewDatabase(backend kv.KV, opts ...DatabaseOption) *Database {
	d := &Database{
		backend: backend,
		log:     slog.Default(),
		tracer:  otel.Tracer("kvdex"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Database) register(c collectionHandle) {
	d.collections = append(d.collections, c)
}

// Atomic starts a new database-wide atomic builder (see builder.go); it
// may accumulate writes against several collections before Commit.
func (d *Database) Atomic() *Builder {
	return newBuilder(d)
}

// CountAll sums Count() across every collection registered against this
// database (i.e. every collection constructed with NewCollection(db, ...)).
func (d *Database) CountAll(ctx context.Context) (int, error) {
	total := 0
	for _, c := range d.collections {
		n, err := c.countAll(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// DeleteAll deletes every document in every registered collection.
func (d *Database) DeleteAll(ctx context.Context) error {
	for _, c := range d.collections {
		if err := c.deleteAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Wipe deletes every key under the framework prefix, including index,
// segment, history, and undelivered entries — a harder reset than
// DeleteAll, intended for test teardown.
func (d *Database) Wipe(ctx context.Context) error {
	prefix := kv.Key{kv.Text(kv.FrameworkKey)}
	for {
		page, err := d.backend.List(ctx, kv.Selector{Prefix: prefix}, kv.ListOptions{Limit: 256})
		if err != nil {
			return backendErr("wipe", err)
		}
		if len(page.Entries) == 0 {
			return nil
		}
		for _, e := range page.Entries {
			if err := d.backend.Delete(ctx, e.Key); err != nil {
				return backendErr("wipe", err)
			}
		}
		if page.Done {
			return nil
		}
	}
}

// Enqueue schedules a database-level (collection-less) queue message.
func (d *Database) Enqueue(ctx context.Context, handlerID string, data []byte, delay time.Duration) error {
	return d.backend.Enqueue(ctx, kv.QueueMessage{HandlerID: handlerID, Data: data}, delay)
}

// ListenQueue registers a database-level queue listener; see kv.KV.ListenQueue.
func (d *Database) ListenQueue(ctx context.Context, handlerID string, handler func(context.Context, []byte) error, exitOn func() bool) error {
	return d.backend.ListenQueue(ctx, handlerID, "", func(ctx context.Context, msg kv.QueueMessage) error {
		return handler(ctx, msg.Data)
	}, exitOn, nil)
}

// SetInterval runs fn every period until ctx is canceled or exitOn
// returns true, then calls onExit (if non-nil). fn errors are logged, not
// fatal — matching the teacher's resilient dispatch-loop style
// (eventbus.Bus.Dispatch logs handler errors and continues).
func (d *Database) SetInterval(ctx context.Context, period time.Duration, fn func(context.Context) error, exitOn func() bool, onExit func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		if exitOn != nil && exitOn() {
			if onExit != nil {
				onExit()
			}
			return
		}
		select {
		case <-ctx.Done():
			if onExit != nil {
				onExit()
			}
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				d.log.Error("kvdex: SetInterval task failed", "error", err)
			}
		}
	}
}

// Cron runs fn at every firing of schedule until ctx is canceled or
// exitOn returns true.
func (d *Database) Cron(ctx context.Context, schedule Schedule, fn func(context.Context) error, exitOn func() bool, onExit func()) {
	for {
		if exitOn != nil && exitOn() {
			if onExit != nil {
				onExit()
			}
			return
		}
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			if onExit != nil {
				onExit()
			}
			return
		case <-timer.C:
			if err := fn(ctx); err != nil {
				d.log.Error("kvdex: Cron task failed", "error", err)
			}
		}
	}
}

// Backend exposes the underlying kv.KV, for callers composing operations
// this package doesn't wrap directly (e.g. a custom dump tool).
func (d *Database) Backend() kv.KV { return d.backend }

// Close releases the backing KV's resources.
func (d *Database) Close() error { return d.backend.Close() }
