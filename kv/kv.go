package kv

import (
	"context"
	"time"
)

// Entry is one stored key/value pair as returned by Get/GetMany/List.
type Entry struct {
	Key          Key
	Value        []byte
	Versionstamp Versionstamp
}

// SetOptions configures a single Set call.
type SetOptions struct {
	// ExpireIn, if non-zero, asks the backend to drop the entry after the
	// given duration. Not all backends need honor sub-second precision.
	ExpireIn time.Duration
}

// Selector describes a range of keys to list, by shared prefix and
// optional start/end bounds within that prefix.
type Selector struct {
	Prefix Key
	Start  Key // inclusive lower bound, or nil
	End    Key // exclusive upper bound, or nil
}

// ListOptions controls pagination and ordering of a List call.
type ListOptions struct {
	// Limit caps the number of raw entries the backend examines, before
	// any caller-side filter is applied. Zero means unbounded.
	Limit int
	// Cursor resumes a prior List call; it is an opaque token returned in
	// ListPage.Cursor. An empty cursor starts from the beginning (or end,
	// if Reverse).
	Cursor string
	// Reverse iterates from the high end of the selector toward the low
	// end.
	Reverse bool
}

// ListPage is one page of a List call.
type ListPage struct {
	Entries []Entry
	// Cursor is the opaque continuation token past the last entry
	// examined. It is empty when Done is true. An empty cursor passed back
	// to List starts over from the beginning (see ListOptions.Cursor), so
	// exhaustion is reported by Done, not by testing Cursor == "".
	Cursor string
	Done   bool
}

// QueueMessage is the envelope wrapping every enqueued payload, matching
// the queue-layer collaborator contract in the external interfaces.
type QueueMessage struct {
	HandlerID      string
	Data           []byte
	Topic          string
	Undelivered    bool
	UndeliveredIDs []Key
}

// QueueHandler processes one delivered message. An error return marks the
// delivery failed; if the message carries UndeliveredIDs, the backend
// persists it under the undelivered family for later recovery.
type QueueHandler func(ctx context.Context, msg QueueMessage) error

// Watcher is a live stream of the current values of a fixed key set,
// emitted whenever a write or delete lands on one of those keys.
type Watcher interface {
	// Updates delivers one []Entry per observed change; a non-raw watcher
	// first delivers the keys' current values once, on open. Entries for
	// keys with no current value carry a zero Versionstamp and nil Value.
	Updates() <-chan []Entry
	// Close stops the watch and releases the channel. Safe to call more
	// than once.
	Close()
}

// KV is the ordered key-value abstraction the kvdex document layer is
// built on. Implementations: kv/memkv (reference, in-memory) and
// kv/pebblekv (durable, disk-backed). Any conforming backend suffices.
type KV interface {
	// Get fetches a single key. ok is false if the key has no entry.
	Get(ctx context.Context, key Key) (entry Entry, ok bool, err error)
	// GetMany fetches several keys in one round trip. The result slice has
	// the same length as keys; missing keys produce a zero Entry.
	GetMany(ctx context.Context, keys []Key) ([]Entry, error)
	// Set writes a key unconditionally.
	Set(ctx context.Context, key Key, value []byte, opts ...SetOptions) (Versionstamp, error)
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
	// List returns one page of entries matching selector.
	List(ctx context.Context, selector Selector, opts ListOptions) (ListPage, error)
	// Atomic starts a new atomic commit builder.
	Atomic() Atomic
	// Enqueue schedules delivery of msg to any registered listener, after
	// an optional delay.
	Enqueue(ctx context.Context, msg QueueMessage, delay time.Duration) error
	// ListenQueue registers handler for messages whose HandlerID and
	// (if set) Topic match. ListenQueue blocks, dispatching messages on
	// the caller's goroutine, until exitOn returns true or ctx is
	// canceled; it then calls onExit (if non-nil) and returns.
	ListenQueue(ctx context.Context, handlerID, topic string, handler QueueHandler, exitOn func() bool, onExit func()) error
	// Watch opens a live stream of the given keys' current values.
	Watch(ctx context.Context, keys []Key, raw bool) (Watcher, error)
	// Close releases backend resources: cancels watchers, releases queue
	// listener handles, stops periodic tasks driven by this handle.
	Close() error
}

// CheckKind distinguishes the two shapes of conditional check an atomic
// commit can carry.
type CheckKind uint8

const (
	// CheckVersionstamp asserts the key's current versionstamp equals
	// Versionstamp (None means "must not exist").
	CheckVersionstamp CheckKind = iota
)

// Check is one conditional precondition evaluated against a single
// snapshot at commit time; if any Check in a commit fails, the whole
// commit is rejected and none of its Ops are applied.
type Check struct {
	Kind         CheckKind
	Key          Key
	Versionstamp Versionstamp
}

// MutationKind distinguishes the op shapes an atomic commit can carry.
type MutationKind uint8

const (
	MutationSet MutationKind = iota
	MutationDelete
	MutationSum
	MutationMin
	MutationMax
	MutationEnqueue
)

// Mutation is one unconditional effect applied at commit time, after every
// Check in the same commit has passed.
type Mutation struct {
	Kind    MutationKind
	Key     Key
	Value   []byte
	Delta   int64 // for Sum/Min/Max
	Options SetOptions
	Queue   QueueMessage // for Enqueue
	Delay   time.Duration
}

// CommitResult is the outcome of Atomic.Commit.
type CommitResult struct {
	OK           bool
	Versionstamp Versionstamp
}

// Atomic accumulates checks and mutations and applies them in a single
// indivisible commit. It is not safe for concurrent use by multiple
// goroutines.
type Atomic interface {
	Check(checks ...Check) Atomic
	Mutate(mutations ...Mutation) Atomic
	// Commit evaluates every Check against one snapshot and, iff all pass,
	// applies every Mutation. CommitResult.OK is false (not an error) when
	// a Check failed; errors are reserved for backend faults.
	Commit(ctx context.Context) (CommitResult, error)
	// Size reports the number of checks plus mutations queued so far, so
	// callers composing large batches (e.g. DeleteMany) can split before
	// hitting the backend's per-commit limit.
	Size() int
}
