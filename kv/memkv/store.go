// Package memkv is the reference, single-process, in-memory implementation
// of kv.KV: a sorted slice of entries behind a process-wide lock for
// atomic commits, used by the kvdex test suite and for embedded/browser-
// style usage where durability is not required.
package memkv

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/internal/broadcast"
	"github.com/kvdex-go/kvdex/kv/internal/queue"
)

// Store is a single-process in-memory kv.KV backend. The zero value is not
// usable; construct with New.
type Store struct {
	mu        sync.RWMutex // guards entries/order for non-atomic access
	atomicMu  sync.Mutex   // serializes atomic commits (the "process-wide lock")
	entries   map[string]record
	order     []string // sorted keys, parallel index into entries
	counter   int64
	hub       *broadcast.Hub
	listeners *queue.Registry
	log       *slog.Logger
	closed    bool
}

type record struct {
	key          kv.Key
	value        []byte
	versionstamp kv.Versionstamp
	expireAt     time.Time
}

// Option configures a new Store.
type Option func(*Store)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty in-memory backend.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]record),
		hub:     broadcast.New(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.listeners = queue.New(s.log)
	return s
}

func (s *Store) nextVersionstamp() kv.Versionstamp {
	s.counter++
	return kv.Versionstamp(fmt.Sprintf("%020d", s.counter))
}

// Get implements kv.KV.
func (s *Store) Get(_ context.Context, key kv.Key) (kv.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[key.String()]
	if !ok || s.expired(rec) {
		return kv.Entry{}, false, nil
	}
	return toEntry(rec), true, nil
}

// GetMany implements kv.KV.
func (s *Store) GetMany(_ context.Context, keys []kv.Key) ([]kv.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kv.Entry, len(keys))
	for i, k := range keys {
		if rec, ok := s.entries[k.String()]; ok && !s.expired(rec) {
			out[i] = toEntry(rec)
		} else {
			out[i] = kv.Entry{Key: k}
		}
	}
	return out, nil
}

func (s *Store) expired(r record) bool {
	return !r.expireAt.IsZero() && time.Now().After(r.expireAt)
}

func toEntry(r record) kv.Entry {
	return kv.Entry{Key: r.key, Value: r.value, Versionstamp: r.versionstamp}
}

// Set implements kv.KV.
func (s *Store) Set(_ context.Context, key kv.Key, value []byte, opts ...kv.SetOptions) (kv.Versionstamp, error) {
	s.mu.Lock()
	vs := s.nextVersionstamp()
	s.putLocked(key, value, vs, opts...)
	s.mu.Unlock()
	s.hub.Notify([]kv.Key{key}, s.lookupMany)
	return vs, nil
}

func (s *Store) putLocked(key kv.Key, value []byte, vs kv.Versionstamp, opts ...kv.SetOptions) {
	ks := key.String()
	var expireAt time.Time
	for _, o := range opts {
		if o.ExpireIn > 0 {
			expireAt = time.Now().Add(o.ExpireIn)
		}
	}
	if _, existed := s.entries[ks]; !existed {
		s.insertSorted(ks)
	}
	s.entries[ks] = record{key: key, value: value, versionstamp: vs, expireAt: expireAt}
}

func (s *Store) deleteLocked(key kv.Key) {
	ks := key.String()
	if _, ok := s.entries[ks]; !ok {
		return
	}
	delete(s.entries, ks)
	i := sort.SearchStrings(s.order, ks)
	if i < len(s.order) && s.order[i] == ks {
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

func (s *Store) insertSorted(ks string) {
	i := sort.SearchStrings(s.order, ks)
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = ks
}

// Delete implements kv.KV.
func (s *Store) Delete(_ context.Context, key kv.Key) error {
	s.mu.Lock()
	s.deleteLocked(key)
	s.mu.Unlock()
	s.hub.Notify([]kv.Key{key}, s.lookupMany)
	return nil
}

func (s *Store) lookupMany(keys []kv.Key) []kv.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kv.Entry, len(keys))
	for i, k := range keys {
		if rec, ok := s.entries[k.String()]; ok && !s.expired(rec) {
			out[i] = toEntry(rec)
		} else {
			out[i] = kv.Entry{Key: k}
		}
	}
	return out
}

// List implements kv.KV. The resume index is a plain insertion-point
// search on the cursor; exhaustion is reported by ListPage.Done, never by
// testing the search result or the cursor for a zero value.
func (s *Store) List(_ context.Context, sel kv.Selector, opts kv.ListOptions) (kv.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := s.boundsLocked(sel)
	if opts.Reverse {
		return s.listReverseLocked(sel, opts, lo, hi)
	}
	return s.listForwardLocked(sel, opts, lo, hi)
}

// boundsLocked returns [lo, hi) indexes into s.order covering sel.Prefix,
// further narrowed by sel.Start/sel.End if set.
func (s *Store) boundsLocked(sel kv.Selector) (lo, hi int) {
	prefix := sel.Prefix
	lo = sort.Search(len(s.order), func(i int) bool {
		return s.entries[s.order[i]].key.Compare(prefixLowKey(prefix, sel.Start)) >= 0
	})
	hi = sort.Search(len(s.order), func(i int) bool {
		return !s.entries[s.order[i]].key.HasPrefix(prefix) || (sel.End != nil && s.entries[s.order[i]].key.Compare(sel.End) >= 0)
	})
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func prefixLowKey(prefix, start kv.Key) kv.Key {
	if start != nil {
		return start
	}
	return prefix
}

func (s *Store) listForwardLocked(_ kv.Selector, opts kv.ListOptions, lo, hi int) (kv.ListPage, error) {
	// Resume from the first key >= cursor within [lo, hi). This is a plain
	// insertion-point search: it must never be confused with the
	// "not found" case by testing the returned index for truthiness —
	// index 0 is a perfectly legitimate resume point.
	start := lo
	if opts.Cursor != "" {
		start = lo + sort.SearchStrings(s.order[lo:hi], opts.Cursor)
	}
	limit := opts.Limit
	end := hi
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := make([]kv.Entry, 0, end-start)
	for i := start; i < end; i++ {
		if rec := s.entries[s.order[i]]; !s.expired(rec) {
			page = append(page, toEntry(rec))
		}
	}
	done := end >= hi
	cursor := ""
	if !done {
		cursor = s.order[end]
	}
	return kv.ListPage{Entries: page, Cursor: cursor, Done: done}, nil
}

func (s *Store) listReverseLocked(_ kv.Selector, opts kv.ListOptions, lo, hi int) (kv.ListPage, error) {
	end := hi
	if opts.Cursor != "" {
		end = lo + sort.SearchStrings(s.order[lo:hi], opts.Cursor)
		// The cursor names the next entry to examine; include it.
		if end < hi && s.order[end] == opts.Cursor {
			end++
		}
	}
	limit := opts.Limit
	start := lo
	if limit > 0 && end-limit > start {
		start = end - limit
	}
	page := make([]kv.Entry, 0, end-start)
	for i := end - 1; i >= start; i-- {
		if rec := s.entries[s.order[i]]; !s.expired(rec) {
			page = append(page, toEntry(rec))
		}
	}
	done := start <= lo
	cursor := ""
	if !done {
		cursor = s.order[start-1]
	}
	return kv.ListPage{Entries: page, Cursor: cursor, Done: done}, nil
}

// Close implements kv.KV.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.CloseAll()
	s.listeners.CloseAll()
	return nil
}

// Watch implements kv.KV.
func (s *Store) Watch(_ context.Context, keys []kv.Key, raw bool) (kv.Watcher, error) {
	return s.hub.Watch(keys, raw, s.lookupMany), nil
}
