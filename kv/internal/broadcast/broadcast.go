// Package broadcast implements the in-process key-set watch primitive
// shared by kv/memkv and kv/pebblekv: both backends run in a single
// process, so "watch" needs nothing fancier than a registry of channels
// notified on every write/delete.
package broadcast

import (
	"sync"

	"github.com/kvdex-go/kvdex/kv"
)

// Lookup resolves the current entries for a set of keys. Backends pass
// their own Get/GetMany in as this function.
type Lookup func(keys []kv.Key) []kv.Entry

// Hub fans out write/delete notifications to registered watchers.
type Hub struct {
	mu       sync.Mutex
	watchers map[*sub]struct{}
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{watchers: make(map[*sub]struct{})}
}

type sub struct {
	keys    []kv.Key
	raw     bool
	ch      chan []kv.Entry
	closed  bool
	closeMu sync.Mutex
}

// Updates implements kv.Watcher.
func (s *sub) Updates() <-chan []kv.Entry { return s.ch }

// Close implements kv.Watcher.
func (s *sub) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Watch registers a new watcher over keys. lookup is used once up front
// (raw mode skips the initial snapshot, matching the spec's "unconditional
// in raw mode" wording for the emission trigger, not the initial state).
func (h *Hub) Watch(keys []kv.Key, raw bool, lookup Lookup) kv.Watcher {
	s := &sub{keys: keys, raw: raw, ch: make(chan []kv.Entry, 16)}
	h.mu.Lock()
	h.watchers[s] = struct{}{}
	h.mu.Unlock()

	if !raw {
		if initial := lookup(keys); initial != nil {
			select {
			case s.ch <- initial:
			default:
			}
		}
	}
	return s
}

// Notify informs the hub that the given keys were written or deleted;
// every watcher whose key set intersects (or that is in raw mode) gets a
// fresh lookup pushed to its channel.
func (h *Hub) Notify(changed []kv.Key, lookup Lookup) {
	h.mu.Lock()
	subs := make([]*sub, 0, len(h.watchers))
	for s := range h.watchers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if !s.raw && !intersects(s.keys, changed) {
			continue
		}
		vals := lookup(s.keys)
		s.closeMu.Lock()
		if !s.closed {
			select {
			case s.ch <- vals:
			default:
				// Slow watcher: drop the update rather than block the
				// writer that triggered it.
			}
		}
		s.closeMu.Unlock()
	}
}

// CloseAll closes every outstanding watcher; called from the backend's
// Close.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := make([]*sub, 0, len(h.watchers))
	for s := range h.watchers {
		subs = append(subs, s)
	}
	h.watchers = make(map[*sub]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func intersects(watched, changed []kv.Key) bool {
	for _, w := range watched {
		for _, c := range changed {
			if w.Compare(c) == 0 {
				return true
			}
		}
	}
	return false
}
