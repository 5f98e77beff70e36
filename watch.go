package kvdex

import (
	"context"

	"github.com/kvdex-go/kvdex/kv"
)

// WatchEvent is one observed change to a watched document: Document is the
// zero value with ok=false semantics folded in via the Exists field when
// the key currently holds no value (e.g. it was deleted).
type WatchEvent[T any] struct {
	ID     kv.Part
	Exists bool
	Doc    Document[T]
}

// Watch opens a live stream of the given documents' current values,
// emitting one []WatchEvent with their values on open and then one per
// observed change to any of them.
func (c *Collection[T]) Watch(ctx context.Context, ids ...kv.Part) (<-chan []WatchEvent[T], func(), error) {
	keys := make([]kv.Key, len(ids))
	for i, id := range ids {
		keys[i] = kv.IDKey(c.baseKey, id)
	}
	watcher, err := c.db.backend.Watch(ctx, keys, false)
	if err != nil {
		return nil, nil, backendErr("watch", err)
	}

	out := make(chan []WatchEvent[T])
	go func() {
		defer close(out)
		for entries := range watcher.Updates() {
			events := make([]WatchEvent[T], 0, len(entries))
			for i, e := range entries {
				id := ids[i]
				if e.Value == nil {
					events = append(events, WatchEvent[T]{ID: id, Exists: false})
					continue
				}
				value, err := c.decodeFromStorage(ctx, id, e.Value)
				if err != nil {
					continue
				}
				events = append(events, WatchEvent[T]{
					ID:     id,
					Exists: true,
					Doc:    Document[T]{ID: id, Versionstamp: e.Versionstamp, Value: value},
				})
			}
			select {
			case out <- events:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, watcher.Close, nil
}
