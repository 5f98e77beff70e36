package kvdex

import (
	"context"
	"time"

	"github.com/kvdex-go/kvdex/kv"
)

// Enqueue schedules data for delivery to any ListenQueue registered with a
// matching handlerID on this collection's topic, after an optional delay.
// The collection's base key doubles as the queue topic, so listeners on
// different collections never cross-deliver; handlerID further scopes
// delivery to one logical consumer within that topic, the same
// handlerID/topic pairing ListenQueue (and the backend's Registry) match
// on — it must equal the handlerID passed to the paired ListenQueue call.
func (c *Collection[T]) Enqueue(ctx context.Context, handlerID string, data []byte, delay time.Duration) error {
	return c.db.backend.Enqueue(ctx, kv.QueueMessage{HandlerID: handlerID, Topic: c.baseKey.String(), Data: data}, delay)
}

// EnqueueForDocument schedules data for delivery the same way Enqueue
// does, but names id as the undelivered-recovery location: if no listener
// accepts the message (or the handler reports failure), the backend
// persists it under this document's und key instead of dropping it, for
// later recovery via FindUndelivered.
func (c *Collection[T]) EnqueueForDocument(ctx context.Context, handlerID string, id kv.Part, data []byte, delay time.Duration) error {
	return c.db.backend.Enqueue(ctx, kv.QueueMessage{
		HandlerID:      handlerID,
		Topic:          c.baseKey.String(),
		Data:           data,
		UndeliveredIDs: []kv.Key{kv.UndeliveredKey(c.baseKey, id)},
	}, delay)
}

// ListenQueue registers handler for messages enqueued on this collection
// and blocks, dispatching them on the caller's goroutine, until exitOn
// returns true or ctx is canceled.
func (c *Collection[T]) ListenQueue(ctx context.Context, handlerID string, handler func(context.Context, []byte) error, exitOn func() bool, onExit func()) error {
	return c.db.backend.ListenQueue(ctx, handlerID, c.baseKey.String(), func(ctx context.Context, msg kv.QueueMessage) error {
		return handler(ctx, msg.Data)
	}, exitOn, onExit)
}

// FindUndelivered returns the payload left behind for id, if a delivery
// naming it as one of QueueMessage.UndeliveredIDs ever failed — the
// backend persists the raw message data at that key verbatim, so no
// unwrapping is needed here.
func (c *Collection[T]) FindUndelivered(ctx context.Context, id kv.Part) ([]byte, bool, error) {
	entry, ok, err := c.db.backend.Get(ctx, kv.UndeliveredKey(c.baseKey, id))
	if err != nil {
		return nil, false, backendErr("find-undelivered", err)
	}
	if !ok {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// DeleteUndelivered clears the undelivered-queue record for id, once the
// caller has recovered or discarded it.
func (c *Collection[T]) DeleteUndelivered(ctx context.Context, id kv.Part) error {
	return backendErr("delete-undelivered", c.db.backend.Delete(ctx, kv.UndeliveredKey(c.baseKey, id)))
}
