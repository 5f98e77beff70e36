package memkv

import (
	"context"
	"time"

	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/internal/queue"
)

// persistUndelivered writes msg's payload under every key the caller
// designated as its undelivered location, per the queue collaborator
// contract: "the envelope's ids_if_undelivered causes the core to persist
// the payload under the undelivered family."
func (s *Store) persistUndelivered(ctx context.Context, msg kv.QueueMessage) {
	if len(msg.UndeliveredIDs) == 0 {
		s.log.Warn("memkv: message undeliverable with no undelivered key configured", "handler_id", msg.HandlerID)
		return
	}
	for _, k := range msg.UndeliveredIDs {
		if _, err := s.Set(ctx, k, msg.Data); err != nil {
			s.log.Error("memkv: failed to persist undelivered message", "key", k.String(), "error", err)
		}
	}
}

// Enqueue implements kv.KV.
func (s *Store) Enqueue(ctx context.Context, msg kv.QueueMessage, delay time.Duration) error {
	s.listeners.Enqueue(ctx, msg, delay, s.persistUndelivered)
	return nil
}

// ListenQueue implements kv.KV.
func (s *Store) ListenQueue(ctx context.Context, handlerID, topic string, handler kv.QueueHandler, exitOn func() bool, onExit func()) error {
	return s.listeners.Listen(ctx, handlerID, topic, handler, exitOn, onExit, s.persistUndelivered)
}
