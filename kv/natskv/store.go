// Package natskv is an alternate kv.KV implementation that delegates
// document storage (Get/Set/Delete/List/Atomic/Watch) to an embedded
// backend — typically kv/memkv or kv/pebblekv — while serving the queue
// surface (Enqueue/ListenQueue) over NATS JetStream, so enqueued messages
// fan out across processes instead of staying confined to one. This
// mirrors the teacher's eventbus.Bus.SetJetStream pattern: a plain
// in-process dispatcher that optionally also publishes to JetStream,
// except here JetStream is the queue's only delivery path rather than a
// fire-and-forget side channel, since natskv exists specifically for the
// distributed case.
package natskv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kvdex-go/kvdex/kv"
	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultStream is the JetStream stream name used when Option doesn't
// override it.
const DefaultStream = "KVDEX_QUEUE"

// Store wraps an embedded kv.KV for storage and a JetStream context for
// queue delivery.
type Store struct {
	kv.KV
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
	log    *slog.Logger
}

// Option configures a new Store.
type Option func(*Store)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithStream overrides DefaultStream.
func WithStream(name string) Option {
	return func(s *Store) { s.stream = name }
}

// New wraps embedded (the document-storage backend) with a JetStream
// queue transport reached through nc, ensuring the backing stream exists.
func New(embedded kv.KV, nc *nats.Conn, opts ...Option) (*Store, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("natskv: jetstream context: %w", err)
	}
	s := &Store{KV: embedded, nc: nc, js: js, stream: DefaultStream, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if _, err := js.StreamInfo(s.stream); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     s.stream,
			Subjects: []string{s.stream + ".>"},
		}); err != nil {
			return nil, fmt.Errorf("natskv: ensure stream %s: %w", s.stream, err)
		}
	}
	return s, nil
}

func subject(stream, handlerID, topic string) string {
	if topic == "" {
		topic = "_"
	}
	return fmt.Sprintf("%s.%s.%s", stream, handlerID, topic)
}

// wireMessage is kv.QueueMessage's wire shape: kv.Key values can't be
// msgpack-tagged directly (their fields are unexported by design), so
// UndeliveredIDs travels as kv.EncodeKey's invertible byte form.
type wireMessage struct {
	HandlerID      string   `msgpack:"h"`
	Data           []byte   `msgpack:"d"`
	Topic          string   `msgpack:"t"`
	Undelivered    bool     `msgpack:"u"`
	UndeliveredIDs [][]byte `msgpack:"i"`
}

func encodeMessage(msg kv.QueueMessage) ([]byte, error) {
	w := wireMessage{HandlerID: msg.HandlerID, Data: msg.Data, Topic: msg.Topic, Undelivered: msg.Undelivered}
	for _, k := range msg.UndeliveredIDs {
		w.UndeliveredIDs = append(w.UndeliveredIDs, kv.EncodeKey(k))
	}
	return msgpack.Marshal(w)
}

func decodeMessage(data []byte) (kv.QueueMessage, error) {
	var w wireMessage
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return kv.QueueMessage{}, err
	}
	msg := kv.QueueMessage{HandlerID: w.HandlerID, Data: w.Data, Topic: w.Topic, Undelivered: w.Undelivered}
	for _, kb := range w.UndeliveredIDs {
		k, err := kv.DecodeKey(kb)
		if err != nil {
			return kv.QueueMessage{}, err
		}
		msg.UndeliveredIDs = append(msg.UndeliveredIDs, k)
	}
	return msg, nil
}

// Enqueue implements kv.KV by publishing to JetStream. JetStream has no
// native delayed-publish primitive in the core API, so delay is honored
// with a local timer, same as the embedded backends.
func (s *Store) Enqueue(_ context.Context, msg kv.QueueMessage, delay time.Duration) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("natskv: encode message: %w", err)
	}
	subj := subject(s.stream, msg.HandlerID, msg.Topic)
	publish := func() {
		if _, err := s.js.Publish(subj, data); err != nil {
			s.log.Error("natskv: publish failed", "subject", subj, "error", err)
		}
	}
	if delay <= 0 {
		publish()
		return nil
	}
	time.AfterFunc(delay, publish)
	return nil
}

// ListenQueue implements kv.KV with a JetStream pull consumer scoped to
// handlerID/topic, dispatching each delivered message to handler until
// exitOn returns true or ctx is canceled.
func (s *Store) ListenQueue(ctx context.Context, handlerID, topic string, handler kv.QueueHandler, exitOn func() bool, onExit func()) error {
	subj := subject(s.stream, handlerID, topic)
	if topic == "" {
		// No topic filter: take every topic for this handler.
		subj = fmt.Sprintf("%s.%s.>", s.stream, handlerID)
	}
	sub, err := s.js.PullSubscribe(subj, "kvdex-"+handlerID)
	if err != nil {
		return fmt.Errorf("natskv: pull subscribe %s: %w", subj, err)
	}
	defer sub.Unsubscribe()

	for {
		if exitOn != nil && exitOn() {
			if onExit != nil {
				onExit()
			}
			return nil
		}
		select {
		case <-ctx.Done():
			if onExit != nil {
				onExit()
			}
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(250*time.Millisecond))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			return fmt.Errorf("natskv: fetch: %w", err)
		}
		for _, m := range msgs {
			qm, err := decodeMessage(m.Data)
			if err != nil {
				s.log.Error("natskv: malformed message", "error", err)
				m.Ack()
				continue
			}
			if herr := handler(ctx, qm); herr != nil {
				s.log.Debug("natskv: handler failed, message undeliverable", "handler_id", handlerID, "error", herr)
				s.persistUndelivered(ctx, qm)
			}
			m.Ack()
		}
	}
}

func (s *Store) persistUndelivered(ctx context.Context, msg kv.QueueMessage) {
	if len(msg.UndeliveredIDs) == 0 {
		s.log.Warn("natskv: message undeliverable with no undelivered key configured", "handler_id", msg.HandlerID)
		return
	}
	for _, k := range msg.UndeliveredIDs {
		if _, err := s.KV.Set(ctx, k, msg.Data); err != nil {
			s.log.Error("natskv: failed to persist undelivered message", "key", k.String(), "error", err)
		}
	}
}

// Close closes the embedded backend; the NATS connection is owned by the
// caller who constructed it and is left open.
func (s *Store) Close() error {
	return s.KV.Close()
}
