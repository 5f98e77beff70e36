// Package queue implements the in-process ListenQueue registry shared by
// kv/memkv and kv/pebblekv: both backends dispatch deliveries to
// goroutine-local handlers rather than an external broker, so the
// matching/undelivered-persistence logic only needs writing once.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kvdex-go/kvdex/kv"
)

// Persist writes msg's payload to every key the caller designated as its
// undelivered-recovery location.
type Persist func(ctx context.Context, msg kv.QueueMessage)

// Registry tracks ListenQueue registrations so Enqueue can find a matching
// handler and, failing that, ask Persist to save the message for later
// recovery.
type Registry struct {
	mu        sync.Mutex
	listeners map[*registration]struct{}
	log       *slog.Logger
}

type registration struct {
	handlerID string
	topic     string
	deliver   chan kv.QueueMessage
	done      chan struct{}
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{listeners: make(map[*registration]struct{}), log: log}
}

func (r *Registry) register(handlerID, topic string) *registration {
	reg := &registration{handlerID: handlerID, topic: topic, deliver: make(chan kv.QueueMessage, 64), done: make(chan struct{})}
	r.mu.Lock()
	r.listeners[reg] = struct{}{}
	r.mu.Unlock()
	return reg
}

func (r *Registry) unregister(reg *registration) {
	r.mu.Lock()
	delete(r.listeners, reg)
	r.mu.Unlock()
	close(reg.done)
}

// CloseAll closes every outstanding listener; called from the backend's
// Close.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	regs := make([]*registration, 0, len(r.listeners))
	for reg := range r.listeners {
		regs = append(regs, reg)
	}
	r.listeners = make(map[*registration]struct{})
	r.mu.Unlock()
	for _, reg := range regs {
		close(reg.done)
	}
}

func (r *Registry) matching(msg kv.QueueMessage) []*registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*registration
	for reg := range r.listeners {
		if reg.handlerID != msg.HandlerID {
			continue
		}
		if reg.topic != "" && reg.topic != msg.Topic {
			continue
		}
		out = append(out, reg)
	}
	return out
}

// Enqueue schedules msg for delivery after delay. If no listener is
// registered by delivery time, or delivery would block because a
// listener's channel is full, persist is called to save the message.
func (r *Registry) Enqueue(ctx context.Context, msg kv.QueueMessage, delay time.Duration, persist Persist) {
	deliverFn := func() {
		targets := r.matching(msg)
		if len(targets) == 0 {
			persist(ctx, msg)
			return
		}
		for _, reg := range targets {
			select {
			case reg.deliver <- msg:
			default:
				persist(ctx, msg)
			}
		}
	}
	if delay <= 0 {
		deliverFn()
		return
	}
	time.AfterFunc(delay, deliverFn)
}

// Listen registers handler for handlerID/topic and blocks, dispatching
// matching deliveries on the caller's goroutine, until exitOn returns true
// or ctx is canceled. A handler error causes persist to be called with the
// failed message rather than retrying.
func (r *Registry) Listen(ctx context.Context, handlerID, topic string, handler kv.QueueHandler, exitOn func() bool, onExit func(), persist Persist) error {
	reg := r.register(handlerID, topic)
	defer r.unregister(reg)

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
		case <-reg.done:
			return nil
		case msg := <-reg.deliver:
			if err := handler(ctx, msg); err != nil {
				r.log.Debug("queue: handler failed, message undeliverable", "handler_id", handlerID, "error", err)
				persist(ctx, msg)
			}
		}
	}
}
