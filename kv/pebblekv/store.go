// Package pebblekv is a durable, disk-backed implementation of kv.KV atop
// CockroachDB's Pebble LSM engine — the persistence counterpart to
// kv/memkv's in-memory reference backend, for deployments that need
// writes to survive a process restart.
package pebblekv

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/internal/broadcast"
	"github.com/kvdex-go/kvdex/kv/internal/queue"
)

// Store is a single-process, disk-backed kv.KV backend. Keys are encoded
// with kv.Key.String's order-preserving text form so Pebble's native byte
// ordering matches kv.Key.Compare without a custom comparer; values carry
// a small header recording the versionstamp, an optional expiry, and the
// original kv.Key (kv.Key.String is one-way, so the key must be recovered
// from the value on iteration, not reparsed).
type Store struct {
	db *pebble.DB

	mu      sync.Mutex // guards counter
	counter uint64

	atomicMu  sync.Mutex
	hub       *broadcast.Hub
	listeners *queue.Registry
	log       *slog.Logger
}

// Option configures a new Store.
type Option func(*Store)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (creating if absent) a Pebble database rooted at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblekv: open %s: %w", dir, err)
	}
	s := &Store{
		db:  db,
		hub: broadcast.New(),
		log: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.listeners = queue.New(s.log)
	return s, nil
}

func encodeIndexKey(k kv.Key) []byte { return []byte(k.String()) }

func (s *Store) nextVersionstamp() kv.Versionstamp {
	s.mu.Lock()
	s.counter++
	v := s.counter
	s.mu.Unlock()
	return kv.Versionstamp(fmt.Sprintf("%020d", v))
}

// record is the framing written as a Pebble value: a length-prefixed
// reversible key encoding (kv.EncodeKey), a length-prefixed versionstamp,
// an 8-byte expiry (UnixNano, 0 meaning none), then the raw payload.
func encodeRecord(key kv.Key, vs kv.Versionstamp, expireAt time.Time, value []byte) []byte {
	keyBytes := kv.EncodeKey(key)
	vsBytes := []byte(vs)

	buf := make([]byte, 0, 4+len(keyBytes)+4+len(vsBytes)+8+len(value))
	buf = appendUint32Prefixed(buf, keyBytes)
	buf = appendUint32Prefixed(buf, vsBytes)

	var expBuf [8]byte
	binary.BigEndian.PutUint64(expBuf[:], uint64(expireAt.UnixNano()))
	buf = append(buf, expBuf[:]...)
	buf = append(buf, value...)
	return buf
}

func appendUint32Prefixed(buf, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func decodeRecord(b []byte) (key kv.Key, vs kv.Versionstamp, expireAt time.Time, value []byte, err error) {
	keyBytes, rest, err := readUint32Prefixed(b)
	if err != nil {
		return nil, "", time.Time{}, nil, err
	}
	key, err = kv.DecodeKey(keyBytes)
	if err != nil {
		return nil, "", time.Time{}, nil, err
	}
	vsBytes, rest, err := readUint32Prefixed(rest)
	if err != nil {
		return nil, "", time.Time{}, nil, err
	}
	vs = kv.Versionstamp(vsBytes)
	if len(rest) < 8 {
		return nil, "", time.Time{}, nil, fmt.Errorf("pebblekv: truncated record")
	}
	expNano := int64(binary.BigEndian.Uint64(rest[:8]))
	if expNano != 0 {
		expireAt = time.Unix(0, expNano)
	}
	value = append([]byte(nil), rest[8:]...)
	return key, vs, expireAt, value, nil
}

func readUint32Prefixed(b []byte) (chunk, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("pebblekv: truncated record")
	}
	n := binary.BigEndian.Uint32(b)
	if uint32(len(b)-4) < n {
		return nil, nil, fmt.Errorf("pebblekv: truncated record")
	}
	return b[4 : 4+n], b[4+n:], nil
}

func expired(expireAt time.Time) bool {
	return !expireAt.IsZero() && time.Now().After(expireAt)
}

// Get implements kv.KV.
func (s *Store) Get(_ context.Context, key kv.Key) (kv.Entry, bool, error) {
	v, closer, err := s.db.Get(encodeIndexKey(key))
	if err == pebble.ErrNotFound {
		return kv.Entry{}, false, nil
	}
	if err != nil {
		return kv.Entry{}, false, err
	}
	defer closer.Close()
	_, vs, expireAt, value, err := decodeRecord(v)
	if err != nil {
		return kv.Entry{}, false, err
	}
	if expired(expireAt) {
		return kv.Entry{}, false, nil
	}
	return kv.Entry{Key: key, Value: value, Versionstamp: vs}, true, nil
}

// GetMany implements kv.KV.
func (s *Store) GetMany(ctx context.Context, keys []kv.Key) ([]kv.Entry, error) {
	out := make([]kv.Entry, len(keys))
	for i, k := range keys {
		e, ok, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = e
		} else {
			out[i] = kv.Entry{Key: k}
		}
	}
	return out, nil
}

func (s *Store) lookupMany(keys []kv.Key) []kv.Entry {
	out, err := s.GetMany(context.Background(), keys)
	if err != nil {
		return make([]kv.Entry, len(keys))
	}
	return out
}

// Set implements kv.KV. It takes the same atomicMu guard an atomic commit
// does, so a lone Set can never interleave between an atomic commit's
// check phase and its batch apply.
func (s *Store) Set(_ context.Context, key kv.Key, value []byte, opts ...kv.SetOptions) (kv.Versionstamp, error) {
	s.atomicMu.Lock()
	defer s.atomicMu.Unlock()

	vs := s.nextVersionstamp()
	var expireAt time.Time
	for _, o := range opts {
		if o.ExpireIn > 0 {
			expireAt = time.Now().Add(o.ExpireIn)
		}
	}
	rec := encodeRecord(key, vs, expireAt, value)
	if err := s.db.Set(encodeIndexKey(key), rec, pebble.Sync); err != nil {
		return "", err
	}
	s.hub.Notify([]kv.Key{key}, s.lookupMany)
	return vs, nil
}

// Delete implements kv.KV.
func (s *Store) Delete(_ context.Context, key kv.Key) error {
	s.atomicMu.Lock()
	defer s.atomicMu.Unlock()

	if err := s.db.Delete(encodeIndexKey(key), pebble.Sync); err != nil {
		return err
	}
	s.hub.Notify([]kv.Key{key}, s.lookupMany)
	return nil
}

// Close implements kv.KV.
func (s *Store) Close() error {
	s.hub.CloseAll()
	s.listeners.CloseAll()
	return s.db.Close()
}

// Watch implements kv.KV.
func (s *Store) Watch(_ context.Context, keys []kv.Key, raw bool) (kv.Watcher, error) {
	return s.hub.Watch(keys, raw, s.lookupMany), nil
}
