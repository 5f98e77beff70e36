package pebblekv

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/kvdex-go/kvdex/kv"
)

// atomicOp implements kv.Atomic against a Store using a Pebble batch: all
// checks are evaluated, then the batch is built and committed in one
// call, while holding the store's atomicMu so no other atomic commit or
// plain Set/Delete can be observed interleaved with this one.
type atomicOp struct {
	store   *Store
	checks  []kv.Check
	mutates []kv.Mutation
}

// Atomic implements kv.KV.
func (s *Store) Atomic() kv.Atomic { return &atomicOp{store: s} }

func (a *atomicOp) Check(checks ...kv.Check) kv.Atomic {
	a.checks = append(a.checks, checks...)
	return a
}

func (a *atomicOp) Mutate(mutations ...kv.Mutation) kv.Atomic {
	a.mutates = append(a.mutates, mutations...)
	return a
}

func (a *atomicOp) Size() int { return len(a.checks) + len(a.mutates) }

// Commit implements kv.Atomic.
func (a *atomicOp) Commit(ctx context.Context) (kv.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return kv.CommitResult{}, err
	}

	a.store.atomicMu.Lock()
	defer a.store.atomicMu.Unlock()

	for _, c := range a.checks {
		ok, err := a.checkCurrent(ctx, c)
		if err != nil {
			return kv.CommitResult{}, err
		}
		if !ok {
			return kv.CommitResult{OK: false}, nil
		}
	}

	vs := a.store.nextVersionstamp()
	batch := a.store.db.NewBatch()
	changed := make([]kv.Key, 0, len(a.mutates))
	for _, m := range a.mutates {
		if err := a.applyToBatch(ctx, batch, m, vs); err != nil {
			return kv.CommitResult{}, err
		}
		if m.Kind != kv.MutationEnqueue {
			changed = append(changed, m.Key)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return kv.CommitResult{}, err
	}

	for _, m := range a.mutates {
		if m.Kind == kv.MutationEnqueue {
			a.store.listeners.Enqueue(ctx, m.Queue, m.Delay, a.store.persistUndelivered)
		}
	}
	if len(changed) > 0 {
		a.store.hub.Notify(changed, a.store.lookupMany)
	}
	return kv.CommitResult{OK: true, Versionstamp: vs}, nil
}

func (a *atomicOp) checkCurrent(ctx context.Context, c kv.Check) (bool, error) {
	entry, ok, err := a.store.Get(ctx, c.Key)
	if err != nil {
		return false, err
	}
	if !ok {
		return c.Versionstamp == kv.None, nil
	}
	return entry.Versionstamp == c.Versionstamp, nil
}

func (a *atomicOp) applyToBatch(ctx context.Context, batch *pebble.Batch, m kv.Mutation, vs kv.Versionstamp) error {
	switch m.Kind {
	case kv.MutationSet:
		var expireAt time.Time
		if m.Options.ExpireIn > 0 {
			expireAt = time.Now().Add(m.Options.ExpireIn)
		}
		rec := encodeRecord(m.Key, vs, expireAt, m.Value)
		return batch.Set(encodeIndexKey(m.Key), rec, nil)
	case kv.MutationDelete:
		return batch.Delete(encodeIndexKey(m.Key), nil)
	case kv.MutationSum, kv.MutationMin, kv.MutationMax:
		return a.applyCounter(ctx, batch, m, vs)
	case kv.MutationEnqueue:
		return nil
	default:
		return nil
	}
}

func (a *atomicOp) applyCounter(ctx context.Context, batch *pebble.Batch, m kv.Mutation, vs kv.Versionstamp) error {
	cur := int64(0)
	entry, ok, err := a.store.Get(ctx, m.Key)
	if err != nil {
		return err
	}
	if ok {
		cur = decodeCounter(entry.Value)
	}
	var next int64
	switch m.Kind {
	case kv.MutationSum:
		next = cur + m.Delta
	case kv.MutationMin:
		next = cur
		if !ok || m.Delta < cur {
			next = m.Delta
		}
	case kv.MutationMax:
		next = cur
		if !ok || m.Delta > cur {
			next = m.Delta
		}
	}
	rec := encodeRecord(m.Key, vs, time.Time{}, encodeCounter(next))
	return batch.Set(encodeIndexKey(m.Key), rec, nil)
}

func decodeCounter(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func encodeCounter(v int64) []byte {
	u := uint64(v)
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(u)
		u >>= 8
	}
	return out
}
