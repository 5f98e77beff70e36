package memkv

import (
	"context"

	"github.com/kvdex-go/kvdex/kv"
)

// atomicOp implements kv.Atomic against a Store. It queues checks and
// mutations and, on Commit, takes the store's process-wide lock,
// evaluates every check against the current state, and applies every
// mutation only if all checks passed — otherwise returns ok:false without
// mutating anything.
type atomicOp struct {
	store   *Store
	checks  []kv.Check
	mutates []kv.Mutation
}

// Atomic implements kv.KV.
func (s *Store) Atomic() kv.Atomic {
	return &atomicOp{store: s}
}

func (a *atomicOp) Check(checks ...kv.Check) kv.Atomic {
	a.checks = append(a.checks, checks...)
	return a
}

func (a *atomicOp) Mutate(mutations ...kv.Mutation) kv.Atomic {
	a.mutates = append(a.mutates, mutations...)
	return a
}

func (a *atomicOp) Size() int { return len(a.checks) + len(a.mutates) }

// Commit evaluates all checks under the store's atomic lock, then applies
// all mutations if every check passed. Both phases happen while holding
// the lock, so no other atomic commit or non-atomic write can be observed
// interleaved with this one.
func (a *atomicOp) Commit(ctx context.Context) (kv.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return kv.CommitResult{}, err
	}

	a.store.atomicMu.Lock()
	defer a.store.atomicMu.Unlock()

	a.store.mu.Lock()
	for _, c := range a.checks {
		if !a.checkLocked(c) {
			a.store.mu.Unlock()
			return kv.CommitResult{OK: false}, nil
		}
	}

	vs := a.store.nextVersionstamp()
	changed := make([]kv.Key, 0, len(a.mutates))
	for _, m := range a.mutates {
		a.applyLocked(m, vs)
		if m.Kind != kv.MutationEnqueue {
			changed = append(changed, m.Key)
		}
	}
	a.store.mu.Unlock()

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

func (a *atomicOp) checkLocked(c kv.Check) bool {
	rec, ok := a.store.entries[c.Key.String()]
	if !ok || a.store.expired(rec) {
		return c.Versionstamp == kv.None
	}
	return rec.versionstamp == c.Versionstamp
}

func (a *atomicOp) applyLocked(m kv.Mutation, vs kv.Versionstamp) {
	switch m.Kind {
	case kv.MutationSet:
		a.store.putLocked(m.Key, m.Value, vs, m.Options)
	case kv.MutationDelete:
		a.store.deleteLocked(m.Key)
	case kv.MutationSum, kv.MutationMin, kv.MutationMax:
		a.applyCounterLocked(m, vs)
	case kv.MutationEnqueue:
		// handled post-unlock by the caller
	}
}

func (a *atomicOp) applyCounterLocked(m kv.Mutation, vs kv.Versionstamp) {
	cur := int64(0)
	exists := false
	if rec, ok := a.store.entries[m.Key.String()]; ok && !a.store.expired(rec) {
		cur = decodeCounter(rec.value)
		exists = true
	}
	var next int64
	switch m.Kind {
	case kv.MutationSum:
		next = cur + m.Delta
	case kv.MutationMin:
		next = cur
		if !exists || m.Delta < cur {
			next = m.Delta
		}
	case kv.MutationMax:
		next = cur
		if !exists || m.Delta > cur {
			next = m.Delta
		}
	}
	a.store.putLocked(m.Key, encodeCounter(next), vs)
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
