package kvdex

import (
	"context"
	"fmt"
	"time"

	"github.com/kvdex-go/kvdex/kv"
)

// Builder composes writes across one or more collections into a single
// backend commit (spec §4.3). Unlike an ambient "current collection"
// cursor, every BuilderAdd/BuilderSet/BuilderWrite/BuilderDelete call
// names its collection explicitly — a deliberate divergence from a
// stateful builder.select(...) API, so composing a cross-collection
// commit never depends on call order to know which collection a
// subsequent bare Set targets.
type Builder struct {
	db     *Database
	atomic kv.Atomic

	idTargets      map[string]string // "<collection base>/<id>" -> "set" | "delete"
	primaryTargets map[string]string // primary-index key string -> id string
	err            error
}

func newBuilder(d *Database) *Builder {
	return &Builder{
		db:             d,
		atomic:         d.backend.Atomic(),
		idTargets:      make(map[string]string),
		primaryTargets: make(map[string]string),
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// claimID enforces the same-id-conflict rule: within one commit, a given
// collection id may be the target of at most one set or delete.
func (b *Builder) claimID(base kv.Key, id kv.Part, op string) bool {
	k := base.String() + "/" + id.String()
	if prev, ok := b.idTargets[k]; ok {
		b.fail(fmt.Errorf("kvdex: builder: id %s already targeted by %s in this commit", id.String(), prev))
		return false
	}
	b.idTargets[k] = op
	return true
}

// claimPrimary enforces the index-self-collision rule: within one commit,
// a given primary-index key may be claimed by at most one set.
func (b *Builder) claimPrimary(key kv.Key, id kv.Part) bool {
	k := key.String()
	if prevID, ok := b.primaryTargets[k]; ok {
		b.fail(fmt.Errorf("kvdex: builder: primary index %s already mapped to id %s in this commit", k, prevID))
		return false
	}
	b.primaryTargets[k] = id.String()
	return true
}

// BuilderAdd inserts value under a freshly generated id within b's commit,
// returning the id the caller will need to reference the new document
// elsewhere in the same commit.
func BuilderAdd[T any](ctx context.Context, b *Builder, c *Collection[T], value T) (*Builder, kv.Part) {
	id := c.idGen()
	return builderWrite(ctx, b, c, id, value, true), id
}

// BuilderSet inserts value at id within b's commit, failing the whole
// commit if id already has a live document by the time it is evaluated.
func BuilderSet[T any](ctx context.Context, b *Builder, c *Collection[T], id kv.Part, value T) *Builder {
	return builderWrite(ctx, b, c, id, value, true)
}

// BuilderWrite upserts value at id within b's commit.
func BuilderWrite[T any](ctx context.Context, b *Builder, c *Collection[T], id kv.Part, value T) *Builder {
	return builderWrite(ctx, b, c, id, value, false)
}

func builderWrite[T any](ctx context.Context, b *Builder, c *Collection[T], id kv.Part, value T, requireAbsent bool) *Builder {
	if b.err != nil {
		return b
	}
	if !b.claimID(c.baseKey, id, "set") {
		return b
	}
	if err := c.model.Validate(value); err != nil {
		return b.fail(&ValidationError{Op: "builder-write", Err: err})
	}
	value = c.model.Transform(value)

	idKey := kv.IDKey(c.baseKey, id)
	var oldVals []indexValue[T]
	var oldSegCount int
	idCheck := kv.Check{Kind: kv.CheckVersionstamp, Key: idKey, Versionstamp: kv.None}

	if !requireAbsent {
		existing, ok, err := c.db.backend.Get(ctx, idKey)
		if err != nil {
			return b.fail(backendErr("builder-write", err))
		}
		if ok {
			oldValue, err := c.decodeFromStorage(ctx, id, existing.Value)
			if err != nil {
				return b.fail(backendErr("builder-write", err))
			}
			oldVals = c.indexValues(oldValue)
			oldSegCount = segmentCountOf(existing.Value)
			idCheck.Versionstamp = existing.Versionstamp
		}
	}

	idPayload, segments, err := c.encodeForStorage(value)
	if err != nil {
		return b.fail(backendErr("builder-write", err))
	}

	newVals := c.indexValues(value)
	plan := planIndexChanges(c.baseKey, id, oldVals, newVals)

	for _, k := range plan.checkAbsent {
		if !b.claimPrimary(k, id) {
			return b
		}
	}

	b.atomic.Check(idCheck)
	for _, k := range plan.checkAbsent {
		b.atomic.Check(kv.Check{Kind: kv.CheckVersionstamp, Key: k, Versionstamp: kv.None})
	}
	b.atomic.Mutate(kv.Mutation{Kind: kv.MutationSet, Key: idKey, Value: idPayload})
	b.atomic.Mutate(c.segmentMutations(id, oldSegCount, segments)...)
	for _, k := range plan.toDelete {
		b.atomic.Mutate(kv.Mutation{Kind: kv.MutationDelete, Key: k})
	}
	b.atomic.Mutate(plan.toSet...)
	if c.history {
		mut, err := c.historyMutation(ctx, id, historyWrite, idPayload)
		if err != nil {
			return b.fail(backendErr("builder-write", err))
		}
		b.atomic.Mutate(mut)
	}
	return b
}

// BuilderDelete deletes the document at id within b's commit.
func BuilderDelete[T any](ctx context.Context, b *Builder, c *Collection[T], id kv.Part) *Builder {
	if b.err != nil {
		return b
	}
	if !b.claimID(c.baseKey, id, "delete") {
		return b
	}
	idKey := kv.IDKey(c.baseKey, id)
	existing, ok, err := c.db.backend.Get(ctx, idKey)
	if err != nil {
		return b.fail(backendErr("builder-delete", err))
	}
	if !ok {
		return b
	}
	oldValue, err := c.decodeFromStorage(ctx, id, existing.Value)
	if err != nil {
		return b.fail(backendErr("builder-delete", err))
	}
	oldVals := c.indexValues(oldValue)
	oldSegCount := segmentCountOf(existing.Value)

	b.atomic.Check(kv.Check{Kind: kv.CheckVersionstamp, Key: idKey, Versionstamp: existing.Versionstamp})
	b.atomic.Mutate(kv.Mutation{Kind: kv.MutationDelete, Key: idKey})
	b.atomic.Mutate(c.segmentMutations(id, oldSegCount, nil)...)
	for _, iv := range oldVals {
		b.atomic.Mutate(kv.Mutation{Kind: kv.MutationDelete, Key: oldIndexKey(c.baseKey, iv.spec, iv.value, id)})
	}
	if c.history {
		mut, err := c.historyMutation(ctx, id, historyDelete, nil)
		if err != nil {
			return b.fail(backendErr("builder-delete", err))
		}
		b.atomic.Mutate(mut)
	}
	return b
}

// Check adds a raw versionstamp precondition on key.
func (b *Builder) Check(key kv.Key, vs kv.Versionstamp) *Builder {
	b.atomic.Check(kv.Check{Kind: kv.CheckVersionstamp, Key: key, Versionstamp: vs})
	return b
}

// Sum adds a 64-bit counter increment at key.
func (b *Builder) Sum(key kv.Key, delta int64) *Builder {
	b.atomic.Mutate(kv.Mutation{Kind: kv.MutationSum, Key: key, Delta: delta})
	return b
}

// Min lowers the 64-bit counter at key to delta if delta is smaller.
func (b *Builder) Min(key kv.Key, delta int64) *Builder {
	b.atomic.Mutate(kv.Mutation{Kind: kv.MutationMin, Key: key, Delta: delta})
	return b
}

// Max raises the 64-bit counter at key to delta if delta is larger.
func (b *Builder) Max(key kv.Key, delta int64) *Builder {
	b.atomic.Mutate(kv.Mutation{Kind: kv.MutationMax, Key: key, Delta: delta})
	return b
}

// Enqueue schedules msg for delivery as part of b's commit.
func (b *Builder) Enqueue(msg kv.QueueMessage, delay time.Duration) *Builder {
	b.atomic.Mutate(kv.Mutation{Kind: kv.MutationEnqueue, Queue: msg, Delay: delay})
	return b
}

// Size reports the number of checks plus mutations queued so far.
func (b *Builder) Size() int { return b.atomic.Size() }

// Commit evaluates every check against one snapshot and, iff all pass,
// applies every mutation. A same-id-conflict or index-self-collision
// violation detected while composing the builder fails here without ever
// reaching the backend.
func (b *Builder) Commit(ctx context.Context) (kv.CommitResult, error) {
	if b.err != nil {
		return kv.CommitResult{}, b.err
	}
	res, err := b.atomic.Commit(ctx)
	if err != nil {
		return kv.CommitResult{}, backendErr("builder-commit", err)
	}
	return res, nil
}
