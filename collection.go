package kvdex

import (
	"context"

	"github.com/google/uuid"
	"github.com/kvdex-go/kvdex/encoding"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/model"
)

// Collection is a typed, prefix-namespaced document store within a
// Database: it owns one base key family, a model that validates and
// transforms every incoming value, an encoder, zero or more declared
// indices, and the segmentation/history behavior configured at
// construction.
type Collection[T any] struct {
	db           *Database
	name         string
	baseKey      kv.Key
	model        model.Model[T]
	encoder      encoding.Encoder
	indices      []IndexSpec[T]
	history      bool
	idGen        func() kv.Part
	segmentLimit int
}

// CollectionOption configures a Collection at construction time.
type CollectionOption[T any] func(*Collection[T])

// WithIndex declares a primary or secondary index over the collection.
func WithIndex[T any](spec IndexSpec[T]) CollectionOption[T] {
	return func(c *Collection[T]) { c.indices = append(c.indices, spec) }
}

// WithHistory turns on append-only history recording for every write and
// delete (see history.go).
func WithHistory[T any]() CollectionOption[T] {
	return func(c *Collection[T]) { c.history = true }
}

// WithEncoder overrides the default structured (msgpack) encoder, e.g.
// with encoding.JSON for values that must stay human-readable at rest.
func WithEncoder[T any](enc encoding.Encoder) CollectionOption[T] {
	return func(c *Collection[T]) { c.encoder = enc }
}

// WithIDGenerator overrides the default random-id generator used by Add.
func WithIDGenerator[T any](fn func() kv.Part) CollectionOption[T] {
	return func(c *Collection[T]) { c.idGen = fn }
}

// WithSegmentLimit overrides DefaultSegmentLimit for this collection.
func WithSegmentLimit[T any](limit int) CollectionOption[T] {
	return func(c *Collection[T]) { c.segmentLimit = limit }
}

// NewCollection declares a collection rooted at path under db, validated
// against m. It registers itself with db so database-wide operations
// (CountAll, DeleteAll, Wipe) reach it.
func NewCollection[T any](db *Database, path []string, m model.Model[T], opts ...CollectionOption[T]) *Collection[T] {
	c := &Collection[T]{
		db:           db,
		name:         kv.Base(path...).String(),
		baseKey:      kv.Base(path...),
		model:        m,
		encoder:      encoding.Structured,
		idGen:        defaultIDGen,
		segmentLimit: DefaultSegmentLimit,
	}
	for _, o := range opts {
		o(c)
	}
	db.register(c)
	return c
}

func defaultIDGen() kv.Part { return kv.Text(uuid.NewString()) }

func (c *Collection[T]) base() kv.Key { return c.baseKey }

// Document pairs a stored value with its id and current versionstamp.
type Document[T any] struct {
	ID           kv.Part
	Versionstamp kv.Versionstamp
	Value        T
}

// WriteResult reports the outcome of a write operation. OK is false (with
// no error) when an optimistic-concurrency or uniqueness check failed —
// callers distinguish "lost the race" from "backend fault" by OK, not by
// err being nil.
type WriteResult struct {
	OK           bool
	ID           kv.Part
	Versionstamp kv.Versionstamp
}

// Add inserts value under a freshly generated id. It fails (OK=false) only
// if the generated id somehow collides with a live document — vanishingly
// unlikely with the default generator, but possible with a caller-supplied
// WithIDGenerator.
func (c *Collection[T]) Add(ctx context.Context, value T) (WriteResult, error) {
	return c.writeDocument(ctx, c.idGen(), value, true)
}

// Set inserts value at the given id, failing (OK=false) if a document
// already lives there — use Write to upsert instead.
func (c *Collection[T]) Set(ctx context.Context, id kv.Part, value T) (WriteResult, error) {
	return c.writeDocument(ctx, id, value, true)
}

// Write upserts value at id: it overwrites whatever document (if any)
// currently lives there, or inserts fresh if none does.
func (c *Collection[T]) Write(ctx context.Context, id kv.Part, value T) (WriteResult, error) {
	return c.writeDocument(ctx, id, value, false)
}

// AddMany inserts each value under a freshly generated id, one commit per
// value (not a single cross-value atomic commit — see builder.go's
// BuilderAdd for composing several into one). It stops and returns the
// first error encountered, along with results for every value processed
// so far.
func (c *Collection[T]) AddMany(ctx context.Context, values []T) ([]WriteResult, error) {
	results := make([]WriteResult, 0, len(values))
	for _, v := range values {
		res, err := c.Add(ctx, v)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// writeDocument is the shared insert/overwrite algorithm (spec §4.1):
// requireAbsent=true enforces true insert semantics against the id key
// itself; requireAbsent=false reads the current document first so index
// and segment entries can be diffed against their prior values in the
// same commit.
func (c *Collection[T]) writeDocument(ctx context.Context, id kv.Part, value T, requireAbsent bool) (WriteResult, error) {
	if err := c.model.Validate(value); err != nil {
		return WriteResult{}, &ValidationError{Op: "write", Err: err}
	}
	value = c.model.Transform(value)

	idKey := kv.IDKey(c.baseKey, id)

	var oldVals []indexValue[T]
	var oldSegCount int
	idCheck := kv.Check{Kind: kv.CheckVersionstamp, Key: idKey, Versionstamp: kv.None}

	if !requireAbsent {
		existing, ok, err := c.db.backend.Get(ctx, idKey)
		if err != nil {
			return WriteResult{}, backendErr("write", err)
		}
		if ok {
			oldValue, err := c.decodeFromStorage(ctx, id, existing.Value)
			if err != nil {
				return WriteResult{}, backendErr("write", err)
			}
			oldVals = c.indexValues(oldValue)
			oldSegCount = segmentCountOf(existing.Value)
			idCheck.Versionstamp = existing.Versionstamp
		}
	}

	idPayload, segments, err := c.encodeForStorage(value)
	if err != nil {
		return WriteResult{}, backendErr("write", err)
	}

	newVals := c.indexValues(value)
	plan := planIndexChanges(c.baseKey, id, oldVals, newVals)

	atomic := c.db.backend.Atomic()
	atomic.Check(idCheck)
	for _, k := range plan.checkAbsent {
		atomic.Check(kv.Check{Kind: kv.CheckVersionstamp, Key: k, Versionstamp: kv.None})
	}
	atomic.Mutate(kv.Mutation{Kind: kv.MutationSet, Key: idKey, Value: idPayload})
	atomic.Mutate(c.segmentMutations(id, oldSegCount, segments)...)
	for _, k := range plan.toDelete {
		atomic.Mutate(kv.Mutation{Kind: kv.MutationDelete, Key: k})
	}
	atomic.Mutate(plan.toSet...)
	if c.history {
		mut, err := c.historyMutation(ctx, id, historyWrite, idPayload)
		if err != nil {
			return WriteResult{}, backendErr("write", err)
		}
		atomic.Mutate(mut)
	}

	res, err := atomic.Commit(ctx)
	if err != nil {
		return WriteResult{}, backendErr("write", err)
	}
	return WriteResult{OK: res.OK, ID: id, Versionstamp: res.Versionstamp}, nil
}

// Update applies patch to the document at id. For a mapping-typed T
// (struct or map), patch must be a map[string]any and is deep merged key
// by key (nested maps recurse, scalars and arrays within a value replace
// wholesale). For a non-mapping T (number, string, slice, byte-array),
// there is no key to merge on, so patch is the full replacement value
// itself — a []string, int, or other T-shaped value (or its JSON
// equivalent). Either way patch is interpreted against the value's JSON
// shape so the model's declared T stays opaque to this package.
func (c *Collection[T]) Update(ctx context.Context, id kv.Part, patch any) (WriteResult, error) {
	idKey := kv.IDKey(c.baseKey, id)
	existing, ok, err := c.db.backend.Get(ctx, idKey)
	if err != nil {
		return WriteResult{}, backendErr("update", err)
	}
	if !ok {
		return WriteResult{}, &NotFoundError{Collection: c.name, ID: id.String()}
	}
	oldValue, err := c.decodeFromStorage(ctx, id, existing.Value)
	if err != nil {
		return WriteResult{}, backendErr("update", err)
	}

	merged, err := deepMergeValue(oldValue, patch)
	if err != nil {
		return WriteResult{}, backendErr("update", err)
	}

	return c.writeDocument(ctx, id, merged, false)
}

// UpdateByPrimaryIndex applies patch to the (at most one) document whose
// primary index field matches value, if any.
func (c *Collection[T]) UpdateByPrimaryIndex(ctx context.Context, field string, value kv.Part, patch any) (WriteResult, error) {
	doc, ok, err := c.FindByPrimaryIndex(ctx, field, value)
	if err != nil {
		return WriteResult{}, err
	}
	if !ok {
		return WriteResult{}, nil
	}
	return c.Update(ctx, doc.ID, patch)
}

// UpdateBySecondaryIndex applies patch to every document whose secondary
// index field matches value, stopping at the first error.
func (c *Collection[T]) UpdateBySecondaryIndex(ctx context.Context, field string, value kv.Part, patch any) ([]WriteResult, error) {
	docs, err := c.FindBySecondaryIndex(ctx, field, value)
	if err != nil {
		return nil, err
	}
	results := make([]WriteResult, 0, len(docs))
	for _, doc := range docs {
		res, err := c.Update(ctx, doc.ID, patch)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Delete removes the document at id, along with its index, segment, and
// undelivered-queue entries. Deleting an absent id is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id kv.Part) error {
	idKey := kv.IDKey(c.baseKey, id)
	existing, ok, err := c.db.backend.Get(ctx, idKey)
	if err != nil {
		return backendErr("delete", err)
	}
	if !ok {
		return nil
	}
	oldValue, err := c.decodeFromStorage(ctx, id, existing.Value)
	if err != nil {
		return backendErr("delete", err)
	}
	oldVals := c.indexValues(oldValue)
	oldSegCount := segmentCountOf(existing.Value)

	atomic := c.db.backend.Atomic()
	atomic.Check(kv.Check{Kind: kv.CheckVersionstamp, Key: idKey, Versionstamp: existing.Versionstamp})
	atomic.Mutate(kv.Mutation{Kind: kv.MutationDelete, Key: idKey})
	atomic.Mutate(c.segmentMutations(id, oldSegCount, nil)...)
	for _, iv := range oldVals {
		atomic.Mutate(kv.Mutation{Kind: kv.MutationDelete, Key: oldIndexKey(c.baseKey, iv.spec, iv.value, id)})
	}
	atomic.Mutate(kv.Mutation{Kind: kv.MutationDelete, Key: kv.UndeliveredKey(c.baseKey, id)})
	if c.history {
		mut, err := c.historyMutation(ctx, id, historyDelete, nil)
		if err != nil {
			return backendErr("delete", err)
		}
		atomic.Mutate(mut)
	}

	res, err := atomic.Commit(ctx)
	if err != nil {
		return backendErr("delete", err)
	}
	if !res.OK {
		// Lost a race with a concurrent write/delete; nothing left to do
		// since the caller only asked that id not exist afterward.
		return nil
	}
	return nil
}

// DeleteByPrimaryIndex deletes the (at most one) document whose primary
// index field matches value, if any.
func (c *Collection[T]) DeleteByPrimaryIndex(ctx context.Context, field string, value kv.Part) error {
	doc, ok, err := c.FindByPrimaryIndex(ctx, field, value)
	if err != nil || !ok {
		return err
	}
	return c.Delete(ctx, doc.ID)
}

// DeleteBySecondaryIndex deletes every document whose secondary index
// field matches value.
func (c *Collection[T]) DeleteBySecondaryIndex(ctx context.Context, field string, value kv.Part) error {
	docs, err := c.FindBySecondaryIndex(ctx, field, value)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := c.Delete(ctx, doc.ID); err != nil {
			return err
		}
	}
	return nil
}

// countAll implements collectionHandle.
func (c *Collection[T]) countAll(ctx context.Context) (int, error) { return c.Count(ctx) }

// deleteAll implements collectionHandle.
func (c *Collection[T]) deleteAll(ctx context.Context) error {
	return c.DeleteMany(ctx, func(Document[T]) bool { return true })
}
