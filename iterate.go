package kvdex

import (
	"context"

	"github.com/kvdex-go/kvdex/kv"
)

// Find fetches one document by id. ok is false if no document lives
// there.
func (c *Collection[T]) Find(ctx context.Context, id kv.Part) (Document[T], bool, error) {
	idKey := kv.IDKey(c.baseKey, id)
	entry, ok, err := c.db.backend.Get(ctx, idKey)
	if err != nil {
		return Document[T]{}, false, backendErr("find", err)
	}
	if !ok {
		return Document[T]{}, false, nil
	}
	value, err := c.decodeFromStorage(ctx, id, entry.Value)
	if err != nil {
		return Document[T]{}, false, backendErr("find", err)
	}
	return Document[T]{ID: id, Versionstamp: entry.Versionstamp, Value: value}, true, nil
}

// GetMany fetches several documents by id in one round trip; ids with no
// live document are omitted from the result, not zero-filled.
func (c *Collection[T]) GetMany(ctx context.Context, ids []kv.Part) ([]Document[T], error) {
	keys := make([]kv.Key, len(ids))
	for i, id := range ids {
		keys[i] = kv.IDKey(c.baseKey, id)
	}
	entries, err := c.db.backend.GetMany(ctx, keys)
	if err != nil {
		return nil, backendErr("get-many", err)
	}
	out := make([]Document[T], 0, len(entries))
	for i, e := range entries {
		if e.Value == nil {
			continue
		}
		value, err := c.decodeFromStorage(ctx, ids[i], e.Value)
		if err != nil {
			return nil, backendErr("get-many", err)
		}
		out = append(out, Document[T]{ID: ids[i], Versionstamp: e.Versionstamp, Value: value})
	}
	return out, nil
}

// idFromIDKey recovers the id part from an id-family key: base key parts,
// then the "id" tag, then the id part itself.
func idFromIDKey(base kv.Key, key kv.Key) kv.Part {
	return key[len(base)+1]
}

// ForEach walks every document in the collection, in ascending id-key order, until
// fn returns false or the collection is exhausted.
func (c *Collection[T]) ForEach(ctx context.Context, fn func(Document[T]) bool) error {
	prefix := c.baseKey.Append(kv.Text(kv.FamilyID))
	cursor := ""
	for {
		page, err := c.db.backend.List(ctx, kv.Selector{Prefix: prefix}, kv.ListOptions{Limit: 256, Cursor: cursor})
		if err != nil {
			return backendErr("for-each", err)
		}
		for _, e := range page.Entries {
			id := idFromIDKey(c.baseKey, e.Key)
			value, err := c.decodeFromStorage(ctx, id, e.Value)
			if err != nil {
				return backendErr("for-each", err)
			}
			if !fn(Document[T]{ID: id, Versionstamp: e.Versionstamp, Value: value}) {
				return nil
			}
		}
		if page.Done {
			return nil
		}
		cursor = page.Cursor
	}
}

// Map applies fn to every document in the collection, stopping at the
// first error.
func (c *Collection[T]) Map(ctx context.Context, fn func(Document[T]) error) error {
	var stepErr error
	err := c.ForEach(ctx, func(doc Document[T]) bool {
		if stepErr = fn(doc); stepErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return stepErr
}

// FindMany returns every document matching pred.
func (c *Collection[T]) FindMany(ctx context.Context, pred func(Document[T]) bool) ([]Document[T], error) {
	var out []Document[T]
	err := c.ForEach(ctx, func(doc Document[T]) bool {
		if pred(doc) {
			out = append(out, doc)
		}
		return true
	})
	return out, err
}

// Count returns the number of documents in the collection.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.ForEach(ctx, func(Document[T]) bool {
		n++
		return true
	})
	return n, err
}

// DeleteMany deletes every document matching pred.
func (c *Collection[T]) DeleteMany(ctx context.Context, pred func(Document[T]) bool) error {
	docs, err := c.FindMany(ctx, pred)
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

// UpdateMany applies patch to every document matching pred.
func (c *Collection[T]) UpdateMany(ctx context.Context, pred func(Document[T]) bool, patch any) error {
	docs, err := c.FindMany(ctx, pred)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, err := c.Update(ctx, doc.ID, patch); err != nil {
			return err
		}
	}
	return nil
}

// FindByPrimaryIndex looks up the (at most one) document whose primary
// index field matches value.
func (c *Collection[T]) FindByPrimaryIndex(ctx context.Context, field string, value kv.Part) (Document[T], bool, error) {
	key := kv.PrimaryIndexKey(c.baseKey, field, value)
	entry, ok, err := c.db.backend.Get(ctx, key)
	if err != nil {
		return Document[T]{}, false, backendErr("find-by-primary-index", err)
	}
	if !ok {
		return Document[T]{}, false, nil
	}
	id, err := kv.DecodePart(entry.Value)
	if err != nil {
		return Document[T]{}, false, backendErr("find-by-primary-index", err)
	}
	return c.Find(ctx, id)
}

// FindBySecondaryIndex lists every document whose secondary index field
// matches value.
func (c *Collection[T]) FindBySecondaryIndex(ctx context.Context, field string, value kv.Part) ([]Document[T], error) {
	prefix := kv.SecondaryIndexPrefix(c.baseKey, field, value)
	var out []Document[T]
	cursor := ""
	for {
		page, err := c.db.backend.List(ctx, kv.Selector{Prefix: prefix}, kv.ListOptions{Limit: 256, Cursor: cursor})
		if err != nil {
			return nil, backendErr("find-by-secondary-index", err)
		}
		for _, e := range page.Entries {
			id, err := kv.DecodePart(e.Value)
			if err != nil {
				return nil, backendErr("find-by-secondary-index", err)
			}
			doc, ok, err := c.Find(ctx, id)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, doc)
			}
		}
		if page.Done {
			return out, nil
		}
		cursor = page.Cursor
	}
}
