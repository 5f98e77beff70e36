package kvdex

import (
	"context"
	"fmt"

	"github.com/kvdex-go/kvdex/encoding"
	"github.com/kvdex-go/kvdex/kv"
)

// historyEventKind distinguishes a write (insert/overwrite/update) history
// record from a delete one.
type historyEventKind byte

const (
	historyWrite  historyEventKind = 0
	historyDelete historyEventKind = 1
)

// historyRecord is the payload stored at each history key: a copy of the
// id entry's payload at that point (empty for a delete record) plus the
// event kind, encoded with the structured encoder independent of the
// collection's configured one so history stays readable even if the
// collection's encoder changes later.
type historyRecord struct {
	Kind    byte   `msgpack:"k"`
	Payload []byte `msgpack:"p"`
}

// historyMutation builds the Set mutation appending one history record for
// id. The sequence is the id's current history depth plus one rather than
// a wall-clock timestamp, so it orders by committed-write order (I6/P6)
// instead of a clock that can tie within a nanosecond or step backward.
// The commit this mutation joins is already gated by a Check on the id
// key's versionstamp (see writeDocument/Delete/builderWrite/BuilderDelete),
// so of any writers racing to read the same next sequence, only the one
// that also wins the id-key CAS actually lands — the others' whole commit
// is rejected, never just their history entry.
func (c *Collection[T]) historyMutation(ctx context.Context, id kv.Part, kind historyEventKind, idPayload []byte) (kv.Mutation, error) {
	rec := historyRecord{Kind: byte(kind), Payload: idPayload}
	data, err := encoding.Structured.Encode(rec)
	if err != nil {
		// historyRecord is a fixed, always-encodable shape; a failure here
		// would mean the structured encoder itself is broken, which every
		// other write in this commit already depends on.
		data = nil
	}
	seq, err := c.nextHistorySeq(ctx, id)
	if err != nil {
		return kv.Mutation{}, err
	}
	return kv.Mutation{Kind: kv.MutationSet, Key: kv.HistoryKey(c.baseKey, id, seq), Value: data}, nil
}

// nextHistorySeq reads the highest existing history sequence for id and
// returns one past it, or 1 if id has no history yet.
func (c *Collection[T]) nextHistorySeq(ctx context.Context, id kv.Part) (int64, error) {
	prefix := kv.HistoryPrefix(c.baseKey, id)
	page, err := c.db.backend.List(ctx, kv.Selector{Prefix: prefix}, kv.ListOptions{Limit: 1, Reverse: true})
	if err != nil {
		return 0, err
	}
	if len(page.Entries) == 0 {
		return 1, nil
	}
	last := page.Entries[0].Key
	seq, ok := last[len(last)-1].Int64()
	if !ok {
		return 0, fmt.Errorf("kvdex: malformed history key for id %s", id.String())
	}
	return seq + 1, nil
}

// HistoryEntry is one append-only record returned by FindHistory.
type HistoryEntry[T any] struct {
	Sequence int64
	Deleted  bool
	Value    T
}

// FindHistory lists every history record for id, oldest first. It is only
// meaningful for collections constructed WithHistory; others always
// return an empty slice.
func (c *Collection[T]) FindHistory(ctx context.Context, id kv.Part) ([]HistoryEntry[T], error) {
	prefix := kv.HistoryPrefix(c.baseKey, id)
	var out []HistoryEntry[T]
	cursor := ""
	for {
		page, err := c.db.backend.List(ctx, kv.Selector{Prefix: prefix}, kv.ListOptions{Limit: 256, Cursor: cursor})
		if err != nil {
			return nil, backendErr("find-history", err)
		}
		for _, e := range page.Entries {
			var rec historyRecord
			if err := encoding.Structured.Decode(e.Value, &rec); err != nil {
				return nil, backendErr("find-history", err)
			}
			seq, _ := e.Key[len(e.Key)-1].Int64()
			entry := HistoryEntry[T]{Sequence: seq, Deleted: rec.Kind == byte(historyDelete)}
			if !entry.Deleted {
				v, err := c.decodeFromStorage(ctx, id, rec.Payload)
				if err != nil {
					return nil, backendErr("find-history", err)
				}
				entry.Value = v
			}
			out = append(out, entry)
		}
		if page.Done {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// DeleteHistory removes every history record for id, independent of
// whether the document itself still exists.
func (c *Collection[T]) DeleteHistory(ctx context.Context, id kv.Part) error {
	prefix := kv.HistoryPrefix(c.baseKey, id)
	cursor := ""
	for {
		page, err := c.db.backend.List(ctx, kv.Selector{Prefix: prefix}, kv.ListOptions{Limit: 256, Cursor: cursor})
		if err != nil {
			return backendErr("delete-history", err)
		}
		for _, e := range page.Entries {
			if err := c.db.backend.Delete(ctx, e.Key); err != nil {
				return backendErr("delete-history", err)
			}
		}
		if page.Done {
			return nil
		}
		cursor = page.Cursor
	}
}
