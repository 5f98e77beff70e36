package pebblekv

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/kvdex-go/kvdex/kv"
)

// List implements kv.KV. Resume/limit/done follow the same explicit-
// sentinel discipline as memkv: an iterator's Valid() result (not a -1 or
// zero-value check) is what decides whether a cursor position exists.
func (s *Store) List(_ context.Context, sel kv.Selector, opts kv.ListOptions) (kv.ListPage, error) {
	lower := encodeIndexKey(prefixLowKey(sel.Prefix, sel.Start))
	upper := prefixUpperBound(encodeIndexKey(sel.Prefix))
	if sel.End != nil {
		upper = encodeIndexKey(sel.End)
	}

	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return kv.ListPage{}, err
	}
	defer it.Close()

	var valid bool
	if opts.Reverse {
		valid = seekReverseStart(it, opts.Cursor)
	} else {
		valid = seekForwardStart(it, opts.Cursor)
	}

	var entries []kv.Entry
	limit := opts.Limit
	examined := 0
	for valid && (limit <= 0 || examined < limit) {
		examined++
		key, vs, expireAt, value, derr := decodeRecord(it.Value())
		if derr != nil {
			return kv.ListPage{}, derr
		}
		if !expired(expireAt) {
			entries = append(entries, kv.Entry{Key: key, Value: value, Versionstamp: vs})
		}
		if opts.Reverse {
			valid = it.Prev()
		} else {
			valid = it.Next()
		}
	}

	done := !valid
	cursor := ""
	if !done {
		cursor = string(append([]byte(nil), it.Key()...))
	}
	return kv.ListPage{Entries: entries, Cursor: cursor, Done: done}, nil
}

func seekForwardStart(it *pebble.Iterator, cursor string) bool {
	if cursor != "" {
		return it.SeekGE([]byte(cursor))
	}
	return it.First()
}

func seekReverseStart(it *pebble.Iterator, cursor string) bool {
	if cursor != "" {
		// Cursor is the next key to examine in reverse order, so resume at
		// the greatest key <= cursor (cursor+0x00 is its immediate successor).
		return it.SeekLT(append([]byte(cursor), 0))
	}
	return it.Last()
}

func prefixLowKey(prefix, start kv.Key) kv.Key {
	if start != nil {
		return start
	}
	return prefix
}

// prefixUpperBound returns the smallest byte string that sorts strictly
// after every string having prefix as a prefix — the standard
// increment-last-byte trick, carrying over on 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // prefix is all 0xFF: unbounded above
}
