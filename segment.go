package kvdex

import (
	"context"
	"fmt"

	"github.com/kvdex-go/kvdex/encoding"
	"github.com/kvdex-go/kvdex/kv"
)

// DefaultSegmentLimit is the single-entry size limit above which a
// document's encoded value is split across segment entries instead of
// stored inline in its id entry.
const DefaultSegmentLimit = 64 * 1024

// Storage framing: the id entry's payload always starts with a one-byte
// kind tag so a reader knows, without guessing, whether the rest is the
// encoded value itself or a segment descriptor.
const (
	storageKindPlain     byte = 0
	storageKindSegmented byte = 1
)

// descriptor is written (always via the structured encoder, independent
// of the collection's configured encoder) as the id entry's payload when
// a value has been segmented, so a reader can find the right decoder
// before touching the segment entries.
type descriptor struct {
	Tag   string `msgpack:"t"`
	Count int    `msgpack:"n"`
}

// encodeForStorage encodes value and, if it exceeds the collection's
// segment limit, splits it into fixed-size chunks and returns the
// descriptor payload plus the chunks; otherwise it returns the plain
// payload and no chunks.
func (c *Collection[T]) encodeForStorage(value T) (idPayload []byte, segments [][]byte, err error) {
	encoded, err := c.encoder.Encode(value)
	if err != nil {
		return nil, nil, err
	}
	if len(encoded) <= c.segmentLimit {
		return append([]byte{storageKindPlain}, encoded...), nil, nil
	}
	chunks := chunkBytes(encoded, c.segmentLimit)
	desc := descriptor{Tag: c.encoder.Tag(), Count: len(chunks)}
	descBytes, err := encoding.Structured.Encode(desc)
	if err != nil {
		return nil, nil, err
	}
	return append([]byte{storageKindSegmented}, descBytes...), chunks, nil
}

func chunkBytes(b []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultSegmentLimit
	}
	out := make([][]byte, 0, (len(b)/size)+1)
	for i := 0; i < len(b); i += size {
		end := i + size
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[i:end])
	}
	return out
}

// decodeFromStorage reverses encodeForStorage, fetching segment entries
// from the backend if the payload is a descriptor.
func (c *Collection[T]) decodeFromStorage(ctx context.Context, id kv.Part, idPayload []byte) (T, error) {
	var zero T
	if len(idPayload) == 0 {
		return zero, fmt.Errorf("empty id entry")
	}
	kind, rest := idPayload[0], idPayload[1:]
	switch kind {
	case storageKindPlain:
		var v T
		if err := c.encoder.Decode(rest, &v); err != nil {
			return zero, err
		}
		return v, nil
	case storageKindSegmented:
		var desc descriptor
		if err := encoding.Structured.Decode(rest, &desc); err != nil {
			return zero, err
		}
		enc, ok := encoding.ByTag(desc.Tag)
		if !ok {
			return zero, fmt.Errorf("unknown encoding tag %q", desc.Tag)
		}
		full, err := c.readSegments(ctx, id, desc.Count)
		if err != nil {
			return zero, err
		}
		var v T
		if err := enc.Decode(full, &v); err != nil {
			return zero, err
		}
		return v, nil
	default:
		return zero, fmt.Errorf("unknown id entry storage kind %d", kind)
	}
}

// segmentCountOf reports how many segment entries idPayload's descriptor
// claims, or 0 if the payload is a plain (unsegmented) value.
func segmentCountOf(idPayload []byte) int {
	if len(idPayload) == 0 || idPayload[0] != storageKindSegmented {
		return 0
	}
	var desc descriptor
	if err := encoding.Structured.Decode(idPayload[1:], &desc); err != nil {
		return 0
	}
	return desc.Count
}

func (c *Collection[T]) readSegments(ctx context.Context, id kv.Part, count int) ([]byte, error) {
	keys := make([]kv.Key, count)
	for i := range keys {
		keys[i] = kv.SegmentKey(c.baseKey, id, i)
	}
	entries, err := c.db.backend.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	var buf []byte
	for i, e := range entries {
		if e.Value == nil {
			return nil, fmt.Errorf("missing segment %d for id %s (invariant I5 violated)", i, id.String())
		}
		buf = append(buf, e.Value...)
	}
	return buf, nil
}

// segmentMutations returns the set/delete mutations needed to transition
// a document's segment entries from oldCount segments to len(newSegments)
// segments in one commit: every new segment is (re)written, and any
// surplus old segment beyond the new count is deleted.
func (c *Collection[T]) segmentMutations(id kv.Part, oldCount int, newSegments [][]byte) []kv.Mutation {
	muts := make([]kv.Mutation, 0, len(newSegments)+maxInt(0, oldCount-len(newSegments)))
	for i, seg := range newSegments {
		muts = append(muts, kv.Mutation{Kind: kv.MutationSet, Key: kv.SegmentKey(c.baseKey, id, i), Value: seg})
	}
	for i := len(newSegments); i < oldCount; i++ {
		muts = append(muts, kv.Mutation{Kind: kv.MutationDelete, Key: kv.SegmentKey(c.baseKey, id, i)})
	}
	return muts
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
