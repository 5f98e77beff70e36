package kvdex_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvdex "github.com/kvdex-go/kvdex"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/memkv"
	"github.com/kvdex-go/kvdex/model"
)

type blob struct {
	Data string `json:"data" msgpack:"data"`
}

func TestLargeValuesAreSegmentedAndReassembled(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	blobs := kvdex.NewCollection[blob](db, []string{"blobs"}, model.Always[blob]{}, kvdex.WithSegmentLimit[blob](64))

	large := strings.Repeat("x", 10_000)
	res, err := blobs.Add(ctx, blob{Data: large})
	require.NoError(t, err)
	require.True(t, res.OK)

	doc, ok, err := blobs.Find(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, large, doc.Value.Data, "a segmented value must reassemble byte-for-byte")

	require.NoError(t, blobs.Delete(ctx, res.ID))
	_, ok, err = blobs.Find(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a deleted segmented document must no longer be found")

	page, err := db.Backend().List(ctx, kv.Selector{Prefix: kv.SegmentPrefix(kv.Base("blobs"), res.ID)}, kv.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Entries, "deleting a segmented document must also clear its segment entries")
}

func TestSegmentLimitShrinkingOnOverwrite(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	blobs := kvdex.NewCollection[blob](db, []string{"blobs"}, model.Always[blob]{}, kvdex.WithSegmentLimit[blob](64))

	id, err := blobs.Add(ctx, blob{Data: strings.Repeat("a", 5000)})
	require.NoError(t, err)

	_, err = blobs.Write(ctx, id.ID, blob{Data: "short"})
	require.NoError(t, err)

	doc, ok, err := blobs.Find(ctx, id.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "short", doc.Value.Data, "overwriting a segmented document with a small value must not leave stale segment chunks visible")
}

func TestHistoryRecordsWritesAndDeletes(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	notes := kvdex.NewCollection[blob](db, []string{"notes"}, model.Always[blob]{}, kvdex.WithHistory[blob]())

	res, err := notes.Add(ctx, blob{Data: "v1"})
	require.NoError(t, err)
	_, err = notes.Write(ctx, res.ID, blob{Data: "v2"})
	require.NoError(t, err)
	require.NoError(t, notes.Delete(ctx, res.ID))

	history, err := notes.FindHistory(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "v1", history[0].Value.Data)
	assert.False(t, history[0].Deleted)
	assert.Equal(t, "v2", history[1].Value.Data)
	assert.False(t, history[1].Deleted)
	assert.True(t, history[2].Deleted)

	require.NoError(t, notes.DeleteHistory(ctx, res.ID))
	history, err = notes.FindHistory(ctx, res.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestNoHistoryWithoutOption(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	notes := kvdex.NewCollection[blob](db, []string{"notes"}, model.Always[blob]{})

	res, err := notes.Add(ctx, blob{Data: "v1"})
	require.NoError(t, err)

	history, err := notes.FindHistory(ctx, res.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "a collection not constructed WithHistory must never accumulate history records")
}
