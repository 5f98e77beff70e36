package kvdex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvdex "github.com/kvdex-go/kvdex"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/memkv"
	"github.com/kvdex-go/kvdex/model"
)

type account struct {
	Owner   string `json:"owner" msgpack:"owner"`
	Balance int    `json:"balance" msgpack:"balance"`
}

func newTwoCollections(t *testing.T) (*kvdex.Database, *kvdex.Collection[account], *kvdex.Collection[account]) {
	t.Helper()
	db := kvdex.NewDatabase(memkv.New())
	from := kvdex.NewCollection[account](db, []string{"accounts", "from"}, model.Always[account]{})
	to := kvdex.NewCollection[account](db, []string{"accounts", "to"}, model.Always[account]{})
	return db, from, to
}

func TestBuilderComposesAcrossCollections(t *testing.T) {
	ctx := context.Background()
	db, from, to := newTwoCollections(t)

	b := db.Atomic()
	_, fromID := kvdex.BuilderAdd(ctx, b, from, account{Owner: "alice", Balance: 100})
	_, toID := kvdex.BuilderAdd(ctx, b, to, account{Owner: "bob", Balance: 0})
	res, err := b.Commit(ctx)
	require.NoError(t, err)
	require.True(t, res.OK)

	doc, ok, err := from.Find(ctx, fromID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", doc.Value.Owner)

	doc2, ok, err := to.Find(ctx, toID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", doc2.Value.Owner)
}

func TestBuilderRejectsSameIDConflict(t *testing.T) {
	ctx := context.Background()
	db, from, _ := newTwoCollections(t)

	id := kv.Text("acct-1")
	b := db.Atomic()
	kvdex.BuilderSet(ctx, b, from, id, account{Owner: "alice", Balance: 100})
	kvdex.BuilderSet(ctx, b, from, id, account{Owner: "alice-again", Balance: 50})

	_, err := b.Commit(ctx)
	assert.Error(t, err, "targeting the same collection id twice within one commit must fail before reaching the backend")
}

func TestBuilderRejectsIndexSelfCollision(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	accounts := kvdex.NewCollection[account](db, []string{"accounts"}, model.Always[account]{},
		kvdex.WithIndex(kvdex.IndexSpec[account]{
			Name: "owner",
			Kind: kvdex.IndexPrimary,
			Value: func(a account) (kv.Part, bool) { return kv.Text(a.Owner), true },
		}),
	)

	b := db.Atomic()
	kvdex.BuilderAdd(ctx, b, accounts, account{Owner: "alice", Balance: 100})
	kvdex.BuilderAdd(ctx, b, accounts, account{Owner: "alice", Balance: 200})

	_, err := b.Commit(ctx)
	assert.Error(t, err, "two adds claiming the same primary-index value within one commit must fail before reaching the backend")
}

func TestBuilderDeleteWithinCommit(t *testing.T) {
	ctx := context.Background()
	db, from, to := newTwoCollections(t)

	res, err := from.Add(ctx, account{Owner: "alice", Balance: 100})
	require.NoError(t, err)

	b := db.Atomic()
	kvdex.BuilderDelete(ctx, b, from, res.ID)
	kvdex.BuilderAdd(ctx, b, to, account{Owner: "alice", Balance: 100})
	_, err = b.Commit(ctx)
	require.NoError(t, err)

	_, ok, err := from.Find(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuilderSumAccumulatesAcrossCommits(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())

	key := kv.Key{kv.Text("stats"), kv.Text("writes")}
	_, err := db.Atomic().Sum(key, 1).Commit(ctx)
	require.NoError(t, err)
	_, err = db.Atomic().Sum(key, 1).Commit(ctx)
	require.NoError(t, err)

	entry, ok, err := db.Backend().Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	var n int64
	for _, c := range entry.Value {
		n = n<<8 | int64(c)
	}
	assert.Equal(t, int64(2), n)
}
