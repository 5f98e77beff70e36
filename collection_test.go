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

type user struct {
	Name  string `json:"name" msgpack:"name"`
	Email string `json:"email" msgpack:"email"`
	Age   int    `json:"age" msgpack:"age"`
}

func newUsers(t *testing.T) *kvdex.Collection[user] {
	t.Helper()
	db := kvdex.NewDatabase(memkv.New())
	return kvdex.NewCollection[user](db, []string{"users"}, model.Always[user]{},
		kvdex.WithIndex(kvdex.IndexSpec[user]{
			Name: "email",
			Kind: kvdex.IndexPrimary,
			Value: func(u user) (kv.Part, bool) {
				if u.Email == "" {
					return kv.Part{}, false
				}
				return kv.Text(u.Email), true
			},
		}),
		kvdex.WithIndex(kvdex.IndexSpec[user]{
			Name: "age",
			Kind: kvdex.IndexSecondary,
			Value: func(u user) (kv.Part, bool) { return kv.Int(int64(u.Age)), true },
		}),
	)
}

func TestAddFindDelete(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	res, err := users.Add(ctx, user{Name: "Ada", Email: "ada@example.com", Age: 30})
	require.NoError(t, err)
	require.True(t, res.OK)

	doc, ok, err := users.Find(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", doc.Value.Name)

	require.NoError(t, users.Delete(ctx, res.ID))
	_, ok, err = users.Find(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrimaryIndexRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	_, err := users.Add(ctx, user{Name: "Ada", Email: "dup@example.com", Age: 30})
	require.NoError(t, err)

	res, err := users.Add(ctx, user{Name: "Grace", Email: "dup@example.com", Age: 40})
	require.NoError(t, err, "a uniqueness collision is reported via OK=false, not an error")
	assert.False(t, res.OK)
}

func TestFindByPrimaryIndex(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	res, err := users.Add(ctx, user{Name: "Ada", Email: "ada@example.com", Age: 30})
	require.NoError(t, err)
	require.True(t, res.OK)

	doc, ok, err := users.FindByPrimaryIndex(ctx, "email", kv.Text("ada@example.com"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.ID, doc.ID)

	_, ok, err = users.FindByPrimaryIndex(ctx, "email", kv.Text("nobody@example.com"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindBySecondaryIndex(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	_, err := users.Add(ctx, user{Name: "Ada", Email: "ada@example.com", Age: 30})
	require.NoError(t, err)
	_, err = users.Add(ctx, user{Name: "Grace", Email: "grace@example.com", Age: 30})
	require.NoError(t, err)
	_, err = users.Add(ctx, user{Name: "Linus", Email: "linus@example.com", Age: 50})
	require.NoError(t, err)

	docs, err := users.FindBySecondaryIndex(ctx, "age", kv.Int(30))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestUpdateDeepMerges(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	res, err := users.Add(ctx, user{Name: "Ada", Email: "ada@example.com", Age: 30})
	require.NoError(t, err)

	updated, err := users.Update(ctx, res.ID, map[string]any{"age": 31})
	require.NoError(t, err)
	require.True(t, updated.OK)

	doc, ok, err := users.Find(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 31, doc.Value.Age)
	assert.Equal(t, "Ada", doc.Value.Name, "fields absent from the patch must survive the merge")
}

func TestUpdateByPrimaryIndex(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	_, err := users.Add(ctx, user{Name: "Ada", Email: "ada@example.com", Age: 30})
	require.NoError(t, err)

	res, err := users.UpdateByPrimaryIndex(ctx, "email", kv.Text("ada@example.com"), map[string]any{"name": "Ada Lovelace"})
	require.NoError(t, err)
	assert.True(t, res.OK)

	doc, ok, err := users.FindByPrimaryIndex(ctx, "email", kv.Text("ada@example.com"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", doc.Value.Name)
}

func TestDeleteBySecondaryIndexRemovesAll(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	_, err := users.Add(ctx, user{Name: "Ada", Email: "ada@example.com", Age: 30})
	require.NoError(t, err)
	_, err = users.Add(ctx, user{Name: "Grace", Email: "grace@example.com", Age: 30})
	require.NoError(t, err)

	require.NoError(t, users.DeleteBySecondaryIndex(ctx, "age", kv.Int(30)))

	docs, err := users.FindBySecondaryIndex(ctx, "age", kv.Int(30))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAddManyReturnsOneResultPerValue(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	results, err := users.AddMany(ctx, []user{
		{Name: "Ada", Email: "ada@example.com", Age: 30},
		{Name: "Grace", Email: "grace@example.com", Age: 40},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestWriteUpserts(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	id := kv.Text("fixed-id")
	res1, err := users.Write(ctx, id, user{Name: "Ada", Email: "ada@example.com", Age: 30})
	require.NoError(t, err)
	require.True(t, res1.OK)

	res2, err := users.Write(ctx, id, user{Name: "Ada Lovelace", Email: "ada@example.com", Age: 31})
	require.NoError(t, err, "Write must upsert even though Set would reject the collision")
	assert.True(t, res2.OK)

	doc, ok, err := users.Find(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", doc.Value.Name)
}

func TestCountAndForEach(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	for i := 0; i < 3; i++ {
		_, err := users.Add(ctx, user{Name: "u", Email: "u" + string(rune('a'+i)) + "@example.com", Age: i})
		require.NoError(t, err)
	}

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	visited := 0
	err = users.ForEach(ctx, func(kvdex.Document[user]) bool {
		visited++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 3, visited)
}
