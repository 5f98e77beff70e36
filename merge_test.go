package kvdex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvdex "github.com/kvdex-go/kvdex"
	"github.com/kvdex-go/kvdex/kv/memkv"
	"github.com/kvdex-go/kvdex/model"
)

func TestUpdateDeepMergesNestedMaps(t *testing.T) {
	ctx := context.Background()
	type doc struct {
		Meta map[string]any `json:"meta" msgpack:"meta"`
	}
	db := kvdex.NewDatabase(memkv.New())
	docs := kvdex.NewCollection[doc](db, []string{"docs"}, model.Always[doc]{})

	res, err := docs.Add(ctx, doc{Meta: map[string]any{"color": "red", "nested": map[string]any{"a": 1, "b": 2}}})
	require.NoError(t, err)

	_, err = docs.Update(ctx, res.ID, map[string]any{"meta": map[string]any{"nested": map[string]any{"b": 3, "c": 4}}})
	require.NoError(t, err)

	got, ok, err := docs.Find(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "red", got.Value.Meta["color"], "an untouched top-level key must survive the merge")
	nested := got.Value.Meta["nested"].(map[string]any)
	assert.EqualValues(t, 1, nested["a"], "an untouched nested key must survive the merge")
	assert.EqualValues(t, 3, nested["b"], "a patched nested key must override")
	assert.EqualValues(t, 4, nested["c"], "a new nested key must be added")
}

func TestUpdateFullReplacesArrayDomain(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	tags := kvdex.NewCollection[[]string](db, []string{"tags"}, model.Always[[]string]{})

	res, err := tags.Add(ctx, []string{"a", "b"})
	require.NoError(t, err)

	updated, err := tags.Update(ctx, res.ID, []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.True(t, updated.OK)

	got, ok, err := tags.Find(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y", "z"}, got.Value, "a non-mapping domain's Update must fully replace, not merge")
}

func TestUpdateFullReplacesScalarDomain(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	counters := kvdex.NewCollection[int](db, []string{"counters"}, model.Always[int]{})

	res, err := counters.Add(ctx, 1)
	require.NoError(t, err)

	_, err = counters.Update(ctx, res.ID, 42)
	require.NoError(t, err)

	got, ok, err := counters.Find(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, got.Value)
}

func TestUpdateRejectsPatchThatDoesNotDecodeIntoScalarDomain(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	counters := kvdex.NewCollection[int](db, []string{"counters"}, model.Always[int]{})

	res, err := counters.Add(ctx, 1)
	require.NoError(t, err)

	_, err = counters.Update(ctx, res.ID, "not-an-int")
	assert.Error(t, err, "a patch that can't decode into the non-mapping T must fail rather than silently zero it")
}
