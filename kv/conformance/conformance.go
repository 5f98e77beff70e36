// Package conformance is a black-box test suite shared by every kv.KV
// backend: kv/memkv and kv/pebblekv both run Suite against themselves, so
// a behavioral regression in either shows up the same way regardless of
// which backend introduced it. Grounded on the teacher's own habit of
// centralizing a shared assertion set (internal/resolver's table-driven
// style) rather than duplicating near-identical tests per package.
package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/kvdex-go/kvdex/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Suite runs the full conformance battery against a fresh backend produced
// by factory. factory is called once per subtest so state from one test
// never leaks into another.
func Suite(t *testing.T, factory func(t *testing.T) kv.KV) {
	t.Run("GetSetDelete", func(t *testing.T) { testGetSetDelete(t, factory(t)) })
	t.Run("GetManyMissingKeysAreZeroEntries", func(t *testing.T) { testGetMany(t, factory(t)) })
	t.Run("ListPrefixOrderAndPagination", func(t *testing.T) { testListPagination(t, factory(t)) })
	t.Run("ListReverse", func(t *testing.T) { testListReverse(t, factory(t)) })
	t.Run("AtomicCommitAppliesAllOnSuccess", func(t *testing.T) { testAtomicCommitSuccess(t, factory(t)) })
	t.Run("AtomicCheckFailureAppliesNothing", func(t *testing.T) { testAtomicCheckFailure(t, factory(t)) })
	t.Run("AtomicCheckNoneAssertsAbsence", func(t *testing.T) { testAtomicCheckNone(t, factory(t)) })
	t.Run("AtomicSumMinMax", func(t *testing.T) { testAtomicSumMinMax(t, factory(t)) })
	t.Run("EnqueueListenQueueDelivers", func(t *testing.T) { testEnqueueListenQueue(t, factory(t)) })
	t.Run("UndeliveredOnHandlerError", func(t *testing.T) { testUndelivered(t, factory(t)) })
	t.Run("WatchEmitsOnWrite", func(t *testing.T) { testWatch(t, factory(t)) })
	t.Run("KeyOrderingAcrossKinds", func(t *testing.T) { testKeyOrdering(t, factory(t)) })
}

func testGetSetDelete(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	key := kv.Key{kv.Text("a"), kv.Text("1")}
	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "unset key must report ok=false, never a zero-value Entry treated as present")

	vs1, err := store.Set(ctx, key, []byte("v1"))
	require.NoError(t, err)
	assert.True(t, vs1.Exists())

	entry, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), entry.Value)
	assert.Equal(t, vs1, entry.Versionstamp)

	vs2, err := store.Set(ctx, key, []byte("v2"))
	require.NoError(t, err)
	assert.NotEqual(t, vs1, vs2, "overwriting must mint a new versionstamp")

	require.NoError(t, store.Delete(ctx, key))
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, store.Delete(ctx, key), "deleting an absent key is not an error")
}

func testGetMany(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	present := kv.Key{kv.Text("gm"), kv.Text("present")}
	absent := kv.Key{kv.Text("gm"), kv.Text("absent")}
	_, err := store.Set(ctx, present, []byte("v"))
	require.NoError(t, err)

	entries, err := store.GetMany(ctx, []kv.Key{present, absent})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("v"), entries[0].Value)
	assert.Nil(t, entries[1].Value, "a missing key yields a zero Entry, not an error or a short slice")
}

func testListPagination(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	base := kv.Key{kv.Text("list")}
	for i := 0; i < 5; i++ {
		_, err := store.Set(ctx, base.Append(kv.Int(int64(i))), []byte("v"))
		require.NoError(t, err)
	}

	var seen []int64
	cursor := ""
	for {
		page, err := store.List(ctx, kv.Selector{Prefix: base}, kv.ListOptions{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, e := range page.Entries {
			n, ok := e.Key[len(base)].Int64()
			require.True(t, ok)
			seen = append(seen, n)
		}
		if page.Done {
			break
		}
		cursor = page.Cursor
		require.NotEmpty(t, cursor, "a non-final page must carry a resumable cursor")
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, seen, "pagination must preserve key order across pages")
}

func testListReverse(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	base := kv.Key{kv.Text("rev")}
	for i := 0; i < 3; i++ {
		_, err := store.Set(ctx, base.Append(kv.Int(int64(i))), []byte("v"))
		require.NoError(t, err)
	}

	page, err := store.List(ctx, kv.Selector{Prefix: base}, kv.ListOptions{Reverse: true})
	require.NoError(t, err)
	require.True(t, page.Done)
	require.Len(t, page.Entries, 3)
	var seen []int64
	for _, e := range page.Entries {
		n, _ := e.Key[len(base)].Int64()
		seen = append(seen, n)
	}
	assert.Equal(t, []int64{2, 1, 0}, seen)
}

func testAtomicCommitSuccess(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	k1 := kv.Key{kv.Text("atom"), kv.Text("1")}
	k2 := kv.Key{kv.Text("atom"), kv.Text("2")}

	res, err := store.Atomic().Mutate(
		kv.Mutation{Kind: kv.MutationSet, Key: k1, Value: []byte("a")},
		kv.Mutation{Kind: kv.MutationSet, Key: k2, Value: []byte("b")},
	).Commit(ctx)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.True(t, res.Versionstamp.Exists())

	e1, ok, err := store.Get(ctx, k1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), e1.Value)

	e2, ok, err := store.Get(ctx, k2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), e2.Value)
}

func testAtomicCheckFailure(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	key := kv.Key{kv.Text("atom"), kv.Text("guarded")}
	vsFirst, err := store.Set(ctx, key, []byte("v1"))
	require.NoError(t, err)

	// Overwrite so vsFirst is now stale.
	_, err = store.Set(ctx, key, []byte("v2"))
	require.NoError(t, err)

	other := kv.Key{kv.Text("atom"), kv.Text("bystander")}
	res, err := store.Atomic().
		Check(kv.Check{Kind: kv.CheckVersionstamp, Key: key, Versionstamp: vsFirst}).
		Mutate(kv.Mutation{Kind: kv.MutationSet, Key: other, Value: []byte("should-not-land")}).
		Commit(ctx)
	require.NoError(t, err, "a failed Check is reported via CommitResult.OK, never an error")
	assert.False(t, res.OK)

	_, ok, err := store.Get(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok, "no mutation in a failed commit may apply, including ones unrelated to the failing check")
}

func testAtomicCheckNone(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	key := kv.Key{kv.Text("atom"), kv.Text("fresh")}
	res, err := store.Atomic().
		Check(kv.Check{Kind: kv.CheckVersionstamp, Key: key, Versionstamp: kv.None}).
		Mutate(kv.Mutation{Kind: kv.MutationSet, Key: key, Value: []byte("first")}).
		Commit(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK, "kv.None asserts absence; an unset key must satisfy it")

	res2, err := store.Atomic().
		Check(kv.Check{Kind: kv.CheckVersionstamp, Key: key, Versionstamp: kv.None}).
		Mutate(kv.Mutation{Kind: kv.MutationSet, Key: key, Value: []byte("second")}).
		Commit(ctx)
	require.NoError(t, err)
	assert.False(t, res2.OK, "once the key exists, a None check must fail, not pass")
}

func testAtomicSumMinMax(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	key := kv.Key{kv.Text("counter")}

	_, err := store.Atomic().Mutate(kv.Mutation{Kind: kv.MutationSum, Key: key, Delta: 5}).Commit(ctx)
	require.NoError(t, err)
	_, err = store.Atomic().Mutate(kv.Mutation{Kind: kv.MutationSum, Key: key, Delta: 3}).Commit(ctx)
	require.NoError(t, err)

	entry, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(8), decodeInt64(entry.Value))

	minKey := kv.Key{kv.Text("min")}
	_, err = store.Atomic().Mutate(kv.Mutation{Kind: kv.MutationMin, Key: minKey, Delta: 10}).Commit(ctx)
	require.NoError(t, err)
	_, err = store.Atomic().Mutate(kv.Mutation{Kind: kv.MutationMin, Key: minKey, Delta: 4}).Commit(ctx)
	require.NoError(t, err)
	entry, _, err = store.Get(ctx, minKey)
	require.NoError(t, err)
	assert.Equal(t, int64(4), decodeInt64(entry.Value))

	maxKey := kv.Key{kv.Text("max")}
	_, err = store.Atomic().Mutate(kv.Mutation{Kind: kv.MutationMax, Key: maxKey, Delta: 10}).Commit(ctx)
	require.NoError(t, err)
	_, err = store.Atomic().Mutate(kv.Mutation{Kind: kv.MutationMax, Key: maxKey, Delta: 4}).Commit(ctx)
	require.NoError(t, err)
	entry, _, err = store.Get(ctx, maxKey)
	require.NoError(t, err)
	assert.Equal(t, int64(10), decodeInt64(entry.Value))
}

func testEnqueueListenQueue(t *testing.T, store kv.KV) {
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan kv.QueueMessage, 1)
	var stop bool
	done := make(chan struct{})
	go func() {
		_ = store.ListenQueue(ctx, "handler-a", "", func(_ context.Context, msg kv.QueueMessage) error {
			received <- msg
			stop = true
			return nil
		}, func() bool { return stop }, func() { close(done) })
	}()

	require.NoError(t, store.Enqueue(ctx, kv.QueueMessage{HandlerID: "handler-a", Data: []byte("payload")}, 0))

	select {
	case msg := <-received:
		assert.Equal(t, []byte("payload"), msg.Data)
	case <-ctx.Done():
		t.Fatal("timed out waiting for enqueued message to be delivered")
	}
	<-done
}

func testUndelivered(t *testing.T, store kv.KV) {
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	undeliveredKey := kv.Key{kv.Text("und"), kv.Text("job-1")}
	var stop bool
	done := make(chan struct{})
	go func() {
		_ = store.ListenQueue(ctx, "handler-b", "", func(_ context.Context, msg kv.QueueMessage) error {
			stop = true
			return assert.AnError
		}, func() bool { return stop }, func() { close(done) })
	}()

	msg := kv.QueueMessage{
		HandlerID:      "handler-b",
		Data:           []byte("will-fail"),
		UndeliveredIDs: []kv.Key{undeliveredKey},
	}
	require.NoError(t, store.Enqueue(ctx, msg, 0))
	<-done

	require.Eventually(t, func() bool {
		entry, ok, err := store.Get(ctx, undeliveredKey)
		return err == nil && ok && string(entry.Value) == "will-fail"
	}, 2*time.Second, 20*time.Millisecond, "a failed handler must persist the payload under every UndeliveredIDs key")
}

func testWatch(t *testing.T, store kv.KV) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer store.Close()

	key := kv.Key{kv.Text("watched")}
	w, err := store.Watch(ctx, []kv.Key{key}, false)
	require.NoError(t, err)
	defer w.Close()

	select {
	case entries := <-w.Updates():
		require.Len(t, entries, 1)
		assert.Nil(t, entries[0].Value, "a non-raw watch first emits the key's current value, absent here")
	case <-ctx.Done():
		t.Fatal("timed out waiting for the initial watch snapshot")
	}

	_, err = store.Set(ctx, key, []byte("new-value"))
	require.NoError(t, err)

	select {
	case entries := <-w.Updates():
		require.Len(t, entries, 1)
		assert.Equal(t, []byte("new-value"), entries[0].Value)
	case <-ctx.Done():
		t.Fatal("timed out waiting for a watch update after Set")
	}
}

func testKeyOrdering(t *testing.T, store kv.KV) {
	ctx := context.Background()
	defer store.Close()

	base := kv.Key{kv.Text("kinds")}
	values := []kv.Part{
		kv.Bytes([]byte("b")),
		kv.Text("t"),
		kv.Int(1),
		kv.Bool(true),
	}
	for i, v := range values {
		_, err := store.Set(ctx, base.Append(v, kv.Int(int64(i))), []byte("v"))
		require.NoError(t, err)
	}

	page, err := store.List(ctx, kv.Selector{Prefix: base}, kv.ListOptions{})
	require.NoError(t, err)
	require.True(t, page.Done)
	require.Len(t, page.Entries, len(values))
	for i, e := range page.Entries {
		ordinal, ok := e.Key[len(base)+1].Int64()
		require.True(t, ok)
		assert.Equal(t, int64(i), ordinal, "entries must come back ordered by part kind: bytes, text, int, bool")
	}
}

func decodeInt64(b []byte) int64 {
	var n int64
	for _, c := range b {
		n = n<<8 | int64(c)
	}
	return n
}
