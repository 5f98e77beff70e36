package kvdex_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvdex "github.com/kvdex-go/kvdex"
	"github.com/kvdex-go/kvdex/kv"
	"github.com/kvdex-go/kvdex/kv/memkv"
	"github.com/kvdex-go/kvdex/model"
)

type widget struct {
	Name string `json:"name" msgpack:"name"`
}

func TestCountAllAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	widgets := kvdex.NewCollection[widget](db, []string{"widgets"}, model.Always[widget]{})
	gadgets := kvdex.NewCollection[widget](db, []string{"gadgets"}, model.Always[widget]{})

	_, err := widgets.Add(ctx, widget{Name: "w1"})
	require.NoError(t, err)
	_, err = widgets.Add(ctx, widget{Name: "w2"})
	require.NoError(t, err)
	_, err = gadgets.Add(ctx, widget{Name: "g1"})
	require.NoError(t, err)

	n, err := db.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, db.DeleteAll(ctx))
	n, err = db.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWipeRemovesEverythingUnderFrameworkPrefix(t *testing.T) {
	ctx := context.Background()
	db := kvdex.NewDatabase(memkv.New())
	widgets := kvdex.NewCollection[widget](db, []string{"widgets"}, model.Always[widget]{}, kvdex.WithHistory[widget]())

	res, err := widgets.Add(ctx, widget{Name: "w1"})
	require.NoError(t, err)
	_, err = widgets.Update(ctx, res.ID, map[string]any{"name": "w1-renamed"})
	require.NoError(t, err)

	require.NoError(t, db.Wipe(ctx))

	page, err := db.Backend().List(ctx, kv.Selector{Prefix: kv.Key{kv.Text(kv.FrameworkKey)}}, kv.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Entries, "Wipe must remove id, index, and history entries alike")
}

func TestDatabaseEnqueueListenQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db := kvdex.NewDatabase(memkv.New())

	received := make(chan []byte, 1)
	var stop bool
	done := make(chan struct{})
	go func() {
		_ = db.ListenQueue(ctx, "jobs", func(_ context.Context, data []byte) error {
			received <- data
			stop = true
			return nil
		}, func() bool { return stop })
		close(done)
	}()

	require.NoError(t, db.Enqueue(ctx, "jobs", []byte("payload"), 0))

	select {
	case data := <-received:
		assert.Equal(t, []byte("payload"), data)
	case <-ctx.Done():
		t.Fatal("timed out waiting for database-level enqueue to be delivered")
	}
	<-done
}
