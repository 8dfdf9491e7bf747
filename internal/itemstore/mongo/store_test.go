package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/nodestream/pkg/model"
)

type testEnv struct {
	store *Store
	ctx   context.Context
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	uri := os.Getenv("NODESTREAM_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("NODESTREAM_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	dbName := fmt.Sprintf("nodestream_test_%d", time.Now().UnixNano())
	store, err := Open(ctx, uri, dbName, "")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.coll.Database().Drop(context.Background())
		_ = store.Close(context.Background())
	})
	return &testEnv{store: store, ctx: ctx}
}

func testItem(node string, seq uint64) model.Item {
	return model.Item{
		ID:          fmt.Sprintf("item-%d", seq),
		Node:        node,
		Seq:         seq,
		Publisher:   "alice",
		PublishedAt: time.Now().UTC().Truncate(time.Millisecond),
		Payload:     model.DocumentPayload(model.Document{"title": "hello"}),
	}
}

func TestStore_AppendAndTrim(t *testing.T) {
	env := setupTestEnv(t)

	for i := uint64(1); i <= 7; i++ {
		require.NoError(t, env.store.Append(env.ctx, testItem("n1", i), 5))
	}

	items, err := env.store.Recent(env.ctx, "n1", 0)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, uint64(3), items[0].Seq)
	assert.Equal(t, uint64(7), items[4].Seq)
	assert.Equal(t, "hello", items[4].Payload.Document["title"])

	last, err := env.store.Recent(env.ctx, "n1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, uint64(6), last[0].Seq)
}

func TestStore_ReplaceAndDrop(t *testing.T) {
	env := setupTestEnv(t)

	require.NoError(t, env.store.Append(env.ctx, testItem("n1", 1), 10))
	require.NoError(t, env.store.Append(env.ctx, testItem("n1", 2), 10))

	again := testItem("n1", 3)
	again.ID = "item-1"
	require.NoError(t, env.store.Append(env.ctx, again, 10))

	items, err := env.store.Recent(env.ctx, "n1", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "item-2", items[0].ID)
	assert.Equal(t, "item-1", items[1].ID)

	require.NoError(t, env.store.Drop(env.ctx, "n1"))
	items, err = env.store.Recent(env.ctx, "n1", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
