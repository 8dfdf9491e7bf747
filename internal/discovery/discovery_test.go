package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/nodestream/internal/itemstore/memory"
	"github.com/syntrixbase/nodestream/internal/node"
	"github.com/syntrixbase/nodestream/pkg/model"
)

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	reg := node.NewRegistry()
	for _, n := range []model.Node{
		{ID: "forms", Owner: "a", Persistent: true},
		{ID: "forms/template", Owner: "a", Persistent: true},
		{ID: "forms/submitted", Owner: "a", Persistent: true},
		{ID: "forms/submitted/2024", Owner: "b"},
		{ID: "formsextra", Owner: "a"},
	} {
		require.NoError(t, reg.Create(n))
	}
	store := memory.New()
	return New(reg, store), store
}

func ids(nodes []model.NodeDescriptor) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestChildNodes(t *testing.T) {
	s, _ := setup(t)

	assert.Equal(t, []string{"forms/submitted", "forms/submitted/2024", "forms/template"}, ids(s.ChildNodes("forms")))
	assert.Equal(t, []string{"forms/submitted/2024"}, ids(s.ChildNodes("forms/submitted/")))
	assert.Len(t, s.ChildNodes(model.RootNode), 5)
	assert.Empty(t, s.ChildNodes("missing"))

	nodes := s.ChildNodes("forms/submitted")
	assert.Equal(t, "2024", nodes[1].Name)
	assert.False(t, nodes[1].Persistent)
}

func TestItems(t *testing.T) {
	s, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, model.Item{ID: "x", Node: "forms/template", Seq: 1}, 0))
	require.NoError(t, store.Append(ctx, model.Item{ID: "y", Node: "forms/template", Seq: 2}, 0))

	got, err := s.Items(ctx, "forms/template")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got)

	got, err = s.Items(ctx, "forms/submitted/2024")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Items(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFeatures(t *testing.T) {
	s, _ := setup(t)
	f := s.Features()
	assert.Equal(t, []string{
		"create-nodes", "delete-nodes", "item-ids", "persistent-items",
		"publish", "retrieve-items", "subscribe",
	}, f)

	f[0] = "changed"
	assert.Equal(t, "create-nodes", s.Features()[0])
}
