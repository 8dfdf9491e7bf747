package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/nodestream/pkg/model"
)

const testRules = `
rules_version: "1"
allow:
  create: "request.actor != 'mallory'"
  publish: "request.actor == node.owner || request.actor.startsWith('bot-')"
  "subscribe, items": "!request.node.startsWith('private/') || request.actor == node.owner"
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	require.NoError(t, e.UpdateRules([]byte(testRules)))
	return e
}

func TestEngine_NoRulesAllows(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	assert.True(t, e.Allow(context.Background(), ActionPublish, "anyone", "n1", nil))
}

func TestEngine_Evaluate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	owned := &model.Node{ID: "n1", Owner: "alice", Persistent: true}
	private := &model.Node{ID: "private/a", Owner: "alice"}

	tests := []struct {
		name   string
		action string
		actor  string
		node   string
		target *model.Node
		want   bool
	}{
		{"create allowed", ActionCreate, "alice", "n1", nil, true},
		{"create denied", ActionCreate, "mallory", "n1", nil, false},
		{"publish by owner", ActionPublish, "alice", "n1", owned, true},
		{"publish by bot", ActionPublish, "bot-7", "n1", owned, true},
		{"publish by stranger", ActionPublish, "bob", "n1", owned, false},
		{"subscribe public", ActionSubscribe, "bob", "n1", owned, true},
		{"subscribe private stranger", ActionSubscribe, "bob", "private/a", private, false},
		{"items private owner", ActionItems, "alice", "private/a", private, true},
		{"unsubscribe without rule", ActionUnsubscribe, "bob", "private/a", private, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Allow(ctx, tt.action, tt.actor, tt.node, tt.target))
		})
	}
}

func TestEngine_EvaluationErrorDenies(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	require.NoError(t, e.UpdateRules([]byte(`allow: {publish: "node.owner == request.actor"}`)))

	// node is empty for a missing target, so the lookup fails.
	ok, err := e.Evaluate(context.Background(), Request{Actor: "a", Action: ActionPublish, Node: "n"}, nil)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, e.Allow(context.Background(), ActionPublish, "a", "n", nil))
}

func TestEngine_ExpandGroups(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	require.NoError(t, e.UpdateRules([]byte(`allow: {write: "request.actor == 'admin'"}`)))

	ctx := context.Background()
	assert.True(t, e.Allow(ctx, ActionCreate, "admin", "n", nil))
	assert.False(t, e.Allow(ctx, ActionCreate, "bob", "n", nil))
	assert.False(t, e.Allow(ctx, ActionDelete, "bob", "n", &model.Node{ID: "n", Owner: "bob"}))
	assert.True(t, e.Allow(ctx, ActionSubscribe, "bob", "n", &model.Node{ID: "n"}))
}

func TestEngine_InvalidRules(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	assert.Error(t, e.UpdateRules([]byte("allow: [")))
	assert.Error(t, e.UpdateRules([]byte(`allow: {publish: "request.actor =="}`)))
	// rules are unchanged after a failed update
	assert.True(t, e.Allow(context.Background(), ActionPublish, "x", "n", nil))
}

func TestEngine_LoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	require.NoError(t, os.WriteFile(path, []byte(testRules), 0o644))

	e, err := NewEngine()
	require.NoError(t, err)
	require.NoError(t, e.LoadRules(path))
	assert.False(t, e.Allow(context.Background(), ActionCreate, "mallory", "n1", nil))

	assert.Error(t, e.LoadRules(filepath.Join(dir, "missing.yml")))
}

func TestAllowAll(t *testing.T) {
	var p Policy = AllowAll{}
	assert.True(t, p.Allow(context.Background(), ActionDelete, "x", "y", nil))
}
