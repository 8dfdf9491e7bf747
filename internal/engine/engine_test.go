package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/nodestream/internal/authz"
	"github.com/syntrixbase/nodestream/internal/itemstore/memory"
	"github.com/syntrixbase/nodestream/internal/metrics"
	"github.com/syntrixbase/nodestream/internal/protocol"
	"github.com/syntrixbase/nodestream/pkg/model"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (c *captureNotifier) Enqueue(env protocol.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return true
}

func (c *captureNotifier) to(actor string) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range c.sent {
		if env.To == actor {
			out = append(out, env)
		}
	}
	return out
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *captureNotifier) {
	t.Helper()
	n := &captureNotifier{}
	e := New(Config{Service: "pubsub.local"}, memory.New(), n, opts...)
	return e, n
}

func doc(v string) model.Item {
	return model.Item{Payload: model.DocumentPayload(model.Document{"v": v})}
}

func TestCreateNode_Uniqueness(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)
	_, err = e.CreateNode(ctx, "t1", "bob", nil)
	assert.ErrorIs(t, err, model.ErrConflict)

	owner, err := e.Registry().OwnerOf("t1")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestCreateNode_Options(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	n, err := e.CreateNode(ctx, "default", "a", nil)
	require.NoError(t, err)
	assert.True(t, n.Persistent)
	assert.Equal(t, DefaultMaxItems, n.MaxItems)

	n, err = e.CreateNode(ctx, "transient", "a", &model.NodeOptions{Persistent: model.Bool(false), MaxItems: 5})
	require.NoError(t, err)
	assert.False(t, n.Persistent)
	assert.Equal(t, 5, n.MaxItems)

	n, err = e.CreateNode(ctx, "huge", "a", &model.NodeOptions{MaxItems: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxItemsCeiling, n.MaxItems)
}

func TestCreateNode_InvalidID(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, id := range []string{"", "a//b", "/a", "with space"} {
		_, err := e.CreateNode(context.Background(), id, "a", nil)
		assert.ErrorIs(t, err, model.ErrBadRequest, id)
	}
}

func TestDeleteNode_Ownership(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, e.DeleteNode(ctx, "t1", "bob"), model.ErrForbidden)
	assert.NoError(t, e.DeleteNode(ctx, "t1", "alice"))
	assert.ErrorIs(t, e.DeleteNode(ctx, "t1", "alice"), model.ErrNotFound)
}

func TestDeleteNode_Cascade(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, e.Subscribe(ctx, "t1", "bob"))
	_, err = e.Publish(ctx, "t1", "alice", doc("x"))
	require.NoError(t, err)

	require.NoError(t, e.DeleteNode(ctx, "t1", "alice"))

	assert.ErrorIs(t, e.Subscribe(ctx, "t1", "carol"), model.ErrNotFound)
	assert.Zero(t, e.Subscriptions().Count())
	_, err = e.QueryItems(ctx, "t1", "alice", 0)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// a recreated node starts with empty history and no subscribers
	_, err = e.CreateNode(ctx, "t1", "carol", nil)
	require.NoError(t, err)
	items, err := e.QueryItems(ctx, "t1", "carol", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, e.Subscriptions().SubscribersOf("t1"))
}

func TestSubscribe_Idempotent(t *testing.T) {
	e, n := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, e.Subscribe(ctx, "t1", "bob"))
	require.NoError(t, e.Subscribe(ctx, "t1", "bob"))

	_, err = e.Publish(ctx, "t1", "alice", doc("x"))
	require.NoError(t, err)
	assert.Len(t, n.to("bob"), 1)
}

func TestUnsubscribe_UniformNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)

	errMissingNode := e.Unsubscribe(ctx, "nope", "bob")
	errMissingSub := e.Unsubscribe(ctx, "t1", "bob")
	assert.ErrorIs(t, errMissingNode, model.ErrNotFound)
	assert.ErrorIs(t, errMissingSub, model.ErrNotFound)
	assert.Equal(t, protocol.ErrorFor(errMissingNode).Condition, protocol.ErrorFor(errMissingSub).Condition)
}

func TestPublish_NotifiesSubscribers(t *testing.T) {
	e, n := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, e.Subscribe(ctx, "t1", "bob"))
	require.NoError(t, e.Subscribe(ctx, "t1", "carol"))

	item, err := e.Publish(ctx, "t1", "alice", doc("x"))
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, uint64(1), item.Seq)
	assert.Equal(t, "alice", item.Publisher)

	for _, actor := range []string{"bob", "carol"} {
		got := n.to(actor)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.KindNotification, got[0].Kind)
		assert.Equal(t, "pubsub.local", got[0].From)
		assert.Equal(t, "t1", got[0].Node)
		assert.Equal(t, "x", got[0].Item.Payload.Document["v"])
	}
	assert.Empty(t, n.to("alice"))

	require.NoError(t, e.Unsubscribe(ctx, "t1", "bob"))
	_, err = e.Publish(ctx, "t1", "alice", doc("y"))
	require.NoError(t, err)
	assert.Len(t, n.to("bob"), 1)
	assert.Len(t, n.to("carol"), 2)
}

func TestPublish_Rejections(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Publish(ctx, "missing", "alice", doc("x"))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)

	_, err = e.Publish(ctx, "t1", "alice", model.Item{})
	assert.ErrorIs(t, err, model.ErrBadRequest)
}

func TestPublish_StageOrder(t *testing.T) {
	var mu sync.Mutex
	var stages []Stage
	e, _ := newTestEngine(t, WithStageHook(func(_ model.Item, s Stage) {
		mu.Lock()
		stages = append(stages, s)
		mu.Unlock()
	}))
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)
	_, err = e.Publish(ctx, "t1", "alice", doc("x"))
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageValidating, StageStoring, StageNotifying, StageDone}, stages)

	stages = nil
	_, err = e.Publish(ctx, "missing", "alice", doc("x"))
	require.Error(t, err)
	assert.Equal(t, []Stage{StageValidating, StageRejected}, stages)
}

func TestQueryItems_BoundedHistory(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", &model.NodeOptions{MaxItems: 3})
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := e.Publish(ctx, "t1", "alice", doc(fmt.Sprint(i)))
		require.NoError(t, err)
	}

	items, err := e.QueryItems(ctx, "t1", "bob", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "3", items[0].Payload.Document["v"])
	assert.Equal(t, "5", items[2].Payload.Document["v"])

	items, err = e.QueryItems(ctx, "t1", "bob", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "5", items[0].Payload.Document["v"])

	ids, err := e.DiscoverItems(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestQueryItems_NonPersistent(t *testing.T) {
	e, n := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", &model.NodeOptions{Persistent: model.Bool(false)})
	require.NoError(t, err)
	require.NoError(t, e.Subscribe(ctx, "t1", "bob"))
	_, err = e.Publish(ctx, "t1", "alice", doc("x"))
	require.NoError(t, err)

	items, err := e.QueryItems(ctx, "t1", "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Len(t, n.to("bob"), 1)
}

func TestPublish_SameItemIDReplaces(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)

	first := doc("x")
	first.ID = "current"
	_, err = e.Publish(ctx, "t1", "alice", first)
	require.NoError(t, err)
	_, err = e.Publish(ctx, "t1", "alice", doc("other"))
	require.NoError(t, err)
	second := doc("y")
	second.ID = "current"
	_, err = e.Publish(ctx, "t1", "alice", second)
	require.NoError(t, err)

	items, err := e.QueryItems(ctx, "t1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "current", items[1].ID)
	assert.Equal(t, "y", items[1].Payload.Document["v"])
}

func TestPublish_SequencePerNode(t *testing.T) {
	e, n := newTestEngine(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := e.CreateNode(ctx, id, "alice", &model.NodeOptions{MaxItems: 1000})
		require.NoError(t, err)
		require.NoError(t, e.Subscribe(ctx, id, "bob"))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = e.Publish(ctx, "a", "alice", doc("a"))
				_, _ = e.Publish(ctx, "b", "alice", doc("b"))
			}
		}()
	}
	wg.Wait()

	last := map[string]uint64{}
	for _, env := range n.to("bob") {
		assert.Greater(t, env.Item.Seq, last[env.Node], "notifications for %s out of order", env.Node)
		last[env.Node] = env.Item.Seq
	}
	assert.Equal(t, uint64(200), last["a"])
	assert.Equal(t, uint64(200), last["b"])
}

type mockPolicy struct {
	mock.Mock
}

func (m *mockPolicy) Allow(ctx context.Context, action, actor, node string, target *model.Node) bool {
	args := m.Called(action, actor, node)
	return args.Bool(0)
}

func TestPolicy_Forbidden(t *testing.T) {
	p := &mockPolicy{}
	p.On("Allow", authz.ActionCreate, mock.Anything, mock.Anything).Return(true)
	p.On("Allow", authz.ActionSubscribe, "mallory", "t1").Return(false)
	p.On("Allow", authz.ActionSubscribe, mock.Anything, "t1").Return(true)
	p.On("Allow", authz.ActionPublish, "bob", "t1").Return(false)
	p.On("Allow", authz.ActionPublish, mock.Anything, "t1").Return(true)
	p.On("Allow", authz.ActionItems, mock.Anything, "t1").Return(false)

	e, n := newTestEngine(t, WithPolicy(p))
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, e.Subscribe(ctx, "t1", "mallory"), model.ErrForbidden)
	require.NoError(t, e.Subscribe(ctx, "t1", "bob"))

	_, err = e.Publish(ctx, "t1", "bob", doc("x"))
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Empty(t, n.to("bob"))

	_, err = e.Publish(ctx, "t1", "alice", doc("x"))
	require.NoError(t, err)

	_, err = e.QueryItems(ctx, "t1", "bob", 0)
	assert.ErrorIs(t, err, model.ErrForbidden)
	p.AssertExpectations(t)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Append(context.Context, model.Item, int) error {
	return errors.New("disk full")
}

func TestPublish_StoreFailure(t *testing.T) {
	n := &captureNotifier{}
	e := New(Config{Service: "svc"}, failingStore{memory.New()}, n)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "t1", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, e.Subscribe(ctx, "t1", "bob"))

	_, err = e.Publish(ctx, "t1", "alice", doc("x"))
	require.Error(t, err)
	assert.False(t, model.IsExpected(err))
	assert.Empty(t, n.to("bob"))
}

func TestDiscover(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	e, _ := newTestEngine(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	for _, id := range []string{"forms", "forms/template", "forms/submitted"} {
		_, err := e.CreateNode(ctx, id, "alice", nil)
		require.NoError(t, err)
	}
	children := e.DiscoverChildren("forms")
	require.Len(t, children, 2)
	assert.Equal(t, "forms/submitted", children[0].ID)
	assert.Equal(t, "template", children[1].Name)
	assert.Len(t, e.DiscoverChildren(model.RootNode), 3)
	assert.Contains(t, e.DiscoverFeatures(), "publish")

	item, err := e.Publish(ctx, "forms/template", "alice", model.Item{
		ID: "tpl",
		Payload: model.FormPayload(model.Form{
			Type:  "form",
			Title: "Bug report",
			Fields: []model.FormField{
				{Var: "summary", Type: "text-single", Label: "Summary"},
			},
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, fixed, item.PublishedAt)

	ids, err := e.DiscoverItems(ctx, "forms/template")
	require.NoError(t, err)
	assert.Equal(t, []string{"tpl"}, ids)
}

func TestSubscriptionsGauge(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateNode(ctx, "g1", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, e.Subscribe(ctx, "g1", "bob"))
	require.NoError(t, e.Subscribe(ctx, "g1", "carol"))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Subscriptions))

	require.NoError(t, e.Unsubscribe(ctx, "g1", "bob"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Subscriptions))

	require.NoError(t, e.DeleteNode(ctx, "g1", "alice"))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Subscriptions))
}
