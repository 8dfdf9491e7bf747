package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
	"github.com/syntrixbase/nodestream/internal/core/pubsub/memory"
	"github.com/syntrixbase/nodestream/internal/engine"
	"github.com/syntrixbase/nodestream/internal/fanout"
	memstore "github.com/syntrixbase/nodestream/internal/itemstore/memory"
	"github.com/syntrixbase/nodestream/internal/protocol"
	"github.com/syntrixbase/nodestream/internal/service"
	"github.com/syntrixbase/nodestream/pkg/model"
)

type testEnv struct {
	ctx     context.Context
	engine  *engine.Engine
	gateway *Gateway
	server  *httptest.Server
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	provider := memory.New()
	outbox, err := service.NewOutbox(provider, "")
	require.NoError(t, err)
	dispatcher := fanout.NewDispatcher(outbox.Send, 0, nil)
	eng := engine.New(engine.Config{Service: service.DefaultIdentity}, memstore.New(), dispatcher)
	svc := service.New(service.Config{Workers: 2}, eng, provider, outbox, nil)
	require.NoError(t, svc.Start(ctx))

	gw, err := New(Config{RequestTimeout: 2 * time.Second}, eng, provider, nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		_ = gw.Close()
		cancel()
		svc.Wait()
		_ = dispatcher.Close(context.Background())
		_ = outbox.Close()
		_ = provider.Close()
	})
	return &testEnv{ctx: ctx, engine: eng, gateway: gw, server: srv}
}

func (env *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
}

func (env *testEnv) dial(t *testing.T, actor string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(ActorHeader, actor)
	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func request(t *testing.T, conn *websocket.Conn, env protocol.Envelope) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
	reply := readEnvelope(t, conn)
	require.Equal(t, env.ID, reply.ID)
	return reply
}

func TestWebSocket_RequestReply(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.dial(t, "alice@example.com")

	reply := request(t, alice, protocol.Envelope{ID: "r1", Op: protocol.OpCreate, Node: "t1"})
	assert.Equal(t, protocol.KindResult, reply.Kind)
	assert.Equal(t, service.DefaultIdentity, reply.From)
	assert.Equal(t, "alice@example.com", reply.To)

	reply = request(t, alice, protocol.Envelope{ID: "r2", Op: protocol.OpCreate, Node: "t1"})
	assert.Equal(t, protocol.KindError, reply.Kind)
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CondConflict, reply.Error.Condition)
}

func TestWebSocket_Notifications(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.dial(t, "alice@example.com")

	q := url.Values{"actor": {"bob@example.com"}}
	bob, resp, err := websocket.DefaultDialer.Dial(env.wsURL()+"?"+q.Encode(), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer bob.Close()

	require.Equal(t, protocol.KindResult, request(t, alice, protocol.Envelope{ID: "c", Op: protocol.OpCreate, Node: "t1"}).Kind)
	require.Equal(t, protocol.KindResult, request(t, bob, protocol.Envelope{ID: "s", Op: protocol.OpSubscribe, Node: "t1"}).Kind)

	published := request(t, alice, protocol.Envelope{
		ID:   "p",
		Op:   protocol.OpPublish,
		Node: "t1",
		Item: &model.Item{Payload: model.DocumentPayload(model.Document{"text": "x"})},
	})
	require.Equal(t, protocol.KindResult, published.Kind)
	require.NotNil(t, published.Item)

	note := readEnvelope(t, bob)
	assert.Equal(t, protocol.KindNotification, note.Kind)
	assert.Equal(t, "t1", note.Node)
	require.NotNil(t, note.Item)
	assert.Equal(t, published.Item.ID, note.Item.ID)
	assert.Equal(t, "x", note.Item.Payload.Document["text"])
}

func TestWebSocket_MalformedFrame(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.dial(t, "alice@example.com")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	reply := readEnvelope(t, alice)
	assert.Equal(t, protocol.KindError, reply.Kind)
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CondBadRequest, reply.Error.Condition)
}

func TestWebSocket_Rejections(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("missing actor", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("duplicate actor", func(t *testing.T) {
		env.dial(t, "carol@example.com")
		header := http.Header{}
		header.Set(ActorHeader, "carol@example.com")
		_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestWebSocket_ReleaseOnDisconnect(t *testing.T) {
	env := setupTestEnv(t)
	conn := env.dial(t, "dave@example.com")
	assert.Equal(t, 1, env.gateway.Sessions())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.gateway.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)

	env.dial(t, "dave@example.com")
}

func getJSON(t *testing.T, env *testEnv, path string, header http.Header, dst interface{}) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func TestREST_Queries(t *testing.T) {
	env := setupTestEnv(t)
	ctx := env.ctx

	_, err := env.engine.CreateNode(ctx, "princely_musings", "hamlet@denmark.lit", nil)
	require.NoError(t, err)
	_, err = env.engine.CreateNode(ctx, "princely_musings/act1", "hamlet@denmark.lit", nil)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, err := env.engine.Publish(ctx, "princely_musings", "hamlet@denmark.lit", model.Item{
			ID:      id,
			Payload: model.DocumentPayload(model.Document{"n": id}),
		})
		require.NoError(t, err)
	}

	t.Run("items", func(t *testing.T) {
		var resp ItemsResponse
		code := getJSON(t, env, "/v1/items?node=princely_musings&limit=2", nil, &resp)
		assert.Equal(t, http.StatusOK, code)
		require.Len(t, resp.Items, 2)
		assert.Equal(t, "b", resp.Items[0].ID)
		assert.Equal(t, "c", resp.Items[1].ID)
	})

	t.Run("item ids", func(t *testing.T) {
		var resp ItemIDsResponse
		code := getJSON(t, env, "/v1/item-ids?node=princely_musings", nil, &resp)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, []string{"a", "b", "c"}, resp.ItemIDs)
	})

	t.Run("nodes", func(t *testing.T) {
		var resp NodesResponse
		code := getJSON(t, env, "/v1/nodes?parent=princely_musings", nil, &resp)
		assert.Equal(t, http.StatusOK, code)
		require.Len(t, resp.Nodes, 1)
		assert.Equal(t, "princely_musings/act1", resp.Nodes[0].ID)

		code = getJSON(t, env, "/v1/nodes", nil, &resp)
		assert.Equal(t, http.StatusOK, code)
		assert.Len(t, resp.Nodes, 2)
	})

	t.Run("features", func(t *testing.T) {
		var resp FeaturesResponse
		code := getJSON(t, env, "/v1/features", nil, &resp)
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, resp.Features, "publish")
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			path     string
			wantCode int
			wantErr  string
		}{
			{"/v1/items", http.StatusBadRequest, ErrCodeBadRequest},
			{"/v1/items?node=x&limit=abc", http.StatusBadRequest, ErrCodeBadRequest},
			{"/v1/items?node=princely_musings&limit=-1", http.StatusBadRequest, ErrCodeBadRequest},
			{"/v1/items?node=missing", http.StatusNotFound, ErrCodeNotFound},
			{"/v1/item-ids?node=missing", http.StatusNotFound, ErrCodeNotFound},
		}
		for _, tt := range tests {
			var apiErr APIError
			code := getJSON(t, env, tt.path, nil, &apiErr)
			assert.Equal(t, tt.wantCode, code, tt.path)
			assert.Equal(t, tt.wantErr, apiErr.Code, tt.path)
		}
	})
}

func TestCheckOrigin(t *testing.T) {
	g := &Gateway{cfg: Config{AllowedOrigins: []string{"https://app.example"}}}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, g.checkOrigin(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, g.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, g.checkOrigin(req))
}

type mockQueries struct {
	mock.Mock
}

func (m *mockQueries) QueryItems(ctx context.Context, id, actor string, limit int) ([]model.Item, error) {
	args := m.Called(ctx, id, actor, limit)
	items, _ := args.Get(0).([]model.Item)
	return items, args.Error(1)
}

func (m *mockQueries) DiscoverChildren(parent string) []model.NodeDescriptor {
	return nil
}

func (m *mockQueries) DiscoverItems(ctx context.Context, id string) ([]string, error) {
	args := m.Called(ctx, id)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockQueries) DiscoverFeatures() []string {
	return nil
}

func TestREST_QueriesRunUnderRequestTimeout(t *testing.T) {
	provider := memory.New()
	defer provider.Close()

	q := &mockQueries{}
	hasDeadline := mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})
	q.On("QueryItems", hasDeadline, "t1", "alice", 5).Return([]model.Item{{ID: "a", Node: "t1"}}, nil)
	q.On("DiscoverItems", hasDeadline, "t1").Return(nil, model.ErrCanceled)

	gw, err := New(Config{RequestTimeout: time.Second}, q, provider, nil)
	require.NoError(t, err)
	defer gw.Close()
	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/items?node=t1&limit=5", nil)
	req.Header.Set(ActorHeader, "alice")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/item-ids?node=t1", nil))
	assert.Equal(t, 499, w.Code)

	q.AssertExpectations(t)
}

type inboxMessage struct {
	subject string
	data    []byte
	acked   bool
	termed  bool
}

func (m *inboxMessage) Data() []byte    { return m.data }
func (m *inboxMessage) Subject() string { return m.subject }
func (m *inboxMessage) Ack() error      { m.acked = true; return nil }
func (m *inboxMessage) Nak() error      { return nil }
func (m *inboxMessage) Term() error     { m.termed = true; return nil }
func (m *inboxMessage) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{Subject: m.subject}, nil
}

func TestDrain_DropsMessagesForOtherActors(t *testing.T) {
	provider := memory.New()
	defer provider.Close()
	gw, err := New(Config{}, &mockQueries{}, provider, nil)
	require.NoError(t, err)
	defer gw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &session{g: gw, actor: "bob", send: make(chan []byte, 4), ctx: ctx, cancel: cancel}
	require.True(t, gw.claim(s))

	own := &inboxMessage{subject: protocol.Qualify(protocol.DefaultPrefix, protocol.InboxSubject("bob")), data: []byte("{}")}
	other := &inboxMessage{subject: protocol.Qualify(protocol.DefaultPrefix, protocol.InboxSubject("carol"))}
	garbage := &inboxMessage{subject: "NODESTREAM.service"}

	msgs := make(chan pubsub.Message, 3)
	msgs <- own
	msgs <- other
	msgs <- garbage
	close(msgs)
	gw.drain(s, msgs)

	assert.True(t, own.acked)
	assert.True(t, other.termed)
	assert.True(t, garbage.termed)
	assert.Zero(t, gw.Sessions())
}
