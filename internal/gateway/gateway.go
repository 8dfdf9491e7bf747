// Package gateway exposes the service to external actors: a WebSocket
// bridge that relays envelopes between a socket and the actor's inbox, and
// read-only HTTP queries answered straight from the engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
	"github.com/syntrixbase/nodestream/internal/protocol"
	"github.com/syntrixbase/nodestream/internal/server"
	"github.com/syntrixbase/nodestream/pkg/model"
)

// ActorHeader carries the actor identity of HTTP and WebSocket callers.
const ActorHeader = server.ActorHeader

// Queries is the read side of the engine used by the HTTP routes.
type Queries interface {
	QueryItems(ctx context.Context, id, actor string, limit int) ([]model.Item, error)
	DiscoverChildren(parent string) []model.NodeDescriptor
	DiscoverItems(ctx context.Context, id string) ([]string, error)
	DiscoverFeatures() []string
}

type Config struct {
	// Prefix is the transport subject prefix.
	Prefix string
	// Identity is the service identity used on locally generated errors.
	Identity       string
	AllowedOrigins []string
	// SendBuffer bounds frames queued for one socket.
	SendBuffer     int
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = protocol.DefaultPrefix
	}
	if c.Identity == "" {
		c.Identity = "pubsub.nodestream"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

type Gateway struct {
	cfg      Config
	queries  Queries
	provider pubsub.Provider
	pub      pubsub.Publisher
	decoder  *schema.Decoder
	upgrader websocket.Upgrader
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// New creates a gateway publishing requests through provider.
func New(cfg Config, queries Queries, provider pubsub.Provider, logger *slog.Logger) (*Gateway, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	pub, err := provider.NewPublisher(pubsub.PublisherOptions{
		StreamName:    cfg.Prefix,
		SubjectPrefix: cfg.Prefix,
	})
	if err != nil {
		return nil, err
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		queries:  queries,
		provider: provider,
		pub:      pub,
		decoder:  decoder,
		logger:   logger.With("component", "gateway"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g, nil
}

// RegisterRoutes registers the WebSocket and query routes on mux. Query
// routes run under the request timeout.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", g.handleWS)

	bounded := server.TimeoutMiddleware(g.cfg.RequestTimeout)
	mux.Handle("GET /v1/items", bounded(http.HandlerFunc(g.handleItems)))
	mux.Handle("GET /v1/item-ids", bounded(http.HandlerFunc(g.handleItemIDs)))
	mux.Handle("GET /v1/nodes", bounded(http.HandlerFunc(g.handleNodes)))
	mux.Handle("GET /v1/features", bounded(http.HandlerFunc(g.handleFeatures)))
}

// Sessions returns the number of connected sockets.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Close disconnects every socket and waits for their inbox consumers to stop.
func (g *Gateway) Close() error {
	g.cancel()
	g.wg.Wait()
	return g.pub.Close()
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// APIError is the body of every failed HTTP query.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// writeEngineError maps model sentinels to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Node not found")
	case errors.Is(err, model.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "Forbidden")
	case errors.Is(err, model.ErrBadRequest):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, model.ErrCanceled):
		writeError(w, 499, ErrCodeInternalError, "Request canceled")
	default:
		slog.Error("Query failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error")
	}
}
