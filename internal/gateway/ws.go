package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
	"github.com/syntrixbase/nodestream/internal/protocol"
	"github.com/syntrixbase/nodestream/pkg/model"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 << 10
)

type wsQuery struct {
	Actor string `schema:"actor"`
}

// session relays between one socket and one actor inbox.
type session struct {
	g     *Gateway
	actor string
	conn  *websocket.Conn
	send  chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// handleWS upgrades the request for the actor named by the X-Actor header
// or, for browsers, the actor query parameter. An actor has at most one
// socket at a time.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		var q wsQuery
		if !g.decode(w, r, &q) {
			return
		}
		actor = q.Actor
	}
	if actor == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Actor identity is required")
		return
	}

	ctx, cancel := context.WithCancel(g.ctx)
	s := &session{
		g:      g,
		actor:  actor,
		send:   make(chan []byte, g.cfg.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	if !g.claim(s) {
		cancel()
		writeError(w, http.StatusConflict, ErrCodeConflict, "Actor already connected")
		return
	}

	consumer, err := g.provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:     g.cfg.Prefix,
		FilterSubject:  protocol.Qualify(g.cfg.Prefix, protocol.InboxSubject(actor)),
		ChannelBufSize: g.cfg.SendBuffer,
	})
	var msgs <-chan pubsub.Message
	if err == nil {
		msgs, err = consumer.Subscribe(ctx)
	}
	if err != nil {
		cancel()
		g.release(s)
		g.logger.Error("Failed to subscribe actor inbox", "actor", actor, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to open inbox")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the peer
		g.logger.Warn("WebSocket upgrade failed", "actor", actor, "error", err)
		cancel()
		g.drain(s, msgs)
		return
	}
	s.conn = conn
	g.logger.Info("WebSocket connection established", "actor", actor)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.drain(s, msgs)
	}()
	go s.writePump()
	go s.readPump()
}

func (g *Gateway) claim(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[s.actor]; ok {
		return false
	}
	g.sessions[s.actor] = s
	return true
}

func (g *Gateway) release(s *session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessions[s.actor] == s {
		delete(g.sessions, s.actor)
	}
}

// drain forwards inbox messages to the socket until the subscription ends.
// The actor is released only once its inbox is unsubscribed.
func (g *Gateway) drain(s *session, msgs <-chan pubsub.Message) {
	defer g.release(s)
	for msg := range msgs {
		if to, ok := protocol.ActorFromInbox(msg.Subject()); !ok || to != s.actor {
			g.logger.Warn("Dropping inbox message for another actor", "actor", s.actor, "subject", msg.Subject())
			_ = msg.Term()
			continue
		}
		if s.conn != nil {
			s.enqueue(msg.Data())
		}
		_ = msg.Ack()
	}
}

// enqueue never blocks; a peer that does not keep up loses frames.
func (s *session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	case <-s.ctx.Done():
	default:
		s.g.logger.Warn("Dropping frame for slow peer", "actor", s.actor)
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
		s.g.logger.Info("WebSocket connection closed", "actor", s.actor)
	})
}

// readPump relays frames from the peer to the service. It is the only
// reader of the connection.
func (s *session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.g.logger.Warn("WebSocket read failed", "actor", s.actor, "error", err)
			}
			return
		}
		s.relay(data)
	}
}

// relay stamps a peer frame as a request from the session actor and
// publishes it. Frames that cannot be relayed are answered locally.
func (s *session) relay(data []byte) {
	env, err := protocol.Unmarshal(data)
	if err != nil {
		s.replyLocal(protocol.Envelope{}, fmt.Errorf("malformed envelope: %w", model.ErrBadRequest))
		return
	}
	env.Kind = protocol.KindRequest
	env.From = s.actor
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Sent.IsZero() {
		env.Sent = time.Now()
	}

	frame, err := env.Marshal()
	if err != nil {
		s.replyLocal(env, err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.RequestTimeout)
	defer cancel()
	if err := s.g.pub.Publish(ctx, protocol.ServiceSubject, frame); err != nil {
		s.g.logger.Error("Failed to relay request", "actor", s.actor, "op", env.Op, "error", err)
		s.replyLocal(env, err)
	}
}

func (s *session) replyLocal(req protocol.Envelope, err error) {
	req.From = s.actor
	frame, merr := protocol.Failure(req, s.g.cfg.Identity, err).Marshal()
	if merr != nil {
		return
	}
	s.enqueue(frame)
}

// writePump is the only writer of the connection.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway closing"))
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
