// Package fanout delivers notifications to subscribers through independent
// per-subscriber mailboxes.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/nodestream/internal/metrics"
	"github.com/syntrixbase/nodestream/internal/protocol"
	"github.com/syntrixbase/nodestream/pkg/model"
)

const (
	// DefaultMailboxSize is the per-subscriber queue depth.
	DefaultMailboxSize = 256
	// DefaultSendTimeout bounds a single delivery attempt.
	DefaultSendTimeout = 5 * time.Second
	// DefaultIdleTimeout is how long an empty mailbox lives before it is reclaimed.
	DefaultIdleTimeout = 30 * time.Second
)

// Sender writes one envelope to the inbox of env.To.
type Sender func(ctx context.Context, env protocol.Envelope) error

type mailbox struct {
	actor string
	queue chan protocol.Envelope
}

// Dispatcher queues notifications per recipient. Each recipient has one
// goroutine, so its notifications keep enqueue order while a slow or failing
// recipient never delays the others.
type Dispatcher struct {
	send        Sender
	mailboxSize int
	sendTimeout time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	boxes  map[string]*mailbox
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.sendTimeout = d
		}
	}
}

// WithIdleTimeout sets how long an empty mailbox is kept.
func WithIdleTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.idleTimeout = d
		}
	}
}

// NewDispatcher creates a dispatcher delivering through send.
func NewDispatcher(send Sender, mailboxSize int, logger *slog.Logger, opts ...Option) *Dispatcher {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		send:        send,
		mailboxSize: mailboxSize,
		sendTimeout: DefaultSendTimeout,
		idleTimeout: DefaultIdleTimeout,
		logger:      logger.With("component", "fanout"),
		ctx:         ctx,
		cancel:      cancel,
		boxes:       make(map[string]*mailbox),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue queues env for env.To without blocking. It reports false when the
// recipient's mailbox is full or the dispatcher is closed; the envelope is dropped.
func (d *Dispatcher) Enqueue(env protocol.Envelope) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	box, ok := d.boxes[env.To]
	if !ok {
		box = &mailbox{actor: env.To, queue: make(chan protocol.Envelope, d.mailboxSize)}
		d.boxes[env.To] = box
		d.wg.Add(1)
		go d.run(box)
	}

	select {
	case box.queue <- env:
		d.mu.Unlock()
		return true
	default:
		d.mu.Unlock()
		metrics.NotificationsTotal.WithLabelValues(metrics.OutcomeDropped).Inc()
		d.logger.Warn("Mailbox full, dropping notification", "actor", env.To, "node", env.Node, "item", env.ID)
		return false
	}
}

func (d *Dispatcher) run(box *mailbox) {
	defer d.wg.Done()
	idle := time.NewTimer(d.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case env, ok := <-box.queue:
			if !ok {
				return
			}
			d.deliver(box, env)
			idle.Reset(d.idleTimeout)
		case <-idle.C:
			if d.reclaim(box) {
				return
			}
			idle.Reset(d.idleTimeout)
		}
	}
}

func (d *Dispatcher) deliver(box *mailbox, env protocol.Envelope) {
	ctx, cancel := context.WithTimeout(d.ctx, d.sendTimeout)
	defer cancel()

	if err := d.send(ctx, env); err != nil {
		metrics.NotificationsTotal.WithLabelValues(metrics.OutcomeDropped).Inc()
		if !model.IsCanceled(err) || d.ctx.Err() == nil {
			d.logger.Warn("Notification delivery failed", "actor", box.actor, "node", env.Node, "error", err)
		}
		return
	}
	metrics.NotificationsTotal.WithLabelValues(metrics.OutcomeDelivered).Inc()
}

// reclaim removes box when nothing is queued. Enqueue only reaches a box
// through the map under d.mu, so an unlisted box receives nothing more.
func (d *Dispatcher) reclaim(box *mailbox) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(box.queue) > 0 || d.boxes[box.actor] != box {
		return false
	}
	delete(d.boxes, box.actor)
	return true
}

// Mailboxes returns the number of active recipient mailboxes.
func (d *Dispatcher) Mailboxes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.boxes)
}

// Close stops accepting notifications and waits for queued ones to drain.
// When ctx expires first, pending sends are canceled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for actor, box := range d.boxes {
		delete(d.boxes, actor)
		close(box.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return model.WrapError(ctx.Err())
	}
}
