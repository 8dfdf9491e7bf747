// Package correlation matches asynchronous inbound messages to the callers
// waiting for them.
//
// A caller registers a predicate, sends its request, then waits on the
// returned handle. Every inbound message is offered to the pending slots in
// registration order and fills the first one whose predicate matches; a
// message is consumed by at most one slot. Registration must happen before
// the request is sent, otherwise a fast reply may be discarded as unmatched.
package correlation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/syntrixbase/nodestream/pkg/model"
)

// DefaultTimeout is used when Wait or WaitNone is called with a non-positive timeout.
const DefaultTimeout = 10 * time.Second

// ErrUnknownHandle is returned when waiting on a handle that was never
// registered or has already completed.
var ErrUnknownHandle = errors.New("unknown correlation handle")

// Handle identifies a registered slot. Handles increase monotonically.
type Handle uint64

type slot[M any] struct {
	handle Handle
	pred   Predicate[M]
	ch     chan M
}

// Option configures a Table.
type Option[M any] func(*Table[M])

// WithUnmatched installs a callback for messages no slot accepted.
// It runs outside the table lock.
func WithUnmatched[M any](fn func(M)) Option[M] {
	return func(t *Table[M]) {
		t.onUnmatched = fn
	}
}

// Table is a registered-predicate correlation table.
type Table[M any] struct {
	mu      sync.Mutex
	next    Handle
	pending []*slot[M]         // registration order, not yet filled
	slots   map[Handle]*slot[M] // pending and filled, until waited on
	closed  bool

	onUnmatched func(M)
}

// New creates an empty table.
func New[M any](opts ...Option[M]) *Table[M] {
	t := &Table[M]{
		slots: make(map[Handle]*slot[M]),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register creates a slot that receives the next inbound message satisfying pred.
func (t *Table[M]) Register(pred Predicate[M]) (Handle, error) {
	if pred == nil {
		pred = Any[M]()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, model.ErrClosed
	}

	t.next++
	s := &slot[M]{
		handle: t.next,
		pred:   pred,
		ch:     make(chan M, 1),
	}
	t.pending = append(t.pending, s)
	t.slots[s.handle] = s
	return s.handle, nil
}

// Deliver offers msg to the pending slots in registration order and fills
// the first match. It never blocks and reports whether a slot took the message.
func (t *Table[M]) Deliver(msg M) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	for i, s := range t.pending {
		if !s.pred(msg) {
			continue
		}
		s.ch <- msg
		t.pending = append(t.pending[:i], t.pending[i+1:]...)
		t.mu.Unlock()
		return true
	}
	t.mu.Unlock()

	if t.onUnmatched != nil {
		t.onUnmatched(msg)
	}
	return false
}

// Wait blocks until the slot is filled, the timeout elapses or ctx is done.
// On timeout the slot is unregistered and model.ErrTimedOut is returned.
func (t *Table[M]) Wait(ctx context.Context, h Handle, timeout time.Duration) (M, error) {
	var zero M

	s, err := t.lookup(h)
	if err != nil {
		return zero, err
	}

	timer := time.NewTimer(effective(timeout))
	defer timer.Stop()

	select {
	case msg, ok := <-s.ch:
		t.forget(h)
		if !ok {
			return zero, model.ErrClosed
		}
		return msg, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if msg, ok := t.expire(s); ok {
		return msg, nil
	}
	if ctx.Err() != nil {
		return zero, model.WrapError(ctx.Err())
	}
	return zero, model.ErrTimedOut
}

// WaitNone asserts that no matching message arrives within window.
// It returns absent=true only when the window elapsed without a match; a
// match is returned with absent=false. An unknown handle, a closed table or
// a done ctx are reported as errors. The slot is always unregistered.
func (t *Table[M]) WaitNone(ctx context.Context, h Handle, window time.Duration) (M, bool, error) {
	var zero M

	s, err := t.lookup(h)
	if err != nil {
		return zero, false, err
	}

	timer := time.NewTimer(effective(window))
	defer timer.Stop()

	select {
	case msg, ok := <-s.ch:
		t.forget(h)
		if !ok {
			return zero, false, model.ErrClosed
		}
		return msg, false, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if msg, ok := t.expire(s); ok {
		return msg, false, nil
	}
	if ctx.Err() != nil {
		return zero, false, model.WrapError(ctx.Err())
	}
	return zero, true, nil
}

// Cancel unregisters a slot without waiting on it.
func (t *Table[M]) Cancel(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.slots[h]; ok {
		t.removePendingLocked(s)
		delete(t.slots, h)
	}
}

// Pending returns the number of registered slots not yet filled.
func (t *Table[M]) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close releases every waiter with model.ErrClosed. Messages already
// delivered to a slot are still returned by Wait.
func (t *Table[M]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, s := range t.slots {
		close(s.ch)
	}
	t.pending = nil
}

func (t *Table[M]) lookup(h Handle) (*slot[M], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return s, nil
}

func (t *Table[M]) forget(h Handle) {
	t.mu.Lock()
	delete(t.slots, h)
	t.mu.Unlock()
}

// expire unregisters s; a delivery that raced the timer is still returned.
func (t *Table[M]) expire(s *slot[M]) (M, bool) {
	t.mu.Lock()
	t.removePendingLocked(s)
	delete(t.slots, s.handle)
	t.mu.Unlock()

	select {
	case msg, ok := <-s.ch:
		return msg, ok
	default:
		var zero M
		return zero, false
	}
}

func (t *Table[M]) removePendingLocked(s *slot[M]) {
	for i, p := range t.pending {
		if p == s {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

func effective(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
