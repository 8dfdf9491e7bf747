package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
)

func receive(t *testing.T, ch <-chan pubsub.Message) pubsub.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"NODESTREAM.service", "NODESTREAM.service", true},
		{"NODESTREAM.actor.*", "NODESTREAM.actor.YWxpY2U", true},
		{"NODESTREAM.actor.*", "NODESTREAM.actor", false},
		{"NODESTREAM.>", "NODESTREAM.actor.YWxpY2U", true},
		{"NODESTREAM.>", "NODESTREAM", false},
		{"NODESTREAM.service", "NODESTREAM.services", false},
		{"", "a", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchSubject(tt.pattern, tt.subject), "%s vs %s", tt.pattern, tt.subject)
	}
}

func TestEngine_PublishSubscribe(t *testing.T) {
	e := New()
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := e.NewConsumer(pubsub.ConsumerOptions{FilterSubject: "NS.actor.bob"})
	require.NoError(t, err)
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	var published string
	p, err := e.NewPublisher(pubsub.PublisherOptions{
		SubjectPrefix: "NS",
		OnPublish:     func(subject string, err error, _ time.Duration) { published = subject },
	})
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, "actor.bob", []byte("hello")))
	require.NoError(t, p.Publish(ctx, "actor.carol", []byte("ignored")))
	assert.Equal(t, "NS.actor.carol", published)

	msg := receive(t, ch)
	assert.Equal(t, "hello", string(msg.Data()))
	assert.Equal(t, "NS.actor.bob", msg.Subject())
	md, err := msg.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), md.NumDelivered)
	require.NoError(t, msg.Ack())

	select {
	case extra := <-ch:
		t.Fatalf("unexpected message %s", extra.Subject())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEngine_DuplicatePattern(t *testing.T) {
	e := New()
	defer e.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c1, _ := e.NewConsumer(pubsub.ConsumerOptions{FilterSubject: "NS.service"})
	_, err := c1.Subscribe(ctx)
	require.NoError(t, err)

	c2, _ := e.NewConsumer(pubsub.ConsumerOptions{FilterSubject: "NS.service"})
	_, err = c2.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrPatternSubscribed)
}

func TestEngine_CancelUnsubscribes(t *testing.T) {
	e := New()
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := e.NewConsumer(pubsub.ConsumerOptions{StreamName: "NS"})
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Subscriptions())

	cancel()
	assert.Eventually(t, func() bool { return e.Subscriptions() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestMessage_NakRedelivers(t *testing.T) {
	e := New()
	defer e.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := e.NewConsumer(pubsub.ConsumerOptions{FilterSubject: "NS.service"})
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)
	p, _ := e.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, p.Publish(ctx, "NS.service", []byte("x")))

	msg := receive(t, ch)
	require.NoError(t, msg.Nak())
	require.NoError(t, msg.Nak())

	again := receive(t, ch)
	md, _ := again.Metadata()
	assert.Equal(t, uint64(2), md.NumDelivered)
	require.NoError(t, again.Term())
}

func TestEngine_Closed(t *testing.T) {
	e := New()
	p, err := e.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.ErrorIs(t, p.Publish(context.Background(), "a", nil), ErrEngineClosed)
	_, err = e.NewPublisher(pubsub.PublisherOptions{})
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.NewConsumer(pubsub.ConsumerOptions{})
	assert.ErrorIs(t, err, ErrEngineClosed)

	require.NoError(t, p.Close())
}

func TestEngine_SlowConsumerIsolated(t *testing.T) {
	e := New(WithSlowConsumerWait(200 * time.Millisecond))
	defer e.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stuck, _ := e.NewConsumer(pubsub.ConsumerOptions{FilterSubject: "NS.actor.stuck", ChannelBufSize: 1})
	stuckCh, err := stuck.Subscribe(ctx)
	require.NoError(t, err)
	p, _ := e.NewPublisher(pubsub.PublisherOptions{SubjectPrefix: "NS"})
	require.NoError(t, p.Publish(ctx, "actor.stuck", []byte("1")))

	blocked := make(chan error, 1)
	go func() { blocked <- p.Publish(ctx, "actor.stuck", []byte("2")) }()

	// while the second publish waits, others subscribe and receive
	time.Sleep(20 * time.Millisecond)
	other, _ := e.NewConsumer(pubsub.ConsumerOptions{FilterSubject: "NS.actor.bob"})
	otherCh, err := other.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, "actor.bob", []byte("hi")))
	assert.Equal(t, []byte("hi"), receive(t, otherCh).Data())

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrSlowConsumer)
	case <-time.After(2 * time.Second):
		t.Fatal("publish to a full subscription never returned")
	}
	assert.Equal(t, []byte("1"), receive(t, stuckCh).Data())
}

func TestEngine_UnsubscribeReleasesWaitingPublish(t *testing.T) {
	e := New(WithSlowConsumerWait(time.Minute))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := e.NewConsumer(pubsub.ConsumerOptions{FilterSubject: "NS.x", ChannelBufSize: 1})
	_, err := c.Subscribe(ctx)
	require.NoError(t, err)
	p, _ := e.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, p.Publish(context.Background(), "NS.x", []byte("1")))

	done := make(chan error, 1)
	go func() { done <- p.Publish(context.Background(), "NS.x", []byte("2")) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publish not released by unsubscribe")
	}
	assert.Eventually(t, func() bool { return e.Subscriptions() == 0 }, time.Second, 5*time.Millisecond)
}
