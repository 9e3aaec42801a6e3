package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waste-auth-service/internal/config"
)

// flakySender fails a fixed number of times before succeeding.
type flakySender struct {
	mu        sync.Mutex
	channel   string
	failures  int
	attempts  int
	delivered chan Message
}

func newFlakySender(channel string, failures int) *flakySender {
	return &flakySender{
		channel:   channel,
		failures:  failures,
		delivered: make(chan Message, 16),
	}
}

func (s *flakySender) Deliver(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("provider unavailable")
	}
	s.delivered <- msg
	return nil
}

func (s *flakySender) Channel() string { return s.channel }

func (s *flakySender) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func gatewayConfig(queueSize, workers, maxRetries int) *config.Config {
	return &config.Config{
		Notify: config.NotifyConfig{
			QueueSize:  queueSize,
			Workers:    workers,
			MaxRetries: maxRetries,
			RetryBase:  time.Millisecond,
		},
	}
}

func waitDelivered(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
		return Message{}
	}
}

func TestGatewayDeliversQueuedMessage(t *testing.T) {
	sender := newFlakySender(ChannelSMS, 0)
	g := NewGateway(gatewayConfig(16, 2, 3), sender)
	t.Cleanup(g.Close)

	err := g.Send(context.Background(), Message{
		Channel:   ChannelSMS,
		Recipient: "+66812345678",
		Body:      "123456 is your sign-in code.",
	})
	require.NoError(t, err)

	msg := waitDelivered(t, sender.delivered)
	assert.Equal(t, "+66812345678", msg.Recipient)
}

func TestGatewayRetriesWithBackoff(t *testing.T) {
	sender := newFlakySender(ChannelSMS, 2)
	g := NewGateway(gatewayConfig(16, 1, 3), sender)
	t.Cleanup(g.Close)

	err := g.Send(context.Background(), Message{Channel: ChannelSMS, Recipient: "+66812345678"})
	require.NoError(t, err)

	waitDelivered(t, sender.delivered)
	assert.Equal(t, 3, sender.attemptCount())
}

func TestGatewaySyncFallbackWhenQueueFull(t *testing.T) {
	// No workers, so the queue never drains: the first send occupies the
	// single slot and the second must deliver synchronously.
	sender := newFlakySender(ChannelSMS, 0)
	g := NewGateway(gatewayConfig(1, 0, 0), sender)
	t.Cleanup(g.Close)

	ctx := context.Background()
	require.NoError(t, g.Send(ctx, Message{Channel: ChannelSMS, Recipient: "queued"}))
	require.NoError(t, g.Send(ctx, Message{Channel: ChannelSMS, Recipient: "direct"}))

	msg := waitDelivered(t, sender.delivered)
	assert.Equal(t, "direct", msg.Recipient)
}

func TestGatewaySendSyncSurfacesFailure(t *testing.T) {
	sender := newFlakySender(ChannelSMS, 10)
	g := NewGateway(gatewayConfig(16, 1, 1), sender)
	t.Cleanup(g.Close)

	err := g.SendSync(context.Background(), Message{Channel: ChannelSMS, Recipient: "+66812345678"})
	require.Error(t, err)
	assert.Equal(t, 2, sender.attemptCount())
}

func TestGatewayUnknownChannel(t *testing.T) {
	g := NewGateway(gatewayConfig(16, 1, 0), newFlakySender(ChannelSMS, 0))
	t.Cleanup(g.Close)

	err := g.Send(context.Background(), Message{Channel: "telegraph"})
	assert.ErrorIs(t, err, ErrUnknownChannel)

	err = g.SendSync(context.Background(), Message{Channel: "telegraph"})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}
