package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/util"
)

// RetryPolicy controls redelivery of failed messages. Backoff is exponential
// with jitter: base, 2*base, 4*base...
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	// Up to 25% jitter so retry bursts spread out
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

type queuedMessage struct {
	msg     Message
	attempt int
}

// Gateway delivers notifications asynchronously through a bounded queue and
// a fixed worker pool. When the queue is full, Send falls back to delivering
// synchronously so a burst never silently drops messages.
type Gateway struct {
	senders map[string]Sender
	queue   chan queuedMessage
	retry   RetryPolicy
	group   *errgroup.Group
	cancel  context.CancelFunc
	once    sync.Once
}

func NewGateway(cfg *config.Config, senders ...Sender) *Gateway {
	byChannel := make(map[string]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	g := &Gateway{
		senders: byChannel,
		queue:   make(chan queuedMessage, cfg.Notify.QueueSize),
		retry: RetryPolicy{
			MaxRetries: cfg.Notify.MaxRetries,
			Base:       cfg.Notify.RetryBase,
		},
		group:  group,
		cancel: cancel,
	}

	for i := 0; i < cfg.Notify.Workers; i++ {
		group.Go(func() error {
			g.worker(ctx)
			return nil
		})
	}

	util.Info("Notification gateway started",
		zap.Int("workers", cfg.Notify.Workers),
		zap.Int("queue_size", cfg.Notify.QueueSize),
		zap.Int("max_retries", cfg.Notify.MaxRetries))

	return g
}

// Send enqueues the message for asynchronous delivery. If the queue is full
// it delivers synchronously on the caller's goroutine instead.
func (g *Gateway) Send(ctx context.Context, msg Message) error {
	if _, ok := g.senders[msg.Channel]; !ok {
		return ErrUnknownChannel
	}

	select {
	case g.queue <- queuedMessage{msg: msg}:
		util.Debug("Notification queued", zap.String("channel", msg.Channel))
		return nil
	default:
	}

	util.Warn("Notification queue full, delivering synchronously",
		zap.String("channel", msg.Channel))
	return g.deliverWithRetry(ctx, queuedMessage{msg: msg})
}

// SendSync bypasses the queue entirely.
func (g *Gateway) SendSync(ctx context.Context, msg Message) error {
	if _, ok := g.senders[msg.Channel]; !ok {
		return ErrUnknownChannel
	}
	return g.deliverWithRetry(ctx, queuedMessage{msg: msg})
}

func (g *Gateway) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qm, ok := <-g.queue:
			if !ok {
				return
			}
			if err := g.deliverWithRetry(ctx, qm); err != nil {
				util.Error("Notification delivery abandoned",
					zap.String("channel", qm.msg.Channel),
					zap.Int("attempts", g.retry.MaxRetries+1),
					zap.Error(err))
			}
		}
	}
}

func (g *Gateway) deliverWithRetry(ctx context.Context, qm queuedMessage) error {
	sender := g.senders[qm.msg.Channel]

	var lastErr error
	for attempt := qm.attempt; attempt <= g.retry.MaxRetries; attempt++ {
		if err := sender.Deliver(ctx, qm.msg); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == g.retry.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.retry.backoff(attempt)):
		}

		util.Warn("Retrying notification delivery",
			zap.String("channel", qm.msg.Channel),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	return lastErr
}

// Close stops the workers after draining nothing further; queued messages
// that have not started delivery are dropped.
func (g *Gateway) Close() {
	g.once.Do(func() {
		g.cancel()
		if err := g.group.Wait(); err != nil {
			util.Error("Notification gateway shutdown error", zap.Error(err))
		}
		util.Info("Notification gateway stopped")
	})
}
