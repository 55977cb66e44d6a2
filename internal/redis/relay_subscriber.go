package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/retry"
)

// LocalDeliverer delivers to connections held by this instance.
type LocalDeliverer interface {
	DeliverToTopic(ctx context.Context, topic domain.Topic, eventType domain.EventType, payload any) (int, error)
	DeliverToUser(ctx context.Context, userID string, eventType domain.EventType, payload any) (int, error)
}

// RelaySubscriber feeds relay messages from Redis into the local broadcast service.
type RelaySubscriber struct {
	rdb     *goredis.Client
	channel string
	local   LocalDeliverer
	policy  retry.Policy
}

func NewRelaySubscriber(client *Client, channel string, local LocalDeliverer, clock clockwork.Clock) *RelaySubscriber {
	return &RelaySubscriber{
		rdb:     client.rdb,
		channel: channel,
		local:   local,
		policy: retry.Policy{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Clock:          clock,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
	}
}

// Run subscribes to the relay channel and delivers messages until ctx is cancelled
// or the subscription channel closes. The initial ping is retried with backoff.
func (s *RelaySubscriber) Run(ctx context.Context) error {
	if err := retry.DoVoid(ctx, s.policy, nil, func(ctx context.Context) error {
		return s.rdb.Ping(ctx).Err()
	}); err != nil {
		return fmt.Errorf("relay subscriber: %w", err)
	}

	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer func() {
		_ = pubsub.Close()
		metrics.RelaySubscriptionActive.Set(0)
	}()

	// Wait for the subscription confirmation so publishes after Run starts are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", s.channel, err)
	}
	metrics.RelaySubscriptionActive.Set(1)
	slog.Info("Relay subscriber started", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

// handle decodes one relay message and delivers it locally. Bad messages are logged and skipped.
func (s *RelaySubscriber) handle(ctx context.Context, payload string) {
	var msg RelayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("received", "invalid").Inc()
		slog.Warn("Invalid relay message", "error", err)
		return
	}

	var (
		delivered int
		err       error
	)
	switch msg.Kind {
	case kindTopic:
		topic, perr := domain.ParseTopic(msg.Topic)
		if perr != nil {
			metrics.RelayMessagesTotal.WithLabelValues("received", "invalid").Inc()
			slog.Warn("Invalid relay topic", "topic", msg.Topic, "error", perr)
			return
		}
		delivered, err = s.local.DeliverToTopic(ctx, topic, msg.Type, msg.Payload)
	case kindUser:
		delivered, err = s.local.DeliverToUser(ctx, msg.UserID, msg.Type, msg.Payload)
	default:
		metrics.RelayMessagesTotal.WithLabelValues("received", "invalid").Inc()
		slog.Warn("Unknown relay message kind", "kind", msg.Kind)
		return
	}

	if err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("received", "error").Inc()
		if !errors.Is(err, domain.ErrServiceStopped) {
			slog.Error("Relay delivery failed", "kind", msg.Kind, "event_type", msg.Type, "error", err)
		}
		return
	}
	metrics.RelayMessagesTotal.WithLabelValues("received", "ok").Inc()
	slog.Debug("Relay message delivered", "kind", msg.Kind, "event_type", msg.Type, "delivered", delivered)
}
