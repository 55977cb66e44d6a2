package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
)

const (
	kindTopic = "topic"
	kindUser  = "user"
)

// RelayMessage is the message published via Redis Pub/Sub. Exactly one of Topic and UserID is set,
// according to Kind.
type RelayMessage struct {
	Kind    string           `json:"kind"`
	Topic   string           `json:"topic,omitempty"`
	UserID  string           `json:"userId,omitempty"`
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Relay publishes events to every instance through one Redis channel.
type Relay struct {
	rdb     *goredis.Client
	channel string
}

var _ domain.Broadcaster = (*Relay)(nil)

func NewRelay(client *Client, channel string) *Relay {
	return &Relay{rdb: client.rdb, channel: channel}
}

// PublishToTopic implements domain.Broadcaster.
func (r *Relay) PublishToTopic(ctx context.Context, topic domain.Topic, eventType domain.EventType, payload any) error {
	if !topic.Category.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCategory, topic.Category)
	}
	return r.publish(ctx, RelayMessage{Kind: kindTopic, Topic: topic.String(), Type: eventType}, payload)
}

// PublishToUser implements domain.Broadcaster.
func (r *Relay) PublishToUser(ctx context.Context, userID string, eventType domain.EventType, payload any) error {
	if userID == "" {
		return fmt.Errorf("publish %s: missing user id", eventType)
	}
	return r.publish(ctx, RelayMessage{Kind: kindUser, UserID: userID, Type: eventType}, payload)
}

func (r *Relay) publish(ctx context.Context, msg RelayMessage, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	msg.Payload = raw

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("published", "error").Inc()
		return fmt.Errorf("failed to publish relay message: %w", err)
	}
	metrics.RelayMessagesTotal.WithLabelValues("published", "ok").Inc()
	return nil
}
