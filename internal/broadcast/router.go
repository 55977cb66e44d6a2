package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
)

// Stats is a point-in-time snapshot for operational monitoring.
type Stats struct {
	ConnectionCount          int            `json:"connectionCount"`
	PerTopicSubscriberCounts map[string]int `json:"perTopicSubscriberCounts"`
	Timestamp                time.Time      `json:"timestamp"`
}

// gracefulCloser is implemented by transports that can send a close frame before closing.
type gracefulCloser interface {
	CloseGraceful(code int, reason string) error
}

// Router turns client messages into index mutations and fans domain events out to connections.
// It is not safe for concurrent use.
type Router struct {
	registry *Registry
	index    *Index
	clock    clockwork.Clock
}

// NewRouter wires a router over registry and index.
func NewRouter(registry *Registry, index *Index, clock clockwork.Clock) *Router {
	return &Router{registry: registry, index: index, clock: clock}
}

// Connect registers transport and, when credential verifies, attaches its user.
// The connection receives a connected message either way.
func (rt *Router) Connect(ctx context.Context, transport domain.Transport, credential string) uuid.UUID {
	id := rt.registry.Register(transport)
	rt.registry.Authenticate(ctx, id, credential)
	rt.announce(id)
	return id
}

// connectAs registers transport under an already verified user (empty for anonymous).
func (rt *Router) connectAs(transport domain.Transport, userID string) uuid.UUID {
	id := rt.registry.Register(transport)
	rt.registry.AttachUser(id, userID)
	rt.announce(id)
	return id
}

// announce sends the connected message and updates connection gauges.
func (rt *Router) announce(id uuid.UUID) {
	metrics.BroadcasterConnections.Set(float64(rt.registry.Len()))
	userID := rt.registry.UserID(id)
	rt.reply(id, domain.OutboundConnected, domain.ConnectedData{
		ConnectionID:  id.String(),
		Authenticated: userID != "",
		UserID:        userID,
	})
	slog.Debug("Connection registered", "connection_id", id.String(), "authenticated", userID != "")
}

// HandleInbound processes one client frame. Problems are reported back to the sender
// as error messages; the connection stays open.
func (rt *Router) HandleInbound(id uuid.UUID, raw []byte) {
	if _, ok := rt.registry.lookup(id); !ok {
		return
	}

	msg, err := domain.DecodeInbound(raw)
	if err != nil {
		metrics.BroadcasterInboundMessagesTotal.WithLabelValues("malformed").Inc()
		rt.replyError(id, err)
		return
	}

	switch msg.Type {
	case domain.InboundSubscribe:
		metrics.BroadcasterInboundMessagesTotal.WithLabelValues(msg.Type).Inc()
		rt.handleSubscribe(id, msg)
	case domain.InboundUnsubscribe:
		metrics.BroadcasterInboundMessagesTotal.WithLabelValues(msg.Type).Inc()
		rt.handleUnsubscribe(id, msg)
	case domain.InboundPing:
		metrics.BroadcasterInboundMessagesTotal.WithLabelValues(msg.Type).Inc()
		rt.reply(id, domain.OutboundPong, domain.PongData{ServerTime: rt.clock.Now().UnixMilli()})
	default:
		metrics.BroadcasterInboundMessagesTotal.WithLabelValues("unknown").Inc()
		rt.replyError(id, fmt.Errorf("%w: %s", domain.ErrUnknownMessageType, msg.Type))
	}
}

func (rt *Router) handleSubscribe(id uuid.UUID, msg domain.InboundMessage) {
	topic, err := domain.DecodeTopicRequest(msg.Data)
	if err != nil {
		metrics.BroadcasterSubscriptionsTotal.WithLabelValues("invalid").Inc()
		rt.replyError(id, err)
		return
	}

	if !topic.AuthorizedFor(rt.registry.UserID(id)) {
		metrics.BroadcasterSubscriptionsTotal.WithLabelValues("unauthorized").Inc()
		slog.Info("Subscription rejected", "connection_id", id.String(), "topic", topic.String())
		rt.replyError(id, fmt.Errorf("%w: %s", domain.ErrUnauthorizedTopic, topic))
		return
	}

	rt.index.Subscribe(id, topic)
	metrics.BroadcasterSubscriptionsTotal.WithLabelValues("subscribed").Inc()
	metrics.BroadcasterTopics.Set(float64(rt.index.Len()))
	rt.reply(id, domain.OutboundSubscribed, topicAck(topic))
}

func (rt *Router) handleUnsubscribe(id uuid.UUID, msg domain.InboundMessage) {
	topic, err := domain.DecodeTopicRequest(msg.Data)
	if err != nil {
		rt.replyError(id, err)
		return
	}

	rt.index.Unsubscribe(id, topic)
	metrics.BroadcasterTopics.Set(float64(rt.index.Len()))
	rt.reply(id, domain.OutboundUnsubscribed, topicAck(topic))
}

func topicAck(topic domain.Topic) domain.TopicAck {
	return domain.TopicAck{Topic: topic.String(), Category: topic.Category, ScopeKey: topic.ScopeKey}
}

// MarkAlive records a transport-level liveness acknowledgment.
func (rt *Router) MarkAlive(id uuid.UUID) {
	rt.registry.MarkAlive(id)
}

// Disconnect drops every subscription of the connection and then the connection itself.
func (rt *Router) Disconnect(id uuid.UUID) {
	c, ok := rt.registry.lookup(id)
	if !ok {
		return
	}
	rt.index.UnsubscribeAll(id)
	rt.registry.Remove(id)

	metrics.BroadcasterConnections.Set(float64(rt.registry.Len()))
	metrics.BroadcasterTopics.Set(float64(rt.index.Len()))
	metrics.WebSocketConnectionDuration.Observe(rt.clock.Since(c.connectedAt).Seconds())
	slog.Debug("Connection removed", "connection_id", id.String())
}

// Sweep runs one heartbeat pass and fully removes every evicted connection.
func (rt *Router) Sweep() []uuid.UUID {
	start := rt.clock.Now()
	evicted := rt.registry.Sweep()
	for _, id := range evicted {
		rt.Disconnect(id)
		metrics.BroadcasterHeartbeatEvictions.Inc()
	}
	metrics.BroadcasterSweepDuration.Observe(rt.clock.Since(start).Seconds())

	if len(evicted) > 0 {
		slog.Info("Evicted unresponsive connections", "count", len(evicted), "remaining", rt.registry.Len())
	}
	return evicted
}

// PublishToTopic delivers the event to every current subscriber of topic and
// returns how many transports accepted it.
func (rt *Router) PublishToTopic(topic domain.Topic, eventType domain.EventType, payload any) (int, error) {
	frame, err := encodeEvent(topic, eventType, payload, rt.clock.Now())
	if err != nil {
		return 0, err
	}
	return rt.deliverToTopic(topic, frame), nil
}

// PublishToUser delivers the event to every connection authenticated as userID,
// regardless of subscriptions.
func (rt *Router) PublishToUser(userID string, eventType domain.EventType, payload any) (int, error) {
	frame, err := domain.EncodeOutbound(string(eventType), payload, rt.clock.Now())
	if err != nil {
		return 0, err
	}
	return rt.deliverToUser(userID, frame), nil
}

func encodeEvent(topic domain.Topic, eventType domain.EventType, payload any, now time.Time) ([]byte, error) {
	if !topic.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, topic.Category)
	}
	return domain.EncodeOutbound(string(eventType), payload, now)
}

func (rt *Router) deliverToTopic(topic domain.Topic, frame []byte) int {
	metrics.BroadcasterPublishesTotal.WithLabelValues("topic").Inc()
	delivered := 0
	for _, id := range rt.index.SubscribersOf(topic) {
		c, ok := rt.registry.lookup(id)
		if !ok {
			continue
		}
		if rt.send(c, frame) {
			delivered++
		}
	}
	return delivered
}

func (rt *Router) deliverToUser(userID string, frame []byte) int {
	metrics.BroadcasterPublishesTotal.WithLabelValues("user").Inc()
	delivered := 0
	for _, c := range rt.registry.connectionsOfUser(userID) {
		if rt.send(c, frame) {
			delivered++
		}
	}
	return delivered
}

// Stats returns the current connection count and per-topic subscriber counts.
func (rt *Router) Stats() Stats {
	return Stats{
		ConnectionCount:          rt.registry.Len(),
		PerTopicSubscriberCounts: rt.index.TopicCounts(),
		Timestamp:                rt.clock.Now().UTC(),
	}
}

// CloseAll closes every connection, with a close frame where the transport supports it,
// and empties the registry and index.
func (rt *Router) CloseAll(code int, reason string) int {
	conns := rt.registry.all()
	for _, c := range conns {
		if gc, ok := c.transport.(gracefulCloser); ok {
			_ = gc.CloseGraceful(code, reason)
		} else {
			_ = c.transport.Close()
		}
		rt.Disconnect(c.id)
	}
	return len(conns)
}

func (rt *Router) reply(id uuid.UUID, msgType string, data any) {
	c, ok := rt.registry.lookup(id)
	if !ok {
		return
	}
	frame, err := domain.EncodeOutbound(msgType, data, rt.clock.Now())
	if err != nil {
		slog.Error("Failed to encode reply", "connection_id", id.String(), "type", msgType, "error", err)
		return
	}
	rt.send(c, frame)
}

func (rt *Router) replyError(id uuid.UUID, err error) {
	rt.reply(id, domain.OutboundError, domain.ErrorData{Message: err.Error()})
}

// send hands one frame to a transport. Failures are logged and counted, never returned,
// so one bad recipient cannot affect the others.
func (rt *Router) send(c *connection, frame []byte) bool {
	err := c.transport.Send(frame)
	if err == nil {
		metrics.BroadcasterMessagesDelivered.Inc()
		return true
	}

	reason := "error"
	switch {
	case errors.Is(err, domain.ErrSendBufferFull):
		reason = "buffer_full"
	case errors.Is(err, domain.ErrConnectionClosed):
		reason = "closed"
	}
	metrics.BroadcasterMessagesDropped.WithLabelValues(reason).Inc()
	slog.Warn("Dropped message for connection", "connection_id", c.id.String(), "reason", reason, "error", err)
	return false
}
