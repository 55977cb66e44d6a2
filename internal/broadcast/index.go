package broadcast

import (
	"github.com/google/uuid"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
)

// Index maps topics to subscribed connections and keeps each connection's own
// topic set in the registry in step. These methods are the only code that mutates either side.
type Index struct {
	registry    *Registry
	subscribers map[domain.Topic]map[uuid.UUID]struct{}
}

// NewIndex creates an empty index over registry.
func NewIndex(registry *Registry) *Index {
	return &Index{
		registry:    registry,
		subscribers: make(map[domain.Topic]map[uuid.UUID]struct{}),
	}
}

// Subscribe adds the connection to topic. Idempotent; unknown connections are ignored.
func (x *Index) Subscribe(id uuid.UUID, topic domain.Topic) {
	c, ok := x.registry.lookup(id)
	if !ok {
		return
	}
	subs, ok := x.subscribers[topic]
	if !ok {
		subs = make(map[uuid.UUID]struct{})
		x.subscribers[topic] = subs
	}
	subs[id] = struct{}{}
	c.topics[topic] = struct{}{}
}

// Unsubscribe removes the connection from topic, dropping the topic once it has no subscribers.
func (x *Index) Unsubscribe(id uuid.UUID, topic domain.Topic) {
	if c, ok := x.registry.lookup(id); ok {
		delete(c.topics, topic)
	}
	x.detach(id, topic)
}

// UnsubscribeAll removes the connection from every topic it holds.
func (x *Index) UnsubscribeAll(id uuid.UUID) {
	c, ok := x.registry.lookup(id)
	if !ok {
		return
	}
	for topic := range c.topics {
		x.detach(id, topic)
	}
	clear(c.topics)
}

// SubscribersOf returns a copy of the subscriber set of topic, empty for unknown topics.
func (x *Index) SubscribersOf(topic domain.Topic) []uuid.UUID {
	subs := x.subscribers[topic]
	ids := make([]uuid.UUID, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// IsSubscribed reports whether the connection is in topic's subscriber set.
func (x *Index) IsSubscribed(id uuid.UUID, topic domain.Topic) bool {
	_, ok := x.subscribers[topic][id]
	return ok
}

// TopicCounts returns the subscriber count per topic name.
func (x *Index) TopicCounts() map[string]int {
	counts := make(map[string]int, len(x.subscribers))
	for topic, subs := range x.subscribers {
		counts[topic.String()] = len(subs)
	}
	return counts
}

// Len returns the number of topics with at least one subscriber.
func (x *Index) Len() int {
	return len(x.subscribers)
}

func (x *Index) detach(id uuid.UUID, topic domain.Topic) {
	subs, ok := x.subscribers[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(x.subscribers, topic)
	}
}
