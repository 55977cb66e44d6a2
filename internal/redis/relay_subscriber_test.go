package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
)

type delivery struct {
	topic     string
	userID    string
	eventType domain.EventType
	payload   string
}

type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
	err        error
}

func (r *recordingDeliverer) DeliverToTopic(_ context.Context, topic domain.Topic, eventType domain.EventType, payload any) (int, error) {
	return r.record(delivery{topic: topic.String(), eventType: eventType, payload: rawString(payload)})
}

func (r *recordingDeliverer) DeliverToUser(_ context.Context, userID string, eventType domain.EventType, payload any) (int, error) {
	return r.record(delivery{userID: userID, eventType: eventType, payload: rawString(payload)})
}

func (r *recordingDeliverer) record(d delivery) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.deliveries = append(r.deliveries, d)
	return 1, nil
}

func (r *recordingDeliverer) snapshot() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.deliveries...)
}

func rawString(payload any) string {
	if raw, ok := payload.(json.RawMessage); ok {
		return string(raw)
	}
	return ""
}

func TestRelaySubscriber_Handle(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []delivery
	}{
		{
			name:    "topic message",
			payload: `{"kind":"topic","topic":"orderbook:PAIR1","type":"orderbook_update","payload":{"bids":[]}}`,
			want:    []delivery{{topic: "orderbook:PAIR1", eventType: domain.EventOrderBookUpdate, payload: `{"bids":[]}`}},
		},
		{
			name:    "user message",
			payload: `{"kind":"user","userId":"u1","type":"order_filled","payload":{"orderId":"o1"}}`,
			want:    []delivery{{userID: "u1", eventType: domain.EventOrderFilled, payload: `{"orderId":"o1"}`}},
		},
		{name: "not json", payload: `nope`},
		{name: "unknown kind", payload: `{"kind":"broadcast","type":"x"}`},
		{name: "unknown category", payload: `{"kind":"topic","topic":"weather:today","type":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &recordingDeliverer{}
			sub := &RelaySubscriber{local: local}

			sub.handle(context.Background(), tt.payload)

			assert.Equal(t, tt.want, local.snapshot())
		})
	}
}

func TestRelaySubscriber_HandleDeliveryErrorIsSwallowed(t *testing.T) {
	local := &recordingDeliverer{err: domain.ErrServiceStopped}
	sub := &RelaySubscriber{local: local}

	assert.NotPanics(t, func() {
		sub.handle(context.Background(), `{"kind":"user","userId":"u1","type":"balance_update","payload":{}}`)
	})
	assert.Empty(t, local.snapshot())
}

func TestRelayMessage_Encoding(t *testing.T) {
	msg := RelayMessage{Kind: kindTopic, Topic: "ticker", Type: domain.EventPriceUpdate, Payload: json.RawMessage(`{"price":"1"}`)}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.JSONEq(t, `{"kind":"topic","topic":"ticker","type":"price_update","payload":{"price":"1"}}`, string(data))
}
