package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message types (client -> server).
const (
	InboundSubscribe   = "subscribe"
	InboundUnsubscribe = "unsubscribe"
	InboundPing        = "ping"
)

// Outbound control message types (server -> client).
const (
	OutboundConnected    = "connected"
	OutboundSubscribed   = "subscribed"
	OutboundUnsubscribed = "unsubscribed"
	OutboundError        = "error"
	OutboundPong         = "pong"
)

// EventType tags a domain event pushed by a collaborator.
type EventType string

const (
	EventOrderBookUpdate EventType = "orderbook_update"
	EventTradeExecuted   EventType = "trade_executed"
	EventPriceUpdate     EventType = "price_update"
	EventBalanceUpdate   EventType = "balance_update"
	EventOrderUpdate     EventType = "order_update"
	EventOrderFilled     EventType = "order_filled"
)

// InboundMessage is the client envelope. Data is decoded per Type.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TopicRequest is the data of subscribe and unsubscribe messages.
type TopicRequest struct {
	Category Category `json:"category"`
	ScopeKey string   `json:"scopeKey,omitempty"`
}

// Topic validates the request and returns the topic it names.
func (r TopicRequest) Topic() (Topic, error) {
	return NewTopic(r.Category, r.ScopeKey)
}

// OutboundMessage is the server envelope for control messages and domain events alike.
type OutboundMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectedData is sent once per connection right after the handshake.
type ConnectedData struct {
	ConnectionID  string `json:"connectionId"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
}

// TopicAck is the data of subscribed and unsubscribed acknowledgments.
type TopicAck struct {
	Topic    string   `json:"topic"`
	Category Category `json:"category"`
	ScopeKey string   `json:"scopeKey,omitempty"`
}

// ErrorData carries a human-readable reason.
type ErrorData struct {
	Message string `json:"message"`
}

// PongData carries the server time in unix milliseconds.
type PongData struct {
	ServerTime int64 `json:"serverTime"`
}

// DecodeInbound parses a raw client frame. Any failure wraps ErrMalformedMessage.
func DecodeInbound(raw []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return InboundMessage{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// DecodeTopicRequest parses the data of a subscribe or unsubscribe message.
func DecodeTopicRequest(data json.RawMessage) (Topic, error) {
	if len(data) == 0 {
		return Topic{}, fmt.Errorf("%w: missing data", ErrMalformedMessage)
	}
	var req TopicRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return Topic{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return req.Topic()
}

// EncodeOutbound serializes an outbound envelope.
func EncodeOutbound(msgType string, data any, ts time.Time) ([]byte, error) {
	b, err := json.Marshal(OutboundMessage{Type: msgType, Data: data, Timestamp: ts.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msgType, err)
	}
	return b, nil
}
