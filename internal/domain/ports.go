package domain

import "context"

// Transport is the write side of one live client connection.
// Implementations must not block: Send enqueues or fails.
type Transport interface {
	// Send enqueues a text frame. Returns ErrSendBufferFull for a slow consumer
	// and ErrConnectionClosed once the transport is closed.
	Send(data []byte) error
	// Probe sends a transport-level liveness probe (WebSocket ping).
	Probe() error
	// Close forcibly closes the underlying connection. Safe to call more than once.
	Close() error
}

// CredentialVerifier resolves an opaque connect-time credential to a user identifier.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (userID string, err error)
}

// Broadcaster is the publish surface used by domain collaborators
// (order matcher, price feed, account ledger). Delivery is best-effort.
type Broadcaster interface {
	PublishToTopic(ctx context.Context, topic Topic, eventType EventType, payload any) error
	PublishToUser(ctx context.Context, userID string, eventType EventType, payload any) error
}
