package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
)

// connection is the registry's record of one live client.
type connection struct {
	id          uuid.UUID
	transport   domain.Transport
	userID      string
	alive       bool
	topics      map[domain.Topic]struct{}
	connectedAt time.Time
}

// Registry owns the set of live connections and their liveness state.
// It is not safe for concurrent use; the Service serializes access on its loop.
type Registry struct {
	conns    map[uuid.UUID]*connection
	verifier domain.CredentialVerifier
	clock    clockwork.Clock
}

// NewRegistry creates an empty registry. verifier may be nil, in which case
// every credential is rejected and connections stay anonymous.
func NewRegistry(verifier domain.CredentialVerifier, clock clockwork.Clock) *Registry {
	return &Registry{
		conns:    make(map[uuid.UUID]*connection),
		verifier: verifier,
		clock:    clock,
	}
}

// Register stores the transport under a fresh identifier. Connections start alive with no subscriptions.
func (r *Registry) Register(transport domain.Transport) uuid.UUID {
	id := uuid.New()
	r.conns[id] = &connection{
		id:          id,
		transport:   transport,
		alive:       true,
		topics:      make(map[domain.Topic]struct{}),
		connectedAt: r.clock.Now(),
	}
	return id
}

// Authenticate checks credential and attaches the resolved user on success.
// Failure leaves the connection anonymous and is reported only through the return value.
func (r *Registry) Authenticate(ctx context.Context, id uuid.UUID, credential string) bool {
	if _, ok := r.conns[id]; !ok {
		return false
	}
	userID, ok := verifyCredential(ctx, r.verifier, id, credential)
	if !ok {
		return false
	}
	return r.AttachUser(id, userID)
}

// verifyCredential runs the external identity check and records the outcome.
func verifyCredential(ctx context.Context, verifier domain.CredentialVerifier, id uuid.UUID, credential string) (string, bool) {
	if verifier == nil || credential == "" {
		return "", false
	}
	userID, err := verifier.Verify(ctx, credential)
	if err != nil || userID == "" {
		slog.Debug("Credential rejected", "connection_id", id.String(), "error", err)
		metrics.BroadcasterAuthenticationsTotal.WithLabelValues("failure").Inc()
		return "", false
	}
	metrics.BroadcasterAuthenticationsTotal.WithLabelValues("success").Inc()
	return userID, true
}

// AttachUser records userID on the connection. Empty user IDs are ignored.
func (r *Registry) AttachUser(id uuid.UUID, userID string) bool {
	c, ok := r.conns[id]
	if !ok || userID == "" {
		return false
	}
	c.userID = userID
	return true
}

// MarkAlive records a liveness acknowledgment.
func (r *Registry) MarkAlive(id uuid.UUID) {
	if c, ok := r.conns[id]; ok {
		c.alive = true
	}
}

// Sweep closes every connection that has not acknowledged the previous probe and
// returns their identifiers. Survivors have their liveness flag cleared and get a new probe.
// Evicted connections are still registered; the caller removes them.
func (r *Registry) Sweep() []uuid.UUID {
	var evicted []uuid.UUID
	for id, c := range r.conns {
		if !c.alive {
			_ = c.transport.Close()
			evicted = append(evicted, id)
			continue
		}
		c.alive = false
		if err := c.transport.Probe(); err != nil {
			slog.Debug("Liveness probe failed", "connection_id", id.String(), "error", err)
		}
	}
	return evicted
}

// Remove deletes the connection record.
func (r *Registry) Remove(id uuid.UUID) {
	delete(r.conns, id)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// UserID returns the authenticated user of a connection, empty when anonymous or unknown.
func (r *Registry) UserID(id uuid.UUID) string {
	if c, ok := r.conns[id]; ok {
		return c.userID
	}
	return ""
}

// Subscriptions returns a copy of the topics the connection is subscribed to.
func (r *Registry) Subscriptions(id uuid.UUID) []domain.Topic {
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	topics := make([]domain.Topic, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	return topics
}

func (r *Registry) lookup(id uuid.UUID) (*connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// connectionsOfUser returns the connections authenticated as userID.
func (r *Registry) connectionsOfUser(userID string) []*connection {
	if userID == "" {
		return nil
	}
	var out []*connection
	for _, c := range r.conns {
		if c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) all() []*connection {
	out := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
