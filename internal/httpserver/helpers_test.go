package httpserver

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/broadcast"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/config"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/redis"
)

const (
	testAPIKey    = "publish-key-0123456789"
	testJWTSecret = "jwt-secret-0123456789"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		AppURL:                  "https://app.songiq.test",
		JWTSecret:               testJWTSecret,
		PublishAPIKey:           testAPIKey,
		RedisChannel:            "songiq:events",
		HeartbeatInterval:       30 * time.Second,
		SendBufferSize:          16,
		MaxMessageBytes:         4096,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		ConnectionRate:          100,
		ConnectionBurst:         100,
		ClientMessageRate:       100,
		ClientMessageBurst:      100,
	}
}

// fakeHub is a broadcastService for handler unit tests.
type fakeHub struct {
	stats    broadcast.Stats
	statsErr error
	calls    int
	mu       sync.Mutex
}

func (h *fakeHub) Connect(_ context.Context, _ domain.Transport, _ string) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (h *fakeHub) MarkAlive(uuid.UUID)             {}
func (h *fakeHub) HandleMessage(uuid.UUID, []byte) {}
func (h *fakeHub) Remove(uuid.UUID)                {}

func (h *fakeHub) Stats(context.Context) (broadcast.Stats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.stats, h.statsErr
}

// fakeDirectory is an instanceDirectory with fixed content.
type fakeDirectory struct {
	instances []redis.InstanceInfo
	err       error
}

func (d *fakeDirectory) ActiveInstances(context.Context) ([]redis.InstanceInfo, error) {
	return d.instances, d.err
}

type publishedEvent struct {
	Topic     domain.Topic
	UserID    string
	EventType domain.EventType
	Payload   any
}

// recordingPublisher captures publish calls. err, when set, is returned instead.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishToTopic(_ context.Context, topic domain.Topic, eventType domain.EventType, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Topic: topic, EventType: eventType, Payload: payload})
	return nil
}

func (p *recordingPublisher) PublishToUser(_ context.Context, userID string, eventType domain.EventType, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{UserID: userID, EventType: eventType, Payload: payload})
	return nil
}

func (p *recordingPublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

type serverOption func(*serverDeps)

type serverDeps struct {
	cfg          *config.Config
	clock        clockwork.Clock
	hub          broadcastService
	publisher    domain.Broadcaster
	instances    instanceDirectory
	healthChecks []HealthCheck
}

func withHub(hub broadcastService) serverOption {
	return func(d *serverDeps) { d.hub = hub }
}

func withPublisher(p domain.Broadcaster) serverOption {
	return func(d *serverDeps) { d.publisher = p }
}

func withInstances(dir instanceDirectory) serverOption {
	return func(d *serverDeps) { d.instances = dir }
}

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(d *serverDeps) { d.healthChecks = checks }
}

func withConfig(mutate func(*config.Config)) serverOption {
	return func(d *serverDeps) { mutate(d.cfg) }
}

func newTestServer(t *testing.T, opts ...serverOption) *Server {
	t.Helper()

	deps := &serverDeps{
		cfg:       testConfig(),
		clock:     clockwork.NewRealClock(),
		hub:       &fakeHub{},
		publisher: &recordingPublisher{},
	}
	for _, opt := range opts {
		opt(deps)
	}
	return NewServer(deps.cfg, deps.clock, deps.hub, deps.publisher, deps.instances, deps.healthChecks)
}

func jsonBody(t *testing.T, v any) *strings.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return strings.NewReader(string(b))
}
