package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
)

const (
	commandTimeout     = 5 * time.Second
	stopTimeout        = 10 * time.Second
	commandChannelSize = 1024
	shutdownReason     = "server shutting down"
)

// serviceCmd is the command interface for the Service actor.
type serviceCmd interface{ isServiceCmd() }

type baseServiceCmd struct{}

func (baseServiceCmd) isServiceCmd() {}

type connectCmd struct {
	baseServiceCmd
	transport domain.Transport
	userID    string
	reply     chan uuid.UUID
}

type markAliveCmd struct {
	baseServiceCmd
	id uuid.UUID
}

type inboundCmd struct {
	baseServiceCmd
	id   uuid.UUID
	data []byte
}

type removeCmd struct {
	baseServiceCmd
	id uuid.UUID
}

type publishTopicCmd struct {
	baseServiceCmd
	topic domain.Topic
	frame []byte
	reply chan int
}

type publishUserCmd struct {
	baseServiceCmd
	userID string
	frame  []byte
	reply  chan int
}

type statsCmd struct {
	baseServiceCmd
	reply chan Stats
}

type pingCmd struct {
	baseServiceCmd
	reply chan struct{}
}

type stopCmd struct {
	baseServiceCmd
}

// Service is the process-wide broadcast service. It owns a Router and serializes
// every registry and index mutation on a single goroutine, which also runs the heartbeat sweep.
type Service struct {
	cmdCh             chan serviceCmd
	clock             clockwork.Clock
	router            *Router
	verifier          domain.CredentialVerifier
	heartbeatInterval time.Duration
	stopTimeout       time.Duration
	done              chan struct{}
	stopping          chan struct{}
}

// NewService creates and starts a broadcast service.
// verifier resolves connect-time credentials; nil keeps every connection anonymous.
// heartbeatInterval is the liveness sweep period.
func NewService(verifier domain.CredentialVerifier, clock clockwork.Clock, heartbeatInterval time.Duration) *Service {
	registry := NewRegistry(verifier, clock)
	s := &Service{
		cmdCh:             make(chan serviceCmd, commandChannelSize),
		clock:             clock,
		router:            NewRouter(registry, NewIndex(registry), clock),
		verifier:          verifier,
		heartbeatInterval: heartbeatInterval,
		stopTimeout:       stopTimeout,
		done:              make(chan struct{}),
		stopping:          make(chan struct{}),
	}
	go s.run()
	return s
}

// Connect registers transport, authenticates credential off the loop and sends the
// connected message. An invalid or empty credential yields an anonymous connection.
func (s *Service) Connect(ctx context.Context, transport domain.Transport, credential string) (uuid.UUID, error) {
	userID, _ := verifyCredential(ctx, s.verifier, uuid.Nil, credential)
	reply := make(chan uuid.UUID, 1)
	return request(ctx, s, connectCmd{transport: transport, userID: userID, reply: reply}, reply)
}

// MarkAlive records a liveness acknowledgment for the connection.
func (s *Service) MarkAlive(id uuid.UUID) {
	_ = s.enqueue(markAliveCmd{id: id})
}

// HandleMessage queues one client frame for processing. Frames from one connection
// are handled in the order they are queued.
func (s *Service) HandleMessage(id uuid.UUID, data []byte) {
	_ = s.enqueue(inboundCmd{id: id, data: data})
}

// Remove drops the connection and all of its subscriptions.
func (s *Service) Remove(id uuid.UUID) {
	_ = s.enqueue(removeCmd{id: id})
}

// PublishToTopic implements domain.Broadcaster.
func (s *Service) PublishToTopic(ctx context.Context, topic domain.Topic, eventType domain.EventType, payload any) error {
	_, err := s.DeliverToTopic(ctx, topic, eventType, payload)
	return err
}

// PublishToUser implements domain.Broadcaster.
func (s *Service) PublishToUser(ctx context.Context, userID string, eventType domain.EventType, payload any) error {
	_, err := s.DeliverToUser(ctx, userID, eventType, payload)
	return err
}

// DeliverToTopic publishes to the topic's subscribers and returns how many accepted the message.
// The payload is encoded on the caller's goroutine.
func (s *Service) DeliverToTopic(ctx context.Context, topic domain.Topic, eventType domain.EventType, payload any) (int, error) {
	frame, err := encodeEvent(topic, eventType, payload, s.clock.Now())
	if err != nil {
		return 0, err
	}
	reply := make(chan int, 1)
	return request(ctx, s, publishTopicCmd{topic: topic, frame: frame, reply: reply}, reply)
}

// DeliverToUser publishes to the user's connections and returns how many accepted the message.
func (s *Service) DeliverToUser(ctx context.Context, userID string, eventType domain.EventType, payload any) (int, error) {
	frame, err := domain.EncodeOutbound(string(eventType), payload, s.clock.Now())
	if err != nil {
		return 0, err
	}
	reply := make(chan int, 1)
	return request(ctx, s, publishUserCmd{userID: userID, frame: frame, reply: reply}, reply)
}

// Stats returns a snapshot of connection and subscription counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	return request(ctx, s, statsCmd{reply: reply}, reply)
}

// Ping round-trips a no-op command through the loop. Used by readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	_, err := request(ctx, s, pingCmd{reply: reply}, reply)
	return err
}

// Stop closes every connection with a going-away frame and stops the loop.
// Blocks until the loop has exited or the stop timeout is reached. Safe to call more than once.
func (s *Service) Stop() {
	if err := s.enqueue(stopCmd{}); err != nil {
		return
	}

	timeout := s.clock.NewTimer(s.stopTimeout)
	defer timeout.Stop()

	select {
	case <-s.done:
		slog.Info("Broadcast service stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Broadcast service stop timeout exceeded", "timeout", s.stopTimeout)
		metrics.BroadcasterStopTimeoutsTotal.Inc()
	}
}

func (s *Service) enqueue(cmd serviceCmd) error {
	select {
	case <-s.stopping:
		return domain.ErrServiceStopped
	default:
	}

	select {
	case s.cmdCh <- cmd:
		return nil
	case <-s.stopping:
		return domain.ErrServiceStopped
	}
}

// request enqueues cmd and waits for its reply, the caller's context or the command timeout.
func request[T any](ctx context.Context, s *Service, cmd serviceCmd, reply <-chan T) (T, error) {
	var zero T
	if err := s.enqueue(cmd); err != nil {
		return zero, err
	}

	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		return zero, domain.ErrServiceStopped
	case <-timer.Chan():
		return zero, fmt.Errorf("%T timed out after %v", cmd, commandTimeout)
	}
}

func (s *Service) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcast service panic recovered", "panic", r)
			metrics.BroadcasterPanicsTotal.Inc()
			s.markStopping()
			s.router.CloseAll(websocket.CloseInternalServerErr, "internal error")
		}
	}()

	heartbeat := s.clock.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	depthTicker := s.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(s.cmdCh)
			metrics.BroadcasterCommandChannelDepth.Set(float64(depth))
			if depth > commandChannelSize*4/5 {
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(s.cmdCh))
			}

		case <-heartbeat.Chan():
			s.router.Sweep()

		case cmd := <-s.cmdCh:
			if stop := s.handle(cmd); stop {
				return
			}
		}
	}
}

func (s *Service) handle(cmd serviceCmd) bool {
	switch c := cmd.(type) {
	case connectCmd:
		c.reply <- s.router.connectAs(c.transport, c.userID)
	case markAliveCmd:
		s.router.MarkAlive(c.id)
	case inboundCmd:
		s.router.HandleInbound(c.id, c.data)
	case removeCmd:
		s.router.Disconnect(c.id)
	case publishTopicCmd:
		c.reply <- s.router.deliverToTopic(c.topic, c.frame)
	case publishUserCmd:
		c.reply <- s.router.deliverToUser(c.userID, c.frame)
	case statsCmd:
		c.reply <- s.router.Stats()
	case pingCmd:
		c.reply <- struct{}{}
	case stopCmd:
		s.markStopping()
		closed := s.router.CloseAll(websocket.CloseGoingAway, shutdownReason)
		slog.Info("Broadcast service shutdown complete", "disconnected_clients", closed)
		return true
	default:
		slog.Warn("Broadcast service received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
	}
	return false
}

func (s *Service) markStopping() {
	select {
	case <-s.stopping:
	default:
		close(s.stopping)
	}
}
