package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/auth"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/broadcast"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/config"
)

const readTimeout = 2 * time.Second

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsFixture struct {
	service  *broadcast.Service
	verifier *auth.JWTVerifier
	server   *httptest.Server
}

func newWSFixture(t *testing.T, mutate func(*config.Config)) *wsFixture {
	t.Helper()

	clock := clockwork.NewRealClock()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	verifier := auth.NewJWTVerifier(cfg.JWTSecret, clock)
	service := broadcast.NewService(verifier, clock, cfg.HeartbeatInterval)
	t.Cleanup(service.Stop)

	srv := NewServer(cfg, clock, service, service, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &wsFixture{service: service, verifier: verifier, server: ts}
}

func (f *wsFixture) url(token string) string {
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (f *wsFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	return token
}

// dial connects and consumes the connected message.
func (f *wsFixture) dial(t *testing.T, token string) (*websocket.Conn, envelope) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.url(token), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	connected := readEnvelope(t, conn)
	require.Equal(t, "connected", connected.Type)
	return conn, connected
}

func (f *wsFixture) publish(t *testing.T, path string, body any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, jsonBody(t, body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestWebSocket_ConnectedMessage(t *testing.T) {
	f := newWSFixture(t, nil)

	t.Run("authenticated", func(t *testing.T) {
		_, connected := f.dial(t, f.token(t, "u1"))

		var data map[string]any
		require.NoError(t, json.Unmarshal(connected.Data, &data))
		assert.Equal(t, true, data["authenticated"])
		assert.Equal(t, "u1", data["userId"])
		assert.NotEmpty(t, data["connectionId"])
	})

	t.Run("invalid token stays anonymous", func(t *testing.T) {
		_, connected := f.dial(t, "not-a-jwt")

		var data map[string]any
		require.NoError(t, json.Unmarshal(connected.Data, &data))
		assert.Equal(t, false, data["authenticated"])
		assert.NotContains(t, data, "userId")
	})

	t.Run("bearer header", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer " + f.token(t, "u2")}}
		conn, resp, err := websocket.DefaultDialer.Dial(f.url(""), header)
		require.NoError(t, err)
		_ = resp.Body.Close()
		defer func() { _ = conn.Close() }()

		connected := readEnvelope(t, conn)
		assert.Contains(t, string(connected.Data), `"userId":"u2"`)
	})
}

func TestWebSocket_SubscribeAndPublishTopic(t *testing.T) {
	f := newWSFixture(t, nil)
	subscriber, _ := f.dial(t, "")
	bystander, _ := f.dial(t, "")

	sendJSON(t, subscriber, map[string]any{
		"type": "subscribe",
		"data": map[string]any{"category": "orderbook", "scopeKey": "PAIR1"},
	})
	ack := readEnvelope(t, subscriber)
	require.Equal(t, "subscribed", ack.Type)
	assert.Contains(t, string(ack.Data), `"topic":"orderbook:PAIR1"`)

	f.publish(t, "/api/publish/topic", map[string]any{
		"category": "orderbook",
		"scopeKey": "PAIR1",
		"type":     "orderbook_update",
		"payload":  map[string]any{"bids": []any{[]any{"1.0", "2"}}, "asks": []any{}},
	})

	event := readEnvelope(t, subscriber)
	assert.Equal(t, "orderbook_update", event.Type)
	assert.JSONEq(t, `{"bids":[["1.0","2"]],"asks":[]}`, string(event.Data))

	// The bystander gets nothing but the pong it asks for.
	sendJSON(t, bystander, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", readEnvelope(t, bystander).Type)
}

func TestWebSocket_PrivateTopicAuthorization(t *testing.T) {
	f := newWSFixture(t, nil)
	owner, _ := f.dial(t, f.token(t, "u1"))
	anonymous, _ := f.dial(t, "")
	other, _ := f.dial(t, f.token(t, "u2"))

	request := map[string]any{
		"type": "subscribe",
		"data": map[string]any{"category": "balance", "scopeKey": "u1"},
	}

	sendJSON(t, owner, request)
	assert.Equal(t, "subscribed", readEnvelope(t, owner).Type)

	sendJSON(t, anonymous, request)
	assert.Equal(t, "error", readEnvelope(t, anonymous).Type)

	sendJSON(t, other, request)
	assert.Equal(t, "error", readEnvelope(t, other).Type)
}

func TestWebSocket_PublishToUserReachesEverySession(t *testing.T) {
	f := newWSFixture(t, nil)
	a, _ := f.dial(t, f.token(t, "u1"))
	b, _ := f.dial(t, f.token(t, "u1"))
	c, _ := f.dial(t, f.token(t, "u2"))

	f.publish(t, "/api/publish/user", map[string]any{
		"userId":  "u1",
		"type":    "order_filled",
		"payload": map[string]any{"orderId": "o1"},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		event := readEnvelope(t, conn)
		assert.Equal(t, "order_filled", event.Type)
		assert.JSONEq(t, `{"orderId":"o1"}`, string(event.Data))
	}

	sendJSON(t, c, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", readEnvelope(t, c).Type)
}

func TestWebSocket_UnknownMessageKeepsConnection(t *testing.T) {
	f := newWSFixture(t, nil)
	conn, _ := f.dial(t, "")

	sendJSON(t, conn, map[string]any{"type": "frobnicate"})
	assert.Equal(t, "error", readEnvelope(t, conn).Type)

	sendJSON(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", readEnvelope(t, conn).Type)
}

func TestWebSocket_ClientMessageRateLimit(t *testing.T) {
	f := newWSFixture(t, func(cfg *config.Config) {
		cfg.ClientMessageRate = 0.001
		cfg.ClientMessageBurst = 1
	})
	conn, _ := f.dial(t, "")

	sendJSON(t, conn, map[string]any{"type": "ping"})
	sendJSON(t, conn, map[string]any{"type": "ping"})

	// The pong goes through the hub and the rejection is written by the reader,
	// so their relative order is not fixed.
	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	assert.ElementsMatch(t, []string{"pong", "error"}, []string{first.Type, second.Type})

	for _, env := range []envelope{first, second} {
		if env.Type == "error" {
			assert.Contains(t, string(env.Data), rateLimitedReason)
		}
	}
}

func TestWebSocket_OversizedFrameClosesConnection(t *testing.T) {
	f := newWSFixture(t, func(cfg *config.Config) {
		cfg.MaxMessageBytes = 64
	})
	conn, _ := f.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 512))))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "got %v", err)

	assert.Eventually(t, func() bool {
		stats, err := f.service.Stats(t.Context())
		return err == nil && stats.ConnectionCount == 0
	}, readTimeout, 10*time.Millisecond)
}

func TestWebSocket_PerIPLimit(t *testing.T) {
	f := newWSFixture(t, func(cfg *config.Config) {
		cfg.MaxConnectionsPerIP = 1
	})
	f.dial(t, "")

	_, resp, err := websocket.DefaultDialer.Dial(f.url(""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocket_ForeignOriginRejected(t *testing.T) {
	f := newWSFixture(t, nil)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url(""), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocket_CloseRemovesConnection(t *testing.T) {
	f := newWSFixture(t, nil)
	conn, _ := f.dial(t, "")

	sendJSON(t, conn, map[string]any{
		"type": "subscribe",
		"data": map[string]any{"category": "trades", "scopeKey": "PAIR1"},
	})
	require.Equal(t, "subscribed", readEnvelope(t, conn).Type)

	stats, err := f.service.Stats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConnectionCount)
	assert.Equal(t, 1, stats.PerTopicSubscriberCounts["trades:PAIR1"])

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		stats, err := f.service.Stats(t.Context())
		return err == nil && stats.ConnectionCount == 0 && len(stats.PerTopicSubscriberCounts) == 0
	}, readTimeout, 10*time.Millisecond)
}

func TestWebSocket_StatsEndpoint(t *testing.T) {
	f := newWSFixture(t, nil)
	f.dial(t, "")

	resp, err := http.Get(f.server.URL + "/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats broadcast.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ConnectionCount)
}

func TestWebSocket_ShutdownSendsGoingAway(t *testing.T) {
	f := newWSFixture(t, nil)
	conn, _ := f.dial(t, "")

	f.service.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
