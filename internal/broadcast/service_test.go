package broadcast

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
)

const testHeartbeat = 30 * time.Second

func newTestService(t *testing.T) (*Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	svc := NewService(defaultVerifier(), clock, testHeartbeat)
	t.Cleanup(svc.Stop)

	// Wait for the heartbeat and depth tickers.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	return svc, clock
}

func mustStats(t *testing.T, svc *Service) Stats {
	t.Helper()
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	return stats
}

func TestService_ConnectAuthenticatesOffLoop(t *testing.T) {
	svc, _ := newTestService(t)
	tr := &fakeTransport{}

	id, err := svc.Connect(context.Background(), tr, "token-u1")
	require.NoError(t, err)

	msgs := tr.messagesOfType(t, domain.OutboundConnected)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Data), id.String())
	assert.Contains(t, string(msgs[0].Data), `"authenticated":true`)
	assert.Equal(t, 1, mustStats(t, svc).ConnectionCount)
}

func TestService_SubscribeAndPublish(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tr := &fakeTransport{}
	id, err := svc.Connect(ctx, tr, "")
	require.NoError(t, err)

	svc.HandleMessage(id, subscribeFrame("trades", "PAIR1"))
	delivered, err := svc.DeliverToTopic(ctx, domain.MustParseTopic("trades:PAIR1"), domain.EventTradeExecuted, map[string]string{"id": "t1"})
	require.NoError(t, err)

	// Commands are processed in order, so the subscription is in place before the publish.
	assert.Equal(t, 1, delivered)
	assert.Len(t, tr.messagesOfType(t, "trade_executed"), 1)
	assert.Equal(t, map[string]int{"trades:PAIR1": 1}, mustStats(t, svc).PerTopicSubscriberCounts)
}

func TestService_PublishPreservesOrderPerSubscriber(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tr := &fakeTransport{}
	id, err := svc.Connect(ctx, tr, "")
	require.NoError(t, err)
	svc.HandleMessage(id, subscribeFrame("ticker", "BTC"))

	topic := domain.MustParseTopic("ticker:BTC")
	for i := range 20 {
		require.NoError(t, svc.PublishToTopic(ctx, topic, domain.EventPriceUpdate, map[string]int{"seq": i}))
	}

	msgs := tr.messagesOfType(t, "price_update")
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		assert.JSONEq(t, `{"seq":`+strconv.Itoa(i)+`}`, string(m.Data))
	}
}

func TestService_PublishToUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, b := &fakeTransport{}, &fakeTransport{}
	_, err := svc.Connect(ctx, a, "token-u1")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, b, "token-u2")
	require.NoError(t, err)

	require.NoError(t, svc.PublishToUser(ctx, "u1", domain.EventBalanceUpdate, map[string]string{"currency": "USD"}))

	assert.Len(t, a.messagesOfType(t, "balance_update"), 1)
	assert.Empty(t, b.messagesOfType(t, "balance_update"))
}

func TestService_HeartbeatEvictsSilentConnection(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	silent, responsive := &fakeTransport{}, &fakeTransport{}
	silentID, err := svc.Connect(ctx, silent, "")
	require.NoError(t, err)
	responsiveID, err := svc.Connect(ctx, responsive, "")
	require.NoError(t, err)
	svc.HandleMessage(silentID, subscribeFrame("orderbook", "PAIR1"))
	svc.HandleMessage(responsiveID, subscribeFrame("orderbook", "PAIR1"))

	clock.Advance(testHeartbeat)
	require.Eventually(t, func() bool { return responsive.probeCount() == 1 }, time.Second, time.Millisecond)

	svc.MarkAlive(responsiveID)
	mustStats(t, svc)

	clock.Advance(testHeartbeat)
	require.Eventually(t, func() bool { return mustStats(t, svc).ConnectionCount == 1 }, time.Second, time.Millisecond)

	assert.True(t, silent.isClosed())
	assert.False(t, responsive.isClosed())
	assert.Equal(t, map[string]int{"orderbook:PAIR1": 1}, mustStats(t, svc).PerTopicSubscriberCounts)
}

func TestService_SilentConnectionSurvivesOneInterval(t *testing.T) {
	svc, clock := newTestService(t)
	silent := &fakeTransport{}
	_, err := svc.Connect(context.Background(), silent, "")
	require.NoError(t, err)

	// One sweep only probes; eviction needs a second sweep with no pong in between.
	clock.Advance(testHeartbeat + time.Second)
	require.Eventually(t, func() bool { return silent.probeCount() == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, mustStats(t, svc).ConnectionCount)
	assert.False(t, silent.isClosed())
}

func TestService_RemoveCleansUp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id, err := svc.Connect(ctx, &fakeTransport{}, "")
	require.NoError(t, err)
	svc.HandleMessage(id, subscribeFrame("ticker", ""))

	svc.Remove(id)
	svc.Remove(id)

	stats := mustStats(t, svc)
	assert.Equal(t, 0, stats.ConnectionCount)
	assert.Empty(t, stats.PerTopicSubscriberCounts)
}

func TestService_Ping(t *testing.T) {
	svc, _ := newTestService(t)
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestService_RequestHonorsContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the reply or the cancellation may win; neither may block.
	_, err := svc.Stats(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestService_StopClosesConnections(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := NewService(nil, clock, testHeartbeat)
	tr := &fakeTransport{}
	_, err := svc.Connect(context.Background(), tr, "")
	require.NoError(t, err)

	svc.Stop()

	assert.True(t, tr.isClosed())
	_, err = svc.Stats(context.Background())
	assert.ErrorIs(t, err, domain.ErrServiceStopped)
	assert.ErrorIs(t, svc.PublishToUser(context.Background(), "u1", domain.EventBalanceUpdate, nil), domain.ErrServiceStopped)
}

func TestService_StopIdempotent(t *testing.T) {
	svc := NewService(nil, clockwork.NewFakeClock(), testHeartbeat)

	svc.Stop()
	assert.NotPanics(t, svc.Stop)
	svc.MarkAlive(uuid.Nil)
	svc.HandleMessage(uuid.Nil, []byte(`{"type":"ping"}`))
}

func TestService_ConcurrentPublishers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tr := &fakeTransport{}
	id, err := svc.Connect(ctx, tr, "")
	require.NoError(t, err)
	svc.HandleMessage(id, subscribeFrame("trades", "PAIR1"))
	mustStats(t, svc)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_ = svc.PublishToTopic(ctx, domain.MustParseTopic("trades:PAIR1"), domain.EventTradeExecuted, nil)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, tr.messagesOfType(t, "trade_executed"), 80)
}
