package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
)

type stubVerifier struct{}

func (stubVerifier) Verify(token string) (domain.Principal, error) {
	if token != "good-token" {
		return domain.Principal{}, domain.ErrUnauthorized
	}
	return domain.Principal{UserID: 7, Username: "alice", Role: "trader"}, nil
}

type stubPortfolio struct{}

func (stubPortfolio) Portfolio(userID int64) (float64, []domain.Position, []domain.Order, error) {
	return 12_345.67, nil, nil, nil
}

func newTestHub(t *testing.T) (*Hub, *events.Bus) {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	h := New(stubVerifier{}, stubPortfolio{}, bus, Config{HeartbeatInterval: time.Minute}, zerolog.Nop())
	h.Start()
	t.Cleanup(h.Stop)
	return h, bus
}

// dialTestHub connects a client and consumes the initial connected frame.
func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.Handler))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	frame := readFrame(t, conn)
	require.Equal(t, "connected", frame["type"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestAuthFlow(t *testing.T) {
	h, _ := newTestHub(t)
	conn := dialTestHub(t, h)

	writeFrame(t, conn, map[string]string{"type": "auth", "token": "bogus"})
	frame := readFrame(t, conn)
	assert.Equal(t, "auth_error", frame["type"])

	writeFrame(t, conn, map[string]string{"type": "auth", "token": "good-token"})
	frame = readFrame(t, conn)
	require.Equal(t, "authenticated", frame["type"])
	assert.Equal(t, "alice", frame["username"])

	frame = readFrame(t, conn)
	require.Equal(t, "portfolio", frame["type"], "a snapshot follows authentication")
	assert.InDelta(t, 12_345.67, frame["cash"].(float64), 1e-6)
	assert.Equal(t, 1, h.SessionCount())
}

func TestTickBroadcastAfterAuth(t *testing.T) {
	h, bus := newTestHub(t)
	conn := dialTestHub(t, h)

	writeFrame(t, conn, map[string]string{"type": "auth", "token": "good-token"})
	readFrame(t, conn) // authenticated
	readFrame(t, conn) // portfolio

	// Auth subscribes to everything, so the whole batch comes through.
	bus.Emit(&events.TickBatchData{
		Ticks: []domain.Tick{{Symbol: "ACME", Price: 101.5}, {Symbol: "GLD", Price: 2001}},
		Pass:  1,
	})

	frame := readFrame(t, conn)
	require.Equal(t, "ticks", frame["type"])
	assert.Len(t, frame["data"], 2)
}

func TestSubscribeNarrowsBlanketSubscription(t *testing.T) {
	h, bus := newTestHub(t)
	conn := dialTestHub(t, h)

	writeFrame(t, conn, map[string]string{"type": "auth", "token": "good-token"})
	readFrame(t, conn)
	readFrame(t, conn)

	// A subscribe frame replaces the subscribe-all the auth set up.
	writeFrame(t, conn, map[string]interface{}{"type": "subscribe", "tickers": []string{"GLD"}})

	// The pong fences: once it arrives the subscribe was processed.
	writeFrame(t, conn, map[string]string{"type": "ping"})
	frame := readFrame(t, conn)
	require.Equal(t, "pong", frame["type"])

	bus.Emit(&events.TickBatchData{
		Ticks: []domain.Tick{{Symbol: "ACME", Price: 101.5}, {Symbol: "GLD", Price: 2001}},
		Pass:  2,
	})

	frame = readFrame(t, conn)
	require.Equal(t, "ticks", frame["type"])
	data := frame["data"].([]interface{})
	require.Len(t, data, 1)
	tick := data[0].(map[string]interface{})
	assert.Equal(t, "GLD", tick["ticker"])
}

func TestSubscribeReplacesSet(t *testing.T) {
	h, _ := newTestHub(t)
	s := newSession(h, nil)
	s.setPrincipal(domain.Principal{UserID: 1, Username: "u"})
	ticks := []domain.Tick{{Symbol: "ACME"}, {Symbol: "GLD"}, {Symbol: "BTCX"}}

	s.subscribeAll()
	require.Len(t, s.filterTicks(ticks), 3)

	s.subscribe([]string{"ACME"})
	got := s.filterTicks(ticks)
	require.Len(t, got, 1, "subscribe clears the blanket subscription")
	assert.Equal(t, "ACME", got[0].Symbol)

	s.subscribe([]string{"GLD", "BTCX"})
	got = s.filterTicks(ticks)
	require.Len(t, got, 2, "each subscribe replaces the prior set")
	assert.False(t, s.wantsSymbol("ACME"))
}

func TestInboundFrameUsesTickerFields(t *testing.T) {
	var sub inboundFrame
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"subscribe","tickers":["ACME","GLD"]}`), &sub))
	assert.Equal(t, []string{"ACME", "GLD"}, sub.Symbols)

	var unsub inboundFrame
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"unsubscribe","ticker":"ACME"}`), &unsub))
	assert.Equal(t, "ACME", unsub.Symbol)
}

func TestUnauthedSessionsReceiveNothing(t *testing.T) {
	h, bus := newTestHub(t)
	conn := dialTestHub(t, h)

	bus.Emit(&events.TickBatchData{Ticks: []domain.Tick{{Symbol: "ACME", Price: 100}}, Pass: 1})
	bus.Emit(&events.NewsData{Event: domain.NewsEvent{ID: "n1", Headline: "Acme beats"}})

	// The ping round-trip proves nothing else was queued ahead of it.
	writeFrame(t, conn, map[string]string{"type": "ping"})
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame["type"])
	assert.Equal(t, 1, h.SessionCount())
}

func TestFillRoutedToItsOwner(t *testing.T) {
	h, bus := newTestHub(t)
	conn := dialTestHub(t, h)

	writeFrame(t, conn, map[string]string{"type": "auth", "token": "good-token"})
	readFrame(t, conn)
	readFrame(t, conn)

	bus.Emit(&events.FillData{UserID: 99, OrderID: "other", Symbol: "ACME"})
	bus.Emit(&events.FillData{UserID: 7, OrderID: "mine", Symbol: "ACME", Qty: 10, Price: 100.5})

	frame := readFrame(t, conn)
	require.Equal(t, "fill", frame["type"], "another user's fill is never delivered here")
	assert.Equal(t, "mine", frame["orderId"])
}

func TestRepeatedProtocolErrorsCloseSession(t *testing.T) {
	h, _ := newTestHub(t)
	conn := dialTestHub(t, h)

	for i := 0; i < 3; i++ {
		writeFrame(t, conn, map[string]string{"type": "nonsense"})
		frame := readFrame(t, conn)
		assert.Equal(t, "error", frame["type"])
	}

	require.Eventually(t, func() bool { return h.SessionCount() == 0 },
		2*time.Second, 10*time.Millisecond, "three strikes disconnects")
}

func TestSweepStaleClosesSilentSessions(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	h := New(stubVerifier{}, stubPortfolio{}, bus, Config{HeartbeatInterval: 10 * time.Millisecond}, zerolog.Nop())
	h.Start()
	t.Cleanup(h.Stop)
	assert.Equal(t, "hub-heartbeat", h.Name())

	conn := dialTestHub(t, h)
	_ = conn

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.Run())
	require.Eventually(t, func() bool { return h.SessionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestFilterTicks(t *testing.T) {
	h, _ := newTestHub(t)
	s := newSession(h, nil)
	ticks := []domain.Tick{{Symbol: "ACME"}, {Symbol: "GLD"}}

	assert.Nil(t, s.filterTicks(ticks), "unauthenticated sessions get nothing")

	s.setPrincipal(domain.Principal{UserID: 1, Username: "u"})
	assert.Nil(t, s.filterTicks(ticks), "authenticated but not subscribed")

	s.subscribe([]string{"GLD"})
	got := s.filterTicks(ticks)
	require.Len(t, got, 1)
	assert.Equal(t, "GLD", got[0].Symbol)
	assert.True(t, s.wantsSymbol("GLD"))
	assert.False(t, s.wantsSymbol("ACME"))

	s.subscribeAll()
	assert.Len(t, s.filterTicks(ticks), 2)

	s.unsubscribe("GLD")
	assert.True(t, s.wantsSymbol("GLD"), "subscribe_all overrides the per-symbol set")
}

func TestEnqueueOverflowDisconnects(t *testing.T) {
	h, _ := newTestHub(t)

	// The handler registers the session but never starts a writer, so the
	// queue has no consumer and must overflow at its bound.
	flooded := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		s := newSession(h, conn)
		h.mu.Lock()
		h.sessions[s] = struct{}{}
		h.mu.Unlock()

		for i := 0; i <= outboundQueueSize+1; i++ {
			s.enqueue([]byte(fmt.Sprintf(`{"type":"noop","n":%d}`, i)))
		}
		close(flooded)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	<-flooded
	assert.Equal(t, 0, h.SessionCount(), "a slow consumer is dropped, not buffered forever")
}
