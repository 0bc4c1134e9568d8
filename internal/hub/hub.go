// Package hub is the websocket broadcast layer: authenticated sessions,
// per-connection subscription sets, batched tick delivery and heartbeat
// enforcement. It consumes bus events and never calls back into the
// engine or matcher.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/internal/events"
	"github.com/simdesk/simdesk/pkg/logger"
)

// TokenVerifier authenticates session tokens. Implemented by internal/auth.
type TokenVerifier interface {
	Verify(token string) (domain.Principal, error)
}

// PortfolioProvider builds the snapshot pushed right after authentication.
type PortfolioProvider interface {
	Portfolio(userID int64) (cash float64, positions []domain.Position, openOrders []domain.Order, err error)
}

// Config holds hub construction parameters.
type Config struct {
	HeartbeatInterval time.Duration
}

// Hub fans bus events out to websocket sessions.
type Hub struct {
	cfg       Config
	verifier  TokenVerifier
	portfolio PortfolioProvider
	bus       *events.Bus
	log       zerolog.Logger

	mu       sync.RWMutex
	sessions map[*session]struct{}

	unsubs []events.Unsubscribe
}

// New creates a hub. Call Start to attach it to the bus.
func New(verifier TokenVerifier, portfolio PortfolioProvider, bus *events.Bus, cfg Config, log zerolog.Logger) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Hub{
		cfg:       cfg,
		verifier:  verifier,
		portfolio: portfolio,
		bus:       bus,
		log:       logger.Component(log, "hub"),
		sessions:  make(map[*session]struct{}),
	}
}

// Start subscribes the hub to every event it relays.
func (h *Hub) Start() {
	h.unsubs = append(h.unsubs,
		h.bus.Subscribe(events.TickBatchEmitted, h.onTickBatch),
		h.bus.Subscribe(events.OrderFilled, h.onFill),
		h.bus.Subscribe(events.MarginCall, h.onMarginCall),
		h.bus.Subscribe(events.NewsPublished, h.onNews),
		h.bus.Subscribe(events.OrderbookReady, h.onOrderbook),
	)
	h.log.Info().Msg("Broadcast hub started")
}

// Stop detaches from the bus and closes every session.
func (h *Hub) Stop() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil

	h.mu.RLock()
	open := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.mu.RUnlock()
	for _, s := range open {
		s.close(websocket.StatusGoingAway, "server shutdown")
	}
	h.log.Info().Msg("Broadcast hub stopped")
}

// Handler is the /ws endpoint.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin enforcement is the CORS layer's job
	})
	if err != nil {
		h.log.Debug().Err(err).Msg("Websocket accept failed")
		return
	}

	s := newSession(h, conn)
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	s.enqueue(mustJSON(connectedFrame{Type: "connected"}))

	ctx := r.Context()
	go s.writeLoop(ctx)
	h.readLoop(ctx, s)
}

func (h *Hub) removeSession(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// SessionCount reports connected sessions for the system endpoint.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// readLoop processes inbound frames until the connection drops.
func (h *Hub) readLoop(ctx context.Context, s *session) {
	defer s.close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		s.touch()

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if h.protocolError(s, "malformed frame") {
				return
			}
			continue
		}

		switch frame.Type {
		case "auth":
			h.handleAuth(s, frame.Token)
		case "subscribe":
			if s.isAuthed() {
				s.subscribe(frame.Symbols)
			}
		case "subscribe_all":
			if s.isAuthed() {
				s.subscribeAll()
			}
		case "unsubscribe":
			if s.isAuthed() {
				s.unsubscribe(frame.Symbol)
			}
		case "ping":
			s.enqueue(mustJSON(pongFrame{Type: "pong", Timestamp: time.Now().UnixMilli()}))
		default:
			if h.protocolError(s, "unknown frame type") {
				return
			}
		}
	}
}

// protocolError replies with an error frame; three strikes closes the
// session. Reports whether the session was closed.
func (h *Hub) protocolError(s *session, msg string) bool {
	s.protocolErrors++
	s.enqueue(mustJSON(errorFrame{Type: "error", Message: msg}))
	if s.protocolErrors >= 3 {
		s.close(websocket.StatusProtocolError, "repeated protocol errors")
		return true
	}
	return false
}

func (h *Hub) handleAuth(s *session, token string) {
	principal, err := h.verifier.Verify(token)
	if err != nil {
		s.enqueue(mustJSON(authErrorFrame{Type: "auth_error", Message: "invalid token"}))
		return
	}
	s.setPrincipal(principal)
	s.subscribeAll()
	s.enqueue(mustJSON(authenticatedFrame{Type: "authenticated", Username: principal.Username}))

	cash, positions, openOrders, err := h.portfolio.Portfolio(principal.UserID)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", principal.UserID).Msg("Portfolio snapshot unavailable")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	if openOrders == nil {
		openOrders = []domain.Order{}
	}
	s.enqueue(mustJSON(portfolioFrame{
		Type:       "portfolio",
		Cash:       cash,
		Positions:  positions,
		OpenOrders: openOrders,
	}))
}

// onTickBatch builds one filtered sub-batch per session per pass. One
// message per session, never one per tick.
func (h *Hub) onTickBatch(event *events.Event) {
	batch, ok := event.Data.(*events.TickBatchData)
	if !ok {
		return
	}
	h.eachSession(func(s *session) {
		sub := s.filterTicks(batch.Ticks)
		if len(sub) == 0 {
			return
		}
		s.enqueue(mustJSON(ticksFrame{Type: "ticks", Data: sub}))
	})
}

func (h *Hub) onFill(event *events.Event) {
	d, ok := event.Data.(*events.FillData)
	if !ok {
		return
	}
	frame := mustJSON(fillFrameFrom(d))
	h.eachSession(func(s *session) {
		if p, authed := s.user(); authed && p.UserID == d.UserID {
			s.enqueue(frame)
		}
	})
}

func (h *Hub) onMarginCall(event *events.Event) {
	d, ok := event.Data.(*events.MarginCallData)
	if !ok {
		return
	}
	frame := mustJSON(marginCallFrame{
		Type:   "margin_call",
		Symbol: d.Symbol,
		Qty:    d.Qty,
		Price:  d.Price,
		PnL:    d.PnL,
	})
	h.eachSession(func(s *session) {
		if p, authed := s.user(); authed && p.UserID == d.UserID {
			s.enqueue(frame)
		}
	})
}

func (h *Hub) onNews(event *events.Event) {
	d, ok := event.Data.(*events.NewsData)
	if !ok {
		return
	}
	frame := mustJSON(newsFrame{Type: "news", Data: d.Event})
	h.eachSession(func(s *session) {
		if s.isAuthed() {
			s.enqueue(frame)
		}
	})
}

func (h *Hub) onOrderbook(event *events.Event) {
	d, ok := event.Data.(*events.OrderbookData)
	if !ok {
		return
	}
	frame := mustJSON(orderbookFrame{Type: "orderbook", Data: d.Snapshot})
	h.eachSession(func(s *session) {
		if s.wantsSymbol(d.Symbol) {
			s.enqueue(frame)
		}
	})
}

func (h *Hub) eachSession(fn func(s *session)) {
	h.mu.RLock()
	open := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.mu.RUnlock()
	for _, s := range open {
		fn(s)
	}
}

// SweepStale closes sessions that have missed two heartbeat intervals.
// Runs as a named periodic task.
func (h *Hub) SweepStale() error {
	cutoff := time.Now().Add(-2 * h.cfg.HeartbeatInterval)
	var stale []*session
	h.mu.RLock()
	for s := range h.sessions {
		if s.seenAt().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.log.Debug().Msg("Closing stale session")
		s.close(websocket.StatusPolicyViolation, "heartbeat timeout")
	}
	return nil
}

// Name identifies the heartbeat task.
func (h *Hub) Name() string { return "hub-heartbeat" }

// Run implements the periodic task contract for the heartbeat sweep.
func (h *Hub) Run() error { return h.SweepStale() }
