package hub

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/simdesk/simdesk/internal/domain"
)

// outboundQueueSize bounds each session's send queue. A session that
// cannot drain this many frames is disconnected rather than back-pressuring
// the engine.
const outboundQueueSize = 256

// session is one websocket connection's actor. The hub enqueues frames;
// the session's writer goroutine drains them.
type session struct {
	hub  *Hub
	conn *websocket.Conn

	mu        sync.RWMutex
	authed    bool
	principal domain.Principal
	subs      map[string]struct{}
	subAll    bool
	lastSeen  time.Time

	out       chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	protocolErrors int
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	return &session{
		hub:      h,
		conn:     conn,
		subs:     make(map[string]struct{}),
		lastSeen: time.Now(),
		out:      make(chan []byte, outboundQueueSize),
		closed:   make(chan struct{}),
	}
}

// enqueue hands a frame to the writer without blocking. Overflow means the
// client cannot keep up; the session is closed so other sessions stay
// unaffected.
func (s *session) enqueue(frame []byte) {
	select {
	case s.out <- frame:
	case <-s.closed:
	default:
		s.hub.log.Warn().Msg("Session outbound queue overflow, disconnecting")
		s.close(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func (s *session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close(code, reason)
		s.hub.removeSession(s)
	})
}

// writeLoop drains the outbound queue onto the wire.
func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		case frame := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (s *session) isAuthed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authed
}

func (s *session) user() (domain.Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal, s.authed
}

// wantsSymbol reports whether the session's subscription set covers a
// symbol.
func (s *session) wantsSymbol(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authed {
		return false
	}
	if s.subAll {
		return true
	}
	_, ok := s.subs[symbol]
	return ok
}

// filterTicks builds the session's sub-batch for one pass.
func (s *session) filterTicks(ticks []domain.Tick) []domain.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.authed {
		return nil
	}
	if s.subAll {
		return ticks
	}
	if len(s.subs) == 0 {
		return nil
	}
	out := make([]domain.Tick, 0, len(s.subs))
	for _, t := range ticks {
		if _, ok := s.subs[t.Symbol]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *session) seenAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// subscribe replaces the subscription set with exactly the requested
// symbols. A prior subscribe_all is cleared; re-subscribing the same
// set is idempotent.
func (s *session) subscribe(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subAll = false
	s.subs = make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		s.subs[sym] = struct{}{}
	}
}

func (s *session) subscribeAll() {
	s.mu.Lock()
	s.subAll = true
	s.mu.Unlock()
}

func (s *session) unsubscribe(symbol string) {
	s.mu.Lock()
	delete(s.subs, symbol)
	s.mu.Unlock()
}

func (s *session) setPrincipal(p domain.Principal) {
	s.mu.Lock()
	s.authed = true
	s.principal = p
	s.mu.Unlock()
}
