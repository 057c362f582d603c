package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AgentID identifies a seat in a room. The zero value is reserved for
// anonymous spectators.
type AgentID uint16

// MemberState describes the connection state of a seat or spectator.
type MemberState int32

const (
	// StateFree: the seat exists but no socket is attached.
	StateFree MemberState = iota
	// StateConnecting: a socket has been attached and the WebSocket
	// handshake is in progress.
	StateConnecting
	// StateConnected: the handshake completed and both pumps run.
	StateConnected
	// StateClosed: the socket is gone for good. Seats never stay here,
	// they revert to StateFree; spectators end here.
	StateClosed
)

func (s MemberState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// writeWait bounds a single message write to the peer.
	writeWait = 10 * time.Second
	// pongWait is how long the peer may stay silent before the read side
	// gives up. Pings go out at pingPeriod, which must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	outboxSize = 64
	inboxSize  = 16
)

// wire bundles everything scoped to one physical connection: the
// WebSocket, the outbound buffer, and the close signal. Pumps hold their
// own reference to the wire so a member can be reclaimed by a new
// connection while an old wire is still draining; the stale pumps find
// out and exit without touching the new connection's state.
type wire struct {
	ws      *websocket.Conn
	outbox  chan []byte
	closing chan struct{}

	closeOnce sync.Once
}

func (w *wire) shutdown() {
	w.closeOnce.Do(func() { close(w.closing) })
}

// Member is a room endpoint: a seat (nonzero agent id, persistent,
// reclaimable) or an anonymous spectator (id 0, transient). The room
// never hands out ownership of a member's socket; all interaction goes
// through Send, Receive, and Interrupt.
type Member struct {
	id     AgentID
	room   *Room
	logger *slog.Logger

	// inbox carries the peer's messages to the game goroutine. It is
	// created once per seat and survives reconnects.
	inbox chan []byte

	// interrupt is closed exactly once, by Interrupt.
	interrupt chan struct{}
	intOnce   sync.Once

	mu    sync.Mutex
	state MemberState
	wire  *wire
}

func newMember(r *Room, id AgentID) *Member {
	m := &Member{
		id:        id,
		room:      r,
		logger:    r.logger.With("agent", uint16(id)),
		interrupt: make(chan struct{}),
	}
	if id != 0 {
		m.inbox = make(chan []byte, inboxSize)
	}
	return m
}

// ID returns the member's agent id; 0 means anonymous spectator.
func (m *Member) ID() AgentID {
	return m.id
}

// State returns the member's current connection state.
func (m *Member) State() MemberState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// claim reserves the member for an incoming connection. For seats it is
// the claiming protocol: at most one live socket at a time, and only a
// FREE seat can be taken. The caller is expected to serialize claims
// (the server runs them on its event loop).
func (m *Member) claim() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFree {
		return ErrSeatClaimed
	}
	m.wire = &wire{
		outbox:  make(chan []byte, outboxSize),
		closing: make(chan struct{}),
	}
	m.state = StateConnecting
	return nil
}

// Connect attaches the upgraded WebSocket, starts the I/O pumps, and
// announces the member to its room. Called once per claim, after the
// handshake succeeded.
func (m *Member) Connect(ws *websocket.Conn) {
	m.mu.Lock()
	w := m.wire
	w.ws = ws
	m.state = StateConnected
	m.mu.Unlock()

	go m.writePump(w)
	go m.readPump(w)

	m.room.OnConnect(m)
}

// AbortClaim releases a reservation whose handshake failed. The seat
// returns to FREE; an anonymous spectator is finished.
func (m *Member) AbortClaim() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wire = nil
	if m.id == 0 {
		m.state = StateClosed
	} else {
		m.state = StateFree
	}
}

// Send queues msg for delivery to the peer. A member without a live
// socket drops the message silently; there is no queuing or replay
// across reconnects. Safe to call from any goroutine.
func (m *Member) Send(msg []byte) {
	m.mu.Lock()
	w := m.wire
	m.mu.Unlock()
	if w == nil {
		return
	}
	select {
	case w.outbox <- msg:
	default:
		m.logger.Warn("outbox full, dropping message")
	}
}

// Receive returns the next message the peer sent. It is meant for the
// game goroutine: it blocks across disconnects (the seat stays
// reclaimable and messages resume after a re-claim) and fails only when
// ctx is done or the member is interrupted.
func (m *Member) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-m.inbox:
		return msg, nil
	case <-m.interrupt:
		return nil, ErrInterrupted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Interrupt tells the member to terminate as soon as possible. It is
// idempotent, asynchronous, and safe from any goroutine: the write pump
// sends a close frame and tears the socket down, and pending Receive
// calls unblock with ErrInterrupted.
func (m *Member) Interrupt() {
	m.intOnce.Do(func() { close(m.interrupt) })
	m.mu.Lock()
	w := m.wire
	m.mu.Unlock()
	if w != nil {
		w.shutdown()
	}
}

func (m *Member) writePump(w *wire) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-w.outbox:
			w.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				w.shutdown()
				w.ws.Close()
				return
			}
		case <-ticker.C:
			w.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.shutdown()
				w.ws.Close()
				return
			}
		case <-w.closing:
			w.ws.SetWriteDeadline(time.Now().Add(writeWait))
			w.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			w.ws.Close()
			return
		}
	}
}

func (m *Member) readPump(w *wire) {
	defer m.dropWire(w)

	w.ws.SetReadLimit(maxMessageSize)
	w.ws.SetReadDeadline(time.Now().Add(pongWait))
	w.ws.SetPongHandler(func(string) error {
		w.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := w.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				m.logger.Debug("read error", "error", err)
			}
			return
		}
		if m.inbox == nil {
			continue
		}
		select {
		case m.inbox <- msg:
		default:
			m.logger.Warn("inbox full, dropping message")
		}
	}
}

// dropWire finishes one connection's life: it stops the write pump,
// detaches the wire if it is still current, and reports the member afk
// to the room. A seat reverts to FREE with no residual connection state;
// a spectator is removed for good.
func (m *Member) dropWire(w *wire) {
	w.shutdown()
	w.ws.Close()

	m.mu.Lock()
	current := m.wire == w
	if current {
		m.wire = nil
		if m.id == 0 {
			m.state = StateClosed
		} else {
			m.state = StateFree
		}
	}
	m.mu.Unlock()

	if current {
		m.room.ReportAfk(m)
	}
}
