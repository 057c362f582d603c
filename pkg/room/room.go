package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// RoomID identifies a live room. Unique among live rooms; assigned by
// the server (auto-incrementing) or supplied by the client on creation.
type RoomID uint16

// Game is the turn-based game a room hosts. Implementations are
// swappable strategies; the room knows nothing about rules or boards.
type Game interface {
	// Seats lists the agent ids that will play. One FREE seat per id is
	// created when the room is built.
	Seats() []AgentID

	// Play runs the game against the room's members until the game ends
	// or ctx is cancelled. It runs on the room's dedicated goroutine and
	// interacts with members only through Broadcast, Send, and Receive.
	Play(ctx context.Context, r *Room) error
}

// Observer receives a room's membership and fan-out events. The server
// bridges these into its metrics; implementations must be cheap and must
// not call back into the room.
type Observer interface {
	MemberConnected()
	MemberDropped()
	MessageBroadcast()
}

// Room is one isolated game instance's network membership: seats,
// anonymous spectators, message fan-out, and the goroutine running the
// game.
type Room struct {
	id       RoomID
	logger   *slog.Logger
	greeting string
	observer Observer

	// onGameEnd is invoked (off the game goroutine's critical path, but
	// on that goroutine) when the game returns on its own, so the server
	// can schedule the room's deletion.
	onGameEnd func(RoomID)

	mu          sync.Mutex
	seats       map[AgentID]*Member
	spectators  map[*Member]struct{}
	interrupted bool

	cancel   context.CancelFunc
	gameDone chan struct{}
}

// Option configures a Room at construction time.
type Option func(*Room)

// WithGreeting sets the message sent to every member right after it
// connects.
func WithGreeting(msg string) Option {
	return func(r *Room) { r.greeting = msg }
}

// WithLogger sets the room's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Room) { r.logger = l }
}

// WithGameEndCallback registers fn to be called with the room's id when
// the game ends on its own (not when interrupted).
func WithGameEndCallback(fn func(RoomID)) Option {
	return func(r *Room) { r.onGameEnd = fn }
}

// WithObserver registers an observer for membership and broadcast
// events.
func WithObserver(o Observer) Option {
	return func(r *Room) { r.observer = o }
}

// New builds a room, creates one FREE seat per agent the game declares,
// and starts the game goroutine.
func New(id RoomID, game Game, opts ...Option) *Room {
	r := &Room{
		id:         id,
		logger:     slog.Default(),
		greeting:   "Welcome to the room!",
		seats:      make(map[AgentID]*Member),
		spectators: make(map[*Member]struct{}),
		gameDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "room", "room", uint16(id))

	for _, agentID := range game.Seats() {
		r.AddSession(agentID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.runGame(ctx, game)
	return r
}

// ID returns the room's identifier.
func (r *Room) ID() RoomID {
	return r.id
}

// AddSession creates a FREE seat for agentID. Seat creation is a
// one-time setup step performed while the room is built; creating a
// duplicate seat is a violated internal contract and panics.
func (r *Room) AddSession(agentID AgentID) *Member {
	if agentID == 0 {
		panic("room: agent id 0 is reserved for anonymous spectators")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.seats[agentID]; exists {
		panic(fmt.Sprintf("room %d: duplicate seat %d", r.id, agentID))
	}
	m := newMember(r, agentID)
	r.seats[agentID] = m
	return m
}

// AddSpectator reserves room membership for an incoming connection. An
// agent id of 0 always succeeds and creates a new anonymous spectator.
// A nonzero id claims the existing seat: ErrNoSuchSeat if it was never
// created, ErrSeatClaimed if it is not FREE. The socket is attached
// afterwards via Member.Connect, once the handshake completes.
//
// The caller serializes AddSpectator calls (the server runs them on its
// event loop); that is what makes concurrent claims on the same seat
// resolve to exactly one winner.
func (r *Room) AddSpectator(agentID AgentID) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interrupted {
		return nil, ErrRoomClosing
	}
	if agentID == 0 {
		m := newMember(r, 0)
		if err := m.claim(); err != nil {
			return nil, err
		}
		// Not in the spectator set yet; insertion happens in OnConnect
		// once the handshake completed.
		return m, nil
	}
	m, ok := r.seats[agentID]
	if !ok {
		return nil, ErrNoSuchSeat
	}
	if err := m.claim(); err != nil {
		return nil, err
	}
	return m, nil
}

// OnConnect is called once a member's handshake completes. Anonymous
// spectators enter the spectator set at this point; every new member is
// greeted.
func (r *Room) OnConnect(m *Member) {
	r.mu.Lock()
	if m.ID() == 0 {
		r.spectators[m] = struct{}{}
	}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.MemberConnected()
	}
	r.logger.Debug("member joined", "agent", uint16(m.ID()))
	m.Send([]byte(r.greeting))
}

// ReportAfk is called when a member's socket closes. Spectators are
// removed from the room; seats are not (they have already reverted to
// FREE and remain reclaimable).
func (r *Room) ReportAfk(m *Member) {
	r.mu.Lock()
	if m.ID() == 0 {
		delete(r.spectators, m)
	}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.MemberDropped()
	}
	r.logger.Debug("member afk", "agent", uint16(m.ID()))
}

// Broadcast delivers msg to every spectator and every seat present at
// call time, regardless of connection state; a disconnected seat drops
// it silently. The exclusive lock makes delivery order across calls the
// call order. Safe from any goroutine, including the game goroutine.
func (r *Room) Broadcast(msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observer != nil {
		r.observer.MessageBroadcast()
	}
	for m := range r.spectators {
		m.Send(msg)
	}
	for _, m := range r.seats {
		m.Send(msg)
	}
}

// Interrupt signals the game and every member (seats and spectators) to
// terminate as soon as possible. It is idempotent and best-effort: the
// game goroutine observes the cancellation at its next checkpoint. It
// must be called before Close, or Close blocks until the game ends on
// its own.
func (r *Room) Interrupt() {
	r.mu.Lock()
	r.interrupted = true
	members := make([]*Member, 0, len(r.seats)+len(r.spectators))
	for _, m := range r.seats {
		members = append(members, m)
	}
	for m := range r.spectators {
		members = append(members, m)
	}
	r.mu.Unlock()

	r.cancel()
	for _, m := range members {
		m.Interrupt()
	}
}

// Close joins the game goroutine. Deletion of a room is a two-phase
// protocol: Interrupt first, then Close.
func (r *Room) Close() {
	<-r.gameDone
}

// Seat returns the member occupying the given seat id, or nil. Intended
// for the game goroutine, which knows its seat ids from Game.Seats.
func (r *Room) Seat(id AgentID) *Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seats[id]
}

// SpectatorCount returns the number of currently connected anonymous
// spectators.
func (r *Room) SpectatorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spectators)
}

func (r *Room) runGame(ctx context.Context, game Game) {
	defer close(r.gameDone)

	err := game.Play(ctx, r)
	switch {
	case err == nil:
		r.logger.Info("game ended")
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrInterrupted):
		r.logger.Debug("game interrupted")
	default:
		r.logger.Error("game ended with error", "error", err)
	}

	if r.onGameEnd != nil && ctx.Err() == nil {
		r.onGameEnd(r.id)
	}
}
