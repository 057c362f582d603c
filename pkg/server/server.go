package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parlor-dev/parlor/pkg/httpd"
	"github.com/parlor-dev/parlor/pkg/loop"
	"github.com/parlor-dev/parlor/pkg/room"
)

// Sentinel errors for room table operations.
var (
	// ErrRoomExists is returned when creating a room with an id that is
	// already live.
	ErrRoomExists = errors.New("server: room already exists")

	// ErrNoSuchRoom is returned when the requested room is not in the
	// table.
	ErrNoSuchRoom = errors.New("server: no such room")

	// ErrStopping is returned when a request arrives while the event
	// loop is shutting down.
	ErrStopping = errors.New("server: shutting down")

	// ErrTableFull is returned when every assignable room id is live.
	ErrTableFull = errors.New("server: room table full")
)

// Server owns the event loop, the router, and the table of live rooms,
// and bridges HTTP upgrade requests into room membership.
type Server struct {
	cfg      *Config
	logger   *slog.Logger
	loop     *loop.Loop
	listener *loop.Listener
	router   *httpd.Router
	upgrader websocket.Upgrader
	metrics  *Metrics

	// rooms is mutated only from work posted to the loop; the mutex
	// exists so Stop (which runs off-loop) can read it safely.
	roomsMu sync.Mutex
	rooms   map[room.RoomID]*room.Room
	lastID  room.RoomID

	stopOnce sync.Once
}

// New builds a server and binds its listening socket. A failure to bind
// is returned as a *loop.BindError; no other construction step can fail.
func New(cfg *Config) (*Server, error) {
	cfg = withDefaults(cfg)
	logger := cfg.Logger.With("component", "server")

	ln, err := loop.Listen(cfg.Addr, cfg.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		loop:     loop.New(cfg.Logger),
		listener: ln,
		metrics:  NewMetrics(cfg.Registerer),
		rooms:    make(map[room.RoomID]*room.Room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      cfg.CheckOrigin,
		},
	}

	rules := []httpd.Rule{
		httpd.Heartbeat{},
		httpd.RuleFunc(s.handleRoomRequest),
	}
	if cfg.StaticDir != "" {
		rules = append(rules, httpd.NewStaticFiles(cfg.StaticDir, cfg.StaticPrefix))
	}
	s.router = httpd.NewRouter(cfg.Logger, rules...)
	s.router.SetResponseObserver(func(status int) {
		s.metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	})
	if cfg.Tracer != nil {
		s.router.SetTracer(cfg.Tracer)
	}
	return s, nil
}

// Addr returns the bound listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start runs the event loop on the calling goroutine until Stop is
// invoked. The listener accepts on its own goroutine; everything that
// touches the room table is posted back onto the loop.
func (s *Server) Start() {
	s.logger.Info("server started", "addr", s.Addr().String())
	go s.listener.Serve(s.acceptConn)
	s.loop.Run()
}

// Stop interrupts every room, stops the event loop and listener, then
// clears the room table (each removal may block briefly on a game
// goroutine's join). Idempotent and safe from any goroutine.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping server, interrupting rooms")

		s.roomsMu.Lock()
		rooms := s.rooms
		s.rooms = make(map[room.RoomID]*room.Room)
		s.roomsMu.Unlock()

		for _, r := range rooms {
			r.Interrupt()
		}

		s.listener.Close()
		s.loop.Stop()

		for _, r := range rooms {
			r.Close()
		}
		s.metrics.RoomsActive.Set(0)
		s.logger.Info("server stopped")
	})
}

func (s *Server) acceptConn(c net.Conn) {
	s.metrics.ConnectionsAccepted.Inc()
	go httpd.ServeConn(c, s.router, s.cfg.Logger)
}

// AddRoom creates a room with the given id and inserts it in the table.
// Must run on the loop goroutine.
func (s *Server) AddRoom(id room.RoomID) (*room.Room, error) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	if _, exists := s.rooms[id]; exists {
		return nil, ErrRoomExists
	}
	r := room.New(id, s.cfg.GameFactory(id),
		room.WithLogger(s.cfg.Logger),
		room.WithGreeting(s.cfg.Greeting),
		room.WithGameEndCallback(s.AskForRoomDeletion),
		room.WithObserver(roomStats{s.metrics}),
	)
	s.rooms[id] = r
	s.metrics.RoomsCreated.Inc()
	s.metrics.RoomsActive.Inc()
	s.logger.Info("room created", "room", uint16(id))
	return r, nil
}

// AddRoomAuto creates a room with the next free auto-assigned id. It
// returns ErrTableFull when every nonzero id is live, so the scan below
// always terminates. Must run on the loop goroutine.
func (s *Server) AddRoomAuto() (*room.Room, error) {
	s.roomsMu.Lock()
	if len(s.rooms) >= math.MaxUint16 {
		s.roomsMu.Unlock()
		return nil, ErrTableFull
	}
	for {
		s.lastID++
		if s.lastID == 0 {
			continue
		}
		if _, taken := s.rooms[s.lastID]; !taken {
			break
		}
	}
	id := s.lastID
	s.roomsMu.Unlock()

	r, err := s.AddRoom(id)
	if err != nil {
		// The id was free a moment ago and only the loop creates rooms.
		panic(fmt.Sprintf("server: auto-assigned id %d collided: %v", id, err))
	}
	return r, nil
}

// Room returns the live room with the given id, or nil.
func (s *Server) Room(id room.RoomID) *room.Room {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	return s.rooms[id]
}

// RoomIDs returns the ids of all live rooms in ascending order.
func (s *Server) RoomIDs() []room.RoomID {
	s.roomsMu.Lock()
	ids := make([]room.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	s.roomsMu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AskForRoomDeletion schedules a room's teardown. Two work items are
// posted in strict order: first interrupt the room, so a blocking game
// goroutine wakes up; then erase it from the table, which joins that
// goroutine. Deferring the erase onto the loop keeps it from racing an
// in-flight handler that holds a reference into the table. Safe from
// any goroutine, including a room's own game goroutine.
func (s *Server) AskForRoomDeletion(id room.RoomID) {
	s.loop.Post(func() {
		if r := s.Room(id); r != nil {
			r.Interrupt()
		}
	})
	s.loop.Post(func() {
		s.roomsMu.Lock()
		r, ok := s.rooms[id]
		delete(s.rooms, id)
		s.roomsMu.Unlock()
		if !ok {
			return
		}
		r.Close()
		s.metrics.RoomsDeleted.Inc()
		s.metrics.RoomsActive.Dec()
		s.logger.Info("room deleted", "room", uint16(id))
	})
}

// onLoop runs fn on the loop goroutine and waits for it. It reports
// false when the loop shut down before fn could run.
func (s *Server) onLoop(fn func()) bool {
	done := make(chan struct{})
	s.loop.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return true
	case <-s.loop.Done():
		return false
	}
}

// handleRoomRequest is the room-management routing rule: the REST
// endpoints for the room lifecycle plus the WebSocket upgrade path.
func (s *Server) handleRoomRequest(req *http.Request, conn *httpd.ClientConn) bool {
	switch {
	case req.URL.Path == "/room" && req.Method == http.MethodPost:
		var addErr error
		if !s.onLoop(func() { _, addErr = s.AddRoomAuto() }) {
			conn.WriteResponse(req, httpd.ServerError(ErrStopping.Error()))
			return true
		}
		if addErr != nil {
			conn.WriteResponse(req, httpd.ServerError(addErr.Error()))
			return true
		}
		conn.WriteResponse(req, httpd.Empty(http.StatusNoContent))
		return true

	case req.URL.Path == "/room/" && req.Method == http.MethodGet:
		var listing strings.Builder
		if !s.onLoop(func() {
			for _, id := range s.RoomIDs() {
				fmt.Fprintf(&listing, "%d\n", id)
			}
		}) {
			conn.WriteResponse(req, httpd.ServerError(ErrStopping.Error()))
			return true
		}
		conn.WriteResponse(req, httpd.Text(http.StatusOK, listing.String()))
		return true

	case req.Method == http.MethodDelete && strings.HasPrefix(req.URL.Path, "/room/"):
		s.handleRoomDelete(req, conn)
		return true

	case websocket.IsWebSocketUpgrade(req):
		s.handleUpgrade(req, conn)
		return true
	}
	return false
}

func (s *Server) handleRoomDelete(req *http.Request, conn *httpd.ClientConn) {
	raw := strings.TrimPrefix(req.URL.Path, "/room/")
	id64, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		conn.WriteResponse(req, httpd.BadRequest("malformed room id"))
		return
	}
	id := room.RoomID(id64)

	var found bool
	if !s.onLoop(func() {
		if s.Room(id) != nil {
			found = true
			s.AskForRoomDeletion(id)
		}
	}) {
		conn.WriteResponse(req, httpd.ServerError(ErrStopping.Error()))
		return
	}
	if !found {
		conn.WriteResponse(req, httpd.NotFound(req.URL.Path))
		return
	}
	conn.WriteResponse(req, httpd.Empty(http.StatusNoContent))
}

// handleUpgrade bridges a WebSocket upgrade request at /{roomId}/{agentId}
// into room membership. The claim runs on the loop; the handshake runs
// here on the connection goroutine; on success the socket's ownership
// transfers from the ClientConn to the member.
func (s *Server) handleUpgrade(req *http.Request, conn *httpd.ClientConn) {
	roomID, agentID, ok := parseMemberPath(req.URL.Path)
	if !ok {
		conn.WriteResponse(req, httpd.BadRequest("wrong path"))
		return
	}

	var (
		member *room.Member
		err    error
	)
	if !s.onLoop(func() {
		r := s.Room(roomID)
		if r == nil {
			err = ErrNoSuchRoom
			return
		}
		member, err = r.AddSpectator(agentID)
	}) {
		conn.WriteResponse(req, httpd.ServerError(ErrStopping.Error()))
		return
	}

	switch {
	case errors.Is(err, ErrNoSuchRoom):
		conn.WriteResponse(req, httpd.NotFound(req.URL.Path))
		return
	case err != nil:
		s.metrics.ClaimRejects.Inc()
		conn.WriteResponse(req, httpd.BadRequest("room did not accept you"))
		return
	}

	ws, err := s.upgrader.Upgrade(conn.UpgradeWriter(), req, nil)
	if err != nil {
		// The upgrader already answered through the UpgradeWriter.
		s.logger.Debug("upgrade failed", "error", err, "room", uint16(roomID), "agent", uint16(agentID))
		member.AbortClaim()
		return
	}

	s.metrics.Upgrades.Inc()
	s.logger.Debug("websocket upgrade", "room", uint16(roomID), "agent", uint16(agentID))
	member.Connect(ws)
}

// parseMemberPath reads "/{roomId}/{agentId}", both decimal.
func parseMemberPath(path string) (room.RoomID, room.AgentID, bool) {
	rest, ok := strings.CutPrefix(path, "/")
	if !ok {
		return 0, 0, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	rid, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, false
	}
	aid, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, false
	}
	return room.RoomID(rid), room.AgentID(aid), true
}
