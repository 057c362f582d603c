package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/parlor-dev/parlor/pkg/loop"
	"github.com/parlor-dev/parlor/pkg/room"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitGame declares two seats and blocks until interrupted.
type waitGame struct{}

func (waitGame) Seats() []room.AgentID { return []room.AgentID{1, 2} }

func (waitGame) Play(ctx context.Context, _ *room.Room) error {
	<-ctx.Done()
	return ctx.Err()
}

// startServer builds a server on a loopback port, runs it, and returns
// it together with its host:port address.
func startServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Logger = testLogger(t)
	cfg.Registerer = prometheus.NewRegistry()
	cfg.GameFactory = func(room.RoomID) room.Game { return waitGame{} }
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		s.Start()
		close(stopped)
	}()
	t.Cleanup(func() {
		s.Stop()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("Start did not return after Stop")
		}
	})
	return s, s.Addr().String()
}

func createRoom(t *testing.T, addr string) {
	t.Helper()
	resp, err := http.Post("http://"+addr+"/room", "", nil)
	if err != nil {
		t.Fatalf("POST /room: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST /room status = %d, want 204", resp.StatusCode)
	}
}

func listRooms(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/room/")
	if err != nil {
		t.Fatalf("GET /room/: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /room/ status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func dialWS(addr, path string) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
}

func TestCreateAndListRooms(t *testing.T) {
	_, addr := startServer(t, nil)

	if got := listRooms(t, addr); got != "" {
		t.Fatalf("initial listing = %q, want empty", got)
	}
	createRoom(t, addr)
	createRoom(t, addr)
	if got := listRooms(t, addr); got != "1\n2\n" {
		t.Fatalf("listing = %q, want %q", got, "1\n2\n")
	}
}

func TestHeartbeat(t *testing.T) {
	_, addr := startServer(t, nil)

	resp, err := http.Get("http://" + addr + "/heartbeat")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestSeatClaimOverWebSocket(t *testing.T) {
	_, addr := startServer(t, nil)
	createRoom(t, addr)

	ws, _, err := dialWS(addr, "/1/1")
	if err != nil {
		t.Fatalf("dial seat 1: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if string(msg) != "Welcome to the room!" {
		t.Fatalf("greeting = %q", msg)
	}

	// The seat is taken now; a second claim must be refused with 400.
	_, resp, err := dialWS(addr, "/1/1")
	if err == nil {
		t.Fatal("second claim on a taken seat succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second claim response = %+v, want 400", resp)
	}

	// A spectator is always welcome.
	spec, _, err := dialWS(addr, "/1/0")
	if err != nil {
		t.Fatalf("dial spectator: %v", err)
	}
	defer spec.Close()
	spec.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err = spec.ReadMessage(); err != nil || string(msg) != "Welcome to the room!" {
		t.Fatalf("spectator greeting = %q, err = %v", msg, err)
	}
}

func TestUpgradeToUnknownRoomIs404(t *testing.T) {
	_, addr := startServer(t, nil)

	_, resp, err := dialWS(addr, "/9/1")
	if err == nil {
		t.Fatal("dial to unknown room succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %+v, want 404", resp)
	}
}

func TestUpgradeToUnknownSeatIs400(t *testing.T) {
	_, addr := startServer(t, nil)
	createRoom(t, addr)

	_, resp, err := dialWS(addr, "/1/7")
	if err == nil {
		t.Fatal("dial to unknown seat succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %+v, want 400", resp)
	}
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	_, addr := startServer(t, nil)
	createRoom(t, addr)

	// Losers must hold their sockets shut only after every dial attempt
	// finished; closing a winner early would free the seat again.
	const claimers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*websocket.Conn
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, _, err := dialWS(addr, "/1/2")
			if err != nil {
				return
			}
			mu.Lock()
			winners = append(winners, ws)
			mu.Unlock()
		}()
	}
	wg.Wait()
	for _, ws := range winners {
		ws.Close()
	}
	if len(winners) != 1 {
		t.Fatalf("wins = %d, want exactly 1", len(winners))
	}
}

func TestDeleteRoom(t *testing.T) {
	_, addr := startServer(t, nil)
	createRoom(t, addr)
	createRoom(t, addr)

	req, _ := http.NewRequest(http.MethodDelete, "http://"+addr+"/room/1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	// Deletion is asynchronous; the other room must survive it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if listRooms(t, addr) == "2\n" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listing = %q, want %q", listRooms(t, addr), "2\n")
}

func TestDeleteMissingRoomIs404(t *testing.T) {
	_, addr := startServer(t, nil)

	req, _ := http.NewRequest(http.MethodDelete, "http://"+addr+"/room/42", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteMalformedRoomIdIs400(t *testing.T) {
	_, addr := startServer(t, nil)

	req, _ := http.NewRequest(http.MethodDelete, "http://"+addr+"/room/abc", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

// endingGame finishes on its own as soon as a seat connects, which must
// make the server tear the room down.
type endingGame struct{}

func (endingGame) Seats() []room.AgentID { return []room.AgentID{1} }

func (endingGame) Play(ctx context.Context, r *room.Room) error {
	_, err := r.Seat(1).Receive(ctx)
	return err
}

func TestGameEndDeletesRoom(t *testing.T) {
	_, addr := startServer(t, func(cfg *Config) {
		cfg.GameFactory = func(id room.RoomID) room.Game {
			if id == 1 {
				return endingGame{}
			}
			return waitGame{}
		}
	})
	createRoom(t, addr)
	createRoom(t, addr)

	ws, _, err := dialWS(addr, "/1/1")
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if err := ws.WriteMessage(websocket.TextMessage, []byte("done")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if listRooms(t, addr) == "2\n" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listing = %q, want %q", listRooms(t, addr), "2\n")
}

func TestBindErrorIsReported(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.Addr = ln.Addr().String()
	cfg.Logger = testLogger(t)
	cfg.Registerer = prometheus.NewRegistry()

	_, err = New(cfg)
	if err == nil {
		t.Fatal("New succeeded on an occupied port")
	}
	var be *loop.BindError
	if !errors.As(err, &be) || !strings.Contains(err.Error(), cfg.Addr) {
		t.Fatalf("err = %v, want *loop.BindError naming %s", err, cfg.Addr)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}

func TestMetricsObserveActivity(t *testing.T) {
	s, addr := startServer(t, nil)
	createRoom(t, addr) // 204
	listRooms(t, addr)  // 200

	// Counters are bumped after the response is flushed, so poll.
	waitFor(t, "http_requests_total{code=204} > 0", func() bool {
		return testutil.ToFloat64(s.metrics.RequestsTotal.WithLabelValues("204")) > 0
	})
	waitFor(t, "http_requests_total{code=200} > 0", func() bool {
		return testutil.ToFloat64(s.metrics.RequestsTotal.WithLabelValues("200")) > 0
	})
	if got := testutil.ToFloat64(s.metrics.RoomsActive); got != 1 {
		t.Fatalf("rooms_active = %v, want 1", got)
	}

	ws, _, err := dialWS(addr, "/1/1")
	if err != nil {
		t.Fatal(err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if got := testutil.ToFloat64(s.metrics.MembersConnected); got != 1 {
		t.Fatalf("members_connected = %v, want 1", got)
	}

	s.Room(1).Broadcast([]byte("tick"))
	if got := testutil.ToFloat64(s.metrics.Broadcasts); got != 1 {
		t.Fatalf("room_broadcasts_total = %v, want 1", got)
	}

	ws.Close()
	waitFor(t, "members_connected back to 0", func() bool {
		return testutil.ToFloat64(s.metrics.MembersConnected) == 0
	})
}

func TestAddRoomAutoFailsWhenTableFull(t *testing.T) {
	s, _ := startServer(t, nil)

	s.roomsMu.Lock()
	for id := 1; id <= math.MaxUint16; id++ {
		s.rooms[room.RoomID(id)] = nil
	}
	s.roomsMu.Unlock()

	if _, err := s.AddRoomAuto(); !errors.Is(err, ErrTableFull) {
		t.Fatalf("err = %v, want ErrTableFull", err)
	}

	// Empty the table again so shutdown does not walk the placeholders.
	s.roomsMu.Lock()
	s.rooms = make(map[room.RoomID]*room.Room)
	s.roomsMu.Unlock()
}

func TestStopIsIdempotent(t *testing.T) {
	s, addr := startServer(t, nil)
	createRoom(t, addr)

	s.Stop()
	s.Stop()

	if got := s.RoomIDs(); len(got) != 0 {
		t.Fatalf("rooms after stop = %v, want none", got)
	}
}
