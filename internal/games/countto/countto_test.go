package countto

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/parlor-dev/parlor/pkg/room"
)

func TestSeats(t *testing.T) {
	g := New(3)
	ids := g.Seats()
	if len(ids) != 3 {
		t.Fatalf("got %d seats, want 3", len(ids))
	}
	for i, id := range ids {
		if id != room.AgentID(i+1) {
			t.Errorf("seat %d has id %d, want %d", i, id, i+1)
		}
	}
}

func TestNewClampsPlayers(t *testing.T) {
	if got := New(0).Players; got != 2 {
		t.Fatalf("Players = %d, want 2", got)
	}
}

// The game must honor interruption even when no player ever connects.
func TestPlayStopsOnInterrupt(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := room.New(7, New(2), room.WithLogger(logger))

	r.Interrupt()

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("game goroutine did not exit after interrupt")
	}
}
