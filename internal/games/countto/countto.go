// Package countto implements a minimal turn-based counting game, mostly
// useful as a smoke test for the room machinery: players alternate
// sending "1", "2", or "3" and the running total advances by that much;
// whoever says the target number wins.
package countto

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/parlor-dev/parlor/pkg/room"
)

// Game plays count-to-Target between Players seats (ids 1..Players).
type Game struct {
	Players int
	Target  int
}

// New returns a game for the given number of players. Target defaults
// to 21, the schoolyard standard.
func New(players int) *Game {
	if players < 1 {
		players = 2
	}
	return &Game{Players: players, Target: 21}
}

// Seats returns agent ids 1..Players.
func (g *Game) Seats() []room.AgentID {
	ids := make([]room.AgentID, g.Players)
	for i := range ids {
		ids[i] = room.AgentID(i + 1)
	}
	return ids
}

// Play runs the game loop on the room goroutine. It returns nil once a
// player reaches the target, or the receive error when interrupted.
func (g *Game) Play(ctx context.Context, r *room.Room) error {
	target := g.Target
	if target <= 0 {
		target = 21
	}
	r.Broadcast([]byte(fmt.Sprintf("count to %d, steps of 1 to 3, player 1 starts", target)))

	total := 0
	turn := 0
	for {
		seat := r.Seat(room.AgentID(turn%g.Players + 1))
		step, err := g.nextStep(ctx, seat)
		if err != nil {
			return err
		}
		total += step
		if total >= target {
			r.Broadcast([]byte(fmt.Sprintf("player %d wins at %d", seat.ID(), total)))
			return nil
		}
		r.Broadcast([]byte(fmt.Sprintf("player %d says %d", seat.ID(), total)))
		turn++
	}
}

// nextStep reads messages from the seat until one parses as a legal
// step. Garbage gets a private correction rather than ending the game.
func (g *Game) nextStep(ctx context.Context, seat *room.Member) (int, error) {
	for {
		msg, err := seat.Receive(ctx)
		if err != nil {
			return 0, err
		}
		step, err := strconv.Atoi(strings.TrimSpace(string(msg)))
		if err != nil || step < 1 || step > 3 {
			seat.Send([]byte("send a number from 1 to 3"))
			continue
		}
		return step, nil
	}
}
