package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlor-dev/parlor/pkg/room"
)

// Config holds configuration for the game hosting server. Zero fields
// are replaced with the DefaultConfig values.
type Config struct {
	// Addr is the address to listen on (e.g. ":8080").
	// Default: ":8080".
	Addr string

	// Greeting is sent to every member right after it connects.
	// Default: "Welcome to the room!".
	Greeting string

	// StaticDir is the document root for static file service. Empty
	// disables the static rule.
	StaticDir string

	// StaticPrefix is the URL path root for static files.
	// Default: "/static".
	StaticPrefix string

	// GameFactory builds the game a new room will host.
	// Default: a game with no seats that waits to be interrupted.
	GameFactory func(room.RoomID) room.Game

	// WebSocket buffer sizes and handshake deadline.
	// Defaults: 4096, 4096, 10s.
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration

	// CheckOrigin validates the Origin header of upgrade requests.
	// Default: allow all origins.
	CheckOrigin func(r *http.Request) bool

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Tracer, when set, wraps every router dispatch in a span.
	Tracer trace.Tracer

	// Registerer receives the server's metrics.
	// Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:             ":8080",
		Greeting:         "Welcome to the room!",
		StaticPrefix:     "/static",
		GameFactory:      func(room.RoomID) room.Game { return idleGame{} },
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      func(*http.Request) bool { return true },
		Registerer:       prometheus.DefaultRegisterer,
	}
}

func withDefaults(cfg *Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	defaults := DefaultConfig()
	out := *cfg
	if out.Addr == "" {
		out.Addr = defaults.Addr
	}
	if out.Greeting == "" {
		out.Greeting = defaults.Greeting
	}
	if out.StaticPrefix == "" {
		out.StaticPrefix = defaults.StaticPrefix
	}
	if out.GameFactory == nil {
		out.GameFactory = defaults.GameFactory
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = defaults.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = defaults.WriteBufferSize
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = defaults.CheckOrigin
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Registerer == nil {
		out.Registerer = defaults.Registerer
	}
	return &out
}

// idleGame hosts a room with no seats: spectators may join and watch,
// nothing ever happens, and the game ends only when interrupted.
type idleGame struct{}

func (idleGame) Seats() []room.AgentID { return nil }

func (idleGame) Play(ctx context.Context, _ *room.Room) error {
	<-ctx.Done()
	return ctx.Err()
}
