package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/parlor-dev/parlor/internal/games/countto"
	"github.com/parlor-dev/parlor/internal/ops"
	"github.com/parlor-dev/parlor/pkg/room"
	"github.com/parlor-dev/parlor/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		addr         string
		opsAddr      string
		staticDir    string
		staticPrefix string
		greeting     string
		logLevel     string
		seats        int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the game server",
		Long: `Start the game server.

Flags override variables from the environment; a .env file in the
working directory is loaded first if present.

Examples:
  parlor serve
  parlor serve --addr=:9000 --seats=4
  parlor serve --static-dir=./public --static-prefix=/assets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveOptions{
				addr:         addr,
				opsAddr:      opsAddr,
				staticDir:    staticDir,
				staticPrefix: staticPrefix,
				greeting:     greeting,
				logLevel:     logLevel,
				seats:        seats,
			})
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", envOr("PARLOR_ADDR", ":8080"), "Address to serve game traffic on")
	cmd.Flags().StringVar(&opsAddr, "ops-addr", envOr("PARLOR_OPS_ADDR", ""), "Address for health, metrics and pprof (empty disables)")
	cmd.Flags().StringVar(&staticDir, "static-dir", envOr("PARLOR_STATIC_DIR", ""), "Directory to serve static files from (empty disables)")
	cmd.Flags().StringVar(&staticPrefix, "static-prefix", envOr("PARLOR_STATIC_PREFIX", "/static"), "URL prefix for static files")
	cmd.Flags().StringVar(&greeting, "greeting", envOr("PARLOR_GREETING", "Welcome to the room!"), "Message sent to every member on connect")
	cmd.Flags().StringVar(&logLevel, "log-level", envOr("PARLOR_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	cmd.Flags().IntVar(&seats, "seats", 2, "Number of seats per room")

	return cmd
}

type serveOptions struct {
	addr         string
	opsAddr      string
	staticDir    string
	staticPrefix string
	greeting     string
	logLevel     string
	seats        int
}

func runServe(opts serveOptions) error {
	logger := newLogger(opts.logLevel)

	cfg := server.DefaultConfig()
	cfg.Addr = opts.addr
	cfg.Greeting = opts.greeting
	cfg.StaticDir = opts.staticDir
	cfg.StaticPrefix = opts.staticPrefix
	cfg.Logger = logger
	cfg.GameFactory = func(room.RoomID) room.Game {
		return countto.New(opts.seats)
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("listening", "addr", srv.Addr().String())

	var opsSrv *ops.Server
	if opts.opsAddr != "" {
		opsSrv = ops.New(opts.opsAddr, nil, logger)
		go func() {
			if err := opsSrv.Run(); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Info("shutting down", "signal", s.String())
		srv.Stop()
	}()

	srv.Start()

	if opsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		opsSrv.Shutdown(ctx)
	}
	logger.Info("bye")
	return nil
}

// envOr reads name from the environment, falling back to def. A .env
// file in the working directory is loaded once, before any lookup.
func envOr(name, def string) string {
	loadDotenv()
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

var dotenvLoaded bool

func loadDotenv() {
	if dotenvLoaded {
		return
	}
	dotenvLoaded = true
	if _, err := os.Stat(".env"); err == nil {
		godotenv.Load()
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
