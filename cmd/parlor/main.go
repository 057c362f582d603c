package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parlor",
		Short: "Multiplayer game room server",
		Long: `Parlor hosts turn-based multiplayer games over WebSocket.

Clients create rooms over plain HTTP, then upgrade to a WebSocket to
claim a seat or watch as a spectator. Each room runs its game on a
dedicated goroutine, fully isolated from the others.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
