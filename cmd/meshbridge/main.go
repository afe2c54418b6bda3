package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	appName    = "meshbridge"
	appVersion = "1.0.0"
)

var (
	// Global flags shared by the client-side subcommands.
	serverURL string
	token     string
	timeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Headless bridge between two Meshtastic radios",
		Long: `meshbridge relays text messages between two Meshtastic radios attached
over serial, deduplicating so each message crosses the bridge exactly
once. The daemon runs under the 'run' subcommand; the remaining
subcommands talk to a running daemon's status API or inspect hardware.`,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Bridge daemon status API URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for auth-protected routes")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDetectCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
