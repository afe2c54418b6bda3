package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/statusclient"
)

func newStatusCommand() *cobra.Command {
	var (
		asJSON bool
		recent int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running daemon's status",
		Long:  "Query the status API of a running bridge daemon and print a summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := statusclient.NewClient(statusclient.Config{
				ServerURL: serverURL,
				Token:     token,
				Timeout:   timeout,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			snap, err := client.GetStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			printSnapshot(snap)

			if recent > 0 {
				resp, err := client.GetRecent(ctx, recent)
				if err != nil {
					return fmt.Errorf("failed to get recent messages: %w", err)
				}
				printRecent(resp.Messages)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status snapshot as JSON")
	cmd.Flags().IntVar(&recent, "recent", 0, "Also list up to N recently relayed messages")

	return cmd
}

func printSnapshot(snap *statusclient.Snapshot) {
	state := "✅ running"
	if !snap.Running {
		state = "❌ stopped"
	} else if !snap.LinksConnected {
		state = "⚠️  degraded"
	}
	fmt.Printf("Bridge %s (run %s, up %ds)\n", state, snap.RunID, snap.UptimeSeconds)

	names := make([]string, 0, len(snap.Links))
	for name := range snap.Links {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		l := snap.Links[name]
		fmt.Printf("  %s: %s on %s", name, l.State, l.Port)
		if l.NodeID != "" {
			fmt.Printf(" (node %s)", l.NodeID)
		}
		if l.HealthFailures > 0 {
			fmt.Printf(" [%d health failures]", l.HealthFailures)
		}
		if l.LastError != "" {
			fmt.Printf(" last error: %s", l.LastError)
		}
		fmt.Println()
	}

	fmt.Printf("  linkA: %d received, %d sent, %d duplicates, %d errors\n",
		snap.Stats.LinkA.Received, snap.Stats.LinkA.Sent, snap.Stats.LinkA.Duplicates, snap.Stats.LinkA.Errors)
	fmt.Printf("  linkB: %d received, %d sent, %d duplicates, %d errors\n",
		snap.Stats.LinkB.Received, snap.Stats.LinkB.Sent, snap.Stats.LinkB.Duplicates, snap.Stats.LinkB.Errors)
	fmt.Printf("  tracker: %d seen, %d forwarded, %d tracked\n",
		snap.Stats.Tracker.TotalSeen, snap.Stats.Tracker.TotalForwarded, snap.Stats.Tracker.CurrentlyTracked)
}

func printRecent(messages []statusclient.RecentMessage) {
	if len(messages) == 0 {
		fmt.Println("No recent messages.")
		return
	}
	fmt.Printf("Recent messages (%d):\n", len(messages))
	for _, m := range messages {
		mark := " "
		if m.Forwarded {
			mark = "→"
		}
		fmt.Printf("  %s [%s] %08x %s (%s)\n",
			mark, m.Link, m.ID, m.Summary, m.SeenAt.Format("15:04:05"))
	}
}
