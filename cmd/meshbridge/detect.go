package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/IceNet-01/meshtastic-bridge-headless/internal/detect"
	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
	_ "github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio/loopback"
)

func newDetectCommand() *cobra.Command {
	var (
		transport string
		wait      time.Duration
		required  int
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan for attached radios",
		Long: `Scan /dev/ttyUSB* and /dev/ttyACM* for attached Meshtastic radios and
print the ports that answer a probe. With --wait, keep scanning until
the required number of radios appears.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dialer, err := radio.NewTransport(transport)
			if err != nil {
				return err
			}
			detector := detect.New(dialer, zerolog.Nop())

			var devices []detect.Device
			if wait > 0 {
				devices, err = detector.WaitForRadios(cmd.Context(), required, wait, 5*time.Second)
			} else {
				devices, err = detector.DetectRadios(cmd.Context(), required)
			}
			for _, dev := range devices {
				fmt.Printf("✅ %s (node %s)\n", dev.Port, dev.NodeID)
			}
			if err != nil {
				return fmt.Errorf("detection incomplete: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "serial", "Radio transport name")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep scanning for up to this long (0 scans once)")
	cmd.Flags().IntVar(&required, "required", 2, "Number of radios to look for")

	return cmd
}
