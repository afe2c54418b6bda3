package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/IceNet-01/meshtastic-bridge-headless/internal/bridge"
	"github.com/IceNet-01/meshtastic-bridge-headless/internal/detect"
	"github.com/IceNet-01/meshtastic-bridge-headless/internal/statusapi"
	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
	_ "github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio/loopback"
)

func newRunCommand() *cobra.Command {
	var (
		configPath string
		portA      string
		portB      string
		transport  string
		listen     string
		statusFile string
		loopback   bool
		logLevel   string
		detectWait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge daemon",
		Long: `Run the bridge daemon in the foreground. Radio ports come from the
config file or the --port-a/--port-b flags; when neither names a port,
the daemon scans /dev/ttyUSB* and /dev/ttyACM* for attached radios.
SIGINT or SIGTERM shuts down gracefully; a second signal forces exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(configPath)
			if err != nil {
				return err
			}
			// Flags override the file.
			if portA != "" {
				cfg.LinkA.Port = portA
			}
			if portB != "" {
				cfg.LinkB.Port = portB
			}
			if transport != "" {
				cfg.Transport = transport
			}
			if cmd.Flags().Changed("listen") {
				cfg.HTTP.Listen = listen
			}
			if statusFile != "" {
				cfg.Status.File = statusFile
			}
			if loopback {
				cfg.Transport = "loopback"
				if cfg.LinkA.Port == "" {
					cfg.LinkA.Port = "loop-a"
				}
				if cfg.LinkB.Port == "" {
					cfg.LinkB.Port = "loop-b"
				}
			}

			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}

			return runBridge(cmd.Context(), cfg, logger, detectWait)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&portA, "port-a", "", "Serial port of the first radio")
	cmd.Flags().StringVar(&portB, "port-b", "", "Serial port of the second radio")
	cmd.Flags().StringVar(&transport, "transport", "", "Radio transport name (default \"serial\")")
	cmd.Flags().StringVar(&listen, "listen", "", "Status API listen address, e.g. :8080 (empty disables)")
	cmd.Flags().StringVar(&statusFile, "status-file", "", "Write status snapshots to this JSON file")
	cmd.Flags().BoolVar(&loopback, "loopback", false, "Use the in-process loopback transport (development)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().DurationVar(&detectWait, "detect-wait", 60*time.Second, "How long to wait for radios during auto-detection")

	return cmd
}

func loadRunConfig(path string) (*bridge.Config, error) {
	if path != "" {
		return bridge.LoadConfig(path)
	}
	cfg := &bridge.Config{}
	cfg.SetDefaults()
	return cfg, nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}
	return zerolog.New(writer).With().Timestamp().Logger().Level(lvl), nil
}

func runBridge(ctx context.Context, cfg *bridge.Config, logger zerolog.Logger, detectWait time.Duration) error {
	dialer, err := radio.NewTransport(cfg.Transport)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.LinkA.Port == "" || cfg.LinkB.Port == "" {
		if err := autodetectPorts(ctx, dialer, cfg, logger, detectWait); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	engine, err := bridge.New(dialer, cfg, logger)
	if err != nil {
		return err
	}

	var server *statusapi.Server
	if cfg.HTTP.Listen != "" {
		server = statusapi.NewServer(engine, statusapi.Config{
			Listen:     cfg.HTTP.Listen,
			AuthSecret: cfg.HTTP.AuthSecret,
		}, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("status API failed")
				engine.RequestShutdown()
			}
		}()
	}

	// First signal asks the engine to drain; a second one force-exits.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		s := <-sigCh
		logger.Info().Str("signal", s.String()).Msg("shutting down")
		engine.RequestShutdown()
		s = <-sigCh
		logger.Warn().Str("signal", s.String()).Msg("forcing exit")
		os.Exit(130)
	}()

	runErr := engine.Run(ctx)

	if server != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("status API shutdown incomplete")
		}
		stopCancel()
	}
	return runErr
}

// autodetectPorts fills any unset link port by scanning for attached
// radios, never reusing a port the other link already claims.
func autodetectPorts(ctx context.Context, dialer radio.Dialer, cfg *bridge.Config, logger zerolog.Logger, maxWait time.Duration) error {
	logger.Info().Msg("no ports configured, scanning for radios")

	devices, err := detect.New(dialer, logger).WaitForRadios(ctx, 2, maxWait, 5*time.Second)
	if err != nil {
		return fmt.Errorf("radio auto-detection failed: %w", err)
	}

	taken := map[string]bool{cfg.LinkA.Port: true, cfg.LinkB.Port: true}
	for _, dev := range devices {
		if taken[dev.Port] {
			continue
		}
		switch {
		case cfg.LinkA.Port == "":
			cfg.LinkA.Port = dev.Port
		case cfg.LinkB.Port == "":
			cfg.LinkB.Port = dev.Port
		}
		taken[dev.Port] = true
	}
	logger.Info().Str("port_a", cfg.LinkA.Port).Str("port_b", cfg.LinkB.Port).
		Msg("radios detected")
	return nil
}
