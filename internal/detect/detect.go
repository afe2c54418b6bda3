// Package detect finds serial ports with a Meshtastic radio behind
// them. Candidates come from glob patterns over /dev; each candidate is
// verified by opening it through the radio dialer and probing for a
// response before it is offered to the bridge.
package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
)

// DefaultPatterns are the device globs that typically match USB-attached
// Meshtastic hardware on Linux.
var DefaultPatterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*"}

// Device is a verified radio port.
type Device struct {
	Port   string `json:"port"`
	NodeID string `json:"node_id"`
}

// Detector enumerates candidate ports and probes them through a
// radio.Dialer.
type Detector struct {
	dialer   radio.Dialer
	patterns []string
	log      zerolog.Logger
	clk      clock.Clock
}

// New builds a Detector over dialer using DefaultPatterns.
func New(dialer radio.Dialer, logger zerolog.Logger) *Detector {
	return &Detector{
		dialer:   dialer,
		patterns: DefaultPatterns,
		log:      logger.With().Str("component", "detect").Logger(),
		clk:      clock.New(),
	}
}

// SetPatterns replaces the candidate glob patterns.
func (d *Detector) SetPatterns(patterns []string) {
	d.patterns = patterns
}

// CandidatePorts globs the configured patterns and returns the matching
// paths, sorted and deduplicated.
func (d *Detector) CandidatePorts() ([]string, error) {
	seen := make(map[string]struct{})
	var ports []string
	for _, pattern := range d.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad port pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			ports = append(ports, m)
		}
	}
	sort.Strings(ports)
	return ports, nil
}

// Verify opens port and probes the device behind it. The connection is
// closed again before returning; detection never holds a port open.
func (d *Detector) Verify(ctx context.Context, port string) (Device, error) {
	conn, err := d.dialer.Open(ctx, port)
	if err != nil {
		return Device{}, fmt.Errorf("probe %s: %w", port, err)
	}
	defer conn.Close()

	if !conn.IsResponsive(ctx) {
		return Device{}, fmt.Errorf("%w: device on %s did not respond to probe",
			radio.ErrConnection, port)
	}
	return Device{Port: port, NodeID: conn.NodeID()}, nil
}

// DetectRadios probes candidates until required devices are found, or
// the candidates run out. Finding fewer than required is an error; the
// verified devices found so far are still returned so callers can report
// them.
func (d *Detector) DetectRadios(ctx context.Context, required int) ([]Device, error) {
	candidates, err := d.CandidatePorts()
	if err != nil {
		return nil, err
	}
	d.log.Debug().Strs("candidates", candidates).Msg("scanning for radios")

	var devices []Device
	for _, port := range candidates {
		if len(devices) >= required {
			break
		}
		dev, err := d.Verify(ctx, port)
		if err != nil {
			d.log.Debug().Err(err).Str("port", port).Msg("candidate rejected")
			continue
		}
		d.log.Info().Str("port", dev.Port).Str("node_id", dev.NodeID).Msg("radio found")
		devices = append(devices, dev)
	}

	if len(devices) < required {
		return devices, fmt.Errorf("%w: found %d radio(s), need %d (scanned %d candidate port(s))",
			radio.ErrConnection, len(devices), required, len(candidates))
	}
	return devices, nil
}

// WaitForRadios polls DetectRadios every interval until the required
// number of devices appears, maxWait elapses, or ctx is cancelled.
func (d *Detector) WaitForRadios(ctx context.Context, required int, maxWait, interval time.Duration) ([]Device, error) {
	deadline := d.clk.Now().Add(maxWait)
	for {
		devices, err := d.DetectRadios(ctx, required)
		if err == nil {
			return devices, nil
		}
		if !d.clk.Now().Add(interval).Before(deadline) {
			return devices, fmt.Errorf("gave up waiting for radios after %s: %w", maxWait, err)
		}
		d.log.Info().Err(err).Dur("retry_in", interval).Msg("waiting for radios")

		t := d.clk.Timer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return devices, ctx.Err()
		case <-t.C:
		}
	}
}
