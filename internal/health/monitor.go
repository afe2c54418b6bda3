// Package health runs the periodic liveness checks and the staged
// recovery escalation for both links.
//
// The escalation state machine, per link and per cycle:
//
//	probe ok            -> reset counter, ensure Connected
//	probe failed        -> increment counter
//	counter < threshold -> warn only (transient failures self-resolve)
//	counter = threshold -> request reboot, settle, reconnect,
//	                       reset counter regardless of reboot outcome
//
// A reconnect that exhausts its retries leaves the link Disconnected;
// the next cycle probes again and may re-escalate from a zero counter.
package health

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/IceNet-01/meshtastic-bridge-headless/internal/link"
	"github.com/IceNet-01/meshtastic-bridge-headless/internal/metrics"
)

// Config holds health monitor settings.
type Config struct {
	// Interval between probe cycles.
	Interval time.Duration
	// FailureThreshold is the consecutive probe failure count that
	// triggers escalation.
	FailureThreshold int
	// RebootSettle is how long to wait after a successful reboot
	// request before reconnecting.
	RebootSettle time.Duration
	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

// SetDefaults sets sensible default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RebootSettle < 0 {
		c.RebootSettle = 0
	} else if c.RebootSettle == 0 {
		c.RebootSettle = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Monitor probes each link on a fixed interval, independent of message
// traffic, and drives recovery when a link goes quiet.
type Monitor struct {
	cfg   Config
	links []*link.Manager
	log   zerolog.Logger
	clk   clock.Clock
}

// NewMonitor creates a monitor over the given links. Run starts it.
func NewMonitor(links []*link.Manager, cfg Config, logger zerolog.Logger) *Monitor {
	cfg.SetDefaults()
	return &Monitor{
		cfg:   cfg,
		links: links,
		log:   logger.With().Str("component", "health").Logger(),
		clk:   cfg.Clock,
	}
}

// Run blocks, probing on every interval tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clk.Ticker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.cfg.Interval).Int("threshold", m.cfg.FailureThreshold).
		Msg("health monitor started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs one probe cycle over every link.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, lm := range m.links {
		if ctx.Err() != nil {
			return
		}
		m.checkLink(ctx, lm)
	}
}

func (m *Monitor) checkLink(ctx context.Context, lm *link.Manager) {
	name := lm.Origin().String()

	if lm.IsResponsive(ctx) {
		lm.ResetHealthFailures()
		lm.MarkConnected()
		metrics.LinkUp.WithLabelValues(name).Set(1)
		return
	}

	metrics.LinkUp.WithLabelValues(name).Set(0)
	metrics.HealthProbeFailures.WithLabelValues(name).Inc()
	failures := lm.RecordHealthFailure()

	if failures < m.cfg.FailureThreshold {
		m.log.Warn().Str("link", name).Int("failures", failures).
			Int("threshold", m.cfg.FailureThreshold).
			Msg("health probe failed, below escalation threshold")
		return
	}

	m.escalate(ctx, lm)
}

// escalate reboots the radio, settles, reconnects, and starts a fresh
// counting cycle. The counter resets even when the reboot or reconnect
// fails, so a dead link re-accumulates failures from zero each time
// instead of escalating further.
func (m *Monitor) escalate(ctx context.Context, lm *link.Manager) {
	name := lm.Origin().String()
	metrics.Escalations.WithLabelValues(name).Inc()
	m.log.Warn().Str("link", name).Int("failures", lm.HealthFailures()).
		Msg("escalating: requesting radio reboot")

	if err := lm.RequestReboot(ctx); err != nil {
		m.log.Warn().Str("link", name).Err(err).
			Msg("reboot request failed, falling back to reconnect")
	} else {
		m.log.Info().Str("link", name).Dur("settle", m.cfg.RebootSettle).
			Msg("reboot requested, waiting for radio to settle")
		m.settle(ctx)
	}

	lm.ResetHealthFailures()

	if err := lm.Reconnect(ctx); err != nil {
		m.log.Error().Str("link", name).Err(err).
			Msg("reconnect exhausted retries, link left disconnected until next cycle")
		return
	}
	m.log.Info().Str("link", name).Msg("link recovered")
	metrics.LinkUp.WithLabelValues(name).Set(1)
}

func (m *Monitor) settle(ctx context.Context) {
	if m.cfg.RebootSettle <= 0 {
		return
	}
	t := m.clk.Timer(m.cfg.RebootSettle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
