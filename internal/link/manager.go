// Package link manages the lifecycle of one radio connection: initial
// connect with bounded exponential backoff, health-driven reconnect, and
// guarded access to the underlying handle.
package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
)

// Config holds per-link connection settings.
type Config struct {
	Origin radio.Origin
	Port   string

	// MaxRetries bounds connect/reconnect attempts; the delay before
	// each retry doubles starting from InitialDelay.
	MaxRetries   int
	InitialDelay time.Duration

	// ConnectSettle is how long a freshly opened handle is given to
	// stabilize before the link is declared Connected.
	ConnectSettle time.Duration

	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

// SetDefaults sets sensible default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.ConnectSettle < 0 {
		c.ConnectSettle = 0
	} else if c.ConnectSettle == 0 {
		c.ConnectSettle = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("link %s: port cannot be empty", c.Origin)
	}
	return nil
}

// Manager owns one link's connection lifecycle. Connect and Reconnect
// are serialized per link; Send, probes and state reads are safe from
// any goroutine.
type Manager struct {
	cfg    Config
	dialer radio.Dialer
	log    zerolog.Logger
	clk    clock.Clock

	// connMu serializes Connect/Reconnect/Close so a health-driven
	// recovery cannot race a startup connect for the same link.
	connMu sync.Mutex

	mu             sync.Mutex
	conn           radio.Conn
	status         Status
	lastErr        error
	healthFailures int
	onReceive      radio.ReceiveFunc
}

// NewManager creates a manager for one link. It does not connect;
// call Connect.
func NewManager(dialer radio.Dialer, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if dialer == nil {
		return nil, fmt.Errorf("link %s: dialer cannot be nil", cfg.Origin)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		log:    logger.With().Str("link", cfg.Origin.String()).Str("port", cfg.Port).Logger(),
		clk:    cfg.Clock,
		status: Disconnected,
	}, nil
}

// SetReceiveHandler registers the inbound message handler. It is applied
// to the current handle and re-applied automatically after reconnects.
func (m *Manager) SetReceiveHandler(fn radio.ReceiveFunc) {
	m.mu.Lock()
	m.onReceive = fn
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.OnReceive(fn)
	}
}

// Connect establishes the initial connection. Exhausting the retry
// budget is fatal for engine startup: the error propagates to the
// caller, which is expected to exit and defer to the process supervisor.
func (m *Manager) Connect(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.establish(ctx, Connecting)
}

// Reconnect tears down the current handle and re-establishes the
// connection with the same retry policy, holding the link in Recovering
// for the duration. Exhaustion leaves the link Disconnected; the error
// is informational, not fatal.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.closeConn()
	return m.establish(ctx, Recovering)
}

// establish runs the bounded retry loop. Caller holds connMu.
func (m *Manager) establish(ctx context.Context, during Status) error {
	m.setStatus(during)

	delay := m.cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		m.log.Info().Int("attempt", attempt).Msg("connecting to radio")

		conn, err := m.dialer.Open(ctx, m.cfg.Port)
		if err == nil {
			if err = m.settle(ctx); err != nil {
				conn.Close()
				m.setStatus(Disconnected)
				return err
			}
			m.adopt(conn)
			m.log.Info().Str("node_id", conn.NodeID()).Msg("radio connected")
			return nil
		}
		if conn != nil {
			// Partially opened handle; release before retrying.
			conn.Close()
		}
		lastErr = err
		m.setLastError(err)
		m.log.Warn().Err(err).Int("attempt", attempt).Int("max_retries", m.cfg.MaxRetries).
			Msg("connect attempt failed")

		if attempt == m.cfg.MaxRetries {
			break
		}
		if err := m.sleep(ctx, delay); err != nil {
			m.setStatus(Disconnected)
			return err
		}
		delay *= 2
	}

	m.setStatus(Disconnected)
	m.log.Error().Err(lastErr).Msg("connect retries exhausted")
	return fmt.Errorf("%w: link %s on %s failed after %d attempts: %v",
		radio.ErrConnection, m.cfg.Origin, m.cfg.Port, m.cfg.MaxRetries, lastErr)
}

// adopt installs a freshly opened handle and marks the link Connected.
func (m *Manager) adopt(conn radio.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.status = Connected
	m.lastErr = nil
	fn := m.onReceive
	m.mu.Unlock()
	if fn != nil {
		conn.OnReceive(fn)
	}
}

// Send transmits on the current handle. A link without a live handle
// fails with a SendError so a dead link degrades to counted errors
// instead of crashing the forwarding path.
func (m *Manager) Send(ctx context.Context, msg radio.Message) error {
	m.mu.Lock()
	conn := m.conn
	status := m.status
	m.mu.Unlock()

	if conn == nil || status != Connected {
		return fmt.Errorf("%w: link %s is %s", radio.ErrSend, m.cfg.Origin, status)
	}
	if err := conn.Send(ctx, msg); err != nil {
		m.setLastError(err)
		return err
	}
	return nil
}

// IsResponsive probes the current handle; a link without one is
// unresponsive by definition.
func (m *Manager) IsResponsive(ctx context.Context) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.IsResponsive(ctx)
}

// RequestReboot forwards a reboot request to the radio.
func (m *Manager) RequestReboot(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: link %s has no connection to reboot", radio.ErrCommand, m.cfg.Origin)
	}
	return conn.RequestReboot(ctx)
}

// Close releases the handle. Errors are returned for logging only.
func (m *Manager) Close() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.closeConn()
}

func (m *Manager) closeConn() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.status = Disconnected
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Origin returns which side of the bridge this link is.
func (m *Manager) Origin() radio.Origin { return m.cfg.Origin }

// Port returns the configured port identifier.
func (m *Manager) Port() string { return m.cfg.Port }

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// NodeID returns the connected radio's node identifier, or "".
func (m *Manager) NodeID() string {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.NodeID()
}

// LastError returns the most recent connection or send error as text,
// or "" when the link is healthy.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr == nil {
		return ""
	}
	return m.lastErr.Error()
}

// HealthFailures returns the consecutive health-probe failure count.
func (m *Manager) HealthFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthFailures
}

// RecordHealthFailure increments the consecutive failure counter and
// returns the new count.
func (m *Manager) RecordHealthFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthFailures++
	return m.healthFailures
}

// ResetHealthFailures starts a fresh counting cycle.
func (m *Manager) ResetHealthFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthFailures = 0
}

// MarkConnected restores the Connected state after a successful probe on
// a link that still holds a live handle.
func (m *Manager) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.status = Connected
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	old := m.status
	m.status = s
	m.mu.Unlock()
	if old != s {
		m.log.Info().Str("from", old.String()).Str("to", s.String()).Msg("link state changed")
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// settle gives a freshly opened handle time to stabilize.
func (m *Manager) settle(ctx context.Context) error {
	if m.cfg.ConnectSettle <= 0 {
		return nil
	}
	return m.sleep(ctx, m.cfg.ConnectSettle)
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	t := m.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
