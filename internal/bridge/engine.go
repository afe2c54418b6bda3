// Package bridge contains the forwarding engine: it owns both link
// managers, the dedup tracker, the health monitor and the status
// reporter, and relays every fresh message from one link to the other.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"

	"github.com/IceNet-01/meshtastic-bridge-headless/internal/dedup"
	"github.com/IceNet-01/meshtastic-bridge-headless/internal/health"
	"github.com/IceNet-01/meshtastic-bridge-headless/internal/link"
	"github.com/IceNet-01/meshtastic-bridge-headless/internal/metrics"
	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
)

// shutdownGrace bounds how long Run waits for background goroutines
// after the shutdown signal.
const shutdownGrace = 10 * time.Second

// Engine is the bidirectional forwarding engine.
//
// Data path: radio receive callback -> per-link queue -> consumer
// goroutine -> dedup check -> opposite link send. One consumer per link
// preserves per-link ordering while the two links proceed concurrently.
type Engine struct {
	cfg     *Config
	log     zerolog.Logger
	clk     clock.Clock
	runID   string
	tracker *dedup.Tracker
	links   [2]*link.Manager
	monitor *health.Monitor
	sinks   []Sink

	queues    [2]chan radio.Message
	statsMu   sync.Mutex
	linkStats [2]LinkStats

	startedAt time.Time
	runningMu sync.Mutex
	running   bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New creates an engine over the given transport. Both links are dialed
// through the same dialer, on the ports named in cfg. Run starts it.
func New(dialer radio.Dialer, cfg *Config, logger zerolog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	tracker, err := dedup.New(cfg.Dedup.MaxEntries, cfg.Dedup.MaxAge.Std())
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		log:        logger.With().Str("component", "bridge").Logger(),
		clk:        clock.New(),
		runID:      uuid.NewString(),
		tracker:    tracker,
		shutdownCh: make(chan struct{}),
	}

	for _, origin := range []radio.Origin{radio.LinkA, radio.LinkB} {
		port := cfg.LinkA.Port
		if origin == radio.LinkB {
			port = cfg.LinkB.Port
		}
		lm, err := link.NewManager(dialer, link.Config{
			Origin:        origin,
			Port:          port,
			MaxRetries:    cfg.Connection.MaxRetries,
			InitialDelay:  cfg.Connection.InitialDelay.Std(),
			ConnectSettle: cfg.Connection.ConnectSettle.Std(),
		}, logger)
		if err != nil {
			return nil, err
		}
		e.links[origin] = lm
		e.queues[origin] = make(chan radio.Message, cfg.QueueSize)
	}

	e.monitor = health.NewMonitor(e.links[:], health.Config{
		Interval:         cfg.Health.Interval.Std(),
		FailureThreshold: cfg.Health.FailureThreshold,
		RebootSettle:     cfg.Health.RebootSettle.Std(),
	}, logger)

	if cfg.Status.File != "" {
		e.sinks = append(e.sinks, NewFileSink(cfg.Status.File))
	}
	e.sinks = append(e.sinks, LogSink{Log: logger})

	return e, nil
}

// AddSink registers an additional status sink. Must be called before Run.
func (e *Engine) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

// Run connects both links and relays messages until ctx is cancelled or
// RequestShutdown is called. A connect failure that exhausts its retries
// is returned as-is: startup failure is fatal and the process supervisor
// owns the restart policy.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	e.log.Info().Str("run_id", e.runID).
		Str("port_a", e.links[radio.LinkA].Port()).
		Str("port_b", e.links[radio.LinkB].Port()).
		Msg("starting bridge")

	if err := e.links[radio.LinkA].Connect(ctx); err != nil {
		return err
	}
	if err := e.links[radio.LinkB].Connect(ctx); err != nil {
		// Do not leak the first handle when the second link is dead.
		e.links[radio.LinkA].Close()
		return err
	}

	var wg sync.WaitGroup
	for _, origin := range []radio.Origin{radio.LinkA, radio.LinkB} {
		origin := origin
		e.links[origin].SetReceiveHandler(func(msg radio.Message) {
			e.enqueue(origin, msg)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.consume(ctx, origin)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reportLoop(ctx)
	}()

	e.startedAt = e.clk.Now()
	e.setRunning(true)
	e.log.Info().Msg("bridge is now running")

	<-ctx.Done()
	e.setRunning(false)

	for _, lm := range e.links {
		if err := lm.Close(); err != nil {
			e.log.Warn().Err(err).Str("link", lm.Origin().String()).
				Msg("error closing link during shutdown")
		}
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(shutdownGrace):
		e.log.Warn().Msg("background goroutines did not stop within the grace period")
	}

	e.log.Info().Msg("bridge stopped")
	return nil
}

// RequestShutdown initiates shutdown. Safe to call from any goroutine;
// repeated calls are no-ops.
func (e *Engine) RequestShutdown() {
	e.shutdownOnce.Do(func() {
		e.log.Info().Msg("shutdown requested")
		close(e.shutdownCh)
	})
}

// enqueue hands an inbound message to the link's consumer. The radio's
// I/O goroutine must never block on a slow bridge, so a full queue drops
// the message and counts it as an error.
func (e *Engine) enqueue(origin radio.Origin, msg radio.Message) {
	select {
	case e.queues[origin] <- msg:
	default:
		e.log.Warn().Str("link", origin.String()).Uint32("id", msg.ID).
			Msg("inbound queue full, dropping message")
		e.countError(origin)
	}
}

func (e *Engine) consume(ctx context.Context, origin radio.Origin) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.queues[origin]:
			e.handleInbound(ctx, origin, msg)
		}
	}
}

// handleInbound makes the forwarding decision for one message. The
// dedup check and record are a single atomic operation, so the same
// identifier arriving concurrently on both links is forwarded at most
// once.
func (e *Engine) handleInbound(ctx context.Context, origin radio.Origin, msg radio.Message) {
	name := origin.String()

	if msg.ID == 0 {
		e.log.Warn().Str("link", name).Str("from", msg.From).
			Msgf("dropping malformed message: %v", fmt.Errorf("%w: missing packet id", radio.ErrProtocol))
		metrics.ProtocolErrors.WithLabelValues(name).Inc()
		e.countError(origin)
		return
	}

	if !e.tracker.CheckAndRecord(msg.ID, origin, msg.Text) {
		e.log.Debug().Str("link", name).Uint32("id", msg.ID).
			Msg("already seen, suppressing duplicate")
		metrics.DuplicatesSuppressed.WithLabelValues(name).Inc()
		e.statsMu.Lock()
		e.linkStats[origin].Duplicates++
		e.statsMu.Unlock()
		return
	}
	metrics.TrackerSize.Set(float64(e.tracker.Len()))

	e.statsMu.Lock()
	e.linkStats[origin].Received++
	e.statsMu.Unlock()
	metrics.MessagesReceived.WithLabelValues(name).Inc()

	e.log.Info().Str("link", name).Uint32("id", msg.ID).
		Str("from", msg.From).Str("to", msg.To).Int("channel", msg.Channel).
		Msg("received message")

	target := origin.Opposite()
	// Best-effort relay: a failed forward is counted and logged, never
	// retried and never fatal.
	if err := e.links[target].Send(ctx, msg); err != nil {
		e.log.Error().Err(err).Str("link", target.String()).Uint32("id", msg.ID).
			Msg("failed to forward message")
		metrics.SendErrors.WithLabelValues(target.String()).Inc()
		e.countError(target)
		return
	}

	e.tracker.MarkForwarded(msg.ID)
	e.statsMu.Lock()
	e.linkStats[target].Sent++
	e.statsMu.Unlock()
	metrics.MessagesSent.WithLabelValues(target.String()).Inc()

	e.log.Info().Str("from_link", name).Str("to_link", target.String()).
		Uint32("id", msg.ID).Msg("forwarded message")
}

func (e *Engine) countError(origin radio.Origin) {
	e.statsMu.Lock()
	e.linkStats[origin].Errors++
	e.statsMu.Unlock()
}

// Stats returns a copy of the engine-wide counters.
func (e *Engine) Stats() Statistics {
	e.statsMu.Lock()
	a, b := e.linkStats[radio.LinkA], e.linkStats[radio.LinkB]
	e.statsMu.Unlock()
	return Statistics{LinkA: a, LinkB: b, Tracker: e.tracker.Stats()}
}

// Recent lists up to n recently tracked messages, newest last.
func (e *Engine) Recent(n int) []dedup.Entry {
	return e.tracker.Recent(n)
}

// Snapshot builds the status object for the reporter and the status API.
func (e *Engine) Snapshot() Snapshot {
	now := e.clk.Now()
	var uptime int64
	if running := e.isRunning(); running && !e.startedAt.IsZero() {
		uptime = int64(now.Sub(e.startedAt).Seconds())
	}

	reports := make(map[string]LinkReport, 2)
	failures := make(map[string]int, 2)
	ports := make(map[string]string, 2)
	connected := true
	for _, lm := range e.links {
		name := lm.Origin().String()
		st := lm.Status()
		if st != link.Connected {
			connected = false
		}
		reports[name] = LinkReport{
			Port:           lm.Port(),
			State:          st.String(),
			NodeID:         lm.NodeID(),
			HealthFailures: lm.HealthFailures(),
			LastError:      lm.LastError(),
		}
		failures[name] = lm.HealthFailures()
		ports[name] = lm.Port()
	}

	return Snapshot{
		RunID:          e.runID,
		Running:        e.isRunning(),
		LinksConnected: connected,
		UptimeSeconds:  uptime,
		Stats:          e.Stats(),
		HealthFailures: failures,
		Timestamp:      jsontime.Unix{Time: now},
		Ports:          ports,
		Links:          reports,
	}
}

// Monitor exposes the health monitor, mainly so tests can drive probe
// cycles directly.
func (e *Engine) Monitor() *health.Monitor { return e.monitor }

// Link returns the manager for one side of the bridge.
func (e *Engine) Link(origin radio.Origin) *link.Manager { return e.links[origin] }

func (e *Engine) setRunning(v bool) {
	e.runningMu.Lock()
	e.running = v
	e.runningMu.Unlock()
}

func (e *Engine) isRunning() bool {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	return e.running
}
