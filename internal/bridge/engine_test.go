package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceNet-01/meshtastic-bridge-headless/internal/link"
	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio/loopback"
)

// stubConn records sends and lets tests script failures.
type stubConn struct {
	mu      sync.Mutex
	sent    []radio.Message
	sendErr error
	handler radio.ReceiveFunc
	closed  bool
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) Send(ctx context.Context, msg radio.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *stubConn) OnReceive(fn radio.ReceiveFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *stubConn) IsResponsive(ctx context.Context) bool { return true }
func (c *stubConn) RequestReboot(ctx context.Context) error {
	return fmt.Errorf("%w: stub", radio.ErrUnsupported)
}
func (c *stubConn) NodeID() string { return "!stub" }

func (c *stubConn) sentMessages() []radio.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]radio.Message(nil), c.sent...)
}

func (c *stubConn) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// stubDialer maps ports to stubConns.
type stubDialer struct {
	mu      sync.Mutex
	conns   map[string]*stubConn
	failAll bool
}

func newStubDialer() *stubDialer {
	return &stubDialer{conns: make(map[string]*stubConn)}
}

func (d *stubDialer) Open(ctx context.Context, port string) (radio.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, fmt.Errorf("%w: no device on %s", radio.ErrConnection, port)
	}
	c := &stubConn{}
	d.conns[port] = c
	return c, nil
}

func (d *stubDialer) conn(port string) *stubConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[port]
}

func testConfig() *Config {
	cfg := &Config{
		LinkA: LinkConfig{Port: "portA"},
		LinkB: LinkConfig{Port: "portB"},
	}
	cfg.Connection.InitialDelay = Duration(time.Nanosecond)
	cfg.Connection.ConnectSettle = Duration(-1)
	cfg.Health.RebootSettle = Duration(-1)
	cfg.SetDefaults()
	return cfg
}

// connectedEngine builds an engine with both links connected, ready for
// direct handleInbound calls.
func connectedEngine(t *testing.T, dialer radio.Dialer) *Engine {
	t.Helper()
	e, err := New(dialer, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, e.Link(radio.LinkA).Connect(context.Background()))
	require.NoError(t, e.Link(radio.LinkB).Connect(context.Background()))
	return e
}

func TestEngine_SymmetricRelay(t *testing.T) {
	dialer := newStubDialer()
	e := connectedEngine(t, dialer)

	msg := radio.Message{ID: 1, From: "!A1", To: "^all", Text: "hi", Channel: 2}
	e.handleInbound(context.Background(), radio.LinkA, msg)

	sent := dialer.conn("portB").sentMessages()
	require.Len(t, sent, 1, "message should be forwarded to link B exactly once")
	assert.Equal(t, msg, sent[0], "message must be relayed verbatim")
	assert.Empty(t, dialer.conn("portA").sentMessages(), "nothing goes back out on the receiving link")

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.LinkA.Received)
	assert.Equal(t, uint64(1), stats.LinkB.Sent)
	assert.Equal(t, uint64(1), stats.Tracker.TotalForwarded)

	// And the mirror direction.
	reply := radio.Message{ID: 2, From: "!B9", To: "^all", Text: "yo", Channel: 0}
	e.handleInbound(context.Background(), radio.LinkB, reply)
	require.Len(t, dialer.conn("portA").sentMessages(), 1)

	stats = e.Stats()
	assert.Equal(t, uint64(1), stats.LinkB.Received)
	assert.Equal(t, uint64(1), stats.LinkA.Sent)
}

func TestEngine_DuplicateSuppressed(t *testing.T) {
	dialer := newStubDialer()
	e := connectedEngine(t, dialer)

	msg := radio.Message{ID: 7, From: "!A1", To: "^all", Text: "hi"}
	e.handleInbound(context.Background(), radio.LinkA, msg)
	e.handleInbound(context.Background(), radio.LinkA, msg)

	assert.Len(t, dialer.conn("portB").sentMessages(), 1, "duplicate must not be forwarded")
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.LinkA.Received)
	assert.Equal(t, uint64(1), stats.LinkA.Duplicates)

	// The forwarded copy arriving back on the other link is suppressed
	// too: that is what breaks relay loops.
	e.handleInbound(context.Background(), radio.LinkB, msg)
	assert.Empty(t, dialer.conn("portA").sentMessages())
	assert.Equal(t, uint64(1), e.Stats().LinkB.Duplicates)
}

func TestEngine_AtMostOnceUnderConcurrentDelivery(t *testing.T) {
	dialer := newStubDialer()
	e := connectedEngine(t, dialer)

	msg := radio.Message{ID: 99, From: "!A1", To: "^all", Text: "race"}
	const deliveries = 20
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.handleInbound(context.Background(), radio.LinkA, msg)
		}()
	}
	wg.Wait()

	assert.Len(t, dialer.conn("portB").sentMessages(), 1,
		"%d concurrent deliveries of one id must produce exactly one forward", deliveries)
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.LinkA.Received)
	assert.Equal(t, uint64(deliveries-1), stats.LinkA.Duplicates)
}

func TestEngine_MalformedMessageDropped(t *testing.T) {
	dialer := newStubDialer()
	e := connectedEngine(t, dialer)

	e.handleInbound(context.Background(), radio.LinkA, radio.Message{ID: 0, Text: "no id"})

	assert.Empty(t, dialer.conn("portB").sentMessages())
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.LinkA.Errors)
	assert.Equal(t, uint64(0), stats.LinkA.Received)
	assert.Equal(t, uint64(0), stats.Tracker.TotalSeen, "malformed messages are not tracked")
}

func TestEngine_SendFailureCountedNotFatal(t *testing.T) {
	dialer := newStubDialer()
	e := connectedEngine(t, dialer)

	dialer.conn("portB").failSends(fmt.Errorf("%w: tx queue full", radio.ErrSend))
	e.handleInbound(context.Background(), radio.LinkA, radio.Message{ID: 5, Text: "doomed"})

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.LinkB.Errors)
	assert.Equal(t, uint64(0), stats.LinkB.Sent)
	assert.Equal(t, uint64(0), stats.Tracker.TotalForwarded, "failed forwards are not marked forwarded")
	assert.Equal(t, uint64(1), stats.LinkA.Received, "the message still counts as received")
}

func TestEngine_IndependentLinkFailure(t *testing.T) {
	dialer := newStubDialer()
	e := connectedEngine(t, dialer)

	// Link A dies. Link B keeps receiving; forwards to A fail with a
	// send error and are counted, not fatal.
	require.NoError(t, e.Link(radio.LinkA).Close())
	assert.Equal(t, link.Disconnected, e.Link(radio.LinkA).Status())

	for id := uint32(10); id < 13; id++ {
		e.handleInbound(context.Background(), radio.LinkB, radio.Message{ID: id, Text: "still here"})
	}

	stats := e.Stats()
	assert.Equal(t, uint64(3), stats.LinkB.Received)
	assert.Equal(t, uint64(3), stats.LinkA.Errors)
	assert.Equal(t, uint64(0), stats.LinkA.Sent)
	assert.False(t, e.Snapshot().LinksConnected)
}

func TestEngine_Snapshot(t *testing.T) {
	dialer := newStubDialer()
	e := connectedEngine(t, dialer)

	e.handleInbound(context.Background(), radio.LinkA, radio.Message{ID: 3, Text: "hello"})
	e.Link(radio.LinkB).RecordHealthFailure()

	snap := e.Snapshot()
	assert.NotEmpty(t, snap.RunID)
	assert.False(t, snap.Running, "engine is not running until Run is called")
	assert.True(t, snap.LinksConnected)
	assert.Equal(t, "portA", snap.Ports["linkA"])
	assert.Equal(t, "portB", snap.Ports["linkB"])
	assert.Equal(t, 0, snap.HealthFailures["linkA"])
	assert.Equal(t, 1, snap.HealthFailures["linkB"])
	assert.Equal(t, "Connected", snap.Links["linkA"].State)
	assert.Equal(t, uint64(1), snap.Stats.LinkA.Received)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestEngine_RecentMessages(t *testing.T) {
	dialer := newStubDialer()
	e := connectedEngine(t, dialer)

	e.handleInbound(context.Background(), radio.LinkA, radio.Message{ID: 1, Text: "one"})
	e.handleInbound(context.Background(), radio.LinkB, radio.Message{ID: 2, Text: "two"})

	recent := e.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "one", recent[0].Summary)
	assert.True(t, recent[0].Forwarded)
	assert.Equal(t, "linkB", recent[1].Link)
}

func TestEngine_RunStartupFailureIsFatal(t *testing.T) {
	dialer := newStubDialer()
	dialer.failAll = true
	e, err := New(dialer, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.ErrorIs(t, err, radio.ErrConnection)
}

func TestEngine_RunWithLoopbackTransport(t *testing.T) {
	dialer := loopback.NewDialer()
	e, err := New(dialer, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool { return e.Snapshot().LinksConnected },
		2*time.Second, time.Millisecond)

	connA, err := dialer.Open(context.Background(), "portA")
	require.NoError(t, err)
	connA.(*loopback.Conn).Inject(radio.Message{ID: 42, From: "!A1", To: "^all", Text: "hi"})

	// The forward to B echoes back to A over the loopback pair and is
	// suppressed there, so exactly one message crosses the bridge.
	require.Eventually(t, func() bool {
		return e.Stats().LinkB.Sent == 1
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return e.Stats().LinkA.Duplicates == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), e.Stats().Tracker.TotalForwarded)

	e.RequestShutdown()
	e.RequestShutdown() // idempotent
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after shutdown request")
	}
	assert.False(t, e.Snapshot().Running)
}

func TestEngine_NilConfig(t *testing.T) {
	_, err := New(newStubDialer(), nil, zerolog.Nop())
	require.Error(t, err)
}
