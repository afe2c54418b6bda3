// Package loopback provides an in-process radio.Dialer whose two
// endpoints are cross-wired: a message sent on one endpoint is delivered
// to the other endpoint's receive handler. It stands in for real
// hardware in tests and in the daemon's --loopback development mode.
//
// Because the two endpoints behave like radios that hear each other, a
// bridge running on top of a loopback pair immediately re-receives every
// message it forwards. That makes the pair a convenient end-to-end
// exercise of duplicate suppression.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
)

func init() {
	radio.RegisterTransport("loopback", func() radio.Dialer { return NewDialer() })
}

// Dialer hands out the two endpoints of one cross-wired pair. The first
// two distinct ports opened get the two endpoints; any further port is
// rejected.
type Dialer struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewDialer creates an empty loopback dialer.
func NewDialer() *Dialer {
	return &Dialer{conns: make(map[string]*Conn)}
}

// Open returns the endpoint bound to port, creating it on first use.
func (d *Dialer) Open(ctx context.Context, port string) (radio.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.conns[port]; ok {
		if c.closedLocked() {
			c.reopen()
		}
		return c, nil
	}
	if len(d.conns) >= 2 {
		return nil, fmt.Errorf("%w: loopback pair already has two endpoints, cannot open %q",
			radio.ErrConnection, port)
	}

	c := &Conn{
		port:       port,
		nodeID:     "!" + uuid.NewString()[:8],
		responsive: true,
	}
	for _, peer := range d.conns {
		c.peer = peer
		peer.peer = c
	}
	d.conns[port] = c
	return c, nil
}

// Conn is one endpoint of a loopback pair. It also exposes test controls
// for simulating over-the-air traffic and device failure.
type Conn struct {
	mu         sync.Mutex
	port       string
	nodeID     string
	peer       *Conn
	handler    radio.ReceiveFunc
	closed     bool
	responsive bool
	sendErr    error
	rebootErr  error
	reboots    int
}

var _ radio.Conn = (*Conn)(nil)

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.handler = nil
	return nil
}

func (c *Conn) Send(ctx context.Context, msg radio.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: endpoint %s is closed", radio.ErrSend, c.port)
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", radio.ErrSend, err)
	}
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.Inject(msg)
	}
	return nil
}

func (c *Conn) OnReceive(fn radio.ReceiveFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *Conn) IsResponsive(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responsive && !c.closed
}

func (c *Conn) RequestReboot(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reboots++
	if c.rebootErr != nil {
		return c.rebootErr
	}
	return nil
}

func (c *Conn) NodeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeID
}

// Inject delivers msg to this endpoint's receive handler as if it
// arrived over the air.
func (c *Conn) Inject(msg radio.Message) {
	c.mu.Lock()
	fn := c.handler
	closed := c.closed
	c.mu.Unlock()
	if fn != nil && !closed {
		fn(msg)
	}
}

// SetResponsive controls the IsResponsive probe result.
func (c *Conn) SetResponsive(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responsive = ok
}

// FailSends makes every Send fail wrapping radio.ErrSend until called
// with nil.
func (c *Conn) FailSends(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = cause
}

// FailReboots makes RequestReboot return err (typically wrapping
// radio.ErrCommand or radio.ErrUnsupported) until called with nil.
func (c *Conn) FailReboots(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebootErr = err
}

// Reboots reports how many reboot requests this endpoint has received.
func (c *Conn) Reboots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reboots
}

func (c *Conn) closedLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
}
