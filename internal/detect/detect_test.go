package detect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
)

// probeDialer simulates a /dev tree: ports it knows about open and
// answer probes according to their scripted behavior.
type probeDialer struct {
	mu    sync.Mutex
	ports map[string]probePort
	opens int
}

type probePort struct {
	openErr    error
	responsive bool
	nodeID     string
}

func (d *probeDialer) Open(ctx context.Context, port string) (radio.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	p, ok := d.ports[port]
	if !ok {
		return nil, fmt.Errorf("%w: no such device %s", radio.ErrConnection, port)
	}
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &probeConn{port: p}, nil
}

func (d *probeDialer) set(port string, p probePort) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ports[port] = p
}

type probeConn struct {
	port probePort
}

func (c *probeConn) Close() error                                   { return nil }
func (c *probeConn) Send(ctx context.Context, m radio.Message) error { return nil }
func (c *probeConn) OnReceive(fn radio.ReceiveFunc)                 {}
func (c *probeConn) IsResponsive(ctx context.Context) bool          { return c.port.responsive }
func (c *probeConn) RequestReboot(ctx context.Context) error        { return nil }
func (c *probeConn) NodeID() string                                 { return c.port.nodeID }

// fakeDevDir creates named device files under a temp dir and returns
// the dir plus glob patterns pointing into it.
func fakeDevDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatalf("creating fake device %s: %v", name, err)
		}
	}
	return dir, []string{
		filepath.Join(dir, "ttyUSB*"),
		filepath.Join(dir, "ttyACM*"),
	}
}

func newTestDetector(t *testing.T, dialer radio.Dialer, patterns []string) *Detector {
	t.Helper()
	d := New(dialer, zerolog.Nop())
	d.SetPatterns(patterns)
	return d
}

func TestCandidatePorts(t *testing.T) {
	dir, patterns := fakeDevDir(t, "ttyUSB0", "ttyUSB1", "ttyACM0", "ttyS0")

	d := newTestDetector(t, &probeDialer{}, patterns)
	ports, err := d.CandidatePorts()
	if err != nil {
		t.Fatalf("CandidatePorts error: %v", err)
	}

	want := []string{
		filepath.Join(dir, "ttyACM0"),
		filepath.Join(dir, "ttyUSB0"),
		filepath.Join(dir, "ttyUSB1"),
	}
	if len(ports) != len(want) {
		t.Fatalf("got %d candidates %v, want %d", len(ports), ports, len(want))
	}
	for i := range want {
		if ports[i] != want[i] {
			t.Errorf("candidate[%d] = %s, want %s", i, ports[i], want[i])
		}
	}
}

func TestCandidatePortsEmpty(t *testing.T) {
	_, patterns := fakeDevDir(t)
	d := newTestDetector(t, &probeDialer{}, patterns)

	ports, err := d.CandidatePorts()
	if err != nil {
		t.Fatalf("CandidatePorts error: %v", err)
	}
	if len(ports) != 0 {
		t.Fatalf("expected no candidates, got %v", ports)
	}
}

func TestVerify(t *testing.T) {
	dialer := &probeDialer{ports: map[string]probePort{
		"/dev/ttyUSB0": {responsive: true, nodeID: "!aabbccdd"},
		"/dev/ttyUSB1": {responsive: false},
	}}
	d := newTestDetector(t, dialer, nil)
	ctx := context.Background()

	dev, err := d.Verify(ctx, "/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if dev.NodeID != "!aabbccdd" || dev.Port != "/dev/ttyUSB0" {
		t.Fatalf("unexpected device %+v", dev)
	}

	if _, err := d.Verify(ctx, "/dev/ttyUSB1"); !errors.Is(err, radio.ErrConnection) {
		t.Fatalf("unresponsive port: want ErrConnection, got %v", err)
	}
	if _, err := d.Verify(ctx, "/dev/ttyUSB9"); !errors.Is(err, radio.ErrConnection) {
		t.Fatalf("missing port: want ErrConnection, got %v", err)
	}
}

func TestDetectRadiosSkipsDeadPorts(t *testing.T) {
	dir, patterns := fakeDevDir(t, "ttyUSB0", "ttyUSB1", "ttyACM0")

	dialer := &probeDialer{ports: map[string]probePort{
		filepath.Join(dir, "ttyACM0"): {openErr: errors.New("EBUSY")},
		filepath.Join(dir, "ttyUSB0"): {responsive: true, nodeID: "!radio-a"},
		filepath.Join(dir, "ttyUSB1"): {responsive: true, nodeID: "!radio-b"},
	}}
	d := newTestDetector(t, dialer, patterns)

	devices, err := d.DetectRadios(context.Background(), 2)
	if err != nil {
		t.Fatalf("DetectRadios error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].NodeID != "!radio-a" || devices[1].NodeID != "!radio-b" {
		t.Fatalf("unexpected devices %+v", devices)
	}
}

func TestDetectRadiosStopsAtRequired(t *testing.T) {
	dir, patterns := fakeDevDir(t, "ttyUSB0", "ttyUSB1", "ttyUSB2")

	dialer := &probeDialer{ports: map[string]probePort{
		filepath.Join(dir, "ttyUSB0"): {responsive: true, nodeID: "!a"},
		filepath.Join(dir, "ttyUSB1"): {responsive: true, nodeID: "!b"},
		filepath.Join(dir, "ttyUSB2"): {responsive: true, nodeID: "!c"},
	}}
	d := newTestDetector(t, dialer, patterns)

	devices, err := d.DetectRadios(context.Background(), 2)
	if err != nil {
		t.Fatalf("DetectRadios error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if got := dialer.opens; got != 2 {
		t.Fatalf("probed %d ports, want 2 (should stop once enough are found)", got)
	}
}

func TestDetectRadiosNotEnough(t *testing.T) {
	dir, patterns := fakeDevDir(t, "ttyUSB0")

	dialer := &probeDialer{ports: map[string]probePort{
		filepath.Join(dir, "ttyUSB0"): {responsive: true, nodeID: "!only"},
	}}
	d := newTestDetector(t, dialer, patterns)

	devices, err := d.DetectRadios(context.Background(), 2)
	if !errors.Is(err, radio.ErrConnection) {
		t.Fatalf("want ErrConnection, got %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("partial result should still list the found radio, got %+v", devices)
	}
}

func TestWaitForRadiosEventuallySucceeds(t *testing.T) {
	dir, patterns := fakeDevDir(t, "ttyUSB0", "ttyUSB1")
	portA := filepath.Join(dir, "ttyUSB0")
	portB := filepath.Join(dir, "ttyUSB1")

	dialer := &probeDialer{ports: map[string]probePort{
		portA: {responsive: true, nodeID: "!a"},
		portB: {responsive: false},
	}}
	d := newTestDetector(t, dialer, patterns)

	// Second radio shows up while we are polling.
	go func() {
		time.Sleep(5 * time.Millisecond)
		dialer.set(portB, probePort{responsive: true, nodeID: "!b"})
	}()

	devices, err := d.WaitForRadios(context.Background(), 2, 5*time.Second, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForRadios error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
}

func TestWaitForRadiosTimesOut(t *testing.T) {
	_, patterns := fakeDevDir(t)
	d := newTestDetector(t, &probeDialer{}, patterns)

	_, err := d.WaitForRadios(context.Background(), 2, 10*time.Millisecond, 3*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, radio.ErrConnection) {
		t.Fatalf("timeout should carry the detection error, got %v", err)
	}
}

func TestWaitForRadiosCancelled(t *testing.T) {
	_, patterns := fakeDevDir(t)
	d := newTestDetector(t, &probeDialer{}, patterns)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(2 * time.Millisecond)
		cancel()
	}()

	_, err := d.WaitForRadios(ctx, 2, time.Minute, 50*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
