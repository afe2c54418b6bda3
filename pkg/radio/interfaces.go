package radio

import (
	"context"
	"io"
)

// Origin identifies which of the two bridged links a message arrived on.
type Origin int

const (
	LinkA Origin = iota
	LinkB
)

func (o Origin) String() string {
	switch o {
	case LinkA:
		return "linkA"
	case LinkB:
		return "linkB"
	default:
		return "unknown"
	}
}

// Opposite returns the link a message received on o is forwarded to.
func (o Origin) Opposite() Origin {
	if o == LinkA {
		return LinkB
	}
	return LinkA
}

// Message is one application-level text message as delivered by a radio.
// Messages are relayed verbatim: the bridge never rewrites sender,
// recipient, text or channel.
type Message struct {
	// ID is the transport-assigned packet identifier. Zero is never a
	// valid ID; the bridge treats it as a malformed message.
	ID uint32

	// From and To are node identifiers in the transport's own format
	// (e.g. "!a1b2c3d4" or "^all").
	From string
	To   string

	Text    string
	Channel int
}

// ReceiveFunc is invoked by a Conn for every inbound text message. The
// transport may invoke it from its own I/O goroutine; implementations
// must not assume any particular calling context.
type ReceiveFunc func(msg Message)

// Conn is one attached radio.
//
// All methods may be called concurrently. Close is idempotent.
type Conn interface {
	io.Closer

	// Send transmits a text message on the radio's mesh channel.
	// Failures wrap ErrSend.
	Send(ctx context.Context, msg Message) error

	// OnReceive registers the handler for inbound text messages.
	// Registering replaces any previous handler; a nil handler stops
	// delivery.
	OnReceive(fn ReceiveFunc)

	// IsResponsive is a cheap liveness probe, typically answered from
	// the device identity the transport caches at open time. It must
	// not generate mesh traffic.
	IsResponsive(ctx context.Context) bool

	// RequestReboot asks the radio firmware to reboot. Transports that
	// cannot reboot the device return an error wrapping ErrUnsupported;
	// a supported but failed command wraps ErrCommand.
	RequestReboot(ctx context.Context) error

	// NodeID returns the radio's own node identifier, or "" when the
	// transport has not learned it yet.
	NodeID() string
}

// Dialer opens radio connections. Implementations live outside the
// bridge core; see the loopback subpackage for the in-process one.
type Dialer interface {
	// Open attaches to the radio on the given port. Failures wrap
	// ErrConnection. The returned Conn is live: OnReceive may be
	// registered immediately.
	Open(ctx context.Context, port string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, port string) (Conn, error)

func (f DialerFunc) Open(ctx context.Context, port string) (Conn, error) {
	return f(ctx, port)
}
