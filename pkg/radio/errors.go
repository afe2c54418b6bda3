package radio

import "errors"

var (
	// ErrConnection is wrapped by failures to open or keep a link.
	ErrConnection = errors.New("radio: connection failed")
	// ErrSend is wrapped by transient send failures; never fatal.
	ErrSend = errors.New("radio: send failed")
	// ErrCommand is wrapped when an admin command (such as reboot)
	// was accepted by the transport but failed on the device.
	ErrCommand = errors.New("radio: command failed")
	// ErrUnsupported is wrapped when the transport cannot perform the
	// requested admin command at all.
	ErrUnsupported = errors.New("radio: command not supported")
	// ErrProtocol is wrapped when an inbound message is malformed.
	ErrProtocol = errors.New("radio: protocol error")
)
