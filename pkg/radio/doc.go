// Package radio defines the contract between the bridge core and the
// mesh-radio transport that backs each link.
//
// The core abstractions:
//   - Dialer: opens a serial (or equivalent) port and returns a live Conn
//   - Conn: one attached radio - send, receive handler, liveness probe,
//     reboot request, close
//   - Message: the application-level text message relayed between links
//   - Origin: which of the two bridged links a message arrived on
//
// The bridge never speaks the mesh wire protocol itself; a transport
// package implements Dialer/Conn against the real device API and the
// bridge depends only on these interfaces. The loopback subpackage
// provides an in-process implementation for tests and development.
//
// Every failure a transport can report maps onto one of the sentinel
// errors in this package (ErrConnection, ErrSend, ErrCommand,
// ErrUnsupported, ErrProtocol) so the bridge can classify failures with
// errors.Is without knowing the transport.
package radio
