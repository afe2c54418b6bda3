package radio

import (
	"fmt"
	"sort"
	"sync"
)

// Transport factories register themselves here, the way database/sql
// drivers do, so the daemon can select a transport by name without the
// core importing device-specific code.

var (
	transportsMu sync.RWMutex
	transports   = make(map[string]func() Dialer)
)

// RegisterTransport makes a transport available under the given name.
// It panics when the name is taken or the factory is nil; registration
// happens in init functions where a panic is the right failure mode.
func RegisterTransport(name string, factory func() Dialer) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	if factory == nil {
		panic("radio: RegisterTransport factory is nil")
	}
	if _, dup := transports[name]; dup {
		panic("radio: RegisterTransport called twice for transport " + name)
	}
	transports[name] = factory
}

// NewTransport returns a fresh Dialer for the named transport.
func NewTransport(name string) (Dialer, error) {
	transportsMu.RLock()
	factory, ok := transports[name]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown transport %q (registered: %v)",
			ErrConnection, name, Transports())
	}
	return factory(), nil
}

// Transports lists the registered transport names, sorted.
func Transports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
