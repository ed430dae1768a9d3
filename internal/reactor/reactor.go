// Package reactor implements the edge-triggered I/O multiplexer described
// in spec.md §4.4: a single-threaded cooperative event loop with one
// callback per ready connection. The core is built directly on
// golang.org/x/sys/unix's epoll bindings (Linux), the same layer the
// reference event loop (modeled on gnet/rcproxy, see DESIGN.md) drives its
// reactor with — a higher-level poller would hide the edge-triggering
// spec.md requires.
package reactor

// Mask is the normalized readiness bitmask delivered to a Handler: hang-up
// collapses into Readable so the subsequent zero-byte read observes EOF,
// per spec.md §4.4.
type Mask uint8

const (
	Readable Mask = 1 << iota
	Writable
	ErrMask
)

// Handler is implemented by anything the reactor can drive: client
// connections, server connections, and the proxy listener.
type Handler interface {
	FD() int
	OnEvents(mask Mask)
}
