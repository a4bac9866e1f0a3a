package swim

import "context"

// Incoming is one received datagram paired with the sender identity
// the transport resolved it to.
type Incoming struct {
	Message Message
	Sender  MemberID
}

// Transport is the engine's view of the network (§6.3). The concrete
// transport (UDP sockets, I/O polling, address caches) is an external
// collaborator — this is the only seam the engine depends on, so any
// transport satisfying it (UDP, in-memory for tests, etc.) can drive
// the engine.
//
// Engines are constructed around a Transport and never attempt to
// restart it: once Incoming's channel closes, the engine's receive
// loop exits.
type Transport interface {
	// Send delivers message to target. A returned error is treated by
	// the engine as equivalent to a timeout for probe purposes (§7).
	Send(ctx context.Context, message Message, target MemberID) error

	// Incoming returns a channel of (message, sender) pairs. The
	// channel is finite: it closes when the transport shuts down, and
	// is never restarted.
	Incoming() <-chan Incoming

	// LocalAddress returns the address this transport is bound to.
	LocalAddress() string
}
