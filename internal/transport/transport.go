// Package transport models the cluster's rank-addressed point-to-point
// message primitive: send, non-blocking send with a completion-testable
// handle, probe, blocking/non-blocking receive, and broadcast. The transport itself — an MPI-like library, a TCP mesh, whatever
// a deployment supplies — is an external collaborator; this package only
// fixes the interface the rest of the system programs against, plus a
// couple of concrete implementations to make the repository runnable.
package transport

import "github.com/tablekernel/piccolo/internal/wire"

// AnyRank matches a message from any source rank, mirroring MPI's
// MPI_ANY_SOURCE.
const AnyRank = -1

// Handle is a completion-testable outstanding non-blocking send.
type Handle interface {
	// Test reports whether the send has completed. Non-blocking.
	Test() bool
	// Cancel abandons the in-flight send so it can be retried. The local
	// fabric drops a send it has not yet delivered; the gRPC transport's
	// send keeps running on its goroutine.
	Cancel()
}

// Transport is the rank-addressed message primitive the worker engine and
// master controller are built on. Implementations must serialize
// concurrent calls internally.
type Transport interface {
	Rank() int
	NumRanks() int

	// Send blocks until the underlying layer accepts payload for delivery
	// (it may still be buffered internally); message order is preserved
	// per (peer, tag) pair.
	Send(peer int, tag wire.Tag, payload []byte) error

	// ISend starts a non-blocking send and returns a handle for polling
	// completion or cancelling on timeout.
	ISend(peer int, tag wire.Tag, payload []byte) Handle

	// Probe reports whether a message from peer (or AnyRank) with the
	// given tag is available, without consuming it.
	Probe(peer int, tag wire.Tag) (source int, size int, ok bool)

	// Recv blocks until a matching message arrives and returns it.
	Recv(peer int, tag wire.Tag) (payload []byte, source int, err error)

	// TryRecv is Probe+Recv without blocking.
	TryRecv(peer int, tag wire.Tag) (payload []byte, source int, ok bool)

	// Broadcast sends payload with tag to every worker rank (1..NumRanks-1).
	Broadcast(tag wire.Tag, payload []byte) error

	Close() error
}
