// Package transport abstracts the peer-to-peer fabric the session layer
// runs on: connecting to peers by identifier, exchanging protocol
// frames, and setting up call channels. The engine only sees these
// interfaces; the libp2p implementation lives alongside them.
package transport

import (
	"context"
	"errors"

	"github.com/auracord/auracord-node/pkg/protocol"
)

var (
	// ErrIdentityClaimed means another live endpoint already holds the
	// local peer identity. Surfaced to the user; never retried
	// automatically.
	ErrIdentityClaimed = errors.New("identity already claimed")

	ErrNotClaimed   = errors.New("transport identity not claimed")
	ErrConnClosed   = errors.New("connection closed")
	ErrPeerNotFound = errors.New("peer not found")
)

// Conn is a live bidirectional frame channel to one remote peer.
type Conn interface {
	RemoteID() string
	Send(f *protocol.Frame) error
	Close() error
}

// Handler receives transport events. Events for a single connection
// are delivered in arrival order; no ordering holds across peers.
type Handler interface {
	// HandleOpen fires when a connection reaches the open state,
	// whether dialed locally or accepted inbound.
	HandleOpen(c Conn)

	// HandleFrame fires for each decoded inbound frame.
	HandleFrame(c Conn, f *protocol.Frame)

	// HandleClose fires exactly once per connection; graceful close
	// and transport error both land here.
	HandleClose(c Conn, err error)

	// HandleCallInvite fires for an inbound call channel before any
	// local state exists for it.
	HandleCallInvite(call Call)
}

// Transport is the peer-to-peer fabric.
type Transport interface {
	// Claim establishes the local identity on the fabric. Returns
	// ErrIdentityClaimed when another live endpoint holds it.
	Claim(ctx context.Context) error

	// LocalID returns the local peer identifier.
	LocalID() string

	// SetHandler registers the event sink. Must be called before Claim.
	SetHandler(h Handler)

	// Connect dials a remote peer and returns the open connection. The
	// handler's HandleOpen fires for it as well.
	Connect(ctx context.Context, remoteID string) (Conn, error)

	// Call opens a call channel to a remote peer, announcing the local
	// media stream.
	Call(ctx context.Context, remoteID string, local MediaStream) (Call, error)

	Close() error
}

// Call is a call channel in any direction. Stream and close handlers
// must be registered before Answer (inbound) or fire-and-forget after
// Call (outbound); each resolves at most once.
type Call interface {
	RemoteID() string
	WithVideo() bool

	// SetStreamHandler registers the callback for remote media stream
	// arrival.
	SetStreamHandler(fn func(MediaStream))

	// SetCloseHandler registers the callback for channel teardown.
	SetCloseHandler(fn func())

	// Answer accepts an inbound invite with the local media stream.
	Answer(local MediaStream) error

	// Reject declines an inbound invite at the transport level.
	Reject() error

	// End tears the channel down. Safe to call more than once.
	End() error
}

// MediaStream is an opaque handle to a set of capture or playback
// tracks. Remote streams are placeholders whose tracks live on the
// remote end.
type MediaStream interface {
	ID() string
	HasVideo() bool
	StopTracks()
}

// MediaDevices acquires local capture streams. Acquisition is a
// suspension point that resolves exactly once per call.
type MediaDevices interface {
	Acquire(audio, video bool) (MediaStream, error)
}
