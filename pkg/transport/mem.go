package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/auracord/auracord-node/pkg/protocol"
)

// MemNetwork is an in-process fabric connecting MemTransport endpoints.
// Delivery is synchronous: Send returns after the remote handler ran.
// Used by tests and by single-process demos.
type MemNetwork struct {
	mu      sync.Mutex
	claimed map[string]*MemTransport
}

// NewMemNetwork creates an empty fabric.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{claimed: make(map[string]*MemTransport)}
}

// Endpoint creates an unclaimed transport bound to this fabric.
func (n *MemNetwork) Endpoint(id string) *MemTransport {
	return &MemTransport{
		net:   n,
		id:    id,
		conns: make(map[string]*memConn),
	}
}

func (n *MemNetwork) lookup(id string) *MemTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.claimed[id]
}

// MemTransport is one endpoint on a MemNetwork.
type MemTransport struct {
	net     *MemNetwork
	id      string
	handler Handler

	mu      sync.Mutex
	claimed bool
	conns   map[string]*memConn
}

func (t *MemTransport) LocalID() string { return t.id }

func (t *MemTransport) SetHandler(h Handler) { t.handler = h }

// Claim registers the identity on the fabric. A second endpoint
// claiming the same identity gets ErrIdentityClaimed.
func (t *MemTransport) Claim(ctx context.Context) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if holder, ok := t.net.claimed[t.id]; ok && holder != t {
		return ErrIdentityClaimed
	}
	t.net.claimed[t.id] = t

	t.mu.Lock()
	t.claimed = true
	t.mu.Unlock()
	return nil
}

// Connect opens a connection pair to a claimed remote endpoint. The
// remote's HandleOpen fires first, then the local one, then Connect
// returns.
func (t *MemTransport) Connect(ctx context.Context, remoteID string) (Conn, error) {
	t.mu.Lock()
	if !t.claimed {
		t.mu.Unlock()
		return nil, ErrNotClaimed
	}
	if existing, ok := t.conns[remoteID]; ok {
		t.mu.Unlock()
		return existing, nil
	}
	t.mu.Unlock()

	remote := t.net.lookup(remoteID)
	if remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, remoteID)
	}

	local := &memConn{owner: t, remoteID: remoteID}
	far := &memConn{owner: remote, remoteID: t.id}
	local.peer = far
	far.peer = local
	link := &memLink{}
	local.link = link
	far.link = link

	t.addConn(local)
	remote.addConn(far)

	remote.handler.HandleOpen(far)
	t.handler.HandleOpen(local)
	return local, nil
}

func (t *MemTransport) addConn(c *memConn) {
	t.mu.Lock()
	t.conns[c.remoteID] = c
	t.mu.Unlock()
}

func (t *MemTransport) dropConn(c *memConn) {
	t.mu.Lock()
	if t.conns[c.remoteID] == c {
		delete(t.conns, c.remoteID)
	}
	t.mu.Unlock()
}

// Call opens a call channel to a claimed remote endpoint. The invite
// surfaces at the remote handler before Call returns.
func (t *MemTransport) Call(ctx context.Context, remoteID string, local MediaStream) (Call, error) {
	t.mu.Lock()
	claimed := t.claimed
	t.mu.Unlock()
	if !claimed {
		return nil, ErrNotClaimed
	}

	remote := t.net.lookup(remoteID)
	if remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, remoteID)
	}

	caller := &memCall{remoteID: remoteID, withVideo: local.HasVideo(), localStream: local}
	callee := &memCall{remoteID: t.id, withVideo: local.HasVideo(), inbound: true}
	caller.peer = callee
	callee.peer = caller
	link := &memLink{}
	caller.link = link
	callee.link = link

	remote.handler.HandleCallInvite(callee)
	return caller, nil
}

// Close drops the claim and closes every open connection.
func (t *MemTransport) Close() error {
	t.net.mu.Lock()
	if t.net.claimed[t.id] == t {
		delete(t.net.claimed, t.id)
	}
	t.net.mu.Unlock()

	t.mu.Lock()
	conns := make([]*memConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.claimed = false
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

// memLink holds state shared by both ends of a connection or call.
type memLink struct {
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (l *memLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *memLink) setClosed() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// memConn is one end of an in-process connection pair.
type memConn struct {
	owner    *MemTransport
	remoteID string
	peer     *memConn
	link     *memLink
}

func (c *memConn) RemoteID() string { return c.remoteID }

// Send delivers the frame to the remote handler before returning. The
// frame is copied so the sender can reuse it.
func (c *memConn) Send(f *protocol.Frame) error {
	if c.link.isClosed() {
		return ErrConnClosed
	}
	delivered := *f
	c.peer.owner.handler.HandleFrame(c.peer, &delivered)
	return nil
}

// Close tears both ends down; HandleClose fires exactly once per end.
func (c *memConn) Close() error {
	c.link.once.Do(func() {
		c.link.setClosed()
		c.owner.dropConn(c)
		c.peer.owner.dropConn(c.peer)
		c.peer.owner.handler.HandleClose(c.peer, nil)
		c.owner.handler.HandleClose(c, nil)
	})
	return nil
}

// memCall is one end of an in-process call channel.
type memCall struct {
	remoteID    string
	withVideo   bool
	inbound     bool
	peer        *memCall
	link        *memLink
	localStream MediaStream

	mu            sync.Mutex
	streamFn      func(MediaStream)
	closeFn       func()
	pendingStream MediaStream
	pendingClose  bool
}

func (c *memCall) RemoteID() string { return c.remoteID }
func (c *memCall) WithVideo() bool  { return c.withVideo }

// SetStreamHandler registers the stream callback. An arrival that beat
// the registration is delivered immediately.
func (c *memCall) SetStreamHandler(fn func(MediaStream)) {
	c.mu.Lock()
	c.streamFn = fn
	pending := c.pendingStream
	c.pendingStream = nil
	c.mu.Unlock()
	if pending != nil && fn != nil {
		fn(pending)
	}
}

// SetCloseHandler registers the close callback. A close that beat the
// registration is delivered immediately.
func (c *memCall) SetCloseHandler(fn func()) {
	c.mu.Lock()
	c.closeFn = fn
	pending := c.pendingClose
	c.pendingClose = false
	c.mu.Unlock()
	if pending && fn != nil {
		fn()
	}
}

// Answer accepts an inbound invite: each side receives the other's
// media stream.
func (c *memCall) Answer(local MediaStream) error {
	if !c.inbound {
		return fmt.Errorf("answer on outbound call")
	}
	if c.link.isClosed() {
		return ErrConnClosed
	}
	c.localStream = local
	c.peer.fireStream(local)
	c.fireStream(c.peer.localStream)
	return nil
}

// Reject declines an inbound invite; the caller's close handler fires.
func (c *memCall) Reject() error {
	c.link.once.Do(func() {
		c.link.setClosed()
		c.peer.fireClose()
	})
	return nil
}

// End tears the channel down. Idempotent; both close handlers fire
// exactly once.
func (c *memCall) End() error {
	c.link.once.Do(func() {
		c.link.setClosed()
		c.peer.fireClose()
		c.fireClose()
	})
	return nil
}

func (c *memCall) fireStream(s MediaStream) {
	c.mu.Lock()
	fn := c.streamFn
	if fn == nil {
		c.pendingStream = s
	}
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *memCall) fireClose() {
	c.mu.Lock()
	fn := c.closeFn
	if fn == nil {
		c.pendingClose = true
	}
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
