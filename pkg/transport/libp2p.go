package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pproto "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/auracord/auracord-node/pkg/identity"
	"github.com/auracord/auracord-node/pkg/protocol"
)

const (
	// Protocol IDs for the two stream kinds
	ChatProtocol = libp2pproto.ID("/auracord/chat/1.0.0")
	CallProtocol = libp2pproto.ID("/auracord/call/1.0.0")
)

// Libp2pConfig contains configuration for the libp2p transport
type Libp2pConfig struct {
	Identity       *identity.Identity
	Port           int
	BootstrapPeers []string
	ClaimTimeout   time.Duration
}

// Libp2pTransport runs the session protocol over libp2p streams, with
// the Kademlia DHT resolving peer identifiers to reachable addresses.
type Libp2pTransport struct {
	cfg     Libp2pConfig
	host    host.Host
	dht     *dht.IpfsDHT
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler

	mu      sync.Mutex
	conns   map[peer.ID]*streamConn
	claimed bool
}

// NewLibp2pTransport creates the transport. The identity is not
// claimed on the fabric until Claim is called.
func NewLibp2pTransport(cfg Libp2pConfig) *Libp2pTransport {
	if cfg.ClaimTimeout == 0 {
		cfg.ClaimTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Libp2pTransport{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[peer.ID]*streamConn),
	}
}

// SetHandler registers the event sink. Must be called before Claim.
func (t *Libp2pTransport) SetHandler(h Handler) {
	t.handler = h
}

// LocalID returns the local peer identifier.
func (t *Libp2pTransport) LocalID() string {
	return t.cfg.Identity.String()
}

// Claim brings the host up under the derived identity and verifies no
// other live endpoint already advertises it.
func (t *Libp2pTransport) Claim(ctx context.Context) error {
	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", t.cfg.Port)

	h, err := libp2p.New(
		libp2p.Identity(t.cfg.Identity.PrivKey),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
	)
	if err != nil {
		return fmt.Errorf("failed to create libp2p host: %w", err)
	}

	dhtInst, err := dht.New(t.ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		h.Close()
		return fmt.Errorf("failed to create DHT: %w", err)
	}

	t.host = h
	t.dht = dhtInst

	if err := t.bootstrap(ctx); err != nil {
		log.Printf("⚠️  DHT bootstrap warning: %v", err)
	}

	// If the fabric already routes our identity to someone else's
	// addresses, a second session is live under the same account.
	if t.identityHeldElsewhere(ctx) {
		h.Close()
		t.host = nil
		t.dht = nil
		return ErrIdentityClaimed
	}

	h.SetStreamHandler(ChatProtocol, t.handleChatStream)
	h.SetStreamHandler(CallProtocol, t.handleCallStream)

	t.mu.Lock()
	t.claimed = true
	t.mu.Unlock()

	log.Printf("✅ Identity claimed: %s", t.LocalID())
	for _, addr := range h.Addrs() {
		log.Printf("   listening on %s/p2p/%s", addr, h.ID())
	}
	return nil
}

func (t *Libp2pTransport) bootstrap(ctx context.Context) error {
	for _, addrStr := range t.cfg.BootstrapPeers {
		maddr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			log.Printf("⚠️  Invalid bootstrap address %q: %v", addrStr, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.Printf("⚠️  Invalid bootstrap peer %q: %v", addrStr, err)
			continue
		}
		if err := t.host.Connect(ctx, *info); err != nil {
			log.Printf("⚠️  Bootstrap connect to %s failed: %v", info.ID, err)
		}
	}
	return t.dht.Bootstrap(ctx)
}

// identityHeldElsewhere checks the DHT for a live advertisement of the
// local peer id from addresses that are not ours.
func (t *Libp2pTransport) identityHeldElsewhere(ctx context.Context) bool {
	findCtx, cancel := context.WithTimeout(ctx, t.cfg.ClaimTimeout)
	defer cancel()

	info, err := t.dht.FindPeer(findCtx, t.host.ID())
	if err != nil || len(info.Addrs) == 0 {
		return false
	}

	ours := make(map[string]bool)
	for _, addr := range t.host.Addrs() {
		ours[addr.String()] = true
	}
	for _, addr := range info.Addrs {
		if !ours[addr.String()] {
			return true
		}
	}
	return false
}

// Connect dials a remote peer, reusing any live connection to it.
func (t *Libp2pTransport) Connect(ctx context.Context, remoteID string) (Conn, error) {
	t.mu.Lock()
	if !t.claimed {
		t.mu.Unlock()
		return nil, ErrNotClaimed
	}
	t.mu.Unlock()

	pid, err := peer.Decode(remoteID)
	if err != nil {
		return nil, fmt.Errorf("invalid peer id %q: %w", remoteID, err)
	}

	t.mu.Lock()
	if existing, ok := t.conns[pid]; ok {
		t.mu.Unlock()
		return existing, nil
	}
	t.mu.Unlock()

	if t.host.Network().Connectedness(pid) != network.Connected {
		info, err := t.dht.FindPeer(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, remoteID)
		}
		if err := t.host.Connect(ctx, info); err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", remoteID, err)
		}
	}

	stream, err := t.host.NewStream(ctx, pid, ChatProtocol)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat stream to %s: %w", remoteID, err)
	}

	return t.registerConn(stream, pid), nil
}

// handleChatStream accepts an inbound chat stream. A second stream
// from a peer we already hold a connection to is reset; at most one
// connection exists per remote.
func (t *Libp2pTransport) handleChatStream(stream network.Stream) {
	remote := stream.Conn().RemotePeer()

	t.mu.Lock()
	if _, exists := t.conns[remote]; exists {
		t.mu.Unlock()
		stream.Reset()
		return
	}
	t.mu.Unlock()

	t.registerConn(stream, remote)
}

func (t *Libp2pTransport) registerConn(stream network.Stream, remote peer.ID) *streamConn {
	c := &streamConn{
		transport: t,
		stream:    stream,
		remote:    remote,
		enc:       json.NewEncoder(stream),
	}

	t.mu.Lock()
	t.conns[remote] = c
	t.mu.Unlock()

	go c.readLoop()
	t.handler.HandleOpen(c)
	return c
}

func (t *Libp2pTransport) dropConn(c *streamConn) {
	t.mu.Lock()
	if t.conns[c.remote] == c {
		delete(t.conns, c.remote)
	}
	t.mu.Unlock()
}

// Call opens a call channel and announces the local media stream.
func (t *Libp2pTransport) Call(ctx context.Context, remoteID string, local MediaStream) (Call, error) {
	t.mu.Lock()
	claimed := t.claimed
	t.mu.Unlock()
	if !claimed {
		return nil, ErrNotClaimed
	}

	pid, err := peer.Decode(remoteID)
	if err != nil {
		return nil, fmt.Errorf("invalid peer id %q: %w", remoteID, err)
	}

	stream, err := t.host.NewStream(ctx, pid, CallProtocol)
	if err != nil {
		return nil, fmt.Errorf("failed to open call stream to %s: %w", remoteID, err)
	}

	call := newStreamCall(stream, remoteID, local.HasVideo(), false)

	invite := &protocol.CallControl{
		Type:      protocol.CallControlInvite,
		WithVideo: local.HasVideo(),
		StreamID:  local.ID(),
	}
	if err := call.send(invite); err != nil {
		stream.Reset()
		return nil, err
	}

	go call.readLoop()
	return call, nil
}

// handleCallStream accepts an inbound call channel: the first control
// must be an invite, which is surfaced to the handler before any local
// call state exists.
func (t *Libp2pTransport) handleCallStream(stream network.Stream) {
	dec := json.NewDecoder(stream)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		stream.Reset()
		return
	}
	ctrl, err := protocol.DecodeCallControl(raw)
	if err != nil || ctrl.Type != protocol.CallControlInvite {
		stream.Reset()
		return
	}

	call := newStreamCall(stream, stream.Conn().RemotePeer().String(), ctrl.WithVideo, true)
	call.remoteStreamID = ctrl.StreamID
	call.dec = dec

	t.handler.HandleCallInvite(call)
}

// Close shuts the transport down.
func (t *Libp2pTransport) Close() error {
	t.cancel()

	t.mu.Lock()
	conns := make([]*streamConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.claimed = false
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	if t.host != nil {
		return t.host.Close()
	}
	return nil
}

// ===== CHAT CONNECTION =====

// streamConn adapts a libp2p stream to the Conn interface.
type streamConn struct {
	transport *Libp2pTransport
	stream    network.Stream
	remote    peer.ID

	sendMu sync.Mutex
	enc    *json.Encoder

	closeOnce sync.Once
	closed    bool
}

func (c *streamConn) RemoteID() string {
	return c.remote.String()
}

func (c *streamConn) Send(f *protocol.Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if err := c.enc.Encode(f); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

func (c *streamConn) Close() error {
	err := c.stream.Close()
	c.finish(nil)
	return err
}

// readLoop decodes inbound frames until the stream errors or closes.
// Frames from one connection are delivered in arrival order.
func (c *streamConn) readLoop() {
	dec := json.NewDecoder(c.stream)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			c.finish(err)
			return
		}
		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			log.Printf("⚠️  Dropping undecodable frame from %s: %v", c.RemoteID(), err)
			continue
		}
		c.transport.handler.HandleFrame(c, frame)
	}
}

// finish funnels graceful close and transport error into one cleanup
// path, exactly once.
func (c *streamConn) finish(err error) {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		c.sendMu.Unlock()

		c.stream.Reset()
		c.transport.dropConn(c)
		c.transport.handler.HandleClose(c, err)
	})
}

// ===== CALL CHANNEL =====

// streamCall adapts a libp2p call stream to the Call interface.
type streamCall struct {
	stream    network.Stream
	remoteID  string
	withVideo bool
	inbound   bool

	remoteStreamID string

	sendMu sync.Mutex
	enc    *json.Encoder
	dec    *json.Decoder

	mu            sync.Mutex
	streamFn      func(MediaStream)
	closeFn       func()
	pendingStream MediaStream
	pendingClose  bool

	closeOnce sync.Once
}

func newStreamCall(stream network.Stream, remoteID string, withVideo, inbound bool) *streamCall {
	return &streamCall{
		stream:    stream,
		remoteID:  remoteID,
		withVideo: withVideo,
		inbound:   inbound,
		enc:       json.NewEncoder(stream),
	}
}

func (c *streamCall) RemoteID() string { return c.remoteID }
func (c *streamCall) WithVideo() bool  { return c.withVideo }

// SetStreamHandler registers the stream callback; an arrival that beat
// the registration is delivered immediately.
func (c *streamCall) SetStreamHandler(fn func(MediaStream)) {
	c.mu.Lock()
	c.streamFn = fn
	pending := c.pendingStream
	c.pendingStream = nil
	c.mu.Unlock()
	if pending != nil && fn != nil {
		fn(pending)
	}
}

// SetCloseHandler registers the close callback; a close that beat the
// registration is delivered immediately.
func (c *streamCall) SetCloseHandler(fn func()) {
	c.mu.Lock()
	c.closeFn = fn
	pending := c.pendingClose
	c.pendingClose = false
	c.mu.Unlock()
	if pending && fn != nil {
		fn()
	}
}

func (c *streamCall) send(ctrl *protocol.CallControl) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.enc.Encode(ctrl); err != nil {
		return fmt.Errorf("call control send failed: %w", err)
	}
	return nil
}

// Answer accepts an inbound invite and surfaces the caller's stream.
func (c *streamCall) Answer(local MediaStream) error {
	if !c.inbound {
		return fmt.Errorf("answer on outbound call")
	}
	if err := c.send(&protocol.CallControl{
		Type:      protocol.CallControlAnswer,
		WithVideo: local.HasVideo(),
		StreamID:  local.ID(),
	}); err != nil {
		return err
	}

	go c.readLoop()
	c.fireStream(NewRemoteStream(c.remoteStreamID, c.withVideo))
	return nil
}

// Reject declines an inbound invite without surfacing any state.
func (c *streamCall) Reject() error {
	return c.stream.Reset()
}

// End tears the channel down. Idempotent.
func (c *streamCall) End() error {
	c.closeOnce.Do(func() {
		c.send(&protocol.CallControl{Type: protocol.CallControlEnd})
		c.stream.Close()
		c.fireClose()
	})
	return nil
}

func (c *streamCall) readLoop() {
	dec := c.dec
	if dec == nil {
		dec = json.NewDecoder(c.stream)
	}
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			c.teardown()
			return
		}
		ctrl, err := protocol.DecodeCallControl(raw)
		if err != nil {
			continue
		}
		switch ctrl.Type {
		case protocol.CallControlAnswer:
			c.fireStream(NewRemoteStream(ctrl.StreamID, ctrl.WithVideo))
		case protocol.CallControlEnd:
			c.teardown()
			return
		}
	}
}

func (c *streamCall) teardown() {
	c.closeOnce.Do(func() {
		c.stream.Reset()
		c.fireClose()
	})
}

func (c *streamCall) fireStream(s MediaStream) {
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

func (c *streamCall) fireClose() {
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

// ===== REMOTE STREAM HANDLE =====

// remoteStream is a placeholder handle for a media stream whose tracks
// live on the remote end.
type remoteStream struct {
	id    string
	video bool
}

// NewRemoteStream builds a handle for a remote media stream.
func NewRemoteStream(id string, video bool) MediaStream {
	return &remoteStream{id: id, video: video}
}

func (s *remoteStream) ID() string     { return s.id }
func (s *remoteStream) HasVideo() bool { return s.video }
func (s *remoteStream) StopTracks()    {}
