// Package network holds the session layer: the connection registry,
// the protocol engine interpreting inbound frames and outbound intents,
// and the call signaling bridge. All session state is owned here and
// mutated only through the engine's handlers.
package network

import (
	"sync"

	"github.com/auracord/auracord-node/pkg/protocol"
	"github.com/auracord/auracord-node/pkg/transport"
)

// Connection is one live peer link tracked by the registry. The remote
// display name starts unknown and is filled in by the handshake.
type Connection struct {
	conn transport.Conn

	mu         sync.Mutex
	remoteName string
	open       bool
}

// RemoteID returns the remote peer identifier.
func (c *Connection) RemoteID() string {
	return c.conn.RemoteID()
}

// RemoteName returns the remote display name, or "" before handshake.
func (c *Connection) RemoteName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteName
}

// Open reports whether the link is still live.
func (c *Connection) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send writes a frame to the remote end.
func (c *Connection) Send(f *protocol.Frame) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return transport.ErrConnClosed
	}
	c.mu.Unlock()
	return c.conn.Send(f)
}

func (c *Connection) setRemoteName(name string) {
	c.mu.Lock()
	c.remoteName = name
	c.mu.Unlock()
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

// ConnectionInfo is a read-only snapshot of one registry entry.
type ConnectionInfo struct {
	RemoteID   string `json:"remote_id"`
	RemoteName string `json:"remote_name"`
	Open       bool   `json:"open"`
}

// Registry owns the set of live connections, at most one per remote
// peer. Membership changes nowhere else.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add wraps a transport connection and registers it. Lookup before
// insert: if a live entry already exists for the remote peer, that
// entry is returned and the new transport connection is discarded.
func (r *Registry) Add(tc transport.Conn) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[tc.RemoteID()]; ok && existing.Open() {
		return existing, false
	}

	c := &Connection{conn: tc, open: true}
	r.conns[tc.RemoteID()] = c
	return c, true
}

// Get looks up the connection for a remote peer.
func (r *Registry) Get(remoteID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[remoteID]
	return c, ok
}

// Remove drops the entry for a remote peer unconditionally and marks
// it closed. Safe to call when no entry exists.
func (r *Registry) Remove(remoteID string) {
	r.mu.Lock()
	c, ok := r.conns[remoteID]
	if ok {
		delete(r.conns, remoteID)
	}
	r.mu.Unlock()

	if ok {
		c.markClosed()
	}
}

// SetRemoteName records the display name for a remote peer's entry.
func (r *Registry) SetRemoteName(remoteID, name string) {
	r.mu.RLock()
	c, ok := r.conns[remoteID]
	r.mu.RUnlock()
	if ok {
		c.setRemoteName(name)
	}
}

// All returns a snapshot of the current entries.
func (r *Registry) All() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		infos = append(infos, ConnectionInfo{
			RemoteID:   c.RemoteID(),
			RemoteName: c.RemoteName(),
			Open:       c.Open(),
		})
	}
	return infos
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// openConns returns the live connections only.
func (r *Registry) openConns() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.Open() {
			out = append(out, c)
		}
	}
	return out
}
