package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auracord/auracord-node/pkg/protocol"
	"github.com/auracord/auracord-node/pkg/transport"
)

// stubConn satisfies transport.Conn without a fabric behind it.
type stubConn struct {
	remoteID string
	sent     []*protocol.Frame
}

func (c *stubConn) RemoteID() string             { return c.remoteID }
func (c *stubConn) Send(f *protocol.Frame) error { c.sent = append(c.sent, f); return nil }
func (c *stubConn) Close() error                 { return nil }

var _ transport.Conn = (*stubConn)(nil)

func TestRegistryLookupBeforeInsert(t *testing.T) {
	r := NewRegistry()

	first, added := r.Add(&stubConn{remoteID: "peer-1"})
	assert.True(t, added)

	// A second transport connection to the same peer is not adopted
	// while the first is live.
	second, added := r.Add(&stubConn{remoteID: "peer-1"})
	assert.False(t, added)
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemoveUnconditional(t *testing.T) {
	r := NewRegistry()
	c, _ := r.Add(&stubConn{remoteID: "peer-1"})

	r.Remove("peer-1")
	assert.Equal(t, 0, r.Len())
	assert.False(t, c.Open())

	// Removing a missing entry is harmless.
	r.Remove("peer-1")
	r.Remove("peer-never-seen")

	// A removed entry refuses sends.
	err := c.Send(protocol.NewMessage("late", "x", protocol.NowTimestamp()))
	assert.ErrorIs(t, err, transport.ErrConnClosed)
}

func TestRegistryRemoteName(t *testing.T) {
	r := NewRegistry()
	c, _ := r.Add(&stubConn{remoteID: "peer-1"})
	require.Equal(t, "", c.RemoteName())

	r.SetRemoteName("peer-1", "Trinity")
	assert.Equal(t, "Trinity", c.RemoteName())

	// Unknown ids are ignored.
	r.SetRemoteName("peer-2", "Morpheus")

	infos := r.All()
	require.Len(t, infos, 1)
	assert.Equal(t, "Trinity", infos[0].RemoteName)
	assert.True(t, infos[0].Open)
}
