package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auracord/auracord-node/pkg/transport"
)

func TestStartCallRequiresFriendship(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")
	bob := newNode(t, fabric, "peer-bob", "Bob")

	err := alice.engine.Calls().Start(context.Background(), bob.id, false)
	assert.ErrorIs(t, err, ErrFriendshipRequired)
	assert.Equal(t, CallIdle, alice.engine.CallState().Status)
	assert.Equal(t, CallIdle, bob.engine.CallState().Status)
}

func TestCallInviteAnswerEnd(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")
	bob := newNode(t, fabric, "peer-bob", "Bob")
	befriend(t, alice, bob)

	require.NoError(t, alice.engine.Calls().Start(context.Background(), bob.id, true))

	bobState := bob.engine.CallState()
	assert.Equal(t, CallRinging, bobState.Status)
	assert.Equal(t, alice.id, bobState.RemoteID)
	assert.True(t, bobState.WithVideo)
	assert.Contains(t, bob.engine.Notice(), "Incoming call from Alice")

	require.NoError(t, bob.engine.Calls().Answer())

	assert.Equal(t, CallActive, alice.engine.CallState().Status)
	assert.Equal(t, CallActive, bob.engine.CallState().Status)
	assert.NotEmpty(t, alice.engine.CallState().RemoteStream)
	assert.NotEmpty(t, bob.engine.CallState().RemoteStream)

	require.NoError(t, alice.engine.Calls().End())

	assert.Equal(t, CallIdle, alice.engine.CallState().Status)
	assert.Equal(t, CallIdle, bob.engine.CallState().Status)
	assert.Contains(t, bob.engine.Notice(), "Call ended")

	// Ending again from Idle is safe.
	require.NoError(t, alice.engine.Calls().End())
}

func TestInboundInviteFromNonFriendRejected(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")
	bob := newNode(t, fabric, "peer-bob", "Bob")

	// Bob befriends nobody; Alice forces a call at the transport level.
	local, err := alice.devices.Acquire(true, false)
	require.NoError(t, err)
	call, err := fabricCall(alice, bob.id, local)
	require.NoError(t, err)

	closed := false
	call.SetCloseHandler(func() { closed = true })

	assert.True(t, closed)
	assert.Equal(t, CallIdle, bob.engine.CallState().Status)
	assert.Empty(t, bob.engine.Notice())
}

// fabricCall places a raw transport call, bypassing the local bridge's
// own gating, to exercise the receiving side in isolation.
func fabricCall(from *node, toID string, local transport.MediaStream) (transport.Call, error) {
	return from.engine.transport.Call(context.Background(), toID, local)
}

func TestSecondInviteWhileBusyIsRejected(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")
	bob := newNode(t, fabric, "peer-bob", "Bob")
	carol := newNode(t, fabric, "peer-carol", "Carol")
	befriend(t, alice, bob)
	befriend(t, carol, alice)

	require.NoError(t, alice.engine.Calls().Start(context.Background(), bob.id, false))
	require.NoError(t, bob.engine.Calls().Answer())
	require.Equal(t, CallActive, alice.engine.CallState().Status)

	// Carol's invite bounces off the busy session.
	require.NoError(t, carol.engine.Calls().Start(context.Background(), alice.id, false))

	assert.Equal(t, CallIdle, carol.engine.CallState().Status)
	aliceState := alice.engine.CallState()
	assert.Equal(t, CallActive, aliceState.Status)
	assert.Equal(t, bob.id, aliceState.RemoteID)
}

func TestStartCallDeviceDenied(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")
	bob := newNode(t, fabric, "peer-bob", "Bob")
	befriend(t, alice, bob)

	alice.devices.Deny()
	err := alice.engine.Calls().Start(context.Background(), bob.id, true)
	assert.ErrorIs(t, err, transport.ErrDevicesDenied)
	assert.Equal(t, CallIdle, alice.engine.CallState().Status)
	assert.Equal(t, CallIdle, bob.engine.CallState().Status)
	assert.Contains(t, alice.engine.Notice(), "Could not access")
}

func TestAnswerDeviceDenied(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")
	bob := newNode(t, fabric, "peer-bob", "Bob")
	befriend(t, alice, bob)

	require.NoError(t, alice.engine.Calls().Start(context.Background(), bob.id, false))
	require.Equal(t, CallRinging, bob.engine.CallState().Status)

	bob.devices.Deny()
	err := bob.engine.Calls().Answer()
	assert.ErrorIs(t, err, transport.ErrDevicesDenied)

	assert.Equal(t, CallIdle, bob.engine.CallState().Status)
	// The caller's channel closed when the callee bailed out.
	assert.Equal(t, CallIdle, alice.engine.CallState().Status)
}

func TestRejectRingingCall(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")
	bob := newNode(t, fabric, "peer-bob", "Bob")
	befriend(t, alice, bob)

	require.NoError(t, alice.engine.Calls().Start(context.Background(), bob.id, false))
	require.Equal(t, CallRinging, bob.engine.CallState().Status)

	require.NoError(t, bob.engine.Calls().Reject())
	assert.Equal(t, CallIdle, bob.engine.CallState().Status)
	assert.Equal(t, CallIdle, alice.engine.CallState().Status)
}

func TestAnswerWithoutRingingCall(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")

	assert.ErrorIs(t, alice.engine.Calls().Answer(), ErrNoIncomingCall)
	assert.ErrorIs(t, alice.engine.Calls().Reject(), ErrNoIncomingCall)
}

func TestEndStopsLocalCapture(t *testing.T) {
	fabric := transport.NewMemNetwork()
	alice := newNode(t, fabric, "peer-alice", "Alice")
	bob := newNode(t, fabric, "peer-bob", "Bob")
	befriend(t, alice, bob)

	require.NoError(t, alice.engine.Calls().Start(context.Background(), bob.id, false))
	require.NoError(t, bob.engine.Calls().Answer())

	alice.engine.Calls().mu.Lock()
	capture := alice.engine.Calls().local
	alice.engine.Calls().mu.Unlock()
	require.NotNil(t, capture)

	require.NoError(t, alice.engine.Calls().End())
	assert.True(t, capture.(interface{ Stopped() bool }).Stopped())
}
