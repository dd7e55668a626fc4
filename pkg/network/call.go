package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/auracord/auracord-node/pkg/transport"
)

// Call session statuses.
const (
	CallIdle    = "idle"
	CallDialing = "dialing"
	CallRinging = "ringing"
	CallActive  = "active"
)

var (
	// ErrCallBusy means a call session already exists; it is never
	// overwritten by a second one.
	ErrCallBusy = errors.New("call already in progress")

	ErrNoIncomingCall = errors.New("no incoming call to answer")
)

// CallState is a read-only snapshot of the current call session.
type CallState struct {
	Status       string `json:"status"`
	RemoteID     string `json:"remote_id,omitempty"`
	WithVideo    bool   `json:"with_video,omitempty"`
	RemoteStream string `json:"remote_stream,omitempty"`
}

// CallBridge translates call intents into transport call primitives
// and tracks the single call session. At most one session exists at a
// time; competing invites are rejected at the transport level.
type CallBridge struct {
	engine  *Engine
	devices transport.MediaDevices

	mu        sync.Mutex
	status    string
	remoteID  string
	withVideo bool
	call      transport.Call
	local     transport.MediaStream
	remote    transport.MediaStream

	// OnState fires on every status transition, without the bridge
	// lock held.
	OnState func(state CallState)
}

func newCallBridge(e *Engine, devices transport.MediaDevices) *CallBridge {
	return &CallBridge{
		engine:  e,
		devices: devices,
		status:  CallIdle,
	}
}

// State returns the current session snapshot.
func (b *CallBridge) State() CallState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CallBridge) stateLocked() CallState {
	s := CallState{
		Status:    b.status,
		RemoteID:  b.remoteID,
		WithVideo: b.withVideo,
	}
	if b.remote != nil {
		s.RemoteStream = b.remote.ID()
	}
	return s
}

// Start dials a friend. Device acquisition failure aborts without any
// state transition; once devices are held, the invite goes out and the
// session sits in Dialing until the remote stream arrives.
func (b *CallBridge) Start(ctx context.Context, remoteID string, withVideo bool) error {
	if !b.engine.IsFriend(remoteID) {
		return fmt.Errorf("%w: %s", ErrFriendshipRequired, remoteID)
	}

	b.mu.Lock()
	if b.status != CallIdle {
		b.mu.Unlock()
		return ErrCallBusy
	}
	// Reserve the session before the suspension points below so a
	// concurrent start or invite sees busy.
	b.status = CallDialing
	b.remoteID = remoteID
	b.withVideo = withVideo
	b.mu.Unlock()

	local, err := b.devices.Acquire(true, withVideo)
	if err != nil {
		b.reset()
		b.engine.setNotice("Could not access microphone/camera")
		return fmt.Errorf("device acquisition failed: %w", err)
	}

	call, err := b.engine.transport.Call(ctx, remoteID, local)
	if err != nil {
		local.StopTracks()
		b.reset()
		b.engine.setNotice("Call could not be placed")
		return fmt.Errorf("failed to place call to %s: %w", remoteID, err)
	}

	b.attach(call, local)
	log.Printf("📞 Calling %s (video=%v)", remoteID, withVideo)
	b.fireState()
	return nil
}

// handleInvite screens an inbound call channel. Non-friends and a busy
// session are rejected at the transport level with no local state.
func (b *CallBridge) handleInvite(call transport.Call) {
	if !b.engine.IsFriend(call.RemoteID()) {
		call.Reject()
		return
	}

	b.mu.Lock()
	if b.status != CallIdle {
		b.mu.Unlock()
		call.Reject()
		return
	}
	b.status = CallRinging
	b.remoteID = call.RemoteID()
	b.withVideo = call.WithVideo()
	b.call = call
	b.mu.Unlock()

	call.SetCloseHandler(func() { b.teardown("Call ended") })

	name := b.callerName(call.RemoteID())
	log.Printf("📞 Incoming call from %s (video=%v)", name, call.WithVideo())
	b.engine.setNotice(fmt.Sprintf("Incoming call from %s", name))
	b.fireState()
}

// Answer accepts the ringing invite. Device failure rejects the call
// and returns to Idle.
func (b *CallBridge) Answer() error {
	b.mu.Lock()
	if b.status != CallRinging || b.call == nil {
		b.mu.Unlock()
		return ErrNoIncomingCall
	}
	call := b.call
	withVideo := b.withVideo
	b.mu.Unlock()

	local, err := b.devices.Acquire(true, withVideo)
	if err != nil {
		call.Reject()
		b.reset()
		b.engine.setNotice("Could not access microphone/camera")
		return fmt.Errorf("device acquisition failed: %w", err)
	}

	call.SetStreamHandler(func(s transport.MediaStream) { b.streamArrived(s) })

	b.mu.Lock()
	b.local = local
	b.mu.Unlock()

	if err := call.Answer(local); err != nil {
		local.StopTracks()
		b.reset()
		return fmt.Errorf("failed to answer call: %w", err)
	}

	b.mu.Lock()
	if b.status == CallRinging {
		b.status = CallActive
	}
	b.mu.Unlock()
	b.fireState()
	return nil
}

// Reject declines the ringing invite.
func (b *CallBridge) Reject() error {
	b.mu.Lock()
	if b.status != CallRinging || b.call == nil {
		b.mu.Unlock()
		return ErrNoIncomingCall
	}
	call := b.call
	b.clearLocked()
	b.mu.Unlock()

	call.Reject()
	b.fireState()
	return nil
}

// End closes the call channel, stops local capture tracks and returns
// to Idle. Safe from any state, including with no call at all, and
// safe to call twice.
func (b *CallBridge) End() error {
	b.mu.Lock()
	call := b.call
	local := b.local
	b.clearLocked()
	b.mu.Unlock()

	if local != nil {
		local.StopTracks()
	}
	if call != nil {
		call.End()
		b.fireState()
	}
	return nil
}

// attach commits an outbound call's handles and wires its handlers.
func (b *CallBridge) attach(call transport.Call, local transport.MediaStream) {
	b.mu.Lock()
	b.call = call
	b.local = local
	b.mu.Unlock()

	call.SetStreamHandler(func(s transport.MediaStream) { b.streamArrived(s) })
	call.SetCloseHandler(func() { b.teardown("Call ended") })
}

// streamArrived records the remote media stream and activates the
// session.
func (b *CallBridge) streamArrived(s transport.MediaStream) {
	b.mu.Lock()
	if b.call == nil {
		b.mu.Unlock()
		return
	}
	b.remote = s
	b.status = CallActive
	b.mu.Unlock()
	b.fireState()
}

// teardown handles remote-initiated channel close.
func (b *CallBridge) teardown(notice string) {
	b.mu.Lock()
	if b.call == nil && b.status == CallIdle {
		b.mu.Unlock()
		return
	}
	local := b.local
	b.clearLocked()
	b.mu.Unlock()

	if local != nil {
		local.StopTracks()
	}
	if notice != "" {
		b.engine.setNotice(notice)
	}
	b.fireState()
}

// reset rolls back a reserved session that never attached a call.
func (b *CallBridge) reset() {
	b.mu.Lock()
	b.clearLocked()
	b.mu.Unlock()
}

// clearLocked returns the session to Idle. Caller holds b.mu.
func (b *CallBridge) clearLocked() {
	b.status = CallIdle
	b.remoteID = ""
	b.withVideo = false
	b.call = nil
	b.local = nil
	b.remote = nil
}

func (b *CallBridge) callerName(remoteID string) string {
	b.engine.mu.RLock()
	name, ok := b.engine.friends[remoteID]
	b.engine.mu.RUnlock()
	if ok && name != "" {
		return name
	}
	return remoteID
}

func (b *CallBridge) fireState() {
	if b.OnState != nil {
		b.OnState(b.State())
	}
}
