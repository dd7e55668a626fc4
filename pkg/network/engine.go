package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/auracord/auracord-node/pkg/protocol"
	"github.com/auracord/auracord-node/pkg/ratelimit"
	"github.com/auracord/auracord-node/pkg/security"
	"github.com/auracord/auracord-node/pkg/storage"
	"github.com/auracord/auracord-node/pkg/transport"
)

var (
	// ErrFriendshipRequired means the remote peer has no friend record;
	// messages, reactions and calls fail closed without one.
	ErrFriendshipRequired = errors.New("friendship required")

	// ErrRateLimited means the local send rate exceeded the burst limit.
	ErrRateLimited = errors.New("rate limited")

	ErrInvalidUsername = errors.New("invalid username")
	ErrNotIdentified   = errors.New("identity not established")
)

// localActor keys the send limiter; the limit guards the local sender,
// not individual peers.
const localActor = "self"

// Engine is the session protocol state machine. It owns the friend
// store, pending request list and message store, interprets inbound
// frames, and turns outbound intents into frames. All transport events
// funnel through it via the transport.Handler interface.
type Engine struct {
	transport transport.Transport
	registry  *Registry
	db        *storage.ChatDB
	limiter   *ratelimit.SendLimiter
	calls     *CallBridge

	mu         sync.RWMutex
	username   string
	identified bool
	friends    map[string]string
	pending    []protocol.FriendRequest
	messages   []*protocol.Message
	byID       map[string]*protocol.Message
	notice     string

	// Callbacks for the presentation layer. Optional; invoked without
	// the engine lock held.
	OnMessage       func(msg *protocol.Message)
	OnFriendRequest func(req protocol.FriendRequest)
	OnFriendAdded   func(friend protocol.FriendRecord)
	OnNotice        func(text string)
}

// NewEngine wires the engine to its collaborators. Call Start to load
// persisted state and claim the identity.
func NewEngine(t transport.Transport, db *storage.ChatDB, devices transport.MediaDevices, username string) *Engine {
	e := &Engine{
		transport: t,
		registry:  NewRegistry(),
		db:        db,
		limiter:   ratelimit.NewDefaultSendLimiter(),
		username:  username,
		friends:   make(map[string]string),
		pending:   nil,
		byID:      make(map[string]*protocol.Message),
	}
	e.calls = newCallBridge(e, devices)
	t.SetHandler(e)
	return e
}

// Start replays persisted state into memory, then claims the identity
// on the fabric. On transport.ErrIdentityClaimed the engine stays up
// read-only: history and friends are loaded but nothing can be sent.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.loadState(); err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}

	if err := e.transport.Claim(ctx); err != nil {
		if errors.Is(err, transport.ErrIdentityClaimed) {
			e.setNotice("This account is already active in another session")
		}
		return err
	}

	e.mu.Lock()
	e.identified = true
	e.mu.Unlock()

	log.Printf("💬 Session engine started as %q (%s)", e.Username(), e.transport.LocalID())
	return nil
}

func (e *Engine) loadState() error {
	if name, err := e.db.GetProfileValue(storage.ProfileKeyUsername); err == nil {
		e.mu.Lock()
		e.username = name
		e.mu.Unlock()
	}

	friends, err := e.db.GetAllFriends()
	if err != nil {
		return err
	}
	pending, err := e.db.GetFriendRequests()
	if err != nil {
		return err
	}
	messages, err := e.db.GetAllMessages()
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, f := range friends {
		e.friends[f.ID] = f.Name
	}
	for _, r := range pending {
		e.pending = append(e.pending, *r)
	}
	for _, m := range messages {
		e.messages = append(e.messages, m)
		e.byID[m.ID] = m
	}
	e.mu.Unlock()
	return nil
}

// Stop shuts the session down.
func (e *Engine) Stop() error {
	e.calls.End()
	return e.transport.Close()
}

// ===== OUTBOUND INTENTS =====

// ConnectPeer dials a remote peer, reusing any live connection.
func (e *Engine) ConnectPeer(ctx context.Context, remoteID string) (*Connection, error) {
	if !e.Identified() {
		return nil, ErrNotIdentified
	}

	if c, ok := e.registry.Get(remoteID); ok && c.Open() {
		return c, nil
	}

	tc, err := e.transport.Connect(ctx, remoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", remoteID, err)
	}

	// HandleOpen registered the connection already.
	c, ok := e.registry.Get(tc.RemoteID())
	if !ok {
		c, _ = e.registry.Add(tc)
	}
	return c, nil
}

// SendFriendRequest opens (or reuses) a connection to the peer and
// sends a friend request carrying the local display name.
func (e *Engine) SendFriendRequest(ctx context.Context, remoteID string) error {
	c, err := e.ConnectPeer(ctx, remoteID)
	if err != nil {
		return err
	}
	if err := c.Send(protocol.NewFriendRequest(e.Username())); err != nil {
		return fmt.Errorf("failed to send friend request: %w", err)
	}
	log.Printf("🤝 Friend request sent to %s", remoteID)
	return nil
}

// AcceptFriend records the friendship and removes the pending request.
// If a connection to the peer is open, the accept frame is sent; with
// no connection the friendship is recorded locally only. Idempotent:
// accepting an id that is neither pending nor unknown is a no-op.
func (e *Engine) AcceptFriend(remoteID string) error {
	e.mu.Lock()
	name := e.removePendingLocked(remoteID)
	_, already := e.friends[remoteID]
	if !already {
		if name == "" {
			if c, ok := e.registry.Get(remoteID); ok {
				name = c.RemoteName()
			}
		}
		if name == "" {
			// Nothing pending and no handshake seen; the id is the
			// display name until the peer announces one.
			name = remoteID
		}
		e.friends[remoteID] = name
	}
	e.mu.Unlock()

	if err := e.db.DeleteFriendRequest(remoteID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("⚠️  Failed to delete friend request: %v", err)
	}
	if already {
		return nil
	}

	friend := protocol.FriendRecord{ID: remoteID, Name: name}
	if err := e.db.SaveFriend(&friend); err != nil {
		return fmt.Errorf("failed to persist friend: %w", err)
	}

	if c, ok := e.registry.Get(remoteID); ok && c.Open() {
		if err := c.Send(protocol.NewFriendAccept(e.Username())); err != nil {
			log.Printf("⚠️  Accept frame not delivered to %s: %v", remoteID, err)
		}
	}

	e.fireFriendAdded(friend)
	return nil
}

// RejectFriend drops the pending request. Local-only; no frame is sent.
func (e *Engine) RejectFriend(remoteID string) error {
	e.mu.Lock()
	e.removePendingLocked(remoteID)
	e.mu.Unlock()

	if err := e.db.DeleteFriendRequest(remoteID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete friend request: %w", err)
	}
	return nil
}

// removePendingLocked removes the pending entry for an id and returns
// its recorded name. Caller holds e.mu.
func (e *Engine) removePendingLocked(remoteID string) string {
	for i, req := range e.pending {
		if req.ID == remoteID {
			name := req.Name
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return name
		}
	}
	return ""
}

// SendMessage sends a chat message to a friend. Fails closed for
// non-friends, consults the rate limiter, sanitizes and truncates the
// text, and appends the local copy only after the frame went out. A
// closed connection triggers one reconnect attempt before giving up.
func (e *Engine) SendMessage(ctx context.Context, remoteID, text string) (*protocol.Message, error) {
	if !e.Identified() {
		return nil, ErrNotIdentified
	}
	if !e.IsFriend(remoteID) {
		return nil, fmt.Errorf("%w: %s", ErrFriendshipRequired, remoteID)
	}
	if !e.limiter.Allow(localActor) {
		e.setNotice("Slow down! You're sending messages too quickly")
		return nil, ErrRateLimited
	}

	clean := security.Truncate(security.Sanitize(text))
	username := e.Username()

	msg := &protocol.Message{
		ID:         protocol.NewMessageID(),
		Sender:     e.transport.LocalID(),
		SenderName: username,
		Text:       clean,
		Timestamp:  protocol.NowTimestamp(),
		IsMe:       true,
		Recipient:  remoteID,
	}

	if err := e.sendWithReconnect(ctx, remoteID, protocol.NewMessage(clean, username, msg.Timestamp)); err != nil {
		e.setNotice("Message could not be delivered")
		return nil, err
	}
	if err := e.db.SaveMessage(msg); err != nil {
		log.Printf("⚠️  Failed to persist message %s: %v", msg.ID, err)
	}
	e.appendMessage(msg)
	e.bumpEnergy()
	return msg, nil
}

// sendWithReconnect sends a frame, attempting one fresh connect when
// no open connection exists or the send hits a closed link.
func (e *Engine) sendWithReconnect(ctx context.Context, remoteID string, f *protocol.Frame) error {
	if c, ok := e.registry.Get(remoteID); ok && c.Open() {
		err := c.Send(f)
		if err == nil {
			return nil
		}
		if !errors.Is(err, transport.ErrConnClosed) {
			return err
		}
		e.registry.Remove(remoteID)
	}

	log.Printf("🔄 Reconnecting to %s", remoteID)
	c, err := e.ConnectPeer(ctx, remoteID)
	if err != nil {
		return fmt.Errorf("reconnect failed: %w", err)
	}
	return c.Send(f)
}

// SendReaction transmits a reaction frame. The peer holds its own copy
// of the message under a different id, so the frame carries the text
// and timestamp of our copy for the peer to match by. SendReaction
// does not touch the local message store; ApplyLocalReaction is the
// single authoritative local path, so the two together never double
// count.
func (e *Engine) SendReaction(ctx context.Context, remoteID, msgID, emoji string) error {
	if !e.IsFriend(remoteID) {
		return fmt.Errorf("%w: %s", ErrFriendshipRequired, remoteID)
	}

	var msgText, msgTimestamp string
	e.mu.RLock()
	if msg, ok := e.byID[msgID]; ok {
		msgText, msgTimestamp = msg.Text, msg.Timestamp
	}
	e.mu.RUnlock()

	f := protocol.NewReaction(msgID, msgText, msgTimestamp, emoji)
	if err := e.sendWithReconnect(ctx, remoteID, f); err != nil {
		e.setNotice("Reaction could not be delivered")
		return err
	}
	return nil
}

// ApplyLocalReaction merges a reaction into the local copy of a
// message. Unknown ids are a no-op.
func (e *Engine) ApplyLocalReaction(msgID, emoji string) {
	e.mu.Lock()
	msg, ok := e.byID[msgID]
	if ok {
		msg.AddReaction(emoji)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	e.mu.RLock()
	reactions := msg.Clone().Reactions
	e.mu.RUnlock()
	if err := e.db.UpdateReactions(msgID, reactions); err != nil {
		log.Printf("⚠️  Failed to persist reactions for %s: %v", msgID, err)
	}
}

// BroadcastNameChange validates and persists the new display name,
// then announces it on every open connection. Closed connections are
// skipped without error.
func (e *Engine) BroadcastNameChange(newName string) error {
	if !security.ValidateUsername(newName) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, newName)
	}

	e.mu.Lock()
	e.username = newName
	e.mu.Unlock()

	if err := e.db.SetProfileValue(storage.ProfileKeyUsername, newName); err != nil {
		return fmt.Errorf("failed to persist username: %w", err)
	}
	if err := e.db.SetProfileValue(storage.ProfileKeyLastNameChange, protocol.NowTimestamp()); err != nil {
		log.Printf("⚠️  Failed to record name change time: %v", err)
	}

	frame := protocol.NewNameChange(newName)
	for _, c := range e.registry.openConns() {
		if err := c.Send(frame); err != nil {
			log.Printf("⚠️  Name change not delivered to %s: %v", c.RemoteID(), err)
		}
	}
	return nil
}

// ClearHistory wipes the message store, persisted and in-memory.
func (e *Engine) ClearHistory() error {
	if err := e.db.ClearMessages(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	e.mu.Lock()
	e.messages = nil
	e.byID = make(map[string]*protocol.Message)
	e.mu.Unlock()
	return nil
}

// ===== INBOUND FRAME DISPATCH =====

// HandleOpen registers the connection and immediately sends the
// handshake carrying the local display name and friendship status.
func (e *Engine) HandleOpen(tc transport.Conn) {
	c, added := e.registry.Add(tc)
	if added {
		log.Printf("🔗 Connection open: %s", tc.RemoteID())
	}

	hs := protocol.NewHandshake(e.Username(), e.IsFriend(tc.RemoteID()))
	if err := c.Send(hs); err != nil {
		log.Printf("⚠️  Handshake not delivered to %s: %v", tc.RemoteID(), err)
	}
}

// HandleClose removes the registry entry unconditionally; graceful
// close and transport error funnel here alike.
func (e *Engine) HandleClose(tc transport.Conn, err error) {
	e.registry.Remove(tc.RemoteID())
	if err != nil {
		log.Printf("🔌 Connection to %s lost: %v", tc.RemoteID(), err)
	} else {
		log.Printf("🔌 Connection to %s closed", tc.RemoteID())
	}
}

// HandleCallInvite hands an inbound call channel to the bridge.
func (e *Engine) HandleCallInvite(call transport.Call) {
	e.calls.handleInvite(call)
}

// HandleFrame dispatches one inbound frame by its type discriminator.
// Frames can arrive before HandleOpen on a crossing open, so the
// connection is registered on demand.
func (e *Engine) HandleFrame(tc transport.Conn, f *protocol.Frame) {
	e.registry.Add(tc)
	remoteID := tc.RemoteID()

	switch f.Type {
	case protocol.FrameTypeHandshake:
		e.handleHandshake(remoteID, f)
	case protocol.FrameTypeFriendRequest:
		e.handleFriendRequest(remoteID, f)
	case protocol.FrameTypeFriendAccept:
		e.handleFriendAccept(remoteID, f)
	case protocol.FrameTypeMessage:
		e.handleMessage(remoteID, f)
	case protocol.FrameTypeReaction:
		e.handleReaction(remoteID, f)
	case protocol.FrameTypeNameChange:
		e.handleNameChange(remoteID, f)
	default:
		log.Printf("⚠️  Unhandled frame type %q from %s", f.Type, remoteID)
	}
}

func (e *Engine) handleHandshake(remoteID string, f *protocol.Frame) {
	name := security.Sanitize(f.Username)
	e.registry.SetRemoteName(remoteID, name)
	e.updateFriendName(remoteID, name)
}

func (e *Engine) handleFriendRequest(remoteID string, f *protocol.Frame) {
	name := security.Sanitize(f.Username)

	e.mu.Lock()
	if _, isFriend := e.friends[remoteID]; isFriend {
		e.mu.Unlock()
		return
	}
	for _, req := range e.pending {
		if req.ID == remoteID {
			e.mu.Unlock()
			return
		}
	}
	req := protocol.FriendRequest{ID: remoteID, Name: name}
	e.pending = append(e.pending, req)
	e.mu.Unlock()

	if err := e.db.SaveFriendRequest(&req); err != nil {
		log.Printf("⚠️  Failed to persist friend request: %v", err)
	}
	e.setNotice(fmt.Sprintf("Friend request from %s", name))
	if e.OnFriendRequest != nil {
		e.OnFriendRequest(req)
	}
}

func (e *Engine) handleFriendAccept(remoteID string, f *protocol.Frame) {
	name := security.Sanitize(f.Username)

	e.mu.Lock()
	if _, already := e.friends[remoteID]; already {
		e.mu.Unlock()
		return
	}
	e.friends[remoteID] = name
	e.mu.Unlock()

	friend := protocol.FriendRecord{ID: remoteID, Name: name}
	if err := e.db.SaveFriend(&friend); err != nil {
		log.Printf("⚠️  Failed to persist friend: %v", err)
	}
	e.setNotice(fmt.Sprintf("%s accepted your friend request", name))
	e.fireFriendAdded(friend)
}

func (e *Engine) handleMessage(remoteID string, f *protocol.Frame) {
	if !e.IsFriend(remoteID) {
		// Silent drop: no store mutation, no notice.
		return
	}

	if security.DetectInjection(f.Text) {
		log.Printf("🛡️  Blocked suspicious message from %s", remoteID)
		e.setNotice("Interference detected: a message was blocked")
		return
	}

	// Adopt the sender's timestamp so both copies of the message share
	// it; reactions match on it when the per-end ids differ.
	ts := f.Timestamp
	if ts == "" {
		ts = protocol.NowTimestamp()
	}

	clean := security.Truncate(security.Sanitize(f.Text))
	msg := &protocol.Message{
		ID:         protocol.NewMessageID(),
		Sender:     remoteID,
		SenderName: e.displayName(remoteID, f.Username),
		Text:       clean,
		Timestamp:  ts,
		IsMe:       false,
	}

	if err := e.db.SaveMessage(msg); err != nil {
		log.Printf("⚠️  Failed to persist message %s: %v", msg.ID, err)
	}
	e.appendMessage(msg)
	if e.OnMessage != nil {
		e.OnMessage(msg.Clone())
	}
}

func (e *Engine) handleReaction(remoteID string, f *protocol.Frame) {
	if !e.IsFriend(remoteID) {
		return
	}
	// A frame that matches no local copy is a no-op, not an error.
	msgID, ok := e.resolveReactionTarget(f)
	if !ok {
		return
	}
	e.ApplyLocalReaction(msgID, f.Emoji)
}

// resolveReactionTarget locates the local copy of the message a
// reaction frame refers to. The id on the frame names the reactor's
// copy, which usually differs from ours, so the text and timestamp
// carried alongside find our copy instead.
func (e *Engine) resolveReactionTarget(f *protocol.Frame) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.byID[f.MsgID]; ok {
		return f.MsgID, true
	}
	if f.MsgTimestamp == "" {
		return "", false
	}
	for i := len(e.messages) - 1; i >= 0; i-- {
		m := e.messages[i]
		if m.Timestamp == f.MsgTimestamp && sameBody(m.Text, f.MsgText) {
			return m.ID, true
		}
	}
	return "", false
}

// sameBody reports whether two stored texts are copies of one message.
// The receiving end escapes inbound text a second time, so the two
// copies can differ by one round of escaping in either direction.
func sameBody(a, b string) bool {
	return a == b || security.Sanitize(a) == b || a == security.Sanitize(b)
}

func (e *Engine) handleNameChange(remoteID string, f *protocol.Frame) {
	name := security.Sanitize(f.NewUsername)
	e.registry.SetRemoteName(remoteID, name)
	e.updateFriendName(remoteID, name)
}

// displayName picks the best available name for an inbound message:
// the friend record, then the name claimed on the frame, then the id.
func (e *Engine) displayName(remoteID, frameUsername string) string {
	e.mu.RLock()
	name, ok := e.friends[remoteID]
	e.mu.RUnlock()
	if ok && name != "" {
		return name
	}
	if clean := security.Sanitize(frameUsername); clean != "" {
		return clean
	}
	return remoteID
}

// updateFriendName refreshes the stored name for a peer that already
// has a friend record.
func (e *Engine) updateFriendName(remoteID, name string) {
	e.mu.Lock()
	old, isFriend := e.friends[remoteID]
	if !isFriend || old == name || name == "" {
		e.mu.Unlock()
		return
	}
	e.friends[remoteID] = name
	e.mu.Unlock()

	if err := e.db.SaveFriend(&protocol.FriendRecord{ID: remoteID, Name: name}); err != nil {
		log.Printf("⚠️  Failed to persist friend name: %v", err)
	}
}

// ===== ACCESSORS =====

// Username returns the local display name.
func (e *Engine) Username() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.username
}

// LocalID returns the local peer identifier.
func (e *Engine) LocalID() string {
	return e.transport.LocalID()
}

// Identified reports whether the identity claim succeeded.
func (e *Engine) Identified() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.identified
}

// IsFriend reports whether a friend record exists for the peer.
func (e *Engine) IsFriend(remoteID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.friends[remoteID]
	return ok
}

// Friends returns a snapshot of the friend store, ordered by id.
func (e *Engine) Friends() []protocol.FriendRecord {
	e.mu.RLock()
	out := make([]protocol.FriendRecord, 0, len(e.friends))
	for id, name := range e.friends {
		out = append(out, protocol.FriendRecord{ID: id, Name: name})
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingRequests returns the pending friend requests, oldest first.
func (e *Engine) PendingRequests() []protocol.FriendRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]protocol.FriendRequest, len(e.pending))
	copy(out, e.pending)
	return out
}

// Messages returns deep copies of the message store in append order.
func (e *Engine) Messages() []*protocol.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*protocol.Message, len(e.messages))
	for i, m := range e.messages {
		out[i] = m.Clone()
	}
	return out
}

// Connections returns a snapshot of the connection registry.
func (e *Engine) Connections() []ConnectionInfo {
	return e.registry.All()
}

// CallState returns the current call session snapshot.
func (e *Engine) CallState() CallState {
	return e.calls.State()
}

// Calls exposes the call bridge for call intents.
func (e *Engine) Calls() *CallBridge {
	return e.calls
}

// Notice returns the current user-facing notice; latest wins, one at
// a time.
func (e *Engine) Notice() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.notice
}

// ClearNotice dismisses the current notice.
func (e *Engine) ClearNotice() {
	e.mu.Lock()
	e.notice = ""
	e.mu.Unlock()
}

// Energy returns the persisted activity counter.
func (e *Engine) Energy() int {
	energy, err := e.db.GetEnergy()
	if err != nil {
		return 0
	}
	return energy
}

func (e *Engine) bumpEnergy() {
	energy, err := e.db.GetEnergy()
	if err != nil {
		return
	}
	if err := e.db.SetEnergy(energy + 1); err != nil {
		log.Printf("⚠️  Failed to persist energy: %v", err)
	}
}

func (e *Engine) appendMessage(msg *protocol.Message) {
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	e.byID[msg.ID] = msg
	e.mu.Unlock()
}

func (e *Engine) setNotice(text string) {
	e.mu.Lock()
	e.notice = text
	e.mu.Unlock()
	if e.OnNotice != nil {
		e.OnNotice(text)
	}
}

func (e *Engine) fireFriendAdded(friend protocol.FriendRecord) {
	if e.OnFriendAdded != nil {
		e.OnFriendAdded(friend)
	}
}
