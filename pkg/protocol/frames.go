// Package protocol defines the application-level frames exchanged
// between two chat endpoints and the message model both ends reconcile.
// Frames are JSON with a type discriminator; the byte layout on the
// wire is the transport's concern.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types
const (
	FrameTypeHandshake     = "handshake"
	FrameTypeFriendRequest = "friend-request"
	FrameTypeFriendAccept  = "friend-accept"
	FrameTypeMessage       = "message"
	FrameTypeReaction      = "reaction"
	FrameTypeNameChange    = "nameChange"
)

var ErrUnknownFrameType = errors.New("unknown frame type")

// Frame is a single unit of the chat protocol. Type selects which of
// the optional fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	// handshake, friend-request, friend-accept, message
	Username string `json:"username,omitempty"`

	// handshake
	IsFriend bool `json:"isFriend,omitempty"`

	// message
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// reaction. Each end assigns its own message ids, so the frame also
	// carries the text and timestamp of the message being reacted to for
	// the far end to match its copy by.
	MsgID        string `json:"msgId,omitempty"`
	MsgText      string `json:"msgText,omitempty"`
	MsgTimestamp string `json:"msgTimestamp,omitempty"`
	Emoji        string `json:"emoji,omitempty"`

	// nameChange
	NewUsername string `json:"newUsername,omitempty"`
}

// NewHandshake builds the frame sent immediately after a connection
// opens, carrying the local display name and friendship claim.
func NewHandshake(username string, isFriend bool) *Frame {
	return &Frame{Type: FrameTypeHandshake, Username: username, IsFriend: isFriend}
}

// NewFriendRequest builds a friend-request frame.
func NewFriendRequest(username string) *Frame {
	return &Frame{Type: FrameTypeFriendRequest, Username: username}
}

// NewFriendAccept builds a friend-accept frame.
func NewFriendAccept(username string) *Frame {
	return &Frame{Type: FrameTypeFriendAccept, Username: username}
}

// NewMessage builds a chat message frame. The timestamp travels with
// the text so both copies of the message share it.
func NewMessage(text, username, timestamp string) *Frame {
	return &Frame{Type: FrameTypeMessage, Text: text, Username: username, Timestamp: timestamp}
}

// NewReaction builds an emoji reaction frame. The id names the
// reactor's copy of the message; text and timestamp let the far end
// find its own copy when the ids differ.
func NewReaction(msgID, msgText, msgTimestamp, emoji string) *Frame {
	return &Frame{
		Type:         FrameTypeReaction,
		MsgID:        msgID,
		MsgText:      msgText,
		MsgTimestamp: msgTimestamp,
		Emoji:        emoji,
	}
}

// NewNameChange builds a display-name change frame.
func NewNameChange(newUsername string) *Frame {
	return &Frame{Type: FrameTypeNameChange, NewUsername: newUsername}
}

// Encode serializes the frame to JSON.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses and validates a frame from raw bytes. Frames with
// an unrecognized type are rejected so the engine never dispatches on
// garbage.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	switch f.Type {
	case FrameTypeHandshake, FrameTypeFriendRequest, FrameTypeFriendAccept,
		FrameTypeMessage, FrameTypeReaction, FrameTypeNameChange:
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type)
	}
}

// Call control frames, carried on the call channel rather than the
// chat channel.
const (
	CallControlInvite = "call-invite"
	CallControlAnswer = "call-answer"
	CallControlEnd    = "call-end"
)

// CallControl is a signaling unit for call setup and teardown.
type CallControl struct {
	Type      string `json:"type"`
	WithVideo bool   `json:"withVideo,omitempty"`
	StreamID  string `json:"streamId,omitempty"`
}

// Encode serializes the call control to JSON.
func (c *CallControl) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCallControl parses a call control unit from raw bytes.
func DecodeCallControl(data []byte) (*CallControl, error) {
	var c CallControl
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode call control: %w", err)
	}
	switch c.Type {
	case CallControlInvite, CallControlAnswer, CallControlEnd:
		return &c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, c.Type)
	}
}
