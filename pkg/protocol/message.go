package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Message is one entry in the reconciled chat history. Append-only;
// the only in-place mutation is merging a reaction count.
type Message struct {
	ID         string         `json:"id"`
	Sender     string         `json:"sender"`
	SenderName string         `json:"senderName"`
	Text       string         `json:"text"`
	Timestamp  string         `json:"timestamp"`
	IsMe       bool           `json:"isMe"`
	Recipient  string         `json:"recipient,omitempty"`
	Reactions  map[string]int `json:"reactions,omitempty"`
}

// NewMessageID generates a random message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// NowTimestamp returns the current time in the ISO-8601 form message
// timestamps use.
func NowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// AddReaction increments the count for an emoji, creating the entry at
// 1 if absent.
func (m *Message) AddReaction(emoji string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string]int)
	}
	m.Reactions[emoji]++
}

// Clone returns a deep copy, so readers never alias the engine-owned
// reaction map.
func (m *Message) Clone() *Message {
	c := *m
	if m.Reactions != nil {
		c.Reactions = make(map[string]int, len(m.Reactions))
		for k, v := range m.Reactions {
			c.Reactions[k] = v
		}
	}
	return &c
}

// FriendRecord is the mutual-trust record gating message and reaction
// acceptance.
type FriendRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FriendRequest is a pending inbound request, kept in insertion order.
type FriendRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
