package protocol

import (
	"testing"
	"time"
)

func TestAddReaction(t *testing.T) {
	msg := &Message{ID: NewMessageID(), Text: "hello"}

	msg.AddReaction("✨")
	msg.AddReaction("✨")
	msg.AddReaction("🔥")

	if got := msg.Reactions["✨"]; got != 2 {
		t.Errorf("Reactions[✨] = %d, want 2", got)
	}
	if got := msg.Reactions["🔥"]; got != 1 {
		t.Errorf("Reactions[🔥] = %d, want 1", got)
	}
}

func TestCloneDoesNotAliasReactions(t *testing.T) {
	msg := &Message{ID: NewMessageID(), Text: "hello"}
	msg.AddReaction("✨")

	clone := msg.Clone()
	clone.AddReaction("✨")

	if msg.Reactions["✨"] != 1 {
		t.Errorf("original mutated through clone: Reactions[✨] = %d, want 1", msg.Reactions["✨"])
	}
	if clone.Reactions["✨"] != 2 {
		t.Errorf("clone Reactions[✨] = %d, want 2", clone.Reactions["✨"])
	}
}

func TestNewMessageIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("duplicate message id %s", id)
		}
		seen[id] = true
	}
}

func TestNowTimestampParses(t *testing.T) {
	ts := NowTimestamp()
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Errorf("NowTimestamp() = %q, not RFC3339: %v", ts, err)
	}
}
