package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auracord/auracord-node/pkg/protocol"
)

func newTestDB(t *testing.T) *ChatDB {
	t.Helper()
	db, err := NewChatDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndGetMessage(t *testing.T) {
	db := newTestDB(t)

	msg := &protocol.Message{
		ID:         protocol.NewMessageID(),
		Sender:     "peer-a",
		SenderName: "Alice",
		Text:       "hello",
		Timestamp:  protocol.NowTimestamp(),
		IsMe:       false,
	}
	require.NoError(t, db.SaveMessage(msg))

	got, err := db.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Text, got.Text)
	assert.Equal(t, msg.Sender, got.Sender)
	assert.False(t, got.IsMe)
	assert.Nil(t, got.Reactions)
}

func TestGetMessageNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetMessage("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAllMessagesOrder(t *testing.T) {
	db := newTestDB(t)

	ids := []string{}
	for i := 0; i < 3; i++ {
		msg := &protocol.Message{
			ID:         protocol.NewMessageID(),
			Sender:     "peer-a",
			SenderName: "Alice",
			Text:       "msg",
			Timestamp:  protocol.NowTimestamp(),
		}
		require.NoError(t, db.SaveMessage(msg))
		ids = append(ids, msg.ID)
	}

	msgs, err := db.GetAllMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, ids[i], msg.ID, "replay must preserve processing order")
	}
}

func TestUpdateReactions(t *testing.T) {
	db := newTestDB(t)

	msg := &protocol.Message{
		ID:         protocol.NewMessageID(),
		Sender:     "peer-a",
		SenderName: "Alice",
		Text:       "react to me",
		Timestamp:  protocol.NowTimestamp(),
	}
	require.NoError(t, db.SaveMessage(msg))

	require.NoError(t, db.UpdateReactions(msg.ID, map[string]int{"✨": 2, "🔥": 1}))

	got, err := db.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"✨": 2, "🔥": 1}, got.Reactions)

	err = db.UpdateReactions("missing", map[string]int{"✨": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearMessages(t *testing.T) {
	db := newTestDB(t)

	msg := &protocol.Message{
		ID:         protocol.NewMessageID(),
		Sender:     "peer-a",
		SenderName: "Alice",
		Text:       "bye",
		Timestamp:  protocol.NowTimestamp(),
	}
	require.NoError(t, db.SaveMessage(msg))
	require.NoError(t, db.ClearMessages())

	msgs, err := db.GetAllMessages()
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFriendRoundTrip(t *testing.T) {
	db := newTestDB(t)

	friend := &protocol.FriendRecord{ID: "peer-a", Name: "Alice"}
	require.NoError(t, db.SaveFriend(friend))

	got, err := db.GetFriend("peer-a")
	require.NoError(t, err)
	assert.Equal(t, friend, got)

	// Saving again updates the name without duplicating.
	friend.Name = "Alicia"
	require.NoError(t, db.SaveFriend(friend))

	friends, err := db.GetAllFriends()
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "Alicia", friends[0].Name)

	require.NoError(t, db.DeleteFriend("peer-a"))
	_, err = db.GetFriend("peer-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFriendRequestOrdering(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveFriendRequest(&protocol.FriendRequest{ID: "peer-a", Name: "Alice"}))
	require.NoError(t, db.SaveFriendRequest(&protocol.FriendRequest{ID: "peer-b", Name: "Bob"}))

	// A duplicate request keeps its original position.
	require.NoError(t, db.SaveFriendRequest(&protocol.FriendRequest{ID: "peer-a", Name: "Alice II"}))

	reqs, err := db.GetFriendRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "peer-a", reqs[0].ID)
	assert.Equal(t, "Alice II", reqs[0].Name)
	assert.Equal(t, "peer-b", reqs[1].ID)

	require.NoError(t, db.DeleteFriendRequest("peer-a"))
	reqs, err = db.GetFriendRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "peer-b", reqs[0].ID)
}

func TestProfileValues(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetProfileValue(ProfileKeyUsername)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetProfileValue(ProfileKeyUsername, "Aura Spirit"))
	got, err := db.GetProfileValue(ProfileKeyUsername)
	require.NoError(t, err)
	assert.Equal(t, "Aura Spirit", got)

	// Overwrite
	require.NoError(t, db.SetProfileValue(ProfileKeyUsername, "New Name"))
	got, err = db.GetProfileValue(ProfileKeyUsername)
	require.NoError(t, err)
	assert.Equal(t, "New Name", got)
}

func TestEnergyCounter(t *testing.T) {
	db := newTestDB(t)

	energy, err := db.GetEnergy()
	require.NoError(t, err)
	assert.Equal(t, 0, energy)

	require.NoError(t, db.SetEnergy(42))
	energy, err = db.GetEnergy()
	require.NoError(t, err)
	assert.Equal(t, 42, energy)
}
