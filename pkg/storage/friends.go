package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/auracord/auracord-node/pkg/protocol"
)

// ===== FRIEND OPERATIONS =====

// SaveFriend adds or updates a friend record
func (db *ChatDB) SaveFriend(friend *protocol.FriendRecord) error {
	query := `
		INSERT INTO friends (peer_id, name, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			name = excluded.name
	`

	_, err := db.db.Exec(query, friend.ID, friend.Name, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save friend: %v", err)
	}

	return nil
}

// GetFriend retrieves a friend by peer id
func (db *ChatDB) GetFriend(peerID string) (*protocol.FriendRecord, error) {
	row := db.db.QueryRow(`SELECT peer_id, name FROM friends WHERE peer_id = ?`, peerID)

	var friend protocol.FriendRecord
	err := row.Scan(&friend.ID, &friend.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &friend, nil
}

// GetAllFriends retrieves all friends
func (db *ChatDB) GetAllFriends() ([]*protocol.FriendRecord, error) {
	rows, err := db.db.Query(`SELECT peer_id, name FROM friends ORDER BY added_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []*protocol.FriendRecord
	for rows.Next() {
		var friend protocol.FriendRecord
		if err := rows.Scan(&friend.ID, &friend.Name); err != nil {
			return nil, err
		}
		friends = append(friends, &friend)
	}

	return friends, rows.Err()
}

// DeleteFriend removes a friend record
func (db *ChatDB) DeleteFriend(peerID string) error {
	_, err := db.db.Exec(`DELETE FROM friends WHERE peer_id = ?`, peerID)
	return err
}

// ===== FRIEND REQUEST OPERATIONS =====

// SaveFriendRequest appends a pending request. Duplicate requests from
// the same peer keep their original position and update the name only.
func (db *ChatDB) SaveFriendRequest(req *protocol.FriendRequest) error {
	query := `
		INSERT INTO friend_requests (peer_id, name, requested_at)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			name = excluded.name
	`

	_, err := db.db.Exec(query, req.ID, req.Name, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save friend request: %v", err)
	}

	return nil
}

// GetFriendRequests retrieves pending requests, oldest first
func (db *ChatDB) GetFriendRequests() ([]*protocol.FriendRequest, error) {
	rows, err := db.db.Query(`SELECT peer_id, name FROM friend_requests ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*protocol.FriendRequest
	for rows.Next() {
		var req protocol.FriendRequest
		if err := rows.Scan(&req.ID, &req.Name); err != nil {
			return nil, err
		}
		requests = append(requests, &req)
	}

	return requests, rows.Err()
}

// DeleteFriendRequest removes a pending request
func (db *ChatDB) DeleteFriendRequest(peerID string) error {
	_, err := db.db.Exec(`DELETE FROM friend_requests WHERE peer_id = ?`, peerID)
	return err
}
