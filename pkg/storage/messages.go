package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/auracord/auracord-node/pkg/protocol"
)

// ===== MESSAGE OPERATIONS =====

// SaveMessage stores a message in the database
func (db *ChatDB) SaveMessage(msg *protocol.Message) error {
	reactions, err := encodeReactions(msg.Reactions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (
			message_id, sender, sender_name, text, timestamp,
			is_me, recipient, reactions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.db.Exec(
		query,
		msg.ID,
		msg.Sender,
		msg.SenderName,
		msg.Text,
		msg.Timestamp,
		boolToInt(msg.IsMe),
		msg.Recipient,
		reactions,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %v", err)
	}

	return nil
}

// GetMessage retrieves a message by ID
func (db *ChatDB) GetMessage(messageID string) (*protocol.Message, error) {
	query := `
		SELECT message_id, sender, sender_name, text, timestamp,
		       is_me, recipient, reactions
		FROM messages WHERE message_id = ?
	`

	msg, err := scanMessage(db.db.QueryRow(query, messageID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// GetAllMessages retrieves the full history in processing order
// (oldest first), for replay into the in-memory store at startup
func (db *ChatDB) GetAllMessages() ([]*protocol.Message, error) {
	query := `
		SELECT message_id, sender, sender_name, text, timestamp,
		       is_me, recipient, reactions
		FROM messages
		ORDER BY id ASC
	`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*protocol.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// UpdateReactions persists the reaction counts of a message in place
func (db *ChatDB) UpdateReactions(messageID string, reactions map[string]int) error {
	encoded, err := encodeReactions(reactions)
	if err != nil {
		return err
	}

	result, err := db.db.Exec(
		`UPDATE messages SET reactions = ? WHERE message_id = ?`,
		encoded, messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reactions: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ClearMessages wipes the entire message history
func (db *ChatDB) ClearMessages() error {
	if _, err := db.db.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to clear messages: %v", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*protocol.Message, error) {
	var msg protocol.Message
	var isMe int
	var recipient sql.NullString
	var reactions sql.NullString

	err := row.Scan(
		&msg.ID,
		&msg.Sender,
		&msg.SenderName,
		&msg.Text,
		&msg.Timestamp,
		&isMe,
		&recipient,
		&reactions,
	)
	if err != nil {
		return nil, err
	}

	msg.IsMe = intToBool(isMe)
	msg.Recipient = recipient.String

	if reactions.Valid && reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &msg.Reactions); err != nil {
			return nil, fmt.Errorf("failed to decode reactions: %v", err)
		}
	}

	return &msg, nil
}

func encodeReactions(reactions map[string]int) (string, error) {
	if len(reactions) == 0 {
		return "", nil
	}
	data, err := json.Marshal(reactions)
	if err != nil {
		return "", fmt.Errorf("failed to encode reactions: %v", err)
	}
	return string(data), nil
}
