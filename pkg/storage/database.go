// Package storage provides local persistence for chat history, the
// friend list, pending friend requests, and profile values. Everything
// is read once at startup and written on every mutation.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
)

// ChatDB manages the local chat database
type ChatDB struct {
	db *sql.DB
}

// NewChatDB opens (or creates) the chat database at the given path
func NewChatDB(dbPath string) (*ChatDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	cdb := &ChatDB{db: db}

	if err := cdb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return cdb, nil
}

// initSchema creates database tables
func (db *ChatDB) initSchema() error {
	schema := `
	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,
		sender TEXT NOT NULL,
		sender_name TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		is_me INTEGER NOT NULL,
		recipient TEXT,
		reactions TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Friends table
	CREATE TABLE IF NOT EXISTS friends (
		peer_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		added_at INTEGER NOT NULL
	);

	-- Pending friend requests, ordered by arrival
	CREATE TABLE IF NOT EXISTS friend_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer_id TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		requested_at INTEGER NOT NULL
	);

	-- Profile values (username, energy counter, timestamps)
	CREATE TABLE IF NOT EXISTS profile (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Indexes for performance
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
	CREATE INDEX IF NOT EXISTS idx_friends_name ON friends(name);
	`

	_, err := db.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// Close closes the database connection
func (db *ChatDB) Close() error {
	return db.db.Close()
}

// ===== HELPER FUNCTIONS =====

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
