package storage

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Profile keys
const (
	ProfileKeyUsername       = "username"
	ProfileKeyEnergy         = "energy"
	ProfileKeyLastNameChange = "last_name_change"
)

// ===== PROFILE OPERATIONS =====

// SetProfileValue stores a profile value
func (db *ChatDB) SetProfileValue(key, value string) error {
	query := `
		INSERT INTO profile (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := db.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to set profile value %q: %v", key, err)
	}
	return nil
}

// GetProfileValue retrieves a profile value
func (db *ChatDB) GetProfileValue(key string) (string, error) {
	row := db.db.QueryRow(`SELECT value FROM profile WHERE key = ?`, key)

	var value string
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	return value, nil
}

// GetEnergy returns the stored energy counter, zero when unset
func (db *ChatDB) GetEnergy() (int, error) {
	value, err := db.GetProfileValue(ProfileKeyEnergy)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// SetEnergy stores the energy counter
func (db *ChatDB) SetEnergy(energy int) error {
	return db.SetProfileValue(ProfileKeyEnergy, strconv.Itoa(energy))
}
