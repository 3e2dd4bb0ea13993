package storage

// settings.go holds the key/value table used by the credential store.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSetting returns the value stored under key and whether it exists.
func (s *SQLiteStore) GetSetting(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSettings writes every pair in one transaction. A nil value deletes the
// key, so related keys can be replaced or cleared together.
func (s *SQLiteStore) SetSettings(values map[string]*string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin settings transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339Nano)
	for key, value := range values {
		if value == nil {
			if _, err := tx.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
				return fmt.Errorf("delete setting %s: %w", key, err)
			}
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, *value, now)
		if err != nil {
			return fmt.Errorf("set setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}
