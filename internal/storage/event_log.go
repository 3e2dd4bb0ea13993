package storage

import (
	"fmt"
	"time"
)

// LogRecord is one persisted diagnostic log entry.
type LogRecord struct {
	ID        string
	CreatedAt time.Time
	Level     string
	Category  string
	Message   string
}

// AppendLogEntry inserts rec and trims the table to the newest limit rows.
// A limit of zero or less disables trimming.
func (s *SQLiteStore) AppendLogEntry(rec LogRecord, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin log transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO event_log (id, created_at, level, category, message) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.CreatedAt.Format(time.RFC3339Nano), rec.Level, rec.Category, rec.Message,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	if limit > 0 {
		_, err = tx.Exec(`
			DELETE FROM event_log
			WHERE seq NOT IN (SELECT seq FROM event_log ORDER BY seq DESC LIMIT ?)
		`, limit)
		if err != nil {
			return fmt.Errorf("trim event log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log entry: %w", err)
	}
	return nil
}

// ListLogEntries returns up to limit entries, oldest first.
// A limit of zero or less returns everything.
func (s *SQLiteStore) ListLogEntries(limit int) ([]LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, level, category, message FROM (
			SELECT seq, id, created_at, level, category, message
			FROM event_log ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var rec LogRecord
		var created string
		if err := rows.Scan(&rec.ID, &created, &rec.Level, &rec.Category, &rec.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse log timestamp: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event log: %w", err)
	}
	return out, nil
}

// ClearLogEntries deletes the whole diagnostic log.
func (s *SQLiteStore) ClearLogEntries() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM event_log"); err != nil {
		return fmt.Errorf("clear event log: %w", err)
	}
	return nil
}
