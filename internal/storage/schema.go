package storage

import (
	"fmt"
	"time"
)

// currentSchemaVersion is bumped together with a new migrateToVN.
const currentSchemaVersion = 3

func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	migrations := []func() error{s.migrateToV1, s.migrateToV2, s.migrateToV3}
	for i, migrate := range migrations {
		target := i + 1
		if version >= target {
			continue
		}
		if err := migrate(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", target, err)
		}
		if err := s.recordMigration(target); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) recordMigration(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration v%d: %w", version, err)
	}
	return nil
}

// migrateToV1 creates the key/value settings table that backs the
// credential store.
func (s *SQLiteStore) migrateToV1() error {
	s.log.Info().Msg("applying migration to schema version 1")

	const settingsTable = `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(settingsTable); err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}
	return nil
}

// migrateToV2 adds the diagnostic event log.
func (s *SQLiteStore) migrateToV2() error {
	s.log.Info().Msg("applying migration to schema version 2")

	const eventLogTable = `
		CREATE TABLE IF NOT EXISTS event_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			level TEXT NOT NULL,
			category TEXT NOT NULL,
			message TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(eventLogTable); err != nil {
		return fmt.Errorf("create event_log table: %w", err)
	}
	return nil
}

// migrateToV3 adds issued reconnection tokens for the companion emulator.
// Only bcrypt hashes are stored.
func (s *SQLiteStore) migrateToV3() error {
	s.log.Info().Msg("applying migration to schema version 3")

	const tokensTable = `
		CREATE TABLE IF NOT EXISTS issued_tokens (
			client_id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(tokensTable); err != nil {
		return fmt.Errorf("create issued_tokens table: %w", err)
	}
	return nil
}
