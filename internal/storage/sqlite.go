// Package storage persists client state in SQLite: the credential settings,
// the diagnostic event log, and (for the companion emulator) issued
// reconnection tokens.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/claudeconnect/client/internal/logger"

	// Pure-Go SQLite driver, registers "sqlite".
	_ "modernc.org/sqlite"
)

// ErrTokenNotFound is returned when a token lookup fails.
var ErrTokenNotFound = errors.New("token not found")

// SQLiteStore is safe for concurrent use; every statement runs under mu.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path and
// applies pending migrations. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log := logger.Component("storage")
	log.Debug().Str("path", path).Msg("opening database")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, log: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Debug().Int("schema_version", currentSchemaVersion).Msg("database ready")
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.log.Debug().Msg("closing database")
	return s.db.Close()
}
