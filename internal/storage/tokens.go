package storage

// tokens.go stores reconnection tokens issued by the companion emulator.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IssuedToken is a reconnection token as remembered by the server side.
type IssuedToken struct {
	ClientID  string
	TokenHash string
	CreatedAt time.Time
	LastSeen  time.Time
}

// SaveIssuedToken inserts or replaces the token for tok.ClientID.
func (s *SQLiteStore) SaveIssuedToken(tok *IssuedToken) error {
	if tok == nil {
		return errors.New("token cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO issued_tokens (client_id, token_hash, created_at, last_seen)
		VALUES (?, ?, ?, ?)
	`, tok.ClientID, tok.TokenHash, tok.CreatedAt.Format(time.RFC3339Nano), tok.LastSeen.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save issued token: %w", err)
	}
	return nil
}

// ListIssuedTokens returns all tokens, oldest first.
func (s *SQLiteStore) ListIssuedTokens() ([]*IssuedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT client_id, token_hash, created_at, last_seen
		FROM issued_tokens ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query issued tokens: %w", err)
	}
	defer rows.Close()

	var out []*IssuedToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issued tokens: %w", err)
	}
	return out, nil
}

// GetIssuedToken returns ErrTokenNotFound when clientID has no token.
func (s *SQLiteStore) GetIssuedToken(clientID string) (*IssuedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT client_id, token_hash, created_at, last_seen
		FROM issued_tokens WHERE client_id = ?
	`, clientID)
	tok, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return tok, err
}

// DeleteIssuedToken removes one token. Missing tokens are not an error.
func (s *SQLiteStore) DeleteIssuedToken(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM issued_tokens WHERE client_id = ?", clientID); err != nil {
		return fmt.Errorf("delete issued token: %w", err)
	}
	return nil
}

// DeleteAllIssuedTokens forgets every token, as a server restart does.
func (s *SQLiteStore) DeleteAllIssuedTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM issued_tokens"); err != nil {
		return fmt.Errorf("delete issued tokens: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*IssuedToken, error) {
	var tok IssuedToken
	var created, seen string
	if err := row.Scan(&tok.ClientID, &tok.TokenHash, &created, &seen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan issued token: %w", err)
	}
	var err error
	if tok.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if tok.LastSeen, err = time.Parse(time.RFC3339Nano, seen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	return &tok, nil
}
