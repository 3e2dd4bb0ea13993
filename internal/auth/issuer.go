package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/claudeconnect/client/internal/logger"
	"github.com/claudeconnect/client/internal/storage"
)

// Issuer errors.
var (
	ErrInvalidPairingID = errors.New("invalid pairing id")
	ErrInvalidToken     = errors.New("invalid reconnection token")
	ErrRateLimited      = errors.New("too many auth attempts, try again later")
)

// IssuedToken is an alias for storage.IssuedToken to avoid duplicating the struct.
type IssuedToken = storage.IssuedToken

// TokenStore persists issued token hashes. storage.SQLiteStore implements it.
type TokenStore interface {
	SaveIssuedToken(tok *IssuedToken) error
	ListIssuedTokens() ([]*IssuedToken, error)
	DeleteAllIssuedTokens() error
}

// IssuerConfig configures the server side of the handshake.
type IssuerConfig struct {
	// Store keeps token hashes. Default: in memory, lost on Reset.
	Store TokenStore

	// MaxAttemptsPerMinute limits auth attempts. Default: 30.
	MaxAttemptsPerMinute int

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	// TimeNow defaults to time.Now.
	TimeNow func() time.Time
}

// Grant is the outcome of a successful authentication.
type Grant struct {
	ClientID          string
	ReconnectionToken string
	// Resumed is true when a reconnection token was presented.
	Resumed bool
}

// Issuer is the companion server's half of the handshake: it owns the pairing
// id, validates auth frames, and rotates reconnection tokens on every success.
type Issuer struct {
	mu        sync.Mutex
	cfg       IssuerConfig
	pairingID string
	limiter   *rate.Limiter
	log       zerolog.Logger
}

// NewIssuer creates an issuer with a fresh pairing id.
func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.Store == nil {
		cfg.Store = &memoryTokenStore{}
	}
	if cfg.MaxAttemptsPerMinute == 0 {
		cfg.MaxAttemptsPerMinute = 30
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}
	return &Issuer{
		cfg:       cfg,
		pairingID: uuid.NewString(),
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxAttemptsPerMinute)), cfg.MaxAttemptsPerMinute),
		log:       logger.Component("issuer"),
	}
}

// PairingID returns the id a client must present on first contact.
func (is *Issuer) PairingID() string {
	is.mu.Lock()
	defer is.mu.Unlock()
	return is.pairingID
}

// Reset forgets every issued token and generates a new pairing id, which is
// what a server restart looks like to clients.
func (is *Issuer) Reset() error {
	is.mu.Lock()
	defer is.mu.Unlock()

	if err := is.cfg.Store.DeleteAllIssuedTokens(); err != nil {
		return fmt.Errorf("reset tokens: %w", err)
	}
	is.pairingID = uuid.NewString()
	is.log.Info().Msg("issuer reset: tokens revoked, new pairing id")
	return nil
}

// Authenticate validates the first frame a client sends: either
// {"token": "..."} or a raw pairing id.
func (is *Issuer) Authenticate(frame string) (*Grant, error) {
	is.mu.Lock()
	defer is.mu.Unlock()

	if !is.limiter.Allow() {
		return nil, ErrRateLimited
	}

	text := strings.TrimSpace(frame)
	var tf tokenFrame
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &tf) == nil && tf.Token != "" {
		clientID, err := is.matchToken(tf.Token)
		if err != nil {
			return nil, err
		}
		return is.issue(clientID, true)
	}

	if subtle.ConstantTimeCompare([]byte(text), []byte(is.pairingID)) != 1 {
		is.log.Warn().Msg("pairing id rejected")
		return nil, ErrInvalidPairingID
	}
	return is.issue(uuid.NewString(), false)
}

func (is *Issuer) matchToken(token string) (string, error) {
	tokens, err := is.cfg.Store.ListIssuedTokens()
	if err != nil {
		return "", err
	}
	for _, t := range tokens {
		if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(token)) == nil {
			return t.ClientID, nil
		}
	}
	is.log.Warn().Msg("reconnection token rejected")
	return "", ErrInvalidToken
}

func (is *Issuer) issue(clientID string, resumed bool) (*Grant, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), is.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}

	now := is.cfg.TimeNow()
	created := now
	if resumed {
		if existing, err := is.cfg.Store.ListIssuedTokens(); err == nil {
			for _, t := range existing {
				if t.ClientID == clientID {
					created = t.CreatedAt
				}
			}
		}
	}
	if err := is.cfg.Store.SaveIssuedToken(&IssuedToken{
		ClientID:  clientID,
		TokenHash: string(hash),
		CreatedAt: created,
		LastSeen:  now,
	}); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}

	is.log.Info().Str("client_id", clientID).Bool("resumed", resumed).Msg("token issued")
	return &Grant{ClientID: clientID, ReconnectionToken: token, Resumed: resumed}, nil
}

type memoryTokenStore struct {
	mu     sync.Mutex
	tokens []*IssuedToken
}

func (m *memoryTokenStore) SaveIssuedToken(tok *IssuedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tokens {
		if t.ClientID == tok.ClientID {
			m.tokens[i] = tok
			return nil
		}
	}
	m.tokens = append(m.tokens, tok)
	return nil
}

func (m *memoryTokenStore) ListIssuedTokens() ([]*IssuedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*IssuedToken(nil), m.tokens...), nil
}

func (m *memoryTokenStore) DeleteAllIssuedTokens() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = nil
	return nil
}
