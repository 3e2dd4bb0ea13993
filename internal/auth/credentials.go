// Package auth decides which credential the client presents to the companion
// server, persists the credentials between runs, and classifies the server's
// auth replies.
//
// Credentials come in two flavours:
//   - the pairing id, usually scanned from a QR code, used for first contact
//   - a reconnection token plus client id, issued by the server on every
//     successful authentication and preferred over the pairing id
//
// The token and client id are always stored together or not at all.
package auth

import (
	"fmt"
	"strings"
	"sync"
)

// Setting keys in the credential store.
const (
	KeyServerURL         = "serverUrl"
	KeyAuthID            = "authId"
	KeyReconnectionToken = "reconnectionToken"
	KeyClientID          = "clientId"
)

// Credentials is the persisted identity of this client.
type Credentials struct {
	ServerURL         string
	AuthID            string
	ReconnectionToken string
	ClientID          string
}

// ShouldUseToken reports whether token auth applies: both the reconnection
// token and the client id must be non-empty.
func (c Credentials) ShouldUseToken() bool {
	return c.ReconnectionToken != "" && c.ClientID != ""
}

// HasStored reports whether there is enough to attempt an automatic connect.
func (c Credentials) HasStored() bool {
	return c.ServerURL != "" && (c.ShouldUseToken() || c.AuthID != "")
}

// WithToken returns a copy carrying the refreshed token pair. A half pair is
// ignored so the two fields never diverge.
func (c Credentials) WithToken(token, clientID string) Credentials {
	if token == "" || clientID == "" {
		return c
	}
	c.ReconnectionToken = token
	c.ClientID = clientID
	return c
}

// Normalize trims whitespace and drops a half token pair.
func (c Credentials) Normalize() Credentials {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	c.AuthID = strings.TrimSpace(c.AuthID)
	c.ReconnectionToken = strings.TrimSpace(c.ReconnectionToken)
	c.ClientID = strings.TrimSpace(c.ClientID)
	if c.ReconnectionToken == "" || c.ClientID == "" {
		c.ReconnectionToken = ""
		c.ClientID = ""
	}
	return c
}

// KV is the durable string store behind CredentialStore.
// storage.SQLiteStore implements it. A nil value in SetSettings deletes the key.
type KV interface {
	GetSetting(key string) (string, bool, error)
	SetSettings(values map[string]*string) error
}

// CredentialStore loads and saves Credentials through a KV.
type CredentialStore struct {
	mu sync.Mutex
	kv KV
}

// NewCredentialStore wraps kv. A nil kv keeps credentials in memory only.
func NewCredentialStore(kv KV) *CredentialStore {
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &CredentialStore{kv: kv}
}

// Load reads all four values. Missing keys load as empty strings.
func (s *CredentialStore) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Credentials
	fields := []struct {
		key string
		dst *string
	}{
		{KeyServerURL, &c.ServerURL},
		{KeyAuthID, &c.AuthID},
		{KeyReconnectionToken, &c.ReconnectionToken},
		{KeyClientID, &c.ClientID},
	}
	for _, f := range fields {
		v, _, err := s.kv.GetSetting(f.key)
		if err != nil {
			return Credentials{}, fmt.Errorf("load %s: %w", f.key, err)
		}
		*f.dst = v
	}
	return c.Normalize(), nil
}

// Save writes all four values in one call. Empty values are deleted.
func (s *CredentialStore) Save(c Credentials) error {
	c = c.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.kv.SetSettings(map[string]*string{
		KeyServerURL:         optional(c.ServerURL),
		KeyAuthID:            optional(c.AuthID),
		KeyReconnectionToken: optional(c.ReconnectionToken),
		KeyClientID:          optional(c.ClientID),
	})
}

// Clear deletes every credential, including the server URL.
func (s *CredentialStore) Clear() error {
	return s.Save(Credentials{})
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// GetSetting implements KV.
func (m *MemoryKV) GetSetting(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// SetSettings implements KV.
func (m *MemoryKV) SetSettings(values map[string]*string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		if v == nil {
			delete(m.values, k)
		} else {
			m.values[k] = *v
		}
	}
	return nil
}
