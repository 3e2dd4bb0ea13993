package auth

import (
	"encoding/json"
	"strings"

	apperrors "github.com/claudeconnect/client/internal/errors"
)

// PairingPayload is what a companion server encodes in its pairing QR code.
type PairingPayload struct {
	UUID string `json:"uuid"`
	URL  string `json:"url,omitempty"`
}

// ParsePairingPayload decodes a scanned pairing string. A JSON object yields
// both the id and the server URL; any other non-empty text is taken as a bare
// pairing id with no URL.
func ParsePairingPayload(raw string) (PairingPayload, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return PairingPayload{}, apperrors.New(apperrors.CodeInvalidConfiguration, "empty pairing payload")
	}

	if strings.HasPrefix(text, "{") {
		var p PairingPayload
		if err := json.Unmarshal([]byte(text), &p); err == nil {
			p.UUID = strings.TrimSpace(p.UUID)
			p.URL = strings.TrimSpace(p.URL)
			if p.UUID == "" {
				return PairingPayload{}, apperrors.New(apperrors.CodeInvalidConfiguration, "pairing payload has no uuid")
			}
			return p, nil
		}
	}

	return PairingPayload{UUID: text}, nil
}

// Encode renders the payload as the JSON carried in the QR code.
func (p PairingPayload) Encode() string {
	data, _ := json.Marshal(p)
	return string(data)
}

// Apply returns c updated for a fresh pairing: the new id replaces the old,
// the URL replaces the old one when present, and any stale token is dropped.
func (p PairingPayload) Apply(c Credentials) Credentials {
	c.AuthID = p.UUID
	if p.URL != "" {
		c.ServerURL = p.URL
	}
	c.ReconnectionToken = ""
	c.ClientID = ""
	return c
}
