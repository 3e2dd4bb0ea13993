package auth

import (
	"encoding/json"
	"strings"

	apperrors "github.com/claudeconnect/client/internal/errors"
)

// Status is the server's verdict on an auth frame.
type Status string

const (
	StatusSuccess Status = "AUTH_SUCCESS"
	StatusFailed  Status = "AUTH_FAILED"
	StatusTimeout Status = "AUTH_TIMEOUT"
)

func (s Status) valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Reply is a classified auth frame.
type Reply struct {
	Status            Status
	ReconnectionToken string
	ClientID          string
	// Legacy is set for the bare plain-text form.
	Legacy bool
}

// Rejected reports AUTH_FAILED or AUTH_TIMEOUT.
func (r Reply) Rejected() bool {
	return r.Status == StatusFailed || r.Status == StatusTimeout
}

type tokenFrame struct {
	Token string `json:"token"`
}

// BuildAuthFrame returns the first frame to send after the socket opens:
// {"token": ...} when a token pair is stored, otherwise the raw pairing id.
// With neither it returns an auth.no_credentials error.
func BuildAuthFrame(c Credentials) (string, error) {
	if c.ShouldUseToken() {
		data, err := json.Marshal(tokenFrame{Token: c.ReconnectionToken})
		if err != nil {
			return "", apperrors.Internal("encode token frame", err)
		}
		return string(data), nil
	}
	if c.AuthID != "" {
		return c.AuthID, nil
	}
	return "", apperrors.NoCredentials()
}

type statusFrame struct {
	Type              *string `json:"type"`
	Status            *string `json:"status"`
	ReconnectionToken string  `json:"reconnection_token"`
	ClientID          string  `json:"client_id"`
}

// ClassifyInbound recognizes auth replies in both the JSON form
// ({"status": "AUTH_SUCCESS", ...}) and the bare plain-text form.
// ok is false for anything else, which belongs to the message router.
// A JSON object carrying a "type" field is never an auth reply.
func ClassifyInbound(text string) (reply Reply, ok bool) {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "{") {
		var f statusFrame
		if err := json.Unmarshal([]byte(trimmed), &f); err == nil {
			if f.Type != nil || f.Status == nil {
				return Reply{}, false
			}
			s := Status(*f.Status)
			if !s.valid() {
				return Reply{}, false
			}
			return Reply{Status: s, ReconnectionToken: f.ReconnectionToken, ClientID: f.ClientID}, true
		}
	}

	if s := Status(trimmed); s.valid() {
		return Reply{Status: s, Legacy: true}, true
	}
	return Reply{}, false
}
