package session

import (
	apperrors "github.com/claudeconnect/client/internal/errors"
)

// Kind is the connection lifecycle state.
type Kind string

const (
	Disconnected   Kind = "disconnected"
	Connecting     Kind = "connecting"
	Authenticating Kind = "authenticating"
	Authenticated  Kind = "authenticated"
	Reconnecting   Kind = "reconnecting"
	Failed         Kind = "failed"
)

// Status is the observable connection status. Reason and Code are set only
// for Failed.
type Status struct {
	Kind   Kind
	Reason string
	Code   string
}

// Colour names used when rendering a Status.
const (
	ColorRed    = "red"
	ColorOrange = "orange"
	ColorGreen  = "green"
)

func failedStatus(err error) Status {
	code, msg := apperrors.ToCodeAndMessage(err)
	return Status{Kind: Failed, Reason: msg, Code: code}
}

// InFlight reports a connection attempt that has not settled yet.
func (s Status) InFlight() bool {
	switch s.Kind {
	case Connecting, Authenticating, Reconnecting:
		return true
	}
	return false
}

// String is the user-facing status text.
func (s Status) String() string {
	switch s.Kind {
	case Connecting:
		return "Connecting..."
	case Authenticating:
		return "Authenticating..."
	case Authenticated:
		return "Connected"
	case Reconnecting:
		return "Reconnecting..."
	case Failed:
		return "Failed: " + s.Reason
	default:
		return "Disconnected"
	}
}

// Color is red when down, orange while in flight, green when authenticated.
func (s Status) Color() string {
	switch {
	case s.Kind == Authenticated:
		return ColorGreen
	case s.InFlight():
		return ColorOrange
	default:
		return ColorRed
	}
}
