// Package background manages the extra execution time a host grants the
// client after it moves to the background.
//
// On a phone the OS hands out a limited window before suspending the app;
// here the grant is modelled as an Adapter so a host embedding can plug in
// its own mechanism. The session keeps its keep-alive probe running only
// while a grant is held.
package background

import (
	"context"
	"errors"
	"time"
)

// State is the grant lifecycle state.
type State string

const (
	// StateIdle means no grant is wanted or held.
	StateIdle State = "IDLE"
	// StatePending means an acquire is in progress.
	StatePending State = "PENDING"
	// StateGranted means extra execution time is held.
	StateGranted State = "GRANTED"
	// StateExpired means the grant ran out while still wanted.
	StateExpired State = "EXPIRED"
	// StateFailed means the host refused the grant.
	StateFailed State = "FAILED"
)

// ErrBudgetExhausted is reported by a handle whose time ran out.
var ErrBudgetExhausted = errors.New("background execution budget exhausted")

// Status is a snapshot of the manager.
type Status struct {
	State     State
	Wanted    bool
	LastError string
	UpdatedAt time.Time
	// Revision increments on every transition.
	Revision int64
}

// Handle is one acquired grant.
type Handle interface {
	// Done is closed when the grant ends for any reason.
	Done() <-chan struct{}
	// Err explains why Done closed; nil after Release.
	Err() error
	// Release gives the grant back early.
	Release(ctx context.Context) error
}

// Adapter obtains grants from the host.
type Adapter interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Options configures a Manager.
type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time

	// OnExpired runs, outside the manager lock, when a wanted grant ends on
	// its own.
	OnExpired func(err error)
}
