package background

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/claudeconnect/client/internal/logger"
)

// Manager owns at most one grant at a time.
type Manager struct {
	mu sync.Mutex

	adapter   Adapter
	now       func() time.Time
	onExpired func(error)
	log       zerolog.Logger

	status Status
	handle Handle
	closed bool
	// gen invalidates watchers of replaced handles.
	gen uint64
}

// NewManager creates a manager in StateIdle.
func NewManager(adapter Adapter, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		adapter:   adapter,
		now:       now,
		onExpired: opts.OnExpired,
		log:       logger.Component("background"),
		status:    Status{State: StateIdle, UpdatedAt: now()},
	}
}

// Snapshot returns the current status.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Begin requests a grant. Calling it while one is held is a no-op.
func (m *Manager) Begin(ctx context.Context) Status {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}
	if m.handle != nil {
		select {
		case <-m.handle.Done():
			m.handle = nil
			m.gen++
		default:
			defer m.mu.Unlock()
			return m.status
		}
	}
	m.status.Wanted = true
	m.transitionLocked(StatePending, "")
	m.mu.Unlock()

	h, err := m.adapter.Acquire(ctx)
	if err != nil {
		m.mu.Lock()
		m.transitionLocked(StateFailed, err.Error())
		st := m.status
		m.mu.Unlock()
		m.log.Warn().Err(err).Msg("background grant refused")
		return st
	}

	m.mu.Lock()
	if !m.status.Wanted || m.closed {
		m.mu.Unlock()
		_ = h.Release(context.Background())
		m.mu.Lock()
		m.transitionLocked(StateIdle, "")
		st := m.status
		m.mu.Unlock()
		return st
	}
	m.handle = h
	m.gen++
	gen := m.gen
	m.transitionLocked(StateGranted, "")
	st := m.status
	m.mu.Unlock()

	m.log.Debug().Msg("background grant acquired")
	go m.watch(h, gen)
	return st
}

// End releases any grant and returns to StateIdle.
func (m *Manager) End(ctx context.Context) Status {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}
	m.status.Wanted = false
	h := m.handle
	m.handle = nil
	m.gen++
	m.transitionLocked(StateIdle, "")
	st := m.status
	m.mu.Unlock()

	if h == nil {
		return st
	}
	if err := h.Release(ctx); err != nil {
		m.mu.Lock()
		m.status.LastError = err.Error()
		m.status.Revision++
		st = m.status
		m.mu.Unlock()
	}
	return st
}

// Close releases any grant; later calls do nothing.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.status.Wanted = false
	h := m.handle
	m.handle = nil
	m.gen++
	m.transitionLocked(StateIdle, "")
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Release(ctx)
}

func (m *Manager) watch(h Handle, gen uint64) {
	<-h.Done()

	m.mu.Lock()
	if m.handle != h || m.gen != gen || !m.status.Wanted || m.closed {
		m.mu.Unlock()
		return
	}
	err := h.Err()
	if err == nil {
		err = ErrBudgetExhausted
	}
	m.handle = nil
	m.transitionLocked(StateExpired, err.Error())
	cb := m.onExpired
	m.mu.Unlock()

	m.log.Info().Err(err).Msg("background grant expired")
	if cb != nil {
		cb(err)
	}
}

func (m *Manager) transitionLocked(next State, lastErr string) {
	m.status.State = next
	m.status.LastError = lastErr
	m.status.UpdatedAt = m.now()
	m.status.Revision++
}
