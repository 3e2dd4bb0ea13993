package background

import (
	"context"
	"sync"
	"time"
)

// TimedAdapter grants a fixed budget, the way a mobile OS grants a few
// minutes of background execution.
type TimedAdapter struct {
	Budget time.Duration
}

// Acquire starts a grant that ends after Budget. A non-positive budget
// grants indefinitely.
func (a TimedAdapter) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := &timedHandle{done: make(chan struct{})}
	if a.Budget > 0 {
		h.timer = time.AfterFunc(a.Budget, func() { h.finish(ErrBudgetExhausted) })
	}
	return h, nil
}

type timedHandle struct {
	once  sync.Once
	done  chan struct{}
	timer *time.Timer

	mu  sync.Mutex
	err error
}

func (h *timedHandle) finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *timedHandle) Done() <-chan struct{} { return h.done }

func (h *timedHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *timedHandle) Release(context.Context) error {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.finish(nil)
	return nil
}
