package background

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAdapter struct {
	acquire func(context.Context) (Handle, error)
}

func (a *fakeAdapter) Acquire(ctx context.Context) (Handle, error) {
	return a.acquire(ctx)
}

type fakeHandle struct {
	done    chan struct{}
	err     error
	release func(context.Context) error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{done: make(chan struct{})}
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Err() error            { return h.err }
func (h *fakeHandle) Release(ctx context.Context) error {
	if h.release != nil {
		return h.release(ctx)
	}
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	return nil
}

func fixed(h Handle) *fakeAdapter {
	return &fakeAdapter{acquire: func(context.Context) (Handle, error) { return h, nil }}
}

func TestBegin_Granted(t *testing.T) {
	m := NewManager(fixed(newFakeHandle()), Options{})

	st := m.Begin(context.Background())
	if st.State != StateGranted || !st.Wanted {
		t.Fatalf("status=%+v want GRANTED and wanted", st)
	}
}

func TestBegin_AcquireFailure(t *testing.T) {
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) {
		return nil, errors.New("host refused")
	}}, Options{})

	st := m.Begin(context.Background())
	if st.State != StateFailed {
		t.Fatalf("state=%s want FAILED", st.State)
	}
	if st.LastError != "host refused" {
		t.Fatalf("last error=%q", st.LastError)
	}
}

func TestBegin_IdempotentWhileHeld(t *testing.T) {
	calls := 0
	h := newFakeHandle()
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) {
		calls++
		return h, nil
	}}, Options{})

	m.Begin(context.Background())
	m.Begin(context.Background())
	if calls != 1 {
		t.Fatalf("acquire calls=%d want 1", calls)
	}
}

func TestEnd_ReleasesWithoutExpiryCallback(t *testing.T) {
	expired := make(chan error, 1)
	h := newFakeHandle()
	m := NewManager(fixed(h), Options{OnExpired: func(err error) { expired <- err }})

	m.Begin(context.Background())
	st := m.End(context.Background())
	if st.State != StateIdle || st.Wanted {
		t.Fatalf("status=%+v want IDLE", st)
	}

	select {
	case err := <-expired:
		t.Fatalf("unexpected expiry callback: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExpiryRunsCallback(t *testing.T) {
	expired := make(chan error, 1)
	m := NewManager(TimedAdapter{Budget: 20 * time.Millisecond}, Options{
		OnExpired: func(err error) { expired <- err },
	})

	m.Begin(context.Background())

	select {
	case err := <-expired:
		if !errors.Is(err, ErrBudgetExhausted) {
			t.Fatalf("err=%v want ErrBudgetExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected expiry callback")
	}
	if st := m.Snapshot(); st.State != StateExpired {
		t.Fatalf("state=%s want EXPIRED", st.State)
	}

	// A fresh Begin after expiry acquires again.
	if st := m.Begin(context.Background()); st.State != StateGranted {
		t.Fatalf("state=%s want GRANTED after re-begin", st.State)
	}
	m.End(context.Background())
}

func TestEnd_ReleaseErrorRecorded(t *testing.T) {
	h := newFakeHandle()
	h.release = func(context.Context) error { return errors.New("release failed") }
	m := NewManager(fixed(h), Options{})

	m.Begin(context.Background())
	st := m.End(context.Background())
	if st.State != StateIdle {
		t.Fatalf("state=%s want IDLE", st.State)
	}
	if st.LastError == "" {
		t.Fatal("expected release error to be recorded")
	}
}

func TestClose(t *testing.T) {
	released := false
	h := newFakeHandle()
	h.release = func(context.Context) error {
		released = true
		close(h.done)
		return nil
	}
	m := NewManager(fixed(h), Options{})
	m.Begin(context.Background())

	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !released {
		t.Fatal("expected release on close")
	}
	if st := m.Begin(context.Background()); st.State != StateIdle {
		t.Fatalf("Begin after Close should not acquire, state=%s", st.State)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestTimedAdapter_UnlimitedBudget(t *testing.T) {
	h, err := TimedAdapter{}.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-h.Done():
		t.Fatal("unlimited grant should not end on its own")
	case <-time.After(30 * time.Millisecond):
	}
	h.Release(context.Background())
	<-h.Done()
	if h.Err() != nil {
		t.Fatalf("Err after Release = %v, want nil", h.Err())
	}
}

func TestConcurrentBeginEnd(t *testing.T) {
	m := NewManager(TimedAdapter{Budget: time.Minute}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Begin(context.Background())
			} else {
				m.End(context.Background())
			}
		}(i)
	}
	wg.Wait()
	m.Close(context.Background())
}
