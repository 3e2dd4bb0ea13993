package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeconnect/client/internal/auth"
	"github.com/claudeconnect/client/internal/background"
	apperrors "github.com/claudeconnect/client/internal/errors"
	"github.com/claudeconnect/client/internal/eventbus"
	"github.com/claudeconnect/client/internal/transport"
)

const testURL = "ws://127.0.0.1:7777/ws"

const waitFor = 2 * time.Second

type fakeConn struct {
	events    chan transport.Event
	sent      chan string
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	kaActive bool
	kaStarts int
	pings    int
	pingErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan transport.Event),
		sent:   make(chan string, 32),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Events() <-chan transport.Event { return c.events }

func (c *fakeConn) Send(text string) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.sent <- text
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) StartKeepAlive(time.Duration, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kaActive = true
	c.kaStarts++
}

func (c *fakeConn) StopKeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kaActive = false
}

func (c *fakeConn) KeepAliveActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kaActive
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

func (c *fakeConn) push(t *testing.T, ev transport.Event) {
	t.Helper()
	select {
	case c.events <- ev:
	case <-time.After(waitFor):
		t.Fatalf("session did not take %s event", ev.Kind)
	}
}

func (c *fakeConn) reply(t *testing.T, text string) {
	t.Helper()
	c.push(t, transport.Event{Kind: transport.EventText, Text: text})
}

func (c *fakeConn) nextSent(t *testing.T) string {
	t.Helper()
	select {
	case s := <-c.sent:
		return s
	case <-time.After(waitFor):
		t.Fatal("no frame sent")
		return ""
	}
}

func (c *fakeConn) assertNothingSent(t *testing.T) {
	t.Helper()
	select {
	case s := <-c.sent:
		t.Fatalf("unexpected frame %q", s)
	case <-time.After(30 * time.Millisecond):
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	urls  []string
	err   error
	block bool

	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, rawURL)
	err, block := d.err, d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("no connection dialed")
		return nil
	}
}

func newTestSession(t *testing.T, d *fakeDialer, mutate func(*Config)) *Session {
	t.Helper()
	cfg := Config{Dialer: d}
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitStatus(t *testing.T, s *Session, kind Kind) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Status().Kind == kind },
		waitFor, 5*time.Millisecond, "status stayed %s, want %s", s.Status().Kind, kind)
}

func seededStore(t *testing.T, c auth.Credentials) *auth.CredentialStore {
	t.Helper()
	store := auth.NewCredentialStore(auth.NewMemoryKV())
	require.NoError(t, store.Save(c))
	return store
}

func tokenCreds() auth.Credentials {
	return auth.Credentials{ServerURL: testURL, AuthID: "pair-1", ReconnectionToken: "T0", ClientID: "C0"}
}

// authenticate drives a fresh id-only session to Authenticated.
func authenticate(t *testing.T, s *Session, d *fakeDialer) *fakeConn {
	t.Helper()
	require.NoError(t, s.ConnectTo(testURL, "pair-1"))
	c := d.nextConn(t)
	assert.Equal(t, "pair-1", c.nextSent(t))
	c.reply(t, `{"status":"AUTH_SUCCESS","reconnection_token":"T1","client_id":"C1"}`)
	waitStatus(t, s, Authenticated)
	return c
}

func TestDisconnect_Idempotent(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.Equal(t, Status{Kind: Disconnected}, s.Status())

	c := authenticate(t, s, d)
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.Equal(t, Status{Kind: Disconnected}, s.Status())
	assert.True(t, c.isClosed())
}

func TestConnect_NoServerURL(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)

	require.NoError(t, s.Connect())
	st := s.Status()
	assert.Equal(t, Failed, st.Kind)
	assert.Equal(t, "no server url", st.Reason)
	assert.Equal(t, apperrors.CodeInvalidConfiguration, st.Code)
	assert.Equal(t, 0, d.dialCount())
}

func TestConnect_InvalidURL(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)

	require.NoError(t, s.ConnectTo("http://example.com", "pair-1"))
	st := s.Status()
	assert.Equal(t, Failed, st.Kind)
	assert.Equal(t, "invalid url", st.Reason)
	assert.Equal(t, 0, d.dialCount())
}

func TestConnect_NoCredentialsClosesWithoutSending(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)

	require.NoError(t, s.ConnectTo(testURL, ""))
	c := d.nextConn(t)
	waitStatus(t, s, Failed)

	assert.Equal(t, "no credentials", s.Status().Reason)
	assert.Equal(t, apperrors.CodeNoCredentials, s.Status().Code)
	assert.True(t, c.isClosed())
	c.assertNothingSent(t)
}

func TestAuthSuccess_PersistsTokenAndSwitchesToTokenAuth(t *testing.T) {
	d := newFakeDialer()
	store := auth.NewCredentialStore(auth.NewMemoryKV())
	s := newTestSession(t, d, func(cfg *Config) { cfg.Credentials = store })

	events, cancel := s.Bus().Channel([]eventbus.EventType{eventbus.EventAuthenticated}, 4)
	defer cancel()

	authenticate(t, s, d)

	select {
	case ev := <-events:
		assert.Equal(t, "C1", ev.String("client_id"))
	case <-time.After(waitFor):
		t.Fatal("no authenticated event")
	}

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, auth.Credentials{ServerURL: testURL, AuthID: "pair-1", ReconnectionToken: "T1", ClientID: "C1"}, loaded)

	frame, err := auth.BuildAuthFrame(loaded)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"T1"}`, frame)

	snap := s.Snapshot()
	assert.True(t, snap.Credentials.HasToken)
	assert.False(t, snap.KeepAlive, "keep-alive only runs in the background")

	// The next connect presents the token.
	require.NoError(t, s.Connect())
	c := d.nextConn(t)
	assert.JSONEq(t, `{"token":"T1"}`, c.nextSent(t))
}

func TestAuthSuccess_AutoListRepos(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, func(cfg *Config) { cfg.AutoListRepos = true })

	require.NoError(t, s.ConnectTo(testURL, "pair-1"))
	c := d.nextConn(t)
	c.nextSent(t)
	c.reply(t, "AUTH_SUCCESS")
	waitStatus(t, s, Authenticated)

	assert.JSONEq(t, `{"type":"list_repos"}`, c.nextSent(t))
	assert.False(t, s.Snapshot().Credentials.HasToken)
}

func TestStart_AutoConnectWithToken(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, func(cfg *Config) {
		cfg.Credentials = seededStore(t, tokenCreds())
		cfg.AutoConnect = true
	})

	require.NoError(t, s.Start())
	c := d.nextConn(t)
	assert.JSONEq(t, `{"token":"T0"}`, c.nextSent(t))
	waitStatus(t, s, Authenticating)
}

func TestStart_NoAutoConnect(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, func(cfg *Config) {
		cfg.Credentials = seededStore(t, tokenCreds())
	})

	require.NoError(t, s.Start())
	assert.Equal(t, Disconnected, s.Status().Kind)
	assert.Equal(t, 0, d.dialCount())
	assert.Equal(t, testURL, s.Snapshot().Credentials.ServerURL)
}

func TestTokenRejected_WipesCredentialsAndSignalsRestart(t *testing.T) {
	for _, reply := range []string{"AUTH_FAILED", `{"status":"AUTH_TIMEOUT"}`} {
		t.Run(reply, func(t *testing.T) {
			d := newFakeDialer()
			store := seededStore(t, tokenCreds())
			s := newTestSession(t, d, func(cfg *Config) {
				cfg.Credentials = store
				cfg.AutoConnect = true
			})
			restarts, cancel := s.Bus().Channel([]eventbus.EventType{eventbus.EventServerRestartDetected}, 4)
			defer cancel()

			require.NoError(t, s.Start())
			c := d.nextConn(t)
			c.nextSent(t)
			c.reply(t, reply)
			waitStatus(t, s, Failed)

			st := s.Status()
			assert.Equal(t, "session expired", st.Reason)
			assert.Equal(t, apperrors.CodeSessionExpired, st.Code)
			assert.True(t, c.isClosed())

			loaded, err := store.Load()
			require.NoError(t, err)
			assert.Equal(t, auth.Credentials{}, loaded)

			select {
			case <-restarts:
			case <-time.After(waitFor):
				t.Fatal("no server restart event")
			}
		})
	}
}

func TestIDRejected_KeepsCredentials(t *testing.T) {
	d := newFakeDialer()
	store := auth.NewCredentialStore(auth.NewMemoryKV())
	s := newTestSession(t, d, func(cfg *Config) { cfg.Credentials = store })
	restarts, cancel := s.Bus().Channel([]eventbus.EventType{eventbus.EventServerRestartDetected}, 4)
	defer cancel()

	require.NoError(t, s.ConnectTo(testURL, "bad-id"))
	c := d.nextConn(t)
	c.nextSent(t)
	c.reply(t, "AUTH_FAILED")
	waitStatus(t, s, Failed)

	assert.Equal(t, "invalid credentials", s.Status().Reason)
	assert.Equal(t, apperrors.CodeAuthRejected, s.Status().Code)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, testURL, loaded.ServerURL)
	assert.Equal(t, "bad-id", loaded.AuthID)

	select {
	case <-restarts:
		t.Fatal("unexpected server restart event")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTransportFailure_WithTokenKeepsCredentials(t *testing.T) {
	d := newFakeDialer()
	d.setErr(errors.New("connection refused"))
	store := seededStore(t, tokenCreds())
	s := newTestSession(t, d, func(cfg *Config) {
		cfg.Credentials = store
		cfg.AutoConnect = true
	})

	require.NoError(t, s.Start())
	waitStatus(t, s, Failed)

	st := s.Status()
	assert.Equal(t, "cannot reach server", st.Reason)
	assert.Equal(t, apperrors.CodeTransportUnreachable, st.Code)
	assert.True(t, apperrors.Retryable(st.Code))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, tokenCreds(), loaded)
}

func TestTransportFailure_IDOnlyUsesErrorText(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)

	require.NoError(t, s.ConnectTo(testURL, "pair-1"))
	c := d.nextConn(t)
	c.nextSent(t)
	c.push(t, transport.Event{Kind: transport.EventFailed, Err: errors.New("socket reset")})
	waitStatus(t, s, Failed)

	st := s.Status()
	assert.Equal(t, "socket reset", st.Reason)
	assert.Equal(t, apperrors.CodeTransportError, st.Code)
	assert.True(t, c.isClosed())
}

func TestAuthSendFailure_WithTokenIsUnreachable(t *testing.T) {
	d := newFakeDialer()
	store := seededStore(t, tokenCreds())
	s := newTestSession(t, d, func(cfg *Config) {
		cfg.Credentials = store
		cfg.AutoConnect = true
	})

	require.NoError(t, s.Start())
	c := d.nextConn(t)
	assert.JSONEq(t, `{"token":"T0"}`, c.nextSent(t))
	c.push(t, transport.Event{Kind: transport.EventSendFailed, Err: errors.New("broken pipe")})
	waitStatus(t, s, Failed)

	st := s.Status()
	assert.Equal(t, "cannot reach server", st.Reason)
	assert.Equal(t, apperrors.CodeTransportUnreachable, st.Code)
	assert.True(t, apperrors.Retryable(st.Code))
	assert.True(t, c.isClosed())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, tokenCreds(), loaded)
}

func TestAuthSendFailure_IDOnly(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)

	require.NoError(t, s.ConnectTo(testURL, "pair-1"))
	c := d.nextConn(t)
	c.nextSent(t)
	c.push(t, transport.Event{Kind: transport.EventSendFailed, Err: errors.New("broken pipe")})
	waitStatus(t, s, Failed)

	st := s.Status()
	assert.Equal(t, "auth error", st.Reason)
	assert.Equal(t, apperrors.CodeTransportError, st.Code)
	assert.False(t, apperrors.Retryable(st.Code))
}

func TestLegacyAuthSuccess_LogsMissingToken(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)

	require.NoError(t, s.ConnectTo(testURL, "pair-1"))
	c := d.nextConn(t)
	c.nextSent(t)
	c.reply(t, "AUTH_SUCCESS")
	waitStatus(t, s, Authenticated)

	require.Eventually(t, func() bool {
		for _, e := range s.DiagnosticLog().Entries() {
			if e.Message == "Server did not issue a reconnection token; the pairing id will be used again" {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)
}

func TestAuthTimeout(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, func(cfg *Config) { cfg.AuthTimeout = 30 * time.Millisecond })

	require.NoError(t, s.ConnectTo(testURL, "pair-1"))
	c := d.nextConn(t)
	c.nextSent(t)
	waitStatus(t, s, Failed)
	assert.Equal(t, apperrors.CodeTransportError, s.Status().Code)
	assert.True(t, c.isClosed())
}

func TestDisconnect_DuringDial(t *testing.T) {
	d := newFakeDialer()
	d.block = true
	s := newTestSession(t, d, nil)

	require.NoError(t, s.ConnectTo(testURL, "pair-1"))
	assert.Equal(t, Connecting, s.Status().Kind)
	require.Eventually(t, func() bool { return d.dialCount() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, s.Disconnect())
	assert.Equal(t, Disconnected, s.Status().Kind)

	// The cancelled dial must not surface as a failure.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, Disconnected, s.Status().Kind)
}

func TestBackgroundForeground_KeepAliveAndSingleProbe(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)
	c := authenticate(t, s, d)

	require.NoError(t, s.EnterBackground())
	assert.True(t, c.KeepAliveActive())
	snap := s.Snapshot()
	assert.True(t, snap.KeepAlive)
	assert.Equal(t, Background, snap.App)
	assert.Equal(t, background.StateGranted, snap.Grant.State)
	assert.Equal(t, Authenticated, snap.Status.Kind)

	require.NoError(t, s.EnterForeground())
	assert.False(t, c.KeepAliveActive())
	assert.False(t, s.Snapshot().KeepAlive)
	assert.Equal(t, background.StateIdle, s.Snapshot().Grant.State)

	require.Eventually(t, func() bool { return c.pingCount() == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, c.pingCount())
	assert.Equal(t, Authenticated, s.Status().Kind)
}

func TestForegroundProbeFailure_ReconnectsWithToken(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)
	c := authenticate(t, s, d)
	c.setPingErr(errors.New("no pong"))

	require.NoError(t, s.EnterBackground())
	require.NoError(t, s.EnterForeground())

	next := d.nextConn(t)
	assert.True(t, c.isClosed())
	assert.JSONEq(t, `{"token":"T1"}`, next.nextSent(t))
	waitStatus(t, s, Authenticating)
	assert.Equal(t, 2, d.dialCount())
}

func TestKeepAliveProbeFailure_DisconnectsUntilForeground(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)
	c := authenticate(t, s, d)

	require.NoError(t, s.EnterBackground())
	c.StopKeepAlive()
	c.push(t, transport.Event{Kind: transport.EventProbeFailed, Err: errors.New("ping timeout")})
	waitStatus(t, s, Disconnected)
	assert.True(t, c.isClosed())
	assert.False(t, s.Snapshot().KeepAlive)
	assert.Equal(t, 1, d.dialCount())

	require.NoError(t, s.EnterForeground())
	next := d.nextConn(t)
	assert.JSONEq(t, `{"token":"T1"}`, next.nextSent(t))
}

func TestForeground_FromFailedWithTokenReconnects(t *testing.T) {
	d := newFakeDialer()
	d.setErr(errors.New("connection refused"))
	s := newTestSession(t, d, func(cfg *Config) {
		cfg.Credentials = seededStore(t, tokenCreds())
		cfg.AutoConnect = true
	})
	require.NoError(t, s.Start())
	waitStatus(t, s, Failed)

	d.setErr(nil)
	require.NoError(t, s.EnterBackground())
	require.NoError(t, s.EnterForeground())
	c := d.nextConn(t)
	assert.JSONEq(t, `{"token":"T0"}`, c.nextSent(t))
}

func TestForeground_WhileInFlightIsNoop(t *testing.T) {
	d := newFakeDialer()
	d.block = true
	s := newTestSession(t, d, func(cfg *Config) {
		cfg.Credentials = seededStore(t, tokenCreds())
		cfg.AutoConnect = true
	})
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return d.dialCount() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, s.EnterBackground())
	require.NoError(t, s.EnterForeground())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, Reconnecting, s.Status().Kind)
}

func TestBackgroundGrantExpiryStopsKeepAlive(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, func(cfg *Config) {
		cfg.Background = background.TimedAdapter{Budget: 30 * time.Millisecond}
	})
	c := authenticate(t, s, d)

	require.NoError(t, s.EnterBackground())
	assert.True(t, c.KeepAliveActive())

	require.Eventually(t, func() bool { return !c.KeepAliveActive() }, waitFor, 5*time.Millisecond)
	assert.Equal(t, Authenticated, s.Status().Kind)
	assert.Equal(t, background.StateExpired, s.Snapshot().Grant.State)
}

func TestRoutingAndCommands(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)

	assert.True(t, apperrors.IsCode(s.ListRepos(), apperrors.CodeSessionNotAuthenticated))

	c := authenticate(t, s, d)

	require.NoError(t, s.ListRepos())
	assert.JSONEq(t, `{"type":"list_repos"}`, c.nextSent(t))

	c.reply(t, `{"type":"repo_list","repositories":[{"name":"app","path":"/src/app"},{"name":"app","path":"/old/app"}]}`)
	c.reply(t, `{"type":"commands_list","predefined_commands":[{"name":"/help","description":"Help"}],"custom_commands":[{"name":"/deploy","description":"Deploy"}]}`)
	require.Eventually(t, func() bool { return len(s.Snapshot().Commands) == 2 }, waitFor, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Repositories, 2)
	assert.Equal(t, "/help", snap.Commands[0].Name)
	assert.Equal(t, "/deploy", snap.Commands[1].Name)
	deploy, ok := s.Command("/deploy")
	require.True(t, ok)
	assert.Equal(t, "Deploy", deploy.Description)
	_, ok = s.Command("/missing")
	assert.False(t, ok)

	require.NoError(t, s.SelectRepo("/old/app"))
	assert.JSONEq(t, `{"type":"select_repo","path":"/old/app"}`, c.nextSent(t))
	require.NotNil(t, s.Snapshot().Selected)
	assert.Equal(t, "/old/app", s.Snapshot().Selected.Path)

	require.NoError(t, s.SendPrompt("/deploy now"))
	assert.JSONEq(t, `{"type":"prompt","text":"/deploy now"}`, c.nextSent(t))
	assert.ErrorIs(t, s.SendPrompt("  "), ErrEmptyPrompt)

	c.reply(t, `{"type":"error","message":"boom"}`)
	c.reply(t, `{"type":"response","text":"done"}`)
	require.Eventually(t, func() bool {
		chat := s.Chat()
		return len(chat) > 0 && chat[len(chat)-1].Text == "done"
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, Authenticated, s.Status().Kind)

	require.NoError(t, s.Disconnect())
	assert.Nil(t, s.Snapshot().Selected)
}

func TestPair(t *testing.T) {
	d := newFakeDialer()
	store := seededStore(t, tokenCreds())
	s := newTestSession(t, d, func(cfg *Config) { cfg.Credentials = store })
	require.NoError(t, s.Start())

	require.NoError(t, s.Pair(`{"uuid":"fresh","url":"wss://host:8443/ws"}`))
	view := s.Snapshot().Credentials
	assert.Equal(t, "fresh", view.AuthID)
	assert.Equal(t, "wss://host:8443/ws", view.ServerURL)
	assert.False(t, view.HasToken)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, auth.Credentials{ServerURL: "wss://host:8443/ws", AuthID: "fresh"}, loaded)

	assert.Error(t, s.Pair("   "))
}

func TestForget(t *testing.T) {
	d := newFakeDialer()
	store := seededStore(t, tokenCreds())
	s := newTestSession(t, d, func(cfg *Config) { cfg.Credentials = store })
	require.NoError(t, s.Start())

	require.NoError(t, s.Forget())
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, auth.Credentials{}, loaded)
	assert.Equal(t, CredentialsView{}, s.Snapshot().Credentials)
}

func TestClose(t *testing.T) {
	d := newFakeDialer()
	s := New(Config{Dialer: d})
	c := authenticate(t, s, d)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, c.isClosed())
	assert.True(t, apperrors.IsCode(s.Connect(), apperrors.CodeSessionClosed))
}

func TestStatusTextAndColor(t *testing.T) {
	tests := []struct {
		st    Status
		text  string
		color string
	}{
		{Status{Kind: Disconnected}, "Disconnected", ColorRed},
		{Status{Kind: Connecting}, "Connecting...", ColorOrange},
		{Status{Kind: Authenticating}, "Authenticating...", ColorOrange},
		{Status{Kind: Reconnecting}, "Reconnecting...", ColorOrange},
		{Status{Kind: Authenticated}, "Connected", ColorGreen},
		{Status{Kind: Failed, Reason: "session expired"}, "Failed: session expired", ColorRed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.text, tt.st.String())
		assert.Equal(t, tt.color, tt.st.Color())
	}
}

func TestStatusEventsPublished(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, nil)
	events, cancel := s.Bus().Channel([]eventbus.EventType{eventbus.EventStatusChanged}, 16)
	defer cancel()

	authenticate(t, s, d)

	var kinds []string
	for len(kinds) < 3 {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.String("kind"))
		case <-time.After(waitFor):
			t.Fatalf("got %v", kinds)
		}
	}
	assert.Equal(t, []string{"connecting", "authenticating", "authenticated"}, kinds)
}
