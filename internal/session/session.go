// Package session drives the single connection to the companion server.
//
// A Session owns the credentials, the transport connection, and the
// connection status. Every input (public method calls, inbound frames,
// transport failures, timer fires, background grant expiry) is funnelled
// into one goroutine that applies it in order, so state is never mutated
// concurrently. Observers read Snapshot or subscribe to the event bus.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/claudeconnect/client/internal/auth"
	"github.com/claudeconnect/client/internal/background"
	apperrors "github.com/claudeconnect/client/internal/errors"
	"github.com/claudeconnect/client/internal/eventbus"
	"github.com/claudeconnect/client/internal/eventlog"
	"github.com/claudeconnect/client/internal/logger"
	"github.com/claudeconnect/client/internal/protocol"
	"github.com/claudeconnect/client/internal/router"
	"github.com/claudeconnect/client/internal/transport"
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	defaultPingTimeout       = 10 * time.Second
	eventSource              = "session"
)

// ErrEmptyPrompt is returned by SendPrompt for blank text.
var ErrEmptyPrompt = errors.New("empty prompt")

var errAuthTimeout = errors.New("no auth reply from server")

// AppState is the host application's lifecycle state.
type AppState string

const (
	Foreground AppState = "foreground"
	Background AppState = "background"
)

// Config wires a Session to its collaborators.
type Config struct {
	// Credentials persists serverUrl, authId, reconnectionToken, clientId.
	// Nil keeps them in memory.
	Credentials *auth.CredentialStore

	// Dialer opens the transport. Required.
	Dialer transport.Dialer

	// Bus receives domain events. Nil creates a private bus.
	Bus *eventbus.Bus

	// Log is the diagnostic log. Nil creates one that publishes
	// log_appended on Bus.
	Log *eventlog.Log

	// Background grants extra execution time while backgrounded.
	// Nil grants indefinitely.
	Background background.Adapter

	KeepAliveInterval time.Duration
	PingTimeout       time.Duration

	// AuthTimeout fails a handshake that gets no reply. Zero waits forever.
	AuthTimeout time.Duration

	// AutoConnect connects from Start when credentials are stored.
	AutoConnect bool

	// AutoListRepos requests the repository list after authenticating.
	AutoListRepos bool
}

// CredentialsView is the non-secret part of the stored credentials.
type CredentialsView struct {
	ServerURL string
	AuthID    string
	ClientID  string
	HasToken  bool
}

// State is a point-in-time copy of everything a Session publishes.
type State struct {
	Status       Status
	Credentials  CredentialsView
	App          AppState
	KeepAlive    bool
	Grant        background.Status
	Repositories []protocol.Repository
	Selected     *protocol.Repository
	Commands     []protocol.SlashCommand
}

// Session is the connection state machine.
type Session struct {
	cfg    Config
	store  *auth.CredentialStore
	dialer transport.Dialer
	bus    *eventbus.Bus
	diag   *eventlog.Log
	grants *background.Manager
	router *router.Router
	log    zerolog.Logger

	actions   chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	conn       transport.Conn
	usedToken  bool
	attempt    uint64
	cancelDial context.CancelFunc
	authTimer  *time.Timer

	// Written only by the loop goroutine, under mu.
	mu        sync.RWMutex
	status    Status
	creds     auth.Credentials
	app       AppState
	keepAlive bool
}

// New creates a Session in Disconnected and starts its event loop.
// Call Start to load stored credentials.
func New(cfg Config) *Session {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.Credentials == nil {
		cfg.Credentials = auth.NewCredentialStore(nil)
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.NewBus()
	}
	if cfg.Background == nil {
		cfg.Background = background.TimedAdapter{}
	}

	s := &Session{
		cfg:     cfg,
		store:   cfg.Credentials,
		dialer:  cfg.Dialer,
		bus:     cfg.Bus,
		router:  router.New(),
		log:     logger.Component("session"),
		actions: make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		status:  Status{Kind: Disconnected},
		app:     Foreground,
	}

	s.diag = cfg.Log
	if s.diag == nil {
		s.diag = eventlog.New(eventlog.Options{OnAppend: func(e eventlog.Entry) {
			s.bus.Publish(eventbus.NewEvent(eventbus.EventLogAppended).
				WithSource(eventSource).
				WithData("level", string(e.Level)).
				WithData("category", string(e.Category)).
				WithData("message", e.Message))
		}})
	}

	s.grants = background.NewManager(cfg.Background, background.Options{
		OnExpired: func(err error) {
			s.post(func() { s.grantExpired(err) })
		},
	})

	go s.run()
	return s
}

// Bus returns the event bus the session publishes on.
func (s *Session) Bus() *eventbus.Bus { return s.bus }

// DiagnosticLog returns the user-visible log.
func (s *Session) DiagnosticLog() *eventlog.Log { return s.diag }

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Chat returns the conversation so far.
func (s *Session) Chat() []router.ChatMessage { return s.router.Chat() }

// Command looks up a slash command offered for the selected repository.
func (s *Session) Command(name string) (protocol.SlashCommand, bool) {
	return s.router.Command(name)
}

// Snapshot returns the published state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	st := State{
		Status:      s.status,
		Credentials: viewOf(s.creds),
		App:         s.app,
		KeepAlive:   s.keepAlive,
	}
	s.mu.RUnlock()

	st.Grant = s.grants.Snapshot()
	st.Repositories = s.router.Repositories()
	if sel, ok := s.router.Selected(); ok {
		st.Selected = &sel
	}
	st.Commands = s.router.Commands()
	return st
}

func viewOf(c auth.Credentials) CredentialsView {
	return CredentialsView{
		ServerURL: c.ServerURL,
		AuthID:    c.AuthID,
		ClientID:  c.ClientID,
		HasToken:  c.ShouldUseToken(),
	}
}

// Start loads stored credentials and, when AutoConnect is set and enough is
// stored, begins connecting.
func (s *Session) Start() error {
	var err error
	if e := s.do(func() {
		creds, lerr := s.store.Load()
		if lerr != nil {
			err = apperrors.Wrap(apperrors.CodeStorageQueryFailed, "load credentials", lerr)
			return
		}
		s.setCreds(creds)
		if creds.ServerURL != "" {
			s.diag.Info(eventlog.CategoryConnection, "Found stored server URL: %s", creds.ServerURL)
		}
		if creds.ShouldUseToken() {
			s.diag.Info(eventlog.CategoryAuthentication, "Found stored reconnection token")
		}
		if s.cfg.AutoConnect && creds.HasStored() {
			s.connect()
		}
	}); e != nil {
		return e
	}
	return err
}

// Connect opens a connection with the stored credentials, abandoning any
// connection already open or in flight. Failures are reported through the
// status, not the return value.
func (s *Session) Connect() error {
	return s.do(s.connect)
}

// ConnectTo stores serverURL and authID (when non-empty), then connects.
// A different server URL invalidates any stored reconnection token.
func (s *Session) ConnectTo(serverURL, authID string) error {
	var err error
	if e := s.do(func() {
		c := s.creds
		serverURL = strings.TrimSpace(serverURL)
		if serverURL != "" && serverURL != c.ServerURL {
			c.ServerURL = serverURL
			c.ReconnectionToken = ""
			c.ClientID = ""
		}
		if id := strings.TrimSpace(authID); id != "" {
			c.AuthID = id
		}
		err = s.saveCreds(c)
		s.connect()
	}); e != nil {
		return e
	}
	return err
}

// Disconnect closes the connection and returns to Disconnected. It is safe
// in any state and idempotent.
func (s *Session) Disconnect() error {
	return s.do(func() {
		s.teardown()
		s.router.ClearSelection()
		if s.status.Kind != Disconnected {
			s.diag.Info(eventlog.CategoryConnection, "Disconnected")
		}
		s.setStatus(Status{Kind: Disconnected})
	})
}

// Forget disconnects and wipes every stored credential.
func (s *Session) Forget() error {
	var err error
	if e := s.do(func() {
		s.teardown()
		s.router.ClearSelection()
		s.setCreds(auth.Credentials{})
		if cerr := s.store.Clear(); cerr != nil {
			err = apperrors.Wrap(apperrors.CodeStorageSaveFailed, "clear credentials", cerr)
		}
		s.diag.Info(eventlog.CategoryAuthentication, "Stored credentials cleared")
		s.setStatus(Status{Kind: Disconnected})
	}); e != nil {
		return e
	}
	return err
}

// Pair applies a scanned pairing payload: the new pairing id (and server URL
// when present) replaces the stored one and any stale token is dropped.
func (s *Session) Pair(payload string) error {
	p, err := auth.ParsePairingPayload(payload)
	if err != nil {
		return err
	}
	if e := s.do(func() {
		err = s.saveCreds(p.Apply(s.creds))
		if err == nil {
			s.diag.Success(eventlog.CategoryAuthentication, "Paired with server %s", s.creds.ServerURL)
		}
	}); e != nil {
		return e
	}
	return err
}

// EnterBackground records that the host app went to the background. An
// authenticated session starts its keep-alive probe and asks for extra
// execution time.
func (s *Session) EnterBackground() error {
	return s.do(s.enterBackground)
}

// EnterForeground records that the host app is active again. It releases the
// background grant, stops the keep-alive, and then verifies or re-opens the
// connection depending on the status.
func (s *Session) EnterForeground() error {
	return s.do(s.enterForeground)
}

// ListRepos asks the server for its repositories.
func (s *Session) ListRepos() error {
	var err error
	if e := s.do(func() {
		if err = s.requireAuth("list repositories"); err != nil {
			return
		}
		err = s.send(protocol.ListRepos())
	}); e != nil {
		return e
	}
	return err
}

// SelectRepo makes a repository active. key is a path from the current list
// or, failing that, a repository name; an unknown key is sent as a path.
func (s *Session) SelectRepo(key string) error {
	var err error
	if e := s.do(func() {
		if err = s.requireAuth("select a repository"); err != nil {
			return
		}
		path := key
		if repo, ok := s.router.Select(key); ok {
			path = repo.Path
			s.publish(eventbus.NewEvent(eventbus.EventRepositorySelected).
				WithData("name", repo.Name).
				WithData("path", repo.Path))
		}
		err = s.send(protocol.SelectRepo(path))
	}); e != nil {
		return e
	}
	return err
}

// SendPrompt sends free text (including slash commands) to the assistant.
func (s *Session) SendPrompt(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPrompt
	}
	var err error
	if e := s.do(func() {
		if err = s.requireAuth("send a prompt"); err != nil {
			return
		}
		if err = s.send(protocol.Prompt(text)); err != nil {
			return
		}
		m := s.router.AddOutgoing(text)
		s.publish(eventbus.NewEvent(eventbus.EventChatAppended).
			WithData("text", m.Text).
			WithData("from_server", false))
	}); e != nil {
		return e
	}
	return err
}

// Close disconnects, stops the event loop, and releases any background
// grant. Further calls return a session.closed error.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.do(func() {
			s.teardown()
			s.setStatus(Status{Kind: Disconnected})
		})
		close(s.quit)
		<-s.stopped
		err = s.grants.Close(context.Background())
	})
	return err
}

// run is the single consumer of every session input.
func (s *Session) run() {
	defer close(s.stopped)
	for {
		var events <-chan transport.Event
		if s.conn != nil {
			events = s.conn.Events()
		}
		select {
		case fn := <-s.actions:
			fn()
		case ev := <-events:
			s.handleEvent(ev)
		case <-s.quit:
			s.teardown()
			return
		}
	}
}

// post hands fn to the loop. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.actions <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	if !s.post(func() { fn(); close(done) }) {
		return apperrors.SessionClosed()
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return apperrors.SessionClosed()
	}
}

func (s *Session) publish(ev *eventbus.Event) {
	s.bus.Publish(ev.WithSource(eventSource))
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	s.mu.Unlock()
	if prev == st {
		return
	}
	s.log.Info().Str("from", string(prev.Kind)).Str("to", string(st.Kind)).Str("reason", st.Reason).Msg("status changed")
	s.publish(eventbus.NewEvent(eventbus.EventStatusChanged).
		WithData("status", st.String()).
		WithData("kind", string(st.Kind)).
		WithData("reason", st.Reason).
		WithData("code", st.Code).
		WithData("color", st.Color()))
}

func (s *Session) fail(err error) {
	s.setStatus(failedStatus(err))
}

func (s *Session) setCreds(c auth.Credentials) {
	s.mu.Lock()
	s.creds = c.Normalize()
	s.mu.Unlock()
}

func (s *Session) saveCreds(c auth.Credentials) error {
	s.setCreds(c)
	if err := s.store.Save(s.creds); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist credentials")
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "save credentials", err)
	}
	return nil
}

func (s *Session) setApp(a AppState) {
	s.mu.Lock()
	s.app = a
	s.mu.Unlock()
}

func (s *Session) setKeepAlive(on bool) {
	s.mu.Lock()
	s.keepAlive = on
	s.mu.Unlock()
}

func (s *Session) requireAuth(op string) error {
	if s.status.Kind != Authenticated || s.conn == nil {
		return apperrors.NotAuthenticated(op)
	}
	return nil
}

func (s *Session) send(text string) error {
	if s.conn == nil {
		return apperrors.New(apperrors.CodeTransportClosed, "not connected")
	}
	if err := s.conn.Send(text); err != nil {
		s.diag.Error(eventlog.CategoryGeneral, "Failed to send command: %v", err)
		return apperrors.Wrap(apperrors.CodeTransportClosed, "send failed", err)
	}
	return nil
}

// teardown abandons any dial in flight and closes the connection. Results
// from the abandoned attempt are ignored.
func (s *Session) teardown() {
	s.attempt++
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	if s.conn != nil {
		s.conn.StopKeepAlive()
		if err := s.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close connection")
		}
		s.conn = nil
	}
	s.setKeepAlive(false)
}
