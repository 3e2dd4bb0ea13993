// Package devserver is a local stand-in for the companion server. It speaks
// the same protocol a real host does: one client at a time, pairing id or
// reconnection token auth within a short window, repository listing, slash
// command catalogs, and prompt replies.
//
// It backs the end-to-end tests and the `claudeconnect devserver` command.
// Restart simulates a host restart: every issued token becomes invalid and a
// new pairing id is generated.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/claudeconnect/client/internal/auth"
	"github.com/claudeconnect/client/internal/logger"
	"github.com/claudeconnect/client/internal/protocol"
)

const (
	defaultAuthTimeout = 5 * time.Second
	pingInterval       = 30 * time.Second
	readTimeout        = 60 * time.Second
	writeTimeout       = 10 * time.Second
	sendBuffer         = 64
	maxMessageSize     = 512 * 1024
)

// Responder produces the reply text for a prompt. repo is nil when no
// repository is selected.
type Responder func(repo *protocol.Repository, text string) string

// EchoResponder replies with the prompt text.
func EchoResponder(_ *protocol.Repository, text string) string { return text }

// Config configures a Server.
type Config struct {
	// Issuer validates auth frames. Nil creates one with an in-memory token
	// table.
	Issuer *auth.Issuer

	// Roots are scanned for repositories on every list_repos.
	Roots []string

	// AuthTimeout bounds the wait for the first frame. Default 5s.
	AuthTimeout time.Duration

	// Legacy replies with bare AUTH_* literals and issues no tokens.
	Legacy bool

	// Responder defaults to EchoResponder.
	Responder Responder
}

// Server is the emulated companion server.
type Server struct {
	cfg      Config
	issuer   *auth.Issuer
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu     sync.Mutex
	client *client
	http   *http.Server
}

type client struct {
	conn     *websocket.Conn
	send     chan string
	done     chan struct{}
	doneOnce sync.Once
	id       string
	selected *protocol.Repository
}

// closeSend signals the write pump to stop. Safe to call more than once.
func (c *client) closeSend() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *client) queue(text string) {
	select {
	case c.send <- text:
	case <-c.done:
	}
}

// New creates a server. It does not listen until Serve.
func New(cfg Config) *Server {
	if cfg.Issuer == nil {
		cfg.Issuer = auth.NewIssuer(auth.IssuerConfig{})
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.Responder == nil {
		cfg.Responder = EchoResponder
	}
	return &Server{
		cfg:    cfg,
		issuer: cfg.Issuer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.Component("devserver"),
	}
}

// PairingID is the id a new client must present.
func (s *Server) PairingID() string { return s.issuer.PairingID() }

// PairingPayload is the QR payload for a client connecting at serverURL.
func (s *Server) PairingPayload(serverURL string) auth.PairingPayload {
	return auth.PairingPayload{UUID: s.issuer.PairingID(), URL: serverURL}
}

// Handler serves /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// ClientConnected reports whether an authenticated client is attached.
func (s *Server) ClientConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// DropClient closes the current client's socket without a close frame, the
// way a network loss looks to the client.
func (s *Server) DropClient() {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c != nil {
		c.closeSend()
		c.conn.Close()
	}
}

// Restart revokes every token, generates a new pairing id, and drops the
// current client.
func (s *Server) Restart() error {
	if err := s.issuer.Reset(); err != nil {
		return err
	}
	s.DropClient()
	s.log.Info().Msg("restarted")
	return nil
}

// Serve accepts connections on ln until ctx is done. With certFile and
// keyFile set it serves TLS.
func (s *Server) Serve(ctx context.Context, ln net.Listener, certFile, keyFile string) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ServeTLS(ln, certFile, keyFile)
		} else {
			err = srv.Serve(ln)
		}
		errCh <- err
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.DropClient()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ClientConnected() {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rejecting connection: another client is connected")
		http.Error(w, "another client is already connected", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	grant, ok := s.authenticate(conn, r.RemoteAddr)
	if !ok {
		return
	}

	c := &client{
		conn: conn,
		send: make(chan string, sendBuffer),
		done: make(chan struct{}),
		id:   grant.ClientID,
	}

	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rejecting authenticated client: slot taken")
		conn.Close()
		return
	}
	s.client = c
	s.mu.Unlock()

	s.log.Info().Str("client_id", c.id).Bool("resumed", grant.Resumed).Msg("client authenticated")
	go s.writePump(c)
	s.readPump(c)
}

// authenticate waits for the first frame and answers it. On failure the
// socket is closed.
func (s *Server) authenticate(conn *websocket.Conn, remote string) (*auth.Grant, bool) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	msgType, data, err := conn.ReadMessage()

	var status auth.Status
	var grant *auth.Grant
	switch {
	case err != nil:
		var ne net.Error
		if !errors.As(err, &ne) || !ne.Timeout() {
			s.log.Debug().Err(err).Str("remote", remote).Msg("connection closed before auth")
			conn.Close()
			return nil, false
		}
		s.log.Warn().Str("remote", remote).Msg("authentication timeout")
		status = auth.StatusTimeout
	case msgType != websocket.TextMessage:
		s.log.Warn().Str("remote", remote).Msg("invalid authentication message")
		status = auth.StatusFailed
	default:
		grant, err = s.issuer.Authenticate(string(data))
		if err != nil {
			s.log.Warn().Err(err).Str("remote", remote).Msg("authentication failed")
			status = auth.StatusFailed
		} else {
			status = auth.StatusSuccess
		}
	}
	conn.SetReadDeadline(time.Time{})

	reply := s.authReply(status, grant)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		s.log.Warn().Err(err).Msg("failed to send auth reply")
		conn.Close()
		return nil, false
	}
	if status != auth.StatusSuccess {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(status)),
			time.Now().Add(time.Second))
		conn.Close()
		return nil, false
	}
	return grant, true
}

func (s *Server) authReply(status auth.Status, grant *auth.Grant) string {
	if s.cfg.Legacy {
		return string(status)
	}
	reply := struct {
		Status            auth.Status `json:"status"`
		ReconnectionToken string      `json:"reconnection_token,omitempty"`
		ClientID          string      `json:"client_id,omitempty"`
	}{Status: status}
	if grant != nil {
		reply.ReconnectionToken = grant.ReconnectionToken
		reply.ClientID = grant.ClientID
	}
	data, _ := json.Marshal(reply)
	return string(data)
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case text := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				s.log.Warn().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		if s.client == c {
			s.client = nil
		}
		s.mu.Unlock()
		c.closeSend()
		s.log.Info().Str("client_id", c.id).Msg("client disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	// Client keep-alive pings count as activity too.
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.handleMessage(c, string(data))
	}
}

func (s *Server) handleMessage(c *client, text string) {
	msg, err := protocol.DecodeClient(text)
	if err != nil {
		s.log.Debug().Err(err).Msg("bad client message")
		s.reply(c, protocol.ServerError{Message: err.Error()})
		return
	}

	switch msg.Type {
	case protocol.KindListRepos:
		s.reply(c, protocol.RepoList{Repositories: ScanRepositories(s.cfg.Roots)})

	case protocol.KindSelectRepo:
		repo, ok := s.findRepository(msg.Path)
		if !ok {
			s.reply(c, protocol.ServerError{Message: "Repository not found: " + msg.Path})
			return
		}
		c.selected = &repo
		s.reply(c, protocol.RepoSelected{Repository: repo})
		s.reply(c, protocol.CommandsList{
			Predefined: PredefinedCommands(),
			Custom:     ScanCustomCommands(repo.Path),
		})

	case protocol.KindPrompt:
		if strings.TrimSpace(msg.Text) == "" {
			s.reply(c, protocol.ServerError{Message: "empty prompt"})
			return
		}
		s.reply(c, protocol.Response{Text: s.cfg.Responder(c.selected, msg.Text)})
	}
}

func (s *Server) findRepository(path string) (protocol.Repository, bool) {
	for _, r := range ScanRepositories(s.cfg.Roots) {
		if r.Path == path {
			return r, true
		}
	}
	return protocol.Repository{}, false
}

func (s *Server) reply(c *client, m protocol.Message) {
	text, err := protocol.Encode(m)
	if err != nil {
		s.log.Error().Err(err).Msg("encode reply")
		return
	}
	c.queue(text)
}
