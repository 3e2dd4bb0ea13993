package session

import (
	"context"
	"time"

	"github.com/claudeconnect/client/internal/auth"
	apperrors "github.com/claudeconnect/client/internal/errors"
	"github.com/claudeconnect/client/internal/eventbus"
	"github.com/claudeconnect/client/internal/eventlog"
	"github.com/claudeconnect/client/internal/protocol"
	"github.com/claudeconnect/client/internal/router"
	"github.com/claudeconnect/client/internal/transport"
)

// Everything in this file runs on the loop goroutine.

func (s *Session) connect() {
	s.diag.Info(eventlog.CategoryConnection, "Connect requested")
	if s.conn != nil || s.cancelDial != nil {
		s.diag.Info(eventlog.CategoryConnection, "Cancelling existing connection")
	}
	s.teardown()

	creds := s.creds
	if _, err := transport.ValidateURL(creds.ServerURL); err != nil {
		s.diag.Error(eventlog.CategoryConnection, "Connection failed: %s", apperrors.GetMessage(err))
		s.fail(err)
		return
	}

	s.usedToken = creds.ShouldUseToken()
	if s.usedToken {
		s.diag.Info(eventlog.CategoryConnection, "Reconnecting with token for client: %s", creds.ClientID)
		s.setStatus(Status{Kind: Reconnecting})
	} else {
		s.diag.Info(eventlog.CategoryConnection, "Connecting with initial authentication")
		s.setStatus(Status{Kind: Connecting})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel
	attempt := s.attempt
	url := creds.ServerURL
	go func() {
		conn, err := s.dialer.Dial(ctx, url)
		if !s.post(func() { s.dialed(attempt, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (s *Session) dialed(attempt uint64, conn transport.Conn, err error) {
	if attempt != s.attempt {
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.cancelDial = nil
	if err != nil {
		s.transportFailed(err)
		return
	}
	s.conn = conn

	frame, err := auth.BuildAuthFrame(s.creds)
	if err != nil {
		s.teardown()
		s.diag.Error(eventlog.CategoryAuthentication, "Connection failed: %s", apperrors.GetMessage(err))
		s.fail(err)
		return
	}
	s.usedToken = s.creds.ShouldUseToken()

	s.setStatus(Status{Kind: Authenticating})
	if err := conn.Send(frame); err != nil {
		s.authSendFailed(err)
		return
	}

	if s.cfg.AuthTimeout > 0 {
		s.authTimer = time.AfterFunc(s.cfg.AuthTimeout, func() {
			s.post(func() {
				if attempt == s.attempt && s.status.Kind == Authenticating {
					s.transportFailed(errAuthTimeout)
				}
			})
		})
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventText:
		s.handleText(ev.Text)
	case transport.EventBinary:
		s.log.Debug().Int("bytes", len(ev.Data)).Msg("ignoring binary frame")
	case transport.EventFailed:
		s.transportFailed(ev.Err)
	case transport.EventSendFailed:
		if s.status.Kind == Authenticating {
			s.authSendFailed(ev.Err)
			return
		}
		s.diag.Error(eventlog.CategoryGeneral, "Failed to send command: %v", ev.Err)
	case transport.EventProbeFailed:
		s.setKeepAlive(false)
		if s.status.Kind == Authenticated {
			s.connectionLost(ev.Err)
		}
	}
}

func (s *Session) handleText(text string) {
	if reply, ok := auth.ClassifyInbound(text); ok {
		if s.status.Kind != Authenticating {
			s.log.Debug().Str("status", string(reply.Status)).Msg("ignoring auth reply outside handshake")
			return
		}
		s.handleAuthReply(reply)
		return
	}
	s.applyOutcome(s.router.Route(protocol.Decode(text)))
}

func (s *Session) handleAuthReply(reply auth.Reply) {
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}

	if !reply.Rejected() {
		refreshed := s.creds.WithToken(reply.ReconnectionToken, reply.ClientID)
		if refreshed != s.creds {
			if err := s.saveCreds(refreshed); err != nil {
				s.diag.Warning(eventlog.CategoryAuthentication, "Could not store reconnection token: %v", err)
			}
		}
		s.setStatus(Status{Kind: Authenticated})
		s.diag.Success(eventlog.CategoryAuthentication, "Authentication successful")
		if reply.Legacy {
			s.diag.Info(eventlog.CategoryAuthentication, "Server did not issue a reconnection token; the pairing id will be used again")
		}
		s.publish(eventbus.NewEvent(eventbus.EventAuthenticated).
			WithData("client_id", s.creds.ClientID).
			WithData("resumed", s.usedToken))

		if s.app == Background {
			s.startKeepAlive()
		}
		if s.cfg.AutoListRepos {
			s.send(protocol.ListRepos())
		}
		return
	}

	s.teardown()
	if s.usedToken {
		// A refused token means the server lost its session table.
		s.setCreds(auth.Credentials{})
		if err := s.store.Clear(); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear credentials")
		}
		s.router.ClearSelection()
		s.diag.Warning(eventlog.CategoryConnection, "Server was restarted. Please scan the QR code again.")
		s.fail(apperrors.SessionExpired())
		s.publish(eventbus.NewEvent(eventbus.EventServerRestartDetected).
			WithData("status", string(reply.Status)))
		return
	}
	s.diag.Error(eventlog.CategoryAuthentication, "Authentication failed: %s", reply.Status)
	s.fail(apperrors.AuthRejected())
}

// authSendFailed handles a credentials frame that never left. With a token
// in play it is a reachability failure like any other.
func (s *Session) authSendFailed(err error) {
	if s.usedToken {
		s.diag.Error(eventlog.CategoryAuthentication, "Token auth error: %v", err)
		s.transportFailed(err)
		return
	}
	s.teardown()
	s.diag.Error(eventlog.CategoryAuthentication, "Auth error: %v", err)
	s.fail(apperrors.Wrap(apperrors.CodeTransportError, "auth error", err))
}

// transportFailed handles a dial error, a dropped socket, or a handshake
// that never got a reply. A failure with a token in play keeps the
// credentials so the next foreground transition can retry.
func (s *Session) transportFailed(err error) {
	s.teardown()
	if apperrors.IsCode(err, apperrors.CodeInvalidConfiguration) {
		s.diag.Error(eventlog.CategoryConnection, "Connection failed: %s", apperrors.GetMessage(err))
		s.fail(err)
		return
	}
	if s.usedToken {
		s.log.Warn().Err(err).Msg("server unreachable")
		s.diag.Warning(eventlog.CategoryConnection, "Unable to reconnect. Server may be offline. Will retry when server is available.")
		s.fail(apperrors.TransportUnreachable(err))
		return
	}
	s.log.Warn().Err(err).Msg("connection failed")
	s.diag.Error(eventlog.CategoryConnection, "Connection failed: %v", err)
	s.fail(apperrors.TransportError(err))
}

// connectionLost moves an authenticated session to Disconnected after a
// failed liveness probe. Reconnecting is left to the caller.
func (s *Session) connectionLost(err error) {
	s.teardown()
	s.log.Warn().Err(err).Msg("liveness probe failed")
	s.diag.Warning(eventlog.CategoryConnection, "Connection lost: %v", err)
	s.setStatus(Status{Kind: Disconnected})
}

func (s *Session) startKeepAlive() {
	if s.conn == nil {
		return
	}
	s.conn.StartKeepAlive(s.cfg.KeepAliveInterval, s.cfg.PingTimeout)
	s.setKeepAlive(s.conn.KeepAliveActive())
}

func (s *Session) stopKeepAlive() {
	if s.conn != nil {
		s.conn.StopKeepAlive()
	}
	s.setKeepAlive(false)
}

func (s *Session) enterBackground() {
	if s.app == Background {
		return
	}
	s.setApp(Background)
	s.diag.Info(eventlog.CategoryGeneral, "App entered background")

	if st := s.grants.Begin(context.Background()); st.LastError != "" {
		s.diag.Warning(eventlog.CategoryGeneral, "Background execution not granted: %s", st.LastError)
	}
	if s.status.Kind == Authenticated {
		s.startKeepAlive()
	}
}

func (s *Session) enterForeground() {
	if s.app == Foreground {
		return
	}
	s.setApp(Foreground)
	s.grants.End(context.Background())
	s.stopKeepAlive()

	c := s.creds
	switch {
	case s.status.Kind == Authenticated:
		s.diag.Info(eventlog.CategoryConnection, "App returning to foreground - verifying connection")
		s.probe()
	case s.status.InFlight():
		s.diag.Info(eventlog.CategoryConnection, "App returning to foreground - connection already in progress")
	case c.ServerURL != "" && c.ShouldUseToken():
		s.diag.Info(eventlog.CategoryConnection, "App returning to foreground - attempting reconnection")
		s.connect()
	case c.ServerURL != "" && c.AuthID != "" && s.status.Kind == Disconnected:
		s.diag.Info(eventlog.CategoryConnection, "App returning to foreground - attempting initial connection")
		s.connect()
	}
}

// probe issues one liveness check off the loop and reports back.
func (s *Session) probe() {
	conn := s.conn
	attempt := s.attempt
	timeout := s.cfg.PingTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := conn.Ping(ctx)
		cancel()
		s.post(func() { s.probed(attempt, err) })
	}()
}

func (s *Session) probed(attempt uint64, err error) {
	if attempt != s.attempt || s.status.Kind != Authenticated {
		return
	}
	if err == nil {
		s.log.Debug().Msg("connection verified")
		return
	}
	s.connectionLost(err)
	if s.creds.ShouldUseToken() {
		s.connect()
	}
}

func (s *Session) grantExpired(err error) {
	if s.app != Background {
		return
	}
	s.diag.Warning(eventlog.CategoryGeneral, "Background time expired: %v", err)
	s.stopKeepAlive()
}

func (s *Session) applyOutcome(out router.Outcome) {
	for _, l := range out.Logs {
		s.diag.Add(l.Level, l.Category, "%s", l.Message)
	}
	for _, t := range out.Events {
		ev := eventbus.NewEvent(t)
		switch t {
		case eventbus.EventRepositoryListUpdated:
			ev.WithData("count", len(s.router.Repositories()))
		case eventbus.EventRepositorySelected:
			if sel, ok := s.router.Selected(); ok {
				ev.WithData("name", sel.Name).WithData("path", sel.Path)
			}
		case eventbus.EventCommandsUpdated:
			ev.WithData("count", len(s.router.Commands()))
		case eventbus.EventChatAppended:
			if out.Chat != nil {
				ev.WithData("text", out.Chat.Text).WithData("from_server", out.Chat.FromServer)
			}
		case eventbus.EventServerError:
			ev.WithData("message", out.ServerError)
		}
		s.publish(ev)
	}
}
