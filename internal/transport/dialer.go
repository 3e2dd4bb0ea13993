// Package transport owns the single WebSocket connection to the companion
// server. It delivers inbound frames, send failures, and keep-alive failures
// as one ordered event stream and never reconnects on its own.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "github.com/claudeconnect/client/internal/errors"
	"github.com/claudeconnect/client/internal/logger"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendBuffer       = 64
	maxMessageSize          = 4 << 20
)

// Options configures dialing and the resulting connection.
type Options struct {
	// HandshakeTimeout bounds one opening handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// ConnectivityWait keeps retrying DNS and route failures this long.
	// Zero means a single attempt.
	ConnectivityWait time.Duration

	// TLSConfig is used for wss:// URLs. Nil uses system roots.
	TLSConfig *tls.Config

	// SendBuffer is the outbound queue length.
	SendBuffer int

	// NetDialContext replaces the TCP dial. Nil uses net.Dialer.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Dialer opens connections. Tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// ValidateURL checks that raw is a ws:// or wss:// URL with a host.
// Errors carry the config.invalid code.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperrors.NoServerURL()
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.InvalidURL(raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, apperrors.InvalidURL(raw, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, apperrors.InvalidURL(raw, errors.New("missing host"))
	}
	return u, nil
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	opts Options
	log  zerolog.Logger
}

// NewDialer applies defaults to opts.
func NewDialer(opts Options) *WSDialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &WSDialer{opts: opts, log: logger.Component("transport")}
}

// Dial validates rawURL, then opens the socket. Transient network failures
// are retried with exponential backoff until ConnectivityWait elapses.
func (d *WSDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.opts.HandshakeTimeout,
		TLSClientConfig:  d.opts.TLSConfig,
		NetDialContext:   d.opts.NetDialContext,
	}

	var ws *websocket.Conn
	attempt := 0
	op := func() error {
		attempt++
		c, resp, err := dialer.DialContext(ctx, u.String(), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			ws = c
			return nil
		}
		if ctx.Err() != nil || !Transient(err) {
			return backoff.Permanent(err)
		}
		d.log.Debug().Err(err).Int("attempt", attempt).Msg("waiting for connectivity")
		return err
	}

	if d.opts.ConnectivityWait <= 0 {
		err = op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = 2 * time.Second
		b.MaxElapsedTime = d.opts.ConnectivityWait
		err = backoff.Retry(op, backoff.WithContext(b, ctx))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	d.log.Info().Str("url", u.Redacted()).Int("attempts", attempt).Msg("connected")
	return newConn(ws, d.opts, d.log), nil
}

// Transient reports whether err looks like a connectivity hiccup (DNS
// resolution, no route) rather than a server that answered and refused.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout || dnsErr.IsNotFound
	}
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETDOWN) {
		return true
	}
	return false
}
