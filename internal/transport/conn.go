package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Send and Ping after Close.
var ErrClosed = errors.New("connection closed")

// ErrSendQueueFull is returned when the outbound queue is saturated.
var ErrSendQueueFull = errors.New("send queue full")

// EventKind tags an Event.
type EventKind int

const (
	// EventText is an inbound text frame.
	EventText EventKind = iota
	// EventBinary is an inbound binary frame.
	EventBinary
	// EventFailed is terminal: the socket is gone.
	EventFailed
	// EventSendFailed reports a queued frame that could not be written.
	EventSendFailed
	// EventProbeFailed reports a keep-alive probe without a pong.
	EventProbeFailed
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventBinary:
		return "binary"
	case EventFailed:
		return "failed"
	case EventSendFailed:
		return "send_failed"
	case EventProbeFailed:
		return "probe_failed"
	default:
		return "unknown"
	}
}

// Event is one item of a connection's ordered event stream.
type Event struct {
	Kind EventKind
	Text string
	Data []byte
	Err  error
}

// Conn is one live WebSocket connection.
type Conn interface {
	// Events delivers frames and failures in arrival order. No events are
	// delivered after Close.
	Events() <-chan Event

	// Send queues one text frame. Write failures arrive later as
	// EventSendFailed.
	Send(text string) error

	// Ping sends a ping control frame and waits for the pong.
	Ping(ctx context.Context) error

	// StartKeepAlive probes every interval until stopped; a probe that gets
	// no pong within timeout emits EventProbeFailed and stops the timer.
	StartKeepAlive(interval, timeout time.Duration)
	StopKeepAlive()
	KeepAliveActive() bool

	// Close sends a going-away close frame and releases the socket.
	// Safe to call more than once.
	Close() error
}

type wsConn struct {
	ws     *websocket.Conn
	opts   Options
	log    zerolog.Logger
	events chan Event
	send   chan string
	pongs  chan struct{}
	closed chan struct{}

	closeOnce sync.Once
	pingMu    sync.Mutex

	kaMu   sync.Mutex
	kaStop chan struct{}
}

func newConn(ws *websocket.Conn, opts Options, log zerolog.Logger) *wsConn {
	c := &wsConn{
		ws:     ws,
		opts:   opts,
		log:    log,
		events: make(chan Event),
		send:   make(chan string, opts.SendBuffer),
		pongs:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		select {
		case c.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	go c.readPump()
	go c.writePump()
	return c
}

func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// emit blocks until the owner takes ev or the connection is closed.
func (c *wsConn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *wsConn) Send(text string) error {
	if c.isClosed() {
		return ErrClosed
	}
	select {
	case c.send <- text:
		return nil
	case <-c.closed:
		return ErrClosed
	default:
		return ErrSendQueueFull
	}
}

// readPump re-enters ReadMessage after every delivered frame until the
// socket fails or Close is called.
func (c *wsConn) readPump() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read failed")
			} else {
				c.log.Debug().Err(err).Msg("connection ended")
			}
			c.emit(Event{Kind: EventFailed, Err: err})
			return
		}
		switch msgType {
		case websocket.TextMessage:
			c.emit(Event{Kind: EventText, Text: string(data)})
		case websocket.BinaryMessage:
			c.emit(Event{Kind: EventBinary, Data: data})
		}
	}
}

func (c *wsConn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case text := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				if c.isClosed() {
					return
				}
				c.log.Warn().Err(err).Msg("write failed")
				c.emit(Event{Kind: EventSendFailed, Text: text, Err: err})
			}
		}
	}
}

func (c *wsConn) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.pingMu.Lock()
	defer c.pingMu.Unlock()

	// Drop a stale pong from an earlier probe.
	select {
	case <-c.pongs:
	default:
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
		return err
	}

	select {
	case <-c.pongs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

func (c *wsConn) StartKeepAlive(interval, timeout time.Duration) {
	c.kaMu.Lock()
	defer c.kaMu.Unlock()
	if c.kaStop != nil || c.isClosed() || interval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.kaStop = stop
	go c.keepAlive(stop, interval, timeout)
}

func (c *wsConn) keepAlive(stop chan struct{}, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := c.Ping(ctx)
			cancel()
			if err == nil {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			c.kaMu.Lock()
			if c.kaStop == stop {
				c.kaStop = nil
			}
			c.kaMu.Unlock()
			c.emit(Event{Kind: EventProbeFailed, Err: err})
			return
		}
	}
}

func (c *wsConn) StopKeepAlive() {
	c.kaMu.Lock()
	defer c.kaMu.Unlock()
	if c.kaStop != nil {
		close(c.kaStop)
		c.kaStop = nil
	}
}

func (c *wsConn) KeepAliveActive() bool {
	c.kaMu.Lock()
	defer c.kaMu.Unlock()
	return c.kaStop != nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.StopKeepAlive()
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
		c.log.Debug().Msg("connection closed")
	})
	return err
}
