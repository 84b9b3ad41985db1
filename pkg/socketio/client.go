package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPath           = "/socket.io/"
	defaultConnectTimeout = 10 * time.Second
	writeTimeout          = 5 * time.Second
)

// Disconnect reasons, named as the reference Socket.IO client names them.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

var ErrConnectRefused = errors.New("socket.io: connect refused")

// DisconnectError is returned by ReadEvent once the session is over.
type DisconnectError struct {
	Reason string
	Err    error
}

func (e *DisconnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("disconnected (%s): %v", e.Reason, e.Err)
	}
	return "disconnected (" + e.Reason + ")"
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

// Reason extracts the disconnect reason from a ReadEvent error.
func Reason(err error) string {
	var de *DisconnectError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ReasonTransportError
}

type Options struct {
	URL            string
	Path           string
	Namespace      string
	ConnectTimeout time.Duration
	Header         http.Header
}

// Conn is one Socket.IO session over the websocket transport. ReadEvent must
// be called from a single goroutine; Emit and Close are safe to call from any.
type Conn struct {
	ws        *websocket.Conn
	namespace string
	sid       string

	pingInterval time.Duration
	pingTimeout  time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.Namespace == "" {
		opts.Namespace = "/"
	}

	endpoint, err := endpointURL(opts.URL, opts.Path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.ConnectTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, _, err := dialer.DialContext(ctx, endpoint, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	// The handshake reads block on the socket, so cancellation closes it.
	stop := context.AfterFunc(ctx, func() { ws.Close() })

	c := &Conn{ws: ws, namespace: opts.Namespace}
	deadline, _ := ctx.Deadline()
	err = c.handshake(deadline)
	if !stop() {
		return nil, fmt.Errorf("socket.io handshake aborted: %w", ctx.Err())
	}
	if err != nil {
		ws.Close()
		return nil, err
	}
	return c, nil
}

func endpointURL(raw, path string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid socket url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
	}
	if path == "" {
		path = defaultPath
	}
	u.Path = path

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Conn) handshake(deadline time.Time) error {
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}

	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read open packet: %w", err)
	}
	if len(msg) == 0 || msg[0] != eioOpen {
		return fmt.Errorf("expected open packet, got %q", truncate(msg))
	}
	var open openPayload
	if err := json.Unmarshal(msg[1:], &open); err != nil {
		return fmt.Errorf("failed to decode open packet: %w", err)
	}
	c.sid = open.SID
	c.pingInterval = time.Duration(open.PingInterval) * time.Millisecond
	c.pingTimeout = time.Duration(open.PingTimeout) * time.Millisecond

	if err := c.write(encodePacket(packet{Type: sioConnect, Namespace: c.namespace})); err != nil {
		return fmt.Errorf("failed to send connect packet: %w", err)
	}

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read connect ack: %w", err)
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case eioPing:
			if err := c.write(append([]byte{eioPong}, msg[1:]...)); err != nil {
				return err
			}
			continue
		case eioMessage:
		default:
			continue
		}

		p, err := decodePacket(msg[1:])
		if err != nil || p.Namespace != c.namespace {
			continue
		}
		switch p.Type {
		case sioConnect:
			return c.ws.SetReadDeadline(time.Time{})
		case sioConnectError:
			var ce connectErrorPayload
			if err := json.Unmarshal(p.Data, &ce); err != nil || ce.Message == "" {
				ce.Message = strings.Trim(string(p.Data), `"`)
			}
			return fmt.Errorf("%w: %s", ErrConnectRefused, ce.Message)
		}
	}
}

func (c *Conn) SID() string {
	return c.sid
}

// ReadEvent blocks until the next EVENT packet for our namespace. Heartbeats
// are answered internally. Any returned error is a *DisconnectError and ends
// the session.
func (c *Conn) ReadEvent() (Event, error) {
	for {
		if c.pingInterval > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.pingInterval + c.pingTimeout))
		}
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			return Event{}, classify(err)
		}
		if mt != websocket.TextMessage || len(msg) == 0 {
			continue
		}

		switch msg[0] {
		case eioPing:
			if err := c.write(append([]byte{eioPong}, msg[1:]...)); err != nil {
				return Event{}, classify(err)
			}
		case eioClose:
			return Event{}, &DisconnectError{Reason: ReasonTransportClose}
		case eioMessage:
			p, err := decodePacket(msg[1:])
			if err != nil || p.Namespace != c.namespace {
				continue
			}
			switch p.Type {
			case sioEvent:
				ev, err := decodeEvent(p.Data)
				if err != nil {
					continue
				}
				return ev, nil
			case sioDisconnect:
				return Event{}, &DisconnectError{Reason: ReasonServerDisconnect}
			}
		}
	}
}

func (c *Conn) Emit(event string, args ...interface{}) error {
	b, err := encodeEvent(c.namespace, event, args...)
	if err != nil {
		return err
	}
	return c.write(b)
}

// Close sends a namespace disconnect and tears the websocket down.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.write(encodePacket(packet{Type: sioDisconnect, Namespace: c.namespace}))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &DisconnectError{Reason: ReasonPingTimeout, Err: err}
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return &DisconnectError{Reason: ReasonTransportClose, Err: err}
	}
	if errors.Is(err, net.ErrClosed) {
		return &DisconnectError{Reason: ReasonClientDisconnect, Err: err}
	}
	return &DisconnectError{Reason: ReasonTransportError, Err: err}
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
