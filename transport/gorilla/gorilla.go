// Package gorilla implements the transport contract over
// github.com/gorilla/websocket. Same shape as the nhws backend: Dial is
// synchronous validation only, Start runs the tomb-managed event loop
// that establishes the connection and ferries events into the registered
// callbacks.
package gorilla

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"github.com/b0xtch/gloo/transport"
)

// writeWait bounds how long a close control frame may take to go out.
const writeWait = 5 * time.Second

// Options configures a dial. The zero value works.
type Options struct {
	Header http.Header
	Logger *zerolog.Logger // nil disables logging
}

// Dialer adapts Dial to the transport.Dialer interface.
type Dialer struct {
	Options Options
}

var _ transport.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(rawURL string, protocols []string) (transport.Transport, error) {
	return Dial(rawURL, protocols, d.Options)
}

// Transport is a single websocket connection over gorilla. gorilla
// connections are not safe for concurrent writers, so sends and the close
// frame share a write mutex.
type Transport struct {
	url       string
	protocols []string
	opts      Options
	log       zerolog.Logger

	tmb   tomb.Tomb
	state atomic.Int32

	onOpen    func()
	onMessage func(payload any)
	onError   func(err error)
	onClose   func(ev transport.CloseEvent)
	binary    bool
	started   bool

	writeMu sync.Mutex // one writer at a time on the wire

	mu              sync.Mutex
	conn            *gorilla.Conn
	subprotocol     string
	extensions      string
	closeRequested  bool
	requestedCode   uint16
	requestedReason string
}

var _ transport.Transport = (*Transport)(nil)

// Dial validates rawURL and returns a transport in the Connecting state;
// the network is only touched after Start.
func Dial(rawURL string, protocols []string, opts Options) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("gorilla: invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("gorilla: unsupported scheme %q, want ws or wss", u.Scheme)
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	t := &Transport{
		url:       rawURL,
		protocols: protocols,
		opts:      opts,
		log:       log,
	}
	t.state.Store(transport.StateConnecting)
	return t, nil
}

// SetBinaryMode records the materialized-payload requirement.
// ReadMessage always returns whole payloads, so it holds inherently here.
func (t *Transport) SetBinaryMode() { t.binary = true }

func (t *Transport) OnOpen(fn func())                         { t.onOpen = fn }
func (t *Transport) OnMessage(fn func(payload any))           { t.onMessage = fn }
func (t *Transport) OnError(fn func(err error))               { t.onError = fn }
func (t *Transport) OnClose(fn func(ev transport.CloseEvent)) { t.onClose = fn }

// Start launches the event loop. Call exactly once, after registration.
func (t *Transport) Start() {
	t.started = true
	t.tmb.Go(t.run)
}

func (t *Transport) run() error {
	ctx := t.tmb.Context(nil)

	dialer := gorilla.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		Subprotocols:     t.protocols,
	}
	conn, resp, err := dialer.DialContext(ctx, t.url, t.opts.Header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		t.log.Error().Err(err).Str("url", t.url).Msg("websocket dial failed")
		t.state.Store(transport.StateClosed)
		if t.onError != nil {
			t.onError(err)
		}
		if t.onClose != nil {
			t.onClose(transport.CloseEvent{Code: 1006})
		}
		return nil
	}
	defer conn.Close()

	t.mu.Lock()
	t.conn = conn
	t.subprotocol = conn.Subprotocol()
	if resp != nil {
		t.extensions = resp.Header.Get("Sec-WebSocket-Extensions")
	}
	t.mu.Unlock()

	t.state.Store(transport.StateOpen)
	t.log.Info().Str("url", t.url).Str("subprotocol", conn.Subprotocol()).Msg("websocket connected")
	if t.onOpen != nil {
		t.onOpen()
	}

	// A close requested while the dial was in flight lands here once the
	// connection exists; honor it now so the read loop can report it.
	t.mu.Lock()
	requested := t.closeRequested
	code, reason := t.requestedCode, t.requestedReason
	t.mu.Unlock()
	if requested {
		t.state.Store(transport.StateClosing)
		t.writeMu.Lock()
		_ = conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(int(code), reason), time.Now().Add(writeWait))
		t.writeMu.Unlock()
	}

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.finish(err)
			return nil
		}
		switch typ {
		case gorilla.TextMessage:
			if t.onMessage != nil {
				t.onMessage(string(data))
			}
		case gorilla.BinaryMessage:
			if t.onMessage != nil {
				t.onMessage(data)
			}
		}
	}
}

// finish maps the read-loop exit error onto a close event, same rules as
// the nhws backend: peer close frame wins, then a locally requested
// close, then abnormal closure 1006 preceded by an error event.
func (t *Transport) finish(err error) {
	t.mu.Lock()
	requested := t.closeRequested
	code, reason := t.requestedCode, t.requestedReason
	t.mu.Unlock()

	clean := requested
	if !requested {
		code, reason = 1006, ""
	}
	var ce *gorilla.CloseError
	if errors.As(err, &ce) {
		code, reason = uint16(ce.Code), ce.Text
		clean = true
	}

	t.state.Store(transport.StateClosed)
	t.log.Info().Uint16("code", code).Str("reason", reason).Bool("clean", clean).Msg("websocket closed")

	if !clean && t.onError != nil {
		t.onError(err)
	}
	if t.onClose != nil {
		t.onClose(transport.CloseEvent{Code: code, Reason: reason, WasClean: clean})
	}
}

func (t *Transport) SendText(s string) error {
	return t.send(gorilla.TextMessage, []byte(s))
}

func (t *Transport) SendBytes(b []byte) error {
	return t.send(gorilla.BinaryMessage, b)
}

func (t *Transport) send(typ int, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || t.state.Load() != transport.StateOpen {
		return transport.ErrNotOpen
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(typ, data)
}

// Close performs a default graceful close with code 1000 — the wire
// protocol requires a code on an explicit close frame.
func (t *Transport) Close() error {
	return t.close(1000, "")
}

func (t *Transport) CloseWithCode(code uint16) error {
	if err := transport.ValidateClose(code, ""); err != nil {
		return err
	}
	return t.close(code, "")
}

func (t *Transport) CloseWithStatus(code uint16, reason string) error {
	if err := transport.ValidateClose(code, reason); err != nil {
		return err
	}
	return t.close(code, reason)
}

// close sends a close frame and lets the read loop observe the peer's
// echo, which is what drives the close event and final state. A failed
// control write falls back to tearing the connection down hard.
func (t *Transport) close(code uint16, reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.closeRequested = true
	t.requestedCode, t.requestedReason = code, reason
	t.mu.Unlock()

	if conn == nil {
		if !t.started {
			t.state.Store(transport.StateClosed)
			return nil
		}
		// still connecting: abort the dial, the loop reports the close
		t.state.Store(transport.StateClosing)
		t.tmb.Kill(nil)
		return nil
	}

	if t.state.Load() == transport.StateClosed {
		return nil
	}
	t.state.Store(transport.StateClosing)

	t.writeMu.Lock()
	err := conn.WriteControl(gorilla.CloseMessage,
		gorilla.FormatCloseMessage(int(code), reason),
		time.Now().Add(writeWait))
	t.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return err
	}
	return nil
}

func (t *Transport) ReadyState() int {
	return int(t.state.Load())
}

func (t *Transport) Extensions() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.extensions
}

func (t *Transport) Protocol() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subprotocol
}
