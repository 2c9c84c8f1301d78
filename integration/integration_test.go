package integration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	nhooyr "nhooyr.io/websocket"

	"github.com/b0xtch/gloo/transport"
	gorillatransport "github.com/b0xtch/gloo/transport/gorilla"
	"github.com/b0xtch/gloo/transport/nhws"
	"github.com/b0xtch/gloo/websocket"
)

// dialers returns one of each backend, so every scenario runs over both.
func dialers() map[string]transport.Dialer {
	return map[string]transport.Dialer{
		"nhws":    &nhws.Dialer{},
		"gorilla": &gorillatransport.Dialer{},
	}
}

// echoServer echoes messages until the client goes away.
func echoServer(t *testing.T, opts *nhooyr.AcceptOptions) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := nhooyr.Accept(w, r, opts)
		if err != nil {
			return
		}
		ctx := r.Context()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if err := c.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// echoThenCloseServer echoes n messages, then closes 1000 "bye".
func echoThenCloseServer(t *testing.T, n int) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := nhooyr.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for i := 0; i < n; i++ {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if err := c.Write(ctx, typ, data); err != nil {
				return
			}
		}
		c.Close(nhooyr.StatusNormalClosure, "bye")
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func ctx2s(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// The happy path, end to end over real sockets: open, wait for readiness,
// send a and b, receive both echoes in order, observe the remote close
// with its payload, then end of stream.
func TestEchoThenRemoteClose(t *testing.T) {
	for name, d := range dialers() {
		t.Run(name, func(t *testing.T) {
			url := echoThenCloseServer(t, 2)

			conn, err := websocket.Open(d, url)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			w, r := conn.Split()

			if err := w.Ready(ctx2s(t)); err != nil {
				t.Fatalf("Ready failed: %v", err)
			}
			if err := w.Send(websocket.Text("a")); err != nil {
				t.Fatalf("send a failed: %v", err)
			}
			if err := w.Send(websocket.Text("b")); err != nil {
				t.Fatalf("send b failed: %v", err)
			}

			for _, want := range []string{"a", "b"} {
				msg, err := r.Next(ctx2s(t))
				if err != nil {
					t.Fatalf("Next for %q failed: %v", want, err)
				}
				if msg.Type != websocket.MessageText || msg.Text != want {
					t.Fatalf("expected echo %q, got %v %q", want, msg.Type, msg.Text)
				}
			}

			_, err = r.Next(ctx2s(t))
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CloseError before end of stream, got %v", err)
			}
			if ce.Code != 1000 || ce.Reason != "bye" || !ce.WasClean {
				t.Errorf("expected close 1000/bye/clean, got %+v", ce)
			}

			if _, err := r.Next(ctx2s(t)); err != io.EOF {
				t.Fatalf("expected io.EOF after close info, got %v", err)
			}

			w.Release()
			r.Release()
		})
	}
}

func TestBinaryEcho(t *testing.T) {
	for name, d := range dialers() {
		t.Run(name, func(t *testing.T) {
			url := echoServer(t, nil)

			conn, err := websocket.Open(d, url)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer conn.Release()

			if err := conn.Ready(ctx2s(t)); err != nil {
				t.Fatalf("Ready failed: %v", err)
			}
			payload := []byte{0x00, 0x01, 0xfe, 0xff}
			if err := conn.Send(websocket.Bytes(payload)); err != nil {
				t.Fatalf("binary send failed: %v", err)
			}

			msg, err := conn.Next(ctx2s(t))
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if msg.Type != websocket.MessageBinary || len(msg.Data) != len(payload) {
				t.Fatalf("expected %d binary bytes back, got %v", len(payload), msg)
			}
			for i := range payload {
				if msg.Data[i] != payload[i] {
					t.Fatalf("byte %d: expected %x, got %x", i, payload[i], msg.Data[i])
				}
			}
		})
	}
}

func TestInvalidURLFailsSynchronously(t *testing.T) {
	for name, d := range dialers() {
		t.Run(name, func(t *testing.T) {
			_, err := websocket.Open(d, "http://not-a-websocket")
			var de *websocket.DialError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DialError, got %v", err)
			}
		})
	}
}

func TestProtocolNegotiation(t *testing.T) {
	for name, d := range dialers() {
		t.Run(name, func(t *testing.T) {
			url := echoServer(t, &nhooyr.AcceptOptions{Subprotocols: []string{"chat"}})

			conn, err := websocket.OpenWithProtocols(d, url, []string{"chat", "superchat"})
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer conn.Release()

			if err := conn.Ready(ctx2s(t)); err != nil {
				t.Fatalf("Ready failed: %v", err)
			}
			if conn.Protocol() != "chat" {
				t.Errorf("expected negotiated protocol chat, got %q", conn.Protocol())
			}
			if conn.State() != websocket.StateOpen {
				t.Errorf("expected Open, got %v", conn.State())
			}
		})
	}
}

func TestExplicitCloseWithStatus(t *testing.T) {
	for name, d := range dialers() {
		t.Run(name, func(t *testing.T) {
			url := echoServer(t, nil)

			conn, err := websocket.Open(d, url)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}

			if err := conn.Ready(ctx2s(t)); err != nil {
				t.Fatalf("Ready failed: %v", err)
			}
			if err := conn.CloseWithStatus(4000, "done here"); err != nil {
				t.Fatalf("CloseWithStatus failed: %v", err)
			}

			// drain to the terminal marker; the close event must precede it
			sawClose := false
			for {
				_, err := conn.Next(ctx2s(t))
				if err == io.EOF {
					break
				}
				if err == nil {
					continue
				}
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					sawClose = true
					if ce.Code != 4000 {
						t.Errorf("expected close code 4000, got %d", ce.Code)
					}
				}
			}
			if !sawClose {
				t.Error("stream ended without reporting the close payload")
			}
			conn.Release()
		})
	}
}
