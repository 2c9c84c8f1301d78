package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/b0xtch/gloo/transport"
)

func TestStreamYieldsInEventOrder(t *testing.T) {
	m := NewMockTransport()
	conn := New(m)
	m.FireOpen()

	m.FireMessage("first")
	m.FireMessage([]byte{0x01, 0x02})
	m.FireError(nil)
	m.FireMessage("second")

	ctx := context.Background()

	msg, err := conn.Next(ctx)
	if err != nil {
		t.Fatalf("Next 1 failed: %v", err)
	}
	if msg.Type != MessageText || msg.Text != "first" {
		t.Errorf("expected text 'first', got %v %q", msg.Type, msg.Text)
	}

	msg, err = conn.Next(ctx)
	if err != nil {
		t.Fatalf("Next 2 failed: %v", err)
	}
	if msg.Type != MessageBinary || len(msg.Data) != 2 || msg.Data[0] != 0x01 {
		t.Errorf("expected binary [1 2], got %v %v", msg.Type, msg.Data)
	}

	_, err = conn.Next(ctx)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}

	msg, err = conn.Next(ctx)
	if err != nil {
		t.Fatalf("Next 4 failed: %v", err)
	}
	if msg.Text != "second" {
		t.Errorf("expected 'second' after the error event, got %q", msg.Text)
	}
}

func TestErrorEventDoesNotTerminateStream(t *testing.T) {
	m := NewMockTransport()
	conn := New(m)
	m.FireOpen()

	cause := errors.New("tls handshake hiccup")
	m.FireError(cause)
	m.FireMessage("still alive")

	_, err := conn.Next(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	// the transport's cause rides along in the wrapped message
	if err.Error() == ErrConnection.Error() {
		t.Errorf("expected the cause to be carried, got bare %q", err)
	}

	msg, err := conn.Next(context.Background())
	if err != nil || msg.Text != "still alive" {
		t.Errorf("stream should continue after an error event, got %v %v", msg, err)
	}
}

func TestCloseInfoAlwaysPrecedesEOF(t *testing.T) {
	m := NewMockTransport()
	conn := New(m)
	m.FireOpen()

	m.FireMessage("last words")
	m.FireClose(transport.CloseEvent{Code: 1000, Reason: "bye", WasClean: true})

	ctx := context.Background()

	msg, err := conn.Next(ctx)
	if err != nil || msg.Text != "last words" {
		t.Fatalf("expected queued message before close, got %v %v", msg, err)
	}

	_, err = conn.Next(ctx)
	var ce *CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CloseError before end of stream, got %v", err)
	}
	if ce.Code != 1000 || ce.Reason != "bye" || !ce.WasClean {
		t.Errorf("expected close 1000/bye/clean, got %+v", ce)
	}

	_, err = conn.Next(ctx)
	if err != io.EOF {
		t.Fatalf("expected io.EOF after close info, got %v", err)
	}

	// terminal is sticky
	_, err = conn.Next(ctx)
	if err != io.EOF {
		t.Fatalf("expected io.EOF to repeat, got %v", err)
	}
}

func TestNextBlocksUntilEvent(t *testing.T) {
	m := NewMockTransport()
	conn := New(m)
	m.FireOpen()

	got := make(chan Message, 1)
	go func() {
		msg, err := conn.Next(context.Background())
		if err != nil {
			t.Errorf("Next failed: %v", err)
			return
		}
		got <- msg
	}()

	// give the consumer a moment to block
	time.Sleep(20 * time.Millisecond)
	m.FireMessage("wakes the consumer")

	select {
	case msg := <-got:
		if msg.Text != "wakes the consumer" {
			t.Errorf("unexpected message %q", msg.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Next to wake")
	}
}

func TestNextContextCancelIsNotTerminal(t *testing.T) {
	m := NewMockTransport()
	conn := New(m)
	m.FireOpen()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := conn.Next(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for canceled Next")
	}

	// the stream is still usable afterwards
	m.FireMessage("after cancel")
	msg, err := conn.Next(context.Background())
	if err != nil || msg.Text != "after cancel" {
		t.Errorf("expected stream to survive a canceled poll, got %v %v", msg, err)
	}
}

func TestNextAfterReleaseReturnsEOF(t *testing.T) {
	m := NewMockTransport()
	conn := New(m)
	m.FireOpen()

	w, r := conn.Split()
	w.Release()
	r.Release()

	_, err := r.Next(context.Background())
	if err != io.EOF {
		t.Fatalf("expected io.EOF after release, got %v", err)
	}
}

// The full happy-path scenario: send a and b, receive their echoes in
// order, then the remote closes 1000 "bye" — the stream reports the close
// info and only then ends.
func TestEchoThenRemoteCloseScenario(t *testing.T) {
	m := NewMockTransport()
	conn := New(m)
	w, r := conn.Split()

	ready := make(chan error, 1)
	go func() {
		ready <- w.Ready(context.Background())
	}()
	m.FireOpen()

	select {
	case err := <-ready:
		if err != nil {
			t.Fatalf("Ready failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readiness")
	}

	if err := w.Send(Text("a")); err != nil {
		t.Fatalf("send a failed: %v", err)
	}
	if err := w.Send(Text("b")); err != nil {
		t.Fatalf("send b failed: %v", err)
	}
	if len(m.SentText) != 2 || m.SentText[0] != "a" || m.SentText[1] != "b" {
		t.Fatalf("expected sends [a b], got %v", m.SentText)
	}

	// the remote echoes both, then closes
	m.FireMessage("a")
	m.FireMessage("b")
	m.FireClose(transport.CloseEvent{Code: 1000, Reason: "bye", WasClean: true})

	ctx := context.Background()
	for _, want := range []string{"a", "b"} {
		msg, err := r.Next(ctx)
		if err != nil || msg.Text != want {
			t.Fatalf("expected echo %q, got %v %v", want, msg, err)
		}
	}

	_, err := r.Next(ctx)
	var ce *CloseError
	if !errors.As(err, &ce) || ce.Code != 1000 || ce.Reason != "bye" || !ce.WasClean {
		t.Fatalf("expected CloseError 1000/bye/clean, got %v", err)
	}
	if _, err := r.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	w.Release()
	r.Release()
	if m.CloseCalls != 0 {
		t.Errorf("connection already closed remotely, expected no close calls, got %d", m.CloseCalls)
	}
}
