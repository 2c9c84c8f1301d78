package websocket

import (
	"context"
	"fmt"
	"sync"
)

// readySlot holds at most one waiting sender. Registration overwrites the
// previous registrant — last one wins, earlier waiters are simply
// abandoned until their context ends. This is the intended semantics: at
// most one sender is expected to await open-readiness at a time, and the
// slot is the only mutable cell shared between the event relay (wakes and
// clears on open) and the sink (registers while Connecting).
type readySlot struct {
	mu sync.Mutex
	ch chan struct{}
}

// register installs a fresh wait channel, replacing any previous one, and
// returns it. The channel is closed by wake.
func (s *readySlot) register() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch = make(chan struct{})
	return s.ch
}

// wake releases the registered waiter, if any, and clears the slot.
func (s *readySlot) wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}

// Writer is the outbound half: a readiness gate plus transmission.
// Obtained from Conn.Split; an unsplit Conn exposes the same methods.
type Writer struct {
	c           *Conn
	releaseOnce sync.Once
}

// Ready blocks while the connection is still Connecting and returns nil
// as soon as a send may be attempted. Open, Closing, and Closed all count
// as ready — readiness means the transport will give a definitive answer
// to a send, not that the send will succeed; the transport itself rejects
// sends on a dead connection, and gating on anything more here would just
// duplicate that check.
//
// Only the most recent Ready caller is guaranteed a wake-up when the open
// event arrives; an earlier concurrent caller waits until its ctx ends.
func (w *Writer) Ready(ctx context.Context) error { return w.c.readyWait(ctx) }

// Send transmits the message through the transport, synchronously.
// A transport rejection (not open, payload too large) comes back as a
// *SendError wrapping the transport's diagnostic. Send does not
// pre-validate state — call Ready first if the connection may still be
// Connecting.
func (w *Writer) Send(m Message) error { return w.c.sendMessage(m) }

// Flush is a no-op: the transport has no buffered-flush concept distinct
// from send.
func (w *Writer) Flush() error { return nil }

// CloseSink is a no-op: closing the outbound half does not close the
// connection. Use Conn.Close / Conn.CloseWithStatus for that, or Release
// both halves for the implicit close.
func (w *Writer) CloseSink() error { return nil }

// Release drops this half's reference to the connection. The transport
// stays open while the Reader half is live; releasing the last half
// closes the transport (once, fire-and-forget) unless an explicit close
// already happened or the connection is already Closed. Safe to call more
// than once.
func (w *Writer) Release() {
	w.releaseOnce.Do(w.c.release)
}

// readyWait implements the sink readiness gate on the Conn so the unsplit
// Conn and the Writer half share it.
func (c *Conn) readyWait(ctx context.Context) error {
	for {
		if c.State() != StateConnecting {
			return nil
		}
		ch := c.ready.register()
		// The open event may have fired between the state read and the
		// registration, in which case nobody will close ch — re-check.
		if c.State() != StateConnecting {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) sendMessage(m Message) error {
	var err error
	switch m.Type {
	case MessageText:
		err = c.tr.SendText(m.Text)
	case MessageBinary:
		err = c.tr.SendBytes(m.Data)
	default:
		// Messages only exist in the two constructed shapes; anything
		// else is a programming error, not a runtime condition.
		panic(fmt.Sprintf("websocket: send of message with unknown type %d", int(m.Type)))
	}
	if err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// Ready is Writer.Ready on an unsplit Conn.
func (c *Conn) Ready(ctx context.Context) error { return c.readyWait(ctx) }

// Send is Writer.Send on an unsplit Conn.
func (c *Conn) Send(m Message) error { return c.sendMessage(m) }

// Flush is Writer.Flush on an unsplit Conn.
func (c *Conn) Flush() error { return nil }
