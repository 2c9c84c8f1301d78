package websocket

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Reader is the inbound half: it drains the notification queue and
// presents it as a terminating sequence. Obtained from Conn.Split; an
// unsplit Conn exposes the same Next. A single goroutine consumes the
// stream — Next is not safe for concurrent callers.
type Reader struct {
	c           *Conn
	releaseOnce sync.Once
}

// Next blocks until the next event and translates it:
//
//   - a received message       → (msg, nil)
//   - an error event           → (zero, err) with errors.Is(err, ErrConnection);
//     not terminal, keep calling Next
//   - a close event            → (zero, *CloseError) carrying code, reason and
//     the clean flag; not terminal, the very next call observes the end
//   - end of stream            → (zero, io.EOF), terminal and sticky
//   - ctx done while waiting   → (zero, ctx.Err()), not terminal
//
// Events come out in exactly the order the transport emitted them, and
// io.EOF is never returned before a pending *CloseError — a caller always
// learns why the connection closed before learning that it did.
func (r *Reader) Next(ctx context.Context) (Message, error) { return r.c.next(ctx) }

// Release drops this half's reference to the connection; see
// Writer.Release for the shared-lifetime rules. Safe to call more than
// once.
func (r *Reader) Release() {
	r.releaseOnce.Do(r.c.release)
}

func (c *Conn) next(ctx context.Context) (Message, error) {
	if c.streamDone {
		return Message{}, io.EOF
	}

	n, ok, err := c.queue.pop(ctx)
	if err != nil {
		return Message{}, err
	}
	if !ok {
		// Queue closed out from under the stream (handles released) —
		// terminal without a close payload, same as an exhausted channel.
		c.streamDone = true
		return Message{}, io.EOF
	}

	switch n.kind {
	case notifyMessage:
		return n.msg, nil
	case notifyError:
		if n.err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrConnection, n.err)
		}
		return Message{}, ErrConnection
	case notifyClose:
		return Message{}, &CloseError{
			Code:     n.close.Code,
			Reason:   n.close.Reason,
			WasClean: n.close.WasClean,
		}
	case notifyClosed:
		c.streamDone = true
		return Message{}, io.EOF
	default:
		panic(fmt.Sprintf("websocket: unknown notification kind %d", n.kind))
	}
}

// Next is Reader.Next on an unsplit Conn.
func (c *Conn) Next(ctx context.Context) (Message, error) { return c.next(ctx) }
