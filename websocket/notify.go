package websocket

import (
	"context"
	"sync"

	"github.com/b0xtch/gloo/transport"
)

// notifyKind discriminates what the event relay pushed.
type notifyKind int

const (
	notifyMessage notifyKind = iota // a text or binary message arrived
	notifyError                     // an error event fired, stream continues
	notifyClose                     // close frame observed, payload attached
	notifyClosed                    // terminal marker, always right after notifyClose
)

// notification is one entry in the queue between the transport's event
// callbacks and the inbound stream. Exactly one field beyond kind is
// meaningful, selected by kind.
type notification struct {
	kind  notifyKind
	msg   Message              // notifyMessage
	err   error                // notifyError, may be nil
	close transport.CloseEvent // notifyClose
}

// notifyQueue is an unbounded ordered FIFO with any number of producers
// and a single consumer. push never blocks — that is the property the
// whole adapter hangs on: transport callbacks must return immediately or
// the event loop stalls and event ordering is lost. Entries come out in
// exactly the order they went in.
type notifyQueue struct {
	mu    sync.Mutex
	items []notification
	ready chan struct{} // capacity 1, signals the consumer that items exist
	done  bool
}

func newNotifyQueue() *notifyQueue {
	return &notifyQueue{ready: make(chan struct{}, 1)}
}

// push appends an item and nudges the consumer. After close it is a
// silent no-op — the consumer is gone and there is nobody to report to.
func (q *notifyQueue) push(n notification) {
	q.mu.Lock()
	if q.done {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, n)
	q.mu.Unlock()

	// non-blocking: a pending token already guarantees a wake-up
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop removes the oldest item, blocking until one is available.
// Returns (item, true, nil) on success, (zero, false, nil) once the queue
// is closed and drained, and (zero, false, ctx.Err()) if the caller's
// context ends first. Queued items are still delivered after close —
// close stops intake, it does not discard.
func (q *notifyQueue) pop(ctx context.Context) (notification, bool, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return n, true, nil
		}
		if q.done {
			q.mu.Unlock()
			return notification{}, false, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return notification{}, false, ctx.Err()
		}
	}
}

// close marks the consumer as gone. Subsequent pushes are dropped and a
// blocked pop wakes up. Safe to call more than once.
func (q *notifyQueue) close() {
	q.mu.Lock()
	q.done = true
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}
