package queue

import (
	"context"
	"time"

	"github.com/snehjoshi/osyncq/internal/message"
	"github.com/snehjoshi/osyncq/internal/types"
)

// Send queues m for writing. It does not wait for the frame to reach the
// pipe.
//
// When m carries a reply handler the request is registered on replyQ, the
// queue the answer will arrive on, and m's id is set to the new correlation
// id. The handler then runs exactly once, with the REPLY, an ERROR_REPLY
// from the peer, or a synthesized Timeout or IoError ERROR_REPLY. If Send
// returns an error the handler never runs. A reply queue that is no longer
// connected is refused with ErrNotConnected.
//
// Send takes its own reference to m; the caller keeps (and must release)
// its own.
func (q *Queue) Send(m *message.Message, replyQ *Queue) error {
	return q.send(m, replyQ, q.opts.defaultTimeout)
}

// SendWithTimeout is Send with a reply deadline of timeout from now. A zero
// timeout waits for the reply indefinitely.
func (q *Queue) SendWithTimeout(m *message.Message, replyQ *Queue, timeout time.Duration) error {
	return q.send(m, replyQ, timeout)
}

func (q *Queue) send(m *message.Message, replyQ *Queue, timeout time.Duration) error {
	if !q.connected.Load() {
		return ErrNotConnected
	}
	if p := q.writeErr.Load(); p != nil {
		return types.WrapError(types.KindIO, *p)
	}

	var (
		id         int64
		registered bool
	)
	if h := m.Handler(); h != nil {
		if replyQ == nil {
			return ErrNoReplyQueue
		}
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if !replyQ.connected.Load() {
			return ErrNotConnected
		}
		id = replyQ.pending.Register(h, m, deadline)
		m.SetID(id)
		registered = true

		// The reply queue may have hung up or disconnected after the check,
		// when its pending requests were already failed.
		if !replyQ.connected.Load() {
			if _, ok := replyQ.pending.Take(id); ok {
				return ErrNotConnected
			}
		}
	}

	if !q.outgoing.push(m.Ref()) {
		m.Unref()
		if registered {
			if _, ok := replyQ.pending.Take(id); !ok {
				// Already resolved by the reply queue shutting down.
				return nil
			}
		}
		return ErrNotConnected
	}
	return nil
}

// IsAlive reports whether the queue still accepts messages by queueing a
// NOOP.
func (q *Queue) IsAlive() bool {
	m := message.New(types.CmdNoop, 0)
	defer m.Unref()
	return q.Send(m, nil) == nil
}

// Receive blocks until a message arrives, ctx is done or the queue is
// disconnected. The caller owns the returned message and must Unref it.
//
// Receive pops straight from the incoming mailbox: replies to pending
// requests are returned like any other message and their handlers do not
// run. Use it on queues that carry requests, not on reply queues.
func (q *Queue) Receive(ctx context.Context) (*message.Message, error) {
	for {
		if m, ok := q.incoming.pop(); ok {
			return m, nil
		}
		select {
		case <-q.incoming.ready:
		case <-q.closed:
			if m, ok := q.incoming.pop(); ok {
				return m, nil
			}
			return nil, ErrNotConnected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReceive returns the next incoming message without waiting.
func (q *Queue) TryReceive() (*message.Message, bool) {
	return q.incoming.pop()
}

// Poll waits up to timeout for the queue's descriptor to become readable or
// hang up. It is meant for queues whose reader has not been started.
func (q *Queue) Poll(timeout time.Duration) (Event, error) {
	q.lifeMu.Lock()
	fd := q.fd
	q.lifeMu.Unlock()
	if fd < 0 {
		return EventError, ErrNotConnected
	}
	return pollFD(fd, timeout)
}
