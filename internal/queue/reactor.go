package queue

import (
	"context"
	"errors"
	"io"

	"github.com/snehjoshi/osyncq/internal/message"
	"github.com/snehjoshi/osyncq/internal/pending"
	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

// errBrokenPipe is delivered to every pending reply when the peer hangs up.
var errBrokenPipe = types.NewError(types.KindIO, "broken pipe")

// ─── Writer ───────────────────────────────────────────────────────────────────

func (q *Queue) writeLoop(ctx context.Context) {
	defer q.wg.Done()

	conn := &fdConn{fd: q.fd, done: ctx.Done(), bound: q.opts.senderPoll}
	info := q.Info()
	var frame []byte

	for {
		m, ok := q.outgoing.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.outgoing.ready:
			}
			continue
		}

		h := m.Header()
		frame = wire.AppendHeader(frame[:0], h)
		frame = append(frame, m.Payload()...)
		_, err := conn.Write(frame)
		m.Unref()

		if err != nil {
			if errors.Is(err, errStopped) {
				return
			}
			q.writeErr.Store(&err)
			q.log.Error("queue write failed", "cmd", h.Command, "id", h.ID, "err", err)
			q.incoming.push(message.NewQueueError(types.WrapError(types.KindIO, err)))
			q.opts.observer.QueueEvent(info, types.CmdQueueError)
			return
		}
		q.opts.observer.FrameSent(info, h)
	}
}

// ─── Reader ───────────────────────────────────────────────────────────────────

func (q *Queue) readLoop(ctx context.Context) {
	defer q.wg.Done()

	conn := &fdConn{fd: q.fd, done: ctx.Done(), bound: q.opts.receiverPoll}
	info := q.Info()
	bound := q.opts.receiverPoll
	if q.Role() == types.RoleSender {
		bound = q.opts.senderPoll
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := pollFD(q.fd, bound)
		if err != nil {
			q.fail(info, err)
			return
		}
		switch ev {
		case EventNone:
			continue
		case EventHup, EventError:
			// A write-only FIFO end reports POLLERR once the reader is gone.
			q.hangup(info)
			return
		}

		for i := 0; i < readBatch; i++ {
			h, payload, err := wire.ReadFrame(conn, q.opts.maxPayload)
			switch {
			case err == nil:
			case errors.Is(err, io.EOF):
				q.hangup(info)
				return
			case errors.Is(err, errStopped):
				return
			default:
				q.fail(info, err)
				return
			}
			q.opts.observer.FrameReceived(info, h)
			if !q.incoming.push(message.FromFrame(h, payload)) {
				return
			}
			if !conn.readable() {
				break
			}
		}
	}
}

// hangup handles the peer closing its end: one QUEUE_HUP, then an I/O error
// for every request still waiting on this queue.
func (q *Queue) hangup(info Info) {
	if !q.connected.CompareAndSwap(true, false) {
		return
	}
	q.log.Info("queue peer hung up")
	q.incoming.push(message.NewQueueHup())
	q.opts.observer.QueueEvent(info, types.CmdQueueHup)
	q.orphanPending(errBrokenPipe)
}

// fail handles a read or protocol error: one QUEUE_ERROR, then the same
// treatment of pending requests as a hang-up.
func (q *Queue) fail(info Info, err error) {
	if !q.connected.CompareAndSwap(true, false) {
		return
	}
	q.log.Error("queue read failed", "err", err)
	if types.KindOf(err) == types.KindNone {
		err = types.WrapError(types.KindIO, err)
	}
	q.incoming.push(message.NewQueueError(err))
	q.opts.observer.QueueEvent(info, types.CmdQueueError)
	q.orphanPending(errBrokenPipe)
}

// orphanPending pushes a synthesized ERROR_REPLY for every pending request
// into the incoming mailbox so that the dispatcher resolves them in order
// after whatever real replies were already read.
//
// The entries stay registered. The first path to Take an entry resolves it
// and the rest are dropped as unknown replies.
func (q *Queue) orphanPending(err error) {
	for _, id := range q.pending.IDs() {
		r := message.NewErrorReplyFor(id, err)
		if !q.incoming.push(r) {
			r.Unref()
			return
		}
	}
}

// failPending resolves every pending request immediately with err and
// returns how many there were. Used on Disconnect, when no dispatcher will
// run again.
func (q *Queue) failPending(err error) int {
	info := q.Info()
	entries := q.pending.DrainAll()
	for _, e := range entries {
		r := message.NewErrorReplyFor(e.ID, err)
		e.Resolve(r)
		q.opts.observer.ReplyResolved(info, e.ID, types.KindOf(err))
		r.Unref()
	}
	return len(entries)
}

// ─── Timeout scanner ──────────────────────────────────────────────────────────

// expire runs on the registry's Watch goroutine with entries already taken
// out of the registry.
func (q *Queue) expire(due []pending.Entry) {
	info := q.Info()
	for _, e := range due {
		err := types.NewError(types.KindTimeout, "timeout while waiting for reply %d", e.ID)
		r := message.NewErrorReplyFor(e.ID, err)
		q.log.Debug("reply timed out", "id", e.ID)
		e.Resolve(r)
		q.opts.observer.ReplyResolved(info, e.ID, types.KindTimeout)
		r.Unref()
	}
}

// ─── Dispatch ─────────────────────────────────────────────────────────────────

// Dispatch delivers every message currently in the incoming mailbox and
// returns how many it handled. Replies go to the handler registered by Send;
// everything else goes to the message handler. Each message is released
// after its handler returns.
func (q *Queue) Dispatch() int {
	n := 0
	for {
		m, ok := q.incoming.pop()
		if !ok {
			return n
		}
		q.route(m)
		m.Unref()
		n++
	}
}

func (q *Queue) route(m *message.Message) {
	if m.Command().IsReply() {
		e, ok := q.pending.Take(m.ID())
		if !ok {
			q.log.Debug("dropping reply with no pending request", "cmd", m.Command(), "id", m.ID())
			return
		}
		kind := types.KindNone
		if m.IsError() {
			kind = types.KindOf(m.Err())
		}
		e.Resolve(m)
		q.opts.observer.ReplyResolved(q.Info(), e.ID, kind)
		return
	}

	h := q.messageHandler()
	if h == nil {
		q.log.Debug("no message handler", "cmd", m.Command(), "id", m.ID())
		return
	}
	h(m)
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	for {
		q.Dispatch()
		select {
		case <-ctx.Done():
			return
		case <-q.incoming.ready:
		}
	}
}
