package queue

import (
	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

// Info identifies a queue to observers.
type Info struct {
	ID   string     `json:"id"`
	Path string     `json:"path"`
	Role types.Role `json:"role"`
}

// Observer is notified of traffic and lifecycle events on a queue.
//
// Methods are called from the queue's reader and writer goroutines and must
// return quickly. They must not call Disconnect on the queue they observe.
type Observer interface {
	// FrameSent is called after a frame has been written to the pipe.
	FrameSent(q Info, h wire.Header)
	// FrameReceived is called after a frame has been read from the pipe.
	FrameReceived(q Info, h wire.Header)
	// ReplyResolved is called when a pending reply completes. kind is
	// KindNone for a real REPLY.
	ReplyResolved(q Info, id int64, kind types.ErrorKind)
	// QueueEvent reports lifecycle changes: CmdConnect, CmdDisconnect and
	// the synthesized CmdQueueHup and CmdQueueError.
	QueueEvent(q Info, cmd types.Command)
}

type nopObserver struct{}

func (nopObserver) FrameSent(Info, wire.Header)                {}
func (nopObserver) FrameReceived(Info, wire.Header)            {}
func (nopObserver) ReplyResolved(Info, int64, types.ErrorKind) {}
func (nopObserver) QueueEvent(Info, types.Command)             {}

type multiObserver []Observer

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) FrameSent(q Info, h wire.Header) {
	for _, o := range m {
		o.FrameSent(q, h)
	}
}

func (m multiObserver) FrameReceived(q Info, h wire.Header) {
	for _, o := range m {
		o.FrameReceived(q, h)
	}
}

func (m multiObserver) ReplyResolved(q Info, id int64, kind types.ErrorKind) {
	for _, o := range m {
		o.ReplyResolved(q, id, kind)
	}
}

func (m multiObserver) QueueEvent(q Info, cmd types.Command) {
	for _, o := range m {
		o.QueueEvent(q, cmd)
	}
}
