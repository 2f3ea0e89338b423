// Package queue implements one endpoint of an osyncq transport: a byte pipe
// (named FIFO, anonymous pipe or inherited descriptor) carrying length-framed
// messages in one direction.
//
// A connected Queue runs its reactor as goroutines:
//
//	writer   drains the outgoing mailbox and writes frames to the pipe
//	reader   polls the pipe, decodes frames into the incoming mailbox
//	scanner  expires pending replies whose deadline has passed
//	dispatch optional; routes incoming replies to their handlers and all
//	         other messages to the message handler
//
// The dispatch step can instead be driven by the caller (Dispatch, Receive)
// or by an external Loop shared with other queues.
//
// Requests and replies travel on two queues. Send registers the reply handler
// on the queue the reply will arrive on; that queue's dispatcher resolves it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/snehjoshi/osyncq/internal/ident"
	"github.com/snehjoshi/osyncq/internal/message"
	"github.com/snehjoshi/osyncq/internal/pending"
	"github.com/snehjoshi/osyncq/internal/types"
)

// ─── Error sentinels ──────────────────────────────────────────────────────────

var (
	// ErrAlreadyConnected is returned by Connect on a connected queue.
	ErrAlreadyConnected = errors.New("queue: already connected")
	// ErrClosed is returned by Connect after Disconnect.
	ErrClosed = errors.New("queue: closed")
	// ErrNotConnected is returned by Send and Receive when the queue has no
	// live connection. It matches types.ErrDisconnected.
	ErrNotConnected = types.NewError(types.KindDisconnected, "queue: not connected")
	// ErrNoReplyQueue is returned by Send for a message that expects a reply
	// but has nowhere to receive it. It matches types.ErrParameter.
	ErrNoReplyQueue = types.NewError(types.KindParameter, "queue: message has a reply handler but no reply queue")
)

// MessageHandler receives every incoming message that is not a reply to a
// pending request. The message is released after the handler returns; call
// Ref to keep it.
type MessageHandler func(m *message.Message)

// ─── Queue ────────────────────────────────────────────────────────────────────

// Queue is one end of a message pipe. All methods are safe for concurrent use.
type Queue struct {
	id   string
	path string
	opts options
	log  *slog.Logger

	// lifeMu serializes Connect and Disconnect.
	lifeMu sync.Mutex
	state  atomic.Int32
	fd     int
	role   atomic.Int32

	// connected flips to false on hang-up or Disconnect and never back.
	connected atomic.Bool
	writeErr  atomic.Pointer[error]

	outgoing *mailbox
	incoming *mailbox
	pending  *pending.Registry

	hmu     sync.RWMutex
	handler MessageHandler

	// dispatch mode, chosen before or after Connect.
	dmu        sync.Mutex
	dispatcher bool
	loop       *Loop

	cancel context.CancelFunc
	ctx    context.Context
	closed chan struct{}
	wg     sync.WaitGroup
}

// New returns a queue backed by the named FIFO at path. Nothing touches the
// file system until Create or Connect.
func New(path string, opts ...Option) *Queue {
	return newQueue(path, -1, opts)
}

// NewFromFD returns a queue wrapping an already open descriptor. The queue
// owns fd from now on and closes it on Disconnect. The descriptor is switched
// to non-blocking, close-on-exec mode when the queue connects.
func NewFromFD(fd int, opts ...Option) *Queue {
	return newQueue("", fd, opts)
}

// NewPipes creates an anonymous pipe and returns a queue for each end. The
// read queue must be connected as RoleReceiver and the write queue as
// RoleSender.
func NewPipes(opts ...Option) (read, write *Queue, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, types.WrapError(types.KindIO, os.NewSyscallError("pipe2", err))
	}
	return NewFromFD(fds[0], opts...), NewFromFD(fds[1], opts...), nil
}

func newQueue(path string, fd int, opts []Option) *Queue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = ident.MustNewID()
	}
	q := &Queue{
		id:       o.id,
		path:     path,
		opts:     o,
		fd:       fd,
		outgoing: newMailbox(),
		incoming: newMailbox(),
		pending:  pending.New(),
		closed:   make(chan struct{}),
	}
	q.log = o.logger.With("queue", q.id)
	if path != "" {
		q.log = q.log.With("path", path)
	}
	return q
}

// ─── Accessors ────────────────────────────────────────────────────────────────

// ID returns the queue's identifier.
func (q *Queue) ID() string { return q.id }

// Path returns the FIFO path, or "" for descriptor-backed queues.
func (q *Queue) Path() string { return q.path }

// Role returns the role passed to Connect.
func (q *Queue) Role() types.Role { return types.Role(q.role.Load()) }

// State returns the lifecycle state.
func (q *Queue) State() State { return State(q.state.Load()) }

// IsConnected reports whether the queue is connected and the peer has not
// hung up.
func (q *Queue) IsConnected() bool { return q.connected.Load() }

// PendingLen returns the number of requests waiting for a reply on this
// queue.
func (q *Queue) PendingLen() int { return q.pending.Len() }

// Info returns the identity reported to observers.
func (q *Queue) Info() Info {
	return Info{ID: q.id, Path: q.path, Role: q.Role()}
}

// Stats is a point-in-time snapshot of a queue.
type Stats struct {
	Info
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Pending   int    `json:"pending"`
	Incoming  int    `json:"incoming"`
	Outgoing  int    `json:"outgoing"`
}

// Stats returns a snapshot of the queue's state and mailbox depths.
func (q *Queue) Stats() Stats {
	return Stats{
		Info:      q.Info(),
		State:     q.State().String(),
		Connected: q.IsConnected(),
		Pending:   q.pending.Len(),
		Incoming:  q.incoming.len(),
		Outgoing:  q.outgoing.len(),
	}
}

// ─── Named pipe on disk ───────────────────────────────────────────────────────

// Create makes the FIFO with owner-only permissions. An existing FIFO is not
// an error.
func (q *Queue) Create() error {
	if q.path == "" {
		return types.NewError(types.KindNotSupported, "queue: create on a descriptor-backed queue")
	}
	if err := unix.Mkfifo(q.path, 0o600); err != nil && !errors.Is(err, unix.EEXIST) {
		return types.WrapError(types.KindIO, &os.PathError{Op: "mkfifo", Path: q.path, Err: err})
	}
	return nil
}

// Exists reports whether a FIFO is present at the queue's path.
func (q *Queue) Exists() bool {
	if q.path == "" {
		return false
	}
	var st unix.Stat_t
	if err := unix.Stat(q.path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFIFO
}

// Remove deletes the FIFO. A missing file is not an error.
func (q *Queue) Remove() error {
	if q.path == "" {
		return nil
	}
	if err := unix.Unlink(q.path); err != nil && !errors.Is(err, unix.ENOENT) {
		return types.WrapError(types.KindIO, &os.PathError{Op: "unlink", Path: q.path, Err: err})
	}
	return nil
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Connect opens the pipe for role and starts the reactor goroutines.
//
// For a FIFO the open blocks until the peer opens the other end. On failure
// the queue stays unconnected and Connect may be retried.
func (q *Queue) Connect(role types.Role) error {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()

	switch q.State() {
	case StateConnected:
		return ErrAlreadyConnected
	case StateDisconnected:
		return ErrClosed
	}

	if q.fd < 0 {
		mode := unix.O_RDONLY
		if role == types.RoleSender {
			mode = unix.O_WRONLY
		}
		fd, err := openFIFO(q.path, mode)
		if err != nil {
			q.log.Warn("queue connect failed", "role", role, "err", err)
			return types.WrapError(types.KindIO, err)
		}
		q.fd = fd
	} else if err := adoptFD(q.fd); err != nil {
		q.log.Warn("queue connect failed", "role", role, "err", err)
		return types.WrapError(types.KindIO, err)
	}

	q.role.Store(int32(role))
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.state.Store(int32(StateConnected))
	q.connected.Store(true)

	q.wg.Add(2)
	go q.writeLoop(q.ctx)
	go q.readLoop(q.ctx)
	go q.pending.Watch(q.ctx, q.expire)

	q.dmu.Lock()
	q.startDispatchLocked()
	q.dmu.Unlock()

	q.log.Info("queue connected", "role", role)
	q.opts.observer.QueueEvent(q.Info(), types.CmdConnect)
	return nil
}

// Disconnect stops the reactor, discards unreceived messages, closes the
// descriptor and fails every pending reply with an I/O error. It is safe to
// call more than once and from several goroutines.
//
// Disconnect waits for the reader and writer to exit but not for the
// dispatcher, so it may be called from a message or reply handler.
func (q *Queue) Disconnect() error {
	q.lifeMu.Lock()
	prev := q.State()
	if !ValidTransition(prev, StateDisconnected) {
		q.lifeMu.Unlock()
		return nil
	}
	q.state.Store(int32(StateDisconnected))
	q.connected.Store(false)
	close(q.closed)

	if prev == StateConnected {
		q.cancel()
		q.wg.Wait()
	}
	var closeErr error
	if q.fd >= 0 {
		if err := unix.Close(q.fd); err != nil {
			closeErr = types.WrapError(types.KindIO, os.NewSyscallError("close", err))
		}
		q.fd = -1
	}
	for _, m := range q.outgoing.close() {
		m.Unref()
	}
	for _, m := range q.incoming.close() {
		m.Unref()
	}
	q.lifeMu.Unlock()

	// Handlers may call back into the queue, so they run unlocked.
	failed := q.failPending(types.NewError(types.KindIO, "queue disconnected"))

	q.log.Info("queue disconnected", "failed_pending", failed)
	if prev == StateConnected {
		q.opts.observer.QueueEvent(q.Info(), types.CmdDisconnect)
	}
	return closeErr
}

// ─── Handlers and dispatch mode ───────────────────────────────────────────────

// SetMessageHandler registers the handler for unsolicited messages. It
// replaces any previous handler.
func (q *Queue) SetMessageHandler(h MessageHandler) {
	q.hmu.Lock()
	q.handler = h
	q.hmu.Unlock()
}

func (q *Queue) messageHandler() MessageHandler {
	q.hmu.RLock()
	defer q.hmu.RUnlock()
	return q.handler
}

// StartDispatcher routes incoming messages on a private goroutine for the
// lifetime of the connection. It may be called before or after Connect.
func (q *Queue) StartDispatcher() {
	q.dmu.Lock()
	defer q.dmu.Unlock()
	if q.dispatcher || q.loop != nil {
		return
	}
	q.dispatcher = true
	if q.State() == StateConnected {
		q.startDispatchLocked()
	}
}

// SetupWithExternalLoop hands dispatching to l instead of a private
// goroutine: whenever messages arrive, a Dispatch call is posted to l.
// It may be called before or after Connect.
func (q *Queue) SetupWithExternalLoop(l *Loop) {
	q.dmu.Lock()
	defer q.dmu.Unlock()
	if q.dispatcher || q.loop != nil {
		return
	}
	q.loop = l
	if q.State() == StateConnected {
		q.startDispatchLocked()
	}
}

// startDispatchLocked launches the configured dispatch goroutine. MUST be
// called with q.dmu held and q.ctx set.
func (q *Queue) startDispatchLocked() {
	switch {
	case q.dispatcher:
		go q.dispatchLoop(q.ctx)
	case q.loop != nil:
		go q.loop.forward(q.ctx, q)
	}
}

func (q *Queue) String() string {
	if q.path != "" {
		return fmt.Sprintf("queue(%s %s)", q.id, q.path)
	}
	return fmt.Sprintf("queue(%s)", q.id)
}
