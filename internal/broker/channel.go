package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/snehjoshi/osyncq/internal/message"
	"github.com/snehjoshi/osyncq/internal/queue"
	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

// Side says which end of a channel this process is.
type Side int

const (
	// SideEngine writes requests and reads replies.
	SideEngine Side = iota
	// SidePlugin reads requests and writes replies.
	SidePlugin
)

func (s Side) String() string {
	if s == SidePlugin {
		return "plugin"
	}
	return "engine"
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes "engine" or "plugin".
func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "engine":
		*s = SideEngine
	case "plugin":
		*s = SidePlugin
	default:
		return fmt.Errorf("broker: unknown side %q", b)
	}
	return nil
}

// HandlerFunc answers one incoming request. A nil reply sends nothing. The
// returned reply is released after it is queued.
type HandlerFunc func(req *message.Message) *message.Message

// Channel is one request/reply FIFO pair seen from one side.
type Channel struct {
	name     string
	side     Side
	openedAt time.Time
	log      *slog.Logger

	req, rep *queue.Queue
	// out carries what this side sends, in what it receives.
	out, in *queue.Queue

	createdReq, createdRep bool

	downOnce sync.Once
	down     chan struct{}
}

func (b *Broker) newChannel(name string, side Side) (*Channel, error) {
	reqPath, repPath := b.Paths(name)
	c := &Channel{
		name:     name,
		side:     side,
		openedAt: time.Now(),
		log:      b.log.With("channel", name),
		down:     make(chan struct{}),
	}

	obs := queue.Observers(append(append([]queue.Observer{}, b.observers...), downWatch{c})...)
	opts := append(append([]queue.Option{}, b.qopts...),
		queue.WithLogger(c.log),
		queue.WithObserver(obs),
	)
	c.req = queue.New(reqPath, opts...)
	c.rep = queue.New(repPath, opts...)

	var err error
	if c.createdReq, err = ensureFIFO(c.req); err != nil {
		return nil, err
	}
	if c.createdRep, err = ensureFIFO(c.rep); err != nil {
		if c.createdReq {
			_ = c.req.Remove()
		}
		return nil, err
	}

	if side == SideEngine {
		c.out, c.in = c.req, c.rep
	} else {
		c.out, c.in = c.rep, c.req
	}
	return c, nil
}

// ensureFIFO creates q's FIFO and reports whether it did not exist before.
func ensureFIFO(q *queue.Queue) (bool, error) {
	if q.Exists() {
		return false, nil
	}
	if err := q.Create(); err != nil {
		return false, fmt.Errorf("broker: create %s: %w", q.Path(), err)
	}
	return true, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Side returns which end of the channel this process is.
func (c *Channel) Side() Side { return c.side }

// Queues returns the request and reply queues.
func (c *Channel) Queues() (req, rep *queue.Queue) { return c.req, c.rep }

// Done is closed when the peer hangs up or either pipe fails.
func (c *Channel) Done() <-chan struct{} { return c.down }

// Info returns a snapshot of the channel.
func (c *Channel) Info() ChannelInfo {
	return ChannelInfo{
		Name:     c.name,
		Side:     c.side,
		Request:  c.req.Stats(),
		Reply:    c.rep.Stats(),
		OpenedAt: c.openedAt,
	}
}

// ─── Connect ──────────────────────────────────────────────────────────────────

// Connect opens both pipes and starts dispatching incoming messages. Both
// sides open the request FIFO first, so two processes calling Connect meet
// without deadlocking. It blocks until the peer shows up or ctx is done; a
// cancelled Connect leaves the channel unusable and it should be closed.
func (c *Channel) Connect(ctx context.Context) error {
	reqRole, repRole := types.RoleSender, types.RoleReceiver
	if c.side == SidePlugin {
		reqRole, repRole = types.RoleReceiver, types.RoleSender
	}
	if err := connectCtx(ctx, c.req, reqRole); err != nil {
		return fmt.Errorf("broker: connect %s: %w", c.req.Path(), err)
	}
	if err := connectCtx(ctx, c.rep, repRole); err != nil {
		return fmt.Errorf("broker: connect %s: %w", c.rep.Path(), err)
	}
	c.in.StartDispatcher()
	c.log.Info("channel connected", "side", c.side)
	return nil
}

// connectCtx runs the blocking FIFO open on its own goroutine. If ctx ends
// first, the open is released by briefly opening the FIFO read-write, which
// satisfies either pending open mode.
func connectCtx(ctx context.Context, q *queue.Queue, role types.Role) error {
	done := make(chan error, 1)
	go func() { done <- q.Connect(role) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	if fd, err := unix.Open(q.Path(), unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0); err == nil {
		defer unix.Close(fd)
	}
	if err := <-done; err == nil {
		_ = q.Disconnect()
	}
	return ctx.Err()
}

// ─── Traffic ──────────────────────────────────────────────────────────────────

// Handle answers every incoming request with fn. QUEUE_HUP and QUEUE_ERROR
// are not passed to fn; they close Done instead.
func (c *Channel) Handle(fn HandlerFunc) {
	c.in.SetMessageHandler(func(m *message.Message) {
		switch m.Command() {
		case types.CmdQueueHup, types.CmdQueueError:
			return
		}
		reply := fn(m)
		if reply == nil {
			return
		}
		if err := c.out.Send(reply, nil); err != nil {
			c.log.Warn("reply not sent", "cmd", reply.Command(), "id", reply.ID(), "err", err)
		}
		reply.Unref()
	})
}

// Send queues m on this side's outgoing pipe. If m has a reply handler its
// reply is expected on the incoming pipe.
func (c *Channel) Send(m *message.Message) error {
	return c.out.Send(m, c.in)
}

// Request sends m and waits for its reply. timeout bounds the wait for the
// reply; zero uses the queue default. An ERROR_REPLY is returned together
// with its decoded error. The caller must Unref a non-nil reply. A reply
// that arrives after ctx is done is released.
func (c *Channel) Request(ctx context.Context, m *message.Message, timeout time.Duration) (*message.Message, error) {
	replies := make(chan *message.Message)
	abandoned := make(chan struct{})
	m.SetHandler(func(r *message.Message) {
		r.Ref()
		select {
		case replies <- r:
		case <-abandoned:
			r.Unref()
		}
	})

	var err error
	if timeout > 0 {
		err = c.out.SendWithTimeout(m, c.in, timeout)
	} else {
		err = c.out.Send(m, c.in)
	}
	if err != nil {
		return nil, err
	}

	select {
	case r := <-replies:
		if r.IsError() {
			return r, r.Err()
		}
		return r, nil
	case <-ctx.Done():
		close(abandoned)
		return nil, ctx.Err()
	}
}

func (c *Channel) close() error {
	var errs []error
	for _, q := range []*queue.Queue{c.out, c.in} {
		if err := q.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.createdReq {
		if err := c.req.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.createdRep {
		if err := c.rep.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	c.markDown()
	return errors.Join(errs...)
}

func (c *Channel) markDown() {
	c.downOnce.Do(func() { close(c.down) })
}

// downWatch closes a channel's Done on hang-up or transport failure.
type downWatch struct{ c *Channel }

func (downWatch) FrameSent(queue.Info, wire.Header)                {}
func (downWatch) FrameReceived(queue.Info, wire.Header)            {}
func (downWatch) ReplyResolved(queue.Info, int64, types.ErrorKind) {}

func (w downWatch) QueueEvent(_ queue.Info, cmd types.Command) {
	switch cmd {
	case types.CmdQueueHup, types.CmdQueueError:
		w.c.markDown()
	}
}
