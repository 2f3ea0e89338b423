// Package message defines the unit exchanged over an osyncq queue: a command
// tag, a correlation id and a payload encoded with the wire codec.
//
// Messages are reference counted. New returns a message holding one
// reference; every hand-off across a queue boundary takes another with Ref
// and the holder releases it with Unref. When the count reaches zero the
// payload is dropped and further reads fail with ErrReleased.
package message

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

// ErrReleased is returned by reads on a message whose last reference is gone.
var ErrReleased = errors.New("message: payload released")

// ReplyHandler receives the REPLY or ERROR_REPLY for a request. Any context
// the handler needs is captured by the closure.
//
// The reply is only guaranteed to live until the handler returns; call Ref on
// it to keep it longer.
type ReplyHandler func(reply *Message)

// Message is a single framed unit of communication.
type Message struct {
	cmd      types.Command
	id       int64
	payload  atomic.Pointer[wire.Buffer]
	refs     atomic.Int32
	answered atomic.Bool
	handler  ReplyHandler
}

// New returns a message for cmd with room for sizeHint payload bytes.
func New(cmd types.Command, sizeHint int) *Message {
	m := &Message{cmd: cmd}
	m.payload.Store(wire.NewBuffer(sizeHint))
	m.refs.Store(1)
	return m
}

// FromFrame builds a received message from a decoded frame. The message
// takes ownership of payload.
func FromFrame(h wire.Header, payload []byte) *Message {
	m := &Message{cmd: h.Command, id: h.ID}
	m.payload.Store(wire.FromBytes(payload))
	m.refs.Store(1)
	return m
}

// NewReply returns a REPLY correlated with orig.
func NewReply(orig *Message) *Message {
	m := New(types.CmdReply, 0)
	m.id = orig.id
	return m
}

// NewErrorReply returns an ERROR_REPLY correlated with orig whose payload is
// the marshaled err.
func NewErrorReply(orig *Message, err error) *Message {
	m := New(types.CmdErrorReply, 0)
	m.id = orig.id
	MarshalError(m.buf(), err)
	return m
}

// NewErrorReplyFor is NewErrorReply for a correlation id whose request is no
// longer at hand.
func NewErrorReplyFor(id int64, err error) *Message {
	m := New(types.CmdErrorReply, 0)
	m.id = id
	MarshalError(m.buf(), err)
	return m
}

// NewError returns an unsolicited ERROR message carrying err.
func NewError(err error) *Message {
	m := New(types.CmdError, 0)
	MarshalError(m.buf(), err)
	return m
}

// NewQueueError returns the QUEUE_ERROR message a queue pushes to its own
// incoming side when the transport fails.
func NewQueueError(err error) *Message {
	m := New(types.CmdQueueError, 0)
	MarshalError(m.buf(), err)
	return m
}

// NewQueueHup returns the QUEUE_HUP message a queue pushes to its own
// incoming side when the peer hangs up.
func NewQueueHup() *Message {
	return New(types.CmdQueueHup, 0)
}

// ─── reference counting ───────────────────────────────────────────────────────

// Ref takes an additional reference and returns m for chaining.
func (m *Message) Ref() *Message {
	m.refs.Add(1)
	return m
}

// Unref releases one reference. The last release drops the payload.
func (m *Message) Unref() {
	n := m.refs.Add(-1)
	if n == 0 {
		m.payload.Store(nil)
	}
	if n < 0 {
		panic("message: Unref of released message")
	}
}

// Refs returns the current reference count.
func (m *Message) Refs() int32 { return m.refs.Load() }

// Released reports whether the last reference has been dropped.
func (m *Message) Released() bool { return m.payload.Load() == nil }

// ─── header fields ────────────────────────────────────────────────────────────

// Command returns the command tag.
func (m *Message) Command() types.Command { return m.cmd }

// SetCommand replaces the command tag.
func (m *Message) SetCommand(cmd types.Command) { m.cmd = cmd }

// ID returns the correlation id. Zero means no reply is expected.
func (m *Message) ID() int64 { return m.id }

// SetID replaces the correlation id.
func (m *Message) SetID(id int64) { m.id = id }

// Header returns the frame header for the current payload.
func (m *Message) Header() wire.Header {
	return wire.Header{Size: int32(m.Size()), Command: m.cmd, ID: m.id}
}

// Size returns the encoded payload length.
func (m *Message) Size() int {
	if b := m.payload.Load(); b != nil {
		return b.Len()
	}
	return 0
}

// Payload returns the encoded payload bytes, or nil after release.
func (m *Message) Payload() []byte {
	if b := m.payload.Load(); b != nil {
		return b.Bytes()
	}
	return nil
}

// ReadPos returns the payload read cursor.
func (m *Message) ReadPos() int {
	if b := m.payload.Load(); b != nil {
		return b.Pos()
	}
	return 0
}

// SetHandler attaches the continuation run when the reply arrives. It must
// be set before the message is sent.
func (m *Message) SetHandler(h ReplyHandler) { m.handler = h }

// Handler returns the attached reply continuation, if any.
func (m *Message) Handler() ReplyHandler { return m.handler }

// Answered reports whether a reply has been delivered for this request.
func (m *Message) Answered() bool { return m.answered.Load() }

// SetAnswered marks the request as answered.
func (m *Message) SetAnswered() { m.answered.Store(true) }

// IsError reports whether m is an ERROR_REPLY.
func (m *Message) IsError() bool { return m.cmd == types.CmdErrorReply }

// Err decodes the error carried by an ERROR_REPLY, ERROR or QUEUE_ERROR.
// It uses its own cursor, so the caller's read position is untouched.
// Other commands return nil.
func (m *Message) Err() error {
	switch m.cmd {
	case types.CmdErrorReply, types.CmdError, types.CmdQueueError:
	default:
		return nil
	}
	p := m.Payload()
	if p == nil {
		return ErrReleased
	}
	e, err := DemarshalError(wire.FromBytes(p))
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	return e
}

func (m *Message) String() string {
	return fmt.Sprintf("%s#%d(%d bytes)", m.cmd, m.id, m.Size())
}

// ─── payload codec ────────────────────────────────────────────────────────────

func (m *Message) buf() *wire.Buffer {
	b := m.payload.Load()
	if b == nil {
		panic("message: write to released message")
	}
	return b
}

func (m *Message) rbuf() (*wire.Buffer, error) {
	b := m.payload.Load()
	if b == nil {
		return nil, ErrReleased
	}
	return b, nil
}

// WriteInt appends a 4-byte signed integer to the payload.
func (m *Message) WriteInt(v int32) { m.buf().WriteInt(v) }

// WriteUint appends a 4-byte unsigned integer.
func (m *Message) WriteUint(v uint32) { m.buf().WriteUint(v) }

// WriteLong appends an 8-byte signed integer.
func (m *Message) WriteLong(v int64) { m.buf().WriteLong(v) }

// WriteString appends a length-prefixed, NUL-terminated string; nil is
// encoded as length -1.
func (m *Message) WriteString(s *string) { m.buf().WriteString(s) }

// WriteStringValue is WriteString for a non-nil string.
func (m *Message) WriteStringValue(s string) { m.buf().WriteStringValue(s) }

// WriteBuffer appends p with a 4-byte length prefix.
func (m *Message) WriteBuffer(p []byte) { m.buf().WriteBuffer(p) }

// WriteData appends p as is, without a length prefix.
func (m *Message) WriteData(p []byte) { m.buf().WriteData(p) }

// ReadInt reads a 4-byte signed integer at the read cursor.
func (m *Message) ReadInt() (int32, error) {
	b, err := m.rbuf()
	if err != nil {
		return 0, err
	}
	return b.ReadInt()
}

// ReadUint reads a 4-byte unsigned integer.
func (m *Message) ReadUint() (uint32, error) {
	b, err := m.rbuf()
	if err != nil {
		return 0, err
	}
	return b.ReadUint()
}

// ReadLong reads an 8-byte signed integer.
func (m *Message) ReadLong() (int64, error) {
	b, err := m.rbuf()
	if err != nil {
		return 0, err
	}
	return b.ReadLong()
}

// ReadString reads a string written by WriteString; a nil string comes
// back as nil.
func (m *Message) ReadString() (*string, error) {
	b, err := m.rbuf()
	if err != nil {
		return nil, err
	}
	return b.ReadString()
}

// ReadStringValue is ReadString with nil read as "".
func (m *Message) ReadStringValue() (string, error) {
	b, err := m.rbuf()
	if err != nil {
		return "", err
	}
	return b.ReadStringValue()
}

// ReadConstString returns a view that is only valid while m is referenced.
func (m *Message) ReadConstString() ([]byte, error) {
	b, err := m.rbuf()
	if err != nil {
		return nil, err
	}
	return b.ReadConstString()
}

// ReadBuffer reads a length-prefixed buffer into a new slice.
func (m *Message) ReadBuffer() ([]byte, error) {
	b, err := m.rbuf()
	if err != nil {
		return nil, err
	}
	return b.ReadBuffer()
}

// ReadConstBuffer returns a view that is only valid while m is referenced.
func (m *Message) ReadConstBuffer() ([]byte, error) {
	b, err := m.rbuf()
	if err != nil {
		return nil, err
	}
	return b.ReadConstBuffer()
}

// ReadData copies the next n raw bytes.
func (m *Message) ReadData(n int) ([]byte, error) {
	b, err := m.rbuf()
	if err != nil {
		return nil, err
	}
	return b.ReadData(n)
}

// ReadConstData returns a view that is only valid while m is referenced.
func (m *Message) ReadConstData(n int) ([]byte, error) {
	b, err := m.rbuf()
	if err != nil {
		return nil, err
	}
	return b.ReadConstData(n)
}
