// Package wire implements the osyncq payload codec and frame format.
//
// All integers are fixed-width and use the host's native byte order: both
// ends of a queue always run on the same machine. Strings carry a length
// prefix that counts a trailing NUL (-1 encodes a null string); buffers carry
// a plain length prefix. Nothing in this package performs I/O except the
// frame helpers, which only see an io.Reader or io.Writer.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snehjoshi/osyncq/internal/types"
)

// ErrShortRead is wrapped by every read that runs past the end of a buffer.
// The surrounding error is classified as types.KindProtocol.
var ErrShortRead = errors.New("wire: short read")

var order = binary.NativeEndian

// Buffer is a growable byte slice with an independent read cursor.
// Writes always append; reads consume from the cursor and never shrink the
// underlying slice. A Buffer is not safe for concurrent use.
type Buffer struct {
	buf []byte
	pos int
}

// NewBuffer returns an empty Buffer with capacity for sizeHint bytes.
func NewBuffer(sizeHint int) *Buffer {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Buffer{buf: make([]byte, 0, sizeHint)}
}

// FromBytes wraps b for reading. The Buffer takes ownership of b.
func FromBytes(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the full encoded contents, independent of the cursor.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the number of encoded bytes.
func (b *Buffer) Len() int { return len(b.buf) }

// Pos returns the read cursor.
func (b *Buffer) Pos() int { return b.pos }

// Remaining returns the number of bytes between the cursor and the end.
func (b *Buffer) Remaining() int { return len(b.buf) - b.pos }

// Rewind moves the read cursor back to the start.
func (b *Buffer) Rewind() { b.pos = 0 }

// ─── write path ───────────────────────────────────────────────────────────────

// WriteInt appends a 32-bit signed integer.
func (b *Buffer) WriteInt(v int32) {
	b.buf = order.AppendUint32(b.buf, uint32(v))
}

// WriteUint appends a 32-bit unsigned integer.
func (b *Buffer) WriteUint(v uint32) {
	b.buf = order.AppendUint32(b.buf, v)
}

// WriteLong appends a 64-bit signed integer.
func (b *Buffer) WriteLong(v int64) {
	b.buf = order.AppendUint64(b.buf, uint64(v))
}

// WriteString appends a nullable string. nil is encoded as length -1 with no
// bytes; otherwise the length includes the trailing NUL that follows the text.
func (b *Buffer) WriteString(s *string) {
	if s == nil {
		b.WriteInt(-1)
		return
	}
	b.WriteStringValue(*s)
}

// WriteStringValue appends a non-null string.
func (b *Buffer) WriteStringValue(s string) {
	b.WriteInt(int32(len(s) + 1))
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
}

// WriteBuffer appends a length-prefixed byte blob. A nil or empty slice is
// encoded as length 0; there is no null form.
func (b *Buffer) WriteBuffer(p []byte) {
	b.WriteInt(int32(len(p)))
	b.buf = append(b.buf, p...)
}

// WriteData appends p verbatim with no length prefix. The reader must know
// the size from surrounding structure.
func (b *Buffer) WriteData(p []byte) {
	b.buf = append(b.buf, p...)
}

// ─── read path ────────────────────────────────────────────────────────────────

// need verifies n bytes are available at the cursor without moving it.
func (b *Buffer) need(n int, what string) error {
	if n < 0 || b.Remaining() < n {
		return types.WrapError(types.KindProtocol,
			fmt.Errorf("%w: %s needs %d bytes at offset %d, %d remain",
				ErrShortRead, what, n, b.pos, b.Remaining()))
	}
	return nil
}

// take returns a view of the next n bytes and advances the cursor.
func (b *Buffer) take(n int, what string) ([]byte, error) {
	if err := b.need(n, what); err != nil {
		return nil, err
	}
	p := b.buf[b.pos : b.pos+n : b.pos+n]
	b.pos += n
	return p, nil
}

// ReadInt consumes a 32-bit signed integer.
func (b *Buffer) ReadInt() (int32, error) {
	p, err := b.take(4, "int")
	if err != nil {
		return 0, err
	}
	return int32(order.Uint32(p)), nil
}

// ReadUint consumes a 32-bit unsigned integer.
func (b *Buffer) ReadUint() (uint32, error) {
	p, err := b.take(4, "uint")
	if err != nil {
		return 0, err
	}
	return order.Uint32(p), nil
}

// ReadLong consumes a 64-bit signed integer.
func (b *Buffer) ReadLong() (int64, error) {
	p, err := b.take(8, "long")
	if err != nil {
		return 0, err
	}
	return int64(order.Uint64(p)), nil
}

// ReadConstString consumes a string and returns a view of its bytes without
// the trailing NUL. A null string returns (nil, nil). The view aliases the
// buffer and must not outlive it.
func (b *Buffer) ReadConstString() ([]byte, error) {
	start := b.pos
	n, err := b.ReadInt()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		b.pos = start
		return nil, types.NewError(types.KindProtocol, "wire: invalid string length %d at offset %d", n, start)
	}
	p, err := b.take(int(n), "string")
	if err != nil {
		b.pos = start
		return nil, err
	}
	if n > 0 && p[n-1] == 0 {
		p = p[:n-1]
	}
	return p, nil
}

// ReadString consumes a nullable string into a fresh copy. A null string
// returns (nil, nil).
func (b *Buffer) ReadString() (*string, error) {
	p, err := b.ReadConstString()
	if err != nil || p == nil {
		return nil, err
	}
	s := string(p)
	return &s, nil
}

// ReadStringValue is ReadString with null mapped to "".
func (b *Buffer) ReadStringValue() (string, error) {
	p, err := b.ReadConstString()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadConstBuffer consumes a length-prefixed blob and returns a view of it.
func (b *Buffer) ReadConstBuffer() ([]byte, error) {
	start := b.pos
	n, err := b.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		b.pos = start
		return nil, types.NewError(types.KindProtocol, "wire: invalid buffer length %d at offset %d", n, start)
	}
	p, err := b.take(int(n), "buffer")
	if err != nil {
		b.pos = start
		return nil, err
	}
	return p, nil
}

// ReadBuffer consumes a length-prefixed blob into a fresh copy.
func (b *Buffer) ReadBuffer() ([]byte, error) {
	p, err := b.ReadConstBuffer()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p...), nil
}

// ReadConstData consumes exactly n unprefixed bytes and returns a view.
func (b *Buffer) ReadConstData(n int) ([]byte, error) {
	return b.take(n, "data")
}

// ReadData consumes exactly n unprefixed bytes into a fresh copy.
func (b *Buffer) ReadData(n int) ([]byte, error) {
	p, err := b.take(n, "data")
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p...), nil
}
