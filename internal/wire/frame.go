package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/snehjoshi/osyncq/internal/types"
)

// HeaderSize is the fixed size of a frame header:
//
//	[payload size : int32][command : int32][correlation id : int64]
const HeaderSize = 16

// MaxPayload is the default upper bound on a single frame's payload.
const MaxPayload = 64 << 20

// Header is the decoded fixed part of a frame.
type Header struct {
	Size    int32
	Command types.Command
	ID      int64
}

// AppendHeader appends the encoded header to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = order.AppendUint32(dst, uint32(h.Size))
	dst = order.AppendUint32(dst, uint32(h.Command))
	return order.AppendUint64(dst, uint64(h.ID))
}

// DecodeHeader parses a header from the first HeaderSize bytes of p.
func DecodeHeader(p []byte) (Header, error) {
	if len(p) < HeaderSize {
		return Header{}, types.WrapError(types.KindProtocol,
			fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortRead, HeaderSize, len(p)))
	}
	return Header{
		Size:    int32(order.Uint32(p[0:4])),
		Command: types.Command(int32(order.Uint32(p[4:8]))),
		ID:      int64(order.Uint64(p[8:16])),
	}, nil
}

// WriteFrame writes header and payload to w with a single Write call so that
// a frame is never interleaved with another writer's bytes on a pipe.
// h.Size is overwritten with len(payload).
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	h.Size = int32(len(payload))
	frame := make([]byte, 0, HeaderSize+len(payload))
	frame = AppendHeader(frame, h)
	frame = append(frame, payload...)
	if _, err := w.Write(frame); err != nil {
		return types.WrapError(types.KindIO, fmt.Errorf("write frame: %w", err))
	}
	return nil
}

// ReadFrame reads one frame from r.
//
// A clean end of stream before the first header byte returns io.EOF as is.
// End of stream anywhere inside a frame is an I/O error wrapping
// io.ErrUnexpectedEOF. A negative size, an unknown command or a size above
// maxPayload (MaxPayload when maxPayload <= 0) is a protocol error.
func ReadFrame(r io.Reader, maxPayload int) (Header, []byte, error) {
	if maxPayload <= 0 {
		maxPayload = MaxPayload
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, readErr(err)
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return Header{}, nil, err
	}
	if h.Size < 0 || int(h.Size) > maxPayload {
		return h, nil, types.NewError(types.KindProtocol, "wire: frame size %d out of range", h.Size)
	}
	if !h.Command.Valid() {
		return h, nil, types.NewError(types.KindProtocol, "wire: unknown command %d", int32(h.Command))
	}

	payload := make([]byte, h.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return h, nil, readErr(err)
	}
	return h, payload, nil
}

func readErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		e := types.WrapError(types.KindIO, io.ErrUnexpectedEOF)
		e.Message = "encountered EOF while data was missing"
		return e
	}
	return types.WrapError(types.KindIO, fmt.Errorf("read frame: %w", err))
}
