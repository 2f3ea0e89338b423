package message

import (
	"errors"

	"github.com/snehjoshi/osyncq/internal/types"
	"github.com/snehjoshi/osyncq/internal/wire"
)

// MarshalError appends err to b as
//
//	[hasError : int][kind : int][message : string]
//
// where kind and message are only present when hasError is 1.
func MarshalError(b *wire.Buffer, err error) {
	if err == nil {
		b.WriteInt(0)
		return
	}
	b.WriteInt(1)
	var e *types.Error
	if errors.As(err, &e) {
		b.WriteInt(int32(e.Kind))
		b.WriteStringValue(e.Message)
		return
	}
	b.WriteInt(int32(types.KindGeneric))
	b.WriteStringValue(err.Error())
}

// DemarshalError reads an error written by MarshalError. A marshaled "no
// error" returns (nil, nil); a malformed payload returns the read error.
func DemarshalError(b *wire.Buffer) (*types.Error, error) {
	has, err := b.ReadInt()
	if err != nil {
		return nil, err
	}
	if has == 0 {
		return nil, nil
	}
	kind, err := b.ReadInt()
	if err != nil {
		return nil, err
	}
	msg, err := b.ReadStringValue()
	if err != nil {
		return nil, err
	}
	return &types.Error{Kind: types.ErrorKind(kind), Message: msg}, nil
}

// WriteError marshals err into m's payload.
func (m *Message) WriteError(err error) { MarshalError(m.buf(), err) }

// ReadError consumes an error marshaled into m's payload at the cursor.
func (m *Message) ReadError() (*types.Error, error) {
	b, err := m.rbuf()
	if err != nil {
		return nil, err
	}
	return DemarshalError(b)
}
