package journal

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/snehjoshi/osyncq/internal/types"
)

// Direction says what kind of event an Entry records.
type Direction uint8

const (
	DirSent Direction = iota + 1
	DirReceived
	DirResolved
	DirEvent
)

func (d Direction) String() string {
	switch d {
	case DirSent:
		return "sent"
	case DirReceived:
		return "received"
	case DirResolved:
		return "resolved"
	case DirEvent:
		return "event"
	default:
		return "unknown"
	}
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText decodes a direction name produced by MarshalText.
func (d *Direction) UnmarshalText(b []byte) error {
	for c := DirSent; c <= DirEvent; c++ {
		if c.String() == string(b) {
			*d = c
			return nil
		}
	}
	return fmt.Errorf("journal: unknown direction %q", b)
}

// Entry is one journal record.
type Entry struct {
	// Key is the record's ULID. It is empty until the record is stored.
	Key       string          `json:"key"`
	Time      time.Time       `json:"time"`
	Direction Direction       `json:"direction"`
	Queue     string          `json:"queue"`
	Command   types.Command   `json:"command"`
	ID        int64           `json:"id"`
	Size      int32           `json:"size"`
	Kind      types.ErrorKind `json:"kind"`
}

// ---- serialisation helpers -------------------------------------------------
// Entry is serialised as a compact binary structure:
//
//	[direction : 1 byte           ]
//	[command   : 4 bytes, int32   ]
//	[id        : 8 bytes, int64   ]
//	[size      : 4 bytes, int32   ]
//	[kind      : 4 bytes, int32   ]
//	[unixMs    : 8 bytes, int64   ]
//	[queueLen  : 2 bytes, uint16  ]
//	[queue     : queueLen bytes   ]
//
// The key carries the time too, at millisecond precision; unixMs keeps the
// caller's timestamp when it was supplied explicitly.

const fixedLen = 1 + 4 + 8 + 4 + 4 + 8 + 2

func marshalEntry(e Entry) []byte {
	q := e.Queue
	if len(q) > 0xffff {
		q = q[:0xffff]
	}
	buf := make([]byte, fixedLen+len(q))
	buf[0] = uint8(e.Direction)
	binary.BigEndian.PutUint32(buf[1:], uint32(e.Command))
	binary.BigEndian.PutUint64(buf[5:], uint64(e.ID))
	binary.BigEndian.PutUint32(buf[13:], uint32(e.Size))
	binary.BigEndian.PutUint32(buf[17:], uint32(e.Kind))
	binary.BigEndian.PutUint64(buf[21:], uint64(e.Time.UnixMilli()))
	binary.BigEndian.PutUint16(buf[29:], uint16(len(q)))
	copy(buf[fixedLen:], q)
	return buf
}

func unmarshalEntry(buf []byte) (Entry, error) {
	if len(buf) < fixedLen {
		return Entry{}, fmt.Errorf("journal: entry too short (%d bytes)", len(buf))
	}
	qLen := int(binary.BigEndian.Uint16(buf[29:]))
	if qLen > len(buf)-fixedLen {
		return Entry{}, fmt.Errorf("journal: queue length %d exceeds buffer", qLen)
	}
	return Entry{
		Direction: Direction(buf[0]),
		Command:   types.Command(int32(binary.BigEndian.Uint32(buf[1:]))),
		ID:        int64(binary.BigEndian.Uint64(buf[5:])),
		Size:      int32(binary.BigEndian.Uint32(buf[13:])),
		Kind:      types.ErrorKind(int32(binary.BigEndian.Uint32(buf[17:]))),
		Time:      time.UnixMilli(int64(binary.BigEndian.Uint64(buf[21:]))),
		Queue:     string(buf[fixedLen : fixedLen+qLen]),
	}, nil
}

// decode builds an Entry from a stored key/value pair.
func decode(k, v []byte) (Entry, error) {
	e, err := unmarshalEntry(v)
	if err != nil {
		return Entry{}, err
	}
	var id ulid.ULID
	if len(k) != len(id) {
		return Entry{}, fmt.Errorf("journal: bad key length %d", len(k))
	}
	copy(id[:], k)
	e.Key = id.String()
	return e, nil
}
