package message

import (
	"fmt"

	"github.com/snehjoshi/osyncq/internal/types"
)

// ChangeType describes what happened to an item between two syncs.
type ChangeType int32

const (
	ChangeUnknown ChangeType = iota
	ChangeAdded
	ChangeUnmodified
	ChangeDeleted
	ChangeModified
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeUnmodified:
		return "unmodified"
	case ChangeDeleted:
		return "deleted"
	case ChangeModified:
		return "modified"
	default:
		return "unknown"
	}
}

// Data is an opaque object payload tagged with its format and object type.
// The transport never looks inside Bytes.
type Data struct {
	Format  string
	ObjType string
	Bytes   []byte
}

// Change is one item change reported by, or committed to, a member.
type Change struct {
	UID  string
	Hash string
	Type ChangeType
	Data Data
}

// ObjTypeSink advertises an object type a member can handle and the formats
// it accepts for it.
type ObjTypeSink struct {
	Name    string
	Formats []string
	Enabled bool
}

// WriteObjData encodes d as format, objtype, size, then the raw bytes.
func (m *Message) WriteObjData(d Data) {
	m.WriteStringValue(d.Format)
	m.WriteStringValue(d.ObjType)
	m.WriteInt(int32(len(d.Bytes)))
	if len(d.Bytes) > 0 {
		m.WriteData(d.Bytes)
	}
}

// ReadObjData decodes a Data written by WriteObjData.
func (m *Message) ReadObjData() (Data, error) {
	var d Data
	var err error
	if d.Format, err = m.ReadStringValue(); err != nil {
		return Data{}, fmt.Errorf("data format: %w", err)
	}
	if d.ObjType, err = m.ReadStringValue(); err != nil {
		return Data{}, fmt.Errorf("data objtype: %w", err)
	}
	n, err := m.ReadInt()
	if err != nil {
		return Data{}, fmt.Errorf("data size: %w", err)
	}
	if n < 0 {
		return Data{}, types.NewError(types.KindProtocol, "message: negative data size %d", n)
	}
	if n > 0 {
		if d.Bytes, err = m.ReadData(int(n)); err != nil {
			return Data{}, fmt.Errorf("data bytes: %w", err)
		}
	}
	return d, nil
}

// WriteChange encodes c as uid, hash, change type, then its data.
func (m *Message) WriteChange(c Change) {
	m.WriteStringValue(c.UID)
	m.WriteStringValue(c.Hash)
	m.WriteInt(int32(c.Type))
	m.WriteObjData(c.Data)
}

// ReadChange decodes a Change written by WriteChange.
func (m *Message) ReadChange() (Change, error) {
	var c Change
	var err error
	if c.UID, err = m.ReadStringValue(); err != nil {
		return Change{}, fmt.Errorf("change uid: %w", err)
	}
	if c.Hash, err = m.ReadStringValue(); err != nil {
		return Change{}, fmt.Errorf("change hash: %w", err)
	}
	t, err := m.ReadInt()
	if err != nil {
		return Change{}, fmt.Errorf("change type: %w", err)
	}
	c.Type = ChangeType(t)
	if c.Data, err = m.ReadObjData(); err != nil {
		return Change{}, err
	}
	return c, nil
}

// WriteObjTypeSink encodes s as name, format count, each format, enabled.
func (m *Message) WriteObjTypeSink(s ObjTypeSink) {
	m.WriteStringValue(s.Name)
	m.WriteInt(int32(len(s.Formats)))
	for _, f := range s.Formats {
		m.WriteStringValue(f)
	}
	var enabled int32
	if s.Enabled {
		enabled = 1
	}
	m.WriteInt(enabled)
}

// ReadObjTypeSink decodes an ObjTypeSink written by WriteObjTypeSink.
func (m *Message) ReadObjTypeSink() (ObjTypeSink, error) {
	var s ObjTypeSink
	var err error
	if s.Name, err = m.ReadStringValue(); err != nil {
		return ObjTypeSink{}, fmt.Errorf("sink name: %w", err)
	}
	n, err := m.ReadInt()
	if err != nil {
		return ObjTypeSink{}, fmt.Errorf("sink format count: %w", err)
	}
	if n < 0 {
		return ObjTypeSink{}, types.NewError(types.KindProtocol, "message: negative format count %d", n)
	}
	for i := int32(0); i < n; i++ {
		f, err := m.ReadStringValue()
		if err != nil {
			return ObjTypeSink{}, fmt.Errorf("sink format %d: %w", i, err)
		}
		s.Formats = append(s.Formats, f)
	}
	enabled, err := m.ReadInt()
	if err != nil {
		return ObjTypeSink{}, fmt.Errorf("sink enabled: %w", err)
	}
	s.Enabled = enabled != 0
	return s, nil
}
