package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the frame encoding. Signed integers are zigzag encoded.
const (
	fieldKind      protowire.Number = 1
	fieldXid       protowire.Number = 2
	fieldOp        protowire.Number = 3
	fieldCode      protowire.Number = 4
	fieldPath      protowire.Number = 5
	fieldData      protowire.Number = 6
	fieldVersion   protowire.Number = 7
	fieldMode      protowire.Number = 8
	fieldWatch     protowire.Number = 9
	fieldACL       protowire.Number = 10
	fieldStat      protowire.Number = 11
	fieldChildren  protowire.Number = 12
	fieldOps       protowire.Number = 13
	fieldEventType protowire.Number = 14
	fieldWatchKind protowire.Number = 15
	fieldState     protowire.Number = 16
	fieldSessionID protowire.Number = 17
	fieldTimeout   protowire.Number = 18
	fieldReadOnly  protowire.Number = 19
	fieldZxid      protowire.Number = 20
)

var ErrMalformed = errors.New("wire: malformed frame")

// Marshal encodes the frame in protobuf wire format.
func Marshal(f *Frame) []byte {
	return appendFrame(nil, f)
}

// Unmarshal decodes b into a new frame.
func Unmarshal(b []byte) (*Frame, error) {
	f := &Frame{}
	if err := f.unmarshal(b); err != nil {
		return nil, err
	}
	return f, nil
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendFrame(b []byte, f *Frame) []byte {
	b = appendSint(b, fieldKind, int64(f.Kind))
	b = appendSint(b, fieldXid, f.Xid)
	b = appendSint(b, fieldOp, int64(f.Op))
	b = appendSint(b, fieldCode, int64(f.Code))
	b = appendString(b, fieldPath, f.Path)
	if f.Data != nil {
		b = appendMessage(b, fieldData, f.Data)
	}
	b = appendSint(b, fieldVersion, int64(f.Version))
	b = appendSint(b, fieldMode, int64(f.Mode))
	b = appendBool(b, fieldWatch, f.Watch)
	for _, acl := range f.ACL {
		b = appendMessage(b, fieldACL, appendACL(nil, acl))
	}
	if f.Stat != nil {
		b = appendMessage(b, fieldStat, appendStat(nil, f.Stat))
	}
	for _, child := range f.Children {
		b = protowire.AppendTag(b, fieldChildren, protowire.BytesType)
		b = protowire.AppendString(b, child)
	}
	for _, op := range f.Ops {
		b = appendMessage(b, fieldOps, appendFrame(nil, op))
	}
	b = appendSint(b, fieldEventType, int64(f.EventType))
	b = appendSint(b, fieldWatchKind, int64(f.WatchKind))
	b = appendSint(b, fieldState, int64(f.State))
	b = appendSint(b, fieldSessionID, f.SessionID)
	b = appendSint(b, fieldTimeout, f.TimeoutMS)
	b = appendBool(b, fieldReadOnly, f.ReadOnly)
	b = appendSint(b, fieldZxid, f.Zxid)
	return b
}

func appendACL(b []byte, acl ACL) []byte {
	b = appendSint(b, 1, int64(acl.Perms))
	b = appendString(b, 2, acl.Scheme)
	b = appendString(b, 3, acl.ID)
	return b
}

func appendStat(b []byte, s *Stat) []byte {
	b = appendSint(b, 1, s.Czxid)
	b = appendSint(b, 2, s.Mzxid)
	b = appendSint(b, 3, s.Pzxid)
	b = appendSint(b, 4, s.Ctime)
	b = appendSint(b, 5, s.Mtime)
	b = appendSint(b, 6, int64(s.Version))
	b = appendSint(b, 7, int64(s.Cversion))
	b = appendSint(b, 8, int64(s.Aversion))
	b = appendSint(b, 9, s.EphemeralOwner)
	b = appendSint(b, 10, int64(s.DataLength))
	b = appendSint(b, 11, int64(s.NumChildren))
	// An empty stat still has to be present on the wire.
	if len(b) == 0 {
		b = protowire.AppendTag(b, 12, protowire.VarintType)
		b = protowire.AppendVarint(b, 0)
	}
	return b
}

// field is one decoded tag/value pair. Exactly one of varint or bytes is set
// depending on the wire type.
type field struct {
	num    protowire.Number
	varint uint64
	bytes  []byte
}

func (fl field) sint() int64 {
	return protowire.DecodeZigZag(fl.varint)
}

// eachField walks the fields of a message, skipping types we never emit.
func eachField(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		fl := field{num: num}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			fl.varint = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			fl.bytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if err := fn(fl); err != nil {
			return err
		}
	}
	return nil
}

func (f *Frame) unmarshal(b []byte) error {
	*f = Frame{}
	return eachField(b, func(fl field) error {
		switch fl.num {
		case fieldKind:
			f.Kind = Kind(fl.sint())
		case fieldXid:
			f.Xid = fl.sint()
		case fieldOp:
			f.Op = OpCode(fl.sint())
		case fieldCode:
			f.Code = int32(fl.sint())
		case fieldPath:
			f.Path = string(fl.bytes)
		case fieldData:
			f.Data = append([]byte{}, fl.bytes...)
		case fieldVersion:
			f.Version = int32(fl.sint())
		case fieldMode:
			f.Mode = int32(fl.sint())
		case fieldWatch:
			f.Watch = protowire.DecodeBool(fl.varint)
		case fieldACL:
			acl, err := unmarshalACL(fl.bytes)
			if err != nil {
				return err
			}
			f.ACL = append(f.ACL, acl)
		case fieldStat:
			stat, err := unmarshalStat(fl.bytes)
			if err != nil {
				return err
			}
			f.Stat = stat
		case fieldChildren:
			f.Children = append(f.Children, string(fl.bytes))
		case fieldOps:
			op := &Frame{}
			if err := op.unmarshal(fl.bytes); err != nil {
				return err
			}
			f.Ops = append(f.Ops, op)
		case fieldEventType:
			f.EventType = int32(fl.sint())
		case fieldWatchKind:
			f.WatchKind = int32(fl.sint())
		case fieldState:
			f.State = int32(fl.sint())
		case fieldSessionID:
			f.SessionID = fl.sint()
		case fieldTimeout:
			f.TimeoutMS = fl.sint()
		case fieldReadOnly:
			f.ReadOnly = protowire.DecodeBool(fl.varint)
		case fieldZxid:
			f.Zxid = fl.sint()
		}
		return nil
	})
}

func unmarshalACL(b []byte) (ACL, error) {
	var acl ACL
	err := eachField(b, func(fl field) error {
		switch fl.num {
		case 1:
			acl.Perms = int32(fl.sint())
		case 2:
			acl.Scheme = string(fl.bytes)
		case 3:
			acl.ID = string(fl.bytes)
		}
		return nil
	})
	return acl, err
}

func unmarshalStat(b []byte) (*Stat, error) {
	s := &Stat{}
	err := eachField(b, func(fl field) error {
		switch fl.num {
		case 1:
			s.Czxid = fl.sint()
		case 2:
			s.Mzxid = fl.sint()
		case 3:
			s.Pzxid = fl.sint()
		case 4:
			s.Ctime = fl.sint()
		case 5:
			s.Mtime = fl.sint()
		case 6:
			s.Version = int32(fl.sint())
		case 7:
			s.Cversion = int32(fl.sint())
		case 8:
			s.Aversion = int32(fl.sint())
		case 9:
			s.EphemeralOwner = fl.sint()
		case 10:
			s.DataLength = int32(fl.sint())
		case 11:
			s.NumChildren = int32(fl.sint())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Clone returns a deep copy of the frame by round-tripping it through the
// encoding, the same way it would cross a network boundary.
func (f *Frame) Clone() *Frame {
	c, err := Unmarshal(Marshal(f))
	if err != nil {
		// Marshal output always decodes.
		panic(err)
	}
	return c
}
