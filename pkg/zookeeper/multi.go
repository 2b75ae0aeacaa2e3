package zookeeper

import (
	"fmt"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// OpType tags the variant held by an Op or MultiResultPart.
type OpType int

const (
	OpCheck OpType = iota + 1
	OpCreate
	OpErase
	OpSet
)

func (t OpType) String() string {
	switch t {
	case OpCheck:
		return "check"
	case OpCreate:
		return "create"
	case OpErase:
		return "erase"
	case OpSet:
		return "set"
	default:
		return fmt.Sprintf("OpType(%d)", int(t))
	}
}

// Op is one step of a transaction. Only the fields of its Type are used:
// check and erase use Version, create uses Data, Mode and ACL, set uses Data
// and Version.
type Op struct {
	Type    OpType
	Path    string
	Data    []byte
	Version Version
	Mode    CreateMode
	ACL     ACL
}

func CheckOp(path string, version Version) Op {
	return Op{Type: OpCheck, Path: path, Version: version}
}

func CreateOp(path string, data []byte, mode CreateMode, acl ACL) Op {
	return Op{Type: OpCreate, Path: path, Data: data, Mode: mode, ACL: acl}
}

func EraseOp(path string, version Version) Op {
	return Op{Type: OpErase, Path: path, Version: version}
}

func SetOp(path string, data []byte, version Version) Op {
	return Op{Type: OpSet, Path: path, Data: data, Version: version}
}

func (o Op) String() string {
	switch o.Type {
	case OpCreate:
		return fmt.Sprintf("create(%s, mode=%s)", o.Path, o.Mode)
	case OpCheck, OpErase, OpSet:
		return fmt.Sprintf("%s(%s, version=%s)", o.Type, o.Path, o.Version)
	default:
		return o.Type.String()
	}
}

func (o Op) validate() error {
	switch o.Type {
	case OpCheck, OpErase, OpSet:
		if err := validateVersion(o.Version.Value()); err != nil {
			return err
		}
		if o.Type == OpCheck {
			return validatePath(o.Path)
		}
		return validateNodePath(o.Path)
	case OpCreate:
		if err := validateCreateMode(o.Mode); err != nil {
			return err
		}
		if err := validateACL(o.ACL); err != nil {
			return err
		}
		return validateCreatePath(o.Path, o.Mode)
	default:
		return errorf(ErrInvalidArguments, "unknown op type %d", int(o.Type))
	}
}

func (o Op) toWire(chroot string) *wire.Frame {
	f := &wire.Frame{Path: prependChroot(chroot, o.Path)}
	switch o.Type {
	case OpCheck:
		f.Op = wire.OpCheck
		f.Version = o.Version.Value()
	case OpCreate:
		f.Op = wire.OpCreate
		if o.Mode.IsContainer() {
			f.Op = wire.OpCreateContainer
		}
		f.Data = o.Data
		f.Mode = int32(o.Mode)
		f.ACL = defaultACL(o.ACL).toWire()
	case OpErase:
		f.Op = wire.OpDelete
		f.Version = o.Version.Value()
	case OpSet:
		f.Op = wire.OpSetData
		f.Data = o.Data
		f.Version = o.Version.Value()
	}
	return f
}

// MultiOp is an ordered batch of Ops committed atomically. The position of an
// op is the index reported when the batch fails.
type MultiOp struct {
	ops []Op
}

func NewMultiOp(ops ...Op) *MultiOp {
	return &MultiOp{ops: append([]Op(nil), ops...)}
}

func (m *MultiOp) Add(op Op) *MultiOp {
	m.ops = append(m.ops, op)
	return m
}

func (m *MultiOp) Check(path string, version Version) *MultiOp {
	return m.Add(CheckOp(path, version))
}

func (m *MultiOp) Create(path string, data []byte, mode CreateMode, acl ACL) *MultiOp {
	return m.Add(CreateOp(path, data, mode, acl))
}

func (m *MultiOp) Erase(path string, version Version) *MultiOp {
	return m.Add(EraseOp(path, version))
}

func (m *MultiOp) Set(path string, data []byte, version Version) *MultiOp {
	return m.Add(SetOp(path, data, version))
}

func (m *MultiOp) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ops)
}

func (m *MultiOp) At(i int) Op {
	return m.ops[i]
}

// Ops returns a copy of the steps in commit order.
func (m *MultiOp) Ops() []Op {
	if m == nil {
		return nil
	}
	return append([]Op(nil), m.ops...)
}

// validate returns a TransactionFailedError for the first step that could
// never succeed.
func (m *MultiOp) validate() error {
	for i, op := range m.Ops() {
		if err := op.validate(); err != nil {
			return &TransactionFailedError{Index: i, Cause: err}
		}
	}
	return nil
}

func (m *MultiOp) toWire(chroot string) []*wire.Frame {
	frames := make([]*wire.Frame, 0, m.Len())
	for _, op := range m.Ops() {
		frames = append(frames, op.toWire(chroot))
	}
	return frames
}

// MultiResultPart is the outcome of one step of a committed transaction.
type MultiResultPart struct {
	Type OpType
	name string
	stat *Stat
}

// Name is the name assigned to a created node, including any sequential
// suffix. It is empty for other op types.
func (p MultiResultPart) Name() string {
	return p.name
}

// Stat is the node metadata after a set step. ok is false for other op types.
func (p MultiResultPart) Stat() (stat Stat, ok bool) {
	if p.stat == nil {
		return Stat{}, false
	}
	return *p.stat, true
}

// MultiResult holds one part per op, in the same order as the MultiOp.
type MultiResult struct {
	parts []MultiResultPart
}

func (r MultiResult) Len() int {
	return len(r.parts)
}

func (r MultiResult) At(i int) MultiResultPart {
	return r.parts[i]
}

func (r MultiResult) Parts() []MultiResultPart {
	return append([]MultiResultPart(nil), r.parts...)
}

// decodeMultiResult turns the response to a multi request into a result, or
// into the failure of the first step the ensemble rejected.
func decodeMultiResult(ops *MultiOp, resp *wire.Frame, chroot string) (MultiResult, error) {
	if resp.Code != wire.CodeOK {
		for i, part := range resp.Ops {
			if part.Code == wire.CodeOK || part.Code == wire.CodeRuntimeInconsistency {
				continue
			}
			return MultiResult{}, &TransactionFailedError{Index: i, Cause: FromCode(part.Code)}
		}
		// The batch never reached the tree, e.g. because the session expired.
		return MultiResult{}, FromCode(resp.Code)
	}
	if len(resp.Ops) != ops.Len() {
		return MultiResult{}, errorf(ErrMarshalling, "multi response has %d results for %d ops", len(resp.Ops), ops.Len())
	}

	parts := make([]MultiResultPart, 0, len(resp.Ops))
	for i, part := range resp.Ops {
		op := ops.At(i)
		p := MultiResultPart{Type: op.Type}
		switch op.Type {
		case OpCreate:
			p.name = stripChroot(chroot, part.Path)
		case OpSet:
			stat := statFromWire(part.Stat)
			p.stat = &stat
		}
		parts = append(parts, p)
	}
	return MultiResult{parts: parts}, nil
}
