package zookeeper

import (
	"fmt"
	"strings"
	"time"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// Stat is the metadata snapshot returned with reads and writes. A new Stat is
// produced for every result.
type Stat struct {
	CreateTransaction      TransactionID
	ModifyTransaction      TransactionID
	ChildModifyTransaction TransactionID
	CreateTime             time.Time
	ModifyTime             time.Time
	DataVersion            Version
	ACLVersion             ACLVersion
	ChildVersion           ChildVersion
	EphemeralOwner         int64
	DataSize               int32
	ChildrenCount          int32
}

// IsEphemeral reports whether the node is owned by a session.
func (s Stat) IsEphemeral() bool {
	return s.EphemeralOwner != 0
}

func (s Stat) String() string {
	return fmt.Sprintf("{czxid=%s mzxid=%s pzxid=%s version=%s aversion=%s cversion=%s children=%d size=%d owner=%#x}",
		s.CreateTransaction, s.ModifyTransaction, s.ChildModifyTransaction,
		s.DataVersion, s.ACLVersion, s.ChildVersion,
		s.ChildrenCount, s.DataSize, s.EphemeralOwner)
}

func statFromWire(s *wire.Stat) Stat {
	if s == nil {
		return Stat{}
	}
	return Stat{
		CreateTransaction:      NewTransactionID(s.Czxid),
		ModifyTransaction:      NewTransactionID(s.Mzxid),
		ChildModifyTransaction: NewTransactionID(s.Pzxid),
		CreateTime:             time.UnixMilli(s.Ctime),
		ModifyTime:             time.UnixMilli(s.Mtime),
		DataVersion:            NewVersion(s.Version),
		ACLVersion:             NewACLVersion(s.Aversion),
		ChildVersion:           NewChildVersion(s.Cversion),
		EphemeralOwner:         s.EphemeralOwner,
		DataSize:               s.DataLength,
		ChildrenCount:          s.NumChildren,
	}
}

// CreateMode is a set of flags controlling how a node is created.
type CreateMode int32

const (
	Normal     CreateMode = 0
	Ephemeral  CreateMode = CreateMode(wire.ModeEphemeral)
	Sequential CreateMode = CreateMode(wire.ModeSequential)
	// Container nodes are removed by the ensemble once their last child is
	// erased. Container cannot be combined with other flags.
	Container CreateMode = CreateMode(wire.ModeContainer)

	createModeMask = Ephemeral | Sequential | Container
)

func (m CreateMode) IsEphemeral() bool  { return m&Ephemeral != 0 }
func (m CreateMode) IsSequential() bool { return m&Sequential != 0 }
func (m CreateMode) IsContainer() bool  { return m&Container != 0 }

func (m CreateMode) String() string {
	if m == Normal {
		return "normal"
	}
	var parts []string
	if m.IsEphemeral() {
		parts = append(parts, "ephemeral")
	}
	if m.IsSequential() {
		parts = append(parts, "sequential")
	}
	if m.IsContainer() {
		parts = append(parts, "container")
	}
	if rest := m &^ createModeMask; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", int32(rest)))
	}
	return strings.Join(parts, "|")
}

// EventType is the kind of change a watch reports.
type EventType int32

const (
	EventError       EventType = 0
	EventCreated     EventType = EventType(wire.EventCreated)
	EventErased      EventType = EventType(wire.EventDeleted)
	EventChanged     EventType = EventType(wire.EventDataChanged)
	EventChild       EventType = EventType(wire.EventChildrenChanged)
	EventSession     EventType = EventType(wire.EventSession)
	EventNotWatching EventType = EventType(wire.EventNotWatching)
)

func (e EventType) String() string {
	switch e {
	case EventError:
		return "error"
	case EventCreated:
		return "created"
	case EventErased:
		return "erased"
	case EventChanged:
		return "changed"
	case EventChild:
		return "child"
	case EventSession:
		return "session"
	case EventNotWatching:
		return "not_watching"
	default:
		return fmt.Sprintf("EventType(%d)", int32(e))
	}
}

// State is the state of the session as seen by the connection.
type State int32

const (
	StateClosed               State = State(wire.StateClosed)
	StateConnecting           State = State(wire.StateConnecting)
	StateAssociating          State = State(wire.StateAssociating)
	StateConnected            State = State(wire.StateConnected)
	StateReadOnly             State = State(wire.StateReadOnly)
	StateExpiredSession       State = State(wire.StateExpiredSession)
	StateAuthenticationFailed State = State(wire.StateAuthenticationFailed)
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateAssociating:
		return "associating"
	case StateConnected:
		return "connected"
	case StateReadOnly:
		return "read_only"
	case StateExpiredSession:
		return "expired_session"
	case StateAuthenticationFailed:
		return "authentication_failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// IsTerminal reports whether the session can no longer be used.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateExpiredSession || s == StateAuthenticationFailed
}

// WatchKind names the table a watch lives in.
type WatchKind int32

const (
	WatchData  WatchKind = WatchKind(wire.WatchKindData)
	WatchExist WatchKind = WatchKind(wire.WatchKindExist)
	WatchChild WatchKind = WatchKind(wire.WatchKindChild)
)

func (k WatchKind) String() string {
	switch k {
	case WatchData:
		return "data"
	case WatchExist:
		return "exist"
	case WatchChild:
		return "child"
	default:
		return "any"
	}
}

// Event is delivered once per watch registration.
type Event struct {
	Type  EventType
	State State
	Path  string
}

func (e Event) String() string {
	return fmt.Sprintf("{type=%s state=%s path=%s}", e.Type, e.State, e.Path)
}
