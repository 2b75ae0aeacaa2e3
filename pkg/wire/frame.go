package wire

import (
	"go.uber.org/zap/zapcore"
)

// Kind tells the receiver which channel a frame belongs on.
type Kind int32

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// OpCode identifies the operation a request frame carries. The values follow
// the ZooKeeper protocol so they can be mapped onto a real ensemble.
type OpCode int32

const (
	OpNotify          OpCode = 0
	OpCreate          OpCode = 1
	OpDelete          OpCode = 2
	OpExists          OpCode = 3
	OpGetData         OpCode = 4
	OpSetData         OpCode = 5
	OpGetACL          OpCode = 6
	OpSetACL          OpCode = 7
	OpSync            OpCode = 9
	OpPing            OpCode = 11
	OpGetChildren2    OpCode = 12
	OpCheck           OpCode = 13
	OpMulti           OpCode = 14
	OpCreateContainer OpCode = 19
	OpCreateSession   OpCode = -10
	OpCloseSession    OpCode = -11
)

var opNames = map[OpCode]string{
	OpNotify:          "notify",
	OpCreate:          "create",
	OpDelete:          "delete",
	OpExists:          "exists",
	OpGetData:         "getData",
	OpSetData:         "setData",
	OpGetACL:          "getACL",
	OpSetACL:          "setACL",
	OpSync:            "sync",
	OpPing:            "ping",
	OpGetChildren2:    "getChildren2",
	OpCheck:           "check",
	OpMulti:           "multi",
	OpCreateContainer: "createContainer",
	OpCreateSession:   "createSession",
	OpCloseSession:    "closeSession",
}

func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

// IsWrite reports whether the op mutates the tree.
func (o OpCode) IsWrite() bool {
	switch o {
	case OpCreate, OpCreateContainer, OpDelete, OpSetData, OpSetACL, OpCheck, OpMulti:
		return true
	}
	return false
}

// Reserved xids.
const (
	NotificationXid int64 = -1
	PingXid         int64 = -2
)

// Result codes.
const (
	CodeOK                      int32 = 0
	CodeSystemError             int32 = -1
	CodeRuntimeInconsistency    int32 = -2
	CodeDataInconsistency       int32 = -3
	CodeConnectionLoss          int32 = -4
	CodeMarshallingError        int32 = -5
	CodeUnimplemented           int32 = -6
	CodeOperationTimeout        int32 = -7
	CodeBadArguments            int32 = -8
	CodeInvalidState            int32 = -9
	CodeUnknownSession          int32 = -12
	CodeNewConfigNoQuorum       int32 = -13
	CodeReconfigInProgress      int32 = -14
	CodeAPIError                int32 = -100
	CodeNoNode                  int32 = -101
	CodeNoAuth                  int32 = -102
	CodeBadVersion              int32 = -103
	CodeNoChildrenForEphemerals int32 = -108
	CodeNodeExists              int32 = -110
	CodeNotEmpty                int32 = -111
	CodeSessionExpired          int32 = -112
	CodeInvalidCallback         int32 = -113
	CodeInvalidACL              int32 = -114
	CodeAuthFailed              int32 = -115
	CodeClosing                 int32 = -116
	CodeNothing                 int32 = -117
	CodeSessionMoved            int32 = -118
	CodeNotReadOnly             int32 = -119
	CodeEphemeralOnLocalSession int32 = -120
	CodeNoWatcher               int32 = -121
	CodeReconfigDisabled        int32 = -123
)

// Create mode bits.
const (
	ModeEphemeral  int32 = 1
	ModeSequential int32 = 2
	ModeContainer  int32 = 4
)

// Notification event types.
const (
	EventCreated         int32 = 1
	EventDeleted         int32 = 2
	EventDataChanged     int32 = 3
	EventChildrenChanged int32 = 4
	EventSession         int32 = -1
	EventNotWatching     int32 = -2
)

// Watch kinds carried by not-watching notifications. Zero means every kind.
const (
	WatchKindData  int32 = 1
	WatchKindExist int32 = 2
	WatchKindChild int32 = 3
)

// Session states carried by state frames.
const (
	StateClosed               int32 = 0
	StateConnecting           int32 = 1
	StateAssociating          int32 = 2
	StateConnected            int32 = 3
	StateReadOnly             int32 = 5
	StateExpiredSession       int32 = -112
	StateAuthenticationFailed int32 = -113
)

// ACL is a single access rule as carried on the wire.
type ACL struct {
	Perms  int32
	Scheme string
	ID     string
}

// Stat is the node metadata as carried on the wire. Times are unix millis.
type Stat struct {
	Czxid          int64
	Mzxid          int64
	Pzxid          int64
	Ctime          int64
	Mtime          int64
	Version        int32
	Cversion       int32
	Aversion       int32
	EphemeralOwner int64
	DataLength     int32
	NumChildren    int32
}

// Frame is the single message type exchanged between a session client and
// the ensemble. Which fields are meaningful depends on Kind and Op.
type Frame struct {
	Kind Kind
	Xid  int64
	Zxid int64
	Op   OpCode
	Code int32

	Path     string
	Data     []byte
	Version  int32
	Mode     int32
	Watch    bool
	ACL      []ACL
	Stat     *Stat
	Children []string
	// Ops holds the steps of a multi request or the per-step results of a
	// multi response.
	Ops []*Frame

	EventType int32
	WatchKind int32
	State     int32

	SessionID int64
	TimeoutMS int64
	ReadOnly  bool
}

// Reply builds the response frame for a request, echoing its xid and op.
func (f *Frame) Reply(code int32) *Frame {
	return &Frame{
		Kind: KindResponse,
		Xid:  f.Xid,
		Op:   f.Op,
		Code: code,
	}
}

func (f *Frame) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", f.Kind.String())
	switch f.Kind {
	case KindRequest, KindResponse:
		enc.AddInt64("xid", f.Xid)
		enc.AddString("op", f.Op.String())
		if f.Kind == KindResponse {
			enc.AddInt32("code", f.Code)
		}
		if f.Path != "" {
			enc.AddString("path", f.Path)
		}
		if len(f.Ops) > 0 {
			enc.AddInt("ops", len(f.Ops))
		}
	case KindNotification:
		enc.AddString("path", f.Path)
		enc.AddInt32("eventType", f.EventType)
	case KindState:
		enc.AddInt32("state", f.State)
		if f.SessionID != 0 {
			enc.AddInt64("sessionID", f.SessionID)
		}
	}
	return nil
}
