package zookeeper

import (
	"errors"
	"fmt"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// Category groups failures by what the caller can do about them.
type Category int

const (
	UnknownError Category = iota
	CheckFailed
	InvalidArguments
	InvalidConnectionState
	InvalidEnsembleState
	TransportError
	NotImplemented
)

func (c Category) String() string {
	switch c {
	case CheckFailed:
		return "check failed"
	case InvalidArguments:
		return "invalid arguments"
	case InvalidConnectionState:
		return "invalid connection state"
	case InvalidEnsembleState:
		return "invalid ensemble state"
	case TransportError:
		return "transport error"
	case NotImplemented:
		return "not implemented"
	default:
		return "unknown error"
	}
}

// Error is a failure reported by the ensemble or detected locally. Code is the
// result code that produced it. Two errors match under errors.Is when they are
// the same kind of failure, even if the ensemble reported different codes for
// it (operation timeouts and moved sessions are both connection loss).
type Error struct {
	Code     int32
	Category Category
	Message  string
	kind     int32
}

func (e *Error) Error() string {
	return fmt.Sprintf("zookeeper: %s: %s (code %d)", e.Category, e.Message, e.Code)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

func newError(category Category, code int32, message string) *Error {
	return &Error{Code: code, Category: category, Message: message, kind: code}
}

var (
	ErrNoEntry                 = newError(CheckFailed, wire.CodeNoNode, "node does not exist")
	ErrEntryExists             = newError(CheckFailed, wire.CodeNodeExists, "node already exists")
	ErrVersionMismatch         = newError(CheckFailed, wire.CodeBadVersion, "version mismatch")
	ErrNotEmpty                = newError(CheckFailed, wire.CodeNotEmpty, "node has children")
	ErrNoChildrenForEphemerals = newError(CheckFailed, wire.CodeNoChildrenForEphemerals, "ephemeral nodes may not have children")

	ErrAuthenticationFailed = newError(InvalidArguments, wire.CodeAuthFailed, "authentication failed")
	ErrInvalidArguments     = newError(InvalidArguments, wire.CodeBadArguments, "invalid arguments")

	ErrClosed                  = newError(InvalidConnectionState, wire.CodeClosing, "connection is closed")
	ErrSessionExpired          = newError(InvalidConnectionState, wire.CodeSessionExpired, "session expired")
	ErrNotAuthorized           = newError(InvalidConnectionState, wire.CodeNoAuth, "not authorized")
	ErrReadOnlyConnection      = newError(InvalidConnectionState, wire.CodeNotReadOnly, "connection is read-only")
	ErrEphemeralOnLocalSession = newError(InvalidConnectionState, wire.CodeEphemeralOnLocalSession, "ephemeral nodes need a global session")

	ErrNewConfigurationNoQuorum  = newError(InvalidEnsembleState, wire.CodeNewConfigNoQuorum, "new configuration has no quorum")
	ErrReconfigurationInProgress = newError(InvalidEnsembleState, wire.CodeReconfigInProgress, "reconfiguration in progress")
	ErrReconfigurationDisabled   = newError(InvalidEnsembleState, wire.CodeReconfigDisabled, "reconfiguration is disabled")

	ErrConnectionLoss    = newError(TransportError, wire.CodeConnectionLoss, "connection lost")
	ErrMarshalling       = newError(TransportError, wire.CodeMarshallingError, "marshalling error")
	ErrNotImplemented    = newError(NotImplemented, wire.CodeUnimplemented, "not implemented")
	ErrTransactionFailed = errors.New("zookeeper: transaction failed")
)

// canonical maps every code that folds into another failure kind.
var canonical = map[int32]*Error{
	wire.CodeNoNode:                  ErrNoEntry,
	wire.CodeNodeExists:              ErrEntryExists,
	wire.CodeBadVersion:              ErrVersionMismatch,
	wire.CodeNotEmpty:                ErrNotEmpty,
	wire.CodeNoChildrenForEphemerals: ErrNoChildrenForEphemerals,
	wire.CodeAuthFailed:              ErrAuthenticationFailed,
	wire.CodeBadArguments:            ErrInvalidArguments,
	wire.CodeInvalidCallback:         ErrInvalidArguments,
	wire.CodeInvalidACL:              ErrInvalidArguments,
	wire.CodeClosing:                 ErrClosed,
	wire.CodeInvalidState:            ErrClosed,
	wire.CodeSessionExpired:          ErrSessionExpired,
	wire.CodeUnknownSession:          ErrSessionExpired,
	wire.CodeNoAuth:                  ErrNotAuthorized,
	wire.CodeNotReadOnly:             ErrReadOnlyConnection,
	wire.CodeEphemeralOnLocalSession: ErrEphemeralOnLocalSession,
	wire.CodeNewConfigNoQuorum:       ErrNewConfigurationNoQuorum,
	wire.CodeReconfigInProgress:      ErrReconfigurationInProgress,
	wire.CodeReconfigDisabled:        ErrReconfigurationDisabled,
	wire.CodeConnectionLoss:          ErrConnectionLoss,
	wire.CodeOperationTimeout:        ErrConnectionLoss,
	wire.CodeSessionMoved:            ErrConnectionLoss,
	wire.CodeMarshallingError:        ErrMarshalling,
	wire.CodeUnimplemented:           ErrNotImplemented,
}

// FromCode translates a result code into an error. It returns nil for
// CodeOK.
func FromCode(code int32) error {
	if code == wire.CodeOK {
		return nil
	}
	if base, ok := canonical[code]; ok {
		return &Error{Code: code, Category: base.Category, Message: base.Message, kind: base.kind}
	}
	return newError(UnknownError, code, "unrecognized result code")
}

// errorf builds an error of the same kind as base with a specific message.
func errorf(base *Error, format string, args ...any) *Error {
	return &Error{
		Code:     base.Code,
		Category: base.Category,
		Message:  fmt.Sprintf(format, args...),
		kind:     base.kind,
	}
}

// TransactionFailedError reports which step of a MultiOp made the ensemble
// reject the whole batch.
type TransactionFailedError struct {
	Index int
	Cause error
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("zookeeper: transaction failed at op %d: %v", e.Index, e.Cause)
}

func (e *TransactionFailedError) Unwrap() error {
	return e.Cause
}

func (e *TransactionFailedError) Is(target error) bool {
	return target == ErrTransactionFailed
}

// CategoryOf returns the category of err. Transaction failures are always
// CheckFailed regardless of the step's own cause.
func CategoryOf(err error) Category {
	var txnErr *TransactionFailedError
	if errors.As(err, &txnErr) {
		return CheckFailed
	}
	var zkErr *Error
	if errors.As(err, &zkErr) {
		return zkErr.Category
	}
	return UnknownError
}

// CodeOf returns the result code carried by err, or CodeSystemError when err
// did not come from this package.
func CodeOf(err error) int32 {
	var zkErr *Error
	if errors.As(err, &zkErr) {
		return zkErr.Code
	}
	return wire.CodeSystemError
}
