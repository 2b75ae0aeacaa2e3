package gozk

import (
	"errors"
	"fmt"

	"github.com/go-zookeeper/zk"
	"github.com/mikekulinski/zkasync/pkg/wire"
)

var errorCodes = []struct {
	err  error
	code int32
}{
	{zk.ErrNoNode, wire.CodeNoNode},
	{zk.ErrNoAuth, wire.CodeNoAuth},
	{zk.ErrBadVersion, wire.CodeBadVersion},
	{zk.ErrNoChildrenForEphemerals, wire.CodeNoChildrenForEphemerals},
	{zk.ErrNodeExists, wire.CodeNodeExists},
	{zk.ErrNotEmpty, wire.CodeNotEmpty},
	{zk.ErrSessionExpired, wire.CodeSessionExpired},
	{zk.ErrInvalidACL, wire.CodeInvalidACL},
	{zk.ErrAuthFailed, wire.CodeAuthFailed},
	{zk.ErrClosing, wire.CodeClosing},
	{zk.ErrNothing, wire.CodeNothing},
	{zk.ErrSessionMoved, wire.CodeSessionMoved},
	{zk.ErrReconfigDisabled, wire.CodeReconfigDisabled},
	{zk.ErrBadArguments, wire.CodeBadArguments},
	{zk.ErrInvalidFlags, wire.CodeBadArguments},
	{zk.ErrInvalidPath, wire.CodeBadArguments},
	{zk.ErrAPIError, wire.CodeAPIError},
	{zk.ErrConnectionClosed, wire.CodeConnectionLoss},
	{zk.ErrNoServer, wire.CodeConnectionLoss},
}

// codeOf maps an error returned by go-zookeeper to a protocol code.
func codeOf(err error) int32 {
	if err == nil {
		return wire.CodeOK
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	// Codes go-zookeeper has no error for come back formatted.
	var code int32
	if _, scanErr := fmt.Sscanf(err.Error(), "unknown error: %d", &code); scanErr == nil {
		return code
	}
	return wire.CodeSystemError
}

func statToWire(s *zk.Stat) *wire.Stat {
	if s == nil {
		return nil
	}
	return &wire.Stat{
		Czxid:          s.Czxid,
		Mzxid:          s.Mzxid,
		Pzxid:          s.Pzxid,
		Ctime:          s.Ctime,
		Mtime:          s.Mtime,
		Version:        s.Version,
		Cversion:       s.Cversion,
		Aversion:       s.Aversion,
		EphemeralOwner: s.EphemeralOwner,
		DataLength:     s.DataLength,
		NumChildren:    s.NumChildren,
	}
}

func aclToZK(acl []wire.ACL) []zk.ACL {
	out := make([]zk.ACL, len(acl))
	for i, rule := range acl {
		out[i] = zk.ACL{Perms: rule.Perms, Scheme: rule.Scheme, ID: rule.ID}
	}
	return out
}

func aclFromZK(acl []zk.ACL) []wire.ACL {
	out := make([]wire.ACL, len(acl))
	for i, rule := range acl {
		out[i] = wire.ACL{Perms: rule.Perms, Scheme: rule.Scheme, ID: rule.ID}
	}
	return out
}

// stateOf maps a session event state. States that have no counterpart are
// reported as not ok.
func stateOf(s zk.State) (int32, bool) {
	switch s {
	case zk.StateConnecting, zk.StateDisconnected:
		return wire.StateConnecting, true
	case zk.StateConnected:
		return wire.StateAssociating, true
	case zk.StateHasSession:
		return wire.StateConnected, true
	case zk.StateConnectedReadOnly:
		return wire.StateReadOnly, true
	case zk.StateExpired:
		return wire.StateExpiredSession, true
	case zk.StateAuthFailed:
		return wire.StateAuthenticationFailed, true
	}
	return 0, false
}

func eventTypeOf(t zk.EventType) int32 {
	switch t {
	case zk.EventNodeCreated:
		return wire.EventCreated
	case zk.EventNodeDeleted:
		return wire.EventDeleted
	case zk.EventNodeDataChanged:
		return wire.EventDataChanged
	case zk.EventNodeChildrenChanged:
		return wire.EventChildrenChanged
	case zk.EventNotWatching:
		return wire.EventNotWatching
	default:
		return wire.EventSession
	}
}

// multiOp converts one step of a multi request.
func multiOp(f *wire.Frame) (any, error) {
	switch f.Op {
	case wire.OpCreate:
		return &zk.CreateRequest{Path: f.Path, Data: f.Data, Acl: aclToZK(f.ACL), Flags: f.Mode}, nil
	case wire.OpCreateContainer:
		return &zk.CreateRequest{Path: f.Path, Data: f.Data, Acl: aclToZK(f.ACL), Flags: zk.FlagContainer}, nil
	case wire.OpDelete:
		return &zk.DeleteRequest{Path: f.Path, Version: f.Version}, nil
	case wire.OpSetData:
		return &zk.SetDataRequest{Path: f.Path, Data: f.Data, Version: f.Version}, nil
	case wire.OpCheck:
		return &zk.CheckVersionRequest{Path: f.Path, Version: f.Version}, nil
	}
	return nil, fmt.Errorf("%s cannot be part of a multi", f.Op)
}
