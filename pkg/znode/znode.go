package znode

import (
	"fmt"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

type ZNodeType int

const (
	ZNodeType_STANDARD ZNodeType = iota
	ZNodeType_EPHEMERAL
	// ZNodeType_CONTAINER nodes are removed once their last child is deleted.
	ZNodeType_CONTAINER
)

func nodeTypeForMode(mode int32) ZNodeType {
	switch {
	case mode&wire.ModeContainer != 0:
		return ZNodeType_CONTAINER
	case mode&wire.ModeEphemeral != 0:
		return ZNodeType_EPHEMERAL
	default:
		return ZNodeType_STANDARD
	}
}

type ZNode struct {
	// Name is the full path of the node.
	Name     string
	NodeType ZNodeType
	Children map[string]*ZNode
	ACL      []wire.ACL
	// Stat holds everything but the derived DataLength and NumChildren.
	Stat wire.Stat

	// Data is the data stored here by the client.
	Data []byte
}

func NewZNode(name string, nodeType ZNodeType, data []byte, acl []wire.ACL) *ZNode {
	return &ZNode{
		Name:     name,
		NodeType: nodeType,
		// Init the children to an empty map instead of nil to avoid panics when writing to
		// a nil map.
		Children: map[string]*ZNode{},
		ACL:      acl,
		Data:     data,
	}
}

// stat returns a fresh snapshot of the node's metadata.
func (z *ZNode) stat() *wire.Stat {
	s := z.Stat
	s.DataLength = int32(len(z.Data))
	s.NumChildren = int32(len(z.Children))
	return &s
}

// clone copies the subtree rooted at z. Data and ACL slices are shared since
// writes always replace them.
func (z *ZNode) clone() *ZNode {
	c := *z
	c.Children = make(map[string]*ZNode, len(z.Children))
	for name, child := range z.Children {
		c.Children[name] = child.clone()
	}
	return &c
}

// Error is a failed tree operation along with the protocol code describing it.
type Error struct {
	Code int32
	Path string
	msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("znode: %s: %s", e.Path, e.msg)
}

func newError(code int32, path, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the protocol code for err.
func CodeOf(err error) int32 {
	if err == nil {
		return wire.CodeOK
	}
	if zerr, ok := err.(*Error); ok {
		return zerr.Code
	}
	return wire.CodeSystemError
}

// watchTable maps a path to the sessions watching it.
type watchTable map[string]map[int64]struct{}

func (w watchTable) add(path string, session int64) {
	sessions, ok := w[path]
	if !ok {
		sessions = map[int64]struct{}{}
		w[path] = sessions
	}
	sessions[session] = struct{}{}
}

// take removes and returns the sessions watching path.
func (w watchTable) take(path string) []int64 {
	sessions := w[path]
	delete(w, path)
	out := make([]int64, 0, len(sessions))
	for s := range sessions {
		out = append(out, s)
	}
	return out
}

func (w watchTable) removeSession(session int64) {
	for path, sessions := range w {
		delete(sessions, session)
		if len(sessions) == 0 {
			delete(w, path)
		}
	}
}
