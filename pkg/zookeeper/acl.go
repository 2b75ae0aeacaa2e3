package zookeeper

import (
	"fmt"
	"strings"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// Permission is a set of rights granted by an ACL rule.
type Permission int32

const (
	PermNone   Permission = 0
	PermRead   Permission = 1 << 0
	PermWrite  Permission = 1 << 1
	PermCreate Permission = 1 << 2
	PermErase  Permission = 1 << 3
	PermAdmin  Permission = 1 << 4
	PermAll    Permission = PermRead | PermWrite | PermCreate | PermErase | PermAdmin
)

// Allows reports whether every right in other is granted.
func (p Permission) Allows(other Permission) bool {
	return p&other == other
}

func (p Permission) String() string {
	switch p {
	case PermNone:
		return "none"
	case PermAll:
		return "all"
	}
	var parts []string
	for _, bit := range []struct {
		perm Permission
		name string
	}{
		{PermRead, "read"},
		{PermWrite, "write"},
		{PermCreate, "create"},
		{PermErase, "erase"},
		{PermAdmin, "admin"},
	} {
		if p.Allows(bit.perm) {
			parts = append(parts, bit.name)
		}
	}
	return strings.Join(parts, "|")
}

// ACLRule grants Permissions to the identity ID under Scheme.
type ACLRule struct {
	Permissions Permission
	Scheme      string
	ID          string
}

func (r ACLRule) String() string {
	return fmt.Sprintf("(%s:%s, %s)", r.Scheme, r.ID, r.Permissions)
}

// ACL is an ordered list of rules. The ensemble evaluates them in order.
type ACL []ACLRule

var (
	// OpenUnsafe lets anyone do anything.
	OpenUnsafe = ACL{{Permissions: PermAll, Scheme: "world", ID: "anyone"}}
	// ReadUnsafe lets anyone read.
	ReadUnsafe = ACL{{Permissions: PermRead, Scheme: "world", ID: "anyone"}}
	// CreatorAll gives every right to the identity that authenticated the
	// session creating the node.
	CreatorAll = ACL{{Permissions: PermAll, Scheme: "auth", ID: ""}}
)

func (a ACL) toWire() []wire.ACL {
	out := make([]wire.ACL, 0, len(a))
	for _, r := range a {
		out = append(out, wire.ACL{Perms: int32(r.Permissions), Scheme: r.Scheme, ID: r.ID})
	}
	return out
}

func aclFromWire(in []wire.ACL) ACL {
	out := make(ACL, 0, len(in))
	for _, r := range in {
		out = append(out, ACLRule{Permissions: Permission(r.Perms), Scheme: r.Scheme, ID: r.ID})
	}
	return out
}
