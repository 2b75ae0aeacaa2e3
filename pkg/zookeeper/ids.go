package zookeeper

import (
	"strconv"

	"github.com/mikekulinski/zkasync/pkg/zxid"
)

type integer interface {
	~int32 | ~int64
}

// ID is an integer tagged with a kind so that, for example, a data version
// can never be compared with or assigned to an ACL version.
type ID[K any, R integer] struct {
	value R
}

func (id ID[K, R]) Value() R {
	return id.value
}

func (id ID[K, R]) Inc() ID[K, R] {
	return ID[K, R]{value: id.value + 1}
}

func (id ID[K, R]) Dec() ID[K, R] {
	return ID[K, R]{value: id.value - 1}
}

func (id ID[K, R]) Less(other ID[K, R]) bool {
	return id.value < other.value
}

func (id ID[K, R]) String() string {
	return strconv.FormatInt(int64(id.value), 10)
}

type (
	dataVersionKind   struct{}
	aclVersionKind    struct{}
	childVersionKind  struct{}
	transactionIDKind struct{}
)

type (
	Version       = ID[dataVersionKind, int32]
	ACLVersion    = ID[aclVersionKind, int32]
	ChildVersion  = ID[childVersionKind, int32]
	TransactionID = ID[transactionIDKind, int64]
)

func NewVersion(v int32) Version             { return Version{value: v} }
func NewACLVersion(v int32) ACLVersion       { return ACLVersion{value: v} }
func NewChildVersion(v int32) ChildVersion   { return ChildVersion{value: v} }
func NewTransactionID(v int64) TransactionID { return TransactionID{value: v} }

var (
	// AnyVersion skips the version check on check, erase and set.
	AnyVersion = NewVersion(-1)
	// AnyACLVersion skips the version check on set_acl.
	AnyACLVersion = NewACLVersion(-1)
	// InvalidVersion is a placeholder that no operation accepts.
	InvalidVersion = NewVersion(-42)
)

// Split breaks a transaction id into the epoch and counter it is made of.
func Split(id TransactionID) (epoch int32, counter int32) {
	z := zxid.ZXID(id.Value())
	return z.Epoch(), z.Counter()
}
