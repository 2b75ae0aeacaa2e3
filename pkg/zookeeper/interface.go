package zookeeper

// Connection is the asynchronous operation set of a session. Every operation
// returns a future that resolves exactly once, with a result or with an error
// from this package.
type Connection interface {
	// Create creates a node at path holding data and returns its name. With
	// Sequential the ensemble appends a monotonically increasing suffix.
	Create(path string, data []byte, mode CreateMode, acl ACL) *Future[CreateResult]
	// Erase deletes the node at path if it is at the expected version.
	Erase(path string, version Version) *Future[struct{}]
	// Set writes data to the node at path if it is at the expected version.
	Set(path string, data []byte, version Version) *Future[SetResult]
	// Get returns the data and metadata of the node at path.
	Get(path string) *Future[GetResult]
	// Exists returns the metadata of the node at path, or a nil Stat if there
	// is none.
	Exists(path string) *Future[ExistsResult]
	// GetChildren returns the names of the children of the node at path.
	GetChildren(path string) *Future[GetChildrenResult]
	GetACL(path string) *Future[GetACLResult]
	SetACL(path string, acl ACL, version ACLVersion) *Future[SetACLResult]
	// Commit applies every op of the batch or none of them.
	Commit(ops *MultiOp) *Future[MultiResult]

	// Watch is Get plus a registration for the next data change.
	Watch(path string) *Future[*Watch[GetResult]]
	// WatchChildren is GetChildren plus a registration for the next change
	// to the child list.
	WatchChildren(path string) *Future[*Watch[GetChildrenResult]]
	// WatchExists is Exists plus a registration for the node's creation,
	// change or erasure. It sets a watch even if the node does not exist.
	WatchExists(path string) *Future[*Watch[ExistsResult]]

	// LoadFence resolves once every operation issued before it has been
	// applied, so operations issued after it observe their effects.
	LoadFence() *Future[struct{}]

	State() State
	// WatchState resolves with the next state transition.
	WatchState() *Future[State]
	// Close ends the session. New operations fail with ErrClosed and every
	// outstanding watch resolves with a session event.
	Close() error
}
