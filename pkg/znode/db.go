package znode

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mikekulinski/zkasync/pkg/wire"
	"github.com/mikekulinski/zkasync/pkg/zxid"
)

// Notifier delivers a watch notification to the session that set the watch.
type Notifier func(session int64, f *wire.Frame)

// DB is the source of truth for all the data stored in the Zookeeper server. It also controls the
// locking mechanism, so it can be abstracted away from the caller.
type DB struct {
	root *ZNode
	mu   *sync.RWMutex

	last zxid.ZXID

	// Watches are one shot. Data watches are also used for exists watches.
	watchMu      sync.Mutex
	dataWatches  watchTable
	childWatches watchTable
	notify       Notifier

	now func() time.Time
}

type Option func(*DB)

func WithNotifier(n Notifier) Option {
	return func(d *DB) {
		d.notify = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

func NewDB(opts ...Option) *DB {
	d := &DB{
		root:         NewZNode("/", ZNodeType_STANDARD, nil, nil),
		mu:           &sync.RWMutex{},
		dataWatches:  watchTable{},
		childWatches: watchTable{},
		notify:       func(int64, *wire.Frame) {},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetNotifier replaces the notifier. It must be called before the DB is shared.
func (d *DB) SetNotifier(n Notifier) {
	d.notify = n
}

// StartEpoch moves the DB to a new epoch. Zxids issued afterwards are larger
// than any issued before.
func (d *DB) StartEpoch(epoch int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if epoch > d.last.Epoch() {
		d.last = zxid.New(epoch, 0)
	}
}

func (d *DB) LastZxid() zxid.ZXID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Get returns a copy of the node at path, or nil if there is none.
func (d *DB) Get(path string) *ZNode {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node := findZNode(d.root, splitPathIntoNodeNames(path))
	if node == nil {
		return nil
	}
	return node.clone()
}

// findZNode will search down to the tree and return the node specified by the names.
// If the node could not be found, then we will return nil.
func findZNode(start *ZNode, names []string) *ZNode {
	node := start
	for _, name := range names {
		z, ok := node.Children[name]
		if !ok {
			return nil
		}
		node = z
	}
	return node
}

func splitPathIntoNodeNames(path string) []string {
	if path == "/" || path == "" {
		return nil
	}
	// Since we have a leading /, then we expect the first name to be empty.
	return strings.Split(path, "/")[1:]
}

func newFullName(nodeName string, ancestorsNames []string) string {
	nodePath := "/" + nodeName
	if len(ancestorsNames) > 0 {
		return "/" + strings.Join(ancestorsNames, "/") + nodePath
	}
	return nodePath
}

func (d *DB) GetData(session int64, path string, watch bool) ([]byte, *wire.Stat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node := findZNode(d.root, splitPathIntoNodeNames(path))
	if node == nil {
		return nil, nil, newError(wire.CodeNoNode, path, "node does not exist")
	}
	if watch {
		d.addWatch(d.dataWatches, path, session)
	}
	return node.Data, node.stat(), nil
}

// Exists returns a nil Stat if there is no node at path. A watch is set either way.
func (d *DB) Exists(session int64, path string, watch bool) *wire.Stat {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if watch {
		d.addWatch(d.dataWatches, path, session)
	}
	node := findZNode(d.root, splitPathIntoNodeNames(path))
	if node == nil {
		return nil
	}
	return node.stat()
}

func (d *DB) GetChildren(session int64, path string, watch bool) ([]string, *wire.Stat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node := findZNode(d.root, splitPathIntoNodeNames(path))
	if node == nil {
		return nil, nil, newError(wire.CodeNoNode, path, "node does not exist")
	}
	if watch {
		d.addWatch(d.childWatches, path, session)
	}
	children := make([]string, 0, len(node.Children))
	for name := range node.Children {
		children = append(children, name)
	}
	return children, node.stat(), nil
}

func (d *DB) GetACL(path string) ([]wire.ACL, *wire.Stat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node := findZNode(d.root, splitPathIntoNodeNames(path))
	if node == nil {
		return nil, nil, newError(wire.CodeNoNode, path, "node does not exist")
	}
	return node.ACL, node.stat(), nil
}

// Ephemerals returns the paths of the ephemeral nodes owned by session.
func (d *DB) Ephemerals(session int64) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var paths []string
	var walk func(z *ZNode)
	walk = func(z *ZNode) {
		if z.NodeType == ZNodeType_EPHEMERAL && z.Stat.EphemeralOwner == session {
			paths = append(paths, z.Name)
		}
		for _, child := range z.Children {
			walk(child)
		}
	}
	walk(d.root)
	return paths
}

// RemoveWatches drops every watch held by session.
func (d *DB) RemoveWatches(session int64) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	d.dataWatches.removeSession(session)
	d.childWatches.removeSession(session)
}

func (d *DB) addWatch(table watchTable, path string, session int64) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	table.add(path, session)
}

// Apply executes a write request on behalf of session and returns the
// response along with the effects that were committed, in order. Effects are
// self-contained requests that Replay can apply again.
func (d *DB) Apply(session int64, req *wire.Frame) (*wire.Frame, []*wire.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := req.Reply(wire.CodeOK)
	var t *txn
	var effect *wire.Frame
	switch req.Op {
	case wire.OpMulti:
		if len(req.Ops) == 0 {
			return resp, nil
		}
		root := d.root.clone()
		t = d.newTxn(root, session)
		results, code := t.multi(req.Ops)
		resp.Ops = results
		resp.Code = code
		if code != wire.CodeOK {
			return resp, nil
		}
		d.root = root
		effect = &wire.Frame{Kind: wire.KindRequest, Op: wire.OpMulti, Ops: t.effects}
	case wire.OpCheck:
		t = d.newTxn(d.root, session)
		_, err := t.apply(req)
		resp.Code = CodeOf(err)
		return resp, nil
	default:
		t = d.newTxn(d.root, session)
		result, err := t.apply(req)
		if err != nil {
			resp.Code = CodeOf(err)
			return resp, nil
		}
		resp.Path = result.Path
		resp.Stat = result.Stat
		effect = t.effects[0]
	}

	effects := []*wire.Frame{d.commit(t, effect)}
	effects = append(effects, d.reapContainers(t.emptied)...)
	resp.Zxid = t.zxid
	return resp, effects
}

// Replay applies an effect produced by Apply. Ephemeral nodes are skipped
// since the sessions that owned them are gone.
func (d *DB) Replay(effect *wire.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	z := zxid.ZXID(effect.Zxid)
	ops := []*wire.Frame{effect}
	if effect.Op == wire.OpMulti {
		ops = effect.Ops
	}
	root := d.root.clone()
	t := &txn{root: root, zxid: effect.Zxid, session: effect.SessionID, now: d.now().UnixMilli()}
	if effect.Stat != nil {
		t.now = effect.Stat.Mtime
	}
	for _, op := range ops {
		if op.Mode&wire.ModeEphemeral != 0 {
			continue
		}
		if _, err := t.apply(op); err != nil {
			return fmt.Errorf("replaying zxid %d: %w", effect.Zxid, err)
		}
	}
	d.root = root
	if z > d.last {
		d.last = z
	}
	return nil
}

func (d *DB) newTxn(root *ZNode, session int64) *txn {
	return &txn{
		root:    root,
		zxid:    int64(d.last.Next()),
		now:     d.now().UnixMilli(),
		session: session,
	}
}

// commit consumes the txn's zxid and fires its watches. It must be called with mu held.
func (d *DB) commit(t *txn, effect *wire.Frame) *wire.Frame {
	d.last = zxid.ZXID(t.zxid)
	effect.Zxid = t.zxid
	effect.SessionID = t.session
	effect.Stat = &wire.Stat{Mtime: t.now}
	d.fire(t)
	return effect
}

// reapContainers deletes containers that lost their last child.
func (d *DB) reapContainers(candidates []string) []*wire.Frame {
	var effects []*wire.Frame
	for len(candidates) > 0 {
		path := candidates[0]
		candidates = candidates[1:]
		node := findZNode(d.root, splitPathIntoNodeNames(path))
		if node == nil || node.NodeType != ZNodeType_CONTAINER || len(node.Children) > 0 || node.Stat.Cversion == 0 {
			continue
		}
		t := d.newTxn(d.root, 0)
		req := &wire.Frame{Op: wire.OpDelete, Path: path, Version: -1}
		if _, err := t.apply(req); err != nil {
			continue
		}
		effects = append(effects, d.commit(t, t.effects[0]))
		candidates = append(candidates, t.emptied...)
	}
	return effects
}

func (d *DB) fire(t *txn) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	for _, tr := range t.triggers {
		var sessions []int64
		switch tr.event {
		case wire.EventCreated, wire.EventDataChanged:
			sessions = d.dataWatches.take(tr.path)
		case wire.EventDeleted:
			sessions = append(d.dataWatches.take(tr.path), d.childWatches.take(tr.path)...)
		case wire.EventChildrenChanged:
			sessions = d.childWatches.take(tr.path)
		}
		seen := map[int64]bool{}
		for _, s := range sessions {
			if seen[s] {
				continue
			}
			seen[s] = true
			d.notify(s, &wire.Frame{
				Kind:      wire.KindNotification,
				Xid:       wire.NotificationXid,
				Zxid:      t.zxid,
				Path:      tr.path,
				EventType: tr.event,
				State:     wire.StateConnected,
			})
		}
	}
}

type trigger struct {
	path  string
	event int32
}

// txn is a set of changes that share a zxid.
type txn struct {
	root    *ZNode
	zxid    int64
	now     int64
	session int64

	triggers []trigger
	effects  []*wire.Frame
	// emptied lists the parents of erased nodes, which may be reapable containers.
	emptied []string
}

type opResult struct {
	Path string
	Stat *wire.Stat
}

func (t *txn) apply(req *wire.Frame) (opResult, error) {
	switch req.Op {
	case wire.OpCreate, wire.OpCreateContainer:
		mode := req.Mode
		if req.Op == wire.OpCreateContainer {
			mode |= wire.ModeContainer
		}
		return t.create(req.Path, req.Data, req.ACL, mode)
	case wire.OpDelete:
		return opResult{}, t.erase(req.Path, req.Version)
	case wire.OpSetData:
		return t.setData(req.Path, req.Data, req.Version)
	case wire.OpSetACL:
		return t.setACL(req.Path, req.ACL, req.Version)
	case wire.OpCheck:
		return opResult{}, t.check(req.Path, req.Version)
	default:
		return opResult{}, newError(wire.CodeUnimplemented, req.Path, "op %s is not a write", req.Op)
	}
}

// multi applies ops in order and stops at the first failure. Ops before the
// failure report OK, the failing op reports its code and the rest report a
// runtime inconsistency.
func (t *txn) multi(ops []*wire.Frame) ([]*wire.Frame, int32) {
	results := make([]*wire.Frame, len(ops))
	failed := -1
	code := wire.CodeOK
	for i, op := range ops {
		results[i] = &wire.Frame{Kind: wire.KindResponse, Op: op.Op}
		if failed >= 0 {
			results[i].Code = wire.CodeRuntimeInconsistency
			continue
		}
		if op.Op == wire.OpMulti {
			failed, code = i, wire.CodeBadArguments
			results[i].Code = code
			continue
		}
		result, err := t.apply(op)
		if err != nil {
			failed, code = i, CodeOf(err)
			results[i].Code = code
			continue
		}
		results[i].Path = result.Path
		results[i].Stat = result.Stat
	}
	if failed >= 0 {
		for i := 0; i < failed; i++ {
			results[i] = &wire.Frame{Kind: wire.KindResponse, Op: ops[i].Op}
		}
	}
	return results, code
}

func (t *txn) create(path string, data []byte, acl []wire.ACL, mode int32) (opResult, error) {
	names := splitPathIntoNodeNames(path)
	if len(names) == 0 {
		return opResult{}, newError(wire.CodeNodeExists, path, "the root always exists")
	}
	// Search down the tree until we hit the parent where we'll be creating this new node.
	parent := findZNode(t.root, names[:len(names)-1])
	if parent == nil {
		return opResult{}, newError(wire.CodeNoNode, path, "at least one of the ancestors of this node is missing")
	}
	if parent.NodeType == ZNodeType_EPHEMERAL {
		return opResult{}, newError(wire.CodeNoChildrenForEphemerals, path, "ephemeral nodes cannot have children")
	}

	newName := names[len(names)-1]
	if mode&wire.ModeSequential != 0 {
		newName = fmt.Sprintf("%s%010d", newName, parent.Stat.Cversion)
	}
	if _, ok := parent.Children[newName]; ok {
		return opResult{}, newError(wire.CodeNodeExists, path, "node [%s] already exists", newName)
	}
	fullName := newFullName(newName, names[:len(names)-1])

	node := NewZNode(fullName, nodeTypeForMode(mode), data, acl)
	node.Stat = wire.Stat{
		Czxid: t.zxid,
		Mzxid: t.zxid,
		Pzxid: t.zxid,
		Ctime: t.now,
		Mtime: t.now,
	}
	if node.NodeType == ZNodeType_EPHEMERAL {
		node.Stat.EphemeralOwner = t.session
	}
	parent.Children[newName] = node
	parent.Stat.Cversion++
	parent.Stat.Pzxid = t.zxid

	op := wire.OpCreate
	if node.NodeType == ZNodeType_CONTAINER {
		op = wire.OpCreateContainer
	}
	t.effects = append(t.effects, &wire.Frame{
		Kind: wire.KindRequest,
		Op:   op,
		Path: fullName,
		Data: data,
		ACL:  acl,
		Mode: mode &^ wire.ModeSequential,
	})
	t.triggers = append(t.triggers,
		trigger{path: fullName, event: wire.EventCreated},
		trigger{path: parent.Name, event: wire.EventChildrenChanged},
	)
	return opResult{Path: fullName, Stat: node.stat()}, nil
}

func (t *txn) erase(path string, version int32) error {
	names := splitPathIntoNodeNames(path)
	if len(names) == 0 {
		return newError(wire.CodeBadArguments, path, "the root cannot be deleted")
	}
	parent := findZNode(t.root, names[:len(names)-1])
	if parent == nil {
		return newError(wire.CodeNoNode, path, "node does not exist")
	}
	nameToDelete := names[len(names)-1]
	node, ok := parent.Children[nameToDelete]
	if !ok {
		return newError(wire.CodeNoNode, path, "node does not exist")
	}
	if version != -1 && version != node.Stat.Version {
		return newError(wire.CodeBadVersion, path, "expected version %d, found %d", version, node.Stat.Version)
	}
	if len(node.Children) > 0 {
		return newError(wire.CodeNotEmpty, path, "node has %d children", len(node.Children))
	}
	// Delete the actual node from the tree.
	delete(parent.Children, nameToDelete)
	parent.Stat.Cversion++
	parent.Stat.Pzxid = t.zxid

	t.effects = append(t.effects, &wire.Frame{Kind: wire.KindRequest, Op: wire.OpDelete, Path: path, Version: -1})
	t.triggers = append(t.triggers,
		trigger{path: path, event: wire.EventDeleted},
		trigger{path: parent.Name, event: wire.EventChildrenChanged},
	)
	t.emptied = append(t.emptied, parent.Name)
	return nil
}

func (t *txn) setData(path string, data []byte, version int32) (opResult, error) {
	node := findZNode(t.root, splitPathIntoNodeNames(path))
	if node == nil {
		return opResult{}, newError(wire.CodeNoNode, path, "node does not exist")
	}
	if version != -1 && version != node.Stat.Version {
		return opResult{}, newError(wire.CodeBadVersion, path, "expected version %d, found %d", version, node.Stat.Version)
	}
	node.Data = data
	node.Stat.Version++
	node.Stat.Mzxid = t.zxid
	node.Stat.Mtime = t.now

	t.effects = append(t.effects, &wire.Frame{Kind: wire.KindRequest, Op: wire.OpSetData, Path: path, Data: data, Version: -1})
	t.triggers = append(t.triggers, trigger{path: path, event: wire.EventDataChanged})
	return opResult{Stat: node.stat()}, nil
}

func (t *txn) setACL(path string, acl []wire.ACL, version int32) (opResult, error) {
	node := findZNode(t.root, splitPathIntoNodeNames(path))
	if node == nil {
		return opResult{}, newError(wire.CodeNoNode, path, "node does not exist")
	}
	if version != -1 && version != node.Stat.Aversion {
		return opResult{}, newError(wire.CodeBadVersion, path, "expected ACL version %d, found %d", version, node.Stat.Aversion)
	}
	node.ACL = acl
	node.Stat.Aversion++

	t.effects = append(t.effects, &wire.Frame{Kind: wire.KindRequest, Op: wire.OpSetACL, Path: path, ACL: acl, Version: -1})
	return opResult{Stat: node.stat()}, nil
}

func (t *txn) check(path string, version int32) error {
	node := findZNode(t.root, splitPathIntoNodeNames(path))
	if node == nil {
		return newError(wire.CodeNoNode, path, "node does not exist")
	}
	if version != -1 && version != node.Stat.Version {
		return newError(wire.CodeBadVersion, path, "expected version %d, found %d", version, node.Stat.Version)
	}
	return nil
}
