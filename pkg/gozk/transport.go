// Package gozk runs sessions against a real ZooKeeper ensemble by driving
// github.com/go-zookeeper/zk behind the frame transport.
package gozk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/mikekulinski/zkasync/pkg/session"
	"github.com/mikekulinski/zkasync/pkg/wire"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("gozk: transport is closed")

// zkConn is the part of *zk.Conn the transport drives.
type zkConn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateContainer(path string, data []byte, flag int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Get(path string) ([]byte, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	GetACL(path string) ([]zk.ACL, *zk.Stat, error)
	SetACL(path string, acl []zk.ACL, version int32) (*zk.Stat, error)
	Sync(path string) (string, error)
	Multi(ops ...any) ([]zk.MultiResponse, error)
	SessionID() int64
	Close()
}

var _ zkConn = (*zk.Conn)(nil)

// Transport executes frames one at a time, in order, on a go-zookeeper
// connection and reports its session events as state frames.
type Transport struct {
	conn   zkConn
	logger *zap.Logger

	demux    *session.Demux
	requests *session.Mailbox

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// go-zookeeper sends one change to every channel watching a path, so at
	// most one library watch per slot is kept outstanding. The generation
	// moves on whenever the session drops and orphans older watches.
	watchMu sync.Mutex
	armed   map[watchSlot]bool
	gen     uint64
}

type watchSlot struct {
	path string
	kind int32
}

// Dial connects to hosts. Hosts without a port get the default one.
func Dial(hosts []string, timeout time.Duration, logger *zap.Logger) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, events, err := zk.Connect(zk.FormatServers(hosts), timeout,
		zk.WithLogger(zap.NewStdLog(logger.Named("go-zookeeper"))),
		zk.WithLogInfo(false),
	)
	if err != nil {
		return nil, err
	}
	t := newTransport(conn, logger)
	t.wg.Add(1)
	go t.forwardSessionEvents(events)
	return t, nil
}

func newTransport(conn zkConn, logger *zap.Logger) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:     conn,
		logger:   logger.With(zap.String("component", "gozk")),
		demux:    session.NewDemux(),
		requests: session.NewMailbox(),
		armed:    map[watchSlot]bool{},
		ctx:      ctx,
		cancel:   cancel,
	}
	t.wg.Add(1)
	go t.work()
	return t
}

func (t *Transport) Send(ctx context.Context, f *wire.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.requests.Push(f)
	return nil
}

func (t *Transport) Responses() <-chan *wire.Frame     { return t.demux.Responses() }
func (t *Transport) Notifications() <-chan *wire.Frame { return t.demux.Notifications() }
func (t *Transport) States() <-chan *wire.Frame        { return t.demux.States() }

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.demux.Close()
	t.requests.Close()
	t.conn.Close()
	t.wg.Wait()
	return nil
}

func (t *Transport) work() {
	defer t.wg.Done()
	for f := range t.requests.Out() {
		resp := t.execute(f)
		if !t.demux.Deliver(resp) {
			return
		}
	}
}

func (t *Transport) forwardSessionEvents(events <-chan zk.Event) {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}
			state, ok := stateOf(ev.State)
			if !ok {
				continue
			}
			t.logger.Debug("session event", zap.Stringer("state", ev.State), zap.String("server", ev.Server))
			f := &wire.Frame{Kind: wire.KindState, State: state}
			if state == wire.StateConnected || state == wire.StateReadOnly {
				f.SessionID = t.conn.SessionID()
			} else {
				t.orphanWatches()
			}
			if !t.demux.Deliver(f) {
				return
			}
		}
	}
}

// arm claims the library watch for slot when the request wants one. It
// returns false when one is already outstanding; that watch's event fires
// every registration in the slot.
func (t *Transport) arm(want bool, slot watchSlot) (uint64, bool) {
	if !want {
		return 0, false
	}
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	if t.armed[slot] {
		return 0, false
	}
	t.armed[slot] = true
	return t.gen, true
}

// release frees slot if it still belongs to generation gen.
func (t *Transport) release(slot watchSlot, gen uint64) bool {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	if gen != t.gen {
		return false
	}
	delete(t.armed, slot)
	return true
}

// track starts delivering ch, or frees slot if the call never set a watch.
func (t *Transport) track(ch <-chan zk.Event, err error, slot watchSlot, gen uint64) {
	if err != nil {
		t.release(slot, gen)
		return
	}
	t.watch(ch, slot, gen)
}

func (t *Transport) orphanWatches() {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	t.gen++
	t.armed = map[watchSlot]bool{}
}

// watch delivers the single event of a go-zookeeper watch channel, tagged
// with the slot it was armed for.
func (t *Transport) watch(ch <-chan zk.Event, slot watchSlot, gen uint64) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		select {
		case <-t.ctx.Done():
		case ev, ok := <-ch:
			if !t.release(slot, gen) || !ok {
				return
			}
			t.demux.Deliver(&wire.Frame{
				Kind:      wire.KindNotification,
				Xid:       wire.NotificationXid,
				Path:      ev.Path,
				EventType: eventTypeOf(ev.Type),
				WatchKind: slot.kind,
			})
		}
	}()
}

// execute runs f synchronously and returns its response.
func (t *Transport) execute(f *wire.Frame) *wire.Frame {
	resp := f.Reply(wire.CodeOK)
	var err error
	switch f.Op {
	case wire.OpPing:
	case wire.OpCloseSession:
		t.conn.Close()
	case wire.OpCreate:
		resp.Path, err = t.conn.Create(f.Path, f.Data, f.Mode, aclToZK(f.ACL))
	case wire.OpCreateContainer:
		resp.Path, err = t.conn.CreateContainer(f.Path, f.Data, zk.FlagContainer, aclToZK(f.ACL))
	case wire.OpDelete:
		err = t.conn.Delete(f.Path, f.Version)
	case wire.OpSetData:
		var stat *zk.Stat
		stat, err = t.conn.Set(f.Path, f.Data, f.Version)
		resp.Stat = statToWire(stat)
	case wire.OpCheck:
		_, err = t.conn.Multi(&zk.CheckVersionRequest{Path: f.Path, Version: f.Version})
	case wire.OpGetData:
		var stat *zk.Stat
		slot := watchSlot{path: f.Path, kind: wire.WatchKindData}
		if gen, ok := t.arm(f.Watch, slot); ok {
			var ch <-chan zk.Event
			resp.Data, stat, ch, err = t.conn.GetW(f.Path)
			t.track(ch, err, slot, gen)
		} else {
			resp.Data, stat, err = t.conn.Get(f.Path)
		}
		resp.Stat = statToWire(stat)
	case wire.OpExists:
		var exists bool
		var stat *zk.Stat
		slot := watchSlot{path: f.Path, kind: wire.WatchKindExist}
		if gen, ok := t.arm(f.Watch, slot); ok {
			var ch <-chan zk.Event
			exists, stat, ch, err = t.conn.ExistsW(f.Path)
			t.track(ch, err, slot, gen)
		} else {
			exists, stat, err = t.conn.Exists(f.Path)
		}
		if err == nil && !exists {
			err = zk.ErrNoNode
		}
		resp.Stat = statToWire(stat)
	case wire.OpGetChildren2:
		var stat *zk.Stat
		slot := watchSlot{path: f.Path, kind: wire.WatchKindChild}
		if gen, ok := t.arm(f.Watch, slot); ok {
			var ch <-chan zk.Event
			resp.Children, stat, ch, err = t.conn.ChildrenW(f.Path)
			t.track(ch, err, slot, gen)
		} else {
			resp.Children, stat, err = t.conn.Children(f.Path)
		}
		resp.Stat = statToWire(stat)
	case wire.OpGetACL:
		var acl []zk.ACL
		var stat *zk.Stat
		acl, stat, err = t.conn.GetACL(f.Path)
		resp.ACL = aclFromZK(acl)
		resp.Stat = statToWire(stat)
	case wire.OpSetACL:
		var stat *zk.Stat
		stat, err = t.conn.SetACL(f.Path, aclToZK(f.ACL), f.Version)
		resp.Stat = statToWire(stat)
	case wire.OpSync:
		resp.Path, err = t.conn.Sync(f.Path)
	case wire.OpMulti:
		return t.multi(f)
	default:
		resp.Code = wire.CodeUnimplemented
		return resp
	}
	resp.Code = codeOf(err)
	if err != nil {
		t.logger.Debug("request failed", zap.Object("frame", f), zap.Error(err))
	}
	return resp
}

func (t *Transport) multi(f *wire.Frame) *wire.Frame {
	resp := f.Reply(wire.CodeOK)
	ops := make([]any, 0, len(f.Ops))
	for _, op := range f.Ops {
		zop, err := multiOp(op)
		if err != nil {
			resp.Code = wire.CodeBadArguments
			return resp
		}
		ops = append(ops, zop)
	}
	results, err := t.conn.Multi(ops...)
	resp.Code = codeOf(err)
	if len(results) != len(f.Ops) {
		// Nothing came back per op, so the failure applies to the whole batch.
		return resp
	}
	resp.Ops = make([]*wire.Frame, len(results))
	for i, r := range results {
		resp.Ops[i] = &wire.Frame{
			Kind: wire.KindResponse,
			Op:   f.Ops[i].Op,
			Code: codeOf(r.Error),
			Path: r.String,
			Stat: statToWire(r.Stat),
		}
	}
	return resp
}
