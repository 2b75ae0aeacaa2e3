package gozk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/mikekulinski/zkasync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeConn keeps a flat map of nodes and hands out watch channels the test
// can fire. Like go-zookeeper, every watching call gets its own channel and
// one event reaches all channels on the path.
type fakeConn struct {
	mu       sync.Mutex
	nodes    map[string][]byte
	watches  map[string][]chan zk.Event
	watchers int
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		nodes:   map[string][]byte{},
		watches: map[string][]chan zk.Event{},
	}
}

func (f *fakeConn) Create(path string, data []byte, _ int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	f.nodes[path] = data
	return path, nil
}

func (f *fakeConn) CreateContainer(path string, data []byte, _ int32, acl []zk.ACL) (string, error) {
	return f.Create(path, data, zk.FlagContainer, acl)
}

func (f *fakeConn) Delete(path string, _ int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; !ok {
		return zk.ErrNoNode
	}
	delete(f.nodes, path)
	return nil
}

func (f *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.nodes[path]
	if !ok {
		return false, nil, nil
	}
	return true, &zk.Stat{DataLength: int32(len(data))}, nil
}

func (f *fakeConn) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	ok, stat, err := f.Exists(path)
	return ok, stat, f.watch(path), err
}

func (f *fakeConn) Get(path string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return data, &zk.Stat{DataLength: int32(len(data))}, nil
}

func (f *fakeConn) GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	data, stat, err := f.Get(path)
	if err != nil {
		return nil, nil, nil, err
	}
	return data, stat, f.watch(path), nil
}

func (f *fakeConn) Children(string) ([]string, *zk.Stat, error) {
	return nil, &zk.Stat{}, nil
}

func (f *fakeConn) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	return nil, &zk.Stat{}, f.watch(path), nil
}

func (f *fakeConn) Set(path string, data []byte, version int32) (*zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; !ok {
		return nil, zk.ErrNoNode
	}
	if version > 0 {
		return nil, zk.ErrBadVersion
	}
	f.nodes[path] = data
	return &zk.Stat{Version: 1, DataLength: int32(len(data))}, nil
}

func (f *fakeConn) GetACL(string) ([]zk.ACL, *zk.Stat, error) {
	return zk.WorldACL(zk.PermRead), &zk.Stat{Aversion: 2}, nil
}

func (f *fakeConn) SetACL(string, []zk.ACL, int32) (*zk.Stat, error) {
	return &zk.Stat{Aversion: 1}, nil
}

func (f *fakeConn) Sync(path string) (string, error) { return path, nil }

func (f *fakeConn) Multi(ops ...any) ([]zk.MultiResponse, error) {
	results := make([]zk.MultiResponse, len(ops))
	var err error
	for i, op := range ops {
		if check, ok := op.(*zk.CheckVersionRequest); ok && check.Version != 0 {
			results[i].Error = zk.ErrBadVersion
			err = zk.ErrBadVersion
		}
	}
	return results, err
}

func (f *fakeConn) SessionID() int64 { return 42 }

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) watch(path string) <-chan zk.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan zk.Event, 1)
	f.watches[path] = append(f.watches[path], ch)
	f.watchers++
	return ch
}

func (f *fakeConn) watchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchers
}

func (f *fakeConn) fire(ev zk.Event) {
	f.mu.Lock()
	chs := f.watches[ev.Path]
	delete(f.watches, ev.Path)
	f.mu.Unlock()
	for _, ch := range chs {
		ch <- ev
	}
}

func next(t *testing.T, ch <-chan *wire.Frame) *wire.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for a frame")
		return nil
	}
}

func TestTransport_Execute(t *testing.T) {
	tests := []struct {
		name    string
		setup   map[string][]byte
		request *wire.Frame
		want    *wire.Frame
	}{
		{
			name:    "create",
			request: &wire.Frame{Xid: 1, Op: wire.OpCreate, Path: "/a", Data: []byte("x")},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: 1, Op: wire.OpCreate, Path: "/a"},
		},
		{
			name:    "create existing",
			setup:   map[string][]byte{"/a": nil},
			request: &wire.Frame{Xid: 2, Op: wire.OpCreate, Path: "/a"},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: 2, Op: wire.OpCreate, Code: wire.CodeNodeExists},
		},
		{
			name:    "get data",
			setup:   map[string][]byte{"/a": []byte("abc")},
			request: &wire.Frame{Xid: 3, Op: wire.OpGetData, Path: "/a"},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: 3, Op: wire.OpGetData, Data: []byte("abc"), Stat: &wire.Stat{DataLength: 3}},
		},
		{
			name:    "exists missing",
			request: &wire.Frame{Xid: 4, Op: wire.OpExists, Path: "/missing"},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: 4, Op: wire.OpExists, Code: wire.CodeNoNode},
		},
		{
			name:    "set data bad version",
			setup:   map[string][]byte{"/a": nil},
			request: &wire.Frame{Xid: 5, Op: wire.OpSetData, Path: "/a", Version: 7},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: 5, Op: wire.OpSetData, Code: wire.CodeBadVersion},
		},
		{
			name:    "get acl",
			request: &wire.Frame{Xid: 6, Op: wire.OpGetACL, Path: "/a"},
			want: &wire.Frame{
				Kind: wire.KindResponse, Xid: 6, Op: wire.OpGetACL,
				ACL:  []wire.ACL{{Perms: zk.PermRead, Scheme: "world", ID: "anyone"}},
				Stat: &wire.Stat{Aversion: 2},
			},
		},
		{
			name:    "check",
			request: &wire.Frame{Xid: 7, Op: wire.OpCheck, Path: "/a", Version: 3},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: 7, Op: wire.OpCheck, Code: wire.CodeBadVersion},
		},
		{
			name:    "sync",
			request: &wire.Frame{Xid: 8, Op: wire.OpSync, Path: "/a"},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: 8, Op: wire.OpSync, Path: "/a"},
		},
		{
			name:    "ping",
			request: &wire.Frame{Xid: wire.PingXid, Op: wire.OpPing},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: wire.PingXid, Op: wire.OpPing},
		},
		{
			name:    "unsupported",
			request: &wire.Frame{Xid: 9, Op: wire.OpNotify},
			want:    &wire.Frame{Kind: wire.KindResponse, Xid: 9, Op: wire.OpNotify, Code: wire.CodeUnimplemented},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conn := newFakeConn()
			for path, data := range test.setup {
				conn.nodes[path] = data
			}
			tr := newTransport(conn, zaptest.NewLogger(t))
			defer tr.Close()

			require.NoError(t, tr.Send(context.Background(), test.request))
			assert.Equal(t, test.want, next(t, tr.Responses()))
		})
	}
}

func TestTransport_Multi(t *testing.T) {
	tr := newTransport(newFakeConn(), zaptest.NewLogger(t))
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 1, Op: wire.OpMulti, Ops: []*wire.Frame{
		{Op: wire.OpCreate, Path: "/a"},
		{Op: wire.OpCheck, Path: "/a", Version: 5},
	}}))
	resp := next(t, tr.Responses())
	assert.Equal(t, wire.CodeBadVersion, resp.Code)
	require.Len(t, resp.Ops, 2)
	assert.Equal(t, wire.CodeOK, resp.Ops[0].Code)
	assert.Equal(t, wire.OpCreate, resp.Ops[0].Op)
	assert.Equal(t, wire.CodeBadVersion, resp.Ops[1].Code)

	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 2, Op: wire.OpMulti, Ops: []*wire.Frame{
		{Op: wire.OpGetData, Path: "/a"},
	}}))
	resp = next(t, tr.Responses())
	assert.Equal(t, wire.CodeBadArguments, resp.Code)
	assert.Empty(t, resp.Ops)
}

func TestTransport_Watch(t *testing.T) {
	conn := newFakeConn()
	conn.nodes["/a"] = []byte("x")
	tr := newTransport(conn, zaptest.NewLogger(t))
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 1, Op: wire.OpGetData, Path: "/a", Watch: true}))
	assert.Equal(t, wire.CodeOK, next(t, tr.Responses()).Code)

	conn.fire(zk.Event{Type: zk.EventNodeDataChanged, Path: "/a"})
	notification := next(t, tr.Notifications())
	assert.Equal(t, wire.KindNotification, notification.Kind)
	assert.Equal(t, wire.EventDataChanged, notification.EventType)
	assert.Equal(t, "/a", notification.Path)

	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 2, Op: wire.OpGetChildren2, Path: "/a", Watch: true}))
	assert.Equal(t, wire.CodeOK, next(t, tr.Responses()).Code)

	conn.fire(zk.Event{Type: zk.EventNotWatching, State: zk.StateDisconnected, Path: "/a"})
	notification = next(t, tr.Notifications())
	assert.Equal(t, wire.EventNotWatching, notification.EventType)
	assert.Equal(t, wire.WatchKindChild, notification.WatchKind)
}

func TestTransport_OneLibraryWatchPerSlot(t *testing.T) {
	conn := newFakeConn()
	conn.nodes["/a"] = []byte("x")
	tr := newTransport(conn, zaptest.NewLogger(t))
	defer tr.Close()

	ctx := context.Background()
	for xid := int64(1); xid <= 2; xid++ {
		require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: xid, Op: wire.OpGetData, Path: "/a", Watch: true}))
		assert.Equal(t, wire.CodeOK, next(t, tr.Responses()).Code)
	}
	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 3, Op: wire.OpExists, Path: "/a", Watch: true}))
	assert.Equal(t, wire.CodeOK, next(t, tr.Responses()).Code)
	assert.Equal(t, 2, conn.watchCalls(), "one data and one exist watch")

	conn.fire(zk.Event{Type: zk.EventNodeDataChanged, Path: "/a"})
	var kinds []int32
	for range 2 {
		notification := next(t, tr.Notifications())
		assert.Equal(t, wire.EventDataChanged, notification.EventType)
		kinds = append(kinds, notification.WatchKind)
	}
	assert.ElementsMatch(t, []int32{wire.WatchKindData, wire.WatchKindExist}, kinds)

	// The slot is free again once its event has been delivered.
	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 4, Op: wire.OpGetData, Path: "/a", Watch: true}))
	assert.Equal(t, wire.CodeOK, next(t, tr.Responses()).Code)
	assert.Equal(t, 3, conn.watchCalls())

	// A failed read does not hold the slot.
	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 5, Op: wire.OpGetData, Path: "/missing", Watch: true}))
	assert.Equal(t, wire.CodeNoNode, next(t, tr.Responses()).Code)
	conn.put("/missing", nil)
	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 6, Op: wire.OpGetData, Path: "/missing", Watch: true}))
	assert.Equal(t, wire.CodeOK, next(t, tr.Responses()).Code)
	assert.Equal(t, 4, conn.watchCalls())
}

func TestTransport_SessionLossOrphansWatches(t *testing.T) {
	conn := newFakeConn()
	conn.nodes["/a"] = []byte("x")
	tr := newTransport(conn, zaptest.NewLogger(t))
	defer tr.Close()

	events := make(chan zk.Event, 1)
	tr.wg.Add(1)
	go tr.forwardSessionEvents(events)

	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 1, Op: wire.OpGetData, Path: "/a", Watch: true}))
	assert.Equal(t, wire.CodeOK, next(t, tr.Responses()).Code)

	events <- zk.Event{Type: zk.EventSession, State: zk.StateDisconnected}
	assert.Equal(t, wire.StateConnecting, next(t, tr.States()).State)

	require.NoError(t, tr.Send(ctx, &wire.Frame{Xid: 2, Op: wire.OpGetData, Path: "/a", Watch: true}))
	assert.Equal(t, wire.CodeOK, next(t, tr.Responses()).Code)
	assert.Equal(t, 2, conn.watchCalls())

	// Both library channels see the change; only the current one reports it.
	conn.fire(zk.Event{Type: zk.EventNodeDataChanged, Path: "/a"})
	assert.Equal(t, wire.WatchKindData, next(t, tr.Notifications()).WatchKind)
	assert.Never(t, func() bool {
		select {
		case <-tr.Notifications():
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestTransport_SessionEvents(t *testing.T) {
	tr := newTransport(newFakeConn(), zaptest.NewLogger(t))
	defer tr.Close()

	events := make(chan zk.Event, 4)
	tr.wg.Add(1)
	go tr.forwardSessionEvents(events)

	events <- zk.Event{Type: zk.EventSession, State: zk.StateConnecting}
	events <- zk.Event{Type: zk.EventNodeCreated, Path: "/ignored"}
	events <- zk.Event{Type: zk.EventSession, State: zk.StateHasSession}
	events <- zk.Event{Type: zk.EventSession, State: zk.StateExpired}

	assert.Equal(t, wire.StateConnecting, next(t, tr.States()).State)
	connected := next(t, tr.States())
	assert.Equal(t, wire.StateConnected, connected.State)
	assert.Equal(t, int64(42), connected.SessionID)
	assert.Equal(t, wire.StateExpiredSession, next(t, tr.States()).State)
}

func TestTransport_Close(t *testing.T) {
	conn := newFakeConn()
	tr := newTransport(conn, zaptest.NewLogger(t))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.True(t, conn.closed)
	assert.ErrorIs(t, tr.Send(context.Background(), &wire.Frame{Op: wire.OpPing}), ErrClosed)
}
