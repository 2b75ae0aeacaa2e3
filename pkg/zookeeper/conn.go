package zookeeper

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// completion is called exactly once per request, with the response frame or
// with the error that prevented one from arriving.
type completion func(resp *wire.Frame, err error)

type pendingRequest struct {
	op       wire.OpCode
	complete completion
}

type Option func(*Conn)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithExecutor sets where continuations attached to the connection's futures
// run. The default runs them on the delivery goroutine.
func WithExecutor(exec Executor) Option {
	return func(c *Conn) {
		c.exec = exec
	}
}

// Conn is a Connection backed by a Transport to an ensemble.
type Conn struct {
	params    Params
	transport Transport
	logger    *zap.Logger
	exec      Executor

	ctx    context.Context
	cancel context.CancelFunc

	// mu protects every field below. Futures are never resolved while it is
	// held.
	mu           sync.Mutex
	lastXid      int64
	pending      map[int64]*pendingRequest
	watches      *registry
	state        State
	stateWaiters []*Future[State]
	sessionID    int64
	closing      bool
}

var _ Connection = (*Conn)(nil)

// New starts a connection over transport. The connection starts in
// StateConnecting and follows the state frames the transport delivers.
func New(params Params, transport Transport, opts ...Option) (*Conn, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		params:    params,
		transport: transport,
		logger:    zap.NewNop(),
		exec:      Inline,
		ctx:       ctx,
		cancel:    cancel,
		pending:   map[int64]*pendingRequest{},
		watches:   newRegistry(),
		state:     StateConnecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "connection"), zap.String("chroot", params.Chroot))

	go c.dispatch()
	return c, nil
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID is the id the ensemble assigned to the session, or zero before
// the first connect.
func (c *Conn) SessionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conn) WatchState() *Future[State] {
	fut := newFuture[State](c.exec)
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		fut.resolve(StateClosed, nil)
		return fut
	}
	c.stateWaiters = append(c.stateWaiters, fut)
	c.mu.Unlock()
	return fut
}

func (c *Conn) Create(path string, data []byte, mode CreateMode, acl ACL) *Future[CreateResult] {
	op := CreateOp(path, data, mode, acl)
	if err := op.validate(); err != nil {
		return failed[CreateResult](c, err)
	}
	return call(c, op.toWire(c.params.Chroot), func(resp *wire.Frame) (CreateResult, error) {
		return CreateResult{Name: stripChroot(c.params.Chroot, resp.Path)}, nil
	})
}

func (c *Conn) Erase(path string, version Version) *Future[struct{}] {
	op := EraseOp(path, version)
	if err := op.validate(); err != nil {
		return failed[struct{}](c, err)
	}
	return call(c, op.toWire(c.params.Chroot), func(*wire.Frame) (struct{}, error) {
		return struct{}{}, nil
	})
}

func (c *Conn) Set(path string, data []byte, version Version) *Future[SetResult] {
	op := SetOp(path, data, version)
	if err := op.validate(); err != nil {
		return failed[SetResult](c, err)
	}
	return call(c, op.toWire(c.params.Chroot), func(resp *wire.Frame) (SetResult, error) {
		return SetResult{Stat: statFromWire(resp.Stat)}, nil
	})
}

func (c *Conn) Get(path string) *Future[GetResult] {
	if err := validatePath(path); err != nil {
		return failed[GetResult](c, err)
	}
	return callRaw(c, c.readFrame(wire.OpGetData, path, false), decodeGet)
}

func (c *Conn) Exists(path string) *Future[ExistsResult] {
	if err := validatePath(path); err != nil {
		return failed[ExistsResult](c, err)
	}
	return callRaw(c, c.readFrame(wire.OpExists, path, false), decodeExists)
}

func (c *Conn) GetChildren(path string) *Future[GetChildrenResult] {
	if err := validatePath(path); err != nil {
		return failed[GetChildrenResult](c, err)
	}
	return callRaw(c, c.readFrame(wire.OpGetChildren2, path, false), decodeGetChildren)
}

func (c *Conn) GetACL(path string) *Future[GetACLResult] {
	if err := validatePath(path); err != nil {
		return failed[GetACLResult](c, err)
	}
	return call(c, c.readFrame(wire.OpGetACL, path, false), func(resp *wire.Frame) (GetACLResult, error) {
		return GetACLResult{ACL: aclFromWire(resp.ACL), Stat: statFromWire(resp.Stat)}, nil
	})
}

func (c *Conn) SetACL(path string, acl ACL, version ACLVersion) *Future[SetACLResult] {
	if err := validatePath(path); err != nil {
		return failed[SetACLResult](c, err)
	}
	if err := validateVersion(version.Value()); err != nil {
		return failed[SetACLResult](c, err)
	}
	if len(acl) == 0 {
		return failed[SetACLResult](c, errorf(ErrInvalidArguments, "acl for %s is empty", path))
	}
	if err := validateACL(acl); err != nil {
		return failed[SetACLResult](c, err)
	}
	f := &wire.Frame{
		Op:      wire.OpSetACL,
		Path:    prependChroot(c.params.Chroot, path),
		ACL:     acl.toWire(),
		Version: version.Value(),
	}
	return call(c, f, func(resp *wire.Frame) (SetACLResult, error) {
		return SetACLResult{Stat: statFromWire(resp.Stat)}, nil
	})
}

func (c *Conn) Commit(ops *MultiOp) *Future[MultiResult] {
	// Take a copy so later changes to ops cannot skew result decoding.
	batch := NewMultiOp(ops.Ops()...)
	if err := batch.validate(); err != nil {
		return failed[MultiResult](c, err)
	}
	f := &wire.Frame{Op: wire.OpMulti, Ops: batch.toWire(c.params.Chroot)}
	return callRaw(c, f, func(resp *wire.Frame) (MultiResult, error) {
		return decodeMultiResult(batch, resp, c.params.Chroot)
	})
}

func (c *Conn) LoadFence() *Future[struct{}] {
	return call(c, c.readFrame(wire.OpSync, "/", false), func(*wire.Frame) (struct{}, error) {
		return struct{}{}, nil
	})
}

func (c *Conn) Watch(path string) *Future[*Watch[GetResult]] {
	return watchRead(c, path, WatchData, wire.OpGetData, decodeGet, c.Watch)
}

func (c *Conn) WatchChildren(path string) *Future[*Watch[GetChildrenResult]] {
	return watchRead(c, path, WatchChild, wire.OpGetChildren2, decodeGetChildren, c.WatchChildren)
}

func (c *Conn) WatchExists(path string) *Future[*Watch[ExistsResult]] {
	return watchRead(c, path, WatchExist, wire.OpExists, decodeExists, c.WatchExists)
}

// Close ends the session. Requests already sent are given up to the session
// timeout to be answered; whatever is still pending after that fails with
// ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	var closed *Future[struct{}]
	if c.state == StateConnected || c.state == StateReadOnly {
		closed = newFuture[struct{}](Inline)
		err := c.sendLocked(&wire.Frame{Op: wire.OpCloseSession}, func(_ *wire.Frame, err error) {
			closed.resolve(struct{}{}, err)
		})
		if err != nil {
			c.logger.Warn("error sending close request", zap.Error(err))
			closed = nil
		}
	}
	c.mu.Unlock()

	if closed != nil {
		timer := time.NewTimer(c.params.Timeout)
		select {
		case <-closed.Done():
		case <-timer.C:
			c.logger.Warn("timed out waiting for the session to close")
		}
		timer.Stop()
	}

	c.teardown()
	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("error closing transport: %w", err)
	}
	return nil
}

func (c *Conn) teardown() {
	c.mu.Lock()
	c.state = StateClosed
	pending := c.pending
	c.pending = map[int64]*pendingRequest{}
	watches := c.watches.drain()
	waiters := c.stateWaiters
	c.stateWaiters = nil
	c.mu.Unlock()

	c.cancel()
	failPending(pending, errorf(ErrClosed, "connection closed before a response arrived"))
	resolveWatches(watches, Event{Type: EventSession, State: StateClosed})
	for _, w := range waiters {
		w.resolve(StateClosed, nil)
	}
	c.logger.Info("connection closed")
}

func (c *Conn) readFrame(op wire.OpCode, path string, watch bool) *wire.Frame {
	return &wire.Frame{Op: op, Path: prependChroot(c.params.Chroot, path), Watch: watch}
}

// checkUsableLocked fails requests that can never succeed in the current
// state.
func (c *Conn) checkUsableLocked(write bool) error {
	if c.closing {
		return errorf(ErrClosed, "connection is closed")
	}
	switch c.state {
	case StateClosed:
		return errorf(ErrClosed, "connection is closed")
	case StateExpiredSession:
		return errorf(ErrSessionExpired, "session expired")
	case StateAuthenticationFailed:
		return errorf(ErrAuthenticationFailed, "session failed to authenticate")
	case StateReadOnly:
		if write {
			return errorf(ErrReadOnlyConnection, "connection is read-only")
		}
	}
	return nil
}

// enqueue sends f and routes its response to complete. Errors that keep the
// request from reaching the transport are reported through complete too.
// register runs under the same lock as xid assignment, before the request is
// sent.
func (c *Conn) enqueue(f *wire.Frame, complete completion, register func()) {
	c.mu.Lock()
	if err := c.checkUsableLocked(f.Op.IsWrite()); err != nil {
		c.mu.Unlock()
		complete(nil, err)
		return
	}
	if register != nil {
		register()
	}
	err := c.sendLocked(f, complete)
	c.mu.Unlock()
	if err != nil {
		complete(nil, errorf(ErrConnectionLoss, "error sending request: %v", err))
	}
}

// sendLocked assigns the next xid and hands the frame to the transport. The
// lock is held across Send so frames reach the transport in xid order.
func (c *Conn) sendLocked(f *wire.Frame, complete completion) error {
	c.lastXid++
	f.Kind = wire.KindRequest
	f.Xid = c.lastXid
	c.pending[f.Xid] = &pendingRequest{op: f.Op, complete: complete}
	if err := c.transport.Send(c.ctx, f); err != nil {
		delete(c.pending, f.Xid)
		return err
	}
	c.logger.Debug("sent request", zap.Object("frame", f))
	return nil
}

// dispatch is the delivery goroutine. Every future of the connection is
// resolved from here, from a failing caller or from Close.
func (c *Conn) dispatch() {
	responses := c.transport.Responses()
	notifications := c.transport.Notifications()
	states := c.transport.States()
	for responses != nil || notifications != nil || states != nil {
		select {
		case <-c.ctx.Done():
			return
		case f, ok := <-responses:
			if !ok {
				responses = nil
				continue
			}
			// Notifications already delivered go first so a read never
			// observes a change before its watch fires.
			notifications = c.drainNotifications(notifications)
			c.handleResponse(f)
		case f, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			c.handleNotification(f)
		case f, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			c.handleState(f)
		}
	}
	// The transport stopped delivering without being closed. Nothing that is
	// pending can be answered anymore.
	c.transition(StateConnecting, 0)
}

func (c *Conn) drainNotifications(ch <-chan *wire.Frame) <-chan *wire.Frame {
	for ch != nil {
		select {
		case f, ok := <-ch:
			if !ok {
				return nil
			}
			c.handleNotification(f)
		default:
			return ch
		}
	}
	return ch
}

func (c *Conn) handleResponse(f *wire.Frame) {
	c.mu.Lock()
	req, ok := c.pending[f.Xid]
	delete(c.pending, f.Xid)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("dropping response without a pending request", zap.Object("frame", f))
		return
	}
	if req.op != f.Op && f.Op != 0 {
		c.logger.Warn("response op does not match request",
			zap.Stringer("request", req.op), zap.Object("frame", f))
	}
	req.complete(f, nil)
}

func (c *Conn) handleNotification(f *wire.Frame) {
	path := stripChroot(c.params.Chroot, f.Path)
	typ := EventType(f.EventType)

	c.mu.Lock()
	fired := c.watches.take(path, typ, WatchKind(f.WatchKind))
	state := c.state
	c.mu.Unlock()

	c.logger.Debug("watch notification", zap.Object("frame", f), zap.Int("fired", len(fired)))
	for _, event := range fired {
		event.resolve(Event{Type: typ, State: state, Path: path}, nil)
	}
}

func (c *Conn) handleState(f *wire.Frame) {
	c.transition(State(f.State), f.SessionID)
}

// transition moves the session to next. Leaving a live state fails every
// pending request and resolves every watch with a session event. Once the
// session is expired, failed authentication or closed, only Close moves it on.
func (c *Conn) transition(next State, sessionID int64) {
	c.mu.Lock()
	prev := c.state
	if prev.IsTerminal() || prev == next {
		c.mu.Unlock()
		if prev != next {
			c.logger.Debug("ignoring state change of a finished session",
				zap.Stringer("state", prev), zap.Stringer("to", next))
		}
		return
	}
	c.state = next
	if sessionID != 0 {
		c.sessionID = sessionID
	}
	waiters := c.stateWaiters
	c.stateWaiters = nil

	var cause error
	switch next {
	case StateConnecting:
		cause = errorf(ErrConnectionLoss, "connection lost while %s", prev)
	case StateExpiredSession:
		cause = errorf(ErrSessionExpired, "session expired")
	case StateAuthenticationFailed:
		cause = errorf(ErrAuthenticationFailed, "session failed to authenticate")
	case StateClosed:
		cause = errorf(ErrClosed, "transport closed the session")
	}
	var pending map[int64]*pendingRequest
	var watches map[watchKey][]*Future[Event]
	if cause != nil {
		pending = c.pending
		c.pending = map[int64]*pendingRequest{}
		watches = c.watches.drain()
	}
	c.mu.Unlock()

	c.logger.Info("session state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
	failPending(pending, cause)
	resolveWatches(watches, Event{Type: EventSession, State: next})
	for _, w := range waiters {
		w.resolve(next, nil)
	}
}

func failPending(pending map[int64]*pendingRequest, err error) {
	xids := make([]int64, 0, len(pending))
	for xid := range pending {
		xids = append(xids, xid)
	}
	slices.Sort(xids)
	for _, xid := range xids {
		pending[xid].complete(nil, err)
	}
}

func resolveWatches(watches map[watchKey][]*Future[Event], event Event) {
	for key, events := range watches {
		e := event
		e.Path = key.path
		for _, fut := range events {
			fut.resolve(e, nil)
		}
	}
}

func failed[T any](c *Conn, err error) *Future[T] {
	fut := newFuture[T](c.exec)
	var zero T
	fut.resolve(zero, err)
	return fut
}

// call sends f and decodes successful responses with decode. Non-OK result
// codes become errors without reaching decode.
func call[T any](c *Conn, f *wire.Frame, decode func(*wire.Frame) (T, error)) *Future[T] {
	return callRaw(c, f, func(resp *wire.Frame) (T, error) {
		if err := FromCode(resp.Code); err != nil {
			var zero T
			return zero, err
		}
		return decode(resp)
	})
}

// callRaw is call for decoders that interpret result codes themselves.
func callRaw[T any](c *Conn, f *wire.Frame, decode func(*wire.Frame) (T, error)) *Future[T] {
	fut := newFuture[T](c.exec)
	c.enqueue(f, func(resp *wire.Frame, err error) {
		if err != nil {
			var zero T
			fut.resolve(zero, err)
			return
		}
		fut.resolve(decode(resp))
	}, nil)
	return fut
}

// watchRead issues a read that sets a watch of kind on path. The registration
// is recorded before the request is sent, so a notification can never beat
// it. If the read fails no watch was set and the event resolves as
// not-watching.
func watchRead[T any](
	c *Conn,
	path string,
	kind WatchKind,
	op wire.OpCode,
	decode func(*wire.Frame) (T, error),
	rearm func(string) *Future[*Watch[T]],
) *Future[*Watch[T]] {
	fut := newFuture[*Watch[T]](c.exec)
	if err := validatePath(path); err != nil {
		fut.resolve(nil, err)
		return fut
	}

	event := newFuture[Event](c.exec)
	f := c.readFrame(op, path, true)
	c.enqueue(f, func(resp *wire.Frame, err error) {
		var initial T
		if err == nil {
			initial, err = decode(resp)
		}
		if err != nil {
			c.mu.Lock()
			c.watches.remove(path, kind, event)
			state := c.state
			c.mu.Unlock()
			event.resolve(Event{Type: EventNotWatching, State: state, Path: path}, nil)
			fut.resolve(nil, err)
			return
		}
		fut.resolve(NewWatch(path, initial, event, rearm), nil)
	}, func() {
		c.watches.add(path, kind, event)
	})
	return fut
}

func decodeGet(resp *wire.Frame) (GetResult, error) {
	if err := FromCode(resp.Code); err != nil {
		return GetResult{}, err
	}
	return GetResult{Data: resp.Data, Stat: statFromWire(resp.Stat)}, nil
}

func decodeGetChildren(resp *wire.Frame) (GetChildrenResult, error) {
	if err := FromCode(resp.Code); err != nil {
		return GetChildrenResult{}, err
	}
	return GetChildrenResult{Children: resp.Children, ParentStat: statFromWire(resp.Stat)}, nil
}

// decodeExists treats a missing node as a successful answer.
func decodeExists(resp *wire.Frame) (ExistsResult, error) {
	switch resp.Code {
	case wire.CodeOK:
		stat := statFromWire(resp.Stat)
		return ExistsResult{Stat: &stat}, nil
	case wire.CodeNoNode:
		return ExistsResult{}, nil
	}
	return ExistsResult{}, FromCode(resp.Code)
}
