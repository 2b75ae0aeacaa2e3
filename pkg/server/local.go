package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/mikekulinski/zkasync/pkg/session"
	"github.com/mikekulinski/zkasync/pkg/wire"
)

var ErrLocalClosed = errors.New("server: local transport is closed")

// Local is an in-process transport to a Server. Requests are handled
// synchronously on Send and every frame the session receives is delivered in
// order, as it would be over a stream.
type Local struct {
	server *Server
	sess   *session.Session
	demux  *session.Demux

	mu     sync.Mutex
	closed bool
}

// NewLocal starts a new session on server and reports it as connected.
func NewLocal(server *Server, readOnly bool) (*Local, error) {
	sess, err := server.StartSession("local-"+uuid.NewString(), 0, 0, readOnly)
	if err != nil {
		return nil, err
	}
	l := &Local{
		server: server,
		sess:   sess,
		demux:  session.NewDemux(),
	}
	sess.Push(&wire.Frame{Kind: wire.KindState, State: wire.StateAssociating})
	l.pushConnected()
	go l.demux.Forward(sess.Outbound.Out())
	return l, nil
}

// SessionID is the id of the session backing the transport.
func (l *Local) SessionID() int64 {
	return l.sess.ID
}

func (l *Local) pushConnected() {
	state := wire.StateConnected
	if l.sess.ReadOnly {
		state = wire.StateReadOnly
	}
	l.sess.Push(&wire.Frame{Kind: wire.KindState, State: state, SessionID: l.sess.ID})
}

func (l *Local) Send(ctx context.Context, f *wire.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLocalClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// The server gets its own copy, the same as it would off the wire.
	l.sess.Push(l.server.Handle(l.sess, f.Clone()))
	return nil
}

func (l *Local) Responses() <-chan *wire.Frame     { return l.demux.Responses() }
func (l *Local) Notifications() <-chan *wire.Frame { return l.demux.Notifications() }
func (l *Local) States() <-chan *wire.Frame        { return l.demux.States() }

// Disconnect simulates losing the connection. The session stays alive.
func (l *Local) Disconnect() {
	l.sess.Push(&wire.Frame{Kind: wire.KindState, State: wire.StateConnecting})
}

// Reconnect simulates reattaching to the session after Disconnect.
func (l *Local) Reconnect() {
	l.pushConnected()
}

// Expire expires the session as if it had stopped heartbeating.
func (l *Local) Expire() {
	l.server.ExpireSession(l.sess.ID)
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	// A no-op if the client already closed the session.
	l.server.CloseSession(l.sess.ID)
	l.demux.Close()
	l.sess.Outbound.Close()
	return nil
}
