package server

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mikekulinski/zkasync/pkg/session"
	"github.com/mikekulinski/zkasync/pkg/utils"
	"github.com/mikekulinski/zkasync/pkg/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var _ wire.EnsembleServer = (*Server)(nil)

// Session serves one session stream. The first frame must be a createSession
// request, which may name an existing session to reattach to. Losing the
// stream leaves the session alive until it expires.
func (s *Server) Session(stream grpc.ServerStream) error {
	ctx := stream.Context()
	// Extract the clientID from the message headers.
	clientID, ok := utils.ExtractClientIDHeader(ctx)
	if !ok {
		return fmt.Errorf("missing ClientID in the headers")
	}

	hello := &wire.Frame{}
	if err := stream.RecvMsg(hello); err != nil {
		return fmt.Errorf("error receiving the session handshake: %w", err)
	}
	if hello.Op != wire.OpCreateSession {
		return fmt.Errorf("expected %s as the first request, got %s", wire.OpCreateSession, hello.Op)
	}

	timeout := time.Duration(hello.TimeoutMS) * time.Millisecond
	sess, err := s.StartSession(clientID, timeout, hello.SessionID, hello.ReadOnly)
	if errors.Is(err, ErrUnknownSession) {
		return stream.SendMsg(&wire.Frame{Kind: wire.KindState, State: wire.StateExpiredSession, SessionID: hello.SessionID})
	}
	if err != nil {
		return fmt.Errorf("error starting session: %w", err)
	}
	logger := s.logger.With(zap.Int64("sessionID", sess.ID), zap.String("clientID", clientID))

	reply := hello.Reply(wire.CodeOK)
	reply.SessionID = sess.ID
	reply.TimeoutMS = sess.Timeout.Milliseconds()
	reply.ReadOnly = sess.ReadOnly
	if err := stream.SendMsg(reply); err != nil {
		return err
	}

	done := make(chan struct{})
	go s.continuouslyReceiveMessages(sess, stream, done, logger)

	var recvDone <-chan struct{} = done

	for {
		select {
		case f, ok := <-sess.Outbound.Out():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(f); err != nil {
				logger.Warn("error sending frame", zap.Object("frame", f), zap.Error(err))
				return err
			}
			if isFinal(f) {
				sess.Outbound.Close()
				return nil
			}
		case <-recvDone:
			// A closed session still has its final frame queued.
			if _, live := s.lookup(sess.ID); live {
				return nil
			}
			recvDone = nil
		case <-ctx.Done():
			return nil
		}
	}
}

// isFinal reports whether f is the last frame of a session.
func isFinal(f *wire.Frame) bool {
	switch f.Kind {
	case wire.KindResponse:
		return f.Op == wire.OpCloseSession
	case wire.KindState:
		return f.State == wire.StateExpiredSession
	}
	return false
}

func (s *Server) continuouslyReceiveMessages(sess *session.Session, stream grpc.ServerStream, done chan<- struct{}, logger *zap.Logger) {
	// Regardless of how we exit this function, signal the send loop so the
	// stream is torn down.
	defer close(done)

	for {
		req := &wire.Frame{}
		err := stream.RecvMsg(req)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logger.Debug("error receiving message from session stream", zap.Error(err))
			return
		}
		sess.Push(s.Handle(sess, req))
	}
}
