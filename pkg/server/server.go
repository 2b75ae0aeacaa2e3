package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mikekulinski/zkasync/pkg/persistence"
	"github.com/mikekulinski/zkasync/pkg/session"
	"github.com/mikekulinski/zkasync/pkg/wire"
	"github.com/mikekulinski/zkasync/pkg/znode"
	"go.uber.org/zap"
)

const (
	DefaultSessionTimeout = 10 * time.Second
	MinSessionTimeout     = 100 * time.Millisecond
	MaxSessionTimeout     = time.Minute
)

var ErrUnknownSession = errors.New("server: unknown session")

type Server struct {
	db      *znode.DB
	journal *persistence.Journal
	logger  *zap.Logger

	readOnly       bool
	sessionTimeout time.Duration

	// mu protects sessions and lastSessionID. It is never held while calling into the db.
	mu sync.Mutex
	// Sessions is a map of session id to session for all the sessions
	// that are currently alive, attached to a stream or not.
	sessions      map[int64]*session.Session
	lastSessionID int64
}

type Option func(*Server)

// WithJournal persists every committed change to journal and rebuilds the tree
// from it on start.
func WithJournal(journal *persistence.Journal) Option {
	return func(s *Server) {
		s.journal = journal
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithReadOnly makes every session read-only.
func WithReadOnly(readOnly bool) Option {
	return func(s *Server) {
		s.readOnly = readOnly
	}
}

func WithSessionTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.sessionTimeout = timeout
	}
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:         zap.NewNop(),
		sessionTimeout: DefaultSessionTimeout,
		sessions:       map[int64]*session.Session{},
		lastSessionID:  time.Now().UnixMilli() << 16,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.db = znode.NewDB(znode.WithNotifier(s.notify))

	if s.journal != nil {
		if err := s.recover(); err != nil {
			return nil, fmt.Errorf("error recovering from the journal: %w", err)
		}
	}
	return s, nil
}

// recover replays the journal and then starts a new epoch so new zxids sort
// after everything already on disk.
func (s *Server) recover() error {
	effects, err := s.journal.ReadAll()
	if err != nil {
		return err
	}
	for _, effect := range effects {
		if err := s.db.Replay(effect); err != nil {
			s.logger.Warn("skipping journal entry", zap.Int64("zxid", effect.Zxid), zap.Error(err))
		}
	}
	last := s.db.LastZxid()
	s.db.StartEpoch(last.Epoch() + 1)
	s.logger.Info("recovered from journal",
		zap.Int("entries", len(effects)),
		zap.Int64("lastZxid", int64(last)),
	)
	return nil
}

// DB exposes the tree, mostly for tests.
func (s *Server) DB() *znode.DB {
	return s.db
}

// StartSession creates a session, or reattaches to an existing one when
// resume is non-zero.
func (s *Server) StartSession(clientID string, timeout time.Duration, resume int64, readOnly bool) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resume != 0 {
		sess, ok := s.sessions[resume]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSession, resume)
		}
		sess.Touch(time.Now())
		return sess, nil
	}

	s.lastSessionID++
	sess := session.NewSession(s.lastSessionID, clientID, s.negotiateTimeout(timeout), readOnly || s.readOnly)
	s.sessions[sess.ID] = sess
	s.logger.Info("started session",
		zap.Int64("sessionID", sess.ID),
		zap.String("clientID", clientID),
		zap.Duration("timeout", sess.Timeout),
		zap.Bool("readOnly", sess.ReadOnly),
	)
	return sess, nil
}

func (s *Server) negotiateTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return s.sessionTimeout
	}
	return min(max(requested, MinSessionTimeout), MaxSessionTimeout)
}

func (s *Server) lookup(id int64) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// CloseSession ends the session and deletes every ephemeral node it owns. The
// session's mailbox is left open so queued frames can still be delivered.
func (s *Server) CloseSession(id int64) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.db.RemoveWatches(id)
	// Delete all ephemeral nodes associated with this session.
	for _, path := range s.db.Ephemerals(id) {
		resp, effects := s.db.Apply(id, &wire.Frame{Kind: wire.KindRequest, Op: wire.OpDelete, Path: path, Version: -1})
		if resp.Code != wire.CodeOK {
			s.logger.Warn("error deleting ephemeral node", zap.String("path", path), zap.Int32("code", resp.Code))
			continue
		}
		s.persist(effects)
	}
	s.logger.Info("closed session", zap.Int64("sessionID", id))
}

// ExpireSession closes the session and tells its client.
func (s *Server) ExpireSession(id int64) {
	sess, ok := s.lookup(id)
	if !ok {
		return
	}
	s.CloseSession(id)
	sess.Push(&wire.Frame{Kind: wire.KindState, State: wire.StateExpiredSession, SessionID: id})
	s.logger.Info("expired session", zap.Int64("sessionID", id))
}

// Run expires sessions that stop heartbeating until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(MinSessionTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range s.expired(now) {
				s.ExpireSession(id)
			}
		}
	}
}

func (s *Server) expired(now time.Time) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Server) notify(id int64, f *wire.Frame) {
	if sess, ok := s.lookup(id); ok {
		sess.Push(f)
	}
}

func (s *Server) persist(effects []*wire.Frame) {
	if s.journal == nil {
		return
	}
	for _, effect := range effects {
		if err := s.journal.Append(effect); err != nil {
			s.logger.Error("error appending to the journal", zap.Int64("zxid", effect.Zxid), zap.Error(err))
		}
	}
}

// Handle processes a single request for sess and returns its response.
func (s *Server) Handle(sess *session.Session, req *wire.Frame) *wire.Frame {
	if _, ok := s.lookup(sess.ID); !ok {
		return req.Reply(wire.CodeSessionExpired)
	}
	sess.Touch(time.Now())

	if req.Op.IsWrite() && sess.ReadOnly {
		return req.Reply(wire.CodeNotReadOnly)
	}
	if err := validateRequest(req); err != nil {
		s.logger.Debug("rejecting request", zap.Object("frame", req), zap.Error(err))
		return req.Reply(wire.CodeBadArguments)
	}

	resp := req.Reply(wire.CodeOK)
	switch req.Op {
	case wire.OpPing:
	case wire.OpSync:
		// Requests are applied in order as they arrive, so everything issued
		// before the sync is already visible.
		resp.Path = req.Path
	case wire.OpGetData:
		data, stat, err := s.db.GetData(sess.ID, req.Path, req.Watch)
		resp.Code = znode.CodeOf(err)
		resp.Data = data
		resp.Stat = stat
	case wire.OpExists:
		stat := s.db.Exists(sess.ID, req.Path, req.Watch)
		if stat == nil {
			resp.Code = wire.CodeNoNode
		}
		resp.Stat = stat
	case wire.OpGetChildren2:
		children, stat, err := s.db.GetChildren(sess.ID, req.Path, req.Watch)
		resp.Code = znode.CodeOf(err)
		resp.Children = children
		resp.Stat = stat
	case wire.OpGetACL:
		acl, stat, err := s.db.GetACL(req.Path)
		resp.Code = znode.CodeOf(err)
		resp.ACL = acl
		resp.Stat = stat
	case wire.OpCloseSession:
		s.CloseSession(sess.ID)
	case wire.OpCreate, wire.OpCreateContainer, wire.OpDelete, wire.OpSetData, wire.OpSetACL, wire.OpCheck, wire.OpMulti:
		var effects []*wire.Frame
		resp, effects = s.db.Apply(sess.ID, req)
		s.persist(effects)
	default:
		resp.Code = wire.CodeUnimplemented
	}
	s.logger.Debug("handled request", zap.Int64("sessionID", sess.ID), zap.Object("frame", resp))
	return resp
}
