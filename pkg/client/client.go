package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mikekulinski/zkasync/pkg/session"
	"github.com/mikekulinski/zkasync/pkg/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// IdleTimeout is the session timeout asked for when none is configured.
	IdleTimeout = 10 * time.Second

	minBackoff = 50 * time.Millisecond
	maxBackoff = time.Second
)

var (
	ErrClosed         = errors.New("client: transport is closed")
	ErrSessionExpired = errors.New("client: session expired")
	ErrNoHosts        = errors.New("client: no hosts to connect to")
)

// Client is a transport that carries a single session over gRPC streams to
// an ensemble. When a stream breaks it reattaches to the same session,
// trying each host in turn, until the session expires or the client is
// closed.
type Client struct {
	hosts    []string
	clientID string
	timeout  time.Duration
	readOnly bool
	dialOpts []grpc.DialOption
	logger   *zap.Logger

	demux *session.Demux
	// out queues requests until a stream can take them.
	out *session.Mailbox

	mu        sync.Mutex
	conns     map[string]*grpc.ClientConn
	next      int
	sessionID int64
	closing   bool
	closed    bool
	cancel    context.CancelFunc
}

type Option func(*Client)

func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the session timeout to ask the ensemble for.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithReadOnly asks for a read-only session.
func WithReadOnly(readOnly bool) Option {
	return func(c *Client) {
		c.readOnly = readOnly
	}
}

func NewClient(hosts []string, opts ...Option) *Client {
	c := &Client{
		hosts:    hosts,
		clientID: uuid.New().String(),
		timeout:  IdleTimeout,
		logger:   zap.NewNop(),
		demux:    session.NewDemux(),
		out:      session.NewMailbox(),
		conns:    map[string]*grpc.ClientConn{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "client"), zap.String("clientID", c.clientID))
	return c
}

// sessionStream is one attachment of the session to a host.
type sessionStream struct {
	host     string
	stream   grpc.ClientStream
	cancel   context.CancelFunc
	timeout  time.Duration
	readOnly bool
	lastRecv atomic.Int64
}

// Connect establishes the session. States are delivered from here on, so
// the consumer of States should be running or about to run.
func (c *Client) Connect(ctx context.Context) error {
	if len(c.hosts) == 0 {
		return ErrNoHosts
	}
	s, err := c.attach(ctx, 0)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(runCtx, s)
	return nil
}

// attach opens a stream to the next host that accepts one and performs the
// session handshake.
func (c *Client) attach(ctx context.Context, resume int64) (*sessionStream, error) {
	var errs []error
	for range c.hosts {
		c.mu.Lock()
		host := c.hosts[c.next%len(c.hosts)]
		c.mu.Unlock()

		s, err := c.handshake(ctx, host, resume)
		if err == nil {
			return s, nil
		}
		if errors.Is(err, ErrSessionExpired) {
			return nil, err
		}
		c.logger.Debug("error attaching to host", zap.String("host", host), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", host, err))

		c.mu.Lock()
		c.next++
		c.mu.Unlock()
	}
	return nil, errors.Join(errs...)
}

func (c *Client) dial(ctx context.Context, host string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[host]; ok {
		return cc, nil
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStreamInterceptor(sessionStreamInterceptor(c.clientID, c.logger)),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec{})),
	}, c.dialOpts...)
	cc, err := grpc.DialContext(ctx, host, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing: %w", err)
	}
	c.conns[host] = cc
	return cc, nil
}

func (c *Client) handshake(ctx context.Context, host string, resume int64) (*sessionStream, error) {
	cc, err := c.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := cc.NewStream(streamCtx, &wire.SessionStreamDesc, wire.SessionMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error opening session stream: %w", err)
	}

	hello := &wire.Frame{
		Kind:      wire.KindRequest,
		Op:        wire.OpCreateSession,
		SessionID: resume,
		TimeoutMS: c.timeout.Milliseconds(),
		ReadOnly:  c.readOnly,
	}
	if err := stream.SendMsg(hello); err != nil {
		cancel()
		return nil, fmt.Errorf("error sending handshake: %w", err)
	}

	// Give up on hosts that accept the stream but never answer.
	timer := time.AfterFunc(c.timeout, cancel)
	reply := &wire.Frame{}
	err = stream.RecvMsg(reply)
	timer.Stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error receiving handshake: %w", err)
	}
	if reply.Kind == wire.KindState && reply.State == wire.StateExpiredSession {
		cancel()
		return nil, ErrSessionExpired
	}
	if reply.Code != wire.CodeOK {
		cancel()
		return nil, fmt.Errorf("handshake rejected with code %d", reply.Code)
	}

	c.mu.Lock()
	c.sessionID = reply.SessionID
	c.mu.Unlock()

	s := &sessionStream{
		host:     host,
		stream:   stream,
		cancel:   cancel,
		timeout:  time.Duration(reply.TimeoutMS) * time.Millisecond,
		readOnly: reply.ReadOnly,
	}
	if s.timeout <= 0 {
		s.timeout = c.timeout
	}
	s.lastRecv.Store(time.Now().UnixNano())
	c.logger.Info("attached to session",
		zap.String("host", host),
		zap.Int64("sessionID", reply.SessionID),
		zap.Duration("timeout", s.timeout),
	)
	return s, nil
}

// run owns the session for its lifetime: it receives on the current stream
// and reattaches when the stream breaks.
func (c *Client) run(ctx context.Context, s *sessionStream) {
	if !c.demux.Deliver(&wire.Frame{Kind: wire.KindState, State: wire.StateAssociating}) {
		s.cancel()
		return
	}
	for {
		if !c.deliverConnected(s) {
			s.cancel()
			return
		}
		go c.sendLoop(s, c.queue())
		err := c.recvLoop(s)
		s.cancel()
		if ctx.Err() != nil || c.isClosing() || errors.Is(err, ErrSessionExpired) {
			return
		}
		c.logger.Warn("lost session stream", zap.String("host", s.host), zap.Error(err))
		c.dropQueued()
		if !c.demux.Deliver(&wire.Frame{Kind: wire.KindState, State: wire.StateConnecting}) {
			return
		}

		s, err = c.reattach(ctx)
		if errors.Is(err, ErrSessionExpired) {
			c.demux.Deliver(&wire.Frame{Kind: wire.KindState, State: wire.StateExpiredSession, SessionID: c.SessionID()})
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) deliverConnected(s *sessionStream) bool {
	state := wire.StateConnected
	if s.readOnly {
		state = wire.StateReadOnly
	}
	return c.demux.Deliver(&wire.Frame{Kind: wire.KindState, State: state, SessionID: c.SessionID()})
}

// reattach retries every host with backoff until the session is back, has
// expired or ctx is done.
func (c *Client) reattach(ctx context.Context) (*sessionStream, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoff
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	return backoff.RetryNotifyWithData(func() (*sessionStream, error) {
		s, err := c.attach(ctx, c.SessionID())
		if errors.Is(err, ErrSessionExpired) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Debug("error reattaching", zap.Duration("retryIn", wait), zap.Error(err))
	})
}

func (c *Client) queue() *session.Mailbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

// dropQueued discards requests the broken stream never carried. The
// connection fails those when it sees the session reconnecting, so they must
// not reach the next stream.
func (c *Client) dropQueued() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.out.Close()
	c.out = session.NewMailbox()
}

// sendLoop writes queued requests to the stream and pings it whenever a third
// of the session timeout passes without a request. It also tears the stream
// down once nothing has been received for two thirds of the timeout.
func (c *Client) sendLoop(s *sessionStream, out *session.Mailbox) {
	ctx := s.stream.Context()
	interval := s.timeout / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sent := false

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-out.Out():
			if !ok {
				return
			}
			if err := s.stream.SendMsg(f); err != nil {
				c.logger.Debug("error sending frame", zap.Object("frame", f), zap.Error(err))
				s.cancel()
				return
			}
			sent = true
		case now := <-ticker.C:
			if now.Sub(time.Unix(0, s.lastRecv.Load())) > 2*interval {
				c.logger.Warn("session stream went idle", zap.String("host", s.host))
				s.cancel()
				return
			}
			if sent {
				sent = false
				continue
			}
			ping := &wire.Frame{Kind: wire.KindRequest, Xid: wire.PingXid, Op: wire.OpPing}
			if err := s.stream.SendMsg(ping); err != nil {
				s.cancel()
				return
			}
		}
	}
}

func (c *Client) recvLoop(s *sessionStream) error {
	for {
		f := &wire.Frame{}
		if err := s.stream.RecvMsg(f); err != nil {
			return err
		}
		s.lastRecv.Store(time.Now().UnixNano())

		if f.Kind == wire.KindResponse && f.Xid == wire.PingXid {
			continue
		}
		if !c.demux.Deliver(f) {
			return ErrClosed
		}
		if f.Kind == wire.KindState && f.State == wire.StateExpiredSession {
			return ErrSessionExpired
		}
	}
}

func (c *Client) SessionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing || c.closed
}

// Send queues f for the current stream, or the next one if the session is
// between streams.
func (c *Client) Send(ctx context.Context, f *wire.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if f.Op == wire.OpCloseSession {
		c.closing = true
	}
	c.out.Push(f)
	return nil
}

func (c *Client) Responses() <-chan *wire.Frame     { return c.demux.Responses() }
func (c *Client) Notifications() <-chan *wire.Frame { return c.demux.Notifications() }
func (c *Client) States() <-chan *wire.Frame        { return c.demux.States() }

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	conns := c.conns
	c.conns = map[string]*grpc.ClientConn{}
	out := c.out
	c.mu.Unlock()

	c.demux.Close()
	out.Close()
	var errs []error
	for _, cc := range conns {
		if err := cc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
