package session

import (
	"sync"
	"time"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// Session is the server side state of a single client session. It outlives
// the stream that created it until it is closed or expires.
type Session struct {
	ID       int64
	ClientID string
	Timeout  time.Duration
	ReadOnly bool

	mu        sync.Mutex
	lastHeard time.Time
	// Outbound holds the frames waiting to be written to whichever stream is
	// currently attached to this session.
	Outbound *Mailbox
}

func NewSession(id int64, clientID string, timeout time.Duration, readOnly bool) *Session {
	return &Session{
		ID:        id,
		ClientID:  clientID,
		Timeout:   timeout,
		ReadOnly:  readOnly,
		lastHeard: time.Now(),
		Outbound:  NewMailbox(),
	}
}

// Touch records that the client was heard from at now.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeard = now
}

// Expired reports whether the client has been silent for longer than the timeout.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastHeard) > s.Timeout
}

// Push queues f for the client.
func (s *Session) Push(f *wire.Frame) {
	s.Outbound.Push(f)
}

// Mailbox is an unbounded FIFO of frames. Push never blocks, so producers
// holding locks can hand frames off safely. Frames are read from Out.
type Mailbox struct {
	mu     sync.Mutex
	queue  []*wire.Frame
	closed bool
	signal chan struct{}
	out    chan *wire.Frame
	done   chan struct{}
}

func NewMailbox() *Mailbox {
	m := &Mailbox{
		signal: make(chan struct{}, 1),
		out:    make(chan *wire.Frame),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Push appends f. It is a no-op once the mailbox is closed.
func (m *Mailbox) Push(f *wire.Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, f)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Out yields frames in push order. It is closed once the mailbox is closed.
func (m *Mailbox) Out() <-chan *wire.Frame {
	return m.out
}

// Close stops delivery. Frames not yet delivered are dropped.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *Mailbox) run() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			}
		}
		f := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- f:
		case <-m.done:
			return
		}
	}
}
