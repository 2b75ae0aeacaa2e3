package session

import (
	"sync"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// Demux splits an ordered stream of frames into one channel per kind. The
// channels are unbuffered and Deliver blocks until the frame is taken, so a
// single reader of all three channels sees frames in the order they were
// delivered.
type Demux struct {
	responses     chan *wire.Frame
	notifications chan *wire.Frame
	states        chan *wire.Frame

	done chan struct{}
	once sync.Once
}

func NewDemux() *Demux {
	return &Demux{
		responses:     make(chan *wire.Frame),
		notifications: make(chan *wire.Frame),
		states:        make(chan *wire.Frame),
		done:          make(chan struct{}),
	}
}

func (d *Demux) Responses() <-chan *wire.Frame     { return d.responses }
func (d *Demux) Notifications() <-chan *wire.Frame { return d.notifications }
func (d *Demux) States() <-chan *wire.Frame        { return d.states }

// Deliver hands f to the channel for its kind. It returns false once the
// demux is closed. Frames of any other kind are dropped.
func (d *Demux) Deliver(f *wire.Frame) bool {
	var ch chan *wire.Frame
	switch f.Kind {
	case wire.KindResponse:
		ch = d.responses
	case wire.KindNotification:
		ch = d.notifications
	case wire.KindState:
		ch = d.states
	default:
		return true
	}
	select {
	case ch <- f:
		return true
	case <-d.done:
		return false
	}
}

// Forward delivers every frame from in until in is closed or the demux is.
func (d *Demux) Forward(in <-chan *wire.Frame) {
	for f := range in {
		if !d.Deliver(f) {
			return
		}
	}
}

// Close unblocks every pending Deliver.
func (d *Demux) Close() {
	d.once.Do(func() {
		close(d.done)
	})
}

func (d *Demux) Done() <-chan struct{} {
	return d.done
}
