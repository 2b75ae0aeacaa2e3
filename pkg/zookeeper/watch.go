package zookeeper

import (
	"slices"
	"sync/atomic"
)

type watchKey struct {
	path string
	kind WatchKind
}

// registry tracks outstanding watch registrations. It is not safe for
// concurrent use; the connection guards it with its own mutex.
type registry struct {
	watches map[watchKey][]*Future[Event]
}

func newRegistry() *registry {
	return &registry{watches: map[watchKey][]*Future[Event]{}}
}

func (r *registry) add(path string, kind WatchKind, event *Future[Event]) {
	key := watchKey{path: path, kind: kind}
	r.watches[key] = append(r.watches[key], event)
}

// remove drops a single registration, e.g. when the read that would have set
// the server-side watch failed.
func (r *registry) remove(path string, kind WatchKind, event *Future[Event]) {
	key := watchKey{path: path, kind: kind}
	events := r.watches[key]
	for i, e := range events {
		if e == event {
			events = append(events[:i], events[i+1:]...)
			break
		}
	}
	if len(events) == 0 {
		delete(r.watches, key)
	} else {
		r.watches[key] = events
	}
}

// kindsFor returns the watch tables an event type fires. A not-watching
// event names its table explicitly; zero means all of them.
func kindsFor(typ EventType, kind WatchKind) []WatchKind {
	switch typ {
	case EventCreated:
		return []WatchKind{WatchExist}
	case EventChanged:
		return []WatchKind{WatchData, WatchExist}
	case EventErased:
		return []WatchKind{WatchData, WatchExist, WatchChild}
	case EventChild:
		return []WatchKind{WatchChild}
	case EventNotWatching:
		if kind != 0 {
			return []WatchKind{kind}
		}
		return []WatchKind{WatchData, WatchExist, WatchChild}
	}
	return nil
}

// take removes and returns every registration a notification fires. A
// notification that names its table only fires that table.
func (r *registry) take(path string, typ EventType, kind WatchKind) []*Future[Event] {
	kinds := kindsFor(typ, kind)
	if kind != 0 {
		if !slices.Contains(kinds, kind) {
			return nil
		}
		kinds = []WatchKind{kind}
	}
	var fired []*Future[Event]
	for _, k := range kinds {
		key := watchKey{path: path, kind: k}
		fired = append(fired, r.watches[key]...)
		delete(r.watches, key)
	}
	return fired
}

// drain removes and returns every registration.
func (r *registry) drain() map[watchKey][]*Future[Event] {
	all := r.watches
	r.watches = map[watchKey][]*Future[Event]{}
	return all
}

func (r *registry) len() int {
	n := 0
	for _, events := range r.watches {
		n += len(events)
	}
	return n
}

// Watch is the outcome of a watched read: the read's result plus the one
// event the registration will deliver.
type Watch[T any] struct {
	// Initial is the result of the read that set the watch.
	Initial T

	path     string
	event    *Future[Event]
	rearm    func(path string) *Future[*Watch[T]]
	consumed atomic.Bool
}

// NewWatch builds a watch handle. rearm is called by Next to register a new
// watch on the same path.
func NewWatch[T any](path string, initial T, event *Future[Event], rearm func(path string) *Future[*Watch[T]]) *Watch[T] {
	return &Watch[T]{
		Initial: initial,
		path:    path,
		event:   event,
		rearm:   rearm,
	}
}

func (w *Watch[T]) Path() string {
	return w.path
}

// Event resolves with the single event of this registration.
func (w *Watch[T]) Event() *Future[Event] {
	return w.event
}

// Next registers a fresh watch on the same path and kind. It may only be
// called once per handle and only after Event has resolved; otherwise the
// returned future fails with InvalidArguments.
func (w *Watch[T]) Next() *Future[*Watch[T]] {
	if !w.event.Ready() {
		return Failed[*Watch[T]](errorf(ErrInvalidArguments, "watch on %s has not delivered its event yet", w.path))
	}
	if !w.consumed.CompareAndSwap(false, true) {
		return Failed[*Watch[T]](errorf(ErrInvalidArguments, "watch on %s was already re-armed", w.path))
	}
	return w.rearm(w.path)
}
