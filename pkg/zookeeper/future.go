package zookeeper

import (
	"context"
	"sync"
)

// Executor runs continuations attached with Then.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) {
	f(fn)
}

// Inline runs continuations on whichever goroutine resolves the future. For
// a connection this is its delivery goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Future is a single-assignment result cell. It resolves exactly once, with
// either a value or an error.
type Future[T any] struct {
	exec Executor
	done chan struct{}

	mu        sync.Mutex
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any](exec Executor) *Future[T] {
	if exec == nil {
		exec = Inline
	}
	return &Future[T]{
		exec: exec,
		done: make(chan struct{}),
	}
}

// NewFuture returns an unresolved future and the function that resolves it.
// Calls to resolve after the first are ignored. It is meant for Connection
// implementations outside this package, such as test doubles.
func NewFuture[T any](exec Executor) (*Future[T], func(T, error)) {
	f := newFuture[T](exec)
	return f, func(v T, err error) { f.resolve(v, err) }
}

// Resolved returns a future that already holds v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T](nil)
	f.resolve(v, nil)
	return f
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T](nil)
	var zero T
	f.resolve(zero, err)
	return f
}

// resolve stores the outcome and runs continuations. It reports whether this
// call was the one that resolved the future.
func (f *Future[T]) resolve(v T, err error) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		f.exec.Execute(func() { cb(v, err) })
	}
	return true
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the future has resolved.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get waits for the result. Giving up through ctx does not affect the
// operation itself.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to run with the result. If the future already resolved,
// fn is scheduled immediately.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	f.exec.Execute(func() { fn(v, err) })
}

// Map derives a future whose value is fn applied to f's value. Errors pass
// through without calling fn.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := newFuture[U](f.exec)
	f.Then(func(v T, err error) {
		if err != nil {
			var zero U
			out.resolve(zero, err)
			return
		}
		out.resolve(fn(v))
	})
	return out
}
