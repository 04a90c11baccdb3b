package session

import "sync"

// future is a single-resolution completion handle. Any number of goroutines
// may wait on it; only the first resolve takes effect.
type future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// resolve completes the future and reports whether this call did so.
func (f *future[T]) resolve(val T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *future[T]) isResolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// result must only be called after done is closed.
func (f *future[T]) result() (T, error) {
	return f.val, f.err
}
