package syncx

import (
	"sync"
	"sync/atomic"
)

// Lazy builds a value on first use. A failed build is not cached; the next
// Get runs the loader again. Only Get waits on a running loader; Peek, Loaded
// and Reset never block.
type Lazy[T any] struct {
	initMu sync.Mutex
	loader func() (T, error)
	value  atomic.Pointer[T]
}

// NewLazy wraps loader.
func NewLazy[T any](loader func() (T, error)) *Lazy[T] {
	return &Lazy[T]{loader: loader}
}

// Get returns the loaded value, running the loader if needed. Concurrent
// callers share one loader run.
func (l *Lazy[T]) Get() (T, error) {
	if v := l.value.Load(); v != nil {
		return *v, nil
	}
	l.initMu.Lock()
	defer l.initMu.Unlock()
	if v := l.value.Load(); v != nil {
		return *v, nil
	}
	v, err := l.loader()
	if err != nil {
		var zero T
		return zero, err
	}
	l.value.Store(&v)
	return v, nil
}

// Peek returns the value only if it is already loaded.
func (l *Lazy[T]) Peek() (T, bool) {
	if v := l.value.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// Loaded reports whether the loader has succeeded.
func (l *Lazy[T]) Loaded() bool { return l.value.Load() != nil }

// Reset forgets the value and returns it so the caller can release it. A
// loader still running when Reset is called publishes its value afterwards.
func (l *Lazy[T]) Reset() (T, bool) {
	if v := l.value.Swap(nil); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}
