// Package event provides a small typed publish/subscribe primitive.
//
// [Emitter] replaces the per-type add/remove/fire listener triads: audio
// sources, RPC transports, and tests all embed an Emitter per event kind
// instead of managing their own callback lists. The zero value is ready to use
// and all methods are safe for concurrent use.
package event

import "sync"

type handler[T any] struct {
	id   uint64
	fn   func(T)
	once bool
}

// Emitter fans a value of type T out to every registered handler.
type Emitter[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []handler[T]
}

// On registers fn and returns a function that removes it. The returned
// function is idempotent.
func (e *Emitter[T]) On(fn func(T)) (off func()) {
	return e.add(fn, false)
}

// Once registers fn for a single delivery. It is removed before it is called,
// so a re-entrant Emit never delivers to it twice.
func (e *Emitter[T]) Once(fn func(T)) (off func()) {
	return e.add(fn, true)
}

func (e *Emitter[T]) add(fn func(T), once bool) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, handler[T]{id: id, fn: fn, once: once})
	e.mu.Unlock()

	var offOnce sync.Once
	return func() {
		offOnce.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers v to a snapshot of the registered handlers in registration
// order. Handlers run on the caller's goroutine, outside the lock, so they may
// register or remove handlers themselves; a handler removed by an earlier one
// during the same Emit is skipped.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]handler[T], len(e.handlers))
	copy(snapshot, e.handlers)
	kept := e.handlers[:0:0]
	for _, h := range e.handlers {
		if !h.once {
			kept = append(kept, h)
		}
	}
	e.handlers = kept
	e.mu.Unlock()

	for _, h := range snapshot {
		if !h.once && !e.registered(h.id) {
			continue
		}
		h.fn(v)
	}
}

func (e *Emitter[T]) registered(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.handlers {
		if h.id == id {
			return true
		}
	}
	return false
}

// Len returns the number of registered handlers.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

// Clear removes every handler.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.handlers = nil
	e.mu.Unlock()
}
