package streaming

import (
	"fmt"
	"sync"
)

// Registry tracks the session token of each [Kind] on one transport. At most
// one session per kind may be outstanding at a time: the backend namespaces
// its procedures per kind, not per token, so two concurrent sessions of the
// same kind cannot be told apart.
//
// A slot is reserved by [Registry.Begin] before the init call is issued, so a
// concurrent second start is rejected even while the first has no token yet.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	gen   uint64
	slots map[Kind]*slotState
}

type slotState struct {
	gen    uint64
	token  string
	cancel []func()
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[Kind]*slotState)}
}

// Begin reserves the slot for kind. It fails with an error wrapping
// [ErrSessionInProgress] when a session of that kind is outstanding.
func (r *Registry) Begin(kind Kind) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.slots[kind]; ok {
		if cur.token != "" {
			return nil, fmt.Errorf("streaming: %s %q %w", kind.sessionNoun(), cur.token, ErrSessionInProgress)
		}
		return nil, fmt.Errorf("streaming: %s %w", kind.sessionNoun(), ErrSessionInProgress)
	}
	r.gen++
	r.slots[kind] = &slotState{gen: r.gen}
	return &Slot{r: r, kind: kind, gen: r.gen}, nil
}

// Set stores token for kind, taking the slot over from whoever held it.
func (r *Registry) Set(kind Kind, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.slots[kind]; ok {
		cur.token = token
		return
	}
	r.gen++
	r.slots[kind] = &slotState{gen: r.gen, token: token}
}

// Clear releases the slot for kind without running its cancel hooks.
func (r *Registry) Clear(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, kind)
}

// Token returns the token held for kind, or "" when none is set.
func (r *Registry) Token(kind Kind) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.slots[kind]; ok {
		return cur.token
	}
	return ""
}

// IsActive reports whether a session of kind is outstanding, including one
// that is reserved but has not received its token yet.
func (r *Registry) IsActive(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[kind]
	return ok
}

// IsAnyActive reports whether any session is outstanding.
func (r *Registry) IsAnyActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots) > 0
}

// CancelAll releases every slot and then runs their cancel hooks outside the
// lock.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	var hooks []func()
	for kind, s := range r.slots {
		hooks = append(hooks, s.cancel...)
		delete(r.slots, kind)
	}
	r.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Slot is a reservation returned by [Registry.Begin]. Its methods only act
// while the reservation is current: once the slot was cleared (or cancelled)
// and possibly reserved again by a newer session, a stale Slot is inert.
type Slot struct {
	r    *Registry
	kind Kind
	gen  uint64
}

// Kind returns the session kind this slot was reserved for.
func (s *Slot) Kind() Kind { return s.kind }

// current returns the live state for s. The caller must hold s.r.mu.
func (s *Slot) current() *slotState {
	cur, ok := s.r.slots[s.kind]
	if !ok || cur.gen != s.gen {
		return nil
	}
	return cur
}

// Set stores the session token. It reports false when the slot is stale.
func (s *Slot) Set(token string) bool {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	cur := s.current()
	if cur == nil {
		return false
	}
	cur.token = token
	return true
}

// Token returns the session token, or "" when none is set or the slot is
// stale.
func (s *Slot) Token() string {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if cur := s.current(); cur != nil {
		return cur.token
	}
	return ""
}

// Active reports whether the reservation is still current.
func (s *Slot) Active() bool {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.current() != nil
}

// OnCancel registers fn to run when [Registry.CancelAll] releases this slot.
// It reports false, without registering, when the slot is stale.
func (s *Slot) OnCancel(fn func()) bool {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	cur := s.current()
	if cur == nil {
		return false
	}
	cur.cancel = append(cur.cancel, fn)
	return true
}

// Clear releases the reservation. It reports whether this call released it;
// clearing a stale slot never touches a newer session.
func (s *Slot) Clear() bool {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.current() == nil {
		return false
	}
	delete(s.r.slots, s.kind)
	return true
}
