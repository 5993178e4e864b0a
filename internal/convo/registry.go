package convo

import (
	"context"
	"sync"
	"time"
)

// Registry tracks the live conversations of one physical channel. At most one
// conversation is active at a time; displaced or ended conversations are
// removed so a returning person always starts a fresh conversation id.
type Registry struct {
	mu      sync.RWMutex
	states  map[string]*State
	current *State
	inTurn  bool
	idleTTL time.Duration
	onEvict func(*State)
}

func NewRegistry(idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = 2 * time.Minute
	}
	return &Registry{
		states:  make(map[string]*State),
		idleTTL: idleTTL,
	}
}

// SetEvictHook installs the callback invoked for every conversation the
// registry drops (idle eviction, switch displacement, explicit end). The hook
// runs outside the registry lock.
func (r *Registry) SetEvictHook(hook func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = hook
}

// Active returns the current conversation, or nil when none is open.
func (r *Registry) Active() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// GetOrCreate returns the conversation for p, creating one if needed, and
// makes it current.
func (r *Registry) GetOrCreate(p PersonID) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(p)
}

func (r *Registry) getOrCreateLocked(p PersonID) *State {
	s, ok := r.states[p.key()]
	if !ok {
		s = NewState(p)
		r.states[p.key()] = s
	}
	r.current = s
	return s
}

// SwitchTo makes p the active person. It returns the displaced conversation
// when there was one with content still awaiting a summary, plus the (new or
// resumed) conversation for p. Switching to the already-active person is a
// no-op that returns (nil, current).
func (r *Registry) SwitchTo(p PersonID) (displaced, active *State) {
	r.mu.Lock()
	prev := r.current
	if prev != nil && prev.Person.Equal(p) {
		r.mu.Unlock()
		return nil, prev
	}
	if prev != nil {
		delete(r.states, prev.Person.key())
	}
	cur := r.getOrCreateLocked(p)
	r.mu.Unlock()

	if prev == nil || prev.Empty() || prev.SummaryTaken() {
		return nil, cur
	}
	return prev, cur
}

// EndActive closes the current conversation and removes it from the registry.
// It returns the closed state when it has content awaiting a summary.
func (r *Registry) EndActive() *State {
	r.mu.Lock()
	prev := r.current
	if prev != nil {
		delete(r.states, prev.Person.key())
	}
	r.current = nil
	r.mu.Unlock()

	if prev == nil || prev.Empty() || prev.SummaryTaken() {
		return nil
	}
	return prev
}

// BeginTurn marks the active conversation as mid-turn. While a turn is in
// flight the janitor leaves the current state alone; the worker is the only
// goroutine allowed to touch its messages.
func (r *Registry) BeginTurn() {
	r.mu.Lock()
	r.inTurn = true
	r.mu.Unlock()
}

func (r *Registry) EndTurn() {
	r.mu.Lock()
	r.inTurn = false
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// StartJanitor evicts idle conversations on a fixed interval until ctx is
// cancelled.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EvictIdle(time.Now().UTC())
			}
		}
	}()
}

// EvictIdle drops every conversation whose last activity is older than the
// idle TTL and passes each one to the evict hook. The current conversation is
// never touched while a turn is in flight, not even to read its activity
// time; the worker is still appending to it.
func (r *Registry) EvictIdle(now time.Time) {
	var evicted []*State

	r.mu.Lock()
	for key, s := range r.states {
		if r.inTurn && s == r.current {
			continue
		}
		if now.Sub(s.LastActivityAt) < r.idleTTL {
			continue
		}
		delete(r.states, key)
		if r.current == s {
			r.current = nil
		}
		evicted = append(evicted, s)
	}
	hook := r.onEvict
	r.mu.Unlock()

	if hook == nil {
		return
	}
	for _, s := range evicted {
		hook(s)
	}
}
