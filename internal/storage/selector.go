package storage

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAlreadyPromoted is returned by Promote after the one allowed swap.
var ErrAlreadyPromoted = errors.New("storage: driver already promoted")

// Binding is a snapshot of the active driver. Operations capture one
// Binding and use it throughout, so no operation spans two drivers.
type Binding struct {
	Driver     Driver
	Generation uint64
}

// Remote reports whether the binding points at the remote backend.
func (b Binding) Remote() bool {
	return b.Driver != nil && b.Driver.Name() == DriverRemote
}

// Selector holds the active driver. It starts with an initial driver and
// may be promoted exactly once; it never goes back.
type Selector struct {
	cur atomic.Pointer[Binding]

	mu        sync.Mutex
	promoted  bool
	listeners []func(Binding)
}

// NewSelector returns a selector bound to initial at generation 1.
func NewSelector(initial Driver) *Selector {
	s := &Selector{}
	s.cur.Store(&Binding{Driver: initial, Generation: 1})
	return s
}

// Current returns the active binding.
func (s *Selector) Current() Binding {
	return *s.cur.Load()
}

// IsRemote reports whether the active driver is the remote backend.
func (s *Selector) IsRemote() bool {
	return s.Current().Remote()
}

// Promote swaps in d and notifies swap listeners. Only the first call
// succeeds.
func (s *Selector) Promote(d Driver) error {
	s.mu.Lock()
	if s.promoted {
		s.mu.Unlock()
		return ErrAlreadyPromoted
	}
	s.promoted = true
	next := &Binding{Driver: d, Generation: s.cur.Load().Generation + 1}
	s.cur.Store(next)
	listeners := append([]func(Binding){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(*next)
	}
	return nil
}

// OnSwap registers fn to run after a successful Promote.
func (s *Selector) OnSwap(fn func(Binding)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
