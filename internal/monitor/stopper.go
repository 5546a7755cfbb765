package monitor

import "sync"

// Stopper is a late-bound handle on the registry. The lifecycle manager
// needs a stopper at construction, but the registry is built after the
// dispatcher, which wraps the lifecycle; Bind closes the loop once the
// registry exists. Stop before Bind is a no-op.
type Stopper struct {
	mu  sync.Mutex
	reg *Registry
}

func NewStopper() *Stopper {
	return &Stopper{}
}

func (s *Stopper) Bind(reg *Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg = reg
}

func (s *Stopper) Stop(orderRef string) {
	s.mu.Lock()
	reg := s.reg
	s.mu.Unlock()
	if reg != nil {
		reg.Stop(orderRef)
	}
}
