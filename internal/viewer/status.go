package viewer

import "sync"

// Status is the single busy indicator shown while a load or export runs.
// Last writer wins.
type Status struct {
	mu       sync.Mutex
	visible  bool
	text     string
	listener func(visible bool, text string)
}

// SetListener registers fn to receive every change. fn is called without
// the lock held.
func (s *Status) SetListener(fn func(visible bool, text string)) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

func (s *Status) Show(text string) {
	s.set(true, text)
}

// Hide keeps the last text so the page can fade it out.
func (s *Status) Hide() {
	s.mu.Lock()
	text := s.text
	s.mu.Unlock()
	s.set(false, text)
}

func (s *Status) set(visible bool, text string) {
	s.mu.Lock()
	s.visible, s.text = visible, text
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn(visible, text)
	}
}

func (s *Status) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *Status) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}
