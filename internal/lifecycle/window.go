// Package lifecycle owns the UI window state machine: at most one window is
// open, repeated launch events are no-ops while it stays open.
package lifecycle

import (
	"fmt"
	"sync"
)

type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Window sizing matches the bundled UI page.
const (
	WindowWidth  = 774
	WindowHeight = 774
)

// Window describes the UI surface handed to the opener.
type Window struct {
	URL    string
	Width  int
	Height int
}

// OpenFunc actually shows the window. It is injected so the state machine
// stays testable and platform-free.
type OpenFunc func(Window) error

type WindowSupervisor struct {
	mu    sync.Mutex
	state State
	url   string
	open  OpenFunc
}

func NewWindowSupervisor(url string, open OpenFunc) *WindowSupervisor {
	return &WindowSupervisor{
		state: StateClosed,
		url:   url,
		open:  open,
	}
}

// Launch opens the window unless one is already open. Launching while open
// is a no-op, not an error.
func (s *WindowSupervisor) Launch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen {
		return nil
	}
	if s.open == nil {
		return fmt.Errorf("no window opener is configured")
	}
	window := Window{URL: s.url, Width: WindowWidth, Height: WindowHeight}
	if err := s.open(window); err != nil {
		return fmt.Errorf("opening window: %w", err)
	}
	s.state = StateOpen
	return nil
}

// WindowClosed records the open→closed transition. Safe to call in any
// state.
func (s *WindowSupervisor) WindowClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

func (s *WindowSupervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
