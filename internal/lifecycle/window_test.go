package lifecycle

import (
	"errors"
	"testing"
)

func TestLaunchIsIdempotentWhileOpen(t *testing.T) {
	opened := 0
	s := NewWindowSupervisor("http://127.0.0.1:21325/", func(w Window) error {
		opened++
		if w.Width != WindowWidth || w.Height != WindowHeight {
			t.Fatalf("unexpected window size: %dx%d", w.Width, w.Height)
		}
		return nil
	})

	if err := s.Launch(); err != nil {
		t.Fatalf("first launch failed: %v", err)
	}
	if err := s.Launch(); err != nil {
		t.Fatalf("second launch failed: %v", err)
	}
	if opened != 1 {
		t.Fatalf("expected exactly one window, got %d", opened)
	}
	if s.State() != StateOpen {
		t.Fatalf("unexpected state: %q", s.State())
	}
}

func TestLaunchAgainAfterClose(t *testing.T) {
	opened := 0
	s := NewWindowSupervisor("http://127.0.0.1:21325/", func(Window) error {
		opened++
		return nil
	})

	if err := s.Launch(); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	s.WindowClosed()
	if s.State() != StateClosed {
		t.Fatalf("unexpected state after close: %q", s.State())
	}
	if err := s.Launch(); err != nil {
		t.Fatalf("relaunch failed: %v", err)
	}
	if opened != 2 {
		t.Fatalf("expected two windows across close, got %d", opened)
	}
}

func TestLaunchFailureStaysClosed(t *testing.T) {
	boom := errors.New("no display")
	s := NewWindowSupervisor("http://127.0.0.1:21325/", func(Window) error {
		return boom
	})

	if err := s.Launch(); !errors.Is(err, boom) {
		t.Fatalf("expected opener error, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("failed launch must stay closed, got %q", s.State())
	}
}

func TestWindowClosedWhileClosedIsNoop(t *testing.T) {
	s := NewWindowSupervisor("http://127.0.0.1:21325/", nil)
	s.WindowClosed()
	if s.State() != StateClosed {
		t.Fatalf("unexpected state: %q", s.State())
	}
}
