package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultListenInterval = 500 * time.Millisecond

// Backend is one physical or emulated channel multiplexed behind the
// Transport surface.
type Backend interface {
	Enumerate() ([]Entry, error)
	Owns(path string) bool
	Acquire(path, previous string) (string, error)
	Release(session string) error
	Exchange(ctx context.Context, session string, frame []byte) ([]byte, error)
}

// portConfigurable is implemented by backends with a reconfigurable port
// list (the emulator).
type portConfigurable interface {
	SetPorts(ports []int) error
}

// udevReporter is implemented by backends that can hit platform permission
// errors.
type udevReporter interface {
	UdevError() bool
}

// Mux merges several backends into a single Transport and owns the loaded
// protocol definition.
type Mux struct {
	backends       []Backend
	defs           Definition
	listenInterval time.Duration

	mu             sync.Mutex
	sessionBackend map[string]Backend
}

func NewMux(backends ...Backend) *Mux {
	return &Mux{
		backends:       backends,
		listenInterval: defaultListenInterval,
		sessionBackend: make(map[string]Backend),
	}
}

func (m *Mux) Enumerate() ([]Entry, error) {
	var entries []Entry
	for _, b := range m.backends {
		part, err := b.Enumerate()
		if err != nil {
			return nil, err
		}
		entries = append(entries, part...)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (m *Mux) Listen(ctx context.Context, previous []Entry) ([]Entry, error) {
	ticker := time.NewTicker(m.listenInterval)
	defer ticker.Stop()
	for {
		current, err := m.Enumerate()
		if err != nil {
			return nil, err
		}
		if previous == nil || !entriesEqual(previous, current) {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func entriesEqual(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (m *Mux) Acquire(path, previous string) (string, error) {
	backend := m.backendFor(path)
	if backend == nil {
		return "", ErrDeviceNotFound
	}
	session, err := backend.Acquire(path, previous)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	if previous != "" {
		delete(m.sessionBackend, previous)
	}
	m.sessionBackend[session] = backend
	m.mu.Unlock()
	return session, nil
}

func (m *Mux) Release(session string) error {
	m.mu.Lock()
	backend, ok := m.sessionBackend[session]
	delete(m.sessionBackend, session)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return backend.Release(session)
}

func (m *Mux) Call(ctx context.Context, session, messageType string, message json.RawMessage) (*CallResult, error) {
	if !m.defs.Loaded() {
		return nil, ErrNoDefinition
	}
	id, ok := m.defs.MessageID(messageType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, messageType)
	}
	m.mu.Lock()
	backend, ok := m.sessionBackend[session]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	payload := message
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	raw, err := backend.Exchange(ctx, session, encodeFrame(id, payload))
	if err != nil {
		return nil, err
	}
	respID, respPayload, err := decodeFrame(raw)
	if err != nil {
		return nil, err
	}
	respType, ok := m.defs.MessageName(respID)
	if !ok {
		return nil, fmt.Errorf("device answered with unknown message id %d", respID)
	}
	return &CallResult{Type: respType, Message: append(json.RawMessage(nil), respPayload...)}, nil
}

func (m *Mux) Configure(definition string) error {
	return m.defs.Load(definition)
}

func (m *Mux) HasMessages() bool {
	return m.defs.Loaded()
}

func (m *Mux) SetPorts(ports []int) error {
	for _, b := range m.backends {
		if pc, ok := b.(portConfigurable); ok {
			return pc.SetPorts(ports)
		}
	}
	return fmt.Errorf("no emulated transport is configured")
}

func (m *Mux) UdevError() bool {
	for _, b := range m.backends {
		if ur, ok := b.(udevReporter); ok && ur.UdevError() {
			return true
		}
	}
	return false
}

func (m *Mux) backendFor(path string) Backend {
	for _, b := range m.backends {
		if b.Owns(path) {
			return b
		}
	}
	return nil
}
