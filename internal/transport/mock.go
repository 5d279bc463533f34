package transport

import (
	"context"
	"encoding/json"
)

// Mock is a function-field Transport for tests. Nil fields fall back to
// benign defaults so tests only script the calls they care about.
type Mock struct {
	EnumerateFunc   func() ([]Entry, error)
	ListenFunc      func(ctx context.Context, previous []Entry) ([]Entry, error)
	AcquireFunc     func(path, previous string) (string, error)
	ReleaseFunc     func(session string) error
	CallFunc        func(ctx context.Context, session, messageType string, message json.RawMessage) (*CallResult, error)
	ConfigureFunc   func(definition string) error
	HasMessagesFunc func() bool
	SetPortsFunc    func(ports []int) error
	UdevErrorFunc   func() bool
}

func (m *Mock) Enumerate() ([]Entry, error) {
	if m.EnumerateFunc != nil {
		return m.EnumerateFunc()
	}
	return nil, nil
}

func (m *Mock) Listen(ctx context.Context, previous []Entry) ([]Entry, error) {
	if m.ListenFunc != nil {
		return m.ListenFunc(ctx, previous)
	}
	return m.Enumerate()
}

func (m *Mock) Acquire(path, previous string) (string, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(path, previous)
	}
	return "mock-session", nil
}

func (m *Mock) Release(session string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(session)
	}
	return nil
}

func (m *Mock) Call(ctx context.Context, session, messageType string, message json.RawMessage) (*CallResult, error) {
	if m.CallFunc != nil {
		return m.CallFunc(ctx, session, messageType, message)
	}
	return &CallResult{Type: "Success", Message: json.RawMessage(`{}`)}, nil
}

func (m *Mock) Configure(definition string) error {
	if m.ConfigureFunc != nil {
		return m.ConfigureFunc(definition)
	}
	return nil
}

func (m *Mock) HasMessages() bool {
	if m.HasMessagesFunc != nil {
		return m.HasMessagesFunc()
	}
	return true
}

func (m *Mock) SetPorts(ports []int) error {
	if m.SetPortsFunc != nil {
		return m.SetPortsFunc(ports)
	}
	return nil
}

func (m *Mock) UdevError() bool {
	if m.UdevErrorFunc != nil {
		return m.UdevErrorFunc()
	}
	return false
}
