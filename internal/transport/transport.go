// Package transport provides device access behind a small acquire/release/
// call surface. Session handles are opaque strings; the transport is the
// only arbiter of their validity.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrSessionNotFound      = errors.New("unknown session")
	ErrWrongPreviousSession = errors.New("wrong previous session")
	ErrNoDefinition         = errors.New("no protocol definition loaded")
	ErrUnknownMessageType   = errors.New("unknown message type")
)

// Entry is one row of a raw device listing. Session is empty while the
// device is free.
type Entry struct {
	Path    string
	Session string
}

// CallResult is a decoded protocol response: the message type name and its
// payload as received from the device.
type CallResult struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// Transport is the collaborator contract the bridge delegates to.
type Transport interface {
	Enumerate() ([]Entry, error)

	// Listen blocks until the device listing differs from previous, then
	// returns the new listing. A nil previous matches nothing, so Listen
	// returns on the first poll.
	Listen(ctx context.Context, previous []Entry) ([]Entry, error)

	// Acquire takes exclusive access to the device at path. previous must
	// name the session currently holding the device, or be empty when the
	// device is free.
	Acquire(path, previous string) (string, error)

	Release(session string) error

	Call(ctx context.Context, session, messageType string, message json.RawMessage) (*CallResult, error)

	// Configure loads a serialized protocol definition.
	Configure(definition string) error

	// HasMessages reports whether a protocol definition is loaded.
	HasMessages() bool

	// SetPorts reconfigures the emulated transport port list.
	SetPorts(ports []int) error

	// UdevError reports whether device access failed due to platform
	// permissions.
	UdevError() bool
}
