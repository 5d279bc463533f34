// Package bridge implements the operations exposed over the messaging
// channel: device listing, session acquire/release, protocol calls and
// protocol configuration. All device work is delegated to the transport
// collaborator; all persistence to the key/value store.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"keybridge/go-daemon/internal/manifest"
	"keybridge/go-daemon/internal/storage"
	"keybridge/go-daemon/internal/transport"
)

// Storage keys for state that must survive restarts.
const (
	configStorageKey = "protocol_definition"
	portsStorageKey  = "emulator_ports"
)

// Fixed descriptor constants. Returned devices always carry these,
// regardless of what the transport reports.
const (
	DeviceVendor       = 0x534c
	DeviceProduct      = 0x0001
	DeviceSerialNumber = 0
)

// udevStatus tokens.
const (
	UdevStatusDisplay = "display"
	UdevStatusHide    = "hide"
)

// Success marker kept as a literal string for wire compatibility with
// existing callers.
const successMarker = "Success"

var errNoDefinition = errors.New("no protocol definition, call configure.")

// Device is the normalized descriptor returned to callers. Session is null
// while the device is free.
type Device struct {
	Path         string  `json:"path"`
	Session      *string `json:"session"`
	Vendor       int     `json:"vendor"`
	Product      int     `json:"product"`
	SerialNumber int     `json:"serialNumber"`
}

type AcquireResult struct {
	Session string `json:"session"`
}

type InfoResult struct {
	Version    string `json:"version"`
	Configured bool   `json:"configured"`
}

type Service struct {
	transport transport.Transport
	store     *storage.KVStore
	manifest  *manifest.Manifest
	log       *slog.Logger
}

func NewService(t transport.Transport, store *storage.KVStore, m *manifest.Manifest, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{transport: t, store: store, manifest: m, log: log}
}

// Start restores persisted emulator ports into the transport. An invalid
// stored list is logged and skipped, not fatal.
func (s *Service) Start(ctx context.Context) error {
	raw, err := s.store.Get(portsStorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ports, err := parsePortList(json.RawMessage(raw))
	if err != nil {
		s.log.Warn("persisted emulator port list is invalid, ignoring", "err", err)
		return nil
	}
	if err := s.transport.SetPorts(ports); err != nil {
		return err
	}
	s.log.Info("restored emulator ports", "count", len(ports))
	return nil
}

func (s *Service) Enumerate(ctx context.Context) ([]Device, error) {
	entries, err := s.transport.Enumerate()
	if err != nil {
		return nil, err
	}
	return devicesFromEntries(entries), nil
}

func (s *Service) Listen(ctx context.Context, body json.RawMessage) ([]Device, error) {
	previous, err := parseListenInput(body)
	if err != nil {
		return nil, err
	}
	entries, err := s.transport.Listen(ctx, previous)
	if err != nil {
		return nil, err
	}
	return devicesFromEntries(entries), nil
}

func (s *Service) Acquire(ctx context.Context, body json.RawMessage) (AcquireResult, error) {
	input, err := parseAcquireInput(body)
	if err != nil {
		return AcquireResult{}, err
	}
	session, err := s.transport.Acquire(input.Path, input.Previous)
	if err != nil {
		return AcquireResult{}, err
	}
	return AcquireResult{Session: session}, nil
}

func (s *Service) Release(ctx context.Context, body json.RawMessage) (string, error) {
	session, err := parseSessionInput(body)
	if err != nil {
		return "", err
	}
	if err := s.transport.Release(session); err != nil {
		return "", err
	}
	return successMarker, nil
}

// Call sends one protocol message and returns the device's answer. The
// reload check runs first so calls heal after a transport restart.
func (s *Service) Call(ctx context.Context, body json.RawMessage) (*transport.CallResult, error) {
	input, err := parseCallInput(body)
	if err != nil {
		return nil, err
	}
	if err := s.reloadMessages(); err != nil {
		return nil, err
	}
	return s.transport.Call(ctx, input.ID, input.Type, input.Message)
}

func (s *Service) Configure(ctx context.Context, body json.RawMessage) (string, error) {
	definition, err := parseConfigureInput(body)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(configStorageKey, definition); err != nil {
		return "", err
	}
	if err := s.transport.Configure(definition); err != nil {
		return "", err
	}
	return successMarker, nil
}

func (s *Service) UdevStatus(ctx context.Context) (string, error) {
	if s.transport.UdevError() {
		return UdevStatusDisplay, nil
	}
	return UdevStatusHide, nil
}

// Info reports the manifest version and whether protocol calls would
// currently work. Reload failures collapse into configured:false here; the
// version contract still fails hard when the manifest has no version.
func (s *Service) Info(ctx context.Context) (InfoResult, error) {
	version, err := s.manifest.Version()
	if err != nil {
		return InfoResult{}, err
	}
	return InfoResult{
		Version:    version,
		Configured: s.reloadMessages() == nil,
	}, nil
}

func (s *Service) Ping(ctx context.Context) (string, error) {
	return "pong", nil
}

// SetEmulatorPorts persists the port list and applies it immediately. An
// empty list clears the persisted entry instead of storing it.
func (s *Service) SetEmulatorPorts(ctx context.Context, body json.RawMessage) (string, error) {
	ports, err := parsePortList(body)
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		if err := s.store.Delete(portsStorageKey); err != nil {
			return "", err
		}
	} else {
		canonical, err := json.Marshal(ports)
		if err != nil {
			return "", err
		}
		if err := s.store.Set(portsStorageKey, string(canonical)); err != nil {
			return "", err
		}
	}
	if err := s.transport.SetPorts(ports); err != nil {
		return "", err
	}
	return successMarker, nil
}

// reloadMessages is the pre-call check: a transport without a loaded
// definition gets the persisted one re-applied. With nothing persisted the
// caller is told to configure first.
func (s *Service) reloadMessages() error {
	if s.transport.HasMessages() {
		return nil
	}
	definition, err := s.store.Get(configStorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return errNoDefinition
	}
	if err != nil {
		return err
	}
	return s.transport.Configure(definition)
}

func devicesFromEntries(entries []transport.Entry) []Device {
	devices := make([]Device, 0, len(entries))
	for _, entry := range entries {
		devices = append(devices, deviceFromEntry(entry))
	}
	return devices
}

func deviceFromEntry(entry transport.Entry) Device {
	d := Device{
		Path:         entry.Path,
		Vendor:       DeviceVendor,
		Product:      DeviceProduct,
		SerialNumber: DeviceSerialNumber,
	}
	if entry.Session != "" {
		session := entry.Session
		d.Session = &session
	}
	return d
}
