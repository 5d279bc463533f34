package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/karalabe/hid"
)

const (
	hidReportSize = 64
	hidChunkMark  = '?'
)

// HIDBackend reaches physical devices through the platform HID layer. One
// open device handle exists per acquired session.
type HIDBackend struct {
	vendorID  uint16
	productID uint16

	mu            sync.Mutex
	handles       map[string]*hidHandle
	sessionByPath map[string]string

	udevErr atomic.Bool
}

type hidHandle struct {
	path string
	dev  *hid.Device
	mu   sync.Mutex
}

func NewHIDBackend(vendorID, productID uint16) *HIDBackend {
	return &HIDBackend{
		vendorID:      vendorID,
		productID:     productID,
		handles:       make(map[string]*hidHandle),
		sessionByPath: make(map[string]string),
	}
}

func (h *HIDBackend) Enumerate() ([]Entry, error) {
	if !hid.Supported() {
		return nil, nil
	}
	infos := hid.Enumerate(h.vendorID, h.productID)

	h.mu.Lock()
	defer h.mu.Unlock()
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Path:    info.Path,
			Session: h.sessionByPath[info.Path],
		})
	}
	return entries, nil
}

func (h *HIDBackend) Owns(path string) bool {
	return !IsEmulatorPath(path)
}

func (h *HIDBackend) Acquire(path, previous string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current := h.sessionByPath[path]; current != previous {
		return "", ErrWrongPreviousSession
	}
	if previous != "" {
		if old, ok := h.handles[previous]; ok {
			_ = old.dev.Close()
			delete(h.handles, previous)
		}
		delete(h.sessionByPath, path)
	}

	var found *hid.DeviceInfo
	for _, info := range hid.Enumerate(h.vendorID, h.productID) {
		if info.Path == path {
			found = &info
			break
		}
	}
	if found == nil {
		return "", ErrDeviceNotFound
	}
	dev, err := found.Open()
	if err != nil {
		if isPermissionError(err) {
			h.udevErr.Store(true)
		}
		return "", fmt.Errorf("opening device %q: %w", path, err)
	}
	h.udevErr.Store(false)

	session := uuid.NewString()
	h.handles[session] = &hidHandle{path: path, dev: dev}
	h.sessionByPath[path] = session
	return session, nil
}

func (h *HIDBackend) Release(session string) error {
	h.mu.Lock()
	handle, ok := h.handles[session]
	if ok {
		delete(h.handles, session)
		delete(h.sessionByPath, handle.path)
	}
	h.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return handle.dev.Close()
}

// Exchange writes one frame and reads one frame back. HID moves fixed-size
// reports, so frames are chunked on write and reassembled on read. The
// context is not consulted: a hung device hangs the call.
func (h *HIDBackend) Exchange(_ context.Context, session string, frame []byte) ([]byte, error) {
	h.mu.Lock()
	handle, ok := h.handles[session]
	h.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	handle.mu.Lock()
	defer handle.mu.Unlock()
	if err := writeChunked(handle.dev, frame); err != nil {
		return nil, err
	}
	return readChunked(handle.dev)
}

func (h *HIDBackend) UdevError() bool {
	return h.udevErr.Load()
}

func writeChunked(dev *hid.Device, frame []byte) error {
	chunk := make([]byte, hidReportSize)
	for offset := 0; offset < len(frame); offset += hidReportSize - 1 {
		for i := range chunk {
			chunk[i] = 0
		}
		chunk[0] = hidChunkMark
		copy(chunk[1:], frame[offset:])
		if _, err := dev.Write(chunk); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	return nil
}

func readChunked(dev *hid.Device) ([]byte, error) {
	chunk := make([]byte, hidReportSize)
	var frame []byte
	want := frameHeaderSize
	for len(frame) < want {
		n, err := dev.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("reading report: %w", err)
		}
		if n < 1 || chunk[0] != hidChunkMark {
			return nil, errors.New("device answered with a malformed report")
		}
		frame = append(frame, chunk[1:n]...)
		if want == frameHeaderSize && len(frame) >= frameHeaderSize {
			_, payloadLen, err := decodeFrameHeader(frame)
			if err != nil {
				return nil, err
			}
			want = frameHeaderSize + payloadLen
		}
	}
	return frame[:want], nil
}

func isPermissionError(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") || strings.Contains(msg, "access denied")
}
