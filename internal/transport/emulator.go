package transport

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	emulatorHost         = "127.0.0.1"
	emulatorProbeRequest = "PINGPING"
	emulatorProbeReply   = "PONGPONG"
	emulatorProbeTimeout = 500 * time.Millisecond
	emulatorMaxDatagram  = 64 * 1024
)

var emulatorPathRe = regexp.MustCompile(`^emulator(\d+)$`)

// IsEmulatorPath reports whether a device path names an emulated device.
func IsEmulatorPath(path string) bool {
	return emulatorPathRe.MatchString(path)
}

// EmulatorBackend reaches emulated devices over local UDP. Each configured
// port is one potential device; only ports answering the probe show up in
// listings.
type EmulatorBackend struct {
	mu            sync.Mutex
	ports         []int
	conns         map[string]*emulatorConn
	sessionByPath map[string]string

	probeTimeout time.Duration
}

type emulatorConn struct {
	path string
	conn *net.UDPConn
	mu   sync.Mutex
}

func NewEmulatorBackend(ports []int) *EmulatorBackend {
	return &EmulatorBackend{
		ports:         append([]int(nil), ports...),
		conns:         make(map[string]*emulatorConn),
		sessionByPath: make(map[string]string),
		probeTimeout:  emulatorProbeTimeout,
	}
}

func (e *EmulatorBackend) Enumerate() ([]Entry, error) {
	e.mu.Lock()
	ports := append([]int(nil), e.ports...)
	e.mu.Unlock()

	var entries []Entry
	for _, port := range ports {
		if !e.probe(port) {
			continue
		}
		path := emulatorPath(port)
		e.mu.Lock()
		session := e.sessionByPath[path]
		e.mu.Unlock()
		entries = append(entries, Entry{Path: path, Session: session})
	}
	return entries, nil
}

func (e *EmulatorBackend) Owns(path string) bool {
	return IsEmulatorPath(path)
}

func (e *EmulatorBackend) Acquire(path, previous string) (string, error) {
	port, err := portFromPath(path)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.portConfiguredLocked(port) {
		return "", ErrDeviceNotFound
	}
	if current := e.sessionByPath[path]; current != previous {
		return "", ErrWrongPreviousSession
	}
	if previous != "" {
		if old, ok := e.conns[previous]; ok {
			_ = old.conn.Close()
			delete(e.conns, previous)
		}
		delete(e.sessionByPath, path)
	}

	conn, err := dialEmulator(port)
	if err != nil {
		return "", err
	}
	session := uuid.NewString()
	e.conns[session] = &emulatorConn{path: path, conn: conn}
	e.sessionByPath[path] = session
	return session, nil
}

func (e *EmulatorBackend) Release(session string) error {
	e.mu.Lock()
	ec, ok := e.conns[session]
	if ok {
		delete(e.conns, session)
		delete(e.sessionByPath, ec.path)
	}
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return ec.conn.Close()
}

// Exchange sends the frame as one datagram and waits for one datagram back.
// A context deadline maps onto the socket read deadline; without one the
// read blocks until the emulator answers.
func (e *EmulatorBackend) Exchange(ctx context.Context, session string, frame []byte) ([]byte, error) {
	e.mu.Lock()
	ec, ok := e.conns[session]
	e.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = ec.conn.SetReadDeadline(deadline)
	} else {
		_ = ec.conn.SetReadDeadline(time.Time{})
	}
	if _, err := ec.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("writing to emulator: %w", err)
	}
	buf := make([]byte, emulatorMaxDatagram)
	n, err := ec.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("reading from emulator: %w", err)
	}
	return buf[:n], nil
}

// SetPorts replaces the configured port list. Sessions on ports that
// disappear are closed.
func (e *EmulatorBackend) SetPorts(ports []int) error {
	keep := make(map[string]bool, len(ports))
	for _, port := range ports {
		keep[emulatorPath(port)] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for session, ec := range e.conns {
		if keep[ec.path] {
			continue
		}
		_ = ec.conn.Close()
		delete(e.conns, session)
		delete(e.sessionByPath, ec.path)
	}
	e.ports = append([]int(nil), ports...)
	return nil
}

func (e *EmulatorBackend) probe(port int) bool {
	conn, err := dialEmulator(port)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(e.probeTimeout))
	if _, err := conn.Write([]byte(emulatorProbeRequest)); err != nil {
		return false
	}
	buf := make([]byte, len(emulatorProbeReply))
	n, err := conn.Read(buf)
	if err != nil {
		return false
	}
	return string(buf[:n]) == emulatorProbeReply
}

func (e *EmulatorBackend) portConfiguredLocked(port int) bool {
	for _, p := range e.ports {
		if p == port {
			return true
		}
	}
	return false
}

func dialEmulator(port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(emulatorHost, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing emulator on port %d: %w", port, err)
	}
	return conn, nil
}

func emulatorPath(port int) string {
	return "emulator" + strconv.Itoa(port)
}

func portFromPath(path string) (int, error) {
	m := emulatorPathRe.FindStringSubmatch(path)
	if m == nil {
		return 0, ErrDeviceNotFound
	}
	return strconv.Atoi(m[1])
}
