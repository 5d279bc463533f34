// Package manifest exposes the bundled application metadata. Callers must
// not assume any field is present; the version contract in particular is
// enforced at read time, not at build time.
package manifest

import (
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

//go:embed manifest.json
var bundled []byte

var ErrVersionMissing = errors.New("manifest has no version")

type Manifest struct {
	once   sync.Once
	raw    []byte
	fields map[string]any
	err    error
}

// Bundled returns the manifest compiled into the binary.
func Bundled() *Manifest {
	return &Manifest{raw: bundled}
}

// FromBytes builds a manifest from an arbitrary JSON document.
func FromBytes(raw []byte) *Manifest {
	return &Manifest{raw: raw}
}

func (m *Manifest) parse() {
	m.once.Do(func() {
		m.err = json.Unmarshal(m.raw, &m.fields)
	})
}

// Version returns the manifest version string and fails when the field is
// absent, empty or not a string.
func (m *Manifest) Version() (string, error) {
	m.parse()
	if m.err != nil {
		return "", m.err
	}
	version, ok := m.fields["version"].(string)
	if !ok || strings.TrimSpace(version) == "" {
		return "", ErrVersionMissing
	}
	return version, nil
}

// Name returns the manifest name, or an empty string when absent.
func (m *Manifest) Name() string {
	m.parse()
	if m.err != nil {
		return ""
	}
	name, _ := m.fields["name"].(string)
	return name
}
