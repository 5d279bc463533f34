package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Definition is the loaded wire-protocol definition: a registry mapping
// message type names to numeric wire ids. The serialized form is an opaque
// string to everything above this package.
type Definition struct {
	mu       sync.RWMutex
	loaded   bool
	idByName map[string]uint16
	nameByID map[uint16]string
}

type serializedDefinition struct {
	Name     string              `json:"name"`
	Version  int                 `json:"version"`
	Messages []serializedMessage `json:"messages"`
}

type serializedMessage struct {
	Name string `json:"name"`
	ID   *int   `json:"id"`
}

// Load replaces the registry with the given serialized definition. A failed
// load leaves the previous definition in place.
func (d *Definition) Load(serialized string) error {
	var parsed serializedDefinition
	if err := json.Unmarshal([]byte(serialized), &parsed); err != nil {
		return fmt.Errorf("protocol definition is malformed: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return errors.New("protocol definition has no messages")
	}

	idByName := make(map[string]uint16, len(parsed.Messages))
	nameByID := make(map[uint16]string, len(parsed.Messages))
	for _, msg := range parsed.Messages {
		if msg.Name == "" || msg.ID == nil {
			return errors.New("protocol definition message is missing name or id")
		}
		if *msg.ID < 0 || *msg.ID > 0xffff {
			return fmt.Errorf("protocol definition message id %d is out of range", *msg.ID)
		}
		id := uint16(*msg.ID)
		if _, dup := nameByID[id]; dup {
			return fmt.Errorf("protocol definition message id %d is duplicated", id)
		}
		if _, dup := idByName[msg.Name]; dup {
			return fmt.Errorf("protocol definition message %q is duplicated", msg.Name)
		}
		idByName[msg.Name] = id
		nameByID[id] = msg.Name
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.idByName = idByName
	d.nameByID = nameByID
	d.loaded = true
	return nil
}

func (d *Definition) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

func (d *Definition) MessageID(name string) (uint16, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.idByName[name]
	return id, ok
}

func (d *Definition) MessageName(id uint16) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.nameByID[id]
	return name, ok
}
