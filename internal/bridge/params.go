package bridge

import (
	"encoding/json"
	"errors"
	"math"

	"keybridge/go-daemon/internal/transport"
)

// Validation errors carry the exact messages callers match on.
var (
	errDeviceIsStrange       = errors.New("device is strange")
	errDeviceNotObject       = errors.New("device is not an object")
	errPathIsStrange         = errors.New("path is strange")
	errSessionIsStrange      = errors.New("session is strange")
	errPrevSessionIsStrange  = errors.New("previous session is strange")
	errDeviceSessionStrange  = errors.New("device session is strange")
	errMessageNotObject      = errors.New("message is not an object")
	errNoMessageType         = errors.New("no type of message")
	errNoMessageBody         = errors.New("no message body")
	errDefinitionIsStrange   = errors.New("protocol definition is strange")
	errPortListIsStrange     = errors.New("port list is strange")
)

type acquireInput struct {
	Path     string
	Previous string
}

// parseAcquireInput accepts either a bare device path string or an object
// with a required string path and an optional string previous session.
func parseAcquireInput(raw json.RawMessage) (acquireInput, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return acquireInput{}, errDeviceIsStrange
	}
	switch v := value.(type) {
	case string:
		return acquireInput{Path: v}, nil
	case map[string]any:
		path, ok := v["path"].(string)
		if !ok {
			return acquireInput{}, errPathIsStrange
		}
		input := acquireInput{Path: path}
		if previous, present := v["previous"]; present && previous != nil {
			prev, ok := previous.(string)
			if !ok {
				return acquireInput{}, errPrevSessionIsStrange
			}
			input.Previous = prev
		}
		return input, nil
	default:
		return acquireInput{}, errDeviceIsStrange
	}
}

// parseListenInput accepts an absent/null previous listing, or a sequence
// of objects each with a required string path and optional string session.
func parseListenInput(raw json.RawMessage) ([]transport.Entry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errDeviceIsStrange
	}
	if value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, errDeviceIsStrange
	}
	entries := make([]transport.Entry, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, errDeviceNotObject
		}
		path, ok := fields["path"].(string)
		if !ok {
			return nil, errPathIsStrange
		}
		entry := transport.Entry{Path: path}
		if session, present := fields["session"]; present && session != nil {
			str, ok := session.(string)
			if !ok {
				return nil, errSessionIsStrange
			}
			entry.Session = str
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// parseSessionInput accepts a bare session string and nothing else.
func parseSessionInput(raw json.RawMessage) (string, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", errDeviceSessionStrange
	}
	session, ok := value.(string)
	if !ok {
		return "", errDeviceSessionStrange
	}
	return session, nil
}

type callInput struct {
	ID      string
	Type    string
	Message json.RawMessage
}

// parseCallInput requires an object with string id, string type and an
// object message payload. Each missing or mistyped field has its own error.
func parseCallInput(raw json.RawMessage) (callInput, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return callInput{}, errMessageNotObject
	}

	id, ok := stringValue(fields["id"])
	if !ok {
		return callInput{}, errDeviceSessionStrange
	}
	messageType, ok := stringValue(fields["type"])
	if !ok {
		return callInput{}, errNoMessageType
	}
	rawMessage, ok := fields["message"]
	if !ok {
		return callInput{}, errNoMessageBody
	}
	var messageFields map[string]json.RawMessage
	if err := json.Unmarshal(rawMessage, &messageFields); err != nil || messageFields == nil {
		return callInput{}, errNoMessageBody
	}
	return callInput{ID: id, Type: messageType, Message: rawMessage}, nil
}

func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// parseConfigureInput accepts the serialized protocol definition as a bare
// string.
func parseConfigureInput(raw json.RawMessage) (string, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", errDefinitionIsStrange
	}
	definition, ok := value.(string)
	if !ok {
		return "", errDefinitionIsStrange
	}
	return definition, nil
}

// parsePortList accepts a sequence of integer ports.
func parsePortList(raw json.RawMessage) ([]int, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errPortListIsStrange
	}
	items, ok := value.([]any)
	if !ok {
		return nil, errPortListIsStrange
	}
	ports := make([]int, 0, len(items))
	for _, item := range items {
		number, ok := item.(float64)
		if !ok || number != math.Trunc(number) || number < 1 || number > 65535 {
			return nil, errPortListIsStrange
		}
		ports = append(ports, int(number))
	}
	return ports, nil
}
