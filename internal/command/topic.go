package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTopic   = errors.New("invalid command topic")
	ErrInvalidPayload = errors.New("invalid command payload")
)

// Topic is a parsed command topic <ns>/<type>/<entity>[/<action>]/set.
type Topic struct {
	Type     string
	EntityID string
	Action   string
}

// ParseTopic splits a command topic under namespace. A topic without an
// action segment leaves Action empty.
func ParseTopic(namespace, topic string) (Topic, error) {
	prefix := strings.TrimSuffix(namespace, "/") + "/"
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return Topic{}, fmt.Errorf("%w: %q not under %q", ErrInvalidTopic, topic, namespace)
	}

	parts := strings.Split(rest, "/")
	if parts[len(parts)-1] != "set" {
		return Topic{}, fmt.Errorf("%w: %q does not end in /set", ErrInvalidTopic, topic)
	}
	parts = parts[:len(parts)-1]

	var t Topic
	switch len(parts) {
	case 2:
		t = Topic{Type: parts[0], EntityID: parts[1]}
	case 3:
		t = Topic{Type: parts[0], EntityID: parts[1], Action: parts[2]}
	default:
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if t.Type == "" || t.EntityID == "" || (len(parts) == 3 && t.Action == "") {
		return Topic{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, topic)
	}
	return t, nil
}

// String renders the topic back under namespace.
func (t Topic) String(namespace string) string {
	if t.Action == "" {
		return fmt.Sprintf("%s/%s/%s/set", namespace, t.Type, t.EntityID)
	}
	return fmt.Sprintf("%s/%s/%s/%s/set", namespace, t.Type, t.EntityID, t.Action)
}

// ParsePayload converts a bare string payload for action: ON/OFF states are
// upper-cased, brightness is an integer, temperature a float, and mode,
// fan_mode and position are lower-cased.
func ParsePayload(action Action, payload string) (any, error) {
	s := strings.TrimSpace(payload)
	switch action {
	case ActionState:
		return strings.ToUpper(s), nil
	case ActionBrightness:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: brightness %q: %v", ErrInvalidPayload, payload, err)
		}
		return n, nil
	case ActionTemperature:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: temperature %q: %v", ErrInvalidPayload, payload, err)
		}
		return f, nil
	case ActionMode, ActionFanMode, ActionPosition:
		return strings.ToLower(s), nil
	}
	return s, nil
}

// FromMessage builds a Request from a pub/sub command message.
func FromMessage(source Source, namespace, topic string, payload []byte) (*Request, error) {
	t, err := ParseTopic(namespace, topic)
	if err != nil {
		return nil, err
	}

	action := Action(t.Action)
	if action == "" {
		action, _ = DefaultAction(Type(t.Type))
	}

	value, err := ParsePayload(action, string(payload))
	if err != nil {
		return nil, err
	}

	req := &Request{
		ID:          uuid.NewString(),
		Source:      source,
		ReceivedAt:  time.Now(),
		CommandType: &t.Type,
		EntityID:    &t.EntityID,
		Value:       value,
	}
	if t.Action != "" {
		req.Action = &t.Action
	} else if action != "" {
		a := string(action)
		req.Action = &a
	}
	return req, nil
}

// wireRequest is the JSON body accepted by REST and gRPC.
type wireRequest struct {
	CommandType *string         `json:"command_type"`
	EntityID    *string         `json:"entity_id"`
	Action      *string         `json:"action"`
	Value       json.RawMessage `json:"value"`
}

// DecodeJSON parses a JSON command container. A body that is not a JSON
// object with string command_type/entity_id/action fields is reported as
// ErrInvalidPayload; field-level problems are left to validation.
func DecodeJSON(source Source, data []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: command must be a JSON object", ErrInvalidPayload)
	}

	var w wireRequest
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	value, err := decodeValue(w.Value)
	if err != nil {
		return nil, err
	}

	return &Request{
		ID:          uuid.NewString(),
		Source:      source,
		ReceivedAt:  time.Now(),
		CommandType: w.CommandType,
		EntityID:    w.EntityID,
		Action:      w.Action,
		Value:       value,
	}, nil
}

// decodeValue keeps integers as int64 so integer-only rules can tell 75
// from 75.5.
func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: value: %v", ErrInvalidPayload, err)
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: value: %v", ErrInvalidPayload, err)
		}
		return f, nil
	}
	return v, nil
}
