// Package command holds the logical command model: the untyped Request as
// it arrives at the boundary and the typed Command variants produced from
// it once validation has passed.
package command

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeLight   Type = "light"
	TypeClimate Type = "climate"
	TypeSwitch  Type = "switch"
	TypeFan     Type = "fan"
	TypeCover   Type = "cover"
)

// Types lists every command type in a stable order.
var Types = []Type{TypeLight, TypeClimate, TypeSwitch, TypeFan, TypeCover}

type Action string

const (
	ActionState       Action = "state"
	ActionBrightness  Action = "brightness"
	ActionMode        Action = "mode"
	ActionTemperature Action = "temperature"
	ActionFanMode     Action = "fan_mode"
	ActionPosition    Action = "position"
)

// DefaultAction is the action implied when a request names none.
func DefaultAction(t Type) (Action, bool) {
	switch t {
	case TypeLight, TypeSwitch, TypeFan:
		return ActionState, true
	case TypeCover:
		return ActionPosition, true
	}
	return "", false
}

type Source string

const (
	SourceMQTT Source = "mqtt"
	SourceNATS Source = "nats"
	SourceREST Source = "rest"
	SourceGRPC Source = "grpc"
	SourceCLI  Source = "cli"
)

// Request is a command container as received. Absent fields are nil.
type Request struct {
	ID          string    `json:"command_id"`
	Source      Source    `json:"source"`
	ReceivedAt  time.Time `json:"received_at"`
	CommandType *string   `json:"command_type,omitempty"`
	EntityID    *string   `json:"entity_id,omitempty"`
	Action      *string   `json:"action,omitempty"`
	Value       any       `json:"value,omitempty"`
}

// NewRequest stamps a request with an id and receive time.
func NewRequest(source Source, commandType, entityID string, action Action, value any) *Request {
	req := &Request{
		ID:          uuid.NewString(),
		Source:      source,
		ReceivedAt:  time.Now(),
		CommandType: &commandType,
		EntityID:    &entityID,
		Value:       value,
	}
	if action != "" {
		a := string(action)
		req.Action = &a
	}
	return req
}

func (r *Request) TypeName() string {
	if r == nil || r.CommandType == nil {
		return ""
	}
	return *r.CommandType
}

func (r *Request) Entity() string {
	if r == nil || r.EntityID == nil {
		return ""
	}
	return *r.EntityID
}

func (r *Request) ActionName() string {
	if r == nil || r.Action == nil {
		return ""
	}
	return *r.Action
}

// ResolvedAction returns the explicit action or the type's default.
func (r *Request) ResolvedAction() Action {
	if a := r.ActionName(); a != "" {
		return Action(a)
	}
	a, _ := DefaultAction(Type(r.TypeName()))
	return a
}

// Command is a validated logical command. The concrete types below are the
// only implementations.
type Command interface {
	Entity() string
	Type() Type
	Action() Action
	Value() any
	isCommand()
}

type LightState struct {
	EntityID string
	On       bool
}

type LightBrightness struct {
	EntityID string
	Percent  int
}

type ClimateMode struct {
	EntityID string
	Mode     string
}

type ClimateTemperature struct {
	EntityID   string
	Fahrenheit float64
}

type ClimateFanMode struct {
	EntityID string
	FanMode  string
}

type SwitchState struct {
	EntityID string
	On       bool
}

// FanState carries ON, OFF, LOW or HIGH.
type FanState struct {
	EntityID string
	State    string
}

// CoverPosition carries open or close.
type CoverPosition struct {
	EntityID string
	Position string
}

func (c LightState) Entity() string         { return c.EntityID }
func (c LightBrightness) Entity() string    { return c.EntityID }
func (c ClimateMode) Entity() string        { return c.EntityID }
func (c ClimateTemperature) Entity() string { return c.EntityID }
func (c ClimateFanMode) Entity() string     { return c.EntityID }
func (c SwitchState) Entity() string        { return c.EntityID }
func (c FanState) Entity() string           { return c.EntityID }
func (c CoverPosition) Entity() string      { return c.EntityID }

func (LightState) Type() Type         { return TypeLight }
func (LightBrightness) Type() Type    { return TypeLight }
func (ClimateMode) Type() Type        { return TypeClimate }
func (ClimateTemperature) Type() Type { return TypeClimate }
func (ClimateFanMode) Type() Type     { return TypeClimate }
func (SwitchState) Type() Type        { return TypeSwitch }
func (FanState) Type() Type           { return TypeFan }
func (CoverPosition) Type() Type      { return TypeCover }

func (LightState) Action() Action         { return ActionState }
func (LightBrightness) Action() Action    { return ActionBrightness }
func (ClimateMode) Action() Action        { return ActionMode }
func (ClimateTemperature) Action() Action { return ActionTemperature }
func (ClimateFanMode) Action() Action     { return ActionFanMode }
func (SwitchState) Action() Action        { return ActionState }
func (FanState) Action() Action           { return ActionState }
func (CoverPosition) Action() Action      { return ActionPosition }

func (c LightState) Value() any         { return onOff(c.On) }
func (c LightBrightness) Value() any    { return c.Percent }
func (c ClimateMode) Value() any        { return c.Mode }
func (c ClimateTemperature) Value() any { return c.Fahrenheit }
func (c ClimateFanMode) Value() any     { return c.FanMode }
func (c SwitchState) Value() any        { return onOff(c.On) }
func (c FanState) Value() any           { return c.State }
func (c CoverPosition) Value() any      { return c.Position }

func (LightState) isCommand()         {}
func (LightBrightness) isCommand()    {}
func (ClimateMode) isCommand()        {}
func (ClimateTemperature) isCommand() {}
func (ClimateFanMode) isCommand()     {}
func (SwitchState) isCommand()        {}
func (FanState) isCommand()           {}
func (CoverPosition) isCommand()      {}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// FromRequest converts a validated request into its typed variant. An error
// here means the request did not pass validation first.
func FromRequest(req *Request) (Command, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	entity := req.Entity()
	action := req.ResolvedAction()

	switch Type(req.TypeName()) {
	case TypeLight:
		switch action {
		case ActionState:
			on, err := stateValue(req.Value)
			return LightState{EntityID: entity, On: on}, err
		case ActionBrightness:
			pct, err := intValue(req.Value)
			return LightBrightness{EntityID: entity, Percent: pct}, err
		}
	case TypeClimate:
		switch action {
		case ActionMode:
			s, err := stringValue(req.Value)
			return ClimateMode{EntityID: entity, Mode: strings.ToLower(s)}, err
		case ActionTemperature:
			f, err := floatValue(req.Value)
			return ClimateTemperature{EntityID: entity, Fahrenheit: f}, err
		case ActionFanMode:
			s, err := stringValue(req.Value)
			return ClimateFanMode{EntityID: entity, FanMode: strings.ToLower(s)}, err
		}
	case TypeSwitch:
		if action == ActionState {
			on, err := stateValue(req.Value)
			return SwitchState{EntityID: entity, On: on}, err
		}
	case TypeFan:
		if action == ActionState {
			s, err := stringValue(req.Value)
			return FanState{EntityID: entity, State: strings.ToUpper(s)}, err
		}
	case TypeCover:
		if action == ActionPosition {
			s, err := stringValue(req.Value)
			return CoverPosition{EntityID: entity, Position: strings.ToLower(s)}, err
		}
	}
	return nil, fmt.Errorf("no command for type %q action %q", req.TypeName(), action)
}

func stringValue(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("value %v is not a string", v)
	}
	return s, nil
}

func stateValue(v any) (bool, error) {
	s, err := stringValue(v)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(s) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return false, fmt.Errorf("state %q is not ON or OFF", s)
}

func intValue(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x == math.Trunc(x) {
			return int(x), nil
		}
	}
	return 0, fmt.Errorf("value %v is not an integer", v)
}

func floatValue(v any) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, fmt.Errorf("value %v is not a number", v)
}
