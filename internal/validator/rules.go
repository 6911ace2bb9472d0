package validator

import (
	"github.com/KevinKickass/OpenRVCore/internal/command"
)

type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindNumber
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindNumber:
		return "number"
	default:
		return "unknown"
	}
}

// ActionRule constrains the value of one action.
type ActionRule struct {
	Kind    ValueKind
	Allowed []string
	Min     *float64
	Max     *float64
}

// TypeRule lists the actions of a command type. RequiresAction means the
// request must name its action explicitly.
type TypeRule struct {
	RequiresAction bool
	Actions        map[command.Action]ActionRule
}

func bound(v float64) *float64 { return &v }

// DefaultRules is the rule table for the five command types.
func DefaultRules() map[command.Type]TypeRule {
	onOff := ActionRule{Kind: KindString, Allowed: []string{"ON", "OFF"}}

	return map[command.Type]TypeRule{
		command.TypeLight: {
			Actions: map[command.Action]ActionRule{
				command.ActionState:      onOff,
				command.ActionBrightness: {Kind: KindInt, Min: bound(0), Max: bound(100)},
			},
		},
		command.TypeClimate: {
			RequiresAction: true,
			Actions: map[command.Action]ActionRule{
				command.ActionMode:        {Kind: KindString, Allowed: []string{"off", "cool", "heat"}},
				command.ActionTemperature: {Kind: KindNumber, Min: bound(50), Max: bound(100)},
				command.ActionFanMode:     {Kind: KindString, Allowed: []string{"auto", "low", "high"}},
			},
		},
		command.TypeSwitch: {
			Actions: map[command.Action]ActionRule{
				command.ActionState: onOff,
			},
		},
		command.TypeFan: {
			Actions: map[command.Action]ActionRule{
				command.ActionState: {Kind: KindString, Allowed: []string{"ON", "OFF", "LOW", "HIGH"}},
			},
		},
		command.TypeCover: {
			RequiresAction: true,
			Actions: map[command.Action]ActionRule{
				command.ActionPosition: {Kind: KindString, Allowed: []string{"open", "close"}},
			},
		},
	}
}
