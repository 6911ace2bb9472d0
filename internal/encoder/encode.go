package encoder

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

// Device kinds that change how a command type is encoded.
const (
	KindVentFan    = "vent_fan"
	KindCeilingFan = "ceiling_fan"
	KindPanelLight = "panel_light"
)

// Target is the bus addressing of an entity.
type Target struct {
	Instance     int
	UpInstance   int
	DownInstance int
	FanNumber    int
	Kind         string
	// CurrentMode is the last known thermostat mode, if any.
	CurrentMode string
}

// Encode dispatches a validated command to the matching device encoder.
func (e *Encoder) Encode(cmd command.Command, t Target) ([]types.CanFrame, error) {
	switch c := cmd.(type) {
	case command.LightState:
		return e.LightOnOff(t.Instance, c.On)
	case command.LightBrightness:
		if t.Kind == KindPanelLight {
			return e.PanelLight(t.Instance, c.Percent)
		}
		return e.LightBrightness(t.Instance, c.Percent)
	case command.ClimateMode:
		return e.ClimateMode(t.Instance, c.Mode)
	case command.ClimateTemperature:
		return e.ClimateTemperature(t.Instance, c.Fahrenheit, e.cfg.FurnaceSync)
	case command.ClimateFanMode:
		return e.ClimateFanMode(t.Instance, c.FanMode, t.CurrentMode)
	case command.SwitchState:
		return e.Switch(t.Instance, c.On)
	case command.FanState:
		if t.Kind == KindCeilingFan {
			speed, err := FanSpeed(c.State)
			if err != nil {
				return nil, err
			}
			return e.CeilingFan(t.FanNumber, speed)
		}
		return e.VentFan(t.Instance)
	case command.CoverPosition:
		return e.VentLid(t.UpInstance, t.DownInstance, c.Position)
	case nil:
		return nil, fmt.Errorf("%w: nil command", ErrInvalidArgument)
	}
	return nil, fmt.Errorf("%w: unsupported command %T", ErrInvalidArgument, cmd)
}

// FanSpeed maps a fan state payload to a ceiling fan speed.
func FanSpeed(state string) (int, error) {
	switch strings.ToUpper(state) {
	case "OFF":
		return 0, nil
	case "ON", "LOW":
		return 1, nil
	case "HIGH":
		return 2, nil
	}
	return 0, fmt.Errorf("%w: fan state %q", ErrInvalidArgument, state)
}
