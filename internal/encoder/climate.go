package encoder

import (
	"fmt"
	"math"
	"strings"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	MinSetpointF = 50.0
	MaxSetpointF = 100.0

	kelvinPerBit = 0.03125

	furnaceOffset = 3
)

// Thermostat command payloads, bytes 1-7 after the instance.
var thermostatCommands = map[string][7]byte{
	"off":           {0xC0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"cool":          {0xC1, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"heat":          {0xC2, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"fan_low":       {0xDF, 0x64, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"fan_high":      {0xDF, 0xC8, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"fan_auto":      {0xCF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"fan_low_only":  {0xD4, 0x64, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"fan_high_only": {0xD4, 0xC8, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"fan_auto_only": {0xC0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	"temp_up":       {0xFF, 0xFF, 0xFF, 0xFF, 0xFA, 0xFF, 0xFF},
	"temp_down":     {0xFF, 0xFF, 0xFF, 0xFF, 0xF9, 0xFF, 0xFF},
}

func (e *Encoder) thermostat(instance int, key string) ([]types.CanFrame, error) {
	if err := checkInstance("instance", instance); err != nil {
		return nil, err
	}
	body, ok := thermostatCommands[key]
	if !ok {
		return nil, fmt.Errorf("%w: no thermostat command %q", ErrInvalidArgument, key)
	}
	var data [8]byte
	data[0] = byte(instance)
	copy(data[1:], body[:])
	return single(e.frame(DGNThermostat, e.cfg.SourceAddress, data, 0))
}

// ClimateMode sets the operating mode: off, cool or heat.
func (e *Encoder) ClimateMode(instance int, mode string) ([]types.CanFrame, error) {
	switch m := strings.ToLower(mode); m {
	case "off", "cool", "heat":
		return e.thermostat(instance, m)
	}
	return nil, fmt.Errorf("%w: mode must be off, cool or heat, got %q", ErrInvalidArgument, mode)
}

// ClimateFanMode sets auto, low or high fan. When the thermostat is off or
// in fan-only mode the fan-only variant is sent. An unknown current mode is
// treated as an active heating or cooling mode.
func (e *Encoder) ClimateFanMode(instance int, fanMode, currentMode string) ([]types.CanFrame, error) {
	fm := strings.ToLower(fanMode)
	switch fm {
	case "auto", "low", "high":
	default:
		return nil, fmt.Errorf("%w: fan mode must be auto, low or high, got %q", ErrInvalidArgument, fanMode)
	}

	key := "fan_" + fm
	if FanOnly(currentMode) {
		key += "_only"
	}
	return e.thermostat(instance, key)
}

// FanOnly reports whether a thermostat in mode needs the fan-only variant.
func FanOnly(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "off", "fan", "fan only", "fan_only":
		return true
	}
	return false
}

// ClimateStep nudges the setpoint one step up or down.
func (e *Encoder) ClimateStep(instance int, up bool) ([]types.CanFrame, error) {
	if up {
		return e.thermostat(instance, "temp_up")
	}
	return e.thermostat(instance, "temp_down")
}

// ClimateTemperature sets the heat and cool setpoints of a zone. With sync
// on, an even zone also sets its furnace at instance+3.
func (e *Encoder) ClimateTemperature(instance int, fahrenheit float64, sync bool) ([]types.CanFrame, error) {
	if err := checkInstance("instance", instance); err != nil {
		return nil, err
	}
	if math.IsNaN(fahrenheit) || fahrenheit < MinSetpointF || fahrenheit > MaxSetpointF {
		return nil, fmt.Errorf("%w: temperature must be %v-%v F, got %v", ErrInvalidArgument, MinSetpointF, MaxSetpointF, fahrenheit)
	}

	raw := FahrenheitToRaw(fahrenheit + e.cfg.SetpointOffsetF)
	lo, hi := byte(raw), byte(raw>>8)
	setpoint := func(inst int) [8]byte {
		return [8]byte{byte(inst), 0xFF, 0xFF, lo, hi, lo, hi, 0xFF}
	}

	zone, err := e.frame(DGNThermostat, e.cfg.SourceAddress, setpoint(instance), 0)
	if err != nil {
		return nil, err
	}
	frames := []types.CanFrame{zone}

	if sync && instance%2 == 0 {
		furnace := instance + furnaceOffset
		if err := checkInstance("furnace instance", furnace); err != nil {
			return nil, err
		}
		f, err := e.frame(DGNThermostat, e.cfg.SourceAddress, setpoint(furnace), 0)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// FahrenheitToRaw converts to the bus temperature unit of 1/32 K,
// truncating after a +0.999 bias and clamping to 16 bits.
func FahrenheitToRaw(fahrenheit float64) uint16 {
	kelvin := (fahrenheit-32)*5/9 + 273
	raw := math.Trunc(kelvin/kelvinPerBit + 0.999)
	switch {
	case raw < 0:
		return 0
	case raw > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(raw)
}

// RawToFahrenheit is the inverse of FahrenheitToRaw, up to one bit.
func RawToFahrenheit(raw uint16) float64 {
	kelvin := float64(raw) * kelvinPerBit
	return (kelvin-273)*9/5 + 32
}
