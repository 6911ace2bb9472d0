// Package encoder turns validated commands into ordered RV-C bus frames.
// Every method is pure: the returned frames carry their own inter-frame
// delay and the transmitter owns all waiting.
package encoder

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	DGNDCDimmer   uint32 = 0x1FEDB
	DGNThermostat uint32 = 0x1FEF9

	DefaultPriority = 6
)

// DC dimmer command codes.
const (
	CmdSetLevel   byte = 0
	CmdOnDuration byte = 1
	CmdOnDelay    byte = 2
	CmdOffDelay   byte = 3
	CmdStop       byte = 4
	CmdToggle     byte = 5
)

const (
	levelFull          byte = 200
	durationIndefinite byte = 255
	lidRunSeconds      byte = 20
)

type Config struct {
	SourceAddress    int     `mapstructure:"source_address"`
	SwitchSource     int     `mapstructure:"switch_source"`
	VentSource       int     `mapstructure:"vent_source"`
	CeilingFanSource int     `mapstructure:"ceiling_fan_source"`
	FurnaceSync      bool    `mapstructure:"furnace_sync"`
	SetpointOffsetF  float64 `mapstructure:"setpoint_offset_f"`
}

func DefaultConfig() Config {
	return Config{
		SourceAddress:    99,
		SwitchSource:     96,
		VentSource:       154,
		CeilingFanSource: 158,
		FurnaceSync:      true,
	}
}

// FanLoads is the pair of dimmer loads driving one speed of a ceiling fan.
type FanLoads struct {
	Primary   int
	Secondary int
}

// CeilingFan describes a fan whose speeds are selected by two loads.
type CeilingFan struct {
	Off   FanLoads
	Speed map[int]FanLoads
}

// DefaultCeilingFans maps fan numbers to their load wiring.
func DefaultCeilingFans() map[int]CeilingFan {
	return map[int]CeilingFan{
		1: {
			Off:   FanLoads{Primary: 35, Secondary: 36},
			Speed: map[int]FanLoads{1: {Primary: 35, Secondary: 36}, 2: {Primary: 36, Secondary: 35}},
		},
		2: {
			Off:   FanLoads{Primary: 33, Secondary: 34},
			Speed: map[int]FanLoads{1: {Primary: 33, Secondary: 34}, 2: {Primary: 34, Secondary: 33}},
		},
	}
}

type Encoder struct {
	cfg  Config
	fans map[int]CeilingFan
}

type Option func(*Encoder)

func WithCeilingFans(fans map[int]CeilingFan) Option {
	return func(e *Encoder) { e.fans = fans }
}

func New(cfg Config, opts ...Option) *Encoder {
	e := &Encoder{cfg: cfg, fans: DefaultCeilingFans()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) Config() Config { return e.cfg }

func (e *Encoder) frame(dgn uint32, source int, data [8]byte, delay time.Duration) (types.CanFrame, error) {
	id, err := BuildArbitrationID(DefaultPriority, dgn, source)
	if err != nil {
		return types.CanFrame{}, err
	}
	return types.CanFrame{ID: id, Data: data, Delay: delay}, nil
}

func checkInstance(name string, instance int) error {
	if instance < 0 || instance > 0xFF {
		return fmt.Errorf("%w: %s must be 0-255, got %d", ErrInvalidArgument, name, instance)
	}
	return nil
}

func checkPercent(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: brightness must be 0-100, got %d", ErrInvalidArgument, pct)
	}
	return nil
}

// dimmer builds a DC dimmer payload: instance, group, level, command,
// duration, interlock, two reserved bytes.
func dimmer(instance int, level, cmd, duration byte) [8]byte {
	return [8]byte{byte(instance), 0xFF, level, cmd, duration, 0x00, 0xFF, 0xFF}
}

func (e *Encoder) dimmerFrame(source, instance int, level, cmd, duration byte) (types.CanFrame, error) {
	if err := checkInstance("load instance", instance); err != nil {
		return types.CanFrame{}, err
	}
	return e.frame(DGNDCDimmer, source, dimmer(instance, level, cmd, duration), 0)
}

func single(f types.CanFrame, err error) ([]types.CanFrame, error) {
	if err != nil {
		return nil, err
	}
	return []types.CanFrame{f}, nil
}

// LightOnOff uses the delayed on/off codes rather than set-level, which
// would start a ramp sequence on the dimmer.
func (e *Encoder) LightOnOff(instance int, on bool) ([]types.CanFrame, error) {
	if on {
		return single(e.dimmerFrame(e.cfg.SourceAddress, instance, levelFull, CmdOnDelay, durationIndefinite))
	}
	return single(e.dimmerFrame(e.cfg.SourceAddress, instance, 0, CmdOffDelay, 0))
}

func (e *Encoder) LightBrightness(instance, pct int) ([]types.CanFrame, error) {
	if err := checkPercent(pct); err != nil {
		return nil, err
	}
	return single(e.dimmerFrame(e.cfg.SourceAddress, instance, byte(pct*2), CmdSetLevel, durationIndefinite))
}

// PanelLight sets a panel backlight. Panels put the instance in byte 1.
func (e *Encoder) PanelLight(instance, pct int) ([]types.CanFrame, error) {
	if err := checkInstance("instance", instance); err != nil {
		return nil, err
	}
	if err := checkPercent(pct); err != nil {
		return nil, err
	}
	data := [8]byte{0xFF, byte(instance), byte(pct * 2), 0xFF, 0xFF, 0xFF, 0x00, 0xFF}
	return single(e.frame(DGNDCDimmer, e.cfg.SourceAddress, data, 0))
}

// Switch drives a pump or switch load. Level stays at full in both
// directions; the command code decides on or off.
func (e *Encoder) Switch(instance int, on bool) ([]types.CanFrame, error) {
	cmd := CmdOffDelay
	if on {
		cmd = CmdOnDelay
	}
	return single(e.dimmerFrame(e.cfg.SwitchSource, instance, levelFull, cmd, durationIndefinite))
}

// VentFan always toggles; the fan has no separate on and off codes.
func (e *Encoder) VentFan(instance int) ([]types.CanFrame, error) {
	return single(e.dimmerFrame(e.cfg.VentSource, instance, levelFull, CmdToggle, durationIndefinite))
}

// VentLid moves a dual-motor lid. The opposing motor is stopped first,
// then the driving motor runs for a fixed time.
func (e *Encoder) VentLid(up, down int, position string) ([]types.CanFrame, error) {
	var stop, run int
	switch strings.ToLower(position) {
	case "open":
		stop, run = down, up
	case "close":
		stop, run = up, down
	default:
		return nil, fmt.Errorf("%w: position must be open or close, got %q", ErrInvalidArgument, position)
	}

	first, err := e.dimmerFrame(e.cfg.VentSource, stop, 0, CmdOffDelay, 0)
	if err != nil {
		return nil, err
	}
	second, err := e.dimmerFrame(e.cfg.VentSource, run, levelFull, CmdOnDuration, lidRunSeconds)
	if err != nil {
		return nil, err
	}
	return []types.CanFrame{first, second}, nil
}

// CeilingFan selects a speed (0 off, 1 low, 2 high) by switching off the
// secondary load and toggling the primary one.
func (e *Encoder) CeilingFan(fanNumber, speed int) ([]types.CanFrame, error) {
	fan, ok := e.fans[fanNumber]
	if !ok {
		return nil, fmt.Errorf("%w: unknown ceiling fan %d", ErrInvalidArgument, fanNumber)
	}

	src := e.cfg.CeilingFanSource
	if speed == 0 {
		first, err := e.dimmerFrame(src, fan.Off.Primary, levelFull, CmdOffDelay, 0)
		if err != nil {
			return nil, err
		}
		second, err := e.dimmerFrame(src, fan.Off.Secondary, levelFull, CmdOffDelay, 0)
		if err != nil {
			return nil, err
		}
		return []types.CanFrame{first, second}, nil
	}

	loads, ok := fan.Speed[speed]
	if !ok {
		return nil, fmt.Errorf("%w: ceiling fan %d has no speed %d", ErrInvalidArgument, fanNumber, speed)
	}
	off, err := e.dimmerFrame(src, loads.Secondary, levelFull, CmdOffDelay, 0)
	if err != nil {
		return nil, err
	}
	on, err := e.dimmerFrame(src, loads.Primary, levelFull, CmdToggle, durationIndefinite)
	if err != nil {
		return nil, err
	}
	return []types.CanFrame{off, on}, nil
}
