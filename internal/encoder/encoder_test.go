package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

// frames formats an encoder result, failing the test on error.
func frames(t *testing.T) func([]types.CanFrame, error) []string {
	return func(fs []types.CanFrame, err error) []string {
		t.Helper()
		require.NoError(t, err)
		return types.FormatFrames(fs)
	}
}

func TestBuildArbitrationID(t *testing.T) {
	id, err := BuildArbitrationID(6, 0x1FEDB, 99)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x19FEDB63), id)
	assert.Equal(t, Header{Priority: 6, DGN: 0x1FEDB, Source: 99}, ParseArbitrationID(id))
}

func TestArbitrationIDRoundTrip(t *testing.T) {
	for priority := 0; priority <= MaxPriority; priority++ {
		for _, dgn := range []uint32{0, 1, 0xFEDB, 0x1FEDB, 0x1FEF9, MaxDGN} {
			for _, source := range []int{0, 1, 96, 99, 154, 255} {
				id, err := BuildArbitrationID(priority, dgn, source)
				require.NoError(t, err)
				assert.Zero(t, id&(1<<25), "reserved bit")
				assert.Less(t, id, uint32(1<<29))

				h := ParseArbitrationID(id)
				assert.Equal(t, uint8(priority), h.Priority)
				assert.Equal(t, dgn, h.DGN)
				assert.Equal(t, uint8(source), h.Source)
			}
		}
	}
}

func TestBuildArbitrationIDRejectsOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		priority int
		dgn      uint32
		source   int
	}{
		{8, 0x1FEDB, 99},
		{-1, 0x1FEDB, 99},
		{6, 0x20000, 99},
		{6, 0x1FEDB, 256},
		{6, 0x1FEDB, -1},
	} {
		_, err := BuildArbitrationID(tc.priority, tc.dgn, tc.source)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%+v", tc)
	}
}

func TestLightOnOff(t *testing.T) {
	e := New(DefaultConfig())

	assert.Equal(t, []string{"19FEDB63#01FFC802FF00FFFF"}, frames(t)(e.LightOnOff(1, true)))
	assert.Equal(t, []string{"19FEDB63#01FF00030000FFFF"}, frames(t)(e.LightOnOff(1, false)))
}

func TestLightBrightness(t *testing.T) {
	e := New(DefaultConfig())

	for pct, native := range map[int]byte{0: 0, 1: 2, 50: 100, 75: 150, 99: 198, 100: 200} {
		fs, err := e.LightBrightness(7, pct)
		require.NoError(t, err)
		require.Len(t, fs, 1)
		assert.Equal(t, native, fs[0].Data[2], "pct %d", pct)
		assert.Equal(t, CmdSetLevel, fs[0].Data[3])
		assert.Equal(t, byte(255), fs[0].Data[4])
		assert.Equal(t, byte(7), fs[0].Data[0])
	}

	for _, pct := range []int{-1, 101} {
		_, err := e.LightBrightness(7, pct)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
	_, err := e.LightBrightness(256, 50)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPanelLight(t *testing.T) {
	e := New(DefaultConfig())
	assert.Equal(t, []string{"19FEDB63#FF0396FFFFFF00FF"}, frames(t)(e.PanelLight(3, 75)))
}

func TestSwitchUsesOwnSource(t *testing.T) {
	e := New(DefaultConfig())

	assert.Equal(t, []string{"19FEDB60#5DFFC802FF00FFFF"}, frames(t)(e.Switch(93, true)))
	assert.Equal(t, []string{"19FEDB60#5DFFC803FF00FFFF"}, frames(t)(e.Switch(93, false)))
}

func TestVentFanToggles(t *testing.T) {
	e := New(DefaultConfig())
	assert.Equal(t, []string{"19FEDB9A#19FFC805FF00FFFF"}, frames(t)(e.VentFan(25)))
}

func TestVentLidOrder(t *testing.T) {
	e := New(DefaultConfig())

	assert.Equal(t, []string{
		"19FEDB9A#1BFF00030000FFFF",
		"19FEDB9A#1AFFC8011400FFFF",
	}, frames(t)(e.VentLid(26, 27, "open")))

	assert.Equal(t, []string{
		"19FEDB9A#1AFF00030000FFFF",
		"19FEDB9A#1BFFC8011400FFFF",
	}, frames(t)(e.VentLid(26, 27, "CLOSE")))

	_, err := e.VentLid(26, 27, "half")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCeilingFan(t *testing.T) {
	e := New(DefaultConfig())

	assert.Equal(t, []string{
		"19FEDB9E#24FFC8030000FFFF",
		"19FEDB9E#23FFC805FF00FFFF",
	}, frames(t)(e.CeilingFan(1, 1)))

	assert.Equal(t, []string{
		"19FEDB9E#23FFC8030000FFFF",
		"19FEDB9E#24FFC805FF00FFFF",
	}, frames(t)(e.CeilingFan(1, 2)))

	assert.Equal(t, []string{
		"19FEDB9E#23FFC8030000FFFF",
		"19FEDB9E#24FFC8030000FFFF",
	}, frames(t)(e.CeilingFan(1, 0)))

	assert.Equal(t, []string{
		"19FEDB9E#21FFC8030000FFFF",
		"19FEDB9E#22FFC8030000FFFF",
	}, frames(t)(e.CeilingFan(2, 0)))

	_, err := e.CeilingFan(3, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.CeilingFan(1, 3)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClimateMode(t *testing.T) {
	e := New(DefaultConfig())

	assert.Equal(t, []string{"19FEF963#00C1FFFFFFFFFFFF"}, frames(t)(e.ClimateMode(0, "cool")))
	assert.Equal(t, []string{"19FEF963#02C2FFFFFFFFFFFF"}, frames(t)(e.ClimateMode(2, "HEAT")))
	assert.Equal(t, []string{"19FEF963#00C0FFFFFFFFFFFF"}, frames(t)(e.ClimateMode(0, "off")))

	_, err := e.ClimateMode(0, "auto")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClimateFanMode(t *testing.T) {
	e := New(DefaultConfig())

	tests := []struct {
		fan, current, want string
	}{
		{"low", "cool", "19FEF963#01DF64FFFFFFFFFF"},
		{"high", "heat", "19FEF963#01DFC8FFFFFFFFFF"},
		{"auto", "cool", "19FEF963#01CFFFFFFFFFFFFF"},
		{"low", "off", "19FEF963#01D464FFFFFFFFFF"},
		{"high", "fan", "19FEF963#01D4C8FFFFFFFFFF"},
		{"auto", "off", "19FEF963#01C0FFFFFFFFFFFF"},
		{"low", "", "19FEF963#01DF64FFFFFFFFFF"},
		{"low", "something", "19FEF963#01DF64FFFFFFFFFF"},
	}
	for _, tt := range tests {
		t.Run(tt.fan+"/"+tt.current, func(t *testing.T) {
			assert.Equal(t, []string{tt.want}, frames(t)(e.ClimateFanMode(1, tt.fan, tt.current)))
		})
	}

	_, err := e.ClimateFanMode(1, "medium", "cool")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClimateStep(t *testing.T) {
	e := New(DefaultConfig())
	assert.Equal(t, []string{"19FEF963#00FFFFFFFFFAFFFF"}, frames(t)(e.ClimateStep(0, true)))
	assert.Equal(t, []string{"19FEF963#00FFFFFFFFF9FFFF"}, frames(t)(e.ClimateStep(0, false)))
}

func TestClimateTemperature(t *testing.T) {
	e := New(DefaultConfig())

	fs, err := e.ClimateTemperature(0, 72, false)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, "19FEF963#00FFFFE824E824FF", fs[0].String())

	raw := uint16(fs[0].Data[3]) | uint16(fs[0].Data[4])<<8
	assert.InDelta(t, 72.0, RawToFahrenheit(raw), 1.0)

	assert.Equal(t, []string{
		"19FEF963#00FFFFE824E824FF",
		"19FEF963#03FFFFE824E824FF",
	}, frames(t)(e.ClimateTemperature(0, 72, true)))

	// odd zones have no furnace
	assert.Len(t, frames(t)(e.ClimateTemperature(1, 72, true)), 1)

	for _, f := range []float64{49.9, 100.5} {
		_, err := e.ClimateTemperature(0, f, true)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
	_, err = e.ClimateTemperature(254, 72, true)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClimateTemperatureOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetpointOffsetF = 0.5
	e := New(cfg)

	fs, err := e.ClimateTemperature(1, 72, true)
	require.NoError(t, err)
	assert.Equal(t, "19FEF963#01FFFFF024F024FF", fs[0].String())
}

func TestFahrenheitToRawClamps(t *testing.T) {
	assert.Equal(t, uint16(9448), FahrenheitToRaw(72))
	assert.Equal(t, uint16(0), FahrenheitToRaw(-1000))
	assert.Equal(t, uint16(0xFFFF), FahrenheitToRaw(5000))
}

func TestEncodeDispatch(t *testing.T) {
	e := New(DefaultConfig())

	tests := []struct {
		name   string
		cmd    command.Command
		target Target
		want   []string
	}{
		{"light on", command.LightState{EntityID: "l", On: true}, Target{Instance: 1}, []string{"19FEDB63#01FFC802FF00FFFF"}},
		{"panel", command.LightBrightness{EntityID: "p", Percent: 75}, Target{Instance: 3, Kind: KindPanelLight}, []string{"19FEDB63#FF0396FFFFFF00FF"}},
		{"switch", command.SwitchState{EntityID: "s", On: true}, Target{Instance: 93}, []string{"19FEDB60#5DFFC802FF00FFFF"}},
		{"vent fan", command.FanState{EntityID: "f", State: "OFF"}, Target{Instance: 25, Kind: KindVentFan}, []string{"19FEDB9A#19FFC805FF00FFFF"}},
		{"ceiling fan high", command.FanState{EntityID: "f", State: "HIGH"}, Target{FanNumber: 1, Kind: KindCeilingFan}, []string{"19FEDB9E#23FFC8030000FFFF", "19FEDB9E#24FFC805FF00FFFF"}},
		{"cover", command.CoverPosition{EntityID: "c", Position: "open"}, Target{UpInstance: 26, DownInstance: 27}, []string{"19FEDB9A#1BFF00030000FFFF", "19FEDB9A#1AFFC8011400FFFF"}},
		{"climate fan only", command.ClimateFanMode{EntityID: "h", FanMode: "low"}, Target{Instance: 0, CurrentMode: "off"}, []string{"19FEF963#00D464FFFFFFFFFF"}},
		{"climate temperature syncs", command.ClimateTemperature{EntityID: "h", Fahrenheit: 72}, Target{Instance: 0}, []string{"19FEF963#00FFFFE824E824FF", "19FEF963#03FFFFE824E824FF"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frames(t)(e.Encode(tt.cmd, tt.target)))
		})
	}

	_, err := e.Encode(nil, Target{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.Encode(command.FanState{State: "MEDIUM"}, Target{Kind: KindCeilingFan, FanNumber: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
