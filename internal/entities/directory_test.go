package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/OpenRVCore/internal/encoder"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

func loadTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := LoadDirectory("testdata/mapping.yaml")
	require.NoError(t, err)
	return d
}

func TestLoadMapping(t *testing.T) {
	m, err := LoadMapping("testdata/mapping.yaml")
	require.NoError(t, err)

	assert.Equal(t, "tiffin", m.Settings.DeviceIDPrefix)
	assert.Equal(t, "2.1.0", m.Settings.SWVersion)
	assert.Len(t, m.Devices, 3)
	assert.Len(t, m.Entities, 11)
	assert.Equal(t, "Interior", m.Devices["lighting"].SuggestedArea)

	ac := m.Entities[6]
	assert.Equal(t, "front_ac", ac.ID)
	require.NotNil(t, ac.MinTemp)
	assert.Equal(t, 50.0, *ac.MinTemp)
	assert.Equal(t, []string{"off", "cool", "heat"}, ac.Modes)
}

func TestParseMappingDefaults(t *testing.T) {
	m, err := ParseMapping([]byte("entities:\n  - {entity_id: pump, entity_type: switch, name: Pump, instance: 4}\n"))
	require.NoError(t, err)
	assert.Equal(t, "rv", m.Settings.StateTopicPrefix)
	assert.Equal(t, "rv", m.Settings.DeviceIDPrefix)
	assert.Equal(t, "2.0.0", m.Settings.SWVersion)
}

func TestParseMappingRejects(t *testing.T) {
	tests := map[string]string{
		"no entities":      "settings: {}\n",
		"bad type":         "entities:\n  - {entity_id: x, entity_type: toaster, name: X}\n",
		"instance too big": "entities:\n  - {entity_id: x, entity_type: light, name: X, instance: 300}\n",
		"bad template":     "entities:\n  - {entity_id: x, entity_type: sensor, name: X, value_template: \"value['a']\"}\n",
		"missing name":     "entities:\n  - {entity_id: x, entity_type: light}\n",
		"not yaml":         "entities: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMapping([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestNewDirectoryRejects(t *testing.T) {
	one := 1
	_, err := NewDirectory(&Mapping{Entities: []Entity{
		{ID: "a", Type: TypeLight, Instance: &one},
		{ID: "a", Type: TypeSwitch, Instance: &one},
	}})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewDirectory(&Mapping{Entities: []Entity{{ID: "a", Type: TypeLight, Device: "nowhere"}}})
	assert.ErrorContains(t, err, "unknown device")
}

func TestDirectoryLookup(t *testing.T) {
	d := loadTestDirectory(t)

	typ, ok := d.EntityType("light_ceiling")
	assert.True(t, ok)
	assert.Equal(t, TypeLight, typ)

	_, ok = d.EntityType("nope")
	assert.False(t, ok)

	e, ok := d.Lookup("water_pump")
	require.True(t, ok)
	assert.True(t, e.Commandable())

	e, _ = d.Lookup("fresh_tank")
	assert.False(t, e.Commandable())

	assert.Len(t, d.Entities(), 11)
	dev, ok := d.Device("climate")
	assert.True(t, ok)
	assert.Equal(t, "RV Climate", dev.Name)
}

func TestDirectoryByMessage(t *testing.T) {
	d := loadTestDirectory(t)

	got := d.ByMessage("DC_DIMMER_STATUS_3", 1, true)
	require.Len(t, got, 1)
	assert.Equal(t, "light_ceiling", got[0].ID)

	assert.Empty(t, d.ByMessage("DC_DIMMER_STATUS_3", 2, true))
	assert.Empty(t, d.ByMessage("DC_DIMMER_STATUS_3", 0, false))

	// entities without an instance match any frame of the message
	got = d.ByMessage("DC_SOURCE_STATUS_1", 9, true)
	require.Len(t, got, 1)
	assert.Equal(t, "battery_voltage", got[0].ID)
}

func TestDirectoryTarget(t *testing.T) {
	d := loadTestDirectory(t)

	tests := []struct {
		id   string
		want encoder.Target
	}{
		{"light_ceiling", encoder.Target{Instance: 1}},
		{"panel_backlight", encoder.Target{Instance: 3, Kind: encoder.KindPanelLight}},
		{"bath_vent_fan", encoder.Target{Instance: 27, Kind: encoder.KindVentFan}},
		{"bedroom_ceiling_fan", encoder.Target{FanNumber: 1, Kind: encoder.KindCeilingFan}},
		{"bath_vent_lid", encoder.Target{UpInstance: 26, DownInstance: 27}},
		{"front_ac", encoder.Target{Instance: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := d.Target(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := d.Target("ghost")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = d.Target("battery_voltage")
	assert.ErrorIs(t, err, ErrNoInstance)
}

func TestClimateStateFeedsTarget(t *testing.T) {
	d := loadTestDirectory(t)

	f := types.NewDecodedFrame("1FFE2", "00", MessageThermostatStatus)
	f.Set("instance", int64(0))
	f.Set("operating mode definition", "Fan Only")
	assert.True(t, d.Climate().Observe(f))

	got, err := d.Target("front_ac")
	require.NoError(t, err)
	assert.Equal(t, "fan only", got.CurrentMode)

	other := types.NewDecodedFrame("1FEDA", "00", "DC_DIMMER_STATUS_3")
	other.Set("instance", int64(0))
	assert.False(t, d.Climate().Observe(other))
	assert.False(t, d.Climate().Observe(nil))
}

func TestLookupField(t *testing.T) {
	f := types.NewDecodedFrame("1FEDA", "00", "DC_DIMMER_STATUS_3")
	f.Set("load status", "01")
	f.Set("operating_status_brightness", 50.0)

	v, ok := LookupField(f, "load_status")
	assert.True(t, ok)
	assert.Equal(t, "01", v)

	v, ok = LookupField(f, "operating status brightness")
	assert.True(t, ok)
	assert.Equal(t, 50.0, v)

	v, ok = LookupField(f, "name")
	assert.True(t, ok)
	assert.Equal(t, "DC_DIMMER_STATUS_3", v)

	_, ok = LookupField(f, "")
	assert.False(t, ok)
}
