package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  Topic
	}{
		{"rv/light/ceiling/set", Topic{Type: "light", EntityID: "ceiling"}},
		{"rv/light/ceiling/brightness/set", Topic{Type: "light", EntityID: "ceiling", Action: "brightness"}},
		{"rv/climate/hvac_front/mode/set", Topic{Type: "climate", EntityID: "hvac_front", Action: "mode"}},
		{"rv/cover/galley_vent/position/set", Topic{Type: "cover", EntityID: "galley_vent", Action: "position"}},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := ParseTopic("rv", tt.topic)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.topic, got.String("rv"))
		})
	}
}

func TestParseTopicNestedNamespace(t *testing.T) {
	got, err := ParseTopic("home/rv/", "home/rv/switch/water_pump/set")
	require.NoError(t, err)
	assert.Equal(t, Topic{Type: "switch", EntityID: "water_pump"}, got)
}

func TestParseTopicRejects(t *testing.T) {
	for _, topic := range []string{
		"other/light/ceiling/set",
		"rv/light/ceiling",
		"rv/light/set",
		"rv/light/ceiling/brightness/extra/set",
		"rv/light//set",
		"rv/light/ceiling/state",
	} {
		t.Run(topic, func(t *testing.T) {
			_, err := ParseTopic("rv", topic)
			assert.ErrorIs(t, err, ErrInvalidTopic)
		})
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		action  Action
		payload string
		want    any
	}{
		{ActionState, " on ", "ON"},
		{ActionBrightness, "75", 75},
		{ActionTemperature, "72.5", 72.5},
		{ActionMode, "COOL", "cool"},
		{ActionFanMode, "Auto", "auto"},
		{ActionPosition, "OPEN", "open"},
		{Action("other"), " raw ", "raw"},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got, err := ParsePayload(tt.action, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParsePayload(ActionBrightness, "bright")
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParsePayload(ActionTemperature, "warm")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestFromMessageFillsDefaultAction(t *testing.T) {
	req, err := FromMessage(SourceMQTT, "rv", "rv/light/ceiling/set", []byte("on"))
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, SourceMQTT, req.Source)
	assert.Equal(t, "light", req.TypeName())
	assert.Equal(t, "ceiling", req.Entity())
	assert.Equal(t, "state", req.ActionName())
	assert.Equal(t, "ON", req.Value)

	req, err = FromMessage(SourceMQTT, "rv", "rv/climate/hvac/set", []byte("cool"))
	require.NoError(t, err)
	assert.Nil(t, req.Action, "climate has no implied action")
}

func TestDecodeJSON(t *testing.T) {
	req, err := DecodeJSON(SourceREST, []byte(`{"command_type":"light","entity_id":"ceiling","action":"brightness","value":75}`))
	require.NoError(t, err)
	assert.Equal(t, int64(75), req.Value)

	req, err = DecodeJSON(SourceREST, []byte(`{"command_type":"climate","entity_id":"hvac","action":"temperature","value":72.5}`))
	require.NoError(t, err)
	assert.Equal(t, 72.5, req.Value)

	req, err = DecodeJSON(SourceREST, []byte(`{"command_type":"light"}`))
	require.NoError(t, err)
	assert.Nil(t, req.EntityID)
	assert.Nil(t, req.Value)

	for _, body := range []string{`[]`, `"light"`, ``, `{"command_type":5}`} {
		_, err := DecodeJSON(SourceREST, []byte(body))
		assert.ErrorIs(t, err, ErrInvalidPayload, body)
	}
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		req    *Request
		want   Command
		action Action
	}{
		{"light on", NewRequest(SourceREST, "light", "ceiling", "", "on"), LightState{EntityID: "ceiling", On: true}, ActionState},
		{"light brightness", NewRequest(SourceREST, "light", "ceiling", ActionBrightness, int64(40)), LightBrightness{EntityID: "ceiling", Percent: 40}, ActionBrightness},
		{"climate mode", NewRequest(SourceREST, "climate", "hvac", ActionMode, "HEAT"), ClimateMode{EntityID: "hvac", Mode: "heat"}, ActionMode},
		{"climate temperature", NewRequest(SourceREST, "climate", "hvac", ActionTemperature, 68), ClimateTemperature{EntityID: "hvac", Fahrenheit: 68}, ActionTemperature},
		{"climate fan", NewRequest(SourceREST, "climate", "hvac", ActionFanMode, "low"), ClimateFanMode{EntityID: "hvac", FanMode: "low"}, ActionFanMode},
		{"switch off", NewRequest(SourceREST, "switch", "pump", "", "OFF"), SwitchState{EntityID: "pump", On: false}, ActionState},
		{"fan high", NewRequest(SourceREST, "fan", "bedroom", "", "high"), FanState{EntityID: "bedroom", State: "HIGH"}, ActionState},
		{"cover open", NewRequest(SourceREST, "cover", "galley", "", "OPEN"), CoverPosition{EntityID: "galley", Position: "open"}, ActionPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromRequest(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.action, got.Action())
			assert.Equal(t, tt.req.Entity(), got.Entity())
		})
	}
}

func TestFromRequestRejectsUnvalidatedShapes(t *testing.T) {
	_, err := FromRequest(NewRequest(SourceREST, "light", "ceiling", ActionMode, "cool"))
	assert.Error(t, err)

	_, err = FromRequest(NewRequest(SourceREST, "light", "ceiling", ActionBrightness, 40.5))
	assert.Error(t, err)

	_, err = FromRequest(nil)
	assert.Error(t, err)
}
