package discovery

import (
	"fmt"

	"github.com/KevinKickass/OpenRVCore/internal/entities"
)

// Document is one discovery config message.
type Document struct {
	Topic   string
	Payload map[string]any
}

// Documents builds the discovery config for every mapped entity.
func (p *Publisher) Documents() ([]Document, error) {
	var docs []Document
	for _, e := range p.dir.Entities() {
		doc, err := p.document(e)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (p *Publisher) uniqueID(e *entities.Entity) string {
	return p.dir.Settings().DeviceIDPrefix + "_" + e.ID
}

func (p *Publisher) document(e *entities.Entity) (Document, error) {
	uid := p.uniqueID(e)
	base := p.base(e)

	payload := map[string]any{
		"name":                  e.Name,
		"unique_id":             uid,
		"availability_topic":    p.AvailabilityTopic(),
		"payload_available":     PayloadOnline,
		"payload_not_available": PayloadOffline,
	}
	set := func(key string, v any) {
		switch x := v.(type) {
		case string:
			if x == "" {
				return
			}
		case []string:
			if len(x) == 0 {
				return
			}
		case *float64:
			if x == nil {
				return
			}
			v = *x
		case *int:
			if x == nil {
				return
			}
			v = *x
		}
		payload[key] = v
	}

	switch e.Type {
	case entities.TypeSensor:
		payload["state_topic"] = base + "/state"
		set("unit_of_measurement", e.UnitOfMeasurement)
		set("device_class", e.DeviceClass)
		set("state_class", e.StateClass)
		if e.SuggestedDisplayPrecision != nil {
			set("suggested_display_precision", e.SuggestedDisplayPrecision)
		} else if e.DeviceClass == "voltage" {
			payload["suggested_display_precision"] = 1
		}
	case entities.TypeBinarySensor:
		payload["state_topic"] = base + "/state"
		payload["payload_on"] = "ON"
		payload["payload_off"] = "OFF"
		set("device_class", e.DeviceClass)
	case entities.TypeLight:
		payload["state_topic"] = base + "/state"
		payload["command_topic"] = base + "/set"
		payload["payload_on"] = "ON"
		payload["payload_off"] = "OFF"
		if e.SupportsBrightness {
			payload["brightness_state_topic"] = base + "/brightness"
			payload["brightness_command_topic"] = base + "/brightness/set"
			payload["brightness_scale"] = 100
		}
	case entities.TypeSwitch:
		payload["state_topic"] = base + "/state"
		payload["command_topic"] = base + "/set"
		payload["payload_on"] = "ON"
		payload["payload_off"] = "OFF"
		set("device_class", e.DeviceClass)
	case entities.TypeClimate:
		payload["mode_state_topic"] = base + "/mode"
		payload["mode_command_topic"] = base + "/mode/set"
		payload["temperature_state_topic"] = base + "/setpoint"
		payload["temperature_command_topic"] = base + "/temperature/set"
		payload["current_temperature_topic"] = base + "/temperature"
		payload["fan_mode_state_topic"] = base + "/fan"
		payload["fan_mode_command_topic"] = base + "/fan_mode/set"
		set("modes", e.Modes)
		set("fan_modes", e.FanModes)
		set("min_temp", e.MinTemp)
		set("max_temp", e.MaxTemp)
		set("temp_step", e.TempStep)
		set("temperature_unit", e.TemperatureUnit)
		set("precision", e.Precision)
	case entities.TypeFan:
		payload["state_topic"] = base + "/state"
		payload["command_topic"] = base + "/set"
		payload["payload_on"] = "ON"
		payload["payload_off"] = "OFF"
		if e.SupportsSpeed {
			payload["preset_mode_state_topic"] = base + "/state"
			payload["preset_mode_command_topic"] = base + "/set"
			payload["preset_modes"] = []string{"LOW", "HIGH"}
		}
	case entities.TypeCover:
		payload["state_topic"] = base + "/state"
		payload["command_topic"] = base + "/position/set"
		payload["payload_open"] = "open"
		payload["payload_close"] = "close"
		set("device_class", e.DeviceClass)
	default:
		return Document{}, fmt.Errorf("entity %s: unknown entity type %q", e.ID, e.Type)
	}

	set("icon", e.Icon)
	if dev, ok := p.dir.Device(e.Device); ok {
		payload["device"] = p.deviceInfo(dev)
	}

	return Document{
		Topic:   fmt.Sprintf("%s/%s/%s/config", p.prefix, e.Type, uid),
		Payload: payload,
	}, nil
}

func (p *Publisher) deviceInfo(dev entities.Device) map[string]any {
	s := p.dir.Settings()
	info := map[string]any{
		"identifiers":  []string{s.DeviceIDPrefix + "_" + dev.Identifier},
		"name":         dev.Name,
		"model":        dev.Model,
		"manufacturer": dev.Manufacturer,
		"sw_version":   s.SWVersion,
	}
	if dev.SuggestedArea != "" {
		info["suggested_area"] = dev.SuggestedArea
	}
	if dev.ConfigurationURL != "" {
		info["configuration_url"] = dev.ConfigurationURL
	}
	return info
}
