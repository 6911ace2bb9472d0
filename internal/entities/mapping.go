// Package entities maps Home Assistant style entities onto RV-C instances.
// The mapping file drives both command addressing and state publication.
package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/entity-mapping-v1.json
var mappingSchemaJSON string

var ErrUnknownEntity = errors.New("unknown entity")

// Entity types.
const (
	TypeSensor       = "sensor"
	TypeBinarySensor = "binary_sensor"
	TypeLight        = "light"
	TypeSwitch       = "switch"
	TypeClimate      = "climate"
	TypeFan          = "fan"
	TypeCover        = "cover"
)

type Settings struct {
	StateTopicPrefix string `yaml:"state_topic_prefix" json:"state_topic_prefix"`
	DeviceIDPrefix   string `yaml:"device_id_prefix" json:"device_id_prefix"`
	SWVersion        string `yaml:"sw_version" json:"sw_version"`
}

type Device struct {
	Identifier       string `yaml:"identifier" json:"identifier"`
	Name             string `yaml:"name" json:"name"`
	Model            string `yaml:"model" json:"model,omitempty"`
	Manufacturer     string `yaml:"manufacturer" json:"manufacturer,omitempty"`
	SuggestedArea    string `yaml:"suggested_area" json:"suggested_area,omitempty"`
	ConfigurationURL string `yaml:"configuration_url" json:"configuration_url,omitempty"`
}

type Entity struct {
	ID         string `yaml:"entity_id" json:"entity_id"`
	Type       string `yaml:"entity_type" json:"entity_type"`
	Name       string `yaml:"name" json:"name"`
	Device     string `yaml:"device" json:"device,omitempty"`
	RVCMessage string `yaml:"rvc_message" json:"rvc_message,omitempty"`

	Instance     *int   `yaml:"instance" json:"instance,omitempty"`
	UpInstance   *int   `yaml:"up_instance" json:"up_instance,omitempty"`
	DownInstance *int   `yaml:"down_instance" json:"down_instance,omitempty"`
	FanNumber    *int   `yaml:"fan_number" json:"fan_number,omitempty"`
	Kind         string `yaml:"kind" json:"kind,omitempty"`

	ValueField    string `yaml:"value_field" json:"value_field,omitempty"`
	StateField    string `yaml:"state_field" json:"state_field,omitempty"`
	ValueTemplate string `yaml:"value_template" json:"value_template,omitempty"`
	OnValue       string `yaml:"on_value" json:"on_value,omitempty"`

	SupportsBrightness bool   `yaml:"supports_brightness" json:"supports_brightness,omitempty"`
	BrightnessField    string `yaml:"brightness_field" json:"brightness_field,omitempty"`
	SupportsSpeed      bool   `yaml:"supports_speed" json:"supports_speed,omitempty"`

	Modes           []string `yaml:"modes" json:"modes,omitempty"`
	FanModes        []string `yaml:"fan_modes" json:"fan_modes,omitempty"`
	MinTemp         *float64 `yaml:"min_temp" json:"min_temp,omitempty"`
	MaxTemp         *float64 `yaml:"max_temp" json:"max_temp,omitempty"`
	TempStep        *float64 `yaml:"temp_step" json:"temp_step,omitempty"`
	TemperatureUnit string   `yaml:"temperature_unit" json:"temperature_unit,omitempty"`
	Precision       *float64 `yaml:"precision" json:"precision,omitempty"`
	ModeField       string   `yaml:"mode_field" json:"mode_field,omitempty"`
	SetpointField   string   `yaml:"setpoint_field" json:"setpoint_field,omitempty"`
	FanModeField    string   `yaml:"fan_mode_field" json:"fan_mode_field,omitempty"`

	UnitOfMeasurement         string `yaml:"unit_of_measurement" json:"unit_of_measurement,omitempty"`
	DeviceClass               string `yaml:"device_class" json:"device_class,omitempty"`
	StateClass                string `yaml:"state_class" json:"state_class,omitempty"`
	Icon                      string `yaml:"icon" json:"icon,omitempty"`
	SuggestedDisplayPrecision *int   `yaml:"suggested_display_precision" json:"suggested_display_precision,omitempty"`
}

// Commandable reports whether the entity accepts commands.
func (e *Entity) Commandable() bool {
	switch e.Type {
	case TypeLight, TypeSwitch, TypeClimate, TypeFan, TypeCover:
		return true
	}
	return false
}

type Mapping struct {
	Settings Settings          `yaml:"settings" json:"settings"`
	Devices  map[string]Device `yaml:"devices" json:"devices"`
	Entities []Entity          `yaml:"entities" json:"entities"`
}

// LoadMapping reads, validates and parses a mapping file.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	m, err := ParseMapping(data)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return m, nil
}

// ParseMapping validates a YAML mapping document against the embedded
// schema and decodes it. Missing settings get their defaults.
func ParseMapping(data []byte) (*Mapping, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Settings.StateTopicPrefix == "" {
		m.Settings.StateTopicPrefix = "rv"
	}
	if m.Settings.DeviceIDPrefix == "" {
		m.Settings.DeviceIDPrefix = "rv"
	}
	if m.Settings.SWVersion == "" {
		m.Settings.SWVersion = "2.0.0"
	}
	return &m, nil
}

func validateDocument(doc any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("entity-mapping-v1.json",
		strings.NewReader(mappingSchemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("entity-mapping-v1.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	// round-trip through JSON so numbers and maps have the types the
	// schema validator expects
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("mapping is not JSON compatible: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
