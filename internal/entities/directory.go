package entities

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenRVCore/internal/encoder"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

var ErrNoInstance = errors.New("no instance mapping")

// Directory indexes a mapping by entity id and by RV-C message name. It is
// read-only after construction; thermostat state lives in the attached
// ClimateState.
type Directory struct {
	settings  Settings
	devices   map[string]Device
	entities  []*Entity
	byID      map[string]*Entity
	byMessage map[string][]*Entity
	climate   *ClimateState
}

func NewDirectory(m *Mapping) (*Directory, error) {
	d := &Directory{
		settings:  m.Settings,
		devices:   m.Devices,
		byID:      make(map[string]*Entity, len(m.Entities)),
		byMessage: make(map[string][]*Entity),
		climate:   NewClimateState(),
	}
	for i := range m.Entities {
		e := &m.Entities[i]
		if _, dup := d.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate entity_id %q", e.ID)
		}
		if e.Device != "" {
			if _, ok := d.devices[e.Device]; !ok {
				return nil, fmt.Errorf("entity %s: unknown device %q", e.ID, e.Device)
			}
		}
		d.byID[e.ID] = e
		d.entities = append(d.entities, e)
		if e.RVCMessage != "" {
			d.byMessage[e.RVCMessage] = append(d.byMessage[e.RVCMessage], e)
		}
	}
	return d, nil
}

// LoadDirectory reads a mapping file into a Directory.
func LoadDirectory(path string) (*Directory, error) {
	m, err := LoadMapping(path)
	if err != nil {
		return nil, err
	}
	return NewDirectory(m)
}

func (d *Directory) Settings() Settings { return d.settings }

func (d *Directory) Device(key string) (Device, bool) {
	dev, ok := d.devices[key]
	return dev, ok
}

func (d *Directory) Climate() *ClimateState { return d.climate }

// Entities returns every entity in mapping order.
func (d *Directory) Entities() []*Entity {
	out := make([]*Entity, len(d.entities))
	copy(out, d.entities)
	return out
}

func (d *Directory) Lookup(id string) (*Entity, bool) {
	e, ok := d.byID[id]
	return e, ok
}

// EntityType returns the mapped type of id.
func (d *Directory) EntityType(id string) (string, bool) {
	e, ok := d.byID[id]
	if !ok {
		return "", false
	}
	return e.Type, true
}

// ByMessage returns the entities fed by a decoded message. Entities
// without an instance match every instance.
func (d *Directory) ByMessage(name string, instance int, hasInstance bool) []*Entity {
	var out []*Entity
	for _, e := range d.byMessage[name] {
		if e.Instance == nil || (hasInstance && *e.Instance == instance) {
			out = append(out, e)
		}
	}
	return out
}

// Target resolves the bus addressing for a command to id.
func (d *Directory) Target(id string) (encoder.Target, error) {
	e, ok := d.byID[id]
	if !ok {
		return encoder.Target{}, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}

	t := encoder.Target{Kind: e.Kind}
	switch e.Type {
	case TypeCover:
		if e.UpInstance == nil || e.DownInstance == nil {
			return t, fmt.Errorf("%w: cover %s needs up_instance and down_instance", ErrNoInstance, id)
		}
		t.UpInstance, t.DownInstance = *e.UpInstance, *e.DownInstance
		return t, nil
	case TypeFan:
		if e.Kind == encoder.KindCeilingFan {
			if e.FanNumber == nil {
				return t, fmt.Errorf("%w: ceiling fan %s needs fan_number", ErrNoInstance, id)
			}
			t.FanNumber = *e.FanNumber
			return t, nil
		}
	}

	if e.Instance == nil {
		return t, fmt.Errorf("%w: %s", ErrNoInstance, id)
	}
	t.Instance = *e.Instance
	if e.Type == TypeClimate {
		t.CurrentMode, _ = d.climate.Mode(t.Instance)
	}
	return t, nil
}

// LookupField finds a decoded field by name, accepting underscores where
// the catalog uses spaces and the reverse.
func LookupField(f *types.DecodedFrame, name string) (any, bool) {
	if name == "" {
		return nil, false
	}
	if v, ok := f.Get(name); ok {
		return v, true
	}
	if v, ok := f.Get(strings.ReplaceAll(name, "_", " ")); ok {
		return v, true
	}
	return f.Get(strings.ReplaceAll(name, " ", "_"))
}
