// Package discovery publishes Home Assistant MQTT discovery documents,
// availability, and per-entity state derived from decoded frames.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/entities"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"

	defaultOnValue       = "01"
	defaultModeField     = "operating mode definition"
	defaultSetpointField = "setpoint temp cool F"
	defaultFanModeField  = "fan mode definition"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

type evaluator func(ctx context.Context, value any) (any, error)

// Publisher owns the Home Assistant view of the entity directory.
type Publisher struct {
	dir       *entities.Directory
	broker    pubsub.Broker
	prefix    string
	retain    bool
	logger    *zap.Logger
	templates map[string]evaluator
}

// New compiles every value_template up front so a bad expression fails at
// startup rather than on the first frame.
func New(dir *entities.Directory, broker pubsub.Broker, cfg Config, retain bool, logger *zap.Logger) (*Publisher, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "homeassistant"
	}
	p := &Publisher{
		dir:       dir,
		broker:    broker,
		prefix:    prefix,
		retain:    retain,
		logger:    logger,
		templates: make(map[string]evaluator),
	}
	for _, e := range dir.Entities() {
		if e.ValueTemplate == "" {
			continue
		}
		eval, err := jsonpath.New(e.ValueTemplate)
		if err != nil {
			return nil, fmt.Errorf("entity %s: value_template %q: %w", e.ID, e.ValueTemplate, err)
		}
		p.templates[e.ID] = evaluator(eval)
	}
	return p, nil
}

// AvailabilityTopic is where online/offline is published.
func (p *Publisher) AvailabilityTopic() string {
	return p.dir.Settings().StateTopicPrefix + "/status"
}

func (p *Publisher) base(e *entities.Entity) string {
	return fmt.Sprintf("%s/%s/%s", p.dir.Settings().StateTopicPrefix, e.Type, e.ID)
}

// StateTopic is the main state topic of e.
func (p *Publisher) StateTopic(e *entities.Entity) string {
	return p.base(e) + "/state"
}

// PublishDiscovery publishes every discovery document retained and then
// marks the gateway online.
func (p *Publisher) PublishDiscovery(ctx context.Context) error {
	docs, err := p.Documents()
	if err != nil {
		return err
	}
	for _, d := range docs {
		payload, err := json.Marshal(d.Payload)
		if err != nil {
			return fmt.Errorf("discovery %s: %w", d.Topic, err)
		}
		if err := p.broker.Publish(ctx, d.Topic, payload, true); err != nil {
			return fmt.Errorf("publish %s: %w", d.Topic, err)
		}
	}
	if err := p.broker.Publish(ctx, p.AvailabilityTopic(), []byte(PayloadOnline), true); err != nil {
		return fmt.Errorf("publish availability: %w", err)
	}
	p.logger.Info("Home Assistant discovery published",
		zap.Int("entities", len(docs)),
		zap.String("prefix", p.prefix))
	return nil
}

// PublishOffline marks the gateway offline on a clean shutdown.
func (p *Publisher) PublishOffline(ctx context.Context) error {
	return p.broker.Publish(ctx, p.AvailabilityTopic(), []byte(PayloadOffline), true)
}

// PublishState publishes the state topics fed by f and returns how many
// messages went out.
func (p *Publisher) PublishState(ctx context.Context, f *types.DecodedFrame) (int, error) {
	msgs := p.States(ctx, f)
	for _, m := range msgs {
		if err := p.broker.Publish(ctx, m.Topic, m.Payload, p.retain); err != nil {
			return 0, fmt.Errorf("publish %s: %w", m.Topic, err)
		}
	}
	return len(msgs), nil
}

// States derives the state messages for every entity matching f.
func (p *Publisher) States(ctx context.Context, f *types.DecodedFrame) []pubsub.Message {
	instance, hasInstance := f.Instance()
	var out []pubsub.Message
	add := func(topic, payload string) {
		out = append(out, pubsub.Message{Topic: topic, Payload: []byte(payload), Retained: p.retain})
	}

	for _, e := range p.dir.ByMessage(f.Name, instance, hasInstance) {
		if e.Type == entities.TypeClimate {
			p.climateStates(e, f, add)
			continue
		}

		value, ok := p.extract(ctx, e, f)
		if !ok {
			continue
		}
		switch e.Type {
		case entities.TypeSensor:
			add(p.StateTopic(e), formatValue(value))
		case entities.TypeBinarySensor, entities.TypeSwitch, entities.TypeFan:
			add(p.StateTopic(e), onOff(value, e.OnValue))
		case entities.TypeLight:
			add(p.StateTopic(e), onOff(value, e.OnValue))
			if !e.SupportsBrightness {
				continue
			}
			if b, ok := entities.LookupField(f, e.BrightnessField); ok {
				if n, ok := number(b); ok {
					add(p.base(e)+"/brightness", strconv.Itoa(int(math.Round(n))))
				}
			}
		}
	}
	return out
}

func (p *Publisher) climateStates(e *entities.Entity, f *types.DecodedFrame, add func(topic, payload string)) {
	base := p.base(e)
	if v, ok := entities.LookupField(f, or(e.ModeField, defaultModeField)); ok {
		if s := formatValue(v); s != "" {
			add(base+"/mode", strings.ToLower(s))
		}
	}
	if v, ok := entities.LookupField(f, or(e.SetpointField, defaultSetpointField)); ok {
		if n, ok := number(v); ok {
			add(base+"/setpoint", strconv.Itoa(int(math.Round(n))))
		}
	}
	if v, ok := entities.LookupField(f, or(e.FanModeField, defaultFanModeField)); ok {
		if s := formatValue(v); s != "" {
			add(base+"/fan", strings.ToLower(s))
		}
	}
}

// extract reads an entity's value through its JSONPath template or its
// value/state field.
func (p *Publisher) extract(ctx context.Context, e *entities.Entity, f *types.DecodedFrame) (any, bool) {
	if eval, ok := p.templates[e.ID]; ok {
		v, err := eval(ctx, f.Map())
		if err != nil {
			p.logger.Debug("value_template did not match",
				zap.String("entity_id", e.ID),
				zap.Error(err))
			return nil, false
		}
		return v, v != nil
	}
	field := or(e.ValueField, e.StateField)
	if field == "" {
		return nil, false
	}
	return entities.LookupField(f, field)
}

func or(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		n, err := strconv.ParseFloat(x, 64)
		return n, err == nil
	}
	return 0, false
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func onOff(v any, onValue string) string {
	if onValue == "" {
		onValue = defaultOnValue
	}
	switch x := v.(type) {
	case bool:
		if x {
			return "ON"
		}
		return "OFF"
	case int64, int, float64:
		if n, _ := number(x); n == 1 {
			return "ON"
		}
	}
	if formatValue(v) == onValue {
		return "ON"
	}
	return "OFF"
}
