// Package pubsub connects the gateway to its message broker. MQTT is the
// primary backend; NATS and an in-process broker implement the same
// contract.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("pubsub: not connected")
	ErrClosed       = errors.New("pubsub: closed")
)

const (
	BackendMQTT   = "mqtt"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Message is one delivery. Topics always use the MQTT form with "/"
// separators, whatever the backend.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

type Handler func(ctx context.Context, msg Message)

// Broker is the publish/subscribe surface the gateway depends on.
// Patterns use MQTT wildcards: "+" for one level, "#" for the rest.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	Subscribe(ctx context.Context, pattern string, handler Handler) error
	Connected() bool
	Close() error
}

type Config struct {
	Backend        string        `mapstructure:"backend"`
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"client_id"`
	Namespace      string        `mapstructure:"namespace"`
	OutputTopic    string        `mapstructure:"output_topic"`
	Retain         bool          `mapstructure:"retain"`
	Encoding       string        `mapstructure:"encoding"`
	QoS            int           `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Will is the message the broker publishes if the gateway disappears.
type Will struct {
	Topic   string
	Payload string
	Retain  bool
}

type options struct {
	will *Will
}

type Option func(*options)

// WithWill registers a last-will message. Backends without the concept
// ignore it.
func WithWill(topic, payload string, retain bool) Option {
	return func(o *options) { o.will = &Will{Topic: topic, Payload: payload, Retain: retain} }
}

// New builds the broker named by cfg.Backend. It does not connect.
func New(cfg Config, logger *zap.Logger, opts ...Option) (Broker, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	switch cfg.Backend {
	case BackendMQTT, "":
		return NewMQTTBroker(cfg, o.will, logger), nil
	case BackendNATS:
		if o.will != nil {
			logger.Info("NATS has no last-will support, availability goes stale on crash",
				zap.String("topic", o.will.Topic))
		}
		return NewNATSBroker(cfg, logger), nil
	case BackendMemory:
		return NewMemoryBroker(), nil
	}
	return nil, fmt.Errorf("pubsub: unknown backend %q", cfg.Backend)
}

// Match reports whether topic matches an MQTT subscription pattern.
func Match(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, seg := range p {
		if seg == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
