package pubsub

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTBroker is a paho client. Subscriptions are remembered and restored
// after every reconnect since sessions are clean.
type MQTTBroker struct {
	cfg    Config
	logger *zap.Logger
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]Handler
	ctx  context.Context
}

func NewMQTTBroker(cfg Config, will *Will, logger *zap.Logger) *MQTTBroker {
	b := &MQTTBroker{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]Handler),
		ctx:    context.Background(),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.String("broker", cfg.URL), zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if will != nil {
		opts.SetWill(will.Topic, will.Payload, b.qos(), will.Retain)
	}

	b.client = mqtt.NewClient(opts)
	return b
}

func (b *MQTTBroker) qos() byte {
	if b.cfg.QoS < 0 || b.cfg.QoS > 2 {
		return 1
	}
	return byte(b.cfg.QoS)
}

func (b *MQTTBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	if err := b.wait(ctx, b.client.Connect()); err != nil {
		return fmt.Errorf("connect to %s: %w", b.cfg.URL, err)
	}
	return nil
}

func (b *MQTTBroker) onConnect(c mqtt.Client) {
	b.logger.Info("MQTT connected", zap.String("broker", b.cfg.URL))

	b.mu.Lock()
	subs := make(map[string]Handler, len(b.subs))
	for p, h := range b.subs {
		subs[p] = h
	}
	b.mu.Unlock()

	for pattern, h := range subs {
		tok := c.Subscribe(pattern, b.qos(), b.callback(h))
		go func(pattern string) {
			<-tok.Done()
			if err := tok.Error(); err != nil {
				b.logger.Error("MQTT resubscribe failed", zap.String("topic", pattern), zap.Error(err))
			}
		}(pattern)
	}
}

func (b *MQTTBroker) callback(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		b.mu.Lock()
		ctx := b.ctx
		b.mu.Unlock()
		h(ctx, Message{Topic: m.Topic(), Payload: m.Payload(), Retained: m.Retained()})
	}
}

func (b *MQTTBroker) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return b.wait(ctx, b.client.Publish(topic, b.qos(), retain, payload))
}

func (b *MQTTBroker) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	b.subs[pattern] = handler
	b.mu.Unlock()

	if !b.client.IsConnectionOpen() {
		// picked up by onConnect
		return nil
	}
	if err := b.wait(ctx, b.client.Subscribe(pattern, b.qos(), b.callback(handler))); err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	b.logger.Debug("MQTT subscribed", zap.String("topic", pattern))
	return nil
}

func (b *MQTTBroker) Connected() bool {
	return b.client.IsConnectionOpen()
}

func (b *MQTTBroker) Close() error {
	b.client.Disconnect(250)
	return nil
}

func (b *MQTTBroker) wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
