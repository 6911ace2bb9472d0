package pubsub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBroker maps the MQTT topic model onto NATS subjects. Retained
// messages are not supported and are published as plain messages.
type NATSBroker struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	subs []*nats.Subscription
}

func NewNATSBroker(cfg Config, logger *zap.Logger) *NATSBroker {
	return &NATSBroker{cfg: cfg, logger: logger}
}

// ToSubject converts an MQTT topic or pattern into a NATS subject.
func ToSubject(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

// FromSubject is the inverse of ToSubject for concrete subjects.
func FromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func (b *NATSBroker) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(b.cfg.ClientID),
		nats.Timeout(b.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if b.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(b.cfg.Username, b.cfg.Password))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := nats.Connect(b.cfg.URL, opts...)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("connect to %s: %w", b.cfg.URL, r.err)
		}
		b.mu.Lock()
		b.conn = r.conn
		b.mu.Unlock()
		b.logger.Info("NATS connected", zap.String("url", b.cfg.URL))
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return ctx.Err()
	}
}

func (b *NATSBroker) Publish(_ context.Context, topic string, payload []byte, _ bool) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(ToSubject(topic), payload)
}

func (b *NATSBroker) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}

	sub, err := b.conn.Subscribe(ToSubject(pattern), func(m *nats.Msg) {
		handler(ctx, Message{Topic: FromSubject(m.Subject), Payload: m.Data})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

func (b *NATSBroker) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && b.conn.IsConnected()
}

func (b *NATSBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.subs = nil
	err := b.conn.Drain()
	b.conn = nil
	return err
}
