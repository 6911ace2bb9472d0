package can

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FrameHandler receives every frame read from the bus. It runs on the
// receive goroutine and must not block for long.
type FrameHandler func(Frame)

// Manager owns the bus connection: it dials, feeds received frames to the
// handler, and redials after errors or prolonged silence. It is also the
// Sender for the transmitter, so commands always use the live connection.
type Manager struct {
	dial    Dialer
	cfg     Config
	handler FrameHandler
	logger  *zap.Logger
	onState func(connected bool)

	mu  sync.RWMutex
	bus Bus
}

type ManagerOption func(*Manager)

// WithStateHook is called whenever the connection comes up or goes down.
func WithStateHook(fn func(connected bool)) ManagerOption {
	return func(m *Manager) { m.onState = fn }
}

func NewManager(dial Dialer, cfg Config, handler FrameHandler, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		dial:    dial,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bus != nil
}

func (m *Manager) Send(ctx context.Context, f Frame) error {
	m.mu.RLock()
	bus := m.bus
	m.mu.RUnlock()
	if bus == nil {
		return ErrNotConnected
	}
	return bus.Send(ctx, f)
}

func (m *Manager) setBus(bus Bus) {
	m.mu.Lock()
	m.bus = bus
	m.mu.Unlock()
	if m.onState != nil {
		m.onState(bus != nil)
	}
}

// Run connects and receives until ctx is done. Connection failures are
// logged and retried after the reconnect delay; Run only returns nil.
func (m *Manager) Run(ctx context.Context) error {
	for {
		bus, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error("CAN connect failed",
				zap.String("transport", m.cfg.Transport),
				zap.Duration("retry_in", m.cfg.ReconnectDelay),
				zap.Error(err))
			if !sleepCtx(ctx, m.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		m.setBus(bus)
		m.logger.Info("CAN connected", zap.String("transport", m.cfg.Transport))

		err = m.receive(ctx, bus)
		m.setBus(nil)
		bus.Close()

		if ctx.Err() != nil {
			m.logger.Info("CAN receiver stopped")
			return nil
		}
		m.logger.Warn("CAN connection lost, reconnecting",
			zap.Duration("retry_in", m.cfg.ReconnectDelay),
			zap.Error(err))
		if !sleepCtx(ctx, m.cfg.ReconnectDelay) {
			return nil
		}
	}
}

func (m *Manager) receive(ctx context.Context, bus Bus) error {
	for {
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if m.cfg.ReceiveTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, m.cfg.ReceiveTimeout)
		}
		f, err := bus.Receive(rctx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("no frames received for %s", m.cfg.ReceiveTimeout)
			}
			return err
		}
		m.handler(f)
	}
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
