package can

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func loopDialer(loop *LoopbackBus, dials *atomic.Int32) Dialer {
	return func(ctx context.Context) (Bus, error) {
		dials.Add(1)
		return loop.Open(), nil
	}
}

func runManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop")
		}
	})
}

func TestManagerReceivesAndSends(t *testing.T) {
	loop := NewLoopbackBus()
	t.Cleanup(func() { loop.Close() })
	peer := loop.Open()

	received := make(chan Frame, 4)
	var dials atomic.Int32
	m := NewManager(loopDialer(loop, &dials), Config{Transport: TransportLoopback},
		func(f Frame) { received <- f }, zap.NewNop())

	assert.ErrorIs(t, m.Send(context.Background(), Frame{ID: 1}), ErrNotConnected)

	runManager(t, m)
	require.Eventually(t, m.Connected, time.Second, 5*time.Millisecond)

	in := Frame{ID: 0x19FFE263, Extended: true, Len: 1, Data: [8]byte{0x42}}
	require.NoError(t, peer.Send(context.Background(), in))
	select {
	case got := <-received:
		assert.Equal(t, in, got)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	out := Frame{ID: 0x19FEDB63, Extended: true, Len: 8}
	require.NoError(t, m.Send(context.Background(), out))
	got, err := peer.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, out, got)
}

func TestManagerReconnectsAfterSilence(t *testing.T) {
	loop := NewLoopbackBus()
	t.Cleanup(func() { loop.Close() })

	var mu sync.Mutex
	var states []bool
	var dials atomic.Int32
	m := NewManager(loopDialer(loop, &dials),
		Config{Transport: TransportLoopback, ReceiveTimeout: 30 * time.Millisecond, ReconnectDelay: 10 * time.Millisecond},
		func(Frame) {}, zap.NewNop(),
		WithStateHook(func(up bool) {
			mu.Lock()
			states = append(states, up)
			mu.Unlock()
		}))

	runManager(t, m)
	require.Eventually(t, func() bool { return dials.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 3)
	assert.Equal(t, []bool{true, false, true}, states[:3])
}

func TestManagerRetriesFailedDial(t *testing.T) {
	loop := NewLoopbackBus()
	t.Cleanup(func() { loop.Close() })

	var dials atomic.Int32
	dial := func(ctx context.Context) (Bus, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("adapter unreachable")
		}
		return loop.Open(), nil
	}
	m := NewManager(dial, Config{ReconnectDelay: 5 * time.Millisecond}, func(Frame) {}, zap.NewNop())

	runManager(t, m)
	require.Eventually(t, m.Connected, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), dials.Load())
}
