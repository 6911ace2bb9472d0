package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/audit"
	"github.com/KevinKickass/OpenRVCore/internal/can"
	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/encoder"
	"github.com/KevinKickass/OpenRVCore/internal/entities"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
	"github.com/KevinKickass/OpenRVCore/internal/spec"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

func loadCatalog(t *testing.T) types.Catalog {
	t.Helper()
	loader, err := spec.NewLoader([]string{"../spec/testdata"})
	require.NoError(t, err)
	catalog, err := loader.Load("rvc-spec.yml")
	require.NoError(t, err)
	return catalog
}

type gatewayFixture struct {
	gw     *Gateway
	broker *pubsub.MemoryBroker
	peer   can.Bus
	cancel context.CancelFunc
	done   chan error
}

func startGateway(t *testing.T) *gatewayFixture {
	t.Helper()

	cfg := config.Default()
	cfg.CAN.Transport = can.TransportLoopback
	cfg.CAN.ReceiveTimeout = 0
	cfg.CAN.ReconnectDelay = 10 * time.Millisecond
	cfg.CAN.TxRetryDelay = time.Millisecond
	cfg.Discovery.Enabled = true
	cfg.Validator.RateLimit.Enabled = false

	dir, err := entities.LoadDirectory("../entities/testdata/mapping.yaml")
	require.NoError(t, err)

	loop := can.NewLoopbackBus()
	dialer, err := can.NewDialer(cfg.CAN, loop)
	require.NoError(t, err)

	broker := pubsub.NewMemoryBroker()
	gw, err := New(Deps{
		Config:    cfg,
		Catalog:   loadCatalog(t),
		Directory: dir,
		Broker:    broker,
		Dialer:    dialer,
		Audit:     audit.New(zap.NewNop()),
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	fx := &gatewayFixture{gw: gw, broker: broker, peer: loop.Open(), done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	fx.cancel = cancel
	go func() { fx.done <- gw.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-fx.done
		loop.Close()
	})

	select {
	case <-gw.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never became ready")
	}
	require.Eventually(t, gw.TransportConnected, 2*time.Second, 5*time.Millisecond)
	return fx
}

func (fx *gatewayFixture) waitFor(t *testing.T, topic string) pubsub.Message {
	t.Helper()
	var found pubsub.Message
	require.Eventually(t, func() bool {
		for _, m := range fx.broker.Published() {
			if m.Topic == topic {
				found = m
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "nothing published on %s", topic)
	return found
}

func TestGatewayPublishesDecodedFrames(t *testing.T) {
	fx := startGateway(t)

	online, ok := fx.broker.Retained("rv/status")
	require.True(t, ok)
	assert.Equal(t, "online", string(online))
	_, ok = fx.broker.Retained("homeassistant/light/tiffin_light_ceiling/config")
	assert.True(t, ok)

	frames := make(chan *types.DecodedFrame, 1)
	fx.gw.OnFrame(func(f *types.DecodedFrame) { frames <- f })

	f, err := FrameFromHex(0x1FEDA, 0x63, "0100C8FC00FF05FF")
	require.NoError(t, err)
	require.NoError(t, fx.peer.Send(context.Background(), f))

	msg := fx.waitFor(t, "RVC/DC_DIMMER_STATUS_3/1")
	assert.Contains(t, string(msg.Payload), `"name":"DC_DIMMER_STATUS_3"`)
	assert.Contains(t, string(msg.Payload), `"instance":1`)
	assert.Contains(t, string(msg.Payload), `"dgn":"1FEDA"`)

	fx.waitFor(t, "RVC/time_of_last")
	state := fx.waitFor(t, "rv/light/light_ceiling/brightness")
	assert.Equal(t, "100", string(state.Payload))

	select {
	case got := <-frames:
		assert.Equal(t, "DC_DIMMER_STATUS_3", got.Name)
	case <-time.After(time.Second):
		t.Fatal("frame listener not called")
	}

	latest, ok := fx.gw.Inbound().Latest().Get("DC_DIMMER_STATUS_3/1")
	require.True(t, ok)
	assert.Equal(t, "0100C8FC00FF05FF", latest.Frame.Data)
}

func TestGatewayIgnoresStandardFrames(t *testing.T) {
	fx := startGateway(t)
	before := len(fx.broker.Published())

	require.NoError(t, fx.peer.Send(context.Background(), can.Frame{ID: 0x123, Len: 1}))
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, fx.broker.Published(), before)
	assert.Equal(t, 0, fx.gw.Inbound().Latest().Len())
}

func TestGatewayExecutesBrokerCommands(t *testing.T) {
	fx := startGateway(t)

	results := make(chan Result, 1)
	fx.gw.OnCommandResult(func(r Result) { results <- r })

	require.NoError(t, fx.broker.Publish(context.Background(), "rv/switch/water_pump/set", []byte("ON"), false))

	want, err := encoder.New(encoder.DefaultConfig()).Switch(43, true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := fx.peer.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, can.FromCanFrame(want[0]), got)

	select {
	case r := <-results:
		assert.True(t, r.OK(), r.ErrorMessage)
		assert.Equal(t, "water_pump", r.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("no command result")
	}
	fx.waitFor(t, "rv/command/status")

	stats := fx.gw.Commands().Stats()
	assert.Equal(t, uint64(1), stats.SuccessfulCommands)
	assert.Equal(t, uint64(1), fx.gw.TxStats().FramesSent)
}

func TestGatewayShutdownMarksOffline(t *testing.T) {
	fx := startGateway(t)
	fx.cancel()

	select {
	case err := <-fx.done:
		assert.NoError(t, err)
		fx.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}

	offline, ok := fx.broker.Retained("rv/status")
	require.True(t, ok)
	assert.Equal(t, "offline", string(offline))
	assert.False(t, fx.broker.Connected())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Config: config.Default()})
	assert.Error(t, err)
}
