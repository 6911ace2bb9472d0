package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/KevinKickass/OpenRVCore/internal/auth"
	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/gateway"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

type staticTokens map[string][]auth.Permission

func (s staticTokens) ValidateToken(_ context.Context, token, _, _ string) ([]auth.Permission, error) {
	perms, ok := s[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return perms, nil
}

type recordingCommander struct {
	source command.Source
	body   map[string]any
}

func (r *recordingCommander) Execute(_ context.Context, source command.Source, body []byte) gateway.Result {
	r.source = source
	_ = json.Unmarshal(body, &r.body)
	return gateway.Result{
		CommandID:   "c-1",
		EntityID:    "water_pump",
		CommandType: "switch",
		Status:      gateway.StatusSuccess,
		FrameCount:  1,
	}
}

type fixture struct {
	commander *recordingCommander
	streamer  *FrameStreamer
	conn      *grpc.ClientConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	fx := &fixture{commander: &recordingCommander{}, streamer: NewFrameStreamer()}
	srv := NewServer(NewGatewayService(fx.commander, fx.streamer, zap.NewNop()), staticTokens{
		"viewer":   {auth.PermRead},
		"operator": {auth.PermRead, auth.PermCommand},
	})
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	fx.conn = conn

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return fx
}

func TestSendCommand(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := map[string]any{"command_type": "switch", "entity_id": "water_pump", "action": "state", "value": "ON"}

	_, err := NewClient(fx.conn, "").SendCommand(ctx, req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = NewClient(fx.conn, "nope").SendCommand(ctx, req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = NewClient(fx.conn, "viewer").SendCommand(ctx, req)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	out, err := NewClient(fx.conn, "operator").SendCommand(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, 1.0, out["frame_count"])

	assert.Equal(t, command.SourceGRPC, fx.commander.source)
	assert.Equal(t, "water_pump", fx.commander.body["entity_id"])
	assert.Equal(t, "ON", fx.commander.body["value"])
}

func TestStreamFrames(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errStop := errors.New("stop")
	got := make(chan map[string]any, 1)
	done := make(chan error, 1)
	go func() {
		done <- NewClient(fx.conn, "viewer").StreamFrames(ctx, []string{"TANK_STATUS"}, func(m map[string]any) error {
			got <- m
			return errStop
		})
	}()

	require.Eventually(t, func() bool { return fx.streamer.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	dimmer := types.NewDecodedFrame("1FEDA", "01", "DC_DIMMER_STATUS_3")
	tank := types.NewDecodedFrame("1FFB7", "0005", "TANK_STATUS")
	tank.Set("instance", int64(0))
	tank.Set("relative level", int64(5))
	fx.streamer.Broadcast(dimmer)
	fx.streamer.Broadcast(tank)

	select {
	case m := <-got:
		assert.Equal(t, "TANK_STATUS", m["name"])
		assert.Equal(t, "1FFB7", m["dgn"])
		assert.Equal(t, 5.0, m["relative level"])
	case <-ctx.Done():
		t.Fatal("no frame received")
	}
	assert.ErrorIs(t, <-done, errStop)

	cancel()
	assert.Eventually(t, func() bool { return fx.streamer.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamFramesRequiresToken(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := NewClient(fx.conn, "").StreamFrames(ctx, nil, func(map[string]any) error { return nil })
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestFrameStreamerDropsWhenFull(t *testing.T) {
	s := NewFrameStreamer()
	ch := s.Subscribe(nil)
	f := types.NewDecodedFrame("1FEDA", "01", "DC_DIMMER_STATUS_3")
	for i := 0; i < subscriberBuffer+5; i++ {
		s.Broadcast(f)
	}
	assert.Len(t, ch, subscriberBuffer)

	s.Unsubscribe(ch)
	s.Unsubscribe(ch)
	assert.Equal(t, 0, s.Count())

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
}
