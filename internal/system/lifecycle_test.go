package system

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/KevinKickass/OpenRVCore/internal/api/grpcapi"
	"github.com/KevinKickass/OpenRVCore/internal/auth"
	"github.com/KevinKickass/OpenRVCore/internal/can"
	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateInitializing, StateStopping, true},
		{StateRunning, StateStopping, true},
		{StateRunning, StateError, true},
		{StateStopping, StateStopped, true},
		{StateError, StateStopping, true},
		{StateRunning, StateInitializing, false},
		{StateStopped, StateRunning, false},
		{StateStopped, StateInitializing, true},
		{SystemState(42), StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestStateText(t *testing.T) {
	b, err := StateRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", string(b))
	assert.Equal(t, "UNKNOWN", SystemState(42).String())
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0
	cfg.CAN.Transport = can.TransportLoopback
	cfg.CAN.ReceiveTimeout = 0
	cfg.CAN.TxRetryDelay = time.Millisecond
	cfg.PubSub.Backend = pubsub.BackendMemory
	cfg.Validator.RateLimit.Enabled = false
	cfg.Spec.SearchPaths = []string{"../spec/testdata"}
	cfg.Spec.File = "rvc-spec.yml"
	cfg.Entities.MappingFile = "../entities/testdata/mapping.yaml"
	cfg.Audit.File = filepath.Join(t.TempDir(), "audit.jsonl")

	token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
	require.NoError(t, err)
	cfg.Auth.APITokens = []config.TokenConfig{
		{Name: "automation", TokenHash: hash, Permissions: []string{"read", "command:send"}},
	}
	return cfg, token
}

func TestLifecycleStartCommandShutdown(t *testing.T) {
	cfg, token := testConfig(t)

	lm, err := NewLifecycleManager(nil, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, lm.AuditHistory())
	assert.Equal(t, StateInitializing, lm.State())

	changes := lm.SubscribeStatus()
	require.NoError(t, lm.Start())
	assert.Equal(t, StateRunning, lm.State())
	assert.Error(t, lm.Start())

	require.Eventually(t, func() bool {
		s := lm.GetCurrentStatus()
		return s.TransportConnected && s.BrokerConnected
	}, 5*time.Second, 10*time.Millisecond)

	port := lm.GRPCAddr().(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := grpcapi.NewClient(conn, token).SendCommand(ctx, map[string]any{
		"command_type": "switch",
		"entity_id":    "water_pump",
		"action":       "state",
		"value":        "ON",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])

	status := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", status.State)
	assert.Equal(t, uint64(1), status.Commands.SuccessfulCommands)
	assert.NotEmpty(t, status.Uptime)

	require.NoError(t, lm.Shutdown(ctx))
	assert.Equal(t, StateStopped, lm.State())
	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed after Shutdown")
	}
	require.NoError(t, lm.Shutdown(ctx))

	var seen []SystemState
	for len(changes) > 0 {
		seen = append(seen, (<-changes).State)
	}
	assert.Equal(t, []SystemState{StateInitializing, StateRunning, StateStopping, StateStopped}, seen)

	trail, err := os.ReadFile(cfg.Audit.File)
	require.NoError(t, err)
	assert.Contains(t, string(trail), "gateway_start")
	assert.Contains(t, string(trail), "command_success")
	assert.Contains(t, string(trail), "gateway_stop")
}

func TestShutdownBeforeStart(t *testing.T) {
	cfg, _ := testConfig(t)
	lm, err := NewLifecycleManager(nil, cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
}

func TestNewLifecycleManagerErrors(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Entities.MappingFile = "does-not-exist.yaml"
	_, err := NewLifecycleManager(nil, cfg, zap.NewNop())
	assert.ErrorContains(t, err, "load mapping")

	cfg, _ = testConfig(t)
	cfg.Spec.File = "missing.yml"
	_, err = NewLifecycleManager(nil, cfg, zap.NewNop())
	assert.ErrorContains(t, err, "load spec")
}
