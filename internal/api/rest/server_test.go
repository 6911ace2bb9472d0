package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/audit"
	"github.com/KevinKickass/OpenRVCore/internal/auth"
	"github.com/KevinKickass/OpenRVCore/internal/can"
	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/entities"
	"github.com/KevinKickass/OpenRVCore/internal/gateway"
	"github.com/KevinKickass/OpenRVCore/internal/interfaces"
	"github.com/KevinKickass/OpenRVCore/internal/metrics"
	"github.com/KevinKickass/OpenRVCore/internal/pubsub"
	"github.com/KevinKickass/OpenRVCore/internal/spec"
	"github.com/KevinKickass/OpenRVCore/internal/storage"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

type fakeLifecycle struct {
	cfg     *config.Config
	gw      *gateway.Gateway
	metrics *metrics.Metrics
	history interfaces.AuditHistory
}

func (f *fakeLifecycle) Config() *config.Config                { return f.cfg }
func (f *fakeLifecycle) Gateway() *gateway.Gateway             { return f.gw }
func (f *fakeLifecycle) Metrics() *metrics.Metrics             { return f.metrics }
func (f *fakeLifecycle) AuditHistory() interfaces.AuditHistory { return f.history }
func (f *fakeLifecycle) Shutdown(context.Context) error        { return nil }
func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:              "RUNNING",
		TransportConnected: f.gw.TransportConnected(),
		Commands:           f.gw.Commands().Stats(),
	}
}

type fakeHistory struct {
	entries []storage.AuditEntry
	err     error
	gotID   string
	gotN    int
}

func (h *fakeHistory) RecentAudit(_ context.Context, entityID string, limit int) ([]storage.AuditEntry, error) {
	h.gotID, h.gotN = entityID, limit
	return h.entries, h.err
}

type testServer struct {
	srv      *Server
	lm       *fakeLifecycle
	viewer   string
	operator string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.CAN.Transport = can.TransportLoopback
	cfg.CAN.ReceiveTimeout = 0
	cfg.CAN.TxRetryDelay = time.Millisecond
	cfg.Validator.RateLimit.Enabled = false
	cfg.Server.APIRateLimit = 0

	gen := auth.NewMachineTokenGenerator()
	viewer, viewerHash, err := gen.GenerateMachineToken()
	require.NoError(t, err)
	operator, operatorHash, err := gen.GenerateMachineToken()
	require.NoError(t, err)
	pwHash, err := auth.NewPasswordHasher().HashPassword("correct horse")
	require.NoError(t, err)

	cfg.Auth.Users = []config.UserConfig{{Username: "owner", PasswordHash: pwHash, Role: auth.RoleAdmin}}
	cfg.Auth.APITokens = []config.TokenConfig{
		{Name: "dashboard", TokenHash: viewerHash, Permissions: []string{"read"}},
		{Name: "automation", TokenHash: operatorHash, Permissions: []string{"read", "command:send"}},
	}
	store, err := auth.NewStaticStore(cfg.Auth)
	require.NoError(t, err)
	authService := auth.NewAuthService(store, cfg.Auth)

	loader, err := spec.NewLoader([]string{"../../spec/testdata"})
	require.NoError(t, err)
	catalog, err := loader.Load("rvc-spec.yml")
	require.NoError(t, err)
	dir, err := entities.LoadDirectory("../../entities/testdata/mapping.yaml")
	require.NoError(t, err)
	dialer, err := can.NewDialer(cfg.CAN, nil)
	require.NoError(t, err)

	m := metrics.New()
	gw, err := gateway.New(gateway.Deps{
		Config:    cfg,
		Catalog:   catalog,
		Directory: dir,
		Broker:    pubsub.NewMemoryBroker(),
		Dialer:    dialer,
		Audit:     audit.New(zap.NewNop()),
		Metrics:   m,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = gw.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	<-gw.Ready()
	require.Eventually(t, gw.TransportConnected, 2*time.Second, 5*time.Millisecond)

	lm := &fakeLifecycle{cfg: cfg, gw: gw, metrics: m}
	return &testServer{
		srv:      NewServer(cfg, lm, zap.NewNop(), nil, authService),
		lm:       lm,
		viewer:   viewer,
		operator: operator,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["transport_connected"])

	w = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openrvcore_transport_connected 1")
}

func TestAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/entities", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/entities", "orv_not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "owner", Password: "correct horse"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Greater(t, resp.ExpiresIn, 0)

	// the JWT works against the API
	w = ts.do(t, http.MethodGet, "/api/v1/status", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RUNNING", decode(t, w)["state"])

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "owner", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", `{"username":"owner"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEntities(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/entities?type=light", ts.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 3, body["count"])

	w = ts.do(t, http.MethodGet, "/api/v1/entities/water_pump", ts.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "switch", body["entity_type"])
	assert.Equal(t, true, body["commandable"])

	w = ts.do(t, http.MethodGet, "/api/v1/entities/nope", ts.viewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCatalogAndDecode(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/catalog/1feda", ts.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "1FEDA", body["dgn"])
	assert.Equal(t, "DC_DIMMER_STATUS_3", body["name"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/catalog/XYZ", ts.viewer, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/catalog/0x10000", ts.viewer, nil).Code)

	w = ts.do(t, http.MethodPost, "/api/v1/decode", ts.viewer, DecodeRequest{DGN: "1FEDA", Data: "0100c8fc00ff05ff"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "DC_DIMMER_STATUS_3", body["name"])
	assert.Equal(t, "0100C8FC00FF05FF", body["data"])
	assert.EqualValues(t, 1, body["instance"])

	w = ts.do(t, http.MethodPost, "/api/v1/decode", ts.viewer, DecodeRequest{DGN: "1FEDA", Data: "zz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLatestFrames(t *testing.T) {
	ts := newTestServer(t)

	f, err := gateway.FrameFromHex(0x1FEDA, 0x63, "0100C8FC00FF05FF")
	require.NoError(t, err)
	ts.lm.gw.Inbound().HandleFrame(context.Background(), f)

	w := ts.do(t, http.MethodGet, "/api/v1/frames/latest?name=DC_DIMMER_STATUS_3", ts.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])

	w = ts.do(t, http.MethodGet, "/api/v1/frames/latest?name=TANK_STATUS", ts.viewer, nil)
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

func TestSendCommand(t *testing.T) {
	ts := newTestServer(t)

	t.Run("viewer is forbidden", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/commands", ts.viewer,
			map[string]any{"command_type": "switch", "entity_id": "water_pump", "action": "state", "value": "ON"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("success", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/commands", ts.operator,
			map[string]any{"command_type": "switch", "entity_id": "water_pump", "action": "state", "value": "ON"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, "success", body["status"])
		assert.EqualValues(t, 1, body["frame_count"])
	})

	t.Run("validation failure", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/commands", ts.operator,
			map[string]any{"command_type": "light", "entity_id": "light_ceiling", "action": "brightness", "value": 150})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp types.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, types.CodeValueAboveMaximum, resp.Error.Code)
	})

	t.Run("unparseable", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/commands", ts.operator, "[1,2]")
		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp types.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, types.CodeUnparseableRequest, resp.Error.Code)
	})
}

func TestCommandStatus(t *testing.T) {
	tests := map[string]int{
		types.CodeUnparseableRequest:  http.StatusBadRequest,
		types.CodeEntityDenied:        http.StatusForbidden,
		types.CodeEntityCooldown:      http.StatusTooManyRequests,
		types.CodeEntityNotFound:      http.StatusNotFound,
		types.CodeValueNotAllowed:     http.StatusUnprocessableEntity,
		types.CodeEncodingFailed:      http.StatusUnprocessableEntity,
		types.CodeTransmissionFailed:  http.StatusBadGateway,
		types.CodeUnexpectedException: http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, commandStatus(code), code)
	}
}

func TestAudit(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/audit", ts.viewer, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	history := &fakeHistory{entries: []storage.AuditEntry{{ID: 1, Event: "command_success", EntityID: "water_pump"}}}
	ts.lm.history = history

	w = ts.do(t, http.MethodGet, "/api/v1/audit?entity_id=water_pump&limit=5", ts.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
	assert.Equal(t, "water_pump", history.gotID)
	assert.Equal(t, 5, history.gotN)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/audit?limit=-1", ts.viewer, nil).Code)

	history.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, ts.do(t, http.MethodGet, "/api/v1/audit", ts.viewer, nil).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(0.001, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodOptions, "/api/v1/commands", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
