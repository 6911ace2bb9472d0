package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/KevinKickass/OpenRVCore/internal/api/grpcapi"
	"github.com/KevinKickass/OpenRVCore/internal/api/rest"
	"github.com/KevinKickass/OpenRVCore/internal/api/websocket"
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

const statusInterval = 30 * time.Second

type LifecycleManager struct {
	config      *config.Config
	storage     *storage.PostgresClient
	logger      *zap.Logger
	metrics     *metrics.Metrics
	audit       *audit.Logger
	gateway     *gateway.Gateway
	authService *auth.AuthService
	wsHub       *websocket.Hub
	streamer    *grpcapi.FrameStreamer

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr

	cancel      context.CancelFunc
	gatewayDone chan struct{}

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string
	startedAt    time.Time

	listenersMu     sync.RWMutex
	statusListeners []chan StateChange

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

// NewLifecycleManager builds every component from cfg. store may be nil,
// in which case accounts and tokens come from the config file and audit
// history is file-only.
func NewLifecycleManager(store *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	m := metrics.New()

	var sinks []audit.Sink
	if cfg.Audit.File != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}
	if cfg.Audit.Postgres && store != nil {
		sinks = append(sinks, audit.NewPostgresSink(store))
	}
	auditLog := audit.New(logger, sinks...)

	lm, err := build(store, cfg, logger, m, auditLog)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}
	return lm, nil
}

func build(store *storage.PostgresClient, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, auditLog *audit.Logger) (*LifecycleManager, error) {
	loader, err := spec.NewLoader(cfg.Spec.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("spec loader: %w", err)
	}
	catalog, err := loader.Load(cfg.Spec.File)
	if err != nil {
		return nil, fmt.Errorf("load spec: %w", err)
	}
	logger.Info("RV-C catalog loaded", zap.String("file", cfg.Spec.File), zap.Int("messages", len(catalog)))

	dir, err := entities.LoadDirectory(cfg.Entities.MappingFile)
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	logger.Info("Entity mapping loaded",
		zap.String("file", cfg.Entities.MappingFile),
		zap.Int("entities", len(dir.Entities())))

	var brokerOpts []pubsub.Option
	if cfg.Discovery.Enabled {
		brokerOpts = append(brokerOpts, pubsub.WithWill(dir.Settings().StateTopicPrefix+"/status", "offline", true))
	}
	broker, err := pubsub.New(cfg.PubSub, logger, brokerOpts...)
	if err != nil {
		return nil, err
	}

	dialer, err := can.NewDialer(cfg.CAN, nil)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.Deps{
		Config:    cfg,
		Catalog:   catalog,
		Directory: dir,
		Broker:    broker,
		Dialer:    dialer,
		Audit:     auditLog,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var authStore auth.Store
	if store != nil {
		authStore = store
	} else {
		static, err := auth.NewStaticStore(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth config: %w", err)
		}
		authStore = static
	}
	if !cfg.Auth.IsProductionReady() {
		logger.Warn("JWT secret is the development default or too short",
			zap.String("env", cfg.Auth.JWTSecretEnv))
	}
	authService := auth.NewAuthService(authStore, cfg.Auth)

	lm := &LifecycleManager{
		config:       cfg,
		storage:      store,
		logger:       logger,
		metrics:      m,
		audit:        auditLog,
		gateway:      gw,
		authService:  authService,
		wsHub:        websocket.NewHub(logger, authService, m),
		streamer:     grpcapi.NewFrameStreamer(),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	gw.OnFrame(func(f *types.DecodedFrame) {
		lm.wsHub.Broadcast(websocket.NewFrameMessage(f))
		lm.streamer.Broadcast(f)
	})
	gw.OnCommandResult(func(r gateway.Result) {
		lm.wsHub.Broadcast(websocket.NewCommandResultMessage(r))
	})

	return lm, nil
}

// Start brings up the gateway and both API servers. It returns once the
// servers are listening; the CAN and broker sessions keep retrying in the
// background.
func (lm *LifecycleManager) Start() error {
	lm.stateMu.Lock()
	if !lm.startedAt.IsZero() || lm.currentState != StateInitializing {
		lm.stateMu.Unlock()
		return fmt.Errorf("cannot start: system is %s", lm.currentState)
	}
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	lm.logger.Info("Starting OpenRVCore gateway",
		zap.String("transport", lm.config.CAN.Transport),
		zap.String("pubsub", lm.config.PubSub.Backend))
	lm.broadcastStatus()

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	go lm.wsHub.Run(ctx)

	lm.gatewayDone = make(chan struct{})
	go func() {
		defer close(lm.gatewayDone)
		if err := lm.gateway.Run(ctx); err != nil {
			lm.logger.Error("Gateway stopped with error", zap.Error(err))
			lm.setError(err)
		}
	}()

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	go lm.statusLoop(ctx)

	lm.audit.SystemEvent(ctx, "gateway_start", "gateway started", map[string]any{
		"transport": lm.config.CAN.Transport,
		"backend":   lm.config.PubSub.Backend,
		"entities":  len(lm.gateway.Directory().Entities()),
	})

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))
	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected state on shutdown", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.audit.SystemEvent(ctx, "gateway_stop", "gateway stopped", nil)
		if err := lm.audit.Close(); err != nil {
			lm.logger.Warn("Audit close failed", zap.Error(err))
		}

		if err := lm.setState(StateStopped); err != nil {
			lm.logger.Warn("Unexpected state on shutdown", zap.Error(err))
		}
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// gracefulShutdown stops the API servers first so no new commands arrive,
// then the gateway, which publishes offline and closes the broker.
func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			stopped := make(chan struct{})
			go func() {
				lm.grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				// open frame streams never finish on their own
				lm.grpcServer.Stop()
			}
		}()
	}

	wg.Wait()
	close(errChan)
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	if lm.cancel != nil {
		lm.cancel()
	}
	if lm.gatewayDone != nil {
		select {
		case <-lm.gatewayDone:
		case <-ctx.Done():
			lm.logger.Warn("Shutdown timeout, gateway still stopping")
			errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	service := grpcapi.NewGatewayService(lm.gateway, lm.streamer, lm.logger)
	lm.grpcServer = grpcapi.NewServer(service, lm.authService)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("service", grpcapi.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// statusLoop pushes a status snapshot to websocket clients periodically.
func (lm *LifecycleManager) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lm.wsHub.GetClientCount() > 0 {
				lm.wsHub.Broadcast(websocket.NewSystemStatusMessage(lm.GetCurrentStatus()))
			}
		}
	}
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.stateMu.Unlock()
		return err
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.broadcastStatus()
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	if lm.currentState == StateStopping || lm.currentState == StateStopped {
		lm.stateMu.Unlock()
		return
	}
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state, lastError, startedAt := lm.currentState, lm.lastError, lm.startedAt
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:              state.String(),
		Error:              lastError,
		StartedAt:          startedAt,
		TransportConnected: lm.gateway.TransportConnected(),
		BrokerConnected:    lm.gateway.BrokerConnected(),
		Commands:           lm.gateway.Commands().Stats(),
		Transmit:           lm.gateway.TxStats(),
		Validator:          lm.gateway.ValidatorStats(),
		Audit:              lm.audit.Stats(),
		LatestFrames:       lm.gateway.Inbound().Latest().Len(),
		WebsocketClients:   lm.wsHub.GetClientCount(),
	}
	if !startedAt.IsZero() {
		status.Uptime = time.Since(startedAt).Round(time.Second).String()
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.stateMu.RLock()
	change := StateChange{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
	lm.stateMu.RUnlock()

	lm.wsHub.Broadcast(websocket.NewSystemStatusMessage(change))

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- change:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to state changes
func (lm *LifecycleManager) SubscribeStatus() chan StateChange {
	ch := make(chan StateChange, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from state changes
func (lm *LifecycleManager) UnsubscribeStatus(ch chan StateChange) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Done is closed when Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GRPCAddr is the bound gRPC address, nil before Start.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Gateway() *gateway.Gateway {
	return lm.gateway
}

func (lm *LifecycleManager) Metrics() *metrics.Metrics {
	return lm.metrics
}

func (lm *LifecycleManager) AuditHistory() interfaces.AuditHistory {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}
