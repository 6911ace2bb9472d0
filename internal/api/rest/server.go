package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/api/websocket"
	"github.com/KevinKickass/OpenRVCore/internal/auth"
	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes(cfg.Server)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the port synchronously so a busy port fails startup, then
// serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes(cfg config.ServerConfig) {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	if m := s.lm.Metrics(); m != nil {
		s.router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// Auth via first message
	if s.wsHub != nil {
		s.router.GET("/ws", s.wsLiveConnection)
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.APIRateLimit, cfg.APIBurst))
	{
		v1.POST("/auth/login", s.login)

		api := v1.Group("")
		api.Use(s.authService.AuthMiddleware())
		api.Use(auth.RequirePermission(auth.PermRead))
		{
			api.GET("/status", s.getSystemStatus)

			api.GET("/entities", s.listEntities)
			api.GET("/entities/:id", s.getEntity)

			api.GET("/catalog/:dgn", s.getCatalogEntry)
			api.POST("/decode", s.decodeFrame)
			api.GET("/frames/latest", s.latestFrames)

			api.GET("/audit", s.listAudit)

			api.POST("/commands", auth.RequirePermission(auth.PermCommand), s.sendCommand)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}
