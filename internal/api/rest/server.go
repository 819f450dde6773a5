package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/api/websocket"
	"github.com/KevinKickass/OpenNosePort/internal/auth"
	"github.com/KevinKickass/OpenNosePort/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.Service
	listener    net.Listener
}

func NewServer(lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.Service) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", lm.Config().Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener synchronously so a port conflict is reported to
// the caller, then serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/token", s.issueToken)

		// ==================== STATIONS (VIEWER+) ====================
		stations := v1.Group("/stations")
		stations.Use(s.authService.AuthMiddleware())
		stations.Use(auth.RequirePermission(auth.PermViewer))
		{
			stations.GET("", s.listStations)
			stations.GET("/:id", s.getStation)
		}

		// ==================== COMMANDS (OPERATOR) ====================
		commands := v1.Group("/commands")
		commands.Use(s.authService.AuthMiddleware())
		commands.Use(auth.RequirePermission(auth.PermOperator))
		{
			commands.POST("", s.executeCommands)
		}

		// ==================== EVENTS (VIEWER+) ====================
		events := v1.Group("/events")
		events.Use(s.authService.AuthMiddleware())
		events.Use(auth.RequirePermission(auth.PermViewer))
		{
			events.GET("", s.listEvents)
		}

		// ==================== PINS ====================
		pinsGroup := v1.Group("")
		pinsGroup.Use(s.authService.AuthMiddleware())
		{
			pinsGroup.GET("/pins", auth.RequirePermission(auth.PermViewer), s.listPins)
			pinsGroup.PUT("/sim/pins/:pin", auth.RequirePermission(auth.PermOperator), s.setSimPin)
		}

		// ==================== PROFILES ====================
		profilesGroup := v1.Group("/profiles")
		profilesGroup.Use(s.authService.AuthMiddleware())
		{
			profilesGroup.GET("", auth.RequirePermission(auth.PermViewer), s.listProfiles)
			profilesGroup.POST("/:name/apply", auth.RequirePermission(auth.PermOperator), s.applyProfile)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermViewer), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermOperator), s.shutdown)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermViewer), s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
