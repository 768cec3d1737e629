package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rxgate/config"
	"rxgate/internal/handler"
	"rxgate/internal/middleware"
	"rxgate/internal/proxy"
	"rxgate/internal/services"
	"rxgate/internal/transport/httpdto"
	"rxgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Consult  *handler.ConsultHandler
	Approval *handler.ApprovalHandler
	Gate     *handler.GateHandler
}

// Dependencies are the non-handler pieces the routes need.
type Dependencies struct {
	Auth         *services.AuthService
	PurchaseGate *services.PurchaseGate
	CartProxy    *proxy.CartProxy
	// HealthChecks are run by /health; any error reports the service unhealthy.
	HealthChecks map[string]func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Dependencies) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})
	s.engine.GET("/health", s.health(deps.HealthChecks))
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	optional := middleware.OptionalAuthMiddleware(deps.Auth)
	customer := middleware.AuthMiddleware(deps.Auth, services.RoleCustomer)
	staff := middleware.AuthMiddleware(deps.Auth, services.RoleClinician, services.RoleOps)
	ops := middleware.AuthMiddleware(deps.Auth, services.RoleOps)

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/consults", customer, handlers.Consult.Submit)
		v1.GET("/approvals/valid", customer, handlers.Approval.Valid)

		consults := v1.Group("/consultations/:id", staff)
		{
			consults.GET("", handlers.Consult.Get)
			consults.POST("/clinician", handlers.Consult.AssignClinician)
			consults.POST("/schedule", handlers.Consult.Schedule)
			consults.POST("/start", handlers.Consult.Start)
			consults.POST("/complete", handlers.Consult.Complete)
			consults.POST("/cancel", handlers.Consult.Cancel)
			consults.POST("/transition", handlers.Consult.Transition)
			consults.GET("/events", handlers.Consult.Events)
			consults.DELETE("", ops, handlers.Consult.Delete)
			consults.POST("/restore", ops, handlers.Consult.Restore)
		}

		gates := v1.Group("/gates")
		{
			gates.POST("/cart/check", optional, handlers.Gate.CheckCart)
			gates.POST("/cart/validate", optional, handlers.Gate.ValidateCart)
			gates.POST("/orders/:id/check", staff, handlers.Gate.CheckOrder)
		}

		v1.POST("/orders/:id/status", staff, handlers.Gate.TransitionOrder)
	}

	gate := middleware.PurchaseGateMiddleware(deps.PurchaseGate)
	carts := s.engine.Group("/store/carts", optional, gate)
	{
		carts.POST("", deps.CartProxy.Handle)
		carts.POST("/:id", deps.CartProxy.Handle)
		carts.PUT("/:id", deps.CartProxy.Handle)
		carts.POST("/:id/line-items", deps.CartProxy.Handle)
		carts.POST("/:id/line-items/batch", deps.CartProxy.Handle)
		carts.POST("/:id/line-items/:line_id", deps.CartProxy.Handle)
		carts.PUT("/:id/line-items/:line_id", deps.CartProxy.Handle)
	}
}

func (s *Server) health(checks map[string]func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(name+": "+err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	}
}

// Start serves until SIGINT or SIGTERM, then cancels ctx-bound background
// work through onShutdown and drains in-flight requests.
func (s *Server) Start(onShutdown func()) error {
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Errorf("Error in starting the server: %s", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	<-quit

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}
	if onShutdown != nil {
		onShutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}

	return nil
}
