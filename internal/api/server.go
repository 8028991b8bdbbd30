// Package api exposes the basket and instruction submission boundary over
// HTTP.
package api

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/basketexec/internal/execution"
)

// Server is the HTTP API server.
type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	svc       execution.Service
	validator *validator.Validate
}

// NewServer creates an API server around the execution service.
func NewServer(logger *zap.Logger, svc execution.Service) *Server {
	s := &Server{
		logger:    logger,
		svc:       svc,
		validator: validator.New(),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	s.router = router
	s.registerRoutes()
	return s
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the internal gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.GET("/metrics", gin.WrapH(promhttp.Handler()))
		v1.GET("/stats", s.getStats)

		baskets := v1.Group("/baskets")
		{
			baskets.POST("", s.createBasket)
			baskets.GET("/:id", s.getBasket)
			baskets.DELETE("/:id", s.deleteBasket)
			baskets.PUT("/:id/assets/:assetId/price", s.updateAssetPrice)
			baskets.POST("/:id/rebalance", s.submitRebalance)
			baskets.GET("/:id/rebalances", s.getRebalanceHistory)
		}

		positions := v1.Group("/positions")
		{
			positions.GET("/:id", s.getInstructionStatus)
			positions.POST("/:id/cancel", s.submitCancel)
		}

		v1.POST("/instructions", s.submitTrade)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
