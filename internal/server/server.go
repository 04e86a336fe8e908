// Package server wires the HTTP surface: the admission-guarded API and
// the operational endpoints.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/convoport/convoport/internal/config"
	"github.com/convoport/convoport/internal/middleware"
	"github.com/convoport/convoport/internal/offline"
	"github.com/convoport/convoport/internal/security"
)

type Server struct {
	cfg    config.ServerConfig
	engine *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// New assembles the engine. The admission guard covers the API group;
// health and metrics stay outside it so probes never get rate limited.
func New(cfg config.ServerConfig, admission *middleware.Admission, tracker *security.Tracker, events *security.EventLog, queue *offline.Queue, logger *zap.Logger) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Audit(logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{tracker: tracker, events: events, queue: queue, logger: logger.Named("api")}

	api := engine.Group("/api/v1")
	api.Use(admission.Handler())
	{
		sec := api.Group("/security")
		sec.GET("/stats", h.stats)
		sec.GET("/events", h.recentEvents)
		sec.GET("/blocked", h.blockedIPs)
		sec.POST("/block", h.blockIP)
		sec.POST("/unblock", h.unblockIP)

		api.GET("/queue", h.queueStatus)
		api.POST("/queue/replay", h.replayQueue)
	}

	return &Server{
		cfg:    cfg,
		engine: engine,
		logger: logger.Named("server"),
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves until the listener fails or Shutdown runs.
func (s *Server) Run() error {
	s.logger.Info("listening", zap.String("addr", s.cfg.Addr()))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
