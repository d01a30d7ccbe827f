// Package api serves the read-mostly ops surface of a running engine.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"trading-engine/internal/engine"
	"trading-engine/internal/metrics"
)

// Server wires HTTP endpoints around an engine.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	Metrics *metrics.Metrics
	Meta    SystemMeta
	log     zerolog.Logger
}

// SystemMeta describes the process, not the trading day.
type SystemMeta struct {
	DryRun    bool      `json:"dry_run"`
	Venue     string    `json:"venue"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// NewServer builds the router. m may be nil, then /metrics is not mounted.
// secret signs operator tokens for the mutating routes.
func NewServer(svc engine.Service, m *metrics.Metrics, meta SystemMeta, secret string, log zerolog.Logger) *Server {
	log = log.With().Str("component", "api").Logger()
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(RequestLogger(log, m))
	r.Use(RateLimitMiddleware(newIPLimiters(rate.Limit(20), 50), log))
	r.Use(TimeoutMiddleware(15 * time.Second))

	s := &Server{Router: r, Engine: svc, Metrics: m, Meta: meta, log: log}
	s.routes(secret)
	return s
}

func (s *Server) routes(secret string) {
	s.Router.GET("/health", s.health)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/orders", s.getOrders)
		api.GET("/actions", s.getActions)
		api.GET("/report", s.getReport)
	}

	ops := s.Router.Group("/api")
	ops.Use(AuthMiddleware(secret))
	{
		ops.POST("/reload", s.reloadPlan)
		ops.POST("/halt", s.command(engine.CommandHalt))
		ops.POST("/close-all", s.command(engine.CommandCloseAll))
		ops.POST("/pause", s.command(engine.CommandPause))
		ops.POST("/resume", s.command(engine.CommandResume))
	}
}

// Run serves addr until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("ops api listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}
