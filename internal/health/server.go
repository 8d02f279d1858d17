// Package health serves liveness, pipeline status and Prometheus metrics over HTTP.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbias/crashwatch/internal/pipeline"
)

// StatusProvider reports the running pipeline's status.
type StatusProvider interface {
	Status() pipeline.Status
}

// Server provides HTTP health monitoring endpoints.
type Server struct {
	provider StatusProvider
	gatherer prometheus.Gatherer
	addr     string
	srv      *http.Server
}

// NewServer creates a health server listening on port.
func NewServer(provider StatusProvider, gatherer prometheus.Gatherer, port int) *Server {
	if port == 0 {
		port = 8080
	}
	s := &Server{
		provider: provider,
		gatherer: gatherer,
		addr:     fmt.Sprintf(":%d", port),
	}
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router with every endpoint registered.
//
//   - GET /healthz         200 while the pipeline consumes events, 503 otherwise
//   - GET /health/pipeline JSON status snapshot
//   - GET /metrics         Prometheus exposition
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/health/pipeline", s.handlePipeline)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return r
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	slog.Info("starting health server", "address", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	st := s.provider.Status()
	if !st.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "state": st.State})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": st.State})
}

func (s *Server) handlePipeline(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.provider.Status())
}
