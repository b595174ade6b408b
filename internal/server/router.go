// Package server exposes a small read-only HTTP surface for operators:
// liveness, supervised sessions with their heartbeats, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/supervisor"
)

// SessionLister reports supervised sessions.
type SessionLister interface {
	Snapshot() []supervisor.SessionInfo
}

// HeartbeatReader reads recorded heartbeats.
type HeartbeatReader interface {
	ListHeartbeats(ctx context.Context) ([]domain.HeartbeatRecord, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Sessions   []supervisor.SessionInfo `json:"sessions"`
	Heartbeats []domain.HeartbeatRecord `json:"heartbeats"`
}

// NewRouter builds the status router.
func NewRouter(sessions SessionLister, hb HeartbeatReader, serviceName string, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(serviceName))
	r.Use(requestLogger(log))
	r.Use(recovery(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", func(c *gin.Context) {
		beats, err := hb.ListHeartbeats(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("list heartbeats failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeats unavailable"})
			return
		}
		c.JSON(http.StatusOK, StatusResponse{Sessions: sessions.Snapshot(), Heartbeats: beats})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})
	return r
}

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
