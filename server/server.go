// Package server exposes the relay over HTTP
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/richinsley/promptrelay/client"
	"github.com/richinsley/promptrelay/relay"
)

// Generator queues one generation request
type Generator interface {
	Generate(ctx context.Context, req relay.GenerationRequest) (*client.QueueItem, error)
}

// EngineProbe reports whether the engine answers
type EngineProbe interface {
	GetSystemStats(ctx context.Context) (*client.SystemStats, error)
}

// Options configure the router. Probe is optional, without it /readyz is not served.
type Options struct {
	Generator    Generator
	Probe        EngineProbe
	AllowOrigins []string
	Logger       *slog.Logger
}

// time given to in-flight requests on shutdown
const shutdownTimeout = 10 * time.Second

// NewRouter builds the gin engine with the relay routes
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	if len(opts.AllowOrigins) > 0 {
		r.Use(cors.New(corsConfig(opts.AllowOrigins)))
	}

	h := &handlers{generator: opts.Generator, probe: opts.Probe, logger: logger}
	r.POST("/generate", h.generate)
	r.GET("/healthz", h.healthz)
	if opts.Probe != nil {
		r.GET("/readyz", h.readyz)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	if slices.Contains(origins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	return config
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// NewHTTPServer wraps h with timeouts. The write timeout leaves room for an
// engine call that takes the full engine timeout.
func NewHTTPServer(addr string, h http.Handler, engineTimeout time.Duration) *http.Server {
	// an unbounded engine wait leaves writes unbounded too
	var writeTimeout time.Duration
	if engineTimeout > 0 {
		writeTimeout = engineTimeout + 10*time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// Run serves until ctx is done, then shuts the server down gracefully
func Run(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
