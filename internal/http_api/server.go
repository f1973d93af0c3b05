package http_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second

	// limiterCleanupInterval is how often idle rate limit buckets are dropped
	limiterCleanupInterval = time.Minute
)

// HTTPServer is the HTTP server struct that will serve the API
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger

	// router is the HTTP router
	router *gin.Engine
	// port is the port on which the server will listen
	port int

	// server is the underlying HTTP server
	server *http.Server

	// relayer runs the relay and swap pipelines
	relayer models.RelayerI

	metrics     *metrics.Metrics
	limiter     *RateLimiter
	stopCleanup func()
}

// Options configures the HTTP surface.
type Options struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies may set X-Forwarded-For. With none, the peer address is
	// the client IP used for rate limiting.
	TrustedProxies []string
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// NewHTTPServer creates a new HTTP server instance
func NewHTTPServer(relayer models.RelayerI, m *metrics.Metrics, opts Options, logger *logger.Logger) *HTTPServer {
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		logger.Warnw("Ignoring invalid trusted proxies", "proxies", opts.TrustedProxies, "error", err)
		_ = router.SetTrustedProxies(nil)
	}

	// Add CORS middleware
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware(logger))
	router.Use(m.GinMiddleware())

	server := &HTTPServer{
		router:  router,
		port:    opts.Port,
		relayer: relayer,
		logger:  logger,
		metrics: m,
		limiter: NewRateLimiter(rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst, m),
	}

	server.stopCleanup = server.limiter.StartCleanup(limiterCleanupInterval)

	// Define routes
	server.routes()

	return server
}

// Handler exposes the router, for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%v", s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start the HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	s.stopCleanup()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
