package http_api

import "github.com/gin-gonic/gin"

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group("/api/v1")
	api.GET("/health", s.health)

	limited := api.Group("", s.limiter.Middleware())
	limited.POST("/relay", s.relay)
	limited.POST("/swap", s.swap)
	limited.GET("/balance", s.balance)
	limited.GET("/dapps/:id/usage", s.usage)
}
