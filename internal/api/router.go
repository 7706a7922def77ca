package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tedstreete/six-degrees/internal/api/middleware"
)

// setupRouters configures the public and management routers.
func (s *Server) setupRouters() {
	if s.cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	api := gin.New()
	api.Use(middleware.Recovery())
	api.Use(middleware.Logging())
	api.Use(middleware.RateLimit(s.cfg.RateLimit, s.cfg.RateBurst))

	api.GET("/connections", s.handleConnections)

	// Anything else names a path that does not exist; answer with a
	// textual body naming it.
	api.NoRoute(s.handleNotFound)
	api.NoMethod(s.handleNotFound)
	api.HandleMethodNotAllowed = true

	management := gin.New()
	management.Use(middleware.Recovery())
	management.Use(middleware.Logging())

	management.GET("/health", s.handleHealth)
	management.GET("/stats", s.handleStats)
	management.NoRoute(s.handleNotFound)

	s.api = api
	s.management = management
}

func (s *Server) handleNotFound(c *gin.Context) {
	c.String(http.StatusNotFound, "Nothing found at %s", c.Request.URL.Path)
}
