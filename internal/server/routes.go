// Package server wires HTTP handlers into a gin router for the relay.
package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures the router with the health, websocket, diagnostics
// and test page routes. CORS follows the origin policy.
func SetupRoutes(h *Handler) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())

	if mw := corsMiddleware(h.origins); mw != nil {
		router.Use(mw)
	}

	router.GET("/", h.Health)
	router.GET("/ws", h.WebSocket)
	router.GET("/stats", h.Stats)
	router.GET("/test", h.TestPage)
	return router
}

func corsMiddleware(origins *OriginPolicy) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	switch {
	case origins.AllowAll():
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	case len(origins.HTTPOrigins()) > 0:
		cfg.AllowOrigins = origins.HTTPOrigins()
	default:
		return nil
	}
	return cors.New(cfg)
}
