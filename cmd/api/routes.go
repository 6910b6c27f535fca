package main

import (
	"callwallet/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, devTokens bool) {
	// public: health, token issuance (non-production only), refresh
	h.RegisterPublic(r, devTokens)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	h.RegisterProtected(v1)
}
