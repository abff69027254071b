package apiserver

import (
	"github.com/labstack/echo/v4"

	"github.com/flowmesh/engine/engine"
)

// RegisterRoutes wires the operational surface under /api/v1, so an
// embedding program can mount it onto its own echo.Echo instead of running
// a standalone Server.
func RegisterRoutes(e *echo.Echo, eng *engine.Engine) {
	h := newHandler(eng)

	e.GET("/healthz", h.Health)

	v1 := e.Group("/api/v1")
	v1.GET("/stats", h.Stats)

	susp := v1.Group("/suspensions")
	susp.GET("", h.ListSuspended)
	susp.POST("/cleanup", h.CleanupSuspended)
	susp.DELETE("/:key", h.CancelSuspension)

	tools := v1.Group("/tools")
	tools.GET("", h.ListTools)
}
