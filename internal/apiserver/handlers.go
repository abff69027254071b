package apiserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/flowmesh/engine/engine"
	"github.com/flowmesh/engine/internal/persistence"
)

type handler struct {
	eng *engine.Engine
}

func newHandler(eng *engine.Engine) *handler {
	return &handler{eng: eng}
}

// Health reports liveness; it does not probe the persistence backend — use
// Stats for that.
func (h *handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "healthy"})
}

// Stats returns the engine's point-in-time load/health snapshot.
// GET /api/v1/stats
func (h *handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.eng.Stats(c.Request().Context()))
}

// ListSuspended pages through stored suspensions.
// GET /api/v1/suspensions?offset=0&limit=50
func (h *handler) ListSuspended(c echo.Context) error {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	records, err := h.eng.ListSuspended(c.Request().Context(), offset, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"suspensions": records,
		"count":       len(records),
	})
}

// CleanupSuspended sweeps suspensions matching the request body's criteria.
// POST /api/v1/suspensions/cleanup
func (h *handler) CleanupSuspended(c echo.Context) error {
	var criteria persistence.CleanupCriteria
	if err := c.Bind(&criteria); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid cleanup criteria"})
	}

	deleted, errs := h.eng.CleanupSuspended(c.Request().Context(), criteria)
	resp := map[string]interface{}{"deleted": deleted}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelSuspension deletes a single suspension without resuming it.
// DELETE /api/v1/suspensions/:key
func (h *handler) CancelSuspension(c echo.Context) error {
	key := c.Param("key")
	if key == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "key is required"})
	}
	if err := h.eng.Cancel(c.Request().Context(), key); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "suspension cancelled", "key": key})
}

// ListTools returns every registered tool.
// GET /api/v1/tools
func (h *handler) ListTools(c echo.Context) error {
	tools := h.eng.ListTools()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tools": tools,
		"count": len(tools),
	})
}
