package extcal

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicore/scheduler/internal/platform/auth"
)

// Invalidator drops cached calendar data for one professional.
type Invalidator interface {
	Invalidate(ctx context.Context, professionalID int64) error
}

// Handler lets the calendar provider, or an operator, signal that a
// professional's calendar changed so the next lookup reads the feed.
type Handler struct {
	cache  Invalidator
	logger zerolog.Logger
}

func NewHandler(cache Invalidator, logger zerolog.Logger) *Handler {
	return &Handler{cache: cache, logger: logger.With().Str("component", "extcal_handler").Logger()}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/calendars/professionals/:professional_id/invalidate", h.Invalidate, auth.RequireRole("admin"))
}

// Invalidate handles POST /calendars/professionals/:professional_id/invalidate.
func (h *Handler) Invalidate(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("professional_id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid professional_id")
	}
	if err := h.cache.Invalidate(c.Request().Context(), id); err != nil {
		h.logger.Error().Err(err).Int64("professional_id", id).Msg("calendar cache invalidation failed")
		return echo.NewHTTPError(http.StatusBadGateway, "calendar cache unavailable")
	}
	h.logger.Info().Int64("professional_id", id).Msg("calendar cache invalidated")
	return c.NoContent(http.StatusNoContent)
}
