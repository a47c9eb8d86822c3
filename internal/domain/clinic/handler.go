package clinic

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	rules *RuleProvider
}

func NewHandler(rules *RuleProvider) *Handler {
	return &Handler{rules: rules}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/clinics/:clinic_id/schedule", h.GetSchedule)
	g.GET("/clinics/:clinic_id/working-day", h.WorkingDay)
}

// GetSchedule handles GET /clinics/:clinic_id/schedule.
func (h *Handler) GetSchedule(c echo.Context) error {
	clinicID, err := strconv.ParseInt(c.Param("clinic_id"), 10, 64)
	if err != nil || clinicID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
	}
	sched, err := h.rules.GetSchedule(c.Request().Context(), clinicID)
	if err != nil {
		return scheduleError(err)
	}
	return c.JSON(http.StatusOK, sched)
}

// WorkingDay handles GET /clinics/:clinic_id/working-day?date=YYYY-MM-DD.
func (h *Handler) WorkingDay(c echo.Context) error {
	clinicID, err := strconv.ParseInt(c.Param("clinic_id"), 10, 64)
	if err != nil || clinicID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
	}
	sched, err := h.rules.GetSchedule(c.Request().Context(), clinicID)
	if err != nil {
		return scheduleError(err)
	}
	day, err := sched.ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"clinic_id":   clinicID,
		"date":        day.Format("2006-01-02"),
		"weekday":     day.Weekday().String(),
		"working_day": sched.IsWorkingDay(day),
	})
}

func scheduleError(err error) error {
	var cfgErr *ConfigError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &cfgErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{
			"error":   "config_error",
			"field":   cfgErr.Field,
			"message": cfgErr.Error(),
		})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
