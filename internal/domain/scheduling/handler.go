package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicore/scheduler/internal/domain/clinic"
	"github.com/clinicore/scheduler/internal/platform/lock"
	"github.com/clinicore/scheduler/pkg/pagination"
)

type Handler struct {
	slots    *SlotFinder
	detector *ConflictDetector
	booking  *BookingCoordinator
}

func NewHandler(slots *SlotFinder, detector *ConflictDetector, booking *BookingCoordinator) *Handler {
	return &Handler{slots: slots, detector: detector, booking: booking}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/clinics/:clinic_id/availability", h.Availability)
	g.POST("/clinics/:clinic_id/conflicts/check", h.CheckConflict)

	g.GET("/clinics/:clinic_id/appointments", h.ListAppointments)
	g.POST("/clinics/:clinic_id/appointments", h.Book)
	g.GET("/clinics/:clinic_id/appointments/:id", h.GetAppointment)
	g.POST("/clinics/:clinic_id/appointments/:id/reschedule", h.Reschedule)
	g.POST("/clinics/:clinic_id/appointments/:id/cancel", h.Cancel)
	g.POST("/clinics/:clinic_id/appointments/:id/status", h.UpdateStatus)
}

// Availability handles GET /clinics/:clinic_id/availability.
func (h *Handler) Availability(c echo.Context) error {
	clinicID, err := pathID(c, "clinic_id")
	if err != nil {
		return err
	}
	q := AvailabilityQuery{ClinicID: clinicID, Date: c.QueryParam("date")}
	if q.ProfessionalID, err = queryInt64(c, "professional_id"); err != nil {
		return err
	}
	dur, err := queryInt64(c, "duration")
	if err != nil {
		return err
	}
	q.DurationMinutes = int(dur)
	gran, err := queryInt64(c, "granularity")
	if err != nil {
		return err
	}
	q.Granularity = int(gran)
	if q.ExcludeAppointmentID, err = queryInt64(c, "exclude_appointment_id"); err != nil {
		return err
	}
	if start, end := c.QueryParam("start"), c.QueryParam("end"); start != "" || end != "" {
		s, serr := clinic.ParseClock(start)
		e, eerr := clinic.ParseClock(end)
		if serr != nil || eerr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start and end must both be HH:MM")
		}
		q.WorkingHours = &HoursOverride{Start: s, End: e}
	}

	avail, err := h.slots.FindSlots(c.Request().Context(), q)
	if err != nil {
		return errorResponse(err)
	}
	if c.QueryParam("group") != "true" {
		return c.JSON(http.StatusOK, avail)
	}
	loc, lerr := time.LoadLocation(avail.Timezone)
	if lerr != nil {
		loc = time.UTC
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"clinic_id":       avail.ClinicID,
		"professional_id": avail.ProfessionalID,
		"date":            avail.Date,
		"timezone":        avail.Timezone,
		"working_day":     avail.WorkingDay,
		"periods":         GroupByPeriod(avail.Slots, loc),
		"busy":            avail.Busy,
		"partial":         avail.Partial,
		"warnings":        avail.Warnings,
	})
}

type conflictCheckRequest struct {
	ProfessionalID       int64     `json:"professional_id" validate:"required,gt=0"`
	Start                time.Time `json:"start" validate:"required"`
	End                  time.Time `json:"end"`
	DurationMinutes      int       `json:"duration_minutes" validate:"gte=0"`
	ExcludeAppointmentID int64     `json:"exclude_appointment_id" validate:"gte=0"`
}

// CheckConflict handles POST /clinics/:clinic_id/conflicts/check.
func (h *Handler) CheckConflict(c echo.Context) error {
	clinicID, err := pathID(c, "clinic_id")
	if err != nil {
		return err
	}
	var req conflictCheckRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	end := req.End
	if end.IsZero() {
		if req.DurationMinutes <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "either end or duration_minutes is required")
		}
		end = req.Start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	}
	res, err := h.detector.HasConflict(c.Request().Context(), Interval{Start: req.Start, End: end},
		req.ProfessionalID, clinicID, req.ExcludeAppointmentID)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Book handles POST /clinics/:clinic_id/appointments.
func (h *Handler) Book(c echo.Context) error {
	clinicID, err := pathID(c, "clinic_id")
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.ClinicID = clinicID
	booked, err := h.booking.Book(c.Request().Context(), req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, booked)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	clinicID, err := pathID(c, "clinic_id")
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.booking.Get(c.Request().Context(), clinicID, id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// ListAppointments handles GET /clinics/:clinic_id/appointments with optional
// professional_id, contact_id, status, from and to (RFC 3339) filters.
func (h *Handler) ListAppointments(c echo.Context) error {
	clinicID, err := pathID(c, "clinic_id")
	if err != nil {
		return err
	}
	var f ListFilter
	if f.ProfessionalID, err = queryInt64(c, "professional_id"); err != nil {
		return err
	}
	if f.ContactID, err = queryInt64(c, "contact_id"); err != nil {
		return err
	}
	f.Status = c.QueryParam("status")
	if f.From, err = queryTime(c, "from"); err != nil {
		return err
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.booking.List(c.Request().Context(), clinicID, f, pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

// Reschedule handles POST /clinics/:clinic_id/appointments/:id/reschedule.
func (h *Handler) Reschedule(c echo.Context) error {
	clinicID, err := pathID(c, "clinic_id")
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req RescheduleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.ClinicID, req.AppointmentID = clinicID, id
	moved, err := h.booking.Reschedule(c.Request().Context(), req)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, moved)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Cancel handles POST /clinics/:clinic_id/appointments/:id/cancel.
func (h *Handler) Cancel(c echo.Context) error {
	clinicID, err := pathID(c, "clinic_id")
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength != 0 {
		if err := bindAndValidate(c, &req); err != nil {
			return err
		}
	}
	appt, err := h.booking.Cancel(c.Request().Context(), clinicID, id, req.Reason)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, appt)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=scheduled confirmed completed cancelled"`
}

// UpdateStatus handles POST /clinics/:clinic_id/appointments/:id/status.
func (h *Handler) UpdateStatus(c echo.Context) error {
	clinicID, err := pathID(c, "clinic_id")
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	appt, err := h.booking.UpdateStatus(c.Request().Context(), clinicID, id, req.Status)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// -- helpers --

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryInt64(c echo.Context, name string) (int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

func queryTime(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" must be RFC 3339")
	}
	return t, nil
}

func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind ErrorKind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindLunchConflict, KindAppointmentConflict, KindExternalConflict:
		return http.StatusConflict
	case KindNotWorkingDay, KindOutsideWorkingHours, KindConfig, KindInvalidTransition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) error {
	if errors.Is(err, lock.ErrNotAcquired) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, map[string]interface{}{
			"error":   "busy",
			"message": "another booking for this professional is in progress, try again",
		})
	}
	kind := KindOf(err)
	body := map[string]interface{}{"error": kind, "message": err.Error()}
	var se *Error
	if errors.As(err, &se) && se.Conflict != nil {
		body["conflict"] = se.Conflict
	}
	var cfgErr *clinic.ConfigError
	if errors.As(err, &cfgErr) {
		body["field"] = cfgErr.Field
	}
	if kind == KindInternal {
		body["message"] = "internal error"
	}
	return echo.NewHTTPError(StatusOf(kind), body).SetInternal(err)
}
