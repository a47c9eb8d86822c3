package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/clinicore/scheduler/internal/domain/clinic"
)

// ErrorKind classifies scheduling failures. Kinds are stable strings used in
// API error bodies.
type ErrorKind string

const (
	KindConfig              ErrorKind = "config_error"
	KindNotFound            ErrorKind = "not_found"
	KindNotWorkingDay       ErrorKind = "not_working_day"
	KindOutsideWorkingHours ErrorKind = "outside_working_hours"
	KindLunchConflict       ErrorKind = "lunch_break_conflict"
	KindAppointmentConflict ErrorKind = "appointment_conflict"
	KindExternalConflict    ErrorKind = "external_calendar_conflict"
	KindPartialExternalData ErrorKind = "partial_external_data"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindInternal            ErrorKind = "internal"
)

// Error is the error type returned by the scheduling components. Conflict
// describes the busy interval that caused a rejection, when there is one.
type Error struct {
	Kind     ErrorKind
	Message  string
	Conflict *BusyInterval
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so callers can compare against
// the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrConfig              = &Error{Kind: KindConfig, Message: "clinic configuration is invalid"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrNotWorkingDay       = &Error{Kind: KindNotWorkingDay, Message: "not a working day"}
	ErrOutsideWorkingHours = &Error{Kind: KindOutsideWorkingHours, Message: "outside working hours"}
	ErrLunchConflict       = &Error{Kind: KindLunchConflict, Message: "overlaps the lunch break"}
	ErrAppointmentConflict = &Error{Kind: KindAppointmentConflict, Message: "overlaps an existing appointment"}
	ErrExternalConflict    = &Error{Kind: KindExternalConflict, Message: "overlaps an external calendar event"}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
)

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func newErrorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// conflictError converts a detected busy interval into the matching error.
func conflictError(b *BusyInterval, loc *time.Location) *Error {
	var kind ErrorKind
	var what string
	switch b.Type {
	case ConflictLunch:
		kind, what = KindLunchConflict, "the lunch break"
	case ConflictExternal:
		kind, what = KindExternalConflict, "external calendar event"
	default:
		kind, what = KindAppointmentConflict, "appointment"
	}
	msg := fmt.Sprintf("overlaps %s", what)
	if b.Title != "" && b.Type != ConflictLunch {
		msg += fmt.Sprintf(" %q", b.Title)
	}
	if b.AppointmentID != 0 {
		msg += fmt.Sprintf(" #%d", b.AppointmentID)
	}
	msg += fmt.Sprintf(" (%s-%s %s)", b.Start.In(loc).Format("15:04"), b.End.In(loc).Format("15:04"), loc)
	return &Error{Kind: kind, Message: msg, Conflict: b}
}

// wrapRuleError lifts clinic rule failures into the scheduling taxonomy while
// keeping the original error reachable through errors.Is and errors.As.
func wrapRuleError(err error) error {
	if err == nil {
		return nil
	}
	var cfgErr *clinic.ConfigError
	switch {
	case errors.Is(err, clinic.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: err.Error(), Err: err}
	case errors.As(err, &cfgErr):
		return &Error{Kind: KindConfig, Message: cfgErr.Error(), Err: err}
	default:
		return fmt.Errorf("load clinic schedule: %w", err)
	}
}

// KindOf returns the scheduling kind of err, or KindInternal for errors
// outside the taxonomy.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	var cfgErr *clinic.ConfigError
	switch {
	case errors.Is(err, clinic.ErrNotFound):
		return KindNotFound
	case errors.As(err, &cfgErr):
		return KindConfig
	}
	return KindInternal
}
