package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/scheduler/internal/domain/clinic"
	"github.com/clinicore/scheduler/internal/platform/lock"
)

// BookingRequest asks for a new appointment starting at Start.
type BookingRequest struct {
	ClinicID        int64     `json:"-"`
	ProfessionalID  int64     `json:"professional_id" validate:"required,gt=0"`
	ContactID       int64     `json:"contact_id" validate:"required,gt=0"`
	Start           time.Time `json:"start" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0,lte=1440"`
	Title           string    `json:"title" validate:"max=200"`
	Notes           string    `json:"notes" validate:"max=2000"`
}

func (r *BookingRequest) Validate() error {
	var problems []string
	if r.ClinicID <= 0 {
		problems = append(problems, "clinic_id is required")
	}
	if r.ProfessionalID <= 0 {
		problems = append(problems, "professional_id is required")
	}
	if r.ContactID <= 0 {
		problems = append(problems, "contact_id is required")
	}
	if r.Start.IsZero() {
		problems = append(problems, "start is required")
	}
	if r.DurationMinutes <= 0 {
		problems = append(problems, "duration must be positive")
	}
	if len(problems) > 0 {
		return newError(KindInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// RescheduleRequest moves an appointment. A zero DurationMinutes keeps the
// current duration.
type RescheduleRequest struct {
	ClinicID        int64     `json:"-"`
	AppointmentID   int64     `json:"-"`
	Start           time.Time `json:"start" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=0,lte=1440"`
}

// attemptState is the lifecycle of one booking attempt.
type attemptState int

const (
	stateProposed attemptState = iota
	stateValidated
	stateCommitted
	stateRejected
)

func (s attemptState) String() string {
	switch s {
	case stateProposed:
		return "proposed"
	case stateValidated:
		return "validated"
	case stateCommitted:
		return "committed"
	case stateRejected:
		return "rejected"
	}
	return "unknown"
}

var attemptTransitions = map[attemptState][]attemptState{
	stateProposed:  {stateValidated, stateRejected},
	stateValidated: {stateCommitted, stateRejected},
}

type attempt struct {
	state  attemptState
	logger zerolog.Logger
}

func newAttempt(logger zerolog.Logger) *attempt {
	return &attempt{state: stateProposed, logger: logger}
}

func (a *attempt) to(next attemptState) error {
	for _, s := range attemptTransitions[a.state] {
		if s == next {
			a.logger.Debug().Str("from", a.state.String()).Str("to", next.String()).Msg("booking attempt transition")
			a.state = next
			return nil
		}
	}
	return fmt.Errorf("booking attempt cannot move from %s to %s", a.state, next)
}

// reset returns a re-run transaction to the proposed state.
func (a *attempt) reset() { a.state = stateProposed }

// BookingCoordinator commits bookings and reschedules. Every write re-runs the
// full validation inside a store transaction, under a per-professional lock
// when the store does not isolate concurrent writers itself.
type BookingCoordinator struct {
	rules    RuleSource
	store    Store
	detector *ConflictDetector
	locker   lock.Locker
	calendar ExternalCalendar
	now      func() time.Time
	logger   zerolog.Logger
}

// Booking is the result of a committed booking or reschedule. Partial is set
// when the external calendar could not be read during validation, so the
// appointment was checked against local data only.
type Booking struct {
	*Appointment
	Partial  bool     `json:"partial,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newBooking(a *Appointment, partial bool) *Booking {
	b := &Booking{Appointment: a, Partial: partial}
	if partial {
		b.Warnings = []string{string(KindPartialExternalData) + ": " + partialExternalWarning}
	}
	return b
}

// BookingOption configures a BookingCoordinator.
type BookingOption func(*BookingCoordinator)

// WithLocker overrides the per-professional lock.
func WithLocker(l lock.Locker) BookingOption {
	return func(c *BookingCoordinator) { c.locker = l }
}

// WithCommitCalendar sets the external calendar read while validating a write.
// Use it to bypass a cache the slot finder reads through, so commits see the
// feed as it is now.
func WithCommitCalendar(cal ExternalCalendar) BookingOption {
	return func(c *BookingCoordinator) { c.calendar = cal }
}

// WithBookingClock sets the clock used for completion checks and logging.
func WithBookingClock(now func() time.Time) BookingOption {
	return func(c *BookingCoordinator) { c.now = now }
}

func NewBookingCoordinator(rules RuleSource, store Store, detector *ConflictDetector, logger zerolog.Logger, opts ...BookingOption) *BookingCoordinator {
	c := &BookingCoordinator{
		rules:    rules,
		store:    store,
		detector: detector,
		now:      time.Now,
		logger:   logger.With().Str("component", "booking_coordinator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.calendar != nil && c.detector != nil {
		c.detector = c.detector.withCalendar(c.calendar)
	}
	if c.locker == nil {
		if store.Isolated() {
			c.locker = lock.Noop{}
		} else {
			c.locker = lock.NewKeyed()
		}
	}
	return c
}

func professionalKey(id int64) string { return fmt.Sprintf("professional:%d", id) }

func (c *BookingCoordinator) lockProfessional(ctx context.Context, professionalID int64) (lock.Unlock, error) {
	unlock, err := c.locker.Lock(ctx, professionalKey(professionalID))
	if err != nil {
		return nil, fmt.Errorf("lock professional %d: %w", professionalID, err)
	}
	return unlock, nil
}

// Book validates and commits a new appointment.
func (c *BookingCoordinator) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	candidate := Interval{Start: req.Start, End: req.Start.Add(time.Duration(req.DurationMinutes) * time.Minute)}
	log := c.logger.With().Int64("clinic_id", req.ClinicID).Int64("professional_id", req.ProfessionalID).
		Time("start", candidate.Start).Int("duration", req.DurationMinutes).Logger()
	att := newAttempt(log)

	unlock, err := c.lockProfessional(ctx, req.ProfessionalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var booked *Appointment
	var partial bool
	err = c.store.WithinTx(ctx, func(tx AppointmentTx) error {
		att.reset()
		sched, err := c.rules.GetSchedule(ctx, req.ClinicID)
		if err != nil {
			return wrapRuleError(err)
		}
		partial, err = c.validate(ctx, tx, sched, candidate, req.ProfessionalID, 0)
		if err != nil {
			return err
		}
		if err := att.to(stateValidated); err != nil {
			return err
		}
		a := &Appointment{
			ClinicID:        req.ClinicID,
			ProfessionalID:  req.ProfessionalID,
			ContactID:       req.ContactID,
			Start:           candidate.Start.UTC(),
			DurationMinutes: req.DurationMinutes,
			Status:          StatusScheduled,
			Title:           req.Title,
			Notes:           req.Notes,
		}
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		booked = a
		return nil
	})
	if err != nil {
		_ = att.to(stateRejected)
		err = c.describeConflict(ctx, err, req.ProfessionalID, 0, candidate)
		log.Info().Str("reason", string(KindOf(err))).Msg("booking rejected")
		return nil, err
	}
	if err := att.to(stateCommitted); err != nil {
		return nil, err
	}
	log.Info().Int64("appointment_id", booked.ID).Bool("partial", partial).Msg("appointment booked")
	return newBooking(booked, partial), nil
}

// Reschedule moves an appointment to a new interval, ignoring its own
// current slot during conflict checks. Rules are always the current ones.
func (c *BookingCoordinator) Reschedule(ctx context.Context, req RescheduleRequest) (*Booking, error) {
	if req.Start.IsZero() {
		return nil, newError(KindInvalidRequest, "start is required")
	}
	if req.DurationMinutes < 0 {
		return nil, newError(KindInvalidRequest, "duration must not be negative")
	}
	current, err := c.store.GetByID(ctx, req.ClinicID, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	log := c.logger.With().Int64("clinic_id", req.ClinicID).Int64("appointment_id", req.AppointmentID).
		Int64("professional_id", current.ProfessionalID).Time("start", req.Start).Logger()
	att := newAttempt(log)

	unlock, err := c.lockProfessional(ctx, current.ProfessionalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var candidate Interval
	var moved *Appointment
	var partial bool
	err = c.store.WithinTx(ctx, func(tx AppointmentTx) error {
		att.reset()
		a, err := tx.GetByID(ctx, req.ClinicID, req.AppointmentID)
		if err != nil {
			return err
		}
		if a.Status == StatusCancelled || a.Status == StatusCompleted {
			return newErrorf(KindInvalidTransition, "appointment %d is %s and cannot be rescheduled", a.ID, a.Status)
		}
		dur := a.DurationMinutes
		if req.DurationMinutes > 0 {
			dur = req.DurationMinutes
		}
		candidate = Interval{Start: req.Start, End: req.Start.Add(time.Duration(dur) * time.Minute)}

		sched, err := c.rules.GetSchedule(ctx, req.ClinicID)
		if err != nil {
			return wrapRuleError(err)
		}
		partial, err = c.validate(ctx, tx, sched, candidate, a.ProfessionalID, a.ID)
		if err != nil {
			return err
		}
		if err := att.to(stateValidated); err != nil {
			return err
		}
		a.Start = candidate.Start.UTC()
		a.DurationMinutes = dur
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		moved = a
		return nil
	})
	if err != nil {
		_ = att.to(stateRejected)
		err = c.describeConflict(ctx, err, current.ProfessionalID, req.AppointmentID, candidate)
		log.Info().Str("reason", string(KindOf(err))).Msg("reschedule rejected")
		return nil, err
	}
	if err := att.to(stateCommitted); err != nil {
		return nil, err
	}
	log.Info().Bool("partial", partial).Msg("appointment rescheduled")
	return newBooking(moved, partial), nil
}

// Cancel soft-cancels an appointment, freeing its slot.
func (c *BookingCoordinator) Cancel(ctx context.Context, clinicID, appointmentID int64, reason string) (*Appointment, error) {
	return c.transition(ctx, clinicID, appointmentID, StatusCancelled, reason)
}

// UpdateStatus moves an appointment along its lifecycle: scheduled to
// confirmed to completed, or to cancelled from either open status.
func (c *BookingCoordinator) UpdateStatus(ctx context.Context, clinicID, appointmentID int64, status string) (*Appointment, error) {
	if !validStatuses[status] {
		return nil, newErrorf(KindInvalidRequest, "invalid status: %s", status)
	}
	return c.transition(ctx, clinicID, appointmentID, status, "")
}

func (c *BookingCoordinator) transition(ctx context.Context, clinicID, appointmentID int64, status, reason string) (*Appointment, error) {
	current, err := c.store.GetByID(ctx, clinicID, appointmentID)
	if err != nil {
		return nil, err
	}
	unlock, err := c.lockProfessional(ctx, current.ProfessionalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated *Appointment
	err = c.store.WithinTx(ctx, func(tx AppointmentTx) error {
		a, err := tx.GetByID(ctx, clinicID, appointmentID)
		if err != nil {
			return err
		}
		if !CanTransition(a.Status, status) {
			return newErrorf(KindInvalidTransition, "appointment %d cannot move from %s to %s", a.ID, a.Status, status)
		}
		a.Status = status
		if status == StatusCancelled {
			a.CancellationReason = reason
		}
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Int64("clinic_id", clinicID).Int64("appointment_id", appointmentID).
		Str("status", status).Msg("appointment status changed")
	return updated, nil
}

func (c *BookingCoordinator) Get(ctx context.Context, clinicID, appointmentID int64) (*Appointment, error) {
	return c.store.GetByID(ctx, clinicID, appointmentID)
}

func (c *BookingCoordinator) List(ctx context.Context, clinicID int64, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, newErrorf(KindInvalidRequest, "invalid status: %s", f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, 0, newError(KindInvalidRequest, "from must be before to")
	}
	return c.store.List(ctx, clinicID, f, limit, offset)
}

// validate applies the same filters as the slot finder, in the same order:
// working day, working hours, then lunch, appointments and external blocks.
// It reports whether the external calendar was skipped.
func (c *BookingCoordinator) validate(ctx context.Context, reader AppointmentReader, sched *clinic.Schedule, candidate Interval, professionalID, excludeID int64) (bool, error) {
	loc := sched.Location()
	local := candidate.Start.In(loc)
	if !sched.IsWorkingDay(candidate.Start) {
		return false, &Error{Kind: KindNotWorkingDay,
			Message: fmt.Sprintf("%s (%s) is not a working day", local.Format("2006-01-02"), local.Weekday())}
	}
	ws, we := sched.WorkingWindow(candidate.Start)
	if candidate.Start.Before(ws) || candidate.End.After(we) {
		return false, &Error{Kind: KindOutsideWorkingHours,
			Message: fmt.Sprintf("%s-%s lies outside working hours %s-%s",
				local.Format("15:04"), candidate.End.In(loc).Format("15:04"), sched.WorkStart, sched.WorkEnd)}
	}
	snap, err := c.detector.loadSnapshot(ctx, reader, sched, professionalID, excludeID, candidate)
	if err != nil {
		return false, err
	}
	if snap.partial {
		c.logger.Warn().Int64("professional_id", professionalID).Time("start", candidate.Start).
			Msg("validating booking without external calendar data")
	}
	if busy := snap.detect(candidate); busy != nil {
		return snap.partial, conflictError(busy, loc)
	}
	return snap.partial, nil
}

// describeConflict fills in the conflicting appointment when the store
// rejected a write through a constraint and no details are attached yet.
func (c *BookingCoordinator) describeConflict(ctx context.Context, err error, professionalID, excludeID int64, candidate Interval) error {
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindAppointmentConflict || se.Conflict != nil {
		return err
	}
	appts, lerr := c.store.ListActive(ctx, professionalID, DateRange{From: candidate.Start, To: candidate.End})
	if lerr != nil {
		return err
	}
	for _, a := range appts {
		if a.ID == excludeID || !a.Blocks(c.now()) || !a.Interval().Overlaps(candidate) {
			continue
		}
		busy := &BusyInterval{Type: ConflictAppointment, Start: a.Start, End: a.End(), Title: a.Title, AppointmentID: a.ID}
		loc := time.UTC
		if sched, serr := c.rules.GetSchedule(ctx, a.ClinicID); serr == nil {
			loc = sched.Location()
		}
		busy.Start, busy.End = busy.Start.In(loc), busy.End.In(loc)
		described := conflictError(busy, loc)
		described.Err = se.Err
		return described
	}
	return err
}
