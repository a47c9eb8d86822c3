package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicore/scheduler/internal/domain/clinic"
)

const partialExternalWarning = "external calendar unavailable; results ignore external events"

// ConflictDetector checks candidate intervals against the lunch break, the
// professional's appointments and external calendar blocks, in that order.
type ConflictDetector struct {
	rules        RuleSource
	appointments AppointmentReader
	calendar     ExternalCalendar
	now          func() time.Time
	logger       zerolog.Logger
}

// DetectorOption configures a ConflictDetector.
type DetectorOption func(*ConflictDetector)

// WithDetectorClock sets the clock used to decide whether completed
// appointments still block.
func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *ConflictDetector) { d.now = now }
}

// NewConflictDetector builds a detector. calendar may be nil when no external
// calendar is configured.
func NewConflictDetector(rules RuleSource, appointments AppointmentReader, calendar ExternalCalendar, logger zerolog.Logger, opts ...DetectorOption) *ConflictDetector {
	d := &ConflictDetector{
		rules:        rules,
		appointments: appointments,
		calendar:     calendar,
		now:          time.Now,
		logger:       logger.With().Str("component", "conflict_detector").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// withCalendar returns a copy of d that reads external blocks from cal.
func (d *ConflictDetector) withCalendar(cal ExternalCalendar) *ConflictDetector {
	cp := *d
	cp.calendar = cal
	return &cp
}

// HasConflict reports the first busy interval that overlaps candidate.
// excludeAppointmentID (0 for none) is ignored, which lets an appointment be
// checked against its own former slot.
func (d *ConflictDetector) HasConflict(ctx context.Context, candidate Interval, professionalID, clinicID, excludeAppointmentID int64) (*ConflictResult, error) {
	if candidate.End.Before(candidate.Start) {
		return nil, newError(KindInvalidRequest, "interval end is before its start")
	}
	sched, err := d.rules.GetSchedule(ctx, clinicID)
	if err != nil {
		return nil, wrapRuleError(err)
	}
	if candidate.Empty() {
		return &ConflictResult{}, nil
	}
	snap, err := d.loadSnapshot(ctx, d.appointments, sched, professionalID, excludeAppointmentID, candidate)
	if err != nil {
		return nil, err
	}
	busy := snap.detect(candidate)
	return &ConflictResult{Conflict: busy != nil, Busy: busy, Partial: snap.partial}, nil
}

// busySnapshot holds every busy interval relevant to a span of local days.
// Each list is sorted by start.
type busySnapshot struct {
	lunch        []BusyInterval
	appointments []BusyInterval
	external     []BusyInterval
	partial      bool
}

// detect returns the first busy interval overlapping c, checking lunch, then
// appointments, then external blocks.
func (s *busySnapshot) detect(c Interval) *BusyInterval {
	for _, group := range [][]BusyInterval{s.lunch, s.appointments, s.external} {
		for i := range group {
			if c.Overlaps(group[i].Interval()) {
				b := group[i]
				return &b
			}
		}
	}
	return nil
}

// loadSnapshot reads the busy data for every local day touched by span.
// Appointments are read through reader so callers inside a transaction see
// their own view. A failing external calendar marks the snapshot partial.
func (d *ConflictDetector) loadSnapshot(ctx context.Context, reader AppointmentReader, sched *clinic.Schedule, professionalID, excludeID int64, span Interval) (*busySnapshot, error) {
	loc := sched.Location()
	first := sched.DayOf(span.Start)
	var days []time.Time
	for day := first; day.Before(span.End) || day.Equal(first); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	rng := DateRange{From: days[0], To: days[len(days)-1].AddDate(0, 0, 1)}

	snap := &busySnapshot{}
	for _, day := range days {
		if ls, le, ok := sched.LunchWindow(day); ok {
			snap.lunch = append(snap.lunch, BusyInterval{Type: ConflictLunch, Start: ls, End: le, Title: "Lunch break"})
		}
	}

	var appts []*Appointment
	var blocks []BusyBlock
	var extErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		appts, err = reader.ListActive(gctx, professionalID, rng)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}
		return nil
	})
	if d.calendar != nil {
		g.Go(func() error {
			blocks, extErr = d.calendar.ListBusyBlocks(gctx, professionalID, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if extErr != nil {
		snap.partial = true
		d.logger.Warn().Err(extErr).Int64("professional_id", professionalID).
			Time("from", rng.From).Time("to", rng.To).Msg("external calendar lookup failed, continuing without it")
	}

	now := d.now()
	for _, a := range appts {
		if a.ID == excludeID && excludeID != 0 {
			continue
		}
		if a.ProfessionalID != professionalID || !a.Blocks(now) {
			continue
		}
		snap.appointments = append(snap.appointments, BusyInterval{
			Type:          ConflictAppointment,
			Start:         a.Start.In(loc),
			End:           a.End().In(loc),
			Title:         a.Title,
			AppointmentID: a.ID,
		})
	}
	for _, b := range blocks {
		if !b.Start.Before(b.End) {
			continue
		}
		snap.external = append(snap.external, BusyInterval{
			Type:   ConflictExternal,
			Start:  b.Start.In(loc),
			End:    b.End.In(loc),
			Title:  b.Title,
			Source: b.Source,
		})
	}
	sortBusy(snap.appointments)
	sortBusy(snap.external)
	return snap, nil
}

func sortBusy(list []BusyInterval) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
}
