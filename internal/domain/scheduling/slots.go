package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SlotFinder enumerates the free slots of a professional on a local date.
// It has no wall-clock dependency: past dates are computed like any other.
type SlotFinder struct {
	rules    RuleSource
	detector *ConflictDetector
	logger   zerolog.Logger
}

func NewSlotFinder(rules RuleSource, detector *ConflictDetector, logger zerolog.Logger) *SlotFinder {
	return &SlotFinder{rules: rules, detector: detector, logger: logger.With().Str("component", "slot_finder").Logger()}
}

// FindSlots returns the bookable slots for q in ascending order, together with
// the busy intervals that removed candidates from the grid.
func (f *SlotFinder) FindSlots(ctx context.Context, q AvailabilityQuery) (*Availability, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	sched, err := f.rules.GetSchedule(ctx, q.ClinicID)
	if err != nil {
		return nil, wrapRuleError(err)
	}
	day, err := sched.ParseDate(q.Date)
	if err != nil {
		return nil, newError(KindInvalidRequest, err.Error())
	}

	out := &Availability{
		ClinicID:       q.ClinicID,
		ProfessionalID: q.ProfessionalID,
		Date:           day.Format("2006-01-02"),
		Timezone:       sched.Location().String(),
		Slots:          []CandidateSlot{},
	}
	if !sched.IsWorkingDay(day) {
		return out, nil
	}
	out.WorkingDay = true

	winStart, winEnd := sched.WorkingWindow(day)
	if q.WorkingHours != nil {
		winStart, winEnd = q.WorkingHours.Start.On(day), q.WorkingHours.End.On(day)
	}
	dur := time.Duration(q.DurationMinutes) * time.Minute
	if winEnd.Sub(winStart) < dur {
		return out, nil
	}
	step := dur
	if q.Granularity > 0 {
		step = time.Duration(q.Granularity) * time.Minute
	}

	snap, err := f.detector.loadSnapshot(ctx, f.detector.appointments, sched, q.ProfessionalID, q.ExcludeAppointmentID,
		Interval{Start: winStart, End: winEnd})
	if err != nil {
		return nil, err
	}
	if snap.partial {
		out.Partial = true
		out.Warnings = append(out.Warnings, string(KindPartialExternalData)+": "+partialExternalWarning)
	}

	seen := make(map[BusyInterval]bool)
	for start := winStart; !start.Add(dur).After(winEnd); start = start.Add(step) {
		cand := Interval{Start: start, End: start.Add(dur)}
		if busy := snap.detect(cand); busy != nil {
			if !seen[*busy] {
				seen[*busy] = true
				out.Busy = append(out.Busy, *busy)
			}
			continue
		}
		out.Slots = append(out.Slots, CandidateSlot{Start: cand.Start, End: cand.End, DurationMinutes: q.DurationMinutes})
	}
	sortBusy(out.Busy)

	f.logger.Debug().Int64("clinic_id", q.ClinicID).Int64("professional_id", q.ProfessionalID).
		Str("date", out.Date).Int("slots", len(out.Slots)).Int("busy", len(out.Busy)).Msg("availability computed")
	return out, nil
}

// Slot period labels.
const (
	PeriodMorning   = "morning"
	PeriodAfternoon = "afternoon"
	PeriodEvening   = "evening"
)

// PeriodOf labels a local start time: before 12:00 is morning, before 18:00
// afternoon, anything later evening.
func PeriodOf(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return PeriodMorning
	case h < 18:
		return PeriodAfternoon
	default:
		return PeriodEvening
	}
}

// GroupByPeriod buckets slots by the period of their start in loc, keeping
// the order within each bucket. Empty periods are omitted.
func GroupByPeriod(slots []CandidateSlot, loc *time.Location) map[string][]CandidateSlot {
	groups := make(map[string][]CandidateSlot)
	for _, s := range slots {
		p := PeriodOf(s.Start.In(loc))
		s.Period = p
		groups[p] = append(groups[p], s)
	}
	return groups
}

// FormatSlot renders a slot as "HH:MM-HH:MM" in loc.
func FormatSlot(s CandidateSlot, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(s.Start.In(loc).Format("15:04"))
	b.WriteByte('-')
	b.WriteString(s.End.In(loc).Format("15:04"))
	return b.String()
}
