package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicore/scheduler/internal/domain/clinic"
)

// Appointment status values.
const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusConfirmed: true,
	StatusCompleted: true, StatusCancelled: true,
}

// statusTransitions lists the statuses reachable from each status.
// Completed and cancelled are terminal.
var statusTransitions = map[string][]string{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Appointment is a booked interval on a professional's calendar. Start is
// stored in UTC; appointments are soft-cancelled, never deleted.
type Appointment struct {
	ID                 int64     `json:"id"`
	ClinicID           int64     `json:"clinic_id"`
	ProfessionalID     int64     `json:"professional_id"`
	ContactID          int64     `json:"contact_id"`
	Start              time.Time `json:"start"`
	DurationMinutes    int       `json:"duration_minutes"`
	Status             string    `json:"status"`
	Title              string    `json:"title,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (a *Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.Start, End: a.End()}
}

// Blocks reports whether the appointment occupies the professional's calendar
// as of now. Cancelled appointments never block; completed ones block only
// while their end is still in the future.
func (a *Appointment) Blocks(now time.Time) bool {
	switch a.Status {
	case StatusScheduled, StatusConfirmed:
		return true
	case StatusCompleted:
		return a.End().After(now)
	default:
		return false
	}
}

// Interval is the half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

func (i Interval) Empty() bool { return !i.Start.Before(i.End) }

// Overlaps reports whether two half-open intervals share any instant.
// Back-to-back intervals and empty intervals never overlap.
func (i Interval) Overlaps(o Interval) bool {
	if i.Empty() || o.Empty() {
		return false
	}
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// DateRange bounds a storage lookup. Rows intersecting [From, To) are returned.
type DateRange struct {
	From time.Time
	To   time.Time
}

// BusyBlock is a read-only busy interval reported by an external calendar.
type BusyBlock struct {
	ProfessionalID int64     `json:"professional_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Title          string    `json:"title,omitempty"`
	Source         string    `json:"source,omitempty"`
}

// ConflictType names the kind of busy interval a candidate collided with.
type ConflictType string

const (
	ConflictLunch       ConflictType = "lunch"
	ConflictAppointment ConflictType = "appointment"
	ConflictExternal    ConflictType = "external"
)

// BusyInterval is a normalized busy period used for conflict reporting.
type BusyInterval struct {
	Type          ConflictType `json:"type"`
	Start         time.Time    `json:"start"`
	End           time.Time    `json:"end"`
	Title         string       `json:"title,omitempty"`
	AppointmentID int64        `json:"appointment_id,omitempty"`
	Source        string       `json:"source,omitempty"`
}

func (b BusyInterval) Interval() Interval { return Interval{Start: b.Start, End: b.End} }

// ConflictResult is the outcome of a conflict check. Busy is set when
// Conflict is true. Partial means external calendar data could not be read.
type ConflictResult struct {
	Conflict bool          `json:"conflict"`
	Busy     *BusyInterval `json:"busy,omitempty"`
	Partial  bool          `json:"partial,omitempty"`
}

// CandidateSlot is a bookable interval produced by the slot finder.
type CandidateSlot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Period          string    `json:"period,omitempty"`
}

// HoursOverride replaces the clinic working window for a single availability query.
type HoursOverride struct {
	Start clinic.ClockTime `json:"start"`
	End   clinic.ClockTime `json:"end"`
}

// AvailabilityQuery asks for the free slots of a professional on one local date.
type AvailabilityQuery struct {
	ClinicID             int64          `json:"clinic_id"`
	ProfessionalID       int64          `json:"professional_id"`
	Date                 string         `json:"date"`
	DurationMinutes      int            `json:"duration_minutes"`
	Granularity          int            `json:"granularity,omitempty"`
	WorkingHours         *HoursOverride `json:"working_hours,omitempty"`
	ExcludeAppointmentID int64          `json:"exclude_appointment_id,omitempty"`
}

func (q *AvailabilityQuery) Validate() error {
	var problems []string
	if q.ClinicID <= 0 {
		problems = append(problems, "clinic_id is required")
	}
	if q.ProfessionalID <= 0 {
		problems = append(problems, "professional_id is required")
	}
	if strings.TrimSpace(q.Date) == "" {
		problems = append(problems, "date is required")
	} else if _, err := time.Parse("2006-01-02", strings.TrimSpace(q.Date)); err != nil {
		problems = append(problems, fmt.Sprintf("date %q must be YYYY-MM-DD", q.Date))
	}
	if q.DurationMinutes <= 0 {
		problems = append(problems, "duration must be positive")
	}
	if q.Granularity < 0 {
		problems = append(problems, "granularity must not be negative")
	}
	if q.WorkingHours != nil && q.WorkingHours.Start >= q.WorkingHours.End {
		problems = append(problems, "working hours override start must be before end")
	}
	if len(problems) > 0 {
		return newError(KindInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// Availability is the result of a slot query.
type Availability struct {
	ClinicID       int64           `json:"clinic_id"`
	ProfessionalID int64           `json:"professional_id"`
	Date           string          `json:"date"`
	Timezone       string          `json:"timezone"`
	WorkingDay     bool            `json:"working_day"`
	Slots          []CandidateSlot `json:"slots"`
	Busy           []BusyInterval  `json:"busy,omitempty"`
	Partial        bool            `json:"partial,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// ListFilter narrows appointment listings. Zero values do not filter.
type ListFilter struct {
	ProfessionalID int64
	ContactID      int64
	Status         string
	From           time.Time
	To             time.Time
}
