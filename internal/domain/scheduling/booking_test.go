package scheduling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinicore/scheduler/internal/platform/lock"
)

func bookingAt(start time.Time, minutes int) BookingRequest {
	return BookingRequest{
		ClinicID:        testClinicID,
		ProfessionalID:  4,
		ContactID:       100,
		Start:           start,
		DurationMinutes: minutes,
		Title:           "Consultation",
	}
}

func TestBook_Success(t *testing.T) {
	f := newFixture(t)
	a, err := f.booking.Book(context.Background(), bookingAt(thursday(10, 0), 60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == 0 || a.Status != StatusScheduled {
		t.Errorf("unexpected appointment %+v", a)
	}
	if a.Partial || len(a.Warnings) != 0 {
		t.Errorf("expected a complete validation, got partial=%v warnings=%v", a.Partial, a.Warnings)
	}
	if a.Start.Location() != time.UTC {
		t.Error("expected start to be stored in UTC")
	}
	stored, err := f.store.GetByID(context.Background(), testClinicID, a.ID)
	if err != nil {
		t.Fatalf("expected the appointment to be stored: %v", err)
	}
	if !stored.Start.Equal(thursday(10, 0)) {
		t.Errorf("unexpected stored start %s", stored.Start)
	}
}

func TestBook_Rejections(t *testing.T) {
	wednesday := time.Date(2024, 1, 17, 12, 30, 0, 0, saoPaulo)
	saturday := time.Date(2024, 1, 20, 10, 0, 0, 0, saoPaulo)

	tests := []struct {
		name string
		req  func() BookingRequest
		want ErrorKind
	}{
		{"saturday", func() BookingRequest { return bookingAt(saturday, 60) }, KindNotWorkingDay},
		{"non-working day wins over lunch", func() BookingRequest { return bookingAt(wednesday, 60) }, KindNotWorkingDay},
		{"before opening", func() BookingRequest { return bookingAt(thursday(7, 30), 60) }, KindOutsideWorkingHours},
		{"past closing", func() BookingRequest { return bookingAt(thursday(17, 30), 60) }, KindOutsideWorkingHours},
		{"lunch", func() BookingRequest { return bookingAt(thursday(12, 30), 60) }, KindLunchConflict},
		{"appointment", func() BookingRequest { return bookingAt(thursday(9, 30), 60) }, KindAppointmentConflict},
		{"external", func() BookingRequest { return bookingAt(thursday(15, 0), 30) }, KindExternalConflict},
		{"missing contact", func() BookingRequest {
			r := bookingAt(thursday(14, 0), 60)
			r.ContactID = 0
			return r
		}, KindInvalidRequest},
		{"zero duration", func() BookingRequest { return bookingAt(thursday(14, 0), 0) }, KindInvalidRequest},
		{"unknown clinic", func() BookingRequest {
			r := bookingAt(thursday(14, 0), 60)
			r.ClinicID = 99
			return r
		}, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(4, thursday(9, 0), 60, StatusScheduled)
			f.calendar.blocks = []BusyBlock{{ProfessionalID: 4, Start: thursday(15, 15), End: thursday(15, 45)}}

			_, err := f.booking.Book(context.Background(), tt.req())
			if got := KindOf(err); got != tt.want {
				t.Fatalf("expected %s, got %s (%v)", tt.want, got, err)
			}
			_, total, _ := f.store.List(context.Background(), testClinicID, ListFilter{}, 0, 0)
			if total != 1 {
				t.Errorf("a rejected booking must not be stored, found %d appointments", total)
			}
		})
	}
}

func TestBook_ConflictNamesCommittedAppointment(t *testing.T) {
	f := newFixture(t)
	first, err := f.booking.Book(context.Background(), bookingAt(thursday(14, 0), 60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.booking.Book(context.Background(), bookingAt(thursday(14, 0), 60))
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindAppointmentConflict {
		t.Fatalf("expected appointment conflict, got %v", err)
	}
	if se.Conflict == nil || se.Conflict.AppointmentID != first.ID {
		t.Errorf("expected conflict to name #%d, got %+v", first.ID, se.Conflict)
	}
	if !strings.Contains(se.Error(), "14:00-15:00") {
		t.Errorf("expected the conflicting interval in local time, got %q", se.Error())
	}
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	const workers = 12

	var wg sync.WaitGroup
	var mu sync.Mutex
	var booked []*Appointment
	var conflicts int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.booking.Book(context.Background(), bookingAt(thursday(16, 0), 30))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked = append(booked, a.Appointment)
			case errors.Is(err, ErrAppointmentConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(booked) != 1 {
		t.Fatalf("expected exactly one booking to win, got %d", len(booked))
	}
	if conflicts != workers-1 {
		t.Errorf("expected %d conflicts, got %d", workers-1, conflicts)
	}
	active, _ := f.store.ListActive(context.Background(), 4, DateRange{From: thursday(0, 0), To: thursday(23, 59)})
	if len(active) != 1 {
		t.Errorf("expected one stored appointment, got %d", len(active))
	}
}

func TestBook_PartialExternalDataStillBooks(t *testing.T) {
	f := newFixture(t)
	f.calendar.err = errors.New("unreachable")
	booked, err := f.booking.Book(context.Background(), bookingAt(thursday(10, 0), 60))
	if err != nil {
		t.Fatalf("external failures must not block booking: %v", err)
	}
	if !booked.Partial {
		t.Error("expected the booking to be marked partial")
	}
	if len(booked.Warnings) != 1 || !strings.HasPrefix(booked.Warnings[0], string(KindPartialExternalData)) {
		t.Errorf("expected a partial external data warning, got %v", booked.Warnings)
	}

	moved, err := f.booking.Reschedule(context.Background(), RescheduleRequest{
		ClinicID: testClinicID, AppointmentID: booked.ID, Start: thursday(14, 0),
	})
	if err != nil {
		t.Fatalf("external failures must not block rescheduling: %v", err)
	}
	if !moved.Partial || len(moved.Warnings) != 1 {
		t.Errorf("expected the reschedule to be marked partial, got %+v", moved)
	}

	f.calendar.mu.Lock()
	f.calendar.err = nil
	f.calendar.mu.Unlock()
	moved, err = f.booking.Reschedule(context.Background(), RescheduleRequest{
		ClinicID: testClinicID, AppointmentID: booked.ID, Start: thursday(15, 0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.Partial || moved.Warnings != nil {
		t.Errorf("expected a complete validation once the calendar answers, got %+v", moved)
	}
}

func TestBook_CommitCalendarBypassesSlotCalendar(t *testing.T) {
	f := newFixture(t)
	fresh := &fakeCalendar{blocks: []BusyBlock{{ProfessionalID: 4, Start: thursday(10, 0), End: thursday(11, 0)}}}
	c := NewBookingCoordinator(f.rules, f.store, f.detector, nopLogger(),
		WithBookingClock(func() time.Time { return fixedNow }), WithCommitCalendar(fresh))

	avail, err := f.slots.FindSlots(context.Background(), query(60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	offered := false
	for _, s := range avail.Slots {
		if s.Start.Equal(thursday(10, 0)) {
			offered = true
		}
	}
	if !offered {
		t.Fatal("expected the slot finder to offer 10:00 from its own calendar")
	}

	slotCalls := f.calendar.calls
	_, err = c.Book(context.Background(), bookingAt(thursday(10, 0), 60))
	if KindOf(err) != KindExternalConflict {
		t.Fatalf("expected the commit calendar to reject 10:00, got %v", err)
	}
	if fresh.calls == 0 {
		t.Error("expected the commit calendar to be read")
	}
	if f.calendar.calls != slotCalls {
		t.Errorf("expected the commit path to skip the slot calendar, got %d extra calls", f.calendar.calls-slotCalls)
	}
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (lock.Unlock, error) {
	return nil, lock.ErrNotAcquired
}

func TestBook_LockNotAcquired(t *testing.T) {
	f := newFixture(t)
	c := NewBookingCoordinator(f.rules, f.store, f.detector, nopLogger(), WithLocker(failingLocker{}))
	_, err := c.Book(context.Background(), bookingAt(thursday(10, 0), 60))
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
}

func TestReschedule_SameInterval(t *testing.T) {
	f := newFixture(t)
	a := &Appointment{ID: 7, ClinicID: testClinicID, ProfessionalID: 4, ContactID: 100,
		Start: thursday(10, 0), DurationMinutes: 60, Status: StatusScheduled}
	f.store.Seed(a)

	moved, err := f.booking.Reschedule(context.Background(), RescheduleRequest{
		ClinicID: testClinicID, AppointmentID: 7, Start: thursday(10, 0),
	})
	if err != nil {
		t.Fatalf("rescheduling onto its own slot must succeed: %v", err)
	}
	if moved.ID != 7 || moved.DurationMinutes != 60 {
		t.Errorf("unexpected appointment %+v", moved)
	}
}

func TestReschedule_Overlapping(t *testing.T) {
	f := newFixture(t)
	a := f.seed(4, thursday(10, 0), 60, StatusScheduled)
	moved, err := f.booking.Reschedule(context.Background(), RescheduleRequest{
		ClinicID: testClinicID, AppointmentID: a.ID, Start: thursday(10, 30), DurationMinutes: 90,
	})
	if err != nil {
		t.Fatalf("a reschedule overlapping only its own slot must succeed: %v", err)
	}
	if moved.DurationMinutes != 90 || !moved.Start.Equal(thursday(10, 30)) {
		t.Errorf("unexpected appointment %+v", moved)
	}
}

func TestReschedule_Rejections(t *testing.T) {
	f := newFixture(t)
	a := f.seed(4, thursday(10, 0), 60, StatusScheduled)
	other := f.seed(4, thursday(14, 0), 60, StatusConfirmed)
	cancelled := f.seed(4, thursday(16, 0), 60, StatusCancelled)

	tests := []struct {
		name string
		req  RescheduleRequest
		want ErrorKind
	}{
		{"onto another appointment", RescheduleRequest{AppointmentID: a.ID, Start: thursday(14, 30)}, KindAppointmentConflict},
		{"onto lunch", RescheduleRequest{AppointmentID: a.ID, Start: thursday(11, 30)}, KindLunchConflict},
		{"onto saturday", RescheduleRequest{AppointmentID: a.ID, Start: time.Date(2024, 1, 20, 9, 0, 0, 0, saoPaulo)}, KindNotWorkingDay},
		{"cancelled appointment", RescheduleRequest{AppointmentID: cancelled.ID, Start: thursday(8, 0)}, KindInvalidTransition},
		{"unknown appointment", RescheduleRequest{AppointmentID: 999, Start: thursday(8, 0)}, KindNotFound},
		{"missing start", RescheduleRequest{AppointmentID: a.ID}, KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ClinicID = testClinicID
			_, err := f.booking.Reschedule(context.Background(), tt.req)
			if got := KindOf(err); got != tt.want {
				t.Fatalf("expected %s, got %s (%v)", tt.want, got, err)
			}
		})
	}

	var se *Error
	_, err := f.booking.Reschedule(context.Background(), RescheduleRequest{ClinicID: testClinicID, AppointmentID: a.ID, Start: thursday(14, 30)})
	if !errors.As(err, &se) || se.Conflict == nil || se.Conflict.AppointmentID != other.ID {
		t.Errorf("expected conflict with #%d, got %v", other.ID, err)
	}
	unchanged, _ := f.store.GetByID(context.Background(), testClinicID, a.ID)
	if !unchanged.Start.Equal(thursday(10, 0)) {
		t.Error("a rejected reschedule must leave the appointment untouched")
	}
}

func TestReschedule_UsesCurrentRules(t *testing.T) {
	f := newFixture(t)
	a := f.seed(4, thursday(10, 0), 60, StatusScheduled)
	f.src.PutRaw(testClinicID, []byte(`{
		"timezone": "America/Sao_Paulo",
		"workingDays": ["monday", "friday"],
		"workingHours": {"start": "08:00", "end": "18:00"}
	}`))

	_, err := f.booking.Reschedule(context.Background(), RescheduleRequest{ClinicID: testClinicID, AppointmentID: a.ID, Start: thursday(10, 0)})
	if !errors.Is(err, ErrNotWorkingDay) {
		t.Fatalf("expected the new rules to apply, got %v", err)
	}
}

func TestCancel_FreesSlot(t *testing.T) {
	f := newFixture(t)
	a, err := f.booking.Book(context.Background(), bookingAt(thursday(10, 0), 60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancelled, err := f.booking.Cancel(context.Background(), testClinicID, a.ID, "patient request")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancellationReason != "patient request" {
		t.Errorf("unexpected appointment %+v", cancelled)
	}
	if _, err := f.booking.Book(context.Background(), bookingAt(thursday(10, 0), 60)); err != nil {
		t.Fatalf("cancelled slot should be bookable again: %v", err)
	}
	if _, err := f.booking.Cancel(context.Background(), testClinicID, a.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancelling twice should be an invalid transition, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	a := f.seed(4, thursday(10, 0), 60, StatusScheduled)

	got, err := f.booking.UpdateStatus(context.Background(), testClinicID, a.ID, StatusConfirmed)
	if err != nil || got.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %+v, %v", got, err)
	}
	if _, err := f.booking.UpdateStatus(context.Background(), testClinicID, a.ID, StatusScheduled); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
	if _, err := f.booking.UpdateStatus(context.Background(), testClinicID, a.ID, "noshow"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected invalid request, got %v", err)
	}
	got, err = f.booking.UpdateStatus(context.Background(), testClinicID, a.ID, StatusCompleted)
	if err != nil || got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v, %v", got, err)
	}
	if _, err := f.booking.Reschedule(context.Background(), RescheduleRequest{ClinicID: testClinicID, AppointmentID: a.ID, Start: thursday(14, 0)}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed appointments cannot be rescheduled, got %v", err)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	f.seed(4, thursday(10, 0), 60, StatusScheduled)
	f.seed(4, thursday(8, 0), 60, StatusCancelled)
	f.seed(5, thursday(9, 0), 60, StatusConfirmed)

	items, total, err := f.booking.List(context.Background(), testClinicID, ListFilter{ProfessionalID: 4}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 || !items[0].Start.Equal(thursday(8, 0)) {
		t.Errorf("unexpected listing: total=%d items=%d", total, len(items))
	}

	items, total, err = f.booking.List(context.Background(), testClinicID, ListFilter{Status: StatusConfirmed}, 10, 0)
	if err != nil || total != 1 || items[0].ProfessionalID != 5 {
		t.Errorf("unexpected status filter result: %d, %v", total, err)
	}

	if _, _, err := f.booking.List(context.Background(), testClinicID, ListFilter{Status: "bogus"}, 10, 0); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected invalid request, got %v", err)
	}
	bad := ListFilter{From: thursday(12, 0), To: thursday(8, 0)}
	if _, _, err := f.booking.List(context.Background(), testClinicID, bad, 10, 0); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected invalid request, got %v", err)
	}
}

func TestAttemptTransitions(t *testing.T) {
	a := newAttempt(nopLogger())
	if err := a.to(stateCommitted); err == nil {
		t.Error("proposed cannot jump to committed")
	}
	if err := a.to(stateValidated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.to(stateCommitted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.to(stateRejected); err == nil {
		t.Error("committed is terminal")
	}
}
