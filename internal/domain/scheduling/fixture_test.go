package scheduling

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/clinicore/scheduler/internal/domain/clinic"
)

const testClinicID int64 = 1

// Mon, Tue, Thu and Fri from 08:00 to 18:00 with lunch from 12:00 to 13:00.
const testSettings = `{
	"timezone": "America/Sao_Paulo",
	"workingDays": ["monday", "tuesday", "thursday", "friday"],
	"workingHours": {"start": "08:00", "end": "18:00"},
	"hasLunchBreak": true,
	"lunchBreak": {"start": "12:00", "end": "13:00"}
}`

var saoPaulo = mustLocation("America/Sao_Paulo")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// thursday returns h:m local time on Thursday 2024-01-18.
func thursday(h, m int) time.Time {
	return time.Date(2024, 1, 18, h, m, 0, 0, saoPaulo)
}

// fixedNow precedes every test appointment so completed ones still block.
var fixedNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type fakeCalendar struct {
	mu     sync.Mutex
	blocks []BusyBlock
	err    error
	calls  int
}

func (f *fakeCalendar) ListBusyBlocks(_ context.Context, professionalID int64, r DateRange) ([]BusyBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []BusyBlock
	rng := Interval{Start: r.From, End: r.To}
	for _, b := range f.blocks {
		if b.ProfessionalID == professionalID && rng.Overlaps(Interval{Start: b.Start, End: b.End}) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fixture struct {
	src      *clinic.MemorySource
	rules    *clinic.RuleProvider
	store    *MemoryStore
	calendar *fakeCalendar
	detector *ConflictDetector
	slots    *SlotFinder
	booking  *BookingCoordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := clinic.NewMemorySource()
	src.PutRaw(testClinicID, []byte(testSettings))
	rules := clinic.NewRuleProvider(src, zerolog.Nop())
	store := NewMemoryStore()
	cal := &fakeCalendar{}
	now := func() time.Time { return fixedNow }
	detector := NewConflictDetector(rules, store, cal, zerolog.Nop(), WithDetectorClock(now))
	return &fixture{
		src:      src,
		rules:    rules,
		store:    store,
		calendar: cal,
		detector: detector,
		slots:    NewSlotFinder(rules, detector, zerolog.Nop()),
		booking:  NewBookingCoordinator(rules, store, detector, zerolog.Nop(), WithBookingClock(now)),
	}
}

// seed stores an appointment for professional on Thursday from start for
// minutes and returns it with its assigned id.
func (f *fixture) seed(professionalID int64, start time.Time, minutes int, status string) *Appointment {
	a := &Appointment{
		ClinicID:        testClinicID,
		ProfessionalID:  professionalID,
		ContactID:       100,
		Start:           start,
		DurationMinutes: minutes,
		Status:          status,
		Title:           "Consultation",
	}
	f.store.Seed(a)
	return a
}

func slotLabels(slots []CandidateSlot) map[string]bool {
	out := make(map[string]bool, len(slots))
	for _, s := range slots {
		out[FormatSlot(s, saoPaulo)] = true
	}
	return out
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
