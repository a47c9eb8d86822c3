package scheduling

import (
	"context"

	"github.com/clinicore/scheduler/internal/domain/clinic"
)

// AppointmentReader reads appointments. ListActive returns the scheduled,
// confirmed and completed appointments of a professional that intersect the
// range; the caller decides which completed ones still block.
type AppointmentReader interface {
	ListActive(ctx context.Context, professionalID int64, r DateRange) ([]*Appointment, error)
	GetByID(ctx context.Context, clinicID, id int64) (*Appointment, error)
	List(ctx context.Context, clinicID int64, f ListFilter, limit, offset int) ([]*Appointment, int, error)
}

type AppointmentWriter interface {
	Insert(ctx context.Context, a *Appointment) error
	Update(ctx context.Context, a *Appointment) error
}

// AppointmentTx is the view of the store inside a transaction.
type AppointmentTx interface {
	AppointmentReader
	AppointmentWriter
}

// Store persists appointments. WithinTx runs fn atomically; Isolated reports
// whether concurrent transactions on the same professional are serialized by
// the store itself. When it is false the caller must serialize them.
type Store interface {
	AppointmentReader
	WithinTx(ctx context.Context, fn func(tx AppointmentTx) error) error
	Isolated() bool
}

// ExternalCalendar lists read-only busy blocks of a professional.
type ExternalCalendar interface {
	ListBusyBlocks(ctx context.Context, professionalID int64, r DateRange) ([]BusyBlock, error)
}

// RuleSource resolves the current clinic schedule.
type RuleSource interface {
	GetSchedule(ctx context.Context, clinicID int64) (*clinic.Schedule, error)
}
