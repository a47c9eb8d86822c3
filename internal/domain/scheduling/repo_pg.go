package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/scheduler/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// storePG keeps appointments in PostgreSQL. Writes run in SERIALIZABLE
// transactions and the appointments table carries an exclusion constraint on
// active rows, so the store is isolated on its own.
type storePG struct {
	pool     *pgxpool.Pool
	attempts int
}

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool, attempts: db.DefaultTxAttempts}
}

func (s *storePG) Isolated() bool { return true }

func (s *storePG) ListActive(ctx context.Context, professionalID int64, r DateRange) ([]*Appointment, error) {
	return listActive(ctx, s.pool, professionalID, r)
}

func (s *storePG) GetByID(ctx context.Context, clinicID, id int64) (*Appointment, error) {
	return getByID(ctx, s.pool, clinicID, id)
}

func (s *storePG) List(ctx context.Context, clinicID int64, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	return list(ctx, s.pool, clinicID, f, limit, offset)
}

func (s *storePG) WithinTx(ctx context.Context, fn func(tx AppointmentTx) error) error {
	err := db.WithSerializableTx(ctx, s.pool, s.attempts, func(tx pgx.Tx) error {
		return fn(&txPG{q: tx})
	})
	if err != nil && db.IsOverlapViolation(err) {
		return &Error{Kind: KindAppointmentConflict, Message: "overlaps an existing appointment", Err: err}
	}
	return err
}

type txPG struct{ q queryable }

func (t *txPG) ListActive(ctx context.Context, professionalID int64, r DateRange) ([]*Appointment, error) {
	return listActive(ctx, t.q, professionalID, r)
}

func (t *txPG) GetByID(ctx context.Context, clinicID, id int64) (*Appointment, error) {
	return getByID(ctx, t.q, clinicID, id)
}

func (t *txPG) List(ctx context.Context, clinicID int64, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	return list(ctx, t.q, clinicID, f, limit, offset)
}

func (t *txPG) Insert(ctx context.Context, a *Appointment) error {
	a.Start = a.Start.UTC()
	err := t.q.QueryRow(ctx, `
		INSERT INTO appointments (clinic_id, professional_id, contact_id, start_at, end_at,
			duration_minutes, status, title, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at, updated_at`,
		a.ClinicID, a.ProfessionalID, a.ContactID, a.Start, a.End(),
		a.DurationMinutes, a.Status, a.Title, a.Notes,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *txPG) Update(ctx context.Context, a *Appointment) error {
	a.Start = a.Start.UTC()
	err := t.q.QueryRow(ctx, `
		UPDATE appointments SET start_at=$3, end_at=$4, duration_minutes=$5, status=$6,
			title=$7, notes=$8, cancellation_reason=$9, updated_at=NOW()
		WHERE id = $1 AND clinic_id = $2
		RETURNING updated_at`,
		a.ID, a.ClinicID, a.Start, a.End(), a.DurationMinutes, a.Status,
		a.Title, a.Notes, a.CancellationReason,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return newErrorf(KindNotFound, "appointment %d not found", a.ID)
	}
	if err != nil {
		return fmt.Errorf("update appointment %d: %w", a.ID, err)
	}
	return nil
}

const apptCols = `id, clinic_id, professional_id, contact_id, start_at, duration_minutes,
	status, title, notes, cancellation_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ClinicID, &a.ProfessionalID, &a.ContactID, &a.Start, &a.DurationMinutes,
		&a.Status, &a.Title, &a.Notes, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Start = a.Start.UTC()
	return &a, nil
}

func listActive(ctx context.Context, q queryable, professionalID int64, r DateRange) ([]*Appointment, error) {
	rows, err := q.Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE professional_id = $1 AND status IN ('scheduled','confirmed','completed')
			AND start_at < $3 AND end_at > $2
		ORDER BY start_at`, professionalID, r.From.UTC(), r.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("list appointments of professional %d: %w", professionalID, err)
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func getByID(ctx context.Context, q queryable, clinicID, id int64) (*Appointment, error) {
	a, err := scanAppointment(q.QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1 AND clinic_id = $2`, id, clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, newErrorf(KindNotFound, "appointment %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %d: %w", id, err)
	}
	return a, nil
}

func list(ctx context.Context, q queryable, clinicID int64, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := []string{"clinic_id = $1"}
	args := []interface{}{clinicID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ProfessionalID != 0 {
		add("professional_id = $%d", f.ProfessionalID)
	}
	if f.ContactID != 0 {
		add("contact_id = $%d", f.ContactID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("end_at > $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("start_at < $%d", f.To.UTC())
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := `SELECT ` + apptCols + ` FROM appointments WHERE ` + whereSQL +
		fmt.Sprintf(` ORDER BY start_at, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := q.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}
