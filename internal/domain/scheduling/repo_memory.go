package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps appointments in process memory. Transactions are atomic
// but not isolated from each other, so Isolated reports false.
type MemoryStore struct {
	mu     sync.RWMutex
	appts  map[int64]*Appointment
	nextID int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appts: make(map[int64]*Appointment), now: time.Now}
}

// Seed inserts appointments as-is, assigning ids to those without one.
func (m *MemoryStore) Seed(appts ...*Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range appts {
		cp := *a
		if cp.ID == 0 {
			m.nextID++
			cp.ID = m.nextID
		} else if cp.ID > m.nextID {
			m.nextID = cp.ID
		}
		cp.Start = cp.Start.UTC()
		m.appts[cp.ID] = &cp
		a.ID = cp.ID
	}
}

func (m *MemoryStore) Isolated() bool { return false }

func (m *MemoryStore) ListActive(_ context.Context, professionalID int64, r DateRange) ([]*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listActiveLocked(professionalID, r, nil), nil
}

func (m *MemoryStore) listActiveLocked(professionalID int64, r DateRange, pending map[int64]*Appointment) []*Appointment {
	rng := Interval{Start: r.From, End: r.To}
	var out []*Appointment
	consider := func(a *Appointment) {
		if a.ProfessionalID != professionalID || a.Status == StatusCancelled {
			return
		}
		if !a.Interval().Overlaps(rng) {
			return
		}
		cp := *a
		out = append(out, &cp)
	}
	for id, a := range m.appts {
		if p, ok := pending[id]; ok {
			a = p
		}
		consider(a)
	}
	for id, p := range pending {
		if _, ok := m.appts[id]; !ok {
			consider(p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *MemoryStore) GetByID(_ context.Context, clinicID, id int64) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok || a.ClinicID != clinicID {
		return nil, newErrorf(KindNotFound, "appointment %d not found", id)
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, clinicID int64, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Appointment
	for _, a := range m.appts {
		if a.ClinicID != clinicID || !matchesFilter(a, f) {
			continue
		}
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Start.Equal(all[j].Start) {
			return all[i].ID < all[j].ID
		}
		return all[i].Start.Before(all[j].Start)
	})
	total := len(all)
	if offset >= total {
		return []*Appointment{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func matchesFilter(a *Appointment, f ListFilter) bool {
	if f.ProfessionalID != 0 && a.ProfessionalID != f.ProfessionalID {
		return false
	}
	if f.ContactID != 0 && a.ContactID != f.ContactID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && !a.End().After(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.Start.Before(f.To) {
		return false
	}
	return true
}

// WithinTx buffers writes and applies them only when fn succeeds.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx AppointmentTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{store: m, pending: make(map[int64]*Appointment)}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range tx.pending {
		m.appts[id] = a
	}
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	pending map[int64]*Appointment
}

func (t *memoryTx) ListActive(_ context.Context, professionalID int64, r DateRange) ([]*Appointment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.listActiveLocked(professionalID, r, t.pending), nil
}

func (t *memoryTx) GetByID(ctx context.Context, clinicID, id int64) (*Appointment, error) {
	if a, ok := t.pending[id]; ok && a.ClinicID == clinicID {
		cp := *a
		return &cp, nil
	}
	return t.store.GetByID(ctx, clinicID, id)
}

func (t *memoryTx) List(ctx context.Context, clinicID int64, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	return t.store.List(ctx, clinicID, f, limit, offset)
}

func (t *memoryTx) Insert(_ context.Context, a *Appointment) error {
	t.store.mu.Lock()
	t.store.nextID++
	a.ID = t.store.nextID
	now := t.store.now().UTC()
	t.store.mu.Unlock()

	a.Start = a.Start.UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	t.pending[a.ID] = &cp
	return nil
}

func (t *memoryTx) Update(ctx context.Context, a *Appointment) error {
	if _, err := t.GetByID(ctx, a.ClinicID, a.ID); err != nil {
		return err
	}
	a.Start = a.Start.UTC()
	a.UpdatedAt = t.store.now().UTC()
	cp := *a
	t.pending[a.ID] = &cp
	return nil
}
