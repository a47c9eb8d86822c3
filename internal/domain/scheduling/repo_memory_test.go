package scheduling

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_WithinTx_RollsBack(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(tx AppointmentTx) error {
		if err := tx.Insert(context.Background(), &Appointment{ClinicID: 1, ProfessionalID: 4, Start: thursday(10, 0), DurationMinutes: 30, Status: StatusScheduled}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, total, _ := s.List(context.Background(), 1, ListFilter{}, 0, 0); total != 0 {
		t.Errorf("expected nothing stored after rollback, got %d", total)
	}
}

func TestMemoryStore_TxSeesOwnWrites(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithinTx(context.Background(), func(tx AppointmentTx) error {
		a := &Appointment{ClinicID: 1, ProfessionalID: 4, Start: thursday(10, 0), DurationMinutes: 30, Status: StatusScheduled}
		if err := tx.Insert(context.Background(), a); err != nil {
			return err
		}
		active, err := tx.ListActive(context.Background(), 4, DateRange{From: thursday(0, 0), To: thursday(23, 0)})
		if err != nil {
			return err
		}
		if len(active) != 1 {
			t.Errorf("expected the pending insert to be visible, got %d", len(active))
		}
		outside, _ := s.ListActive(context.Background(), 4, DateRange{From: thursday(0, 0), To: thursday(23, 0)})
		if len(outside) != 0 {
			t.Errorf("pending insert leaked outside the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryStore_ListActive(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(
		&Appointment{ClinicID: 1, ProfessionalID: 4, Start: thursday(9, 0), DurationMinutes: 60, Status: StatusScheduled},
		&Appointment{ClinicID: 1, ProfessionalID: 4, Start: thursday(10, 0), DurationMinutes: 60, Status: StatusCancelled},
		&Appointment{ClinicID: 1, ProfessionalID: 4, Start: thursday(11, 0), DurationMinutes: 60, Status: StatusCompleted},
		&Appointment{ClinicID: 1, ProfessionalID: 5, Start: thursday(9, 0), DurationMinutes: 60, Status: StatusScheduled},
	)
	got, err := s.ListActive(context.Background(), 4, DateRange{From: thursday(10, 0), To: thursday(18, 0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !got[0].Start.Equal(thursday(11, 0)) {
		t.Errorf("expected only the completed 11:00 appointment, got %d rows", len(got))
	}
}

func TestMemoryStore_GetByID_WrongClinic(t *testing.T) {
	s := NewMemoryStore()
	a := &Appointment{ClinicID: 1, ProfessionalID: 4, Start: thursday(9, 0), DurationMinutes: 60, Status: StatusScheduled}
	s.Seed(a)
	if _, err := s.GetByID(context.Background(), 2, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found across clinics, got %v", err)
	}
}

func TestMemoryStore_ListPagination(t *testing.T) {
	s := NewMemoryStore()
	for h := 8; h < 13; h++ {
		s.Seed(&Appointment{ClinicID: 1, ProfessionalID: 4, Start: thursday(h, 0), DurationMinutes: 30, Status: StatusScheduled})
	}
	page, total, err := s.List(context.Background(), 1, ListFilter{}, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(page) != 2 || !page[0].Start.Equal(thursday(10, 0)) {
		t.Errorf("unexpected page: total=%d len=%d", total, len(page))
	}
	page, _, _ = s.List(context.Background(), 1, ListFilter{}, 2, 10)
	if len(page) != 0 {
		t.Errorf("expected an empty page past the end, got %d", len(page))
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WithinTx(ctx, func(AppointmentTx) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
