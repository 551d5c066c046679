package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

func TestScheduleTransactionRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InBusinessTransaction(ctx, "b1", func(ctx context.Context, tx store.ScheduleTx) error {
		if _, err := tx.CreateRule(ctx, domain.WeeklyRule{BusinessID: "b1", DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", IsAvailable: true}); err != nil {
			return err
		}
		rules, err := tx.ListRules(ctx, "b1", false)
		if err != nil {
			return err
		}
		if len(rules) != 1 {
			t.Fatalf("rules inside tx = %d, want 1", len(rules))
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	rules, err := s.ListRules(ctx, "b1", false)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("rules after rollback = %+v, want none", rules)
	}
}

func TestExceptionUniquePerDate(t *testing.T) {
	s := New()
	ctx := context.Background()

	create := func(date string) error {
		return s.InBusinessTransaction(ctx, "b1", func(ctx context.Context, tx store.ScheduleTx) error {
			_, err := tx.CreateException(ctx, domain.AvailabilityException{BusinessID: "b1", Date: date, Hours: domain.ClosedAllDay()})
			return err
		})
	}

	if err := create("2026-12-25"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := create("2026-12-25"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("second create err = %v, want ErrDuplicate", err)
	}
	if err := create("2026-12-26"); err != nil {
		t.Fatalf("other date: %v", err)
	}

	got, err := s.ListExceptions(ctx, "b1", "2026-12-26", "2026-12-31")
	if err != nil {
		t.Fatalf("ListExceptions: %v", err)
	}
	if len(got) != 1 || got[0].Date != "2026-12-26" {
		t.Fatalf("ListExceptions = %+v", got)
	}
}

func TestFindOverlappingHalfOpenAndExclusion(t *testing.T) {
	s := New()
	ctx := context.Background()

	var booked domain.Appointment
	err := s.InBookingTransaction(ctx, func(ctx context.Context, tx store.BookingTx) error {
		var err error
		booked, err = tx.InsertAppointment(ctx, domain.Appointment{
			BusinessID: "b1", ServiceID: "s1", AppointmentDate: "2026-11-02",
			StartTime: "10:00", EndTime: "11:00", Status: domain.StatusConfirmed,
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertAppointment(ctx, domain.Appointment{
			BusinessID: "b1", ServiceID: "s1", AppointmentDate: "2026-11-02",
			StartTime: "12:00", EndTime: "13:00", Status: domain.StatusCancelled,
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	cases := []struct {
		name       string
		start, end string
		exclude    uuid.UUID
		want       int
	}{
		{name: "partial overlap", start: "10:30", end: "11:30", want: 1},
		{name: "identical", start: "10:00", end: "11:00", want: 1},
		{name: "touching end", start: "11:00", end: "12:00", want: 0},
		{name: "touching start", start: "09:00", end: "10:00", want: 0},
		{name: "cancelled does not block", start: "12:00", end: "13:00", want: 0},
		{name: "excluded self", start: "10:00", end: "11:00", exclude: booked.ID, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.FindOverlapping(ctx, "b1", "2026-11-02", tc.start, tc.end, tc.exclude)
			if err != nil {
				t.Fatalf("FindOverlapping: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("len = %d, want %d (%+v)", len(got), tc.want, got)
			}
		})
	}
}

func TestBookingTransactionsAreSerialised(t *testing.T) {
	s := New()
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InBookingTransaction(ctx, func(ctx context.Context, tx store.BookingTx) error {
				found, err := tx.FindOverlapping(ctx, "b1", "2026-11-02", "14:00", "15:00", uuid.Nil)
				if err != nil {
					return err
				}
				if len(found) > 0 {
					return store.ErrConflict
				}
				_, err = tx.InsertAppointment(ctx, domain.Appointment{
					BusinessID: "b1", ServiceID: "s1", AppointmentDate: "2026-11-02",
					StartTime: "14:00", EndTime: "15:00", Status: domain.StatusPending,
				})
				return err
			})
			if err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if committed != 1 {
		t.Fatalf("committed = %d, want 1", committed)
	}
}

func TestFindServiceScopedToBusiness(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.SaveService(ctx, domain.Service{ID: "s1", BusinessID: "b1", Name: "Cut", DurationMinutes: 30, IsActive: true}); err != nil {
		t.Fatalf("SaveService: %v", err)
	}
	if _, err := s.FindService(ctx, "b1", "s1"); err != nil {
		t.Fatalf("FindService: %v", err)
	}
	if _, err := s.FindService(ctx, "b2", "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindService other business err = %v, want ErrNotFound", err)
	}
}

func TestSaveServiceKeepsBusinessesApart(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.SaveService(ctx, domain.Service{ID: "s1", BusinessID: "b1", Name: "Cut", DurationMinutes: 30, IsActive: true}); err != nil {
		t.Fatalf("SaveService b1: %v", err)
	}
	if err := s.SaveService(ctx, domain.Service{ID: "s1", BusinessID: "b2", Name: "Massage", DurationMinutes: 90, IsActive: false}); err != nil {
		t.Fatalf("SaveService b2: %v", err)
	}

	a, err := s.FindService(ctx, "b1", "s1")
	if err != nil {
		t.Fatalf("FindService b1: %v", err)
	}
	if !a.IsActive || a.DurationMinutes != 30 || a.Name != "Cut" {
		t.Fatalf("b1 service = %+v, changed by b2's write", a)
	}
	b, err := s.FindService(ctx, "b2", "s1")
	if err != nil {
		t.Fatalf("FindService b2: %v", err)
	}
	if b.IsActive || b.DurationMinutes != 90 {
		t.Fatalf("b2 service = %+v", b)
	}

	list, err := s.ListServices(ctx, "b1", false)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListServices b1 = %v, %v", list, err)
	}
}
