package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

// openTestSchema opens a pool whose search_path points at a fresh schema with
// every migration applied. The schema is dropped on cleanup.
func openTestSchema(t *testing.T) *bun.DB {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("APPOINTLY_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("APPOINTLY_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := Open(ctx, databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(admin)
	})

	schema := "appointly_test_" + randomHex(t, 8)
	if _, err := admin.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	u, err := url.Parse(databaseURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	db, err := Open(ctx, u.String(), PoolConfig{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("Open schema pool: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	if err := Migrate(db.DB, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	return db
}

func TestPostgresIntegration_ScheduleAndServices(t *testing.T) {
	db := openTestSchema(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schedule := NewScheduleRepo(db)
	services := NewServiceRepo(db)

	if err := services.SaveService(ctx, domain.Service{ID: "s1", BusinessID: "b1", Name: "Cut", DurationMinutes: 45, BufferMinutes: 15, IsActive: true}); err != nil {
		t.Fatalf("SaveService: %v", err)
	}
	svc, err := services.FindService(ctx, "b1", "s1")
	if err != nil {
		t.Fatalf("FindService: %v", err)
	}
	if svc.DurationMinutes != 45 || svc.BufferMinutes != 15 {
		t.Fatalf("service = %+v", svc)
	}
	if _, err := services.FindService(ctx, "b2", "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindService other business err = %v, want ErrNotFound", err)
	}

	// b2 reusing the id gets its own row and leaves b1's untouched.
	if err := services.SaveService(ctx, domain.Service{ID: "s1", BusinessID: "b2", Name: "Massage", DurationMinutes: 90, IsActive: false}); err != nil {
		t.Fatalf("SaveService b2: %v", err)
	}
	svc, err = services.FindService(ctx, "b1", "s1")
	if err != nil {
		t.Fatalf("FindService b1 after b2 write: %v", err)
	}
	if !svc.IsActive || svc.DurationMinutes != 45 {
		t.Fatalf("b1 service = %+v, changed by b2's write", svc)
	}
	if other, err := services.FindService(ctx, "b2", "s1"); err != nil || other.DurationMinutes != 90 {
		t.Fatalf("FindService b2 = %+v, %v", other, err)
	}

	err = schedule.InBusinessTransaction(ctx, "b1", func(ctx context.Context, tx store.ScheduleTx) error {
		if _, err := tx.CreateRule(ctx, domain.WeeklyRule{BusinessID: "b1", DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", IsAvailable: true}); err != nil {
			return err
		}
		if _, err := tx.CreateRule(ctx, domain.WeeklyRule{BusinessID: "b1", DayOfWeek: 1, StartTime: "13:00", EndTime: "17:00", IsAvailable: true}); err != nil {
			return err
		}
		_, err := tx.CreateException(ctx, domain.AvailabilityException{BusinessID: "b1", Date: "2026-12-25", Hours: domain.ClosedAllDay(), Reason: "Holiday"})
		return err
	})
	if err != nil {
		t.Fatalf("InBusinessTransaction: %v", err)
	}

	rules, err := schedule.ListRulesForDay(ctx, "b1", 1)
	if err != nil {
		t.Fatalf("ListRulesForDay: %v", err)
	}
	if len(rules) != 2 || rules[0].StartTime != "09:00" || rules[1].StartTime != "13:00" {
		t.Fatalf("rules = %+v", rules)
	}

	err = schedule.InBusinessTransaction(ctx, "b1", func(ctx context.Context, tx store.ScheduleTx) error {
		_, err := tx.CreateException(ctx, domain.AvailabilityException{BusinessID: "b1", Date: "2026-12-25", Hours: domain.OpenWeeklyHours()})
		return err
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate exception err = %v, want ErrDuplicate", err)
	}

	ex, err := schedule.GetExceptionByDate(ctx, "b1", "2026-12-25")
	if err != nil {
		t.Fatalf("GetExceptionByDate: %v", err)
	}
	if ex.Hours.IsAvailable() || ex.Reason != "Holiday" {
		t.Fatalf("exception = %+v", ex)
	}

	var removed int
	err = schedule.InBusinessTransaction(ctx, "b1", func(ctx context.Context, tx store.ScheduleTx) error {
		var err error
		removed, err = tx.DeleteExceptions(ctx, "b1", "2026-12-01", "")
		return err
	})
	if err != nil || removed != 1 {
		t.Fatalf("DeleteExceptions = %d, %v; want 1, nil", removed, err)
	}
}

func TestPostgresIntegration_BookingGuard(t *testing.T) {
	db := openTestSchema(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := NewAppointmentRepo(db)

	first, err := insertInTx(ctx, repo, domain.Appointment{
		BusinessID:      "b1",
		ServiceID:       "s1",
		AppointmentDate: "2026-11-02",
		StartTime:       "10:00",
		EndTime:         "11:00",
		Status:          domain.StatusConfirmed,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.ID == uuid.Nil {
		t.Fatalf("expected generated id")
	}

	overlaps, err := repo.FindOverlapping(ctx, "b1", "2026-11-02", "10:30", "11:30", uuid.Nil)
	if err != nil {
		t.Fatalf("FindOverlapping: %v", err)
	}
	if len(overlaps) != 1 || overlaps[0].AppointmentID != first.ID {
		t.Fatalf("overlaps = %+v", overlaps)
	}

	overlaps, err = repo.FindOverlapping(ctx, "b1", "2026-11-02", "10:30", "11:30", first.ID)
	if err != nil || len(overlaps) != 0 {
		t.Fatalf("FindOverlapping excluding self = %+v, %v", overlaps, err)
	}

	adjacent, err := repo.FindOverlapping(ctx, "b1", "2026-11-02", "11:00", "12:00", uuid.Nil)
	if err != nil || len(adjacent) != 0 {
		t.Fatalf("adjacent overlaps = %+v, %v", adjacent, err)
	}

	booked, err := repo.ListBooked(ctx, "b1", "2026-11-01", "2026-11-30")
	if err != nil || len(booked) != 1 {
		t.Fatalf("ListBooked = %+v, %v", booked, err)
	}

	// Two writers that both observe an empty slot: exactly one may commit.
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		results  = make([]error, 2)
		observed sync.WaitGroup
	)
	observed.Add(2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = repo.InBookingTransaction(ctx, func(ctx context.Context, tx store.BookingTx) error {
				found, err := tx.FindOverlapping(ctx, "b1", "2026-11-02", "14:00", "15:00", uuid.Nil)
				observed.Done()
				if err != nil {
					return err
				}
				if len(found) > 0 {
					return store.ErrConflict
				}
				observed.Wait()
				_, err = tx.InsertAppointment(ctx, domain.Appointment{
					BusinessID:      "b1",
					ServiceID:       "s1",
					AppointmentDate: "2026-11-02",
					StartTime:       "14:00",
					EndTime:         "15:00",
					Status:          domain.StatusPending,
				})
				return err
			})
		}(i)
	}
	close(start)
	wg.Wait()

	committed := 0
	for _, err := range results {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, store.ErrSerialization), errors.Is(err, store.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if committed != 1 {
		t.Fatalf("committed = %d, want 1 (results %v)", committed, results)
	}
}

func insertInTx(ctx context.Context, repo *AppointmentRepo, appt domain.Appointment) (domain.Appointment, error) {
	var out domain.Appointment
	err := repo.InBookingTransaction(ctx, func(ctx context.Context, tx store.BookingTx) error {
		var err error
		out, err = tx.InsertAppointment(ctx, appt)
		return err
	})
	return out, err
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}
