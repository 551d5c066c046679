package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/async"
	"appointly/backend/internal/domain"
	"appointly/backend/internal/notify"
	"appointly/backend/internal/service/availability"
	"appointly/backend/internal/store"
	"appointly/backend/internal/store/memory"
)

// Sunday 2026-11-01 12:00 UTC.
var fixedNow = time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)

const monday = "2026-11-02"

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *recordingSink) Publish(ctx context.Context, ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []notify.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type countingInvalidator struct {
	calls atomic.Int64
}

func (c *countingInvalidator) InvalidateBusiness(ctx context.Context, businessID string) error {
	c.calls.Add(1)
	return nil
}

type fakeValidator struct {
	validate func(ctx context.Context, req availability.BookingRequest) (availability.BookingValidation, error)
}

func (f fakeValidator) ValidateBookingRequest(ctx context.Context, req availability.BookingRequest) (availability.BookingValidation, error) {
	return f.validate(ctx, req)
}

type fixture struct {
	t     *testing.T
	store *memory.Store
	sink  *recordingSink
	inv   *countingInvalidator
	svc   *Service
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	engine := availability.NewEngine(s, s, s, discard(),
		availability.WithClock(func() time.Time { return fixedNow }),
	)
	return newFixtureWith(t, s, engine)
}

func newFixtureWith(t *testing.T, s *memory.Store, v Validator) *fixture {
	t.Helper()
	f := &fixture{t: t, store: s, sink: &recordingSink{}, inv: &countingInvalidator{}}
	f.svc = NewService(v, s, f.inv, f.sink, async.NewRunner(discard(), time.Second), discard())
	f.svc.now = func() time.Time { return fixedNow }

	ctx := context.Background()
	if err := s.SaveService(ctx, domain.Service{ID: "s1", BusinessID: "b1", Name: "Consultation", DurationMinutes: 60, IsActive: true}); err != nil {
		t.Fatalf("SaveService: %v", err)
	}
	err := s.InBusinessTransaction(ctx, "b1", func(ctx context.Context, tx store.ScheduleTx) error {
		_, err := tx.CreateRule(ctx, domain.WeeklyRule{BusinessID: "b1", DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", IsAvailable: true})
		return err
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	return f
}

func (f *fixture) book(date, start string) (domain.Appointment, error) {
	return f.svc.Book(context.Background(), BookInput{
		BusinessID: "b1", ServiceID: "s1", CustomerID: "c1", Date: date, StartTime: start,
	})
}

func (f *fixture) mustBook(date, start string) domain.Appointment {
	f.t.Helper()
	appt, err := f.book(date, start)
	if err != nil {
		f.t.Fatalf("Book(%s %s): %v", date, start, err)
	}
	return appt
}

func asConflict(t *testing.T, err error) *domain.ConflictError {
	t.Helper()
	var cerr *domain.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v (%T), want *domain.ConflictError", err, err)
	}
	return cerr
}

func TestBook(t *testing.T) {
	f := newFixture(t)

	appt := f.mustBook(monday, "10:00")
	f.svc.Wait()

	if appt.ID == uuid.Nil {
		t.Fatal("expected generated id")
	}
	if appt.EndTime != "11:00" {
		t.Fatalf("EndTime = %q, want 11:00", appt.EndTime)
	}
	if appt.Status != domain.StatusPending {
		t.Fatalf("Status = %q, want pending", appt.Status)
	}
	if got := f.inv.calls.Load(); got != 1 {
		t.Fatalf("invalidations = %d, want 1", got)
	}
	if got := f.sink.types(); len(got) != 1 || got[0] != notify.EventBooked {
		t.Fatalf("events = %v, want [%s]", got, notify.EventBooked)
	}
}

func TestBookRefused(t *testing.T) {
	f := newFixture(t)
	f.mustBook(monday, "10:00")

	_, err := f.book(monday, "10:30")
	cerr := asConflict(t, err)
	if cerr.Race {
		t.Fatal("pre-check refusal must not be flagged as a race")
	}
	if len(cerr.Reasons) != 1 || cerr.Reasons[0] != availability.MsgSlotTaken {
		t.Fatalf("Reasons = %v", cerr.Reasons)
	}
	if cerr.Suggestion == nil || cerr.Suggestion.Date != monday || cerr.Suggestion.StartTime != "09:00" {
		t.Fatalf("Suggestion = %+v, want %s 09:00", cerr.Suggestion, monday)
	}
}

func TestBookValidation(t *testing.T) {
	validator := fakeValidator{validate: func(ctx context.Context, req availability.BookingRequest) (availability.BookingValidation, error) {
		t.Fatal("validator must not be reached for malformed input")
		return availability.BookingValidation{}, nil
	}}
	f := newFixtureWith(t, memory.New(), validator)

	cases := []struct {
		name string
		in   BookInput
	}{
		{name: "missing business", in: BookInput{ServiceID: "s1", Date: monday, StartTime: "10:00"}},
		{name: "missing service", in: BookInput{BusinessID: "b1", Date: monday, StartTime: "10:00"}},
		{name: "bad date", in: BookInput{BusinessID: "b1", ServiceID: "s1", Date: "2026-02-30", StartTime: "10:00"}},
		{name: "bad time", in: BookInput{BusinessID: "b1", ServiceID: "s1", Date: monday, StartTime: "9:00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Book(context.Background(), tc.in)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

// Concurrent requests for one slot: at most one commits and every loser gets a
// conflict, whether the pre-check or the transactional guard caught it.
func TestConcurrentBookingsSingleWinner(t *testing.T) {
	f := newFixture(t)

	const clients = 10
	var (
		wg        sync.WaitGroup
		committed atomic.Int64
		conflicts atomic.Int64
		mu        sync.Mutex
		other     error
	)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.book(monday, "14:00")
			var cerr *domain.ConflictError
			switch {
			case err == nil:
				committed.Add(1)
			case errors.As(err, &cerr):
				conflicts.Add(1)
			default:
				mu.Lock()
				other = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	f.svc.Wait()

	if other != nil {
		t.Fatalf("unexpected error: %v", other)
	}
	if committed.Load() != 1 || conflicts.Load() != clients-1 {
		t.Fatalf("committed = %d conflicts = %d, want 1 and %d", committed.Load(), conflicts.Load(), clients-1)
	}
	booked, err := f.store.ListBooked(context.Background(), "b1", monday, monday)
	if err != nil {
		t.Fatalf("ListBooked: %v", err)
	}
	if len(booked) != 1 {
		t.Fatalf("booked = %d, want 1", len(booked))
	}
}

// The pre-check is stale by construction here, so only the guard can refuse.
func TestGuardCatchesStalePrecheck(t *testing.T) {
	s := memory.New()
	stale := fakeValidator{validate: func(ctx context.Context, req availability.BookingRequest) (availability.BookingValidation, error) {
		return availability.BookingValidation{IsAvailable: true, Conflicts: []string{}, EndTime: "15:00"}, nil
	}}
	f := newFixtureWith(t, s, stale)

	f.mustBook(monday, "14:00")
	_, err := f.book(monday, "14:00")

	cerr := asConflict(t, err)
	if !cerr.Race {
		t.Fatal("expected Race to be set")
	}
	if len(cerr.Reasons) != 1 || cerr.Reasons[0] != MsgRace {
		t.Fatalf("Reasons = %v, want [%s]", cerr.Reasons, MsgRace)
	}
}

type serializationRepo struct {
	store.AppointmentRepository
}

func (serializationRepo) InBookingTransaction(ctx context.Context, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return store.ErrSerialization
}

func TestSerializationFailureBecomesRaceConflict(t *testing.T) {
	ok := fakeValidator{validate: func(ctx context.Context, req availability.BookingRequest) (availability.BookingValidation, error) {
		return availability.BookingValidation{IsAvailable: true, Conflicts: []string{}, EndTime: "11:00"}, nil
	}}
	svc := NewService(ok, serializationRepo{}, nil, nil, nil, discard())

	_, err := svc.Book(context.Background(), BookInput{BusinessID: "b1", ServiceID: "s1", Date: monday, StartTime: "10:00"})
	cerr := asConflict(t, err)
	if !cerr.Race || cerr.Reasons[0] != MsgRace {
		t.Fatalf("got %+v, want race conflict", cerr)
	}
}

func TestReschedule(t *testing.T) {
	t.Run("overlapping own slot", func(t *testing.T) {
		f := newFixture(t)
		appt := f.mustBook(monday, "10:00")

		moved, err := f.svc.Reschedule(context.Background(), "b1", appt.ID, monday, "10:30")
		if err != nil {
			t.Fatalf("Reschedule: %v", err)
		}
		if moved.StartTime != "10:30" || moved.EndTime != "11:30" {
			t.Fatalf("moved = %s-%s, want 10:30-11:30", moved.StartTime, moved.EndTime)
		}
		f.svc.Wait()
		got := f.sink.types()
		if len(got) != 2 || got[0] != notify.EventBooked || got[1] != notify.EventRescheduled {
			t.Fatalf("events = %v", got)
		}
	})

	t.Run("onto another booking", func(t *testing.T) {
		f := newFixture(t)
		f.mustBook(monday, "10:00")
		appt := f.mustBook(monday, "12:00")

		_, err := f.svc.Reschedule(context.Background(), "b1", appt.ID, monday, "10:00")
		cerr := asConflict(t, err)
		if cerr.Reasons[0] != availability.MsgSlotTaken {
			t.Fatalf("Reasons = %v", cerr.Reasons)
		}
	})

	t.Run("cancelled appointment", func(t *testing.T) {
		f := newFixture(t)
		appt := f.mustBook(monday, "10:00")
		if _, err := f.svc.Cancel(context.Background(), "b1", appt.ID); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		_, err := f.svc.Reschedule(context.Background(), "b1", appt.ID, monday, "13:00")
		asConflict(t, err)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Reschedule(context.Background(), "b1", uuid.New(), monday, "13:00")
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("err = %v, want NotFoundError", err)
		}
	})
}

// noIORepo fails the test by panicking on any repository call.
type noIORepo struct {
	store.AppointmentRepository
}

func TestRescheduleValidatesBeforeIO(t *testing.T) {
	svc := NewService(fakeValidator{}, noIORepo{}, nil, nil, nil, discard())

	tests := []struct {
		name       string
		businessID string
		date       string
		start      string
	}{
		{name: "missing business", businessID: " ", date: monday, start: "10:00"},
		{name: "bad date", businessID: "b1", date: "2026-02-30", start: "10:00"},
		{name: "bad time", businessID: "b1", date: monday, start: "25:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Reschedule(context.Background(), tt.businessID, uuid.New(), tt.date, tt.start)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestEventsFollowCommitOrder(t *testing.T) {
	want := []notify.EventType{notify.EventBooked, notify.EventRescheduled, notify.EventCancelled}
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ctx := context.Background()

		appt := f.mustBook(monday, "10:00")
		if _, err := f.svc.Reschedule(ctx, "b1", appt.ID, monday, "14:00"); err != nil {
			t.Fatalf("Reschedule: %v", err)
		}
		if _, err := f.svc.Cancel(ctx, "b1", appt.ID); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		f.svc.Wait()

		got := f.sink.types()
		if len(got) != len(want) {
			t.Fatalf("run %d: events = %v, want %v", i, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("run %d: events = %v, want %v", i, got, want)
			}
		}
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.mustBook(monday, "10:00")

	first, err := f.svc.Cancel(ctx, "b1", appt.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if first.Status != domain.StatusCancelled {
		t.Fatalf("Status = %q", first.Status)
	}
	if _, err := f.svc.Cancel(ctx, "b1", appt.ID); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	f.svc.Wait()

	want := []notify.EventType{notify.EventBooked, notify.EventCancelled}
	got := f.sink.types()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}

	// The freed slot is bookable again.
	f.mustBook(monday, "10:00")
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("completed is final", func(t *testing.T) {
		f := newFixture(t)
		appt := f.mustBook(monday, "10:00")
		if _, err := f.svc.UpdateStatus(ctx, "b1", appt.ID, domain.StatusCompleted); err != nil {
			t.Fatalf("complete: %v", err)
		}
		_, err := f.svc.UpdateStatus(ctx, "b1", appt.ID, domain.StatusPending)
		asConflict(t, err)
		_, err = f.svc.Cancel(ctx, "b1", appt.ID)
		asConflict(t, err)
	})

	t.Run("reactivation rechecks overlap", func(t *testing.T) {
		f := newFixture(t)
		appt := f.mustBook(monday, "10:00")
		if _, err := f.svc.Cancel(ctx, "b1", appt.ID); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		f.mustBook(monday, "10:30")

		_, err := f.svc.UpdateStatus(ctx, "b1", appt.ID, domain.StatusConfirmed)
		cerr := asConflict(t, err)
		if cerr.Reasons[0] != availability.MsgSlotTaken {
			t.Fatalf("Reasons = %v", cerr.Reasons)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		f := newFixture(t)
		appt := f.mustBook(monday, "10:00")
		_, err := f.svc.UpdateStatus(ctx, "b1", appt.ID, "archived")
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("err = %v, want ValidationError", err)
		}
	})
}
