// Package booking persists appointments. Every write is checked twice: once
// against the availability engine outside any transaction, and again inside
// the insert transaction by EnsureSlotFree.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"appointly/backend/internal/async"
	"appointly/backend/internal/domain"
	"appointly/backend/internal/notify"
	"appointly/backend/internal/service/availability"
	"appointly/backend/internal/store"
	"appointly/backend/internal/timeutil"
)

const MsgRace = "This time slot was just booked by another customer"

type Validator interface {
	ValidateBookingRequest(ctx context.Context, req availability.BookingRequest) (availability.BookingValidation, error)
}

type Invalidator interface {
	InvalidateBusiness(ctx context.Context, businessID string) error
}

type Service struct {
	validator   Validator
	repo        store.AppointmentRepository
	invalidator Invalidator
	sink        notify.Sink
	runner      *async.Runner
	log         *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewService wires the booking service. invalidator and sink may be nil.
func NewService(validator Validator, repo store.AppointmentRepository, invalidator Invalidator, sink notify.Sink, runner *async.Runner, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		validator:   validator,
		repo:        repo,
		invalidator: invalidator,
		sink:        sink,
		runner:      runner,
		log:         log.With(slog.String("component", "booking")),
		tracer:      otel.Tracer("appointly/booking"),
		now:         time.Now,
	}
}

type BookInput struct {
	BusinessID string
	ServiceID  string
	CustomerID string
	Date       string
	StartTime  string
	Notes      string
	Confirmed  bool
}

// EnsureSlotFree re-runs the overlap query for [start, end) and must be called
// inside the same transaction as the write it protects. A hit means another
// writer committed after the caller's pre-check.
func EnsureSlotFree(ctx context.Context, tx store.BookingTx, businessID, date, start, end string, exclude uuid.UUID) error {
	found, err := tx.FindOverlapping(ctx, businessID, date, start, end, exclude)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return raceConflict()
	}
	return nil
}

func (s *Service) Book(ctx context.Context, in BookInput) (_ domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("business_id", in.BusinessID),
		attribute.String("service_id", in.ServiceID),
		attribute.String("date", in.Date),
	))
	defer func() { endSpan(span, err) }()

	if err := validateSlotInput(in.BusinessID, in.ServiceID, in.Date, in.StartTime); err != nil {
		return domain.Appointment{}, err
	}

	end, err := s.precheck(ctx, availability.BookingRequest{
		BusinessID:      in.BusinessID,
		ServiceID:       in.ServiceID,
		AppointmentDate: in.Date,
		StartTime:       in.StartTime,
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	status := domain.StatusPending
	if in.Confirmed {
		status = domain.StatusConfirmed
	}

	var created domain.Appointment
	err = s.repo.InBookingTransaction(ctx, func(ctx context.Context, tx store.BookingTx) error {
		if err := EnsureSlotFree(ctx, tx, in.BusinessID, in.Date, in.StartTime, end, uuid.Nil); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertAppointment(ctx, domain.Appointment{
			BusinessID:      in.BusinessID,
			ServiceID:       in.ServiceID,
			CustomerID:      strings.TrimSpace(in.CustomerID),
			AppointmentDate: in.Date,
			StartTime:       in.StartTime,
			EndTime:         end,
			Status:          status,
			Notes:           in.Notes,
		})
		return err
	})
	if err != nil {
		return domain.Appointment{}, s.txError(err, in.BusinessID, in.Date, in.StartTime)
	}

	s.log.Info("appointment booked",
		slog.String("business_id", created.BusinessID),
		slog.String("appointment_id", created.ID.String()),
		slog.String("date", created.AppointmentDate),
		slog.String("start_time", created.StartTime),
	)
	s.afterCommit(ctx, notify.EventBooked, created)
	return created, nil
}

// Reschedule moves a pending or confirmed appointment. The appointment never
// conflicts with its own current slot.
func (s *Service) Reschedule(ctx context.Context, businessID string, id uuid.UUID, date, startTime string) (_ domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Reschedule", trace.WithAttributes(
		attribute.String("business_id", businessID),
		attribute.String("appointment_id", id.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := validateSlot(businessID, date, startTime); err != nil {
		return domain.Appointment{}, err
	}
	if id == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("appointment id is required")
	}
	current, err := s.repo.GetAppointment(ctx, businessID, id)
	if err != nil {
		return domain.Appointment{}, appointmentNotFound(err, id)
	}
	if !current.Status.Blocking() {
		return domain.Appointment{}, domain.NewConflictError("Only pending or confirmed appointments can be rescheduled")
	}

	end, err := s.precheck(ctx, availability.BookingRequest{
		BusinessID:           businessID,
		ServiceID:            current.ServiceID,
		AppointmentDate:      date,
		StartTime:            startTime,
		ExcludeAppointmentID: id,
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	var updated domain.Appointment
	err = s.repo.InBookingTransaction(ctx, func(ctx context.Context, tx store.BookingTx) error {
		locked, err := tx.GetAppointmentForUpdate(ctx, businessID, id)
		if err != nil {
			return appointmentNotFound(err, id)
		}
		if !locked.Status.Blocking() {
			return domain.NewConflictError("Only pending or confirmed appointments can be rescheduled")
		}
		if err := EnsureSlotFree(ctx, tx, businessID, date, startTime, end, id); err != nil {
			return err
		}
		locked.AppointmentDate = date
		locked.StartTime = startTime
		locked.EndTime = end
		updated, err = tx.UpdateAppointment(ctx, locked)
		return appointmentNotFound(err, id)
	})
	if err != nil {
		return domain.Appointment{}, s.txError(err, businessID, date, startTime)
	}

	s.log.Info("appointment rescheduled",
		slog.String("business_id", businessID),
		slog.String("appointment_id", id.String()),
		slog.String("from", current.AppointmentDate+" "+current.StartTime),
		slog.String("to", date+" "+startTime),
	)
	s.afterCommit(ctx, notify.EventRescheduled, updated)
	return updated, nil
}

// Cancel is idempotent: cancelling a cancelled appointment returns it unchanged.
func (s *Service) Cancel(ctx context.Context, businessID string, id uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, businessID, id, domain.StatusCancelled)
}

// UpdateStatus moves an appointment between statuses. Completed appointments
// are final, and re-activating a cancelled one re-runs the overlap guard.
func (s *Service) UpdateStatus(ctx context.Context, businessID string, id uuid.UUID, status domain.AppointmentStatus) (domain.Appointment, error) {
	if !status.Valid() {
		return domain.Appointment{}, domain.NewValidationError("invalid status %q", status)
	}
	return s.transition(ctx, businessID, id, status)
}

func (s *Service) transition(ctx context.Context, businessID string, id uuid.UUID, status domain.AppointmentStatus) (_ domain.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.UpdateStatus", trace.WithAttributes(
		attribute.String("business_id", businessID),
		attribute.String("appointment_id", id.String()),
		attribute.String("status", string(status)),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(businessID) == "" {
		return domain.Appointment{}, domain.NewValidationError("business id is required")
	}
	if id == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("appointment id is required")
	}

	var (
		out     domain.Appointment
		changed bool
	)
	err = s.repo.InBookingTransaction(ctx, func(ctx context.Context, tx store.BookingTx) error {
		current, err := tx.GetAppointmentForUpdate(ctx, businessID, id)
		if err != nil {
			return appointmentNotFound(err, id)
		}
		if current.Status == status {
			out = current
			return nil
		}
		if current.Status == domain.StatusCompleted {
			return domain.NewConflictError("Completed appointments cannot be changed")
		}
		if status.Blocking() && !current.Status.Blocking() {
			found, err := tx.FindOverlapping(ctx, businessID, current.AppointmentDate, current.StartTime, current.EndTime, id)
			if err != nil {
				return err
			}
			if len(found) > 0 {
				return domain.NewConflictError(availability.MsgSlotTaken)
			}
		}
		current.Status = status
		out, err = tx.UpdateAppointment(ctx, current)
		if err != nil {
			return appointmentNotFound(err, id)
		}
		changed = true
		return nil
	})
	if err != nil {
		return domain.Appointment{}, s.txError(err, businessID, "", "")
	}
	if !changed {
		return out, nil
	}

	kind := notify.EventStatusChanged
	if status == domain.StatusCancelled {
		kind = notify.EventCancelled
	}
	s.log.Info("appointment status changed",
		slog.String("business_id", businessID),
		slog.String("appointment_id", id.String()),
		slog.String("status", string(status)),
	)
	s.afterCommit(ctx, kind, out)
	return out, nil
}

// Wait blocks until queued side effects have finished.
func (s *Service) Wait() {
	s.runner.Wait()
}

// precheck runs the non-transactional validation and returns the derived end time.
func (s *Service) precheck(ctx context.Context, req availability.BookingRequest) (string, error) {
	v, err := s.validator.ValidateBookingRequest(ctx, req)
	if err != nil {
		return "", err
	}
	if !v.IsAvailable {
		s.log.Info("booking refused",
			slog.String("business_id", req.BusinessID),
			slog.String("date", req.AppointmentDate),
			slog.String("start_time", req.StartTime),
			slog.Any("conflicts", v.Conflicts),
		)
		return "", &domain.ConflictError{Reasons: v.Conflicts, Suggestion: v.Suggestion}
	}
	if v.EndTime == "" {
		return "", domain.NewValidationError("could not determine appointment end time")
	}
	return v.EndTime, nil
}

// txError turns a lost race, whichever layer detected it, into the race conflict.
func (s *Service) txError(err error, businessID, date, start string) error {
	var cerr *domain.ConflictError
	switch {
	case errors.As(err, &cerr):
		if cerr.Race {
			s.log.Info("booking lost race",
				slog.String("business_id", businessID),
				slog.String("date", date),
				slog.String("start_time", start),
			)
		}
		return err
	case errors.Is(err, store.ErrSerialization), errors.Is(err, store.ErrConflict):
		s.log.Info("booking lost race",
			slog.String("business_id", businessID),
			slog.String("date", date),
			slog.String("start_time", start),
			slog.Any("err", err),
		)
		return raceConflict()
	}
	return err
}

func (s *Service) afterCommit(ctx context.Context, kind notify.EventType, appt domain.Appointment) {
	if s.invalidator != nil {
		s.runner.Go(ctx, "invalidate_business", func(ctx context.Context) error {
			return s.invalidator.InvalidateBusiness(ctx, appt.BusinessID)
		})
	}
	if s.sink != nil {
		ev := notify.NewEvent(kind, appt, s.now())
		// Events share one lane per business so consumers see them in commit order.
		s.runner.Ordered(ctx, appt.BusinessID, "notify", func(ctx context.Context) error {
			return s.sink.Publish(ctx, ev)
		})
	}
}

func raceConflict() error {
	return &domain.ConflictError{Reasons: []string{MsgRace}, Race: true}
}

func validateSlotInput(businessID, serviceID, date, start string) error {
	if strings.TrimSpace(businessID) == "" {
		return domain.NewValidationError("business id is required")
	}
	if strings.TrimSpace(serviceID) == "" {
		return domain.NewValidationError("service id is required")
	}
	return validateSlot(businessID, date, start)
}

func validateSlot(businessID, date, start string) error {
	if strings.TrimSpace(businessID) == "" {
		return domain.NewValidationError("business id is required")
	}
	if !timeutil.IsValidDate(date) {
		return domain.NewValidationError("invalid date %q (expected YYYY-MM-DD)", date)
	}
	if !timeutil.IsValidTime(start) {
		return domain.NewValidationError("invalid start time %q (expected HH:MM)", start)
	}
	return nil
}

func appointmentNotFound(err error, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewNotFoundError("appointment", id.String())
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
