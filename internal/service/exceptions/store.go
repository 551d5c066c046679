// Package exceptions manages date-specific overrides of the weekly schedule.
// A business has at most one exception per date.
package exceptions

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"appointly/backend/internal/async"
	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
	"appointly/backend/internal/timeutil"
)

type Invalidator interface {
	InvalidateBusiness(ctx context.Context, businessID string) error
}

type Store struct {
	repo        store.ScheduleRepository
	invalidator Invalidator
	runner      *async.Runner
	log         *slog.Logger
}

func NewStore(repo store.ScheduleRepository, invalidator Invalidator, runner *async.Runner, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		repo:        repo,
		invalidator: invalidator,
		runner:      runner,
		log:         log.With(slog.String("component", "exceptions")),
	}
}

type ExceptionInput struct {
	Date   string
	Hours  domain.ExceptionHours
	Reason string
}

type ExceptionUpdate struct {
	Date   *string
	Hours  *domain.ExceptionHours
	Reason *string
}

func (s *Store) Create(ctx context.Context, businessID string, in ExceptionInput) (domain.AvailabilityException, error) {
	if err := validateBusiness(businessID); err != nil {
		return domain.AvailabilityException{}, err
	}
	if err := validateInput(in); err != nil {
		return domain.AvailabilityException{}, err
	}

	var created domain.AvailabilityException
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		_, err := tx.GetExceptionByDate(ctx, businessID, in.Date)
		switch {
		case err == nil:
			return duplicateDate(in.Date)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		created, err = tx.CreateException(ctx, domain.AvailabilityException{
			BusinessID: businessID,
			Date:       in.Date,
			Hours:      in.Hours,
			Reason:     strings.TrimSpace(in.Reason),
		})
		if errors.Is(err, store.ErrDuplicate) {
			return duplicateDate(in.Date)
		}
		return err
	})
	if err != nil {
		return domain.AvailabilityException{}, err
	}

	s.invalidate(ctx, businessID)
	return created, nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (domain.AvailabilityException, error) {
	if id == uuid.Nil {
		return domain.AvailabilityException{}, domain.NewValidationError("exception id is required")
	}
	ex, err := s.repo.GetException(ctx, id)
	if err != nil {
		return domain.AvailabilityException{}, notFound(err, id.String())
	}
	return ex, nil
}

func (s *Store) FindByIDAndBusiness(ctx context.Context, id uuid.UUID, businessID string) (domain.AvailabilityException, error) {
	if err := validateBusiness(businessID); err != nil {
		return domain.AvailabilityException{}, err
	}
	ex, err := s.FindByID(ctx, id)
	if err != nil {
		return domain.AvailabilityException{}, err
	}
	if ex.BusinessID != businessID {
		return domain.AvailabilityException{}, domain.NewNotFoundError("availability exception", id.String())
	}
	return ex, nil
}

func (s *Store) FindByBusinessAndDate(ctx context.Context, businessID, date string) (domain.AvailabilityException, error) {
	if err := validateBusiness(businessID); err != nil {
		return domain.AvailabilityException{}, err
	}
	if !timeutil.IsValidDate(date) {
		return domain.AvailabilityException{}, invalidDate(date)
	}
	ex, err := s.repo.GetExceptionByDate(ctx, businessID, date)
	if err != nil {
		return domain.AvailabilityException{}, notFound(err, date)
	}
	return ex, nil
}

func (s *Store) FindByBusinessAndDateRange(ctx context.Context, businessID, from, to string) ([]domain.AvailabilityException, error) {
	if err := validateBusiness(businessID); err != nil {
		return nil, err
	}
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	return s.repo.ListExceptions(ctx, businessID, from, to)
}

func (s *Store) Update(ctx context.Context, businessID string, id uuid.UUID, upd ExceptionUpdate) (domain.AvailabilityException, error) {
	if err := validateBusiness(businessID); err != nil {
		return domain.AvailabilityException{}, err
	}
	if id == uuid.Nil {
		return domain.AvailabilityException{}, domain.NewValidationError("exception id is required")
	}

	var updated domain.AvailabilityException
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		current, err := tx.GetException(ctx, id)
		if err != nil {
			return notFound(err, id.String())
		}
		if current.BusinessID != businessID {
			return domain.NewNotFoundError("availability exception", id.String())
		}

		next := current
		if upd.Date != nil {
			next.Date = *upd.Date
		}
		if upd.Hours != nil {
			next.Hours = *upd.Hours
		}
		if upd.Reason != nil {
			next.Reason = strings.TrimSpace(*upd.Reason)
		}
		if err := validateInput(ExceptionInput{Date: next.Date, Hours: next.Hours}); err != nil {
			return err
		}

		if next.Date != current.Date {
			other, err := tx.GetExceptionByDate(ctx, businessID, next.Date)
			switch {
			case err == nil && other.ID != id:
				return duplicateDate(next.Date)
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		updated, err = tx.UpdateException(ctx, next)
		if errors.Is(err, store.ErrDuplicate) {
			return duplicateDate(next.Date)
		}
		return notFound(err, id.String())
	})
	if err != nil {
		return domain.AvailabilityException{}, err
	}

	s.invalidate(ctx, businessID)
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, businessID string, id uuid.UUID) error {
	if err := validateBusiness(businessID); err != nil {
		return err
	}
	if id == uuid.Nil {
		return domain.NewValidationError("exception id is required")
	}
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		return notFound(tx.DeleteException(ctx, businessID, id), id.String())
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, businessID)
	return nil
}

func (s *Store) DeleteAllForBusiness(ctx context.Context, businessID string) (int, error) {
	if err := validateBusiness(businessID); err != nil {
		return 0, err
	}
	return s.deleteRange(ctx, businessID, "", "")
}

func (s *Store) DeleteByDateRange(ctx context.Context, businessID, from, to string) (int, error) {
	if err := validateBusiness(businessID); err != nil {
		return 0, err
	}
	if err := validateRange(from, to); err != nil {
		return 0, err
	}
	return s.deleteRange(ctx, businessID, from, to)
}

func (s *Store) deleteRange(ctx context.Context, businessID, from, to string) (int, error) {
	var n int
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		var err error
		n, err = tx.DeleteExceptions(ctx, businessID, from, to)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("exceptions removed", slog.String("business_id", businessID), slog.Int("count", n))
		s.invalidate(ctx, businessID)
	}
	return n, nil
}

// Upsert creates the exception for in.Date or replaces the existing one in place.
func (s *Store) Upsert(ctx context.Context, businessID string, in ExceptionInput) (domain.AvailabilityException, error) {
	if err := validateBusiness(businessID); err != nil {
		return domain.AvailabilityException{}, err
	}
	if err := validateInput(in); err != nil {
		return domain.AvailabilityException{}, err
	}

	var out domain.AvailabilityException
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		current, err := tx.GetExceptionByDate(ctx, businessID, in.Date)
		switch {
		case errors.Is(err, store.ErrNotFound):
			out, err = tx.CreateException(ctx, domain.AvailabilityException{
				BusinessID: businessID,
				Date:       in.Date,
				Hours:      in.Hours,
				Reason:     strings.TrimSpace(in.Reason),
			})
			return err
		case err != nil:
			return err
		}
		current.Hours = in.Hours
		current.Reason = strings.TrimSpace(in.Reason)
		out, err = tx.UpdateException(ctx, current)
		return err
	})
	if err != nil {
		return domain.AvailabilityException{}, err
	}

	s.invalidate(ctx, businessID)
	return out, nil
}

func (s *Store) invalidate(ctx context.Context, businessID string) {
	if s.invalidator == nil {
		return
	}
	s.runner.Go(ctx, "invalidate_business", func(ctx context.Context) error {
		return s.invalidator.InvalidateBusiness(ctx, businessID)
	})
}

func validateBusiness(businessID string) error {
	if strings.TrimSpace(businessID) == "" {
		return domain.NewValidationError("business id is required")
	}
	return nil
}

func validateInput(in ExceptionInput) error {
	if !timeutil.IsValidDate(in.Date) {
		return invalidDate(in.Date)
	}
	start, end, ok := in.Hours.Window()
	if !ok {
		return nil
	}
	if !timeutil.IsValidTime(start) || !timeutil.IsValidTime(end) {
		return domain.NewValidationError("invalid custom hours %q-%q (expected HH:MM)", start, end)
	}
	if !timeutil.IsEndAfterStart(start, end) {
		return domain.NewValidationError("end time must be after start time")
	}
	return nil
}

func validateRange(from, to string) error {
	if !timeutil.IsValidDate(from) {
		return invalidDate(from)
	}
	if !timeutil.IsValidDate(to) {
		return invalidDate(to)
	}
	if to < from {
		return domain.NewValidationError("end date must not be before start date")
	}
	return nil
}

func invalidDate(date string) error {
	return domain.NewValidationError("invalid date %q (expected YYYY-MM-DD)", date)
}

func duplicateDate(date string) error {
	return domain.NewConflictError("an exception already exists for " + date)
}

func notFound(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewNotFoundError("availability exception", id)
	}
	return err
}
