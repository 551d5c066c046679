// Package rules manages a business's recurring weekly availability.
package rules

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

const overlapMessage = "overlaps existing availability"

type Invalidator interface {
	InvalidateBusiness(ctx context.Context, businessID string) error
}

type Store struct {
	repo        store.ScheduleRepository
	invalidator Invalidator
	runner      *async.Runner
	log         *slog.Logger
}

// NewStore wires the rule store. invalidator and runner may be nil.
func NewStore(repo store.ScheduleRepository, invalidator Invalidator, runner *async.Runner, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		repo:        repo,
		invalidator: invalidator,
		runner:      runner,
		log:         log.With(slog.String("component", "rules")),
	}
}

type RuleInput struct {
	DayOfWeek   int
	StartTime   string
	EndTime     string
	IsAvailable bool
}

// RuleUpdate carries the fields to change; nil fields keep their current value.
type RuleUpdate struct {
	DayOfWeek   *int
	StartTime   *string
	EndTime     *string
	IsAvailable *bool
}

func (s *Store) Create(ctx context.Context, businessID string, in RuleInput) (domain.WeeklyRule, error) {
	if err := validateBusiness(businessID); err != nil {
		return domain.WeeklyRule{}, err
	}
	if err := validateInput(in); err != nil {
		return domain.WeeklyRule{}, err
	}

	var created domain.WeeklyRule
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		siblings, err := tx.ListRulesForDay(ctx, businessID, in.DayOfWeek)
		if err != nil {
			return err
		}
		if overlapsAny(siblings, in.StartTime, in.EndTime, uuid.Nil) {
			return domain.NewConflictError(overlapMessage)
		}
		created, err = tx.CreateRule(ctx, domain.WeeklyRule{
			BusinessID:  businessID,
			DayOfWeek:   in.DayOfWeek,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			IsAvailable: in.IsAvailable,
		})
		return err
	})
	if err != nil {
		return domain.WeeklyRule{}, err
	}

	s.invalidate(ctx, businessID)
	return created, nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (domain.WeeklyRule, error) {
	if id == uuid.Nil {
		return domain.WeeklyRule{}, domain.NewValidationError("rule id is required")
	}
	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return domain.WeeklyRule{}, notFound(err, id)
	}
	return rule, nil
}

func (s *Store) FindByBusiness(ctx context.Context, businessID string, onlyAvailable bool) ([]domain.WeeklyRule, error) {
	if err := validateBusiness(businessID); err != nil {
		return nil, err
	}
	return s.repo.ListRules(ctx, businessID, onlyAvailable)
}

func (s *Store) FindByBusinessAndDay(ctx context.Context, businessID string, dayOfWeek int) ([]domain.WeeklyRule, error) {
	if err := validateBusiness(businessID); err != nil {
		return nil, err
	}
	if err := validateDay(dayOfWeek); err != nil {
		return nil, err
	}
	return s.repo.ListRulesForDay(ctx, businessID, dayOfWeek)
}

func (s *Store) Update(ctx context.Context, businessID string, id uuid.UUID, upd RuleUpdate) (domain.WeeklyRule, error) {
	if err := validateBusiness(businessID); err != nil {
		return domain.WeeklyRule{}, err
	}
	if id == uuid.Nil {
		return domain.WeeklyRule{}, domain.NewValidationError("rule id is required")
	}
	if upd.DayOfWeek != nil {
		if err := validateDay(*upd.DayOfWeek); err != nil {
			return domain.WeeklyRule{}, err
		}
	}
	if upd.StartTime != nil && !timeutil.IsValidTime(*upd.StartTime) {
		return domain.WeeklyRule{}, domain.NewValidationError("invalid start time %q (expected HH:MM)", *upd.StartTime)
	}
	if upd.EndTime != nil && !timeutil.IsValidTime(*upd.EndTime) {
		return domain.WeeklyRule{}, domain.NewValidationError("invalid end time %q (expected HH:MM)", *upd.EndTime)
	}

	var updated domain.WeeklyRule
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		current, err := tx.GetRule(ctx, id)
		if err != nil {
			return notFound(err, id)
		}
		if current.BusinessID != businessID {
			return domain.NewNotFoundError("availability rule", id.String())
		}

		next := current
		if upd.DayOfWeek != nil {
			next.DayOfWeek = *upd.DayOfWeek
		}
		if upd.StartTime != nil {
			next.StartTime = *upd.StartTime
		}
		if upd.EndTime != nil {
			next.EndTime = *upd.EndTime
		}
		if upd.IsAvailable != nil {
			next.IsAvailable = *upd.IsAvailable
		}
		if !timeutil.IsEndAfterStart(next.StartTime, next.EndTime) {
			return domain.NewValidationError("end time must be after start time")
		}

		siblings, err := tx.ListRulesForDay(ctx, businessID, next.DayOfWeek)
		if err != nil {
			return err
		}
		if overlapsAny(siblings, next.StartTime, next.EndTime, id) {
			return domain.NewConflictError(overlapMessage)
		}

		updated, err = tx.UpdateRule(ctx, next)
		return notFound(err, id)
	})
	if err != nil {
		return domain.WeeklyRule{}, err
	}

	s.invalidate(ctx, businessID)
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, businessID string, id uuid.UUID) error {
	if err := validateBusiness(businessID); err != nil {
		return err
	}
	if id == uuid.Nil {
		return domain.NewValidationError("rule id is required")
	}
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		return notFound(tx.DeleteRule(ctx, businessID, id), id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, businessID)
	return nil
}

// Upsert flips the flag of an identical interval, rejects a partially
// overlapping one and otherwise inserts.
func (s *Store) Upsert(ctx context.Context, businessID string, in RuleInput) (domain.WeeklyRule, error) {
	if err := validateBusiness(businessID); err != nil {
		return domain.WeeklyRule{}, err
	}
	if err := validateInput(in); err != nil {
		return domain.WeeklyRule{}, err
	}

	var out domain.WeeklyRule
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		siblings, err := tx.ListRulesForDay(ctx, businessID, in.DayOfWeek)
		if err != nil {
			return err
		}
		for _, r := range siblings {
			if r.StartTime == in.StartTime && r.EndTime == in.EndTime {
				if r.IsAvailable == in.IsAvailable {
					out = r
					return nil
				}
				r.IsAvailable = in.IsAvailable
				out, err = tx.UpdateRule(ctx, r)
				return err
			}
		}
		if overlapsAny(siblings, in.StartTime, in.EndTime, uuid.Nil) {
			return domain.NewConflictError(overlapMessage)
		}
		out, err = tx.CreateRule(ctx, domain.WeeklyRule{
			BusinessID:  businessID,
			DayOfWeek:   in.DayOfWeek,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			IsAvailable: in.IsAvailable,
		})
		return err
	})
	if err != nil {
		return domain.WeeklyRule{}, err
	}

	s.invalidate(ctx, businessID)
	return out, nil
}

// BulkSet replaces the whole weekly schedule of a business atomically.
func (s *Store) BulkSet(ctx context.Context, businessID string, entries []RuleInput) ([]domain.WeeklyRule, error) {
	if err := validateBusiness(businessID); err != nil {
		return nil, err
	}
	for i, in := range entries {
		if err := validateInput(in); err != nil {
			return nil, domain.NewValidationError("entry %d: %v", i, err)
		}
	}
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			if a.DayOfWeek == b.DayOfWeek && timeutil.Overlaps(a.StartTime, a.EndTime, b.StartTime, b.EndTime) {
				return nil, domain.NewConflictError(overlapMessage)
			}
		}
	}

	var out []domain.WeeklyRule
	err := s.repo.InBusinessTransaction(ctx, businessID, func(ctx context.Context, tx store.ScheduleTx) error {
		if _, err := tx.DeleteAllRules(ctx, businessID); err != nil {
			return err
		}
		out = make([]domain.WeeklyRule, 0, len(entries))
		for _, in := range entries {
			created, err := tx.CreateRule(ctx, domain.WeeklyRule{
				BusinessID:  businessID,
				DayOfWeek:   in.DayOfWeek,
				StartTime:   in.StartTime,
				EndTime:     in.EndTime,
				IsAvailable: in.IsAvailable,
			})
			if err != nil {
				return err
			}
			out = append(out, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("weekly schedule replaced", slog.String("business_id", businessID), slog.Int("rules", len(out)))
	s.invalidate(ctx, businessID)
	return out, nil
}

func (s *Store) HasAvailability(ctx context.Context, businessID string) (bool, error) {
	if err := validateBusiness(businessID); err != nil {
		return false, err
	}
	rules, err := s.repo.ListRules(ctx, businessID, true)
	if err != nil {
		return false, err
	}
	return len(rules) > 0, nil
}

func (s *Store) invalidate(ctx context.Context, businessID string) {
	if s.invalidator == nil {
		return
	}
	s.runner.Go(ctx, "invalidate_business", func(ctx context.Context) error {
		return s.invalidator.InvalidateBusiness(ctx, businessID)
	})
}

// overlapsAny checks every sibling on the day regardless of its flag, so an
// interval has at most one rule and upsert stays unambiguous.
func overlapsAny(siblings []domain.WeeklyRule, start, end string, self uuid.UUID) bool {
	for _, r := range siblings {
		if r.ID == self {
			continue
		}
		if timeutil.Overlaps(start, end, r.StartTime, r.EndTime) {
			return true
		}
	}
	return false
}

func validateBusiness(businessID string) error {
	if strings.TrimSpace(businessID) == "" {
		return domain.NewValidationError("business id is required")
	}
	return nil
}

func validateDay(day int) error {
	if day < 0 || day > 6 {
		return domain.NewValidationError("day of week must be between 0 and 6, got %d", day)
	}
	return nil
}

func validateInput(in RuleInput) error {
	if err := validateDay(in.DayOfWeek); err != nil {
		return err
	}
	if !timeutil.IsValidTime(in.StartTime) {
		return domain.NewValidationError("invalid start time %q (expected HH:MM)", in.StartTime)
	}
	if !timeutil.IsValidTime(in.EndTime) {
		return domain.NewValidationError("invalid end time %q (expected HH:MM)", in.EndTime)
	}
	if !timeutil.IsEndAfterStart(in.StartTime, in.EndTime) {
		return domain.NewValidationError("end time must be after start time")
	}
	return nil
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewNotFoundError("availability rule", id.String())
	}
	return err
}
