package grpc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"appointly/backend/internal/async"
	"appointly/backend/internal/domain"
	"appointly/backend/internal/service/exceptions"
	"appointly/backend/internal/service/rules"
)

type ruleStore interface {
	FindByBusiness(ctx context.Context, businessID string, onlyAvailable bool) ([]domain.WeeklyRule, error)
	FindByBusinessAndDay(ctx context.Context, businessID string, dayOfWeek int) ([]domain.WeeklyRule, error)
	BulkSet(ctx context.Context, businessID string, entries []rules.RuleInput) ([]domain.WeeklyRule, error)
	Upsert(ctx context.Context, businessID string, in rules.RuleInput) (domain.WeeklyRule, error)
	Update(ctx context.Context, businessID string, id uuid.UUID, upd rules.RuleUpdate) (domain.WeeklyRule, error)
	Delete(ctx context.Context, businessID string, id uuid.UUID) error
}

type exceptionStore interface {
	FindByBusinessAndDateRange(ctx context.Context, businessID, from, to string) ([]domain.AvailabilityException, error)
	Create(ctx context.Context, businessID string, in exceptions.ExceptionInput) (domain.AvailabilityException, error)
	Upsert(ctx context.Context, businessID string, in exceptions.ExceptionInput) (domain.AvailabilityException, error)
	Delete(ctx context.Context, businessID string, id uuid.UUID) error
	DeleteByDateRange(ctx context.Context, businessID, from, to string) (int, error)
}

type serviceWriter interface {
	SaveService(ctx context.Context, svc domain.Service) error
}

type serviceInvalidator interface {
	InvalidateService(ctx context.Context, serviceID, businessID string) error
}

// ScheduleServer edits the inputs of the availability engine. The underlying
// stores fire cache invalidation themselves.
type ScheduleServer struct {
	rules       ruleStore
	exceptions  exceptionStore
	services    serviceWriter
	invalidator serviceInvalidator
	runner      *async.Runner
	log         *slog.Logger
}

var _ ScheduleServiceServer = (*ScheduleServer)(nil)

func NewScheduleServer(rs ruleStore, es exceptionStore, services serviceWriter, invalidator serviceInvalidator, runner *async.Runner, log *slog.Logger) *ScheduleServer {
	if log == nil {
		log = slog.Default()
	}
	return &ScheduleServer{
		rules:       rs,
		exceptions:  es,
		services:    services,
		invalidator: invalidator,
		runner:      runner,
		log:         log.With(slog.String("component", "grpc.schedule")),
	}
}

func (s *ScheduleServer) ListWeeklyAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListWeeklyAvailability"))
	f := fieldsOf(req)
	businessID := f.str("business_id")

	day, err := f.optInt("day_of_week")
	if err != nil {
		return nil, statusError(log, err)
	}
	var found []domain.WeeklyRule
	if day != nil {
		found, err = s.rules.FindByBusinessAndDay(ctx, businessID, *day)
	} else {
		found, err = s.rules.FindByBusiness(ctx, businessID, f.boolean("only_available"))
	}
	if err != nil {
		return nil, statusError(log.With(slog.String("business_id", businessID)), err)
	}
	return newStruct(map[string]any{"rules": rulesValue(found)})
}

// SetWeeklyAvailability replaces the business's whole weekly schedule.
func (s *ScheduleServer) SetWeeklyAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "SetWeeklyAvailability"))
	f := fieldsOf(req)
	businessID := f.str("business_id")

	var entries []rules.RuleInput
	for _, v := range f.list("rules") {
		in, err := ruleInput(fieldsOf(v.GetStructValue()))
		if err != nil {
			return nil, statusError(log, err)
		}
		entries = append(entries, in)
	}

	saved, err := s.rules.BulkSet(ctx, businessID, entries)
	if err != nil {
		return nil, statusError(log.With(slog.String("business_id", businessID)), err)
	}
	log.Info("weekly availability replaced", slog.String("business_id", businessID), slog.Int("rules", len(saved)))
	return newStruct(map[string]any{"rules": rulesValue(saved)})
}

func (s *ScheduleServer) UpsertWeeklyRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "UpsertWeeklyRule"))
	f := fieldsOf(req)
	businessID := f.str("business_id")

	in, err := ruleInput(f)
	if err != nil {
		return nil, statusError(log, err)
	}
	rule, err := s.rules.Upsert(ctx, businessID, in)
	if err != nil {
		return nil, statusError(log.With(slog.String("business_id", businessID)), err)
	}
	return newStruct(map[string]any{"rule": ruleValue(rule)})
}

func (s *ScheduleServer) UpdateWeeklyRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "UpdateWeeklyRule"))
	f := fieldsOf(req)

	id, err := f.uuid("id")
	if err != nil {
		return nil, invalid(log, "invalid_uuid", "id must be a UUID")
	}
	day, err := f.optInt("day_of_week")
	if err != nil {
		return nil, statusError(log, err)
	}
	rule, err := s.rules.Update(ctx, f.str("business_id"), id, rules.RuleUpdate{
		DayOfWeek:   day,
		StartTime:   f.optStr("start_time"),
		EndTime:     f.optStr("end_time"),
		IsAvailable: f.optBool("is_available"),
	})
	if err != nil {
		return nil, statusError(log.With(slog.String("rule_id", id.String())), err)
	}
	return newStruct(map[string]any{"rule": ruleValue(rule)})
}

func (s *ScheduleServer) DeleteWeeklyRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "DeleteWeeklyRule"))
	f := fieldsOf(req)

	id, err := f.uuid("id")
	if err != nil {
		return nil, invalid(log, "invalid_uuid", "id must be a UUID")
	}
	if err := s.rules.Delete(ctx, f.str("business_id"), id); err != nil {
		return nil, statusError(log.With(slog.String("rule_id", id.String())), err)
	}
	return newStruct(map[string]any{})
}

func (s *ScheduleServer) ListExceptions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListExceptions"))
	f := fieldsOf(req)

	found, err := s.exceptions.FindByBusinessAndDateRange(ctx, f.str("business_id"), f.str("from"), f.str("to"))
	if err != nil {
		return nil, statusError(log, err)
	}
	return newStruct(map[string]any{"exceptions": exceptionsValue(found)})
}

func (s *ScheduleServer) CreateException(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.writeException(ctx, "CreateException", req, s.exceptions.Create)
}

func (s *ScheduleServer) UpsertException(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.writeException(ctx, "UpsertException", req, s.exceptions.Upsert)
}

func (s *ScheduleServer) writeException(
	ctx context.Context,
	rpc string,
	req *structpb.Struct,
	write func(ctx context.Context, businessID string, in exceptions.ExceptionInput) (domain.AvailabilityException, error),
) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", rpc))
	f := fieldsOf(req)
	businessID := f.str("business_id")

	hours, err := f.exceptionHours()
	if err != nil {
		return nil, statusError(log, err)
	}
	ex, err := write(ctx, businessID, exceptions.ExceptionInput{
		Date:   f.str("date"),
		Hours:  hours,
		Reason: f.str("reason"),
	})
	if err != nil {
		return nil, statusError(log.With(slog.String("business_id", businessID)), err)
	}
	return newStruct(map[string]any{"exception": exceptionValue(ex)})
}

func (s *ScheduleServer) DeleteException(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "DeleteException"))
	f := fieldsOf(req)

	id, err := f.uuid("id")
	if err != nil {
		return nil, invalid(log, "invalid_uuid", "id must be a UUID")
	}
	if err := s.exceptions.Delete(ctx, f.str("business_id"), id); err != nil {
		return nil, statusError(log.With(slog.String("exception_id", id.String())), err)
	}
	return newStruct(map[string]any{})
}

func (s *ScheduleServer) DeleteExceptionRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "DeleteExceptionRange"))
	f := fieldsOf(req)

	n, err := s.exceptions.DeleteByDateRange(ctx, f.str("business_id"), f.str("from"), f.str("to"))
	if err != nil {
		return nil, statusError(log, err)
	}
	return newStruct(map[string]any{"deleted": n})
}

// UpsertService stores a catalog entry and drops the cached windows computed
// with its previous duration and buffer.
func (s *ScheduleServer) UpsertService(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "UpsertService"))
	f := fieldsOf(req)

	svc := domain.Service{
		ID:         f.str("id"),
		BusinessID: f.str("business_id"),
		Name:       f.str("name"),
		IsActive:   true,
	}
	if svc.ID == "" || svc.BusinessID == "" {
		return nil, invalid(log, "missing_ids", "id and business_id are required")
	}
	var err error
	if svc.DurationMinutes, err = f.integer("duration_minutes"); err != nil {
		return nil, statusError(log, err)
	}
	if svc.BufferMinutes, err = f.integer("buffer_minutes"); err != nil {
		return nil, statusError(log, err)
	}
	if active := f.optBool("is_active"); active != nil {
		svc.IsActive = *active
	}
	if svc.DurationMinutes <= 0 || svc.DurationMinutes >= 24*60 {
		return nil, invalid(log, "invalid_duration", "duration_minutes must be between 1 and 1439")
	}
	if svc.BufferMinutes < 0 {
		return nil, invalid(log, "invalid_buffer", "buffer_minutes must not be negative")
	}

	if err := s.services.SaveService(ctx, svc); err != nil {
		return nil, statusError(log.With(slog.String("service_id", svc.ID)), err)
	}
	s.runner.Go(ctx, "invalidate_service", func(ctx context.Context) error {
		return s.invalidator.InvalidateService(ctx, svc.ID, svc.BusinessID)
	})
	log.Info("service saved", slog.String("business_id", svc.BusinessID), slog.String("service_id", svc.ID))
	return newStruct(map[string]any{
		"id":               svc.ID,
		"business_id":      svc.BusinessID,
		"name":             svc.Name,
		"duration_minutes": svc.DurationMinutes,
		"buffer_minutes":   svc.BufferMinutes,
		"is_active":        svc.IsActive,
	})
}

func ruleInput(f fields) (rules.RuleInput, error) {
	day, err := f.optInt("day_of_week")
	if err != nil {
		return rules.RuleInput{}, err
	}
	if day == nil {
		return rules.RuleInput{}, domain.NewValidationError("day_of_week is required")
	}
	available := true
	if p := f.optBool("is_available"); p != nil {
		available = *p
	}
	return rules.RuleInput{
		DayOfWeek:   *day,
		StartTime:   f.str("start_time"),
		EndTime:     f.str("end_time"),
		IsAvailable: available,
	}, nil
}
