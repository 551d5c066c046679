package store

import (
	"context"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

type ScheduleReader interface {
	GetRule(ctx context.Context, id uuid.UUID) (domain.WeeklyRule, error)
	ListRules(ctx context.Context, businessID string, onlyAvailable bool) ([]domain.WeeklyRule, error)
	ListRulesForDay(ctx context.Context, businessID string, dayOfWeek int) ([]domain.WeeklyRule, error)

	GetException(ctx context.Context, id uuid.UUID) (domain.AvailabilityException, error)
	GetExceptionByDate(ctx context.Context, businessID, date string) (domain.AvailabilityException, error)
	// ListExceptions returns exceptions with from <= date <= to, ordered by date.
	ListExceptions(ctx context.Context, businessID, from, to string) ([]domain.AvailabilityException, error)
}

type ScheduleTx interface {
	ScheduleReader

	CreateRule(ctx context.Context, rule domain.WeeklyRule) (domain.WeeklyRule, error)
	UpdateRule(ctx context.Context, rule domain.WeeklyRule) (domain.WeeklyRule, error)
	DeleteRule(ctx context.Context, businessID string, id uuid.UUID) error
	DeleteAllRules(ctx context.Context, businessID string) (int, error)

	CreateException(ctx context.Context, ex domain.AvailabilityException) (domain.AvailabilityException, error)
	UpdateException(ctx context.Context, ex domain.AvailabilityException) (domain.AvailabilityException, error)
	DeleteException(ctx context.Context, businessID string, id uuid.UUID) error
	// DeleteExceptions removes exceptions in [from, to]; empty bounds are open.
	DeleteExceptions(ctx context.Context, businessID, from, to string) (int, error)
}

// ScheduleRepository serialises writers per business inside InBusinessTransaction.
type ScheduleRepository interface {
	ScheduleReader
	InBusinessTransaction(ctx context.Context, businessID string, fn func(ctx context.Context, tx ScheduleTx) error) error
}

type ServiceCatalog interface {
	FindService(ctx context.Context, businessID, serviceID string) (domain.Service, error)
	ListServices(ctx context.Context, businessID string, activeOnly bool) ([]domain.Service, error)
}

type ServiceWriter interface {
	SaveService(ctx context.Context, svc domain.Service) error
}
