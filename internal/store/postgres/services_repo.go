package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
)

type ServiceRepo struct {
	db *bun.DB
}

func NewServiceRepo(db *bun.DB) *ServiceRepo {
	return &ServiceRepo{db: db}
}

func (r *ServiceRepo) FindService(ctx context.Context, businessID, serviceID string) (domain.Service, error) {
	var svc domain.Service
	err := r.db.NewSelect().
		Model(&svc).
		Where("business_id = ?", businessID).
		Where("id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Service{}, mapError(err)
	}
	return svc, nil
}

func (r *ServiceRepo) ListServices(ctx context.Context, businessID string, activeOnly bool) ([]domain.Service, error) {
	var rows []domain.Service
	query := r.db.NewSelect().
		Model(&rows).
		Where("business_id = ?", businessID)
	if activeOnly {
		query = query.Where("is_active = TRUE")
	}
	if err := query.OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

// SaveService inserts or replaces the business's catalog entry. Another
// business may use the same id without touching this one.
func (r *ServiceRepo) SaveService(ctx context.Context, svc domain.Service) error {
	now := time.Now().UTC()
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = now
	}
	svc.UpdatedAt = now
	_, err := r.db.NewInsert().
		Model(&svc).
		On("CONFLICT (business_id, id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("duration_minutes = EXCLUDED.duration_minutes").
		Set("buffer_minutes = EXCLUDED.buffer_minutes").
		Set("is_active = EXCLUDED.is_active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return mapError(err)
}
