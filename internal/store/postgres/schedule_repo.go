package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type exceptionRow struct {
	bun.BaseModel `bun:"table:availability_exceptions"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	BusinessID  string    `bun:"business_id,notnull"`
	Date        string    `bun:"exception_date,notnull"`
	StartTime   *string   `bun:"start_time"`
	EndTime     *string   `bun:"end_time"`
	IsAvailable bool      `bun:"is_available,notnull"`
	Reason      string    `bun:"reason,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func toExceptionRow(ex domain.AvailabilityException) exceptionRow {
	available, start, end := ex.Hours.Fields()
	return exceptionRow{
		ID:          ex.ID,
		BusinessID:  ex.BusinessID,
		Date:        ex.Date,
		StartTime:   start,
		EndTime:     end,
		IsAvailable: available,
		Reason:      ex.Reason,
		CreatedAt:   ex.CreatedAt,
		UpdatedAt:   ex.UpdatedAt,
	}
}

func (r exceptionRow) toDomain() domain.AvailabilityException {
	return domain.AvailabilityException{
		ID:         r.ID,
		BusinessID: r.BusinessID,
		Date:       r.Date,
		Hours:      domain.HoursFromFields(r.IsAvailable, r.StartTime, r.EndTime),
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// scheduleQueries holds the reads shared by the repository and its transactions.
type scheduleQueries struct {
	db bun.IDB
}

func (q scheduleQueries) GetRule(ctx context.Context, id uuid.UUID) (domain.WeeklyRule, error) {
	var rule domain.WeeklyRule
	err := q.db.NewSelect().
		Model(&rule).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.WeeklyRule{}, mapError(err)
	}
	return rule, nil
}

func (q scheduleQueries) ListRules(ctx context.Context, businessID string, onlyAvailable bool) ([]domain.WeeklyRule, error) {
	var rows []domain.WeeklyRule
	query := q.db.NewSelect().
		Model(&rows).
		Where("business_id = ?", businessID)
	if onlyAvailable {
		query = query.Where("is_available = TRUE")
	}
	err := query.
		OrderExpr("day_of_week ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (q scheduleQueries) ListRulesForDay(ctx context.Context, businessID string, dayOfWeek int) ([]domain.WeeklyRule, error) {
	var rows []domain.WeeklyRule
	err := q.db.NewSelect().
		Model(&rows).
		Where("business_id = ?", businessID).
		Where("day_of_week = ?", dayOfWeek).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (q scheduleQueries) GetException(ctx context.Context, id uuid.UUID) (domain.AvailabilityException, error) {
	var row exceptionRow
	err := q.db.NewSelect().
		Model(&row).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityException{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (q scheduleQueries) GetExceptionByDate(ctx context.Context, businessID, date string) (domain.AvailabilityException, error) {
	var row exceptionRow
	err := q.db.NewSelect().
		Model(&row).
		Where("business_id = ?", businessID).
		Where("exception_date = ?", date).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.AvailabilityException{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (q scheduleQueries) ListExceptions(ctx context.Context, businessID, from, to string) ([]domain.AvailabilityException, error) {
	var rows []exceptionRow
	err := q.db.NewSelect().
		Model(&rows).
		Where("business_id = ?", businessID).
		Where("exception_date >= ?", from).
		Where("exception_date <= ?", to).
		OrderExpr("exception_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.AvailabilityException, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

type ScheduleRepo struct {
	scheduleQueries
	db *bun.DB
}

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{scheduleQueries: scheduleQueries{db: db}, db: db}
}

// InBusinessTransaction serialises schedule writers for one business with a
// transaction-scoped advisory lock, so overlap checks and writes are atomic.
func (r *ScheduleRepo) InBusinessTransaction(ctx context.Context, businessID string, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockBusinessSchedule(ctx, tx, businessID); err != nil {
			return err
		}
		return fn(ctx, scheduleTx{scheduleQueries: scheduleQueries{db: tx}, tx: tx})
	})
	return mapError(err)
}

func lockBusinessSchedule(ctx context.Context, tx bun.Tx, businessID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "schedule:"+businessID).Exec(ctx)
	return err
}

type scheduleTx struct {
	scheduleQueries
	tx bun.Tx
}

func (t scheduleTx) CreateRule(ctx context.Context, rule domain.WeeklyRule) (domain.WeeklyRule, error) {
	m := rule
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.WeeklyRule{}, mapError(err)
	}
	return m, nil
}

func (t scheduleTx) UpdateRule(ctx context.Context, rule domain.WeeklyRule) (domain.WeeklyRule, error) {
	m := rule
	res, err := t.tx.NewUpdate().
		Model(&m).
		Column("day_of_week", "start_time", "end_time", "is_available", "updated_at").
		Where("id = ?", m.ID).
		Where("business_id = ?", m.BusinessID).
		Exec(ctx)
	if err != nil {
		return domain.WeeklyRule{}, mapError(err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return domain.WeeklyRule{}, err
	}
	return m, nil
}

func (t scheduleTx) DeleteRule(ctx context.Context, businessID string, id uuid.UUID) error {
	res, err := t.tx.NewDelete().
		Model((*domain.WeeklyRule)(nil)).
		Where("business_id = ?", businessID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	return affectedOrNotFound(res)
}

func (t scheduleTx) DeleteAllRules(ctx context.Context, businessID string) (int, error) {
	res, err := t.tx.NewDelete().
		Model((*domain.WeeklyRule)(nil)).
		Where("business_id = ?", businessID).
		Exec(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t scheduleTx) CreateException(ctx context.Context, ex domain.AvailabilityException) (domain.AvailabilityException, error) {
	row := toExceptionRow(ex)
	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.AvailabilityException{}, err
		}
		row.ID = id
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	if _, err := t.tx.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.AvailabilityException{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (t scheduleTx) UpdateException(ctx context.Context, ex domain.AvailabilityException) (domain.AvailabilityException, error) {
	row := toExceptionRow(ex)
	row.UpdatedAt = time.Now().UTC()

	res, err := t.tx.NewUpdate().
		Model(&row).
		Column("exception_date", "start_time", "end_time", "is_available", "reason", "updated_at").
		Where("id = ?", row.ID).
		Where("business_id = ?", row.BusinessID).
		Exec(ctx)
	if err != nil {
		return domain.AvailabilityException{}, mapError(err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return domain.AvailabilityException{}, err
	}
	return row.toDomain(), nil
}

func (t scheduleTx) DeleteException(ctx context.Context, businessID string, id uuid.UUID) error {
	res, err := t.tx.NewDelete().
		Model((*exceptionRow)(nil)).
		Where("business_id = ?", businessID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	return affectedOrNotFound(res)
}

func (t scheduleTx) DeleteExceptions(ctx context.Context, businessID, from, to string) (int, error) {
	query := t.tx.NewDelete().
		Model((*exceptionRow)(nil)).
		Where("business_id = ?", businessID)
	if from != "" {
		query = query.Where("exception_date >= ?", from)
	}
	if to != "" {
		query = query.Where("exception_date <= ?", to)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
