package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

func (r *AppointmentRepo) ListBooked(ctx context.Context, businessID, from, to string) ([]domain.BookedInterval, error) {
	var rows []domain.BookedInterval
	err := r.db.NewSelect().
		Model((*domain.Appointment)(nil)).
		Column("id", "appointment_date", "start_time", "end_time").
		Where("business_id = ?", businessID).
		Where("appointment_date >= ?", from).
		Where("appointment_date <= ?", to).
		Where("status IN (?)", bun.In(domain.BlockingStatuses)).
		OrderExpr("appointment_date ASC, start_time ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (r *AppointmentRepo) FindOverlapping(ctx context.Context, businessID, date, start, end string, excludeID uuid.UUID) ([]domain.BookedInterval, error) {
	return findOverlapping(ctx, r.db, businessID, date, start, end, excludeID)
}

func (r *AppointmentRepo) GetAppointment(ctx context.Context, businessID string, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("business_id = ?", businessID).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, mapError(err)
	}
	return appt, nil
}

// InBookingTransaction runs fn at SERIALIZABLE isolation. Two transactions that
// both read an empty overlap predicate and then insert into it cannot both commit;
// the loser fails with SQLSTATE 40001, surfaced as store.ErrSerialization.
func (r *AppointmentRepo) InBookingTransaction(ctx context.Context, fn func(ctx context.Context, tx store.BookingTx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	err := r.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, bookingTx{tx: tx})
	})
	return mapError(err)
}

// findOverlapping is the time-range predicate used both by the pre-check and by
// the in-transaction re-check. HH:MM strings compare correctly as text.
func findOverlapping(ctx context.Context, db bun.IDB, businessID, date, start, end string, excludeID uuid.UUID) ([]domain.BookedInterval, error) {
	var rows []domain.BookedInterval
	query := db.NewSelect().
		Model((*domain.Appointment)(nil)).
		Column("id", "appointment_date", "start_time", "end_time").
		Where("business_id = ?", businessID).
		Where("appointment_date = ?", date).
		Where("status IN (?)", bun.In(domain.BlockingStatuses)).
		Where("start_time < ?", end).
		Where("end_time > ?", start)
	if excludeID != uuid.Nil {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.OrderExpr("start_time ASC").Scan(ctx, &rows); err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

type bookingTx struct {
	tx bun.Tx
}

func (t bookingTx) FindOverlapping(ctx context.Context, businessID, date, start, end string, excludeID uuid.UUID) ([]domain.BookedInterval, error) {
	return findOverlapping(ctx, t.tx, businessID, date, start, end, excludeID)
}

func (t bookingTx) GetAppointmentForUpdate(ctx context.Context, businessID string, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := t.tx.NewSelect().
		Model(&appt).
		Where("business_id = ?", businessID).
		Where("id = ?", id).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, mapError(err)
	}
	return appt, nil
}

func (t bookingTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Appointment{}, mapError(err)
	}
	return m, nil
}

func (t bookingTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	res, err := t.tx.NewUpdate().
		Model(&m).
		Column("appointment_date", "start_time", "end_time", "status", "notes", "updated_at").
		Where("id = ?", m.ID).
		Where("business_id = ?", m.BusinessID).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapError(err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return domain.Appointment{}, err
	}
	return m, nil
}
