package store

import (
	"context"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

type AppointmentReader interface {
	// ListBooked returns pending/confirmed intervals with from <= date <= to.
	ListBooked(ctx context.Context, businessID, from, to string) ([]domain.BookedInterval, error)
	// FindOverlapping returns pending/confirmed intervals on date overlapping [start, end).
	// excludeID is skipped so an appointment never conflicts with itself; uuid.Nil excludes nothing.
	FindOverlapping(ctx context.Context, businessID, date, start, end string, excludeID uuid.UUID) ([]domain.BookedInterval, error)
	GetAppointment(ctx context.Context, businessID string, id uuid.UUID) (domain.Appointment, error)
}

type BookingTx interface {
	FindOverlapping(ctx context.Context, businessID, date, start, end string, excludeID uuid.UUID) ([]domain.BookedInterval, error)
	GetAppointmentForUpdate(ctx context.Context, businessID string, id uuid.UUID) (domain.Appointment, error)
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}

// AppointmentRepository runs InBookingTransaction with isolation strong enough that a
// read inside fn observes every appointment committed by a transaction that finished first.
// A lost race surfaces as ErrSerialization or ErrConflict.
type AppointmentRepository interface {
	AppointmentReader
	InBookingTransaction(ctx context.Context, fn func(ctx context.Context, tx BookingTx) error) error
}
