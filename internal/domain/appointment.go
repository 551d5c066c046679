package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// BlockingStatuses are the statuses that occupy a slot.
var BlockingStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

func (s AppointmentStatus) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID              uuid.UUID         `bun:"id,pk,type:uuid"`
	BusinessID      string            `bun:"business_id,notnull"`
	ServiceID       string            `bun:"service_id,notnull"`
	CustomerID      string            `bun:"customer_id,notnull"`
	AppointmentDate string            `bun:"appointment_date,notnull"`
	StartTime       string            `bun:"start_time,notnull"`
	EndTime         string            `bun:"end_time,notnull"`
	Status          AppointmentStatus `bun:"status,notnull"`
	Notes           string            `bun:"notes"`
	CreatedAt       time.Time         `bun:"created_at,notnull"`
	UpdatedAt       time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// BookedInterval is the projection the engine needs from appointments.
type BookedInterval struct {
	AppointmentID uuid.UUID `bun:"id"`
	Date          string    `bun:"appointment_date"`
	StartTime     string    `bun:"start_time"`
	EndTime       string    `bun:"end_time"`
}
