// Package notify publishes booking lifecycle events. Delivery is best-effort:
// callers never wait on a sink for correctness.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

type EventType string

const (
	EventBooked        EventType = "appointment.booked"
	EventRescheduled   EventType = "appointment.rescheduled"
	EventCancelled     EventType = "appointment.cancelled"
	EventStatusChanged EventType = "appointment.status_changed"
)

type Event struct {
	ID            uuid.UUID `json:"event_id"`
	Type          EventType `json:"event_type"`
	BusinessID    string    `json:"business_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	ServiceID     string    `json:"service_id"`
	CustomerID    string    `json:"customer_id,omitempty"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewEvent(kind EventType, appt domain.Appointment, at time.Time) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Event{
		ID:            id,
		Type:          kind,
		BusinessID:    appt.BusinessID,
		AppointmentID: appt.ID,
		ServiceID:     appt.ServiceID,
		CustomerID:    appt.CustomerID,
		Date:          appt.AppointmentDate,
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		Status:        string(appt.Status),
		OccurredAt:    at.UTC(),
	}
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// LogSink writes events to the structured log. It is the fallback when no
// broker is configured.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log.With(slog.String("component", "notify"))}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) error {
	s.log.InfoContext(ctx, "appointment event",
		slog.String("event_type", string(ev.Type)),
		slog.String("event_id", ev.ID.String()),
		slog.String("business_id", ev.BusinessID),
		slog.String("appointment_id", ev.AppointmentID.String()),
		slog.String("date", ev.Date),
		slog.String("start_time", ev.StartTime),
		slog.String("status", ev.Status),
	)
	return nil
}
