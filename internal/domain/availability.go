package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WeeklyRule struct {
	bun.BaseModel `bun:"table:weekly_availability"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	BusinessID  string    `bun:"business_id,notnull"`
	DayOfWeek   int       `bun:"day_of_week,notnull"`
	StartTime   string    `bun:"start_time,notnull"`
	EndTime     string    `bun:"end_time,notnull"`
	IsAvailable bool      `bun:"is_available,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func (r *WeeklyRule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

type ExceptionKind string

const (
	// ExceptionClosed closes the business for the whole date.
	ExceptionClosed ExceptionKind = "closed"
	// ExceptionOpen keeps the date open on the weekly schedule's hours.
	ExceptionOpen ExceptionKind = "open"
	// ExceptionCustomHours replaces the weekly hours for the date.
	ExceptionCustomHours ExceptionKind = "custom_hours"
)

// ExceptionHours is either closed, open on weekly hours, or open on custom hours.
// A custom window always carries both bounds.
type ExceptionHours struct {
	kind  ExceptionKind
	start string
	end   string
}

func ClosedAllDay() ExceptionHours {
	return ExceptionHours{kind: ExceptionClosed}
}

func OpenWeeklyHours() ExceptionHours {
	return ExceptionHours{kind: ExceptionOpen}
}

func CustomHours(start, end string) ExceptionHours {
	return ExceptionHours{kind: ExceptionCustomHours, start: start, end: end}
}

// HoursFromFields maps the nullable column pair onto ExceptionHours.
// Unavailable always means closed, whatever times were stored alongside it.
func HoursFromFields(isAvailable bool, start, end *string) ExceptionHours {
	if !isAvailable {
		return ClosedAllDay()
	}
	if start != nil && end != nil && *start != "" && *end != "" {
		return CustomHours(*start, *end)
	}
	return OpenWeeklyHours()
}

func (h ExceptionHours) Kind() ExceptionKind {
	if h.kind == "" {
		return ExceptionClosed
	}
	return h.kind
}

func (h ExceptionHours) IsAvailable() bool {
	return h.Kind() != ExceptionClosed
}

func (h ExceptionHours) Window() (start, end string, ok bool) {
	if h.Kind() != ExceptionCustomHours {
		return "", "", false
	}
	return h.start, h.end, true
}

// Fields is the inverse of HoursFromFields.
func (h ExceptionHours) Fields() (isAvailable bool, start, end *string) {
	switch h.Kind() {
	case ExceptionCustomHours:
		s, e := h.start, h.end
		return true, &s, &e
	case ExceptionOpen:
		return true, nil, nil
	default:
		return false, nil, nil
	}
}

type AvailabilityException struct {
	ID         uuid.UUID
	BusinessID string
	Date       string
	Hours      ExceptionHours
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID              string    `bun:"id,pk"`
	BusinessID      string    `bun:"business_id,pk"`
	Name            string    `bun:"name,notnull"`
	DurationMinutes int       `bun:"duration_minutes,notnull"`
	BufferMinutes   int       `bun:"buffer_minutes,notnull"`
	IsActive        bool      `bun:"is_active,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

// TimeSlot is a derived bookable interval on a single date.
type TimeSlot struct {
	Date      string `msgpack:"d"`
	StartTime string `msgpack:"s"`
	EndTime   string `msgpack:"e"`
	Available bool   `msgpack:"a"`
}

// AvailabilitySlot groups the slots of one date. A closed date has no slots.
type AvailabilitySlot struct {
	Date      string     `msgpack:"date"`
	DayOfWeek int        `msgpack:"dow"`
	Slots     []TimeSlot `msgpack:"slots"`
}

type SlotRef struct {
	Date      string
	StartTime string
	EndTime   string
}
