package domain

import (
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestHoursFromFields(t *testing.T) {
	tests := []struct {
		name      string
		available bool
		start     *string
		end       *string
		wantKind  ExceptionKind
	}{
		{name: "closed", available: false, wantKind: ExceptionClosed},
		{name: "closed ignores stored times", available: false, start: strPtr("09:00"), end: strPtr("12:00"), wantKind: ExceptionClosed},
		{name: "open on weekly hours", available: true, wantKind: ExceptionOpen},
		{name: "one bound only", available: true, start: strPtr("09:00"), wantKind: ExceptionOpen},
		{name: "empty bounds", available: true, start: strPtr(""), end: strPtr(""), wantKind: ExceptionOpen},
		{name: "custom window", available: true, start: strPtr("10:00"), end: strPtr("14:00"), wantKind: ExceptionCustomHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HoursFromFields(tt.available, tt.start, tt.end)
			if h.Kind() != tt.wantKind {
				t.Fatalf("kind = %q, want %q", h.Kind(), tt.wantKind)
			}
			if h.IsAvailable() != (tt.wantKind != ExceptionClosed) {
				t.Fatalf("IsAvailable = %v", h.IsAvailable())
			}

			available, start, end := h.Fields()
			back := HoursFromFields(available, start, end)
			if back != h {
				t.Fatalf("Fields round trip = %+v, want %+v", back, h)
			}
		})
	}
}

func TestExceptionHoursWindow(t *testing.T) {
	if _, _, ok := OpenWeeklyHours().Window(); ok {
		t.Fatal("weekly hours reported a custom window")
	}
	start, end, ok := CustomHours("10:00", "14:00").Window()
	if !ok || start != "10:00" || end != "14:00" {
		t.Fatalf("Window = %q %q %v", start, end, ok)
	}

	var zero ExceptionHours
	if zero.Kind() != ExceptionClosed {
		t.Fatalf("zero value kind = %q, want closed", zero.Kind())
	}
}

func TestAppointmentStatus(t *testing.T) {
	tests := []struct {
		status   AppointmentStatus
		valid    bool
		blocking bool
	}{
		{StatusPending, true, true},
		{StatusConfirmed, true, true},
		{StatusCancelled, true, false},
		{StatusCompleted, true, false},
		{"no_show", false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.valid {
				t.Errorf("Valid = %v, want %v", got, tt.valid)
			}
			if got := tt.status.Blocking(); got != tt.blocking {
				t.Errorf("Blocking = %v, want %v", got, tt.blocking)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	if got := NewNotFoundError("appointment", "").Error(); got != "appointment not found" {
		t.Errorf("not found = %q", got)
	}
	if got := NewNotFoundError("service", "s1").Error(); got != `service "s1" not found` {
		t.Errorf("not found with id = %q", got)
	}
	if got := NewConflictError("a", "b").Error(); got != "a; b" {
		t.Errorf("conflict = %q", got)
	}

	var cErr *ConflictError
	if !errors.As(NewConflictError("x"), &cErr) || cErr.Race {
		t.Fatalf("conflict = %+v", cErr)
	}
	if got := NewValidationError("days must be between %d and %d", 1, 30).Error(); got != "days must be between 1 and 30" {
		t.Errorf("validation = %q", got)
	}
}
