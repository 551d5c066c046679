package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
	"appointly/backend/internal/timeutil"
)

const (
	MsgBusinessRequired = "Business ID is required"
	MsgServiceRequired  = "Service ID is required"
	MsgInvalidDate      = "Invalid date format (expected YYYY-MM-DD)"
	MsgInvalidTime      = "Invalid time format (expected HH:MM)"
	MsgPast             = "Cannot book appointments in the past"
	MsgSameDay          = "Appointment must end on the same day"
	MsgClosed           = "Business is closed on this date"
	MsgDayUnavailable   = "Business is not available on this day of the week"
	MsgSlotTaken        = "This time slot conflicts with existing appointments"
	MsgServiceInactive  = "Service not found or inactive"
)

// Mode selects whether evaluation stops at the first failing check.
type Mode int

const (
	FailFast Mode = iota
	CollectAll
)

type slotCheck struct {
	name string
	run  func(ctx context.Context, ev *evaluation) (string, error)
}

// slotChecks is evaluated in order by both the single-slot check and booking
// validation; only the mode differs.
var slotChecks = []slotCheck{
	{name: "past", run: checkPast},
	{name: "same_day", run: checkSameDay},
	{name: "exception", run: checkException},
	{name: "weekly_hours", run: checkWeeklyHours},
	{name: "overlap", run: checkOverlap},
	{name: "service", run: checkService},
}

type evaluation struct {
	e          *Engine
	businessID string
	serviceID  string
	date       string
	startMin   int
	endMin     int
	excludeID  uuid.UUID

	today  string
	nowMin int

	exception       *domain.AvailabilityException
	exceptionLoaded bool

	// serviceKnown is set when the caller already resolved the service.
	serviceKnown   bool
	serviceMissing bool
}

func (ev *evaluation) startTime() string { return timeutil.FromMinutes(ev.startMin) }

// endTime may read "24:00" or later for a slot that spills past midnight; it
// still orders after every valid HH:MM.
func (ev *evaluation) endTime() string { return timeutil.FromMinutes(ev.endMin) }

func (ev *evaluation) loadException(ctx context.Context) (*domain.AvailabilityException, error) {
	if ev.exceptionLoaded {
		return ev.exception, nil
	}
	ex, err := ev.e.schedule.GetExceptionByDate(ctx, ev.businessID, ev.date)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		ev.exception = &ex
	}
	ev.exceptionLoaded = true
	return ev.exception, nil
}

func (e *Engine) evaluate(ctx context.Context, ev *evaluation, mode Mode) ([]string, error) {
	var reasons []string
	for _, c := range slotChecks {
		reason, err := c.run(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("%s check: %w", c.name, err)
		}
		if reason == "" {
			continue
		}
		reasons = append(reasons, reason)
		if mode == FailFast {
			break
		}
	}
	return reasons, nil
}

func checkPast(ctx context.Context, ev *evaluation) (string, error) {
	if ev.date < ev.today || (ev.date == ev.today && ev.startMin <= ev.nowMin) {
		return MsgPast, nil
	}
	return "", nil
}

func checkSameDay(ctx context.Context, ev *evaluation) (string, error) {
	if ev.endMin >= minutesPerDay {
		return MsgSameDay, nil
	}
	return "", nil
}

func checkException(ctx context.Context, ev *evaluation) (string, error) {
	ex, err := ev.loadException(ctx)
	if err != nil || ex == nil {
		return "", err
	}
	switch ex.Hours.Kind() {
	case domain.ExceptionClosed:
		if ex.Reason != "" {
			return MsgClosed + ": " + ex.Reason, nil
		}
		return MsgClosed, nil
	case domain.ExceptionCustomHours:
		start, end, _ := ex.Hours.Window()
		if !within(ev.startMin, ev.endMin, start, end) {
			return fmt.Sprintf("Business hours on this date are %s–%s", start, end), nil
		}
	}
	return "", nil
}

// checkWeeklyHours applies only when no exception overrides the date's hours.
func checkWeeklyHours(ctx context.Context, ev *evaluation) (string, error) {
	ex, err := ev.loadException(ctx)
	if err != nil {
		return "", err
	}
	if ex != nil && ex.Hours.Kind() != domain.ExceptionOpen {
		return "", nil
	}

	rules, err := ev.e.schedule.ListRulesForDay(ctx, ev.businessID, timeutil.DayOfWeek(ev.date))
	if err != nil {
		return "", err
	}
	var hours []string
	for _, r := range rules {
		if !r.IsAvailable {
			continue
		}
		if within(ev.startMin, ev.endMin, r.StartTime, r.EndTime) {
			return "", nil
		}
		hours = append(hours, r.StartTime+"–"+r.EndTime)
	}
	if len(hours) == 0 {
		return MsgDayUnavailable, nil
	}
	return "Business hours are " + strings.Join(hours, ", "), nil
}

func checkOverlap(ctx context.Context, ev *evaluation) (string, error) {
	found, err := ev.e.appts.FindOverlapping(ctx, ev.businessID, ev.date, ev.startTime(), ev.endTime(), ev.excludeID)
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		return MsgSlotTaken, nil
	}
	return "", nil
}

func checkService(ctx context.Context, ev *evaluation) (string, error) {
	if ev.serviceID == "" {
		return "", nil
	}
	if ev.serviceKnown {
		if ev.serviceMissing {
			return MsgServiceInactive, nil
		}
		return "", nil
	}
	_, err := ev.e.activeService(ctx, ev.businessID, ev.serviceID)
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return MsgServiceInactive, nil
	}
	return "", err
}

// within reports whether [startMin, endMin) fits inside the HH:MM window.
func within(startMin, endMin int, from, until string) bool {
	lo, err1 := timeutil.ToMinutes(from)
	hi, err2 := timeutil.ToMinutes(until)
	if err1 != nil || err2 != nil {
		return false
	}
	return startMin >= lo && endMin <= hi
}

type SlotQuery struct {
	BusinessID           string
	Date                 string
	StartTime            string
	EndTime              string
	ServiceID            string
	ExcludeAppointmentID uuid.UUID
}

type SlotAvailability struct {
	Available bool
	Reason    string
}

// IsTimeSlotAvailable always reads live data and reports the first failing check.
func (e *Engine) IsTimeSlotAvailable(ctx context.Context, q SlotQuery) (_ SlotAvailability, err error) {
	ctx, span := e.tracer.Start(ctx, "availability.IsTimeSlotAvailable", trace.WithAttributes(
		attribute.String("business_id", q.BusinessID),
		attribute.String("date", q.Date),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(q.BusinessID) == "" {
		return SlotAvailability{}, domain.NewValidationError("business id is required")
	}
	if !timeutil.IsValidDate(q.Date) {
		return SlotAvailability{}, domain.NewValidationError("invalid date %q (expected YYYY-MM-DD)", q.Date)
	}
	if !timeutil.IsValidTime(q.StartTime) || !timeutil.IsValidTime(q.EndTime) {
		return SlotAvailability{}, domain.NewValidationError("invalid time range %q-%q (expected HH:MM)", q.StartTime, q.EndTime)
	}
	if !timeutil.IsEndAfterStart(q.StartTime, q.EndTime) {
		return SlotAvailability{}, domain.NewValidationError("end time must be after start time")
	}

	today, nowMin := timeutil.Clock(e.now(), e.loc)
	ev := &evaluation{
		e:          e,
		businessID: q.BusinessID,
		serviceID:  q.ServiceID,
		date:       q.Date,
		startMin:   timeutil.MustMinutes(q.StartTime),
		endMin:     timeutil.MustMinutes(q.EndTime),
		excludeID:  q.ExcludeAppointmentID,
		today:      today,
		nowMin:     nowMin,
	}
	reasons, err := e.evaluate(ctx, ev, FailFast)
	if err != nil {
		return SlotAvailability{}, err
	}
	if len(reasons) > 0 {
		return SlotAvailability{Available: false, Reason: reasons[0]}, nil
	}
	return SlotAvailability{Available: true}, nil
}

type BookingRequest struct {
	BusinessID           string
	ServiceID            string
	AppointmentDate      string
	StartTime            string
	ExcludeAppointmentID uuid.UUID
}

// BookingValidation lists every reason the request cannot be booked. EndTime is
// derived from the service duration and is empty when it cannot be computed.
type BookingValidation struct {
	IsAvailable bool
	Conflicts   []string
	Suggestion  *domain.SlotRef
	EndTime     string
}

// ValidateBookingRequest collects every failing check and, when the request is
// refused, suggests the next free slot. It reads outside any transaction, so a
// positive answer may be stale by the time the caller inserts.
func (e *Engine) ValidateBookingRequest(ctx context.Context, req BookingRequest) (_ BookingValidation, err error) {
	ctx, span := e.tracer.Start(ctx, "availability.ValidateBookingRequest", trace.WithAttributes(
		attribute.String("business_id", req.BusinessID),
		attribute.String("service_id", req.ServiceID),
		attribute.String("date", req.AppointmentDate),
	))
	defer func() { endSpan(span, err) }()

	var conflicts []string
	if strings.TrimSpace(req.BusinessID) == "" {
		conflicts = append(conflicts, MsgBusinessRequired)
	}
	if strings.TrimSpace(req.ServiceID) == "" {
		conflicts = append(conflicts, MsgServiceRequired)
	}
	if len(conflicts) > 0 {
		return BookingValidation{Conflicts: conflicts}, nil
	}

	if !timeutil.IsValidDate(req.AppointmentDate) {
		conflicts = append(conflicts, MsgInvalidDate)
	}
	if !timeutil.IsValidTime(req.StartTime) {
		conflicts = append(conflicts, MsgInvalidTime)
	}
	if len(conflicts) > 0 {
		return BookingValidation{Conflicts: conflicts}, nil
	}

	duration, missing := DefaultSlotMinutes, false
	svc, err := e.activeService(ctx, req.BusinessID, req.ServiceID)
	var nf *domain.NotFoundError
	switch {
	case err == nil:
		duration = svc.DurationMinutes
	case errors.As(err, &nf):
		missing = true
	default:
		return BookingValidation{}, err
	}

	today, nowMin := timeutil.Clock(e.now(), e.loc)
	startMin := timeutil.MustMinutes(req.StartTime)
	ev := &evaluation{
		e:          e,
		businessID: req.BusinessID,
		serviceID:  req.ServiceID,
		date:       req.AppointmentDate,
		startMin:   startMin,
		endMin:     startMin + duration,
		excludeID:  req.ExcludeAppointmentID,
		today:      today,
		nowMin:     nowMin,

		serviceKnown:   true,
		serviceMissing: missing,
	}
	reasons, err := e.evaluate(ctx, ev, CollectAll)
	if err != nil {
		return BookingValidation{}, err
	}

	out := BookingValidation{IsAvailable: len(reasons) == 0, Conflicts: reasons}
	if ev.endMin < minutesPerDay {
		out.EndTime = ev.endTime()
	}
	if out.IsAvailable {
		out.Conflicts = []string{}
		return out, nil
	}

	from := req.AppointmentDate
	if from < today {
		from = today
	}
	suggestion, err := e.NextAvailableSlot(ctx, req.BusinessID, req.ServiceID, from)
	if err != nil {
		e.log.Debug("no suggestion for refused booking", slog.String("business_id", req.BusinessID), slog.Any("err", err))
	} else {
		out.Suggestion = suggestion
	}
	span.SetAttributes(attribute.Int("conflicts", len(reasons)))
	return out, nil
}
