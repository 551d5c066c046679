// Package availability derives bookable slots from a business's weekly rules,
// date exceptions and existing appointments, and checks individual slots
// against the same schedule.
package availability

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
	"appointly/backend/internal/timeutil"
)

const (
	MaxDays            = 30
	DefaultSlotMinutes = 60
	NextSlotWindowDays = 7

	minutesPerDay = 24 * 60
)

type Engine struct {
	schedule    store.ScheduleReader
	services    store.ServiceCatalog
	appts       store.AppointmentReader
	log         *slog.Logger
	now         func() time.Time
	loc         *time.Location
	defaultDays int
	tracer      trace.Tracer
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone in which "today" and "now" are evaluated.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithDefaultDays(days int) Option {
	return func(e *Engine) {
		if days > 0 && days <= MaxDays {
			e.defaultDays = days
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func NewEngine(schedule store.ScheduleReader, services store.ServiceCatalog, appts store.AppointmentReader, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		schedule:    schedule,
		services:    services,
		appts:       appts,
		log:         log.With(slog.String("component", "availability")),
		now:         time.Now,
		loc:         time.UTC,
		defaultDays: MaxDays,
		tracer:      otel.Tracer("appointly/availability"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options tune a calculation. Zero values fall back to the service record,
// today, the default window and the full day.
type Options struct {
	SlotDuration int
	BufferTime   *int
	StartDate    string
	Days         int
	StartTime    string
	EndTime      string
}

// Today returns the current date in the engine's location.
func (e *Engine) Today() string {
	today, _ := timeutil.Clock(e.now(), e.loc)
	return today
}

// ResolveDays applies the default and the cap to a requested day count.
func (e *Engine) ResolveDays(days int) int {
	if days <= 0 {
		return e.defaultDays
	}
	if days > MaxDays {
		return MaxDays
	}
	return days
}

func (o Options) validate() error {
	if o.SlotDuration < 0 {
		return domain.NewValidationError("slot duration must be positive")
	}
	if o.SlotDuration >= minutesPerDay {
		return domain.NewValidationError("slot duration must be shorter than a day")
	}
	if o.BufferTime != nil && *o.BufferTime < 0 {
		return domain.NewValidationError("buffer time must not be negative")
	}
	if o.Days < 0 {
		return domain.NewValidationError("days must not be negative")
	}
	if o.StartDate != "" && !timeutil.IsValidDate(o.StartDate) {
		return domain.NewValidationError("invalid start date %q (expected YYYY-MM-DD)", o.StartDate)
	}
	if o.StartTime != "" && !timeutil.IsValidTime(o.StartTime) {
		return domain.NewValidationError("invalid start time %q (expected HH:MM)", o.StartTime)
	}
	if o.EndTime != "" && !timeutil.IsValidTime(o.EndTime) {
		return domain.NewValidationError("invalid end time %q (expected HH:MM)", o.EndTime)
	}
	if o.StartTime != "" && o.EndTime != "" && !timeutil.IsEndAfterStart(o.StartTime, o.EndTime) {
		return domain.NewValidationError("end time must be after start time")
	}
	return nil
}

// Calculate returns one entry per date in the window, in date order. A business
// with no weekly rules has no slots at all.
func (e *Engine) Calculate(ctx context.Context, businessID, serviceID string, opts Options) (_ []domain.AvailabilitySlot, err error) {
	ctx, span := e.tracer.Start(ctx, "availability.Calculate", trace.WithAttributes(
		attribute.String("business_id", businessID),
		attribute.String("service_id", serviceID),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(businessID) == "" {
		return nil, domain.NewValidationError("business id is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	duration, buffer, err := e.resolveTiming(ctx, businessID, serviceID, opts)
	if err != nil {
		return nil, err
	}

	rules, err := e.schedule.ListRules(ctx, businessID, false)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return []domain.AvailabilitySlot{}, nil
	}

	today, nowMinutes := timeutil.Clock(e.now(), e.loc)
	startDate := opts.StartDate
	if startDate == "" {
		startDate = today
	}
	days := e.ResolveDays(opts.Days)
	endDate, err := timeutil.AddDays(startDate, days-1)
	if err != nil {
		return nil, domain.NewValidationError("invalid start date %q", startDate)
	}
	dates, err := timeutil.DateRange(startDate, endDate)
	if err != nil {
		return nil, domain.NewValidationError("invalid date range %s..%s", startDate, endDate)
	}

	exceptions, err := e.schedule.ListExceptions(ctx, businessID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]domain.AvailabilityException, len(exceptions))
	for _, ex := range exceptions {
		byDate[ex.Date] = ex
	}

	booked, err := e.appts.ListBooked(ctx, businessID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	bookedByDate := make(map[string][]domain.BookedInterval)
	for _, b := range booked {
		bookedByDate[b.Date] = append(bookedByDate[b.Date], b)
	}

	weekly := availableByDay(rules)

	clampStart, clampEnd := 0, minutesPerDay
	if opts.StartTime != "" {
		clampStart = timeutil.MustMinutes(opts.StartTime)
	}
	if opts.EndTime != "" {
		clampEnd = timeutil.MustMinutes(opts.EndTime)
	}

	out := make([]domain.AvailabilitySlot, 0, len(dates))
	for _, date := range dates {
		dow := timeutil.DayOfWeek(date)
		if dow < 0 {
			continue
		}
		day := domain.AvailabilitySlot{Date: date, DayOfWeek: dow, Slots: []domain.TimeSlot{}}

		if date < today {
			out = append(out, day)
			continue
		}

		for _, w := range effectiveWindows(byDate, weekly, date, dow) {
			from := max(w.start, clampStart)
			until := min(w.end, clampEnd)
			for _, slot := range generateSlots(date, from, until, duration, buffer) {
				start := timeutil.MustMinutes(slot.StartTime)
				if date == today && start <= nowMinutes {
					continue
				}
				if collides(bookedByDate[date], slot) {
					continue
				}
				day.Slots = append(day.Slots, slot)
			}
		}
		out = append(out, day)
	}

	span.SetAttributes(attribute.Int("days", len(out)))
	return out, nil
}

// NextAvailableSlot scans a week starting at startDate (today when empty) and
// returns the earliest free slot, or nil.
func (e *Engine) NextAvailableSlot(ctx context.Context, businessID, serviceID, startDate string) (*domain.SlotRef, error) {
	days, err := e.Calculate(ctx, businessID, serviceID, Options{StartDate: startDate, Days: NextSlotWindowDays})
	if err != nil {
		return nil, err
	}
	for _, day := range days {
		for _, slot := range day.Slots {
			if slot.Available {
				return &domain.SlotRef{Date: slot.Date, StartTime: slot.StartTime, EndTime: slot.EndTime}, nil
			}
		}
	}
	return nil, nil
}

func (e *Engine) resolveTiming(ctx context.Context, businessID, serviceID string, opts Options) (duration, buffer int, err error) {
	duration, buffer = DefaultSlotMinutes, 0
	if serviceID != "" {
		svc, err := e.activeService(ctx, businessID, serviceID)
		if err != nil {
			return 0, 0, err
		}
		duration, buffer = svc.DurationMinutes, svc.BufferMinutes
	}
	if opts.SlotDuration > 0 {
		duration = opts.SlotDuration
	}
	if opts.BufferTime != nil {
		buffer = *opts.BufferTime
	}
	if duration <= 0 {
		duration = DefaultSlotMinutes
	}
	return duration, buffer, nil
}

// activeService maps a missing or inactive service to NotFoundError.
func (e *Engine) activeService(ctx context.Context, businessID, serviceID string) (domain.Service, error) {
	svc, err := e.services.FindService(ctx, businessID, serviceID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Service{}, domain.NewNotFoundError("service", serviceID)
	}
	if err != nil {
		return domain.Service{}, err
	}
	if !svc.IsActive {
		return domain.Service{}, domain.NewNotFoundError("service", serviceID)
	}
	return svc, nil
}

type window struct {
	start, end int
}

func availableByDay(rules []domain.WeeklyRule) map[int][]window {
	out := make(map[int][]window)
	for _, r := range rules {
		if !r.IsAvailable {
			continue
		}
		start, err1 := timeutil.ToMinutes(r.StartTime)
		end, err2 := timeutil.ToMinutes(r.EndTime)
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		out[r.DayOfWeek] = append(out[r.DayOfWeek], window{start: start, end: end})
	}
	return out
}

// effectiveWindows applies the date's exception, if any, over the weekly hours.
func effectiveWindows(exceptions map[string]domain.AvailabilityException, weekly map[int][]window, date string, dow int) []window {
	ex, ok := exceptions[date]
	if !ok {
		return weekly[dow]
	}
	switch ex.Hours.Kind() {
	case domain.ExceptionCustomHours:
		s, e, _ := ex.Hours.Window()
		start, err1 := timeutil.ToMinutes(s)
		end, err2 := timeutil.ToMinutes(e)
		if err1 != nil || err2 != nil || end <= start {
			return nil
		}
		return []window{{start: start, end: end}}
	case domain.ExceptionOpen:
		return weekly[dow]
	default:
		return nil
	}
}

// generateSlots steps through [from, until) by duration+buffer. Every slot is
// exactly duration long and ends at or before until.
func generateSlots(date string, from, until, duration, buffer int) []domain.TimeSlot {
	if duration <= 0 || buffer < 0 {
		return nil
	}
	var out []domain.TimeSlot
	for t := from; t+duration <= until; t += duration + buffer {
		out = append(out, domain.TimeSlot{
			Date:      date,
			StartTime: timeutil.FromMinutes(t),
			EndTime:   timeutil.FromMinutes(t + duration),
			Available: true,
		})
	}
	return out
}

func collides(booked []domain.BookedInterval, slot domain.TimeSlot) bool {
	for _, b := range booked {
		if timeutil.Overlaps(slot.StartTime, slot.EndTime, b.StartTime, b.EndTime) {
			return true
		}
	}
	return false
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
