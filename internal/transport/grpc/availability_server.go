package grpc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"appointly/backend/internal/cache"
	"appointly/backend/internal/domain"
	"appointly/backend/internal/service/availability"
	"appointly/backend/internal/service/booking"
)

type calculator interface {
	Calculate(ctx context.Context, businessID, serviceID string, opts availability.Options) ([]domain.AvailabilitySlot, error)
}

type slotChecker interface {
	IsTimeSlotAvailable(ctx context.Context, q availability.SlotQuery) (availability.SlotAvailability, error)
	ValidateBookingRequest(ctx context.Context, req availability.BookingRequest) (availability.BookingValidation, error)
	NextAvailableSlot(ctx context.Context, businessID, serviceID, startDate string) (*domain.SlotRef, error)
}

type bookingService interface {
	Book(ctx context.Context, in booking.BookInput) (domain.Appointment, error)
	Reschedule(ctx context.Context, businessID string, id uuid.UUID, date, startTime string) (domain.Appointment, error)
	Cancel(ctx context.Context, businessID string, id uuid.UUID) (domain.Appointment, error)
	UpdateStatus(ctx context.Context, businessID string, id uuid.UUID, status domain.AppointmentStatus) (domain.Appointment, error)
}

type cacheControl interface {
	InvalidateBusiness(ctx context.Context, businessID string) error
	InvalidateService(ctx context.Context, serviceID, businessID string) error
	WarmUp(ctx context.Context, businessID string, serviceIDs ...string) error
	Stats(ctx context.Context, businessID string) cache.Stats
}

// AvailabilityServer answers slot queries and bookings. CalculateAvailability
// goes through the cache; the single-slot and booking paths always read live.
type AvailabilityServer struct {
	calc     calculator
	checker  slotChecker
	bookings bookingService
	cache    cacheControl
	log      *slog.Logger
}

var _ AvailabilityServiceServer = (*AvailabilityServer)(nil)

func NewAvailabilityServer(calc calculator, checker slotChecker, bookings bookingService, cacheCtl cacheControl, log *slog.Logger) *AvailabilityServer {
	if log == nil {
		log = slog.Default()
	}
	return &AvailabilityServer{
		calc:     calc,
		checker:  checker,
		bookings: bookings,
		cache:    cacheCtl,
		log:      log.With(slog.String("component", "grpc.availability")),
	}
}

func (s *AvailabilityServer) CalculateAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CalculateAvailability"))
	f := fieldsOf(req)

	businessID, serviceID := f.str("business_id"), f.str("service_id")
	opts := availability.Options{
		StartDate: f.str("start_date"),
		StartTime: f.str("start_time"),
		EndTime:   f.str("end_time"),
	}
	var err error
	if opts.SlotDuration, err = f.integer("slot_duration"); err != nil {
		return nil, statusError(log, err)
	}
	if opts.BufferTime, err = f.optInt("buffer_time"); err != nil {
		return nil, statusError(log, err)
	}
	if opts.Days, err = f.integer("days"); err != nil {
		return nil, statusError(log, err)
	}

	days, err := s.calc.Calculate(ctx, businessID, serviceID, opts)
	if err != nil {
		return nil, statusError(log.With(slog.String("business_id", businessID)), err)
	}

	log.Debug("availability calculated", slog.String("business_id", businessID), slog.String("service_id", serviceID), slog.Int("days", len(days)))
	return newStruct(map[string]any{"days": availabilityValue(days)})
}

func (s *AvailabilityServer) IsTimeSlotAvailable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "IsTimeSlotAvailable"))
	f := fieldsOf(req)

	exclude, err := f.optUUID("exclude_appointment_id")
	if err != nil {
		return nil, statusError(log, err)
	}
	res, err := s.checker.IsTimeSlotAvailable(ctx, availability.SlotQuery{
		BusinessID:           f.str("business_id"),
		Date:                 f.str("date"),
		StartTime:            f.str("start_time"),
		EndTime:              f.str("end_time"),
		ServiceID:            f.str("service_id"),
		ExcludeAppointmentID: exclude,
	})
	if err != nil {
		return nil, statusError(log, err)
	}

	out := map[string]any{"available": res.Available, "reason": nil}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	return newStruct(out)
}

func (s *AvailabilityServer) ValidateBookingRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ValidateBookingRequest"))
	f := fieldsOf(req)

	exclude, err := f.optUUID("exclude_appointment_id")
	if err != nil {
		return nil, statusError(log, err)
	}
	res, err := s.checker.ValidateBookingRequest(ctx, availability.BookingRequest{
		BusinessID:           f.str("business_id"),
		ServiceID:            f.str("service_id"),
		AppointmentDate:      f.str("appointment_date"),
		StartTime:            f.str("start_time"),
		ExcludeAppointmentID: exclude,
	})
	if err != nil {
		return nil, statusError(log, err)
	}

	out := map[string]any{
		"is_available": res.IsAvailable,
		"conflicts":    stringList(res.Conflicts),
		"suggestions":  nil,
	}
	if res.Suggestion != nil {
		out["suggestions"] = map[string]any{"next_available_slot": slotRefValue(res.Suggestion)}
	}
	return newStruct(out)
}

func (s *AvailabilityServer) GetNextAvailableSlot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetNextAvailableSlot"))
	f := fieldsOf(req)

	slot, err := s.checker.NextAvailableSlot(ctx, f.str("business_id"), f.str("service_id"), f.str("start_date"))
	if err != nil {
		return nil, statusError(log, err)
	}
	return newStruct(map[string]any{"slot": slotRefValue(slot)})
}

func (s *AvailabilityServer) CreateBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CreateBooking"))
	f := fieldsOf(req)

	appt, err := s.bookings.Book(ctx, booking.BookInput{
		BusinessID: f.str("business_id"),
		ServiceID:  f.str("service_id"),
		CustomerID: f.str("customer_id"),
		Date:       f.str("appointment_date"),
		StartTime:  f.str("start_time"),
		Notes:      f.str("notes"),
		Confirmed:  f.boolean("confirmed"),
	})
	if err != nil {
		return nil, statusError(log.With(slog.String("business_id", f.str("business_id"))), err)
	}
	return newStruct(map[string]any{"appointment": appointmentValue(appt)})
}

func (s *AvailabilityServer) RescheduleBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "RescheduleBooking"))
	f := fieldsOf(req)

	id, err := f.uuid("appointment_id")
	if err != nil {
		return nil, invalid(log, "invalid_uuid", "appointment_id must be a UUID")
	}
	appt, err := s.bookings.Reschedule(ctx, f.str("business_id"), id, f.str("appointment_date"), f.str("start_time"))
	if err != nil {
		return nil, statusError(log.With(slog.String("appointment_id", id.String())), err)
	}
	return newStruct(map[string]any{"appointment": appointmentValue(appt)})
}

func (s *AvailabilityServer) CancelBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CancelBooking"))
	f := fieldsOf(req)

	id, err := f.uuid("appointment_id")
	if err != nil {
		return nil, invalid(log, "invalid_uuid", "appointment_id must be a UUID")
	}
	appt, err := s.bookings.Cancel(ctx, f.str("business_id"), id)
	if err != nil {
		return nil, statusError(log.With(slog.String("appointment_id", id.String())), err)
	}
	return newStruct(map[string]any{"appointment": appointmentValue(appt)})
}

func (s *AvailabilityServer) UpdateBookingStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "UpdateBookingStatus"))
	f := fieldsOf(req)

	id, err := f.uuid("appointment_id")
	if err != nil {
		return nil, invalid(log, "invalid_uuid", "appointment_id must be a UUID")
	}
	appt, err := s.bookings.UpdateStatus(ctx, f.str("business_id"), id, domain.AppointmentStatus(f.str("status")))
	if err != nil {
		return nil, statusError(log.With(slog.String("appointment_id", id.String())), err)
	}
	return newStruct(map[string]any{"appointment": appointmentValue(appt)})
}

// InvalidateCache drops one service's entries when service_id is set, otherwise
// the whole business. A backend failure is reported as invalidated=false.
func (s *AvailabilityServer) InvalidateCache(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "InvalidateCache"))
	f := fieldsOf(req)

	businessID, serviceID := f.str("business_id"), f.str("service_id")
	if businessID == "" {
		return nil, invalid(log, "missing_business", "business_id is required")
	}
	var err error
	if serviceID != "" {
		err = s.cache.InvalidateService(ctx, serviceID, businessID)
	} else {
		err = s.cache.InvalidateBusiness(ctx, businessID)
	}
	if err != nil {
		log.Warn("cache invalidation failed", slog.String("business_id", businessID), slog.Any("err", err))
		return newStruct(map[string]any{"invalidated": false})
	}
	log.Info("cache invalidated", slog.String("business_id", businessID), slog.String("service_id", serviceID))
	return newStruct(map[string]any{"invalidated": true})
}

func (s *AvailabilityServer) WarmUpCache(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "WarmUpCache"))
	f := fieldsOf(req)

	businessID := f.str("business_id")
	if businessID == "" {
		return nil, invalid(log, "missing_business", "business_id is required")
	}
	out := map[string]any{"warmed": true, "error": nil}
	if err := s.cache.WarmUp(ctx, businessID, f.strings("service_ids")...); err != nil {
		log.Warn("cache warm up incomplete", slog.String("business_id", businessID), slog.Any("err", err))
		out["warmed"] = false
		out["error"] = err.Error()
	}
	return newStruct(out)
}

func (s *AvailabilityServer) GetCacheStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetCacheStats"))
	f := fieldsOf(req)

	businessID := f.str("business_id")
	if businessID == "" {
		return nil, invalid(log, "missing_business", "business_id is required")
	}
	return newStruct(statsValue(s.cache.Stats(ctx, businessID)))
}
