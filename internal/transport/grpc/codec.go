package grpc

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"appointly/backend/internal/cache"
	"appointly/backend/internal/domain"
)

// fields reads typed values out of a request Struct. Absent keys and JSON
// nulls read as zero values.
type fields map[string]*structpb.Value

func fieldsOf(req *structpb.Struct) fields {
	return fields(req.GetFields())
}

func (f fields) present(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

func (f fields) str(key string) string {
	return strings.TrimSpace(f[key].GetStringValue())
}

func (f fields) optStr(key string) *string {
	if !f.present(key) {
		return nil
	}
	s := f.str(key)
	return &s
}

func (f fields) boolean(key string) bool {
	return f[key].GetBoolValue()
}

func (f fields) optBool(key string) *bool {
	if !f.present(key) {
		return nil
	}
	b := f.boolean(key)
	return &b
}

func (f fields) integer(key string) (int, error) {
	p, err := f.optInt(key)
	if err != nil || p == nil {
		return 0, err
	}
	return *p, nil
}

func (f fields) optInt(key string) (*int, error) {
	if !f.present(key) {
		return nil, nil
	}
	nv, ok := f[key].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, domain.NewValidationError("%s must be a number", key)
	}
	n := nv.NumberValue
	if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
		return nil, domain.NewValidationError("%s must be an integer", key)
	}
	i := int(n)
	return &i, nil
}

func (f fields) uuid(key string) (uuid.UUID, error) {
	id, err := uuid.Parse(f.str(key))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("%s must be a UUID", key)
	}
	return id, nil
}

// optUUID returns uuid.Nil when the key is absent or empty.
func (f fields) optUUID(key string) (uuid.UUID, error) {
	if f.str(key) == "" {
		return uuid.Nil, nil
	}
	return f.uuid(key)
}

func (f fields) list(key string) []*structpb.Value {
	return f[key].GetListValue().GetValues()
}

func (f fields) strings(key string) []string {
	var out []string
	for _, v := range f.list(key) {
		if s := strings.TrimSpace(v.GetStringValue()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return s, nil
}

func stringList(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

func availabilityValue(days []domain.AvailabilitySlot) []any {
	out := make([]any, 0, len(days))
	for _, d := range days {
		slots := make([]any, 0, len(d.Slots))
		for _, s := range d.Slots {
			slots = append(slots, map[string]any{
				"date":       s.Date,
				"start_time": s.StartTime,
				"end_time":   s.EndTime,
				"available":  s.Available,
			})
		}
		out = append(out, map[string]any{
			"date":        d.Date,
			"day_of_week": d.DayOfWeek,
			"slots":       slots,
		})
	}
	return out
}

func slotRefValue(ref *domain.SlotRef) any {
	if ref == nil {
		return nil
	}
	return map[string]any{
		"date":       ref.Date,
		"start_time": ref.StartTime,
		"end_time":   ref.EndTime,
	}
}

func appointmentValue(a domain.Appointment) map[string]any {
	return map[string]any{
		"id":               a.ID.String(),
		"business_id":      a.BusinessID,
		"service_id":       a.ServiceID,
		"customer_id":      a.CustomerID,
		"appointment_date": a.AppointmentDate,
		"start_time":       a.StartTime,
		"end_time":         a.EndTime,
		"status":           string(a.Status),
		"notes":            a.Notes,
	}
}

func ruleValue(r domain.WeeklyRule) map[string]any {
	return map[string]any{
		"id":           r.ID.String(),
		"business_id":  r.BusinessID,
		"day_of_week":  r.DayOfWeek,
		"start_time":   r.StartTime,
		"end_time":     r.EndTime,
		"is_available": r.IsAvailable,
	}
}

func rulesValue(rules []domain.WeeklyRule) []any {
	out := make([]any, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleValue(r))
	}
	return out
}

func exceptionValue(ex domain.AvailabilityException) map[string]any {
	isAvailable, start, end := ex.Hours.Fields()
	m := map[string]any{
		"id":           ex.ID.String(),
		"business_id":  ex.BusinessID,
		"date":         ex.Date,
		"kind":         string(ex.Hours.Kind()),
		"is_available": isAvailable,
		"start_time":   nil,
		"end_time":     nil,
		"reason":       ex.Reason,
	}
	if start != nil {
		m["start_time"] = *start
	}
	if end != nil {
		m["end_time"] = *end
	}
	return m
}

func exceptionsValue(exs []domain.AvailabilityException) []any {
	out := make([]any, 0, len(exs))
	for _, ex := range exs {
		out = append(out, exceptionValue(ex))
	}
	return out
}

func statsValue(s cache.Stats) map[string]any {
	return map[string]any{
		"business_id": s.BusinessID,
		"hits":        s.Hits,
		"misses":      s.Misses,
		"hit_rate":    s.HitRate,
		"entries":     s.Entries,
		"version":     s.Version,
	}
}

// exceptionHours reads is_available plus an optional start_time/end_time pair.
// A half-specified window is rejected rather than silently widened.
func (f fields) exceptionHours() (domain.ExceptionHours, error) {
	start, end := f.optStr("start_time"), f.optStr("end_time")
	if (start == nil) != (end == nil) {
		return domain.ExceptionHours{}, domain.NewValidationError("start_time and end_time must be given together")
	}
	return domain.HoursFromFields(f.boolean("is_available"), start, end), nil
}
