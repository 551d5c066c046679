// Package memory is an in-process implementation of the store interfaces.
// Transactions run one at a time against a private copy of the data that is
// swapped in on success, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type dataset struct {
	rules        map[uuid.UUID]domain.WeeklyRule
	exceptions   map[uuid.UUID]domain.AvailabilityException
	services     map[serviceKey]domain.Service
	appointments map[uuid.UUID]domain.Appointment
}

// Service ids are only unique within a business.
type serviceKey struct {
	businessID string
	id         string
}

func newDataset() *dataset {
	return &dataset{
		rules:        map[uuid.UUID]domain.WeeklyRule{},
		exceptions:   map[uuid.UUID]domain.AvailabilityException{},
		services:     map[serviceKey]domain.Service{},
		appointments: map[uuid.UUID]domain.Appointment{},
	}
}

func (d *dataset) clone() *dataset {
	out := &dataset{
		rules:        make(map[uuid.UUID]domain.WeeklyRule, len(d.rules)),
		exceptions:   make(map[uuid.UUID]domain.AvailabilityException, len(d.exceptions)),
		services:     make(map[serviceKey]domain.Service, len(d.services)),
		appointments: make(map[uuid.UUID]domain.Appointment, len(d.appointments)),
	}
	for k, v := range d.rules {
		out.rules[k] = v
	}
	for k, v := range d.exceptions {
		out.exceptions[k] = v
	}
	for k, v := range d.services {
		out.services[k] = v
	}
	for k, v := range d.appointments {
		out.appointments[k] = v
	}
	return out
}

type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *dataset
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newDataset(), now: func() time.Time { return time.Now().UTC() }}
}

var (
	_ store.ScheduleRepository    = (*Store)(nil)
	_ store.ServiceCatalog        = (*Store)(nil)
	_ store.ServiceWriter         = (*Store)(nil)
	_ store.AppointmentRepository = (*Store)(nil)
)

func (s *Store) view(fn func(d *dataset)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

func (s *Store) inTx(ctx context.Context, fn func(d *dataset) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func newID() (uuid.UUID, error) {
	return uuid.NewV7()
}

// Schedule reads.

func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (rule domain.WeeklyRule, err error) {
	s.view(func(d *dataset) { rule, err = d.getRule(id) })
	return rule, err
}

func (s *Store) ListRules(ctx context.Context, businessID string, onlyAvailable bool) (rules []domain.WeeklyRule, err error) {
	s.view(func(d *dataset) { rules = d.listRules(businessID, onlyAvailable, -1) })
	return rules, nil
}

func (s *Store) ListRulesForDay(ctx context.Context, businessID string, dayOfWeek int) (rules []domain.WeeklyRule, err error) {
	s.view(func(d *dataset) { rules = d.listRules(businessID, false, dayOfWeek) })
	return rules, nil
}

func (s *Store) GetException(ctx context.Context, id uuid.UUID) (ex domain.AvailabilityException, err error) {
	s.view(func(d *dataset) { ex, err = d.getException(id) })
	return ex, err
}

func (s *Store) GetExceptionByDate(ctx context.Context, businessID, date string) (ex domain.AvailabilityException, err error) {
	s.view(func(d *dataset) { ex, err = d.getExceptionByDate(businessID, date) })
	return ex, err
}

func (s *Store) ListExceptions(ctx context.Context, businessID, from, to string) (out []domain.AvailabilityException, err error) {
	s.view(func(d *dataset) { out = d.listExceptions(businessID, from, to) })
	return out, nil
}

func (s *Store) InBusinessTransaction(ctx context.Context, businessID string, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	return s.inTx(ctx, func(d *dataset) error {
		return fn(ctx, scheduleTx{d: d, now: s.now})
	})
}

// Services.

func (s *Store) FindService(ctx context.Context, businessID, serviceID string) (svc domain.Service, err error) {
	s.view(func(d *dataset) {
		found, ok := d.services[serviceKey{businessID: businessID, id: serviceID}]
		if !ok {
			err = store.ErrNotFound
			return
		}
		svc = found
	})
	return svc, err
}

func (s *Store) ListServices(ctx context.Context, businessID string, activeOnly bool) (out []domain.Service, err error) {
	s.view(func(d *dataset) {
		for _, svc := range d.services {
			if svc.BusinessID != businessID || (activeOnly && !svc.IsActive) {
				continue
			}
			out = append(out, svc)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SaveService(ctx context.Context, svc domain.Service) error {
	return s.inTx(ctx, func(d *dataset) error {
		now := s.now()
		key := serviceKey{businessID: svc.BusinessID, id: svc.ID}
		if existing, ok := d.services[key]; ok {
			svc.CreatedAt = existing.CreatedAt
		} else if svc.CreatedAt.IsZero() {
			svc.CreatedAt = now
		}
		svc.UpdatedAt = now
		d.services[key] = svc
		return nil
	})
}

// Appointments.

func (s *Store) ListBooked(ctx context.Context, businessID, from, to string) (out []domain.BookedInterval, err error) {
	s.view(func(d *dataset) {
		out = d.booked(businessID, func(a domain.Appointment) bool {
			return a.AppointmentDate >= from && a.AppointmentDate <= to
		})
	})
	return out, nil
}

func (s *Store) FindOverlapping(ctx context.Context, businessID, date, start, end string, excludeID uuid.UUID) (out []domain.BookedInterval, err error) {
	s.view(func(d *dataset) { out = d.overlapping(businessID, date, start, end, excludeID) })
	return out, nil
}

func (s *Store) GetAppointment(ctx context.Context, businessID string, id uuid.UUID) (appt domain.Appointment, err error) {
	s.view(func(d *dataset) { appt, err = d.getAppointment(businessID, id) })
	return appt, err
}

func (s *Store) InBookingTransaction(ctx context.Context, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return s.inTx(ctx, func(d *dataset) error {
		return fn(ctx, bookingTx{d: d, now: s.now})
	})
}

// dataset queries shared by direct reads and transactions.

func (d *dataset) getRule(id uuid.UUID) (domain.WeeklyRule, error) {
	rule, ok := d.rules[id]
	if !ok {
		return domain.WeeklyRule{}, store.ErrNotFound
	}
	return rule, nil
}

// listRules filters by business, and by day unless day is -1.
func (d *dataset) listRules(businessID string, onlyAvailable bool, day int) []domain.WeeklyRule {
	var out []domain.WeeklyRule
	for _, r := range d.rules {
		if r.BusinessID != businessID {
			continue
		}
		if onlyAvailable && !r.IsAvailable {
			continue
		}
		if day >= 0 && r.DayOfWeek != day {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (d *dataset) getException(id uuid.UUID) (domain.AvailabilityException, error) {
	ex, ok := d.exceptions[id]
	if !ok {
		return domain.AvailabilityException{}, store.ErrNotFound
	}
	return ex, nil
}

func (d *dataset) getExceptionByDate(businessID, date string) (domain.AvailabilityException, error) {
	for _, ex := range d.exceptions {
		if ex.BusinessID == businessID && ex.Date == date {
			return ex, nil
		}
	}
	return domain.AvailabilityException{}, store.ErrNotFound
}

// listExceptions treats empty bounds as open.
func (d *dataset) listExceptions(businessID, from, to string) []domain.AvailabilityException {
	var out []domain.AvailabilityException
	for _, ex := range d.exceptions {
		if ex.BusinessID != businessID {
			continue
		}
		if from != "" && ex.Date < from {
			continue
		}
		if to != "" && ex.Date > to {
			continue
		}
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (d *dataset) getAppointment(businessID string, id uuid.UUID) (domain.Appointment, error) {
	appt, ok := d.appointments[id]
	if !ok || appt.BusinessID != businessID {
		return domain.Appointment{}, store.ErrNotFound
	}
	return appt, nil
}

func (d *dataset) booked(businessID string, match func(domain.Appointment) bool) []domain.BookedInterval {
	var out []domain.BookedInterval
	for _, a := range d.appointments {
		if a.BusinessID != businessID || !a.Status.Blocking() || !match(a) {
			continue
		}
		out = append(out, domain.BookedInterval{
			AppointmentID: a.ID,
			Date:          a.AppointmentDate,
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (d *dataset) overlapping(businessID, date, start, end string, excludeID uuid.UUID) []domain.BookedInterval {
	return d.booked(businessID, func(a domain.Appointment) bool {
		if excludeID != uuid.Nil && a.ID == excludeID {
			return false
		}
		return a.AppointmentDate == date && a.StartTime < end && a.EndTime > start
	})
}
