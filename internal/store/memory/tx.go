package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type scheduleTx struct {
	d   *dataset
	now func() time.Time
}

func (t scheduleTx) GetRule(ctx context.Context, id uuid.UUID) (domain.WeeklyRule, error) {
	return t.d.getRule(id)
}

func (t scheduleTx) ListRules(ctx context.Context, businessID string, onlyAvailable bool) ([]domain.WeeklyRule, error) {
	return t.d.listRules(businessID, onlyAvailable, -1), nil
}

func (t scheduleTx) ListRulesForDay(ctx context.Context, businessID string, dayOfWeek int) ([]domain.WeeklyRule, error) {
	return t.d.listRules(businessID, false, dayOfWeek), nil
}

func (t scheduleTx) GetException(ctx context.Context, id uuid.UUID) (domain.AvailabilityException, error) {
	return t.d.getException(id)
}

func (t scheduleTx) GetExceptionByDate(ctx context.Context, businessID, date string) (domain.AvailabilityException, error) {
	return t.d.getExceptionByDate(businessID, date)
}

func (t scheduleTx) ListExceptions(ctx context.Context, businessID, from, to string) ([]domain.AvailabilityException, error) {
	return t.d.listExceptions(businessID, from, to), nil
}

func (t scheduleTx) CreateRule(ctx context.Context, rule domain.WeeklyRule) (domain.WeeklyRule, error) {
	if rule.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.WeeklyRule{}, err
		}
		rule.ID = id
	}
	if _, exists := t.d.rules[rule.ID]; exists {
		return domain.WeeklyRule{}, store.ErrDuplicate
	}
	now := t.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	t.d.rules[rule.ID] = rule
	return rule, nil
}

func (t scheduleTx) UpdateRule(ctx context.Context, rule domain.WeeklyRule) (domain.WeeklyRule, error) {
	existing, ok := t.d.rules[rule.ID]
	if !ok || existing.BusinessID != rule.BusinessID {
		return domain.WeeklyRule{}, store.ErrNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = t.now()
	t.d.rules[rule.ID] = rule
	return rule, nil
}

func (t scheduleTx) DeleteRule(ctx context.Context, businessID string, id uuid.UUID) error {
	existing, ok := t.d.rules[id]
	if !ok || existing.BusinessID != businessID {
		return store.ErrNotFound
	}
	delete(t.d.rules, id)
	return nil
}

func (t scheduleTx) DeleteAllRules(ctx context.Context, businessID string) (int, error) {
	n := 0
	for id, r := range t.d.rules {
		if r.BusinessID == businessID {
			delete(t.d.rules, id)
			n++
		}
	}
	return n, nil
}

func (t scheduleTx) CreateException(ctx context.Context, ex domain.AvailabilityException) (domain.AvailabilityException, error) {
	if _, err := t.d.getExceptionByDate(ex.BusinessID, ex.Date); err == nil {
		return domain.AvailabilityException{}, store.ErrDuplicate
	}
	if ex.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.AvailabilityException{}, err
		}
		ex.ID = id
	}
	now := t.now()
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now
	}
	ex.UpdatedAt = now
	t.d.exceptions[ex.ID] = ex
	return ex, nil
}

func (t scheduleTx) UpdateException(ctx context.Context, ex domain.AvailabilityException) (domain.AvailabilityException, error) {
	existing, ok := t.d.exceptions[ex.ID]
	if !ok || existing.BusinessID != ex.BusinessID {
		return domain.AvailabilityException{}, store.ErrNotFound
	}
	if other, err := t.d.getExceptionByDate(ex.BusinessID, ex.Date); err == nil && other.ID != ex.ID {
		return domain.AvailabilityException{}, store.ErrDuplicate
	}
	ex.CreatedAt = existing.CreatedAt
	ex.UpdatedAt = t.now()
	t.d.exceptions[ex.ID] = ex
	return ex, nil
}

func (t scheduleTx) DeleteException(ctx context.Context, businessID string, id uuid.UUID) error {
	existing, ok := t.d.exceptions[id]
	if !ok || existing.BusinessID != businessID {
		return store.ErrNotFound
	}
	delete(t.d.exceptions, id)
	return nil
}

func (t scheduleTx) DeleteExceptions(ctx context.Context, businessID, from, to string) (int, error) {
	matched := t.d.listExceptions(businessID, from, to)
	for _, ex := range matched {
		delete(t.d.exceptions, ex.ID)
	}
	return len(matched), nil
}

type bookingTx struct {
	d   *dataset
	now func() time.Time
}

func (t bookingTx) FindOverlapping(ctx context.Context, businessID, date, start, end string, excludeID uuid.UUID) ([]domain.BookedInterval, error) {
	return t.d.overlapping(businessID, date, start, end, excludeID), nil
}

func (t bookingTx) GetAppointmentForUpdate(ctx context.Context, businessID string, id uuid.UUID) (domain.Appointment, error) {
	return t.d.getAppointment(businessID, id)
}

func (t bookingTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	if _, exists := t.d.appointments[appt.ID]; exists {
		return domain.Appointment{}, store.ErrDuplicate
	}
	now := t.now()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	t.d.appointments[appt.ID] = appt
	return appt, nil
}

func (t bookingTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	existing, ok := t.d.appointments[appt.ID]
	if !ok || existing.BusinessID != appt.BusinessID {
		return domain.Appointment{}, store.ErrNotFound
	}
	appt.CreatedAt = existing.CreatedAt
	appt.UpdatedAt = t.now()
	t.d.appointments[appt.ID] = appt
	return appt, nil
}
