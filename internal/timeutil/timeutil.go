package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const DateLayout = "2006-01-02"

var (
	timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

type FormatError struct {
	Kind  string
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s format: %q", e.Kind, e.Value)
}

func IsValidTime(s string) bool {
	return timePattern.MatchString(s)
}

// IsValidDate requires the YYYY-MM-DD shape and a real calendar day.
// "2024-02-30" and "2024-13-01" are rejected rather than normalised.
func IsValidDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

func ToMinutes(s string) (int, error) {
	if !IsValidTime(s) {
		return 0, &FormatError{Kind: "time", Value: s}
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	return h*60 + m, nil
}

// MustMinutes is for values already validated with IsValidTime.
func MustMinutes(s string) int {
	m, err := ToMinutes(s)
	if err != nil {
		panic(err)
	}
	return m
}

func FromMinutes(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func ParseDate(s string) (time.Time, error) {
	if !IsValidDate(s) {
		return time.Time{}, &FormatError{Kind: "date", Value: s}
	}
	return time.Parse(DateLayout, s)
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DayOfWeek returns 0 (Sunday) through 6, or -1 when the date cannot be parsed.
func DayOfWeek(date string) int {
	t, err := ParseDate(date)
	if err != nil {
		return -1
	}
	return int(t.Weekday())
}

func AddDays(date string, days int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, days)), nil
}

// DateRange lists every date from start to end inclusive in ascending order.
// An end before start yields an empty range.
func DateRange(start, end string) ([]string, error) {
	s, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if e.Before(s) {
		return []string{}, nil
	}
	out := make([]string, 0, int(e.Sub(s).Hours()/24)+1)
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		out = append(out, FormatDate(d))
	}
	return out, nil
}

func IsEndAfterStart(start, end string) bool {
	s, err := ToMinutes(start)
	if err != nil {
		return false
	}
	e, err := ToMinutes(end)
	if err != nil {
		return false
	}
	return e > s
}

// Overlaps is the half-open test [aStart,aEnd) ∩ [bStart,bEnd) ≠ ∅ on HH:MM values.
// Malformed input never overlaps.
func Overlaps(aStart, aEnd, bStart, bEnd string) bool {
	as, err1 := ToMinutes(aStart)
	ae, err2 := ToMinutes(aEnd)
	bs, err3 := ToMinutes(bStart)
	be, err4 := ToMinutes(bEnd)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return false
	}
	return OverlapsMinutes(as, ae, bs, be)
}

func OverlapsMinutes(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// Clock returns the current date (YYYY-MM-DD) and minutes since midnight in loc.
func Clock(now time.Time, loc *time.Location) (string, int) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return FormatDate(local), local.Hour()*60 + local.Minute()
}
