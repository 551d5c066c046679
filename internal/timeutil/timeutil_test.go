package timeutil

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestToMinutes(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 570},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "9:30", wantErr: true},
		{in: "09:60", wantErr: true},
		{in: "", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToMinutes(tt.in)
			if tt.wantErr {
				var fErr *FormatError
				if !errors.As(err, &fErr) {
					t.Fatalf("err = %v, want *FormatError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToMinutes error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ToMinutes(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromMinutes_RoundTrip(t *testing.T) {
	for m := 0; m < 24*60; m += 7 {
		s := FromMinutes(m)
		back, err := ToMinutes(s)
		if err != nil {
			t.Fatalf("ToMinutes(%q) error: %v", s, err)
		}
		if back != m {
			t.Fatalf("round trip %d -> %q -> %d", m, s, back)
		}
	}
	if got := FromMinutes(65); got != "01:05" {
		t.Fatalf("FromMinutes(65) = %q, want %q", got, "01:05")
	}
}

func TestIsValidDate_RejectsImpossibleCalendarDays(t *testing.T) {
	valid := []string{"2024-02-29", "2026-12-31", "2026-01-01"}
	invalid := []string{"2024-02-30", "2023-02-29", "2026-13-01", "2026-00-10", "2026-1-01", "20260101", ""}

	for _, d := range valid {
		if !IsValidDate(d) {
			t.Fatalf("IsValidDate(%q) = false, want true", d)
		}
	}
	for _, d := range invalid {
		if IsValidDate(d) {
			t.Fatalf("IsValidDate(%q) = true, want false", d)
		}
	}
}

func TestDayOfWeek(t *testing.T) {
	if got := DayOfWeek("2026-01-04"); got != 0 {
		t.Fatalf("Sunday = %d, want 0", got)
	}
	if got := DayOfWeek("2026-01-05"); got != 1 {
		t.Fatalf("Monday = %d, want 1", got)
	}
	if got := DayOfWeek("2026-01-10"); got != 6 {
		t.Fatalf("Saturday = %d, want 6", got)
	}
	if got := DayOfWeek("not-a-date"); got != -1 {
		t.Fatalf("invalid = %d, want -1", got)
	}
}

func TestDateRange(t *testing.T) {
	got, err := DateRange("2026-02-27", "2026-03-02")
	if err != nil {
		t.Fatalf("DateRange error: %v", err)
	}
	want := []string{"2026-02-27", "2026-02-28", "2026-03-01", "2026-03-02"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DateRange = %v, want %v", got, want)
	}

	single, err := DateRange("2026-03-02", "2026-03-02")
	if err != nil {
		t.Fatalf("DateRange error: %v", err)
	}
	if len(single) != 1 {
		t.Fatalf("len = %d, want 1", len(single))
	}

	empty, err := DateRange("2026-03-02", "2026-03-01")
	if err != nil {
		t.Fatalf("DateRange error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("len = %d, want 0", len(empty))
	}

	if _, err := DateRange("bad", "2026-03-01"); err == nil {
		t.Fatalf("expected error for bad start")
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd string
		want                       bool
	}{
		{"identical", "10:00", "11:00", "10:00", "11:00", true},
		{"partial", "10:00", "11:00", "10:30", "11:30", true},
		{"contained", "09:00", "17:00", "12:00", "13:00", true},
		{"touching end", "10:00", "11:00", "11:00", "12:00", false},
		{"touching start", "11:00", "12:00", "10:00", "11:00", false},
		{"disjoint", "08:00", "09:00", "10:00", "11:00", false},
		{"malformed", "10:00", "11:00", "x", "12:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overlaps(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd)
			if got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
			if sym := Overlaps(tt.bStart, tt.bEnd, tt.aStart, tt.aEnd); sym != got {
				t.Fatalf("Overlaps not symmetric: %v vs %v", got, sym)
			}
		})
	}
}

func TestOverlapsMinutes_Symmetric(t *testing.T) {
	for as := 0; as < 120; as += 15 {
		for ae := as + 15; ae <= 150; ae += 15 {
			for bs := 0; bs < 120; bs += 15 {
				for be := bs + 15; be <= 150; be += 15 {
					if OverlapsMinutes(as, ae, bs, be) != OverlapsMinutes(bs, be, as, ae) {
						t.Fatalf("asymmetric for [%d,%d) [%d,%d)", as, ae, bs, be)
					}
				}
			}
		}
	}
}

func TestIsEndAfterStart(t *testing.T) {
	if !IsEndAfterStart("09:00", "09:01") {
		t.Fatalf("expected 09:01 after 09:00")
	}
	if IsEndAfterStart("09:00", "09:00") {
		t.Fatalf("equal times must not count as after")
	}
	if IsEndAfterStart("10:00", "09:00") {
		t.Fatalf("earlier end must not count as after")
	}
}

func TestClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	loc := time.FixedZone("plus2", 2*60*60)
	date, minutes := Clock(now, loc)
	if date != "2026-03-02" || minutes != 90 {
		t.Fatalf("Clock = %s %d, want 2026-03-02 90", date, minutes)
	}
}
