package availability

import (
	"testing"
	"time"
)

// 2025-01-06 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.January, 6+day, hour, minute, 0, 0, time.UTC)
}

func workConstraints() Constraints {
	windows := make([]Window, 0, 5)
	for d := 0; d < 5; d++ {
		windows = append(windows, Window{Day: d, Start: MustClock("09:00"), End: MustClock("17:00")})
	}
	return Constraints{"work": windows, "study": nil}
}

func TestWeekdayIsMondayBased(t *testing.T) {
	for day := 0; day < 7; day++ {
		if got := Weekday(at(day, 12, 0)); got != day {
			t.Fatalf("Weekday(%v) = %d, want %d", at(day, 12, 0), got, day)
		}
	}
}

func TestIsLegal(t *testing.T) {
	constraints := workConstraints()

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		space string
		want  bool
	}{
		{"no space", at(5, 2, 0), at(5, 3, 0), "", true},
		{"unknown space", at(5, 2, 0), at(5, 3, 0), "garden", true},
		{"empty window list", at(6, 23, 0), at(6, 23, 30), "study", true},
		{"inside window", at(0, 9, 0), at(0, 10, 0), "work", true},
		{"ends on window end", at(2, 16, 0), at(2, 17, 0), "work", true},
		{"before window", at(0, 8, 30), at(0, 9, 30), "work", false},
		{"overruns window end", at(0, 16, 30), at(0, 17, 30), "work", false},
		{"weekend", at(5, 10, 0), at(5, 11, 0), "work", false},
		{"spans midnight", at(0, 16, 0), at(1, 10, 0), "work", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsLegal(tc.start, tc.end, tc.space, constraints); got != tc.want {
				t.Fatalf("IsLegal = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNextLegalStart(t *testing.T) {
	constraints := workConstraints()

	tests := []struct {
		name   string
		from   time.Time
		space  string
		want   time.Time
		wantOK bool
	}{
		{"unconstrained returns from", at(5, 3, 17), "study", at(5, 3, 17), true},
		{"before window same day", at(0, 8, 10), "work", at(0, 9, 0), true},
		{"on window start", at(0, 9, 0), "work", at(0, 9, 0), true},
		{"inside window goes to next day", at(0, 9, 30), "work", at(1, 9, 0), true},
		{"friday evening skips weekend", at(4, 18, 0), "work", at(7, 9, 0), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NextLegalStart(tc.from, tc.space, constraints)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("NextLegalStart = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNextLegalStartMinimumAcrossWindows(t *testing.T) {
	constraints := Constraints{
		"association": {
			{Day: 2, Start: MustClock("18:00"), End: MustClock("22:00")},
			{Day: 2, Start: MustClock("07:00"), End: MustClock("08:00")},
		},
	}
	from := at(2, 6, 0)

	got, ok := NextLegalStart(from, "association", constraints)
	if !ok || !got.Equal(at(2, 7, 0)) {
		t.Fatalf("NextLegalStart = %v (%v), want %v", got, ok, at(2, 7, 0))
	}

	// Older releases returned the first configured window that qualified.
	legacy := Checker{FirstMatch: true}
	got, ok = legacy.NextLegalStart(from, "association", constraints)
	if !ok || !got.Equal(at(2, 18, 0)) {
		t.Fatalf("first-match NextLegalStart = %v (%v), want %v", got, ok, at(2, 18, 0))
	}
}

func TestNextLegalStartNoneWithinHorizon(t *testing.T) {
	// A window on a day index that never occurs cannot match.
	constraints := Constraints{"never": {{Day: 9, Start: MustClock("09:00"), End: MustClock("10:00")}}}

	if _, ok := NextLegalStart(at(0, 8, 0), "never", constraints); ok {
		t.Fatal("expected no legal start")
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:05")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Hour != 9 || c.Minute != 5 || c.String() != "09:05" {
		t.Fatalf("unexpected clock %+v", c)
	}

	for _, bad := range []string{"", "9", "24:00", "12:60", "ab:cd"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestConstraintsValidate(t *testing.T) {
	good := workConstraints()
	if err := good.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	bad := Constraints{"work": {{Day: 0, Start: MustClock("17:00"), End: MustClock("09:00")}}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for inverted window")
	}

	bad = Constraints{"work": {{Day: 7, Start: MustClock("09:00"), End: MustClock("17:00")}}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for day out of range")
	}
}
