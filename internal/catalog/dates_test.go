package catalog

import (
	"testing"
	"time"
)

func TestParseSpan(t *testing.T) {
	ref := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	for _, tc := range []struct {
		in        string
		ok        bool
		start     time.Time
		end       time.Time
		ranged    bool
		yearKnown bool
	}{
		{in: "1 Feb", ok: true, start: day(2025, 2, 1), end: day(2025, 2, 1)},
		{in: "1 Feb-2 Feb", ok: true, start: day(2025, 2, 1), end: day(2025, 2, 2), ranged: true},
		{in: "28 feb - 3 MAR", ok: true, start: day(2025, 2, 28), end: day(2025, 3, 3), ranged: true},
		{in: "30 Dec-2 Jan", ok: true, start: day(2025, 12, 30), end: day(2026, 1, 2), ranged: true},
		{in: "5 September", ok: true, start: day(2025, 9, 5), end: day(2025, 9, 5)},
		{in: "01/02/2024", ok: true, start: day(2024, 2, 1), end: day(2024, 2, 1), yearKnown: true},
		{in: "2024-08-10", ok: true, start: day(2024, 8, 10), end: day(2024, 8, 10), yearKnown: true},
		{in: "10 Aug 2024", ok: true, start: day(2024, 8, 10), end: day(2024, 8, 10), yearKnown: true},
		{in: "31 Feb"},
		{in: "1 Foo"},
		{in: NoDateText},
		{in: ""},
		{in: "next weekend"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseSpan(tc.in, ref)
			if ok != tc.ok {
				t.Fatalf("ParseSpan(%q) ok=%v, want %v", tc.in, ok, tc.ok)
			}
			if !ok {
				return
			}
			if !got.Start.Equal(tc.start) || !got.End.Equal(tc.end) {
				t.Errorf("span = %v..%v, want %v..%v", got.Start, got.End, tc.start, tc.end)
			}
			if got.Ranged != tc.ranged || got.YearKnown != tc.yearKnown {
				t.Errorf("flags ranged=%v yearKnown=%v, want %v %v", got.Ranged, got.YearKnown, tc.ranged, tc.yearKnown)
			}
		})
	}
}

func TestSpanDays(t *testing.T) {
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := ParseSpan("1 Feb-3 Feb", ref)
	if got := s.Days(); got != 3 {
		t.Errorf("Days = %d, want 3", got)
	}
	s, _ = ParseSpan("1 Feb", ref)
	if got := s.Days(); got != 1 {
		t.Errorf("Days = %d, want 1", got)
	}
}

func TestFormatDate(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"1 Feb-2 Feb", "1 Feb-2 Feb"},
		{"2025-02-01", "2025-02-01"},
		{"15 Mar - 20 Mar", "15 Mar - 20 Mar"},
		{"15 March 2025", "15 Mar 2025"},
		{"01/02/2025", "1 Feb 2025"},
		{"7 mar", "7 Mar"},
		{NoDateText, NoDateText},
		{"sometime soon", "sometime soon"},
	} {
		if got := FormatDate(tc.in); got != tc.want {
			t.Errorf("FormatDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"Night Noodle Markets", 5, "Night..."},
		{"Café du Monde", 4, "Café..."},
		{"", 3, ""},
	} {
		if got := Truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
