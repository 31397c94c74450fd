package dates

import (
	"testing"
	"time"
)

func TestTodayKSTCrossesUTCMidnight(t *testing.T) {
	// 16:30 UTC is already the next day in Seoul.
	now := time.Date(2025, 3, 10, 16, 30, 0, 0, time.UTC)
	got := TodayKST(now)
	want := time.Date(2025, 3, 11, 0, 0, 0, 0, KST)
	if !got.Equal(want) {
		t.Fatalf("expected %v got %v", want, got)
	}

	// 14:00 UTC is still the same day in Seoul.
	now = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	got = TodayKST(now)
	want = time.Date(2025, 3, 10, 0, 0, 0, 0, KST)
	if !got.Equal(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestAddOneMonthNormalizes(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "mid month",
			in:   time.Date(2025, 4, 15, 0, 0, 0, 0, KST),
			want: time.Date(2025, 5, 15, 0, 0, 0, 0, KST),
		},
		{
			name: "jan 31 rolls into march",
			in:   time.Date(2025, 1, 31, 0, 0, 0, 0, KST),
			want: time.Date(2025, 3, 3, 0, 0, 0, 0, KST),
		},
		{
			name: "year boundary",
			in:   time.Date(2025, 12, 5, 0, 0, 0, 0, KST),
			want: time.Date(2026, 1, 5, 0, 0, 0, 0, KST),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AddOneMonth(tc.in); !got.Equal(tc.want) {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
}

func TestFormatYMD(t *testing.T) {
	in := time.Date(2025, 7, 4, 0, 0, 0, 0, KST)
	if got := FormatYMD(in); got != "2025-07-04" {
		t.Fatalf("expected 2025-07-04 got %q", got)
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2025, 3, 10, 16, 30, 0, 0, time.UTC) // Mar 11 in KST
	b := time.Date(2025, 3, 11, 2, 0, 0, 0, KST)
	if !SameDay(a, b) {
		t.Fatalf("expected same KST day")
	}
	c := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	if SameDay(a, c) {
		t.Fatalf("expected different KST days")
	}
}
