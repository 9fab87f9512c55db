package risk

import (
	"testing"
	"time"
)

func TestMinuteInRange(t *testing.T) {
	cases := []struct {
		name       string
		start, end int
		minute     int
		want       bool
	}{
		{"inside daytime window", 510, 630, 540, true},
		{"before daytime window", 510, 630, 480, false},
		{"start edge", 510, 630, 510, true},
		{"end edge", 510, 630, 630, true},
		{"wrap before midnight", 1320, 120, 1380, true},
		{"wrap after midnight", 1320, 120, 60, true},
		{"wrap outside", 1320, 120, 720, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MinuteInRange(tc.start, tc.end, tc.minute); got != tc.want {
				t.Fatalf("MinuteInRange(%d, %d, %d) = %v, want %v", tc.start, tc.end, tc.minute, got, tc.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	if m, err := ParseClock("08:30"); err != nil || m != 510 {
		t.Fatalf("expected 510, got %d (%v)", m, err)
	}
	for _, bad := range []string{"", "8", "24:00", "12:60", "ab:cd", "1:2:3"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestWindowEvaluatesInOwnTimezone(t *testing.T) {
	w, err := CompileWindow(WindowConfig{
		Label: "RBI", Timezone: "Asia/Kolkata", Start: "08:30", End: "10:30",
		Days: []int{1, 2, 3, 4, 5}, BoostBps: 5, RiskWeight: 1.25,
	})
	if err != nil {
		t.Fatalf("compile window: %v", err)
	}

	// 03:30 UTC on a Monday is 09:00 in Kolkata.
	monday := time.Date(2026, 10, 19, 3, 30, 0, 0, time.UTC)
	if !w.Contains(monday) {
		t.Fatal("expected Monday 09:00 IST to be inside the window")
	}
	// 09:00 UTC is 14:30 IST.
	if w.Contains(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)) {
		t.Fatal("09:00 UTC is outside the IST window")
	}
	// Saturday is filtered out.
	if w.Contains(time.Date(2026, 10, 24, 3, 30, 0, 0, time.UTC)) {
		t.Fatal("weekend should not match a weekday-only window")
	}
}

func TestCompileWindowErrors(t *testing.T) {
	bad := []WindowConfig{
		{Timezone: "Mars/Olympus", Start: "08:00", End: "09:00"},
		{Timezone: "UTC", Start: "8am", End: "09:00"},
		{Timezone: "UTC", Start: "08:00", End: "09:00", Days: []int{7}},
	}
	for i, cfg := range bad {
		if _, err := CompileWindow(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}

	w, err := CompileWindow(WindowConfig{Timezone: "UTC", Start: "08:00", End: "09:00"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if w.RiskWeight != 1 {
		t.Fatalf("risk weight should default to 1, got %v", w.RiskWeight)
	}
}

func TestMatchWindowsPolicies(t *testing.T) {
	first, _ := CompileWindow(WindowConfig{Label: "first", Timezone: "UTC", Start: "22:00", End: "02:00", BoostBps: 2, RiskWeight: 1.1})
	second, _ := CompileWindow(WindowConfig{Label: "second", Timezone: "UTC", Start: "00:00", End: "03:00", BoostBps: 8, RiskWeight: 1.5})
	windows := []Window{first, second}

	at := time.Date(2026, 10, 18, 1, 0, 0, 0, time.UTC)

	eff := MatchWindows(windows, at, WindowPolicyFirstMatch)
	if !eff.InWindow || eff.Label != "first" || eff.ExtraBps != 2 {
		t.Fatalf("first-match should pick the first configured window, got %+v", eff)
	}

	eff = MatchWindows(windows, at, WindowPolicyMaxBoost)
	if eff.Label != "second" || eff.ExtraBps != 8 || eff.RiskWeight != 1.5 {
		t.Fatalf("max-boost should pick the largest boost, got %+v", eff)
	}

	eff = MatchWindows(windows, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), WindowPolicyFirstMatch)
	if eff.InWindow || eff.ExtraBps != 0 || eff.RiskWeight != 1 {
		t.Fatalf("no match should be neutral, got %+v", eff)
	}
}

func TestParseWindowPolicy(t *testing.T) {
	if p, err := ParseWindowPolicy(""); err != nil || p != WindowPolicyFirstMatch {
		t.Fatalf("empty policy should be first-match, got %q (%v)", p, err)
	}
	if p, err := ParseWindowPolicy("MAX-BOOST"); err != nil || p != WindowPolicyMaxBoost {
		t.Fatalf("expected max-boost, got %q (%v)", p, err)
	}
	if _, err := ParseWindowPolicy("highest"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
