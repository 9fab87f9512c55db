package risk

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WindowPolicy decides which window applies when several match at once.
type WindowPolicy string

const (
	// WindowPolicyFirstMatch applies the first matching window in configured order.
	WindowPolicyFirstMatch WindowPolicy = "first-match"
	// WindowPolicyMaxBoost applies the matching window with the largest boost,
	// then the largest risk weight.
	WindowPolicyMaxBoost WindowPolicy = "max-boost"
)

// ParseWindowPolicy resolves a policy name; empty selects first-match.
func ParseWindowPolicy(v string) (WindowPolicy, error) {
	switch WindowPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", WindowPolicyFirstMatch:
		return WindowPolicyFirstMatch, nil
	case WindowPolicyMaxBoost:
		return WindowPolicyMaxBoost, nil
	default:
		return "", fmt.Errorf("unknown window policy %q", v)
	}
}

// WindowConfig is the operator-facing description of a sensitive window.
type WindowConfig struct {
	Label      string  `mapstructure:"label"`
	Timezone   string  `mapstructure:"timezone"`
	Start      string  `mapstructure:"start"`
	End        string  `mapstructure:"end"`
	Days       []int   `mapstructure:"days"`
	BoostBps   float64 `mapstructure:"boost_bps"`
	RiskWeight float64 `mapstructure:"risk_weight"`
}

// Window is a compiled, timezone-resolved sensitive window.
type Window struct {
	Label       string
	Location    *time.Location
	StartMinute int
	EndMinute   int
	Weekdays    []time.Weekday
	BoostBps    float64
	RiskWeight  float64
}

// WindowEffect is the outcome of matching windows at an instant.
type WindowEffect struct {
	InWindow   bool
	Label      string
	ExtraBps   float64
	RiskWeight float64
}

var noWindow = WindowEffect{RiskWeight: 1}

// CompileWindow validates a window config and resolves its timezone.
func CompileWindow(cfg WindowConfig) (Window, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Window{}, fmt.Errorf("window %q: load timezone %q: %w", cfg.Label, cfg.Timezone, err)
	}
	start, err := ParseClock(cfg.Start)
	if err != nil {
		return Window{}, fmt.Errorf("window %q: start: %w", cfg.Label, err)
	}
	end, err := ParseClock(cfg.End)
	if err != nil {
		return Window{}, fmt.Errorf("window %q: end: %w", cfg.Label, err)
	}

	days := make([]time.Weekday, 0, len(cfg.Days))
	for _, d := range cfg.Days {
		if d < 0 || d > 6 {
			return Window{}, fmt.Errorf("window %q: weekday %d out of range 0..6", cfg.Label, d)
		}
		days = append(days, time.Weekday(d))
	}

	weight := cfg.RiskWeight
	if weight <= 0 {
		weight = 1
	}

	return Window{
		Label:       cfg.Label,
		Location:    loc,
		StartMinute: start,
		EndMinute:   end,
		Weekdays:    days,
		BoostBps:    cfg.BoostBps,
		RiskWeight:  weight,
	}, nil
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q, want HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h*60 + m, nil
}

// MinuteInRange reports whether minute falls inside [start, end], wrapping
// past midnight when start > end.
func MinuteInRange(start, end, minute int) bool {
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// Contains reports whether t falls inside the window, evaluated in the
// window's own timezone.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.Location)
	if len(w.Weekdays) > 0 && !containsWeekday(w.Weekdays, local.Weekday()) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return MinuteInRange(w.StartMinute, w.EndMinute, minute)
}

func (w Window) effect() WindowEffect {
	return WindowEffect{InWindow: true, Label: w.Label, ExtraBps: w.BoostBps, RiskWeight: w.RiskWeight}
}

// MatchWindows evaluates windows at now under the given policy.
func MatchWindows(windows []Window, now time.Time, policy WindowPolicy) WindowEffect {
	best := noWindow
	for _, w := range windows {
		if !w.Contains(now) {
			continue
		}
		if policy != WindowPolicyMaxBoost {
			return w.effect()
		}
		if !best.InWindow || w.BoostBps > best.ExtraBps ||
			(w.BoostBps == best.ExtraBps && w.RiskWeight > best.RiskWeight) {
			best = w.effect()
		}
	}
	return best
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, candidate := range days {
		if candidate == d {
			return true
		}
	}
	return false
}
