package risk

import (
	"math"
	"time"
)

// DecayedMagnitude returns the signal magnitude after exponential decay.
//
// A signal older than its TTL contributes nothing. A non-positive half-life
// disables decay. Future-dated signals are treated as age zero, so the
// result never exceeds the raw magnitude. Output is clamped to [0, MaxMagnitude].
func DecayedMagnitude(sig Signal, now time.Time, halfLife time.Duration) float64 {
	age := now.Sub(sig.Timestamp).Seconds()
	if age < 0 {
		age = 0
	}
	if sig.TTL > 0 && age > sig.TTL.Seconds() {
		return 0
	}

	mag := sig.Magnitude
	if halfLife <= 0 {
		return clamp(mag, 0, MaxMagnitude)
	}

	lambda := math.Ln2 / halfLife.Seconds()
	return clamp(mag*math.Exp(-lambda*age), 0, MaxMagnitude)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
