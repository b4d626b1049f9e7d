package pricing

import "math"

// DefaultRateCentsPerMinute combines the telephony per-minute rate and the
// AI-session per-minute rate. It is a configured constant, not recomputed
// from live pricing APIs.
const DefaultRateCentsPerMinute = 7.3

// Calculator maps call durations to billed cost. Partial minutes round up,
// matching typical telephony billing.
type Calculator struct {
	rateCentsPerMinute float64
}

// NewCalculator creates a calculator with the given per-minute rate in cents.
// A zero or negative rate falls back to the default.
func NewCalculator(rateCentsPerMinute float64) *Calculator {
	if rateCentsPerMinute <= 0 {
		rateCentsPerMinute = DefaultRateCentsPerMinute
	}
	return &Calculator{rateCentsPerMinute: rateCentsPerMinute}
}

// CostCents returns the billed cost in whole cents for a call of the given
// duration. Duration is ceiled to whole minutes, then the per-minute rate is
// applied and the result rounded half away from zero.
func (c *Calculator) CostCents(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	minutes := (durationSeconds + 59) / 60
	return int(math.Round(float64(minutes) * c.rateCentsPerMinute))
}

// RateCentsPerMinute returns the configured per-minute rate.
func (c *Calculator) RateCentsPerMinute() float64 {
	return c.rateCentsPerMinute
}
