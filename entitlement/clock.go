package entitlement

import "time"

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies "now" to the engine. Inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// =============================================================================
// DAY ARITHMETIC
// =============================================================================

const day = 24 * time.Hour

// DaysBetween returns whole days from `from` to `to`, flooring toward
// negative infinity. Flooring matches "time remaining" semantics: one hour
// past a deadline is day -1, not day 0, and one hour before it is day 0.
func DaysBetween(from, to time.Time) int {
	d := to.Sub(from)
	days := d / day
	if d%day < 0 {
		days--
	}
	return int(days)
}

// DaysUntil returns whole days from now until t, flooring.
func DaysUntil(t, now time.Time) int {
	return DaysBetween(now, t)
}
