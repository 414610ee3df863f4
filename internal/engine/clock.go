package engine

import "time"

// Clock supplies the wall-clock time stamped on records and notifications.
// Implemented by SystemClock (production) and testutil.DeterministicClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// stamp normalizes a clock reading to UTC at second precision, the
// resolution records carry.
func stamp(c Clock) time.Time {
	return c.Now().UTC().Truncate(time.Second)
}
