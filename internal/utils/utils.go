package utils

import "time"

// Now returns the current UTC time truncated to microseconds, matching the
// precision postgres stores for timestamp columns.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func NowPtr() *time.Time {
	now := Now()
	return &now
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
