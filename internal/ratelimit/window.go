package ratelimit

import (
	"math"
	"time"
)

// Window is a rolling time bucket over which request and token counts are
// tracked independently. A request must satisfy every window to be admitted.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Windows returns all windows ordered tightest first. Check order matters
// only for which violation is reported.
func Windows() []Window {
	return []Window{WindowMinute, WindowHour, WindowDay}
}

// Duration returns the fixed length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func (w Window) String() string {
	return string(w)
}

// IsExpired reports whether a window opened at startedAt has run out.
func IsExpired(startedAt time.Time, duration time.Duration, now time.Time) bool {
	return now.Sub(startedAt) >= duration
}

// RemainingSeconds returns the whole seconds left in the window, used for
// Retry-After. Never negative.
func RemainingSeconds(startedAt time.Time, duration time.Duration, now time.Time) int {
	remaining := duration - now.Sub(startedAt)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}
