package guard

import "time"

// Window is the configured backend maintenance window. While active, heavy
// remote operations (uploads) are suppressed and Message is returned to the
// operator instead.
type Window struct {
	Enabled   bool
	StartHour int
	EndHour   int
	Message   string
}

// InWindow reports whether now falls inside the [startHour, endHour) window.
// Equal bounds mean full-day maintenance. A window with startHour > endHour
// wraps past midnight.
func InWindow(now time.Time, startHour, endHour int) bool {
	h := now.Hour()
	switch {
	case startHour == endHour:
		return true
	case startHour < endHour:
		return h >= startHour && h < endHour
	default:
		return h >= startHour || h < endHour
	}
}

// Active reports whether the window applies at the given time.
func (w Window) Active(now time.Time) bool {
	if !w.Enabled {
		return false
	}
	return InWindow(now, w.StartHour, w.EndHour)
}
