package pipeline

import "time"

// throttle rate-limits progress callbacks to one per interval. Not safe
// for concurrent use; each supervised run owns its own instance.
type throttle struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval, now: time.Now}
}

// allow reports whether an update may be emitted now.
func (t *throttle) allow() bool {
	if t.interval <= 0 {
		return true
	}
	now := t.now()
	if t.last.IsZero() || now.Sub(t.last) >= t.interval {
		t.last = now
		return true
	}
	return false
}
