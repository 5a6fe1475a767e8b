package scheduler

import "time"

// speedIndicator derives percent-per-second from successive progress
// observations. One instance per running job, used from that job's
// progress callback only.
type speedIndicator struct {
	lastPercent float64
	lastAt      time.Time
	now         func() time.Time
}

func newSpeedIndicator() *speedIndicator {
	return &speedIndicator{now: time.Now}
}

// observe records a progress sample and returns the smoothed rate in
// percent per second. The first sample yields zero.
func (s *speedIndicator) observe(percent float64) float64 {
	now := s.now()
	if s.lastAt.IsZero() {
		s.lastAt = now
		s.lastPercent = percent
		return 0
	}

	elapsed := now.Sub(s.lastAt).Seconds()
	if elapsed <= 0 {
		return 0
	}

	speed := (percent - s.lastPercent) / elapsed
	s.lastAt = now
	s.lastPercent = percent
	if speed < 0 {
		return 0
	}
	return speed
}
