package dedisperse

import "math"

// runningStats tracks an exponentially weighted mean and variance of the
// dedispersed time series, used to convert sample values into significance.
// The EMA adapts to slow gain drifts without a pulse ever dominating the
// baseline estimate.
type runningStats struct {
	mean  float64
	vr    float64
	n     int64
	alpha float64
}

func newRunningStats(alpha float64) *runningStats {
	return &runningStats{alpha: alpha}
}

func (s *runningStats) update(x float64) {
	if s.n == 0 {
		s.mean = x
		s.n = 1
		return
	}
	delta := x - s.mean
	s.mean += s.alpha * delta
	s.vr = (1 - s.alpha) * (s.vr + s.alpha*delta*delta)
	s.n++
}

// snr returns the significance of x against the current baseline, or 0 when
// the variance estimate has not converged.
func (s *runningStats) snr(x float64) float64 {
	if s.vr <= 0 {
		return 0
	}
	return (x - s.mean) / math.Sqrt(s.vr)
}

func (s *runningStats) count() int64 {
	return s.n
}
