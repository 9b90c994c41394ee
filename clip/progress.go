package clip

import "time"

// minTotal floors the progress denominator.
const minTotal = time.Millisecond

// TotalHint is the denominator used to normalize progress for r.
func TotalHint(r Request) time.Duration {
	if r.ExpectedTotal > 0 {
		return r.ExpectedTotal
	}
	return r.Duration
}

// RawRatio is elapsed/total without clamping. It exceeds 1 when processing
// outruns the hint.
func RawRatio(elapsed, total time.Duration) float64 {
	if total < minTotal {
		total = minTotal
	}
	return float64(elapsed) / float64(total)
}

// Estimate returns the completion fraction in [0, 1].
func Estimate(elapsed, total time.Duration) float64 {
	p := RawRatio(elapsed, total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
