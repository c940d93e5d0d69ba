package qc

import "math"

// Evaluate applies the single-run Westgard rules to a control measurement.
// 1-3s (beyond 3 SD) rejects the run; 1-2s (beyond 2 SD) warns but accepts.
func Evaluate(value, mean, sd float64) (z float64, status QCStatus, rule string) {
	z = (value - mean) / sd
	switch {
	case math.Abs(z) > 3:
		return z, QCRejected, "1-3s"
	case math.Abs(z) > 2:
		return z, QCWarning, "1-2s"
	default:
		return z, QCAccepted, ""
	}
}
