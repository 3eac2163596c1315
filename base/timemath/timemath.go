package timemath

import (
	"math"
	"time"
)

func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func Seconds(d time.Duration) float64 {
	return float64(d) / float64(time.Second)
}

func Nanoseconds(d time.Duration) float64 {
	return float64(d)
}

// FromNanoseconds rounds ns to the nearest representable duration.
func FromNanoseconds(ns float64) time.Duration {
	switch {
	case ns >= math.MaxInt64:
		return math.MaxInt64
	case ns <= math.MinInt64:
		return math.MinInt64
	default:
		return time.Duration(math.Round(ns))
	}
}

// PPB converts a fractional frequency offset to parts per billion.
func PPB(y float64) float64 {
	return y * 1e9
}
