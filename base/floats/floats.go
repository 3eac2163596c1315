package floats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

func midpoint(x, y float64) float64 {
	return x + (y-x)/2.0
}

// Median sorts fs in place.
func Median(fs []float64) float64 {
	n := len(fs)
	if n == 0 {
		panic("unexpected number of values")
	}
	slices.Sort(fs)
	i := n / 2
	if n%2 != 0 {
		return fs[i]
	}
	return midpoint(fs[i-1], fs[i])
}

func Mean(fs []float64) float64 {
	n := len(fs)
	if n == 0 {
		panic("unexpected number of values")
	}
	return floats.Sum(fs) / float64(n)
}

func Min(fs []float64) float64 {
	if len(fs) == 0 {
		panic("unexpected number of values")
	}
	return floats.Min(fs)
}

func Max(fs []float64) float64 {
	if len(fs) == 0 {
		panic("unexpected number of values")
	}
	return floats.Max(fs)
}

// CumSum stores the running sum of fs in dst and returns dst.
func CumSum(dst, fs []float64) []float64 {
	if len(dst) != len(fs) {
		panic("unexpected number of values")
	}
	if len(fs) == 0 {
		return dst
	}
	return floats.CumSum(dst, fs)
}

// Quantize stores round(fs[i]/width) in dst, rounding half to even.
func Quantize(dst, fs []float64, width float64) []float64 {
	if len(dst) != len(fs) {
		panic("unexpected number of values")
	}
	for i, f := range fs {
		dst[i] = math.RoundToEven(f / width)
	}
	return dst
}

// Mode returns the most frequent value of fs and its number of occurrences.
// Ties resolve to the smallest value. Mode sorts fs in place.
func Mode(fs []float64) (float64, int) {
	n := len(fs)
	if n == 0 {
		panic("unexpected number of values")
	}
	slices.Sort(fs)
	mode, cnt := fs[0], 1
	run := 1
	for i := 1; i < n; i++ {
		if fs[i] == fs[i-1] {
			run++
		} else {
			run = 1
		}
		if run > cnt {
			mode, cnt = fs[i], run
		}
	}
	return mode, cnt
}

func MaxAbs(fs []float64) float64 {
	if len(fs) == 0 {
		panic("unexpected number of values")
	}
	m := 0.0
	for _, f := range fs {
		m = math.Max(m, math.Abs(f))
	}
	return m
}
