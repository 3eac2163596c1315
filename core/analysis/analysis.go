// Package analysis computes time error metrics of offset estimates against the
// ground truth of a trace.
package analysis

import (
	"math"

	"github.com/HdrHistogram/hdrhistogram-go"
	gfloats "gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/rodgdutra/ptp-dal/base/floats"
	"github.com/rodgdutra/ptp-dal/base/timemath"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

// RawKey selects the raw time offset measurements instead of an estimate.
const RawKey = "est"

const (
	mtieWindow0   = 10
	mtieWindowInc = 20
	mtieStride    = 20

	histMax    = 10_000_000_000 // ns
	histDigits = 3
)

// MaxTE returns the maximum absolute time error over sliding windows of
// windowLen samples, attributed to the last sample of each window. Samples
// without a window are zero.
func MaxTE(te []float64, windowLen int) []float64 {
	out := make([]float64, len(te))
	for i := 0; i < len(te)-windowLen; i++ {
		out[i+windowLen-1] = floats.MaxAbs(te[i : i+windowLen])
	}
	return out
}

// MTIE returns the maximum time interval error for observation intervals
// growing from 10 samples in steps of 20 samples, up to half the length of
// tie. Windows start every 20 samples. The first point is (0, 0).
func MTIE(tie []float64) (tau []int, mtie []float64) {
	tau, mtie = []int{0}, []float64{0}
	n := len(tie)
	for w := mtieWindow0; 2*w <= n; w += mtieWindowInc {
		m := 0.0
		for s := 0; s < n; s += mtieStride {
			tw := tie[s:min(s+w, n)]
			m = math.Max(m, floats.Max(tw)-floats.Min(tw))
		}
		tau = append(tau, w)
		mtie = append(mtie, m)
	}
	return tau, mtie
}

// PDV returns the Sync delay variation (t2[k]-t2[k-1]) - (t1[k]-t1[k-1]) in
// nanoseconds for every record but the first.
func PDV(t trace.Trace) []float64 {
	if len(t) < 2 {
		return nil
	}
	pdv := make([]float64, len(t)-1)
	for k := 1; k < len(t); k++ {
		d2 := t[k].T2.Sub(t[k-1].T2)
		d1 := t[k].T1.Sub(t[k-1].T1)
		pdv[k-1] = timemath.Nanoseconds(d2 - d1)
	}
	return pdv
}

// Errors returns x_<key> - x over the records of t past skip that carry both
// the estimate and the ground truth.
func Errors(t trace.Trace, key string, skip int) []float64 {
	return ErrorsFrom(t, t, key, skip)
}

// ErrorsFrom is like Errors but reads the estimates from src.
func ErrorsFrom(t trace.Trace, src trace.Source, key string, skip int) []float64 {
	var errs []float64
	xKey := "x_" + key
	for i := max(skip, 0); i < len(t); i++ {
		if t[i].X == nil {
			continue
		}
		var v float64
		if key == RawKey {
			v = t[i].XEst
		} else {
			var ok bool
			if v, ok = src.Estimate(i, xKey); !ok {
				continue
			}
		}
		errs = append(errs, v-*t[i].X)
	}
	return errs
}

type ErrStats struct {
	Count  int
	Mean   float64 // ns
	Std    float64 // ns
	RMS    float64 // ns
	MaxAbs float64 // ns

	// Quantiles of the absolute error, ns.
	P50, P90, P99 float64
}

func Stats(errs []float64) ErrStats {
	if len(errs) == 0 {
		return ErrStats{}
	}
	s := ErrStats{Count: len(errs)}
	s.Mean, s.Std = stat.MeanStdDev(errs, nil)
	if len(errs) == 1 {
		s.Std = 0
	}
	s.RMS = math.Sqrt(gfloats.Dot(errs, errs) / float64(len(errs)))
	s.MaxAbs = floats.MaxAbs(errs)

	h := hdrhistogram.New(1, histMax, histDigits)
	for _, e := range errs {
		v := min(int64(math.Round(math.Abs(e))), histMax)
		if err := h.RecordValue(v); err != nil {
			// v is clamped to the trackable range
			panic(err)
		}
	}
	s.P50 = float64(h.ValueAtQuantile(50))
	s.P90 = float64(h.ValueAtQuantile(90))
	s.P99 = float64(h.ValueAtQuantile(99))
	return s
}
