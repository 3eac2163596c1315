// Package ls fits time offset and drift to sliding windows of raw time
// offset measurements by least squares.
package ls

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/rodgdutra/ptp-dal/base/timemath"
	"github.com/rodgdutra/ptp-dal/base/window"
	"github.com/rodgdutra/ptp-dal/base/zaplog"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

const (
	ModeT1  = "t1"
	ModeT2  = "t2"
	ModeEff = "eff"

	// Number of windows stacked per matrix in the efficient implementation.
	batchSize = 4096
)

type Estimator struct {
	log      *zap.Logger
	n        int
	data     trace.Trace
	periodNs float64
}

// New returns a least-squares estimator over windows of n samples. periodNs is
// the nominal measurement period; if it is not a finite positive value, it is
// learned from the t1 timestamps when processing.
func New(log *zap.Logger, n int, data trace.Trace, periodNs float64) *Estimator {
	log = zaplog.Or(log)
	if math.IsInf(periodNs, 0) || math.IsNaN(periodNs) || periodNs <= 0 {
		log.Warn("measurement period was not defined")
		periodNs = math.Inf(1)
	}
	return &Estimator{log: log, n: n, data: data, periodNs: periodNs}
}

// Period returns the nominal or learned measurement period in nanoseconds.
func (e *Estimator) Period() float64 {
	return e.periodNs
}

func Key(mode string) string {
	return "ls_" + mode
}

// Process writes x_ls_<mode> and y_ls_<mode> onto the last record of every
// window.
func (e *Estimator) Process(mode string) error {
	return e.ProcessTo(mode, e.data)
}

func (e *Estimator) ProcessTo(mode string, sink trace.Sink) error {
	switch mode {
	case ModeT1, ModeT2, ModeEff:
	default:
		return fmt.Errorf("unsupported LS timestamp mode %q: %w", mode, trace.ErrInvalidArgument)
	}
	if e.n < 2 {
		return fmt.Errorf("LS window length must be >= 2, got %d: %w", e.n, trace.ErrInvalidArgument)
	}
	if len(e.data) < e.n {
		return fmt.Errorf("LS window length %d, trace length %d: %w",
			e.n, len(e.data), trace.ErrWindowTooLong)
	}

	e.log.Debug("processing LS", zap.String("mode", mode), zap.Int("N", e.n))

	if math.IsInf(e.periodNs, 0) {
		e.periodNs = MeanPeriod(e.data)
		e.log.Info("automatically setting measurement period",
			zap.Float64("T (ns)", e.periodNs))
	}

	xKey, yKey := "x_"+Key(mode), "y_"+Key(mode)
	if mode == ModeEff {
		e.processEff(sink, xKey, yKey)
		return nil
	}
	return e.processTimed(mode, sink, xKey, yKey)
}

// MeanPeriod returns the mean interval between successive t1 timestamps in
// nanoseconds, or NaN for traces of fewer than two records.
func MeanPeriod(data trace.Trace) float64 {
	if len(data) < 2 {
		return math.NaN()
	}
	// The mean of successive differences telescopes to the overall span.
	span := data[len(data)-1].T1.Sub(data[0].T1)
	return timemath.Nanoseconds(span) / float64(len(data)-1)
}

// Regressing against the sample index 0..N-1 rather than against time gives
// a pseudo-inverse that depends on N only. Applied to the accumulators
// Q1 = sum(x[k]) and Q2 = sum(k*x[k]) it yields the initial offset x0 and the
// drift per sample y*T.
func pseudoInverse(n int) (p00, p01, p10, p11 float64) {
	fn := float64(n)
	s := 2 / (fn * (fn + 1))
	return s * (2*fn - 1), s * -3, s * -3, s * 6 / (fn - 1)
}

func (e *Estimator) processEff(sink trace.Sink, xKey, yKey string) {
	n := e.n
	x := e.data.XEst()
	nWindows := len(x) - n + 1
	p00, p01, p10, p11 := pseudoInverse(n)

	ones := make([]float64, n)
	ramp := make([]float64, n)
	for k := range ramp {
		ones[k] = 1
		ramp[k] = float64(k)
	}
	onesVec := mat.NewVecDense(n, ones)
	rampVec := mat.NewVecDense(n, ramp)

	for iw := 0; iw < nWindows; iw += batchSize {
		rows := min(batchSize, nWindows-iw)
		X := window.New(x[iw:iw+rows+n-1], n, 1).Matrix()

		var q1, q2 mat.VecDense
		q1.MulVec(X, onesVec)
		q2.MulVec(X, rampVec)

		for r := 0; r < rows; r++ {
			x0 := p00*q1.AtVec(r) + p01*q2.AtVec(r)
			yT := p10*q1.AtVec(r) + p11*q2.AtVec(r)
			xf := x0 + yT*float64(n-1)
			y := yT / e.periodNs

			i := iw + r + n - 1
			sink.Set(i, xKey, xf)
			sink.Set(i, yKey, y)
			if ce := e.log.Check(zap.DebugLevel, "LS estimates"); ce != nil {
				ce.Write(zap.Int("idx", i),
					zap.Float64("x_f (ns)", xf),
					zap.Float64("y (ppb)", timemath.PPB(y)))
			}
		}
	}
}

func (e *Estimator) processTimed(mode string, sink trace.Sink, xKey, yKey string) error {
	n := e.n
	x := e.data.XEst()
	ts := make([]time.Time, len(e.data))
	for i := range e.data {
		if mode == ModeT1 {
			ts[i] = e.data[i].T1
		} else {
			ts[i] = e.data[i].T2
		}
	}

	H := mat.NewDense(n, 2, nil)
	for i := 0; i+n <= len(x); i++ {
		tw := ts[i : i+n]
		for k := range tw {
			H.Set(k, 0, 1)
			H.Set(k, 1, timemath.Nanoseconds(tw[k].Sub(tw[0])))
		}
		b := mat.NewVecDense(n, x[i:i+n])

		var theta mat.VecDense
		if err := theta.SolveVec(H, b); err != nil {
			var c mat.Condition
			if !errors.As(err, &c) {
				return fmt.Errorf("failed to solve LS window ending at %d: %w", i+n-1, err)
			}
			e.log.Warn("ill-conditioned LS window",
				zap.Int("idx", i+n-1), zap.Float64("condition", float64(c)))
		}
		x0, y := theta.AtVec(0), theta.AtVec(1)
		tObs := timemath.Nanoseconds(tw[n-1].Sub(tw[0]))
		xf := x0 + y*tObs

		sink.Set(i+n-1, xKey, xf)
		sink.Set(i+n-1, yKey, y)
		if ce := e.log.Check(zap.DebugLevel, "LS estimates"); ce != nil {
			ce.Write(zap.Int("idx", i+n-1),
				zap.Float64("x_f (ns)", xf),
				zap.Float64("y (ppb)", timemath.PPB(y)))
		}
	}
	return nil
}

// DriftFromRate sets the drift of every record of data to the per-sample time
// offset increment implied by the LS rate y_<key> found in src. Records without
// a rate estimate keep their drift. It returns the number of records set.
func DriftFromRate(data trace.Trace, src trace.Source, key string, periodNs float64) int {
	yKey := "y_" + key
	cnt := 0
	for i := range data {
		y, ok := src.Estimate(i, yKey)
		if !ok {
			continue
		}
		d := y * periodNs
		data[i].Drift = &d
		cnt++
	}
	return cnt
}
