package pktselection

import (
	"math"

	"github.com/rodgdutra/ptp-dal/core/trace"
)

// movingAverage pushes x into a ring buffer of 2N samples whose tail lags the
// head by N and returns the mean of the last N samples. Before N samples have
// been pushed, the missing ones count as zero.
func (e *Engine) movingAverage(x float64) float64 {
	size := 2 * e.n
	head := e.movavgI
	tail := (head + e.n) % size
	e.movavgBuf[head] = x
	e.movavgAccum += x
	e.movavgAccum -= e.movavgBuf[tail]
	e.movavgI = (head + 1) % size
	return e.movavgAccum / float64(e.n)
}

// ewma returns the bias-corrected exponentially weighted moving average. The
// correction applies to the emitted value only, not to the recursion.
func (e *Engine) ewma(x float64) float64 {
	avg := e.ewmaBeta*e.ewmaLastAvg + e.ewmaAlpha*x
	e.ewmaLastAvg = avg
	e.ewmaN++
	corr := 1 / (1 - math.Pow(e.ewmaBeta, float64(e.ewmaN)))
	return avg * corr
}

// sampleBySample runs the recursive strategies. Their state carries over from
// previous runs until the window length changes.
func (e *Engine) sampleBySample(strategy string, driftComp bool, drift []float64,
	sink trace.Sink, xKey string) {
	step := e.movingAverage
	if strategy == StrategyEWMA {
		step = e.ewma
	}
	accum := 0.0
	for i := range e.data {
		if driftComp {
			accum += drift[i]
		}
		sink.Set(i, xKey, step(e.data[i].XEst-accum)+accum)
	}
}
