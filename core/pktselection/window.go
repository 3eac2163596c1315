package pktselection

import (
	"go.uber.org/zap"
	gfloats "gonum.org/v1/gonum/floats"

	"github.com/rodgdutra/ptp-dal/base/floats"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

// selectOffset combines the selected forward and backward timestamp
// differences into a time offset estimate. fw and bw are overwritten.
func (e *Engine) selectOffset(strategy string, fw, bw []float64) float64 {
	var dFw, dBw float64
	switch strategy {
	case StrategyMedian:
		dFw, dBw = floats.Median(fw), floats.Median(bw)
	case StrategyMin:
		dFw, dBw = floats.Min(fw), floats.Min(bw)
	case StrategyMax:
		dFw, dBw = floats.Max(fw), floats.Max(bw)
	case StrategyMode:
		return e.sampleMode(fw, bw)
	default:
		panic("unexpected packet selection strategy " + strategy)
	}
	return (dFw - dBw) / 2
}

// binnedMode quantizes d to bins of width w and returns the center of the
// most populated bin together with its population. d is overwritten.
func binnedMode(d []float64, w float64) (float64, int) {
	floats.Quantize(d, d, w)
	q, cnt := floats.Mode(d)
	return q*w + w/2, cnt
}

func (e *Engine) modeThreshold() int {
	return min(modeCntThreshold, e.n)
}

func (e *Engine) sampleMode(fw, bw []float64) float64 {
	dFw, cntFw := binnedMode(fw, e.modeBin)
	dBw, cntBw := binnedMode(bw, e.modeBin)

	thr := e.modeThreshold()
	if cntFw < thr || cntBw < thr {
		e.modeStallCnt++
	} else {
		e.modeStallCnt = 0
	}
	if e.modeStallCnt > modeStallPatience {
		e.modeBin += modeBinStep
		e.modeStallCnt = 0
		e.log.Warn("sample-mode bin stalled, widening",
			zap.Float64("bin (ns)", e.modeBin))
	}
	return (dFw - dBw) / 2
}

func (e *Engine) windowByWindow(strategy string, driftComp bool, drift []float64,
	sink trace.Sink, xKey string) {
	n := e.n
	var x, t21, t43 []float64
	if strategy == StrategyAvgNormal {
		x = e.data.XEst()
	} else {
		t21, t43 = e.data.T21(), e.data.T43()
	}

	cum := make([]float64, n)
	fw := make([]float64, n)
	bw := make([]float64, n)
	for i := 0; i+n <= len(e.data); i++ {
		if driftComp {
			floats.CumSum(cum, drift[i:i+n])
		}

		var est float64
		if strategy == StrategyAvgNormal {
			copy(fw, x[i:i+n])
			if driftComp {
				gfloats.Sub(fw, cum)
			}
			est = floats.Mean(fw)
		} else {
			copy(fw, t21[i:i+n])
			copy(bw, t43[i:i+n])
			if driftComp {
				gfloats.Sub(fw, cum)
				gfloats.Add(bw, cum)
			}
			est = e.selectOffset(strategy, fw, bw)
		}
		if driftComp {
			est += cum[n-1]
		}
		sink.Set(i+n-1, xKey, est)
	}

	if strategy == StrategyMode && e.modeBin != modeBin0 {
		e.log.Info("sample-mode bin was increased", zap.Float64("bin (ns)", e.modeBin))
	}
}
