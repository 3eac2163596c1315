package pktselection

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/rodgdutra/ptp-dal/base/floats"
	"github.com/rodgdutra/ptp-dal/base/window"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

// matrixByMatrix stacks the windows of each batch as the rows of a matrix.
// Consecutive batches overlap by N-1 samples, so every batch holds complete
// windows and the result does not depend on the batch size except for the
// sample-mode bin tuning, which runs on the first batch only.
func (e *Engine) matrixByMatrix(strategy string, opts Options, drift []float64,
	sink trace.Sink, xKey string) {
	n := e.n
	nData := len(e.data)
	nWindows := nData - n + 1

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	if !opts.Batch {
		batchSize = nWindows
	}

	var x, t21, t43 []float64
	if strategy == StrategyAvgNormal {
		x = e.data.XEst()
	} else {
		t21, t43 = e.data.T21(), e.data.T43()
	}

	for iws := 0; iws < nWindows; iws += batchSize {
		e.iBatch = iws / batchSize
		e.log.Debug("computing batch", zap.Int("batch", e.iBatch))

		is := iws
		ie := min(is+batchSize-1+n, nData)

		var cum *mat.Dense
		if opts.DriftComp {
			cum = cumSumRows(window.New(drift[is:ie], n, 1).Matrix())
		}

		var est []float64
		if strategy == StrategyAvgNormal {
			X := window.New(x[is:ie], n, 1).Matrix()
			if cum != nil {
				X.Sub(X, cum)
			}
			est = rowMeans(X)
		} else {
			fw := window.New(t21[is:ie], n, 1).Matrix()
			bw := window.New(t43[is:ie], n, 1).Matrix()
			if cum != nil {
				fw.Sub(fw, cum)
				bw.Add(bw, cum)
			}
			if strategy == StrategyMode {
				est = e.sampleModeMatrix(fw, bw)
			} else {
				est = make([]float64, fw.RawMatrix().Rows)
				for r := range est {
					est[r] = e.selectOffset(strategy, fw.RawRowView(r), bw.RawRowView(r))
				}
			}
		}

		for r, v := range est {
			if cum != nil {
				v += cum.At(r, n-1)
			}
			sink.Set(is+r+n-1, xKey, v)
		}
	}
}

// cumSumRows replaces every row of m by its cumulative sum and returns m.
func cumSumRows(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	buf := make([]float64, cols)
	for r := 0; r < rows; r++ {
		row := m.RawRowView(r)
		copy(buf, row)
		floats.CumSum(row, buf)
	}
	return m
}

func rowMeans(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	ones := make([]float64, cols)
	for k := range ones {
		ones[k] = 1
	}
	var s mat.VecDense
	s.MulVec(m, mat.NewVecDense(cols, ones))
	s.ScaleVec(1/float64(cols), &s)
	out := make([]float64, rows)
	for r := range out {
		out[r] = s.AtVec(r)
	}
	return out
}

// countBelow returns how many of the first rows of m have a most populated
// bin with fewer than thr samples when binned at width w.
func countBelow(m *mat.Dense, rows int, w float64, thr int) int {
	_, cols := m.Dims()
	buf := make([]float64, cols)
	cnt := 0
	for r := 0; r < rows; r++ {
		copy(buf, m.RawRowView(r))
		if _, c := binnedMode(buf, w); c < thr {
			cnt++
		}
	}
	return cnt
}

func (e *Engine) sampleModeMatrix(fw, bw *mat.Dense) []float64 {
	rows, cols := fw.Dims()

	if e.iBatch == 0 {
		nTuning := min(modeTuningWindows, rows)
		maxBelow := int(0.1 * modeTuningWindows)
		thr := e.modeThreshold()
		for done := false; !done; {
			done = true
			if countBelow(fw, nTuning, e.modeBinFw, thr) > maxBelow {
				e.modeBinFw += modeBinStep
				done = false
			}
			if countBelow(bw, nTuning, e.modeBinBw, thr) > maxBelow {
				e.modeBinBw += modeBinStep
				done = false
			}
		}
		e.log.Info("t2-t1 bin was adjusted", zap.Float64("bin (ns)", e.modeBinFw))
		e.log.Info("t4-t3 bin was adjusted", zap.Float64("bin (ns)", e.modeBinBw))
	}

	est := make([]float64, rows)
	buf := make([]float64, cols)
	for r := range est {
		copy(buf, fw.RawRowView(r))
		dFw, _ := binnedMode(buf, e.modeBinFw)
		copy(buf, bw.RawRowView(r))
		dBw, _ := binnedMode(buf, e.modeBinBw)
		est[r] = (dFw - dBw) / 2
	}
	return est
}
