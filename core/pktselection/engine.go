// Package pktselection estimates time offset by selecting, over sliding
// windows, the exchanges least affected by packet delay variation.
package pktselection

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rodgdutra/ptp-dal/base/zaplog"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

const (
	StrategyAvgRecursive = "avg-recursive"
	StrategyAvgNormal    = "avg-normal"
	StrategyEWMA         = "ewma"
	StrategyMedian       = "median"
	StrategyMin          = "min"
	StrategyMax          = "max"
	StrategyMode         = "mode"
)

const (
	defaultBatchSize = 4096

	modeBin0          = 10.0 // ns
	modeBinStep       = 10.0 // ns
	modeCntThreshold  = 3
	modeStallPatience = 10
	modeTuningWindows = 100
)

var strategies = map[string]bool{
	StrategyAvgRecursive: true,
	StrategyAvgNormal:    true,
	StrategyEWMA:         true,
	StrategyMedian:       true,
	StrategyMin:          true,
	StrategyMax:          true,
	StrategyMode:         true,
}

func recursive(strategy string) bool {
	return strategy == StrategyAvgRecursive || strategy == StrategyEWMA
}

type Options struct {
	// DriftComp removes the per-sample drift of the trace before selection
	// and restores it on the emitted estimate.
	DriftComp bool
	// Vectorize processes window strategies as stacked window matrices.
	Vectorize bool
	// Batch bounds the number of windows stacked per matrix to BatchSize.
	Batch     bool
	BatchSize int
	// Key names the estimate; x_<Key> is written. Defaults to DefaultKey.
	Key string
}

func DefaultOptions() Options {
	return Options{Vectorize: true, Batch: true, BatchSize: defaultBatchSize}
}

// DefaultKey returns the estimate key used for strategy when Options.Key is
// empty, e.g. pkts_avg_recursive.
func DefaultKey(strategy string) string {
	return "pkts_" + strings.ReplaceAll(strategy, "-", "_")
}

type Engine struct {
	log  *zap.Logger
	n    int
	data trace.Trace

	iBatch int

	movavgAccum float64
	movavgBuf   []float64
	movavgI     int

	ewmaAlpha   float64
	ewmaBeta    float64
	ewmaLastAvg float64
	ewmaN       int

	modeBin      float64 // window-by-window
	modeBinFw    float64 // matrix, t2 - t1
	modeBinBw    float64 // matrix, t4 - t3
	modeStallCnt int
}

func New(log *zap.Logger, n int, data trace.Trace) *Engine {
	e := &Engine{log: zaplog.Or(log), data: data}
	e.SetWindowLen(n)
	return e
}

func (e *Engine) WindowLen() int { return e.n }

// SetWindowLen changes the window length and resets all adaptive state.
func (e *Engine) SetWindowLen(n int) {
	e.n = n
	e.iBatch = 0
	e.resetRecursive()
	e.modeBin = modeBin0
	e.modeBinFw = modeBin0
	e.modeBinBw = modeBin0
	e.modeStallCnt = 0
}

func (e *Engine) resetRecursive() {
	e.movavgAccum = 0
	e.movavgBuf = nil
	e.movavgI = 0
	e.ewmaLastAvg = 0
	e.ewmaN = 0
	if e.n < 1 {
		return
	}
	e.movavgBuf = make([]float64, 2*e.n)
	e.movavgI = e.n
	e.ewmaAlpha = 1 / float64(e.n)
	e.ewmaBeta = 1 - 1/float64(e.n)
}

// Process writes the estimates of strategy onto the trace. The moving average
// and EWMA state, as well as the sample-mode bins, persist across calls and
// reset only on SetWindowLen.
func (e *Engine) Process(strategy string, opts Options) error {
	return e.ProcessTo(strategy, opts, e.data)
}

// ProcessTo writes x_<key> for every window, at the window's last index, into
// sink. The recursive strategies emit an estimate for every sample.
func (e *Engine) ProcessTo(strategy string, opts Options, sink trace.Sink) error {
	if !strategies[strategy] {
		return fmt.Errorf("unknown packet selection strategy %q: %w", strategy, trace.ErrInvalidArgument)
	}
	if e.n < 1 {
		return fmt.Errorf("packet selection window length must be >= 1, got %d: %w",
			e.n, trace.ErrInvalidArgument)
	}
	if len(e.data) < e.n {
		return fmt.Errorf("packet selection window length %d, trace length %d: %w",
			e.n, len(e.data), trace.ErrWindowTooLong)
	}
	if opts.BatchSize < 0 {
		return fmt.Errorf("negative batch size %d: %w", opts.BatchSize, trace.ErrInvalidArgument)
	}

	drift := make([]float64, len(e.data))
	if opts.DriftComp {
		var err error
		drift, err = e.data.Drift()
		if err != nil {
			return err
		}
	}

	key := opts.Key
	if key == "" {
		key = DefaultKey(strategy)
	}
	xKey := "x_" + key

	e.log.Debug("processing packet selection",
		zap.String("strategy", strategy),
		zap.Int("N", e.n),
		zap.Bool("drift compensation", opts.DriftComp))

	switch {
	case recursive(strategy):
		e.sampleBySample(strategy, opts.DriftComp, drift, sink, xKey)
	case opts.Vectorize:
		e.matrixByMatrix(strategy, opts, drift, sink, xKey)
	default:
		e.windowByWindow(strategy, opts.DriftComp, drift, sink, xKey)
	}
	return nil
}
