// Package optimizer searches, per estimator, the observation window length
// that minimizes the maximum absolute time offset estimation error over a
// trace with ground truth.
package optimizer

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rodgdutra/ptp-dal/base/floats"
	"github.com/rodgdutra/ptp-dal/base/zaplog"
	"github.com/rodgdutra/ptp-dal/core/analysis"
	"github.com/rodgdutra/ptp-dal/core/ls"
	"github.com/rodgdutra/ptp-dal/core/pktselection"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

const (
	EstimatorLS = "ls"
	All         = "all"

	coarsePatience = 5
	finePatience   = 100

	sampleAverageSkip = 300
)

type EstimatorConfig struct {
	Name   string `json:"name"`
	Impl   string `json:"impl"`
	EstKey string `json:"est_key"`
	NBest  *int   `json:"N_best"`
}

var registry = []struct {
	name string
	cfg  EstimatorConfig
}{
	{"ls", EstimatorConfig{Name: "Least Squares", Impl: ls.ModeEff, EstKey: "ls_eff"}},
	{"sample-average", EstimatorConfig{Name: "Sample Average", Impl: pktselection.StrategyAvgRecursive, EstKey: "pkts_average"}},
	{"sample-ewma", EstimatorConfig{Name: "EWMA", Impl: pktselection.StrategyEWMA, EstKey: "pkts_ewma"}},
	{"sample-median", EstimatorConfig{Name: "Sample Median", Impl: pktselection.StrategyMedian, EstKey: "pkts_median"}},
	{"sample-min", EstimatorConfig{Name: "Sample Minimum", Impl: pktselection.StrategyMin, EstKey: "pkts_min"}},
	{"sample-min-ls", EstimatorConfig{Name: "Sample Minimum with LS", Impl: pktselection.StrategyMin, EstKey: "pkts_min_ls"}},
	{"sample-max", EstimatorConfig{Name: "Sample Maximum", Impl: pktselection.StrategyMax, EstKey: "pkts_max"}},
	{"sample-mode", EstimatorConfig{Name: "Sample Mode", Impl: pktselection.StrategyMode, EstKey: "pkts_mode"}},
	{"sample-mode-ls", EstimatorConfig{Name: "Sample Mode with LS", Impl: pktselection.StrategyMode, EstKey: "pkts_mode_ls"}},
}

// DefaultEstimators returns the untuned configurations of all estimators.
func DefaultEstimators() map[string]EstimatorConfig {
	est := make(map[string]EstimatorConfig, len(registry))
	for _, e := range registry {
		est[e.name] = e.cfg
	}
	return est
}

// dependsOnLS reports whether estimator compensates the drift estimated by LS.
func dependsOnLS(estimator string) bool {
	return strings.HasSuffix(estimator, "-ls")
}

type Params struct {
	File          string // dataset file; names the window configuration file
	Save          bool
	SampleSkip    int
	EarlyStopping bool
	Force         bool
}

type Optimizer struct {
	log       *zap.Logger
	data      trace.Trace
	lsData    trace.Trace // data with the drift estimated by LS
	periodNs  float64
	est       map[string]EstimatorConfig
	configDir string
	pktsOpts  pktselection.Options
	now       func() time.Time
	metrics   *optimizerMetrics

	// score returns the max|TE| of estimator at window length n.
	score func(estimator string, n, skip int, driftComp bool) (float64, error)
}

type Option func(*Optimizer)

func WithConfigDir(dir string) Option {
	return func(o *Optimizer) { o.configDir = dir }
}

// WithRegisterer registers the optimizer metrics on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Optimizer) { o.metrics = newOptimizerMetrics(reg) }
}

// WithPacketSelection overrides the processing options of the packet selection
// candidates. Drift compensation and the estimate key are set per estimator.
func WithPacketSelection(opts pktselection.Options) Option {
	return func(o *Optimizer) { o.pktsOpts = opts }
}

// New returns an optimizer over data. If periodNs is not a finite positive
// value, the period is learned from the trace.
func New(log *zap.Logger, data trace.Trace, periodNs float64, opts ...Option) *Optimizer {
	o := &Optimizer{
		log:       zaplog.Or(log),
		data:      data,
		periodNs:  periodNs,
		est:       DefaultEstimators(),
		configDir: "config",
		pktsOpts:  pktselection.DefaultOptions(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = newOptimizerMetrics(prometheus.NewRegistry())
	}
	if math.IsInf(periodNs, 0) || math.IsNaN(periodNs) || periodNs <= 0 {
		o.periodNs = ls.MeanPeriod(data)
		o.log.Warn("measurement period was not defined, learned from trace",
			zap.Float64("T (ns)", o.periodNs))
	}
	o.score = o.evalCandidate
	return o
}

// Config returns the configuration of estimator.
func (o *Optimizer) Config(estimator string) (EstimatorConfig, bool) {
	c, ok := o.est[estimator]
	if ok && c.NBest != nil {
		n := *c.NBest
		c.NBest = &n
	}
	return c, ok
}

// BestWindows returns the tuned window length of every tuned estimator.
func (o *Optimizer) BestWindows() map[string]int {
	w := make(map[string]int)
	for name, c := range o.est {
		if c.NBest != nil {
			w[name] = *c.NBest
		}
	}
	return w
}

// estimators returns the known estimator names, registry order first.
func (o *Optimizer) estimators() []string {
	var names, extra []string
	for _, e := range registry {
		if _, ok := o.est[e.name]; ok {
			names = append(names, e.name)
		}
	}
	for name := range o.est {
		if !slices.Contains(names, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}

// Process tunes the window length of estimator, or of every estimator when
// estimator is All. If a window configuration file for p.File already exists,
// it is loaded instead unless p.Force is set.
func (o *Optimizer) Process(estimator string, p Params) error {
	path := o.Filename(p.File)
	if !p.Force && fileExists(path) {
		o.log.Info("window tuning file exists, loading configurations", zap.String("file", path))
		return o.Load(path)
	}

	names := []string{estimator}
	if estimator == All {
		names = o.estimators()
	} else if _, ok := o.est[estimator]; !ok {
		return fmt.Errorf("unknown estimator %q: %w", estimator, trace.ErrInvalidArgument)
	}

	for _, name := range names {
		driftComp := false
		if dependsOnLS(name) {
			if err := o.prepareDrift(p); err != nil {
				return err
			}
			driftComp = true
		}
		if err := o.search(name, p, driftComp); err != nil {
			return err
		}
	}

	if p.Save {
		return o.Save(p.File)
	}
	return nil
}

// prepareDrift derives the drift from the LS rate estimated at the best LS
// window length, tuning LS first if needed. The drift goes to a copy of the
// trace; the caller's records keep their own drift.
func (o *Optimizer) prepareDrift(p Params) error {
	cfg, ok := o.est[EstimatorLS]
	if !ok {
		return fmt.Errorf("no %s estimator configured: %w", EstimatorLS, trace.ErrInvalidArgument)
	}
	if cfg.NBest == nil {
		if err := o.search(EstimatorLS, p, false); err != nil {
			return err
		}
		cfg = o.est[EstimatorLS]
	}
	s := trace.NewScratch(len(o.data))
	e := ls.New(o.log, *cfg.NBest, o.data, o.periodNs)
	if err := e.ProcessTo(cfg.Impl, s); err != nil {
		return err
	}
	o.lsData = slices.Clone(o.data)
	cnt := ls.DriftFromRate(o.lsData, s, cfg.EstKey, e.Period())
	o.log.Debug("drift estimated from LS", zap.Int("N", *cfg.NBest), zap.Int("records", cnt))
	return nil
}

func (o *Optimizer) evalCandidate(estimator string, n, skip int, driftComp bool) (float64, error) {
	cfg := o.est[estimator]
	s := trace.NewScratch(len(o.data))
	if estimator == EstimatorLS {
		err := ls.New(o.log, n, o.data, o.periodNs).ProcessTo(cfg.Impl, s)
		if err != nil {
			return 0, err
		}
	} else {
		data := o.data
		if dependsOnLS(estimator) && o.lsData != nil {
			data = o.lsData
		}
		opts := o.pktsOpts
		opts.DriftComp = driftComp
		opts.Key = cfg.EstKey
		err := pktselection.New(o.log, n, data).ProcessTo(cfg.Impl, opts, s)
		if err != nil {
			return 0, err
		}
	}
	errs := analysis.ErrorsFrom(o.data, s, cfg.EstKey, skip)
	if len(errs) == 0 {
		return 0, fmt.Errorf("no %s estimate with ground truth past sample %d: %w",
			cfg.EstKey, skip, trace.ErrMissingData)
	}
	return floats.MaxAbs(errs), nil
}

// evalMaxTE scores the window lengths in order and returns the best one
// together with the scores of the evaluated lengths. With early stopping, the
// evaluation ends once more than patience consecutive lengths fail to
// improve on the best score.
func (o *Optimizer) evalMaxTE(estimator string, windows []int, skip int,
	driftComp, earlyStopping bool, patience int) (int, []float64, error) {
	var (
		best        int
		maxTE       []float64
		minMaxTE    = math.Inf(1)
		patienceCnt int
		lastPrint   float64
	)
	for i, n := range windows {
		progress := float64(i) / float64(len(windows))
		if progress-lastPrint > 0.1 {
			o.log.Info("window search progress",
				zap.String("estimator", estimator),
				zap.Float64("progress (%)", 100*progress))
			lastPrint = progress
		}

		v, err := o.score(estimator, n, skip, driftComp)
		if err != nil {
			return 0, nil, err
		}
		o.metrics.candidates.WithLabelValues(estimator).Inc()
		maxTE = append(maxTE, v)
		o.log.Debug("window candidate",
			zap.String("estimator", estimator),
			zap.Int("N", n),
			zap.Float64("max|TE| (ns)", v))

		if v < minMaxTE {
			minMaxTE, best = v, n
			patienceCnt = 0
		} else {
			patienceCnt++
		}
		if earlyStopping && patienceCnt > patience {
			break
		}
	}
	return best, maxTE, nil
}

// search runs a coarse pass over power-of-2 window lengths followed by a fine
// pass over the lengths strictly between the two best coarse candidates.
func (o *Optimizer) search(estimator string, p Params, driftComp bool) error {
	cfg := o.est[estimator]
	logMax := int(math.Floor(math.Log2(float64(len(o.data)) / 2)))
	if logMax < 1 {
		return fmt.Errorf("trace of %d records too short to tune %s: %w",
			len(o.data), estimator, trace.ErrWindowTooLong)
	}
	coarse := make([]int, 0, logMax)
	for k := 1; k <= logMax; k++ {
		coarse = append(coarse, 1<<k)
	}

	skip := p.SampleSkip
	if estimator == "sample-average" {
		skip = sampleAverageSkip
	}

	o.log.Info("searching window length",
		zap.String("estimator", cfg.Name), zap.Bool("drift compensation", driftComp))

	best, maxTE, err := o.evalMaxTE(estimator, coarse, skip, driftComp,
		p.EarlyStopping, coarsePatience)
	if err != nil {
		return err
	}
	windows := coarse[:len(maxTE)]
	scores := maxTE

	if len(maxTE) >= 2 {
		order := make([]int, len(maxTE))
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			switch {
			case maxTE[a] < maxTE[b]:
				return -1
			case maxTE[a] > maxTE[b]:
				return 1
			}
			return 0
		})
		iBest, iScnd := order[0], order[1]
		scnd := windows[iScnd]
		if iScnd-iBest != 1 && iBest-iScnd != 1 {
			o.log.Warn("best and second-best windows are not consecutive",
				zap.Int("best", best), zap.Int("second-best", scnd))
		}

		lo, hi := min(best, scnd), max(best, scnd)
		fine := make([]int, 0, hi-lo)
		for n := lo + 1; n < hi; n++ {
			fine = append(fine, n)
		}
		_, fineMaxTE, err := o.evalMaxTE(estimator, fine, skip, driftComp,
			p.EarlyStopping, finePatience)
		if err != nil {
			return err
		}
		windows = append(slices.Clone(windows), fine[:len(fineMaxTE)]...)
		scores = append(slices.Clone(scores), fineMaxTE...)
	}

	iMin := 0
	for i, v := range scores {
		if v < scores[iMin] {
			iMin = i
		}
	}
	nBest := windows[iMin]
	cfg.NBest = &nBest
	o.est[estimator] = cfg

	o.metrics.bestMaxTE.WithLabelValues(estimator).Set(scores[iMin])
	o.metrics.bestWindow.WithLabelValues(estimator).Set(float64(nBest))
	o.log.Info("best evaluated window length",
		zap.String("estimator", cfg.Name),
		zap.Int("N", nBest),
		zap.Float64("max|TE| (ns)", scores[iMin]))
	return nil
}
