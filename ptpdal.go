// PTP time offset estimation and window tuning

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rodgdutra/ptp-dal/base/zaplog"

	"github.com/rodgdutra/ptp-dal/core/analysis"
	"github.com/rodgdutra/ptp-dal/core/config"
	"github.com/rodgdutra/ptp-dal/core/ls"
	"github.com/rodgdutra/ptp-dal/core/optimizer"
	"github.com/rodgdutra/ptp-dal/core/pktselection"
	"github.com/rodgdutra/ptp-dal/core/synth"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

const defaultPeriodNs = 1e9 / 4

var log = zap.NewNop()

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		// See https://github.com/scionproto/scion/blob/master/pkg/log/log.go
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func loadConfig(configFile string) config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	if cfg.Input == "" {
		log.Fatal("configuration without input trace", zap.String("file", configFile))
	}
	return cfg
}

// measurementPeriod returns the configured period, else the Sync period of
// the dataset metadata, else a quarter of a second.
func measurementPeriod(cfg config.Config, ds *trace.Dataset) float64 {
	if cfg.PeriodNs > 0 {
		return cfg.PeriodNs
	}
	if p, ok := ds.SyncPeriod(); ok {
		return p * 1e9
	}
	return defaultPeriodNs
}

func loadDataset(cfg config.Config) (*trace.Dataset, float64) {
	ds, err := trace.ReadFile(cfg.Input)
	if err != nil {
		log.Fatal("failed to read trace", zap.String("file", cfg.Input), zap.Error(err))
	}
	periodNs := measurementPeriod(cfg, ds)
	log.Info("loaded trace",
		zap.String("file", cfg.Input),
		zap.Int("records", len(ds.Data)),
		zap.Float64("T (ns)", periodNs))
	return ds, periodNs
}

func pktsOptions(cfg config.Config) pktselection.Options {
	opts := pktselection.DefaultOptions()
	opts.Vectorize = cfg.Vectorize
	opts.BatchSize = cfg.BatchSize
	return opts
}

func tuneWindows(cfg config.Config, data trace.Trace, periodNs float64,
	reg prometheus.Registerer) (map[string]int, error) {
	o := optimizer.New(log, data, periodNs,
		optimizer.WithConfigDir(cfg.ConfigDir),
		optimizer.WithRegisterer(reg),
		optimizer.WithPacketSelection(pktsOptions(cfg)))
	err := o.Process(optimizer.All, optimizer.Params{
		File:          cfg.Input,
		Save:          cfg.Save,
		SampleSkip:    cfg.SampleSkip,
		EarlyStopping: cfg.EarlyStopping,
		Force:         cfg.Force,
	})
	if err != nil {
		return nil, err
	}
	return o.BestWindows(), nil
}

func writeMetrics(metricsFile string, g prometheus.Gatherer) {
	if metricsFile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(metricsFile, g); err != nil {
		log.Fatal("failed to write metrics", zap.String("file", metricsFile), zap.Error(err))
	}
}

func runTune(configFile, metricsFile string) {
	cfg := loadConfig(configFile)
	ds, periodNs := loadDataset(cfg)
	reg := prometheus.NewRegistry()
	windows, err := tuneWindows(cfg, ds.Data, periodNs, reg)
	if err != nil {
		log.Fatal("failed to tune windows", zap.Error(err))
	}
	fmt.Println("Tuned window lengths:")
	for _, name := range config.Estimators {
		if n, ok := windows[name]; ok {
			fmt.Printf("%20s: %d\n", name, n)
		}
	}
	writeMetrics(metricsFile, reg)
}

// estimate runs every estimator over data with the given window lengths.
// The -ls estimators compensate the drift derived from the LS rate. With
// drift compensation configured, the others compensate the drift supplied
// with the trace, or the LS drift if the trace carries none.
func estimate(cfg config.Config, data trace.Trace, periodNs float64,
	windows map[string]int) ([]string, error) {
	est := optimizer.DefaultEstimators()
	window := func(name string) int {
		if n, ok := windows[name]; ok {
			return n
		}
		return cfg.Window(name)
	}

	lsCfg := est[optimizer.EstimatorLS]
	e := ls.New(log, window(optimizer.EstimatorLS), data, periodNs)
	if err := e.Process(lsCfg.Impl); err != nil {
		return nil, err
	}
	keys := []string{lsCfg.EstKey}
	lsData := slices.Clone(data)
	cnt := ls.DriftFromRate(lsData, data, lsCfg.EstKey, e.Period())
	log.Debug("drift estimated from LS", zap.Int("records", cnt))

	driftData := data
	if _, err := data.Drift(); cfg.DriftComp && err != nil {
		log.Info("trace carries no drift, compensating the LS drift")
		driftData = lsData
	}

	for _, name := range config.Estimators {
		if name == optimizer.EstimatorLS {
			continue
		}
		c := est[name]
		opts := pktsOptions(cfg)
		opts.DriftComp = cfg.DriftComp
		opts.Key = c.EstKey
		src := data
		if strings.HasSuffix(name, "-ls") {
			opts.DriftComp = true
			src = lsData
		} else if opts.DriftComp {
			src = driftData
		}
		err := pktselection.New(log, window(name), src).ProcessTo(c.Impl, opts, data)
		if errors.Is(err, trace.ErrWindowTooLong) {
			log.Warn("skipping estimator", zap.String("estimator", c.Name), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, c.EstKey)
	}
	return keys, nil
}

func runEstimate(configFile string, noOptimizer bool, outFile, metricsFile string) {
	cfg := loadConfig(configFile)
	ds, periodNs := loadDataset(cfg)
	reg := prometheus.NewRegistry()

	windows := cfg.Windows
	if !noOptimizer {
		var err error
		windows, err = tuneWindows(cfg, ds.Data, periodNs, reg)
		if err != nil {
			log.Fatal("failed to tune windows", zap.Error(err))
		}
	}

	keys, err := estimate(cfg, ds.Data, periodNs, windows)
	if err != nil {
		log.Fatal("failed to estimate time offset", zap.Error(err))
	}
	report(os.Stdout, ds.Data, append([]string{analysis.RawKey}, keys...), cfg.SampleSkip,
		newReportMetrics(reg))
	writeMetrics(metricsFile, reg)

	if outFile != "" {
		if err := trace.WriteFile(outFile, ds); err != nil {
			log.Fatal("failed to write trace", zap.String("file", outFile), zap.Error(err))
		}
	}
}

func runSimulate(n int, seed int64, outFile string) {
	cfg := synth.DefaultConfig()
	cfg.N = n
	cfg.Seed = seed
	ds := synth.Dataset(cfg)
	if err := trace.WriteFile(outFile, &ds); err != nil {
		log.Fatal("failed to write trace", zap.String("file", outFile), zap.Error(err))
	}
	log.Info("generated trace", zap.String("file", outFile), zap.Int("records", n))
}

func runAnalyse(inFile string, skip int) {
	ds, err := trace.ReadFile(inFile)
	if err != nil {
		log.Fatal("failed to read trace", zap.String("file", inFile), zap.Error(err))
	}
	keys := estimateKeys(ds.Data)
	report(os.Stdout, ds.Data, keys, skip, nil)
	mtieReport(os.Stdout, ds.Data, keys, skip)
}

func exitWithUsage() {
	fmt.Println("usage: ptp-dal <tune|estimate|simulate|analyse> [flags]")
	os.Exit(1)
}

func main() {
	var (
		verbose     bool
		configFile  string
		metricsFile string
		noOptimizer bool
		outFile     string
		inFile      string
		numRecords  int
		seed        int64
		sampleSkip  int
	)

	tuneFlags := flag.NewFlagSet("tune", flag.ExitOnError)
	estimateFlags := flag.NewFlagSet("estimate", flag.ExitOnError)
	simulateFlags := flag.NewFlagSet("simulate", flag.ExitOnError)
	analyseFlags := flag.NewFlagSet("analyse", flag.ExitOnError)

	tuneFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	tuneFlags.StringVar(&configFile, "config", "", "Config file")
	tuneFlags.StringVar(&metricsFile, "metrics-file", "", "Metrics textfile")

	estimateFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	estimateFlags.StringVar(&configFile, "config", "", "Config file")
	estimateFlags.BoolVar(&noOptimizer, "no-optimizer", false, "Use the configured windows")
	estimateFlags.StringVar(&outFile, "out", "", "Annotated trace file")
	estimateFlags.StringVar(&metricsFile, "metrics-file", "", "Metrics textfile")

	simulateFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	simulateFlags.IntVar(&numRecords, "n", 2000, "Number of exchanges")
	simulateFlags.Int64Var(&seed, "seed", 1, "Random seed")
	simulateFlags.StringVar(&outFile, "out", "", "Trace file")

	analyseFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	analyseFlags.StringVar(&inFile, "in", "", "Trace file")
	analyseFlags.IntVar(&sampleSkip, "skip", 0, "Number of initial records to skip")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case tuneFlags.Name():
		err := tuneFlags.Parse(os.Args[2:])
		if err != nil || tuneFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runTune(configFile, metricsFile)
	case estimateFlags.Name():
		err := estimateFlags.Parse(os.Args[2:])
		if err != nil || estimateFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runEstimate(configFile, noOptimizer, outFile, metricsFile)
	case simulateFlags.Name():
		err := simulateFlags.Parse(os.Args[2:])
		if err != nil || simulateFlags.NArg() != 0 {
			exitWithUsage()
		}
		if outFile == "" || numRecords < 1 {
			exitWithUsage()
		}
		initLogger(verbose)
		runSimulate(numRecords, seed, outFile)
	case analyseFlags.Name():
		err := analyseFlags.Parse(os.Args[2:])
		if err != nil || analyseFlags.NArg() != 0 {
			exitWithUsage()
		}
		if inFile == "" || sampleSkip < 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runAnalyse(inFile, sampleSkip)
	default:
		exitWithUsage()
	}
}
