package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rodgdutra/ptp-dal/base/metrics"
	"github.com/rodgdutra/ptp-dal/core/analysis"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

type reportMetrics struct {
	maxTE     *prometheus.GaugeVec
	quantiles *prometheus.GaugeVec
}

func newReportMetrics(reg prometheus.Registerer) *reportMetrics {
	m := &reportMetrics{
		maxTE: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.EstimatorMaxTEN,
			Help: metrics.EstimatorMaxTEH,
		}, []string{"estimator"}),
		quantiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.EstimatorErrorQuantileN,
			Help: metrics.EstimatorErrorQuantileH,
		}, []string{"estimator", "quantile"}),
	}
	reg.MustRegister(m.maxTE, m.quantiles)
	return m
}

// estimateKeys returns the raw measurement key followed by the key of every
// time offset estimate present in data.
func estimateKeys(data trace.Trace) []string {
	var keys []string
	for i := range data {
		for _, k := range data[i].EstimateKeys() {
			if k, ok := strings.CutPrefix(k, "x_"); ok && !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	return append([]string{analysis.RawKey}, keys...)
}

func report(w io.Writer, data trace.Trace, keys []string, skip int, m *reportMetrics) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "estimator\tcount\tmean (ns)\tstd (ns)\trms (ns)\tmax|TE| (ns)\tp50\tp90\tp99\t")
	for _, key := range keys {
		s := analysis.Stats(analysis.Errors(data, key, skip))
		if s.Count == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.0f\t%.0f\t%.0f\t\n",
			key, s.Count, s.Mean, s.Std, s.RMS, s.MaxAbs, s.P50, s.P90, s.P99)
		if m != nil {
			m.maxTE.WithLabelValues(key).Set(s.MaxAbs)
			m.quantiles.WithLabelValues(key, "0.5").Set(s.P50)
			m.quantiles.WithLabelValues(key, "0.9").Set(s.P90)
			m.quantiles.WithLabelValues(key, "0.99").Set(s.P99)
		}
	}
	tw.Flush()
}

func mtieReport(w io.Writer, data trace.Trace, keys []string, skip int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "estimator\ttau (samples)\tMTIE (ns)\t")
	for _, key := range keys {
		tau, mtie := analysis.MTIE(analysis.Errors(data, key, skip))
		for i := 1; i < len(tau); i++ {
			fmt.Fprintf(tw, "%s\t%d\t%.2f\t\n", key, tau[i], mtie[i])
		}
	}
	tw.Flush()
}
