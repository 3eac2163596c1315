package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rodgdutra/ptp-dal/base/metrics"
	"github.com/rodgdutra/ptp-dal/core/config"
	"github.com/rodgdutra/ptp-dal/core/synth"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

func TestMeasurementPeriod(t *testing.T) {
	withMeta := &trace.Dataset{Metadata: map[string]any{"sync_period": 0.125}}
	tests := []struct {
		name     string
		periodNs float64
		ds       *trace.Dataset
		want     float64
	}{
		{name: "Configured", periodNs: 1e6, ds: withMeta, want: 1e6},
		{name: "Metadata", ds: withMeta, want: 125e6},
		{name: "Default", ds: &trace.Dataset{}, want: 250e6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.PeriodNs = tt.periodNs
			if got := measurementPeriod(cfg, tt.ds); got != tt.want {
				t.Errorf("measurementPeriod() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimate(t *testing.T) {
	scfg := synth.DefaultConfig()
	scfg.N = 400
	data := synth.Generate(scfg)

	cfg := config.Default()
	keys, err := estimate(cfg, data, scfg.PeriodNs, nil)
	if err != nil {
		t.Fatalf("estimate() error = %v", err)
	}
	want := []string{
		"ls_eff", "pkts_average", "pkts_ewma", "pkts_median", "pkts_min",
		"pkts_min_ls", "pkts_max", "pkts_mode", "pkts_mode_ls",
	}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("estimate() keys = %v, want %v", keys, want)
	}
	last := data[len(data)-1]
	for _, k := range want {
		if _, ok := last.Estimate("x_" + k); !ok {
			t.Errorf("last record has no x_%s", k)
		}
	}
	if last.Drift != nil {
		t.Errorf("last record got drift %v, want the trace's drift untouched", *last.Drift)
	}

	got := estimateKeys(data)
	if got[0] != "est" || len(got) != len(want)+1 {
		t.Errorf("estimateKeys() = %v", got)
	}

	reg := prometheus.NewRegistry()
	var buf bytes.Buffer
	report(&buf, data, got, 0, newReportMetrics(reg))
	for _, k := range got {
		if !strings.Contains(buf.String(), k) {
			t.Errorf("report lacks %s:\n%s", k, buf.String())
		}
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == metrics.EstimatorMaxTEN && len(mf.GetMetric()) != len(got) {
			t.Errorf("%s has %d series, want %d", metrics.EstimatorMaxTEN, len(mf.GetMetric()), len(got))
		}
	}
}

func TestEstimateKeepsSuppliedDrift(t *testing.T) {
	scfg := synth.DefaultConfig()
	scfg.N = 300
	scfg.WithDrift = true
	data := synth.Generate(scfg)
	want := scfg.FreqOffsetPPB * 1e-9 * scfg.PeriodNs

	cfg := config.Default()
	cfg.DriftComp = true
	if _, err := estimate(cfg, data, scfg.PeriodNs, nil); err != nil {
		t.Fatalf("estimate() error = %v", err)
	}
	for i := range data {
		if d := data[i].Drift; d == nil || *d != want {
			t.Fatalf("record %d drift = %v, want the supplied %v", i, d, want)
		}
	}
}

func TestEstimateDriftCompWithoutSuppliedDrift(t *testing.T) {
	scfg := synth.DefaultConfig()
	scfg.N = 300
	data := synth.Generate(scfg)

	cfg := config.Default()
	cfg.DriftComp = true
	if _, err := estimate(cfg, data, scfg.PeriodNs, nil); err != nil {
		t.Fatalf("estimate() error = %v", err)
	}
	if _, ok := data[len(data)-1].Estimate("x_pkts_median"); !ok {
		t.Errorf("median estimate missing with LS drift compensation")
	}
}

func TestEstimateSkipsLongWindows(t *testing.T) {
	scfg := synth.DefaultConfig()
	scfg.N = 120
	data := synth.Generate(scfg)
	cfg := config.Default()
	keys, err := estimate(cfg, data, scfg.PeriodNs, map[string]int{"sample-median": 500})
	if err != nil {
		t.Fatalf("estimate() error = %v", err)
	}
	for _, k := range keys {
		if k == "pkts_median" {
			t.Errorf("estimate() ran an estimator with a window longer than the trace")
		}
	}
}

func TestSimulate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "trace.json")
	runSimulate(300, 3, out)
	ds, err := trace.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(ds.Data) != 300 {
		t.Errorf("simulated %d records, want 300", len(ds.Data))
	}
	if p, ok := ds.SyncPeriod(); !ok || p != 0.25 {
		t.Errorf("SyncPeriod() = (%v, %v), want (0.25, true)", p, ok)
	}

	var buf bytes.Buffer
	mtieReport(&buf, ds.Data, estimateKeys(ds.Data), 0)
	if !strings.Contains(buf.String(), "MTIE") {
		t.Errorf("MTIE report lacks its header:\n%s", buf.String())
	}
}
