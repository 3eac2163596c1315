package ls_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rodgdutra/ptp-dal/core/ls"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

const testPeriodNs = 1e6

// linearTrace returns a PDV-free trace whose time offset grows linearly.
func linearTrace(n int, x0, y float64) trace.Trace {
	t0 := time.Unix(1_700_000_000, 0)
	const delay = 1000.0
	t := make(trace.Trace, n)
	for k := range t {
		x := x0 + y*testPeriodNs*float64(k)
		t1 := t0.Add(time.Duration(k) * time.Duration(testPeriodNs))
		t2 := t1.Add(time.Duration(math.Round(delay + x)))
		t3 := t2.Add(100 * time.Microsecond)
		t4 := t3.Add(time.Duration(math.Round(delay - x)))
		xt := x
		t[k] = trace.Record{
			Idx: k, T1: t1, T2: t2, T3: t3, T4: t4,
			XEst: x, DEst: delay, X: &xt,
		}
	}
	return t
}

func TestEffMatchesTimestampModes(t *testing.T) {
	const y = 100e-9
	data := linearTrace(4200, 500, y)
	const n = 8

	for _, mode := range []string{ls.ModeEff, ls.ModeT1, ls.ModeT2} {
		err := ls.New(nil, n, data, testPeriodNs).Process(mode)
		if err != nil {
			t.Fatalf("Process(%q) error = %v", mode, err)
		}
	}

	for i := range data {
		xe, okEff := data[i].Estimate("x_ls_eff")
		if i < n-1 {
			if okEff {
				t.Fatalf("record %d carries an estimate before the first full window", i)
			}
			continue
		}
		if !okEff {
			t.Fatalf("record %d has no eff estimate", i)
		}
		for _, mode := range []string{ls.ModeT1, ls.ModeT2} {
			xm, ok := data[i].Estimate("x_" + ls.Key(mode))
			if !ok {
				t.Fatalf("record %d has no %s estimate", i, mode)
			}
			if math.Abs(xe-xm) > 1e-3 {
				t.Errorf("record %d: x_ls_eff = %v, x_ls_%s = %v", i, xe, mode, xm)
			}
			ym, _ := data[i].Estimate("y_" + ls.Key(mode))
			if math.Abs(ym-y) > 1e-11 {
				t.Errorf("record %d: y_ls_%s = %v, want %v", i, mode, ym, y)
			}
		}
		if math.Abs(xe-*data[i].X) > 1e-6 {
			t.Errorf("record %d: x_ls_eff = %v, want %v", i, xe, *data[i].X)
		}
		ye, _ := data[i].Estimate("y_ls_eff")
		if math.Abs(ye-y) > 1e-12 {
			t.Errorf("record %d: y_ls_eff = %v, want %v", i, ye, y)
		}
	}
}

func TestLearnedPeriod(t *testing.T) {
	data := linearTrace(50, 0, 0)
	e := ls.New(nil, 10, data, math.Inf(1))
	if !math.IsInf(e.Period(), 1) {
		t.Fatalf("Period() before processing = %v, want +Inf", e.Period())
	}
	if err := e.Process(ls.ModeEff); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if e.Period() != testPeriodNs {
		t.Errorf("Period() = %v, want %v", e.Period(), testPeriodNs)
	}
}

func TestErrors(t *testing.T) {
	data := linearTrace(10, 0, 0)
	tests := []struct {
		name string
		n    int
		mode string
		want error
	}{
		{name: "Unknown mode", n: 4, mode: "bogus", want: trace.ErrInvalidArgument},
		{name: "Single sample window", n: 1, mode: ls.ModeEff, want: trace.ErrInvalidArgument},
		{name: "Window exceeds trace", n: 11, mode: ls.ModeEff, want: trace.ErrWindowTooLong},
		{name: "Window exceeds trace t2", n: 11, mode: ls.ModeT2, want: trace.ErrWindowTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ls.New(nil, tt.n, data, testPeriodNs).Process(tt.mode)
			if !errors.Is(err, tt.want) {
				t.Errorf("Process(%q) with N=%d error = %v, want %v", tt.mode, tt.n, err, tt.want)
			}
		})
	}
	for i := range data {
		if len(data[i].EstimateKeys()) != 0 {
			t.Fatalf("failed processing annotated record %d", i)
		}
	}
}

func TestProcessToScratch(t *testing.T) {
	data := linearTrace(20, 10, 0)
	s := trace.NewScratch(len(data))
	if err := ls.New(nil, 5, data, testPeriodNs).ProcessTo(ls.ModeEff, s); err != nil {
		t.Fatalf("ProcessTo() error = %v", err)
	}
	if _, ok := data[19].Estimate("x_ls_eff"); ok {
		t.Errorf("ProcessTo annotated the trace")
	}
	if v, ok := s.Estimate(19, "x_ls_eff"); !ok || math.Abs(v-10) > 1e-9 {
		t.Errorf("scratch x_ls_eff = (%v, %v), want (10, true)", v, ok)
	}
}

func TestDriftFromRate(t *testing.T) {
	const y = 50e-9
	data := linearTrace(30, 0, y)
	s := trace.NewScratch(len(data))
	if err := ls.New(nil, 10, data, testPeriodNs).ProcessTo(ls.ModeEff, s); err != nil {
		t.Fatalf("ProcessTo() error = %v", err)
	}
	cnt := ls.DriftFromRate(data, s, ls.Key(ls.ModeEff), testPeriodNs)
	if cnt != 21 {
		t.Errorf("DriftFromRate() = %d, want 21", cnt)
	}
	if data[8].Drift != nil {
		t.Errorf("record 8 has drift %v, want none", *data[8].Drift)
	}
	if d := data[29].Drift; d == nil || math.Abs(*d-y*testPeriodNs) > 1e-9 {
		t.Errorf("record 29 drift = %v, want %v", d, y*testPeriodNs)
	}
}

func TestDriftFromRateKeepsSuppliedDrift(t *testing.T) {
	data := linearTrace(10, 0, 0)
	for i := range data {
		d := 7.0
		data[i].Drift = &d
	}
	s := trace.NewScratch(len(data))
	if err := ls.New(nil, 4, data, testPeriodNs).ProcessTo(ls.ModeEff, s); err != nil {
		t.Fatalf("ProcessTo() error = %v", err)
	}
	if cnt := ls.DriftFromRate(data, s, ls.Key(ls.ModeEff), testPeriodNs); cnt != 7 {
		t.Errorf("DriftFromRate() = %d, want 7", cnt)
	}
	for i := 0; i < 3; i++ {
		if d := data[i].Drift; d == nil || *d != 7 {
			t.Errorf("record %d drift = %v, want the supplied 7", i, d)
		}
	}
	for i := 3; i < len(data); i++ {
		if d := data[i].Drift; d == nil || math.Abs(*d) > 1e-9 {
			t.Errorf("record %d drift = %v, want 0 from the LS rate", i, d)
		}
	}
}
