// Package synth generates reproducible two-way exchange traces with known
// ground truth.
package synth

import (
	"math/rand"
	"time"

	"github.com/rodgdutra/ptp-dal/base/timemath"
	"github.com/rodgdutra/ptp-dal/core/trace"
)

const (
	PDVNone        = ""
	PDVExponential = "exponential"
	PDVUniform     = "uniform"
)

// Slave turnaround between the reception of Sync and the transmission of
// Delay_Req.
const turnaround = time.Millisecond

type Config struct {
	N             int
	PeriodNs      float64
	OffsetNs      float64 // initial time offset
	FreqOffsetPPB float64
	DelayNs       float64 // constant one-way path delay

	// PDV selects the distribution of the variable queuing delay added to
	// each direction; PDVScaleNs is its mean (exponential) or its upper
	// bound (uniform).
	PDV        string
	PDVScaleNs float64

	Seed      int64
	WithDrift bool
	Start     time.Time
}

func DefaultConfig() Config {
	return Config{
		N:             2000,
		PeriodNs:      250e6,
		OffsetNs:      1000,
		FreqOffsetPPB: 50,
		DelayNs:       50000,
		PDV:           PDVExponential,
		PDVScaleNs:    200,
		Seed:          1,
		Start:         time.Unix(1_600_000_000, 0).UTC(),
	}
}

func (c Config) queuing(rng *rand.Rand) float64 {
	switch c.PDV {
	case PDVExponential:
		return rng.ExpFloat64() * c.PDVScaleNs
	case PDVUniform:
		return rng.Float64() * c.PDVScaleNs
	default:
		return 0
	}
}

// Generate returns cfg.N exchanges. The true offset grows linearly from
// OffsetNs at the rate FreqOffsetPPB. Timestamps carry nanosecond resolution,
// so raw measurements differ from the truth by the PDV asymmetry plus the
// timestamp rounding.
func Generate(cfg Config) trace.Trace {
	rng := rand.New(rand.NewSource(cfg.Seed))
	y := cfg.FreqOffsetPPB * 1e-9
	drift := y * cfg.PeriodNs

	t := make(trace.Trace, max(cfg.N, 0))
	for k := range t {
		x := cfg.OffsetNs + drift*float64(k)
		dms := cfg.DelayNs + cfg.queuing(rng)
		dsm := cfg.DelayNs + cfg.queuing(rng)

		t1 := cfg.Start.Add(timemath.FromNanoseconds(cfg.PeriodNs * float64(k)))
		t2 := t1.Add(timemath.FromNanoseconds(dms + x))
		t3 := t2.Add(turnaround)
		t4 := t3.Add(timemath.FromNanoseconds(dsm - x))

		r := trace.Record{Idx: k, T1: t1, T2: t2, T3: t3, T4: t4}
		t21, t43 := r.T21(), r.T43()
		r.XEst = (t21 - t43) / 2
		r.DEst = (t21 + t43) / 2
		xt := x
		r.X = &xt
		if cfg.WithDrift {
			d := drift
			r.Drift = &d
		}
		t[k] = r
	}
	return t
}

// Dataset wraps a generated trace with the metadata a recorded trace file
// carries.
func Dataset(cfg Config) trace.Dataset {
	return trace.Dataset{
		Metadata: map[string]any{
			"sync_period":  cfg.PeriodNs / 1e9,
			"generator":    "synth",
			"seed":         cfg.Seed,
			"freq_offset":  cfg.FreqOffsetPPB * 1e-9,
			"pdv":          cfg.PDV,
			"pdv_scale_ns": cfg.PDVScaleNs,
		},
		Data: Generate(cfg),
	}
}
