// Package trace holds the per-exchange observation records shared by the
// estimators.
package trace

import (
	"fmt"
	"slices"
	"time"

	"github.com/rodgdutra/ptp-dal/base/timemath"
)

// Record is one two-way exchange. Timestamps T1 and T4 are taken by the
// master, T2 and T3 by the slave.
type Record struct {
	Idx            int
	T1, T2, T3, T4 time.Time

	XEst float64 // raw time offset measurement (ns)
	DEst float64 // raw delay measurement (ns)

	X     *float64 // true time offset (ns), simulation only
	Drift *float64 // incremental time offset drift (ns/sample)

	est map[string]float64
}

func (r *Record) Estimate(key string) (float64, bool) {
	v, ok := r.est[key]
	return v, ok
}

func (r *Record) SetEstimate(key string, v float64) {
	if r.est == nil {
		r.est = make(map[string]float64)
	}
	r.est[key] = v
}

func (r *Record) DeleteEstimate(key string) {
	delete(r.est, key)
}

// EstimateKeys returns the estimate keys of r in lexical order.
func (r *Record) EstimateKeys() []string {
	keys := make([]string, 0, len(r.est))
	for k := range r.est {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// T21 returns t2 - t1 in nanoseconds.
func (r *Record) T21() float64 {
	return timemath.Nanoseconds(r.T2.Sub(r.T1))
}

// T43 returns t4 - t3 in nanoseconds.
func (r *Record) T43() float64 {
	return timemath.Nanoseconds(r.T4.Sub(r.T3))
}

// Trace is an ordered sequence of records. A Trace shares its backing array
// with every copy of the slice header: estimators annotate records in place
// but never resize the trace.
type Trace []Record

var _ Sink = Trace(nil)
var _ Source = Trace(nil)

func (t Trace) Set(i int, key string, v float64) {
	t[i].SetEstimate(key, v)
}

func (t Trace) Estimate(i int, key string) (float64, bool) {
	return t[i].Estimate(key)
}

func (t Trace) Len() int { return len(t) }

func (t Trace) XEst() []float64 {
	v := make([]float64, len(t))
	for i := range t {
		v[i] = t[i].XEst
	}
	return v
}

func (t Trace) T21() []float64 {
	v := make([]float64, len(t))
	for i := range t {
		v[i] = t[i].T21()
	}
	return v
}

func (t Trace) T43() []float64 {
	v := make([]float64, len(t))
	for i := range t {
		v[i] = t[i].T43()
	}
	return v
}

// Drift returns the drift vector of t, with absent values set to zero. It
// fails with ErrMissingData unless at least one record carries a non-zero
// drift.
func (t Trace) Drift() ([]float64, error) {
	v := make([]float64, len(t))
	ok := false
	for i := range t {
		if t[i].Drift != nil {
			v[i] = *t[i].Drift
			ok = ok || v[i] != 0
		}
	}
	if !ok {
		return nil, fmt.Errorf("drift estimations not available: %w", ErrMissingData)
	}
	return v, nil
}

// DeleteEstimate removes key from every record.
func (t Trace) DeleteEstimate(key string) {
	for i := range t {
		t[i].DeleteEstimate(key)
	}
}
