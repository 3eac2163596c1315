package optimizer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rodgdutra/ptp-dal/base/metrics"
)

type optimizerMetrics struct {
	candidates *prometheus.CounterVec
	bestMaxTE  *prometheus.GaugeVec
	bestWindow *prometheus.GaugeVec
}

func newOptimizerMetrics(reg prometheus.Registerer) *optimizerMetrics {
	return &optimizerMetrics{
		candidates: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.OptimizerCandidatesN,
			Help: metrics.OptimizerCandidatesH,
		}, []string{"estimator"})),
		bestMaxTE: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.OptimizerBestMaxTEN,
			Help: metrics.OptimizerBestMaxTEH,
		}, []string{"estimator"})),
		bestWindow: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.OptimizerBestWindowN,
			Help: metrics.OptimizerBestWindowH,
		}, []string{"estimator"})),
	}
}

// register adds c to reg. If an equal collector is already registered, the
// existing one is returned instead.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
