package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	loadsTotal       prometheus.Counter
	unloadsTotal     prometheus.Counter
	generationsTotal *prometheus.CounterVec
	tokensTotal      prometheus.Counter
	generationSecs   prometheus.Histogram
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &engineMetrics{
		loadsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "coachlm_model_loads_total",
			Help: "Number of successful model loads.",
		}),
		unloadsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "coachlm_model_unloads_total",
			Help: "Number of model unloads.",
		}),
		generationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachlm_generations_total",
			Help: "Completed generation calls by terminal state.",
		}, []string{"terminal"}),
		tokensTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "coachlm_tokens_generated_total",
			Help: "Total tokens sampled across all generation calls.",
		}),
		generationSecs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coachlm_generation_seconds",
			Help:    "Wall-clock duration of generation calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *engineMetrics) observe(terminal Terminal, tokens int, secs float64) {
	m.generationsTotal.WithLabelValues(string(terminal)).Inc()
	m.tokensTotal.Add(float64(tokens))
	m.generationSecs.Observe(secs)
}
