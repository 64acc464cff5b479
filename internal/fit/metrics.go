package fit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records fit outcomes. A nil *Metrics records nothing.
type Metrics struct {
	fits     *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the fit collectors and registers them on reg when it
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulsefit",
				Subsystem: "fit",
				Name:      "fits_total",
				Help:      "Fits by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulsefit",
				Subsystem: "fit",
				Name:      "retries_total",
				Help:      "Solver retries by model",
			},
			[]string{"model"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pulsefit",
				Subsystem: "fit",
				Name:      "solve_seconds",
				Help:      "Wall-clock time of a full fit",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"model"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.fits, m.retries, m.duration)
	}
	return m
}

func (m *Metrics) observe(model string, state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fits.WithLabelValues(model, state.String()).Inc()
	m.duration.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *Metrics) retried(model string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(model).Inc()
}
