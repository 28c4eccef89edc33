package registry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the pluggable metrics sink a Registry reports to. The default,
// noopMetrics, costs nothing; call WithMetrics(NewPrometheusMetrics(...)) to
// wire real collection in.
type Metrics interface {
	RecordInvoke(hit bool)
	RecordComputeError()
	SetCacheSize(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordInvoke(hit bool) {}
func (noopMetrics) RecordComputeError()   {}
func (noopMetrics) SetCacheSize(n int)    {}

// PrometheusMetrics reports Registry activity to a Prometheus registerer.
type PrometheusMetrics struct {
	invokes    *prometheus.CounterVec
	errors     prometheus.Counter
	cacheSize  prometheus.Gauge
}

// NewPrometheusMetrics registers a fresh set of collectors, labeled name, on
// reg. Panics if the collectors can't be registered (e.g. name reused),
// matching prometheus.MustRegister's own behavior.
func NewPrometheusMetrics(reg prometheus.Registerer, name string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		invokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Subsystem: "registry",
			Name:      "invokes_total",
			Help:      "Invoke calls, partitioned by cache hit/miss.",
			ConstLabels: prometheus.Labels{"registry": name},
		}, []string{"result"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "reactor",
			Subsystem:   "registry",
			Name:        "compute_errors_total",
			Help:        "Compute bodies that returned an error.",
			ConstLabels: prometheus.Labels{"registry": name},
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "reactor",
			Subsystem:   "registry",
			Name:        "cache_entries",
			Help:        "Live entries currently held by the registry's cache.",
			ConstLabels: prometheus.Labels{"registry": name},
		}),
	}
	reg.MustRegister(m.invokes, m.errors, m.cacheSize)
	return m
}

func (m *PrometheusMetrics) RecordInvoke(hit bool) {
	if hit {
		m.invokes.WithLabelValues("hit").Inc()
	} else {
		m.invokes.WithLabelValues("miss").Inc()
	}
}

func (m *PrometheusMetrics) RecordComputeError() { m.errors.Inc() }
func (m *PrometheusMetrics) SetCacheSize(n int)  { m.cacheSize.Set(float64(n)) }
