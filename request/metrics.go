package request

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements the pipeline observer over Prometheus collectors.
// Collectors carry a constant "instance" label (New sets it to "default");
// call Register to attach them to a registry.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	cacheHits        prometheus.Counter
	coalescerRejects *prometheus.CounterVec
	retriesTotal     prometheus.Counter
	refreshesTotal   prometheus.Counter
}

func newMetrics(instance string) *Metrics {
	labels := prometheus.Labels{"instance": instance}

	return &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "lania",
			Subsystem:   "request",
			Name:        "requests_total",
			Help:        "Settled logical requests by method and outcome.",
			ConstLabels: labels,
		}, []string{"method", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "lania",
			Subsystem:   "request",
			Name:        "request_duration_seconds",
			Help:        "Wall time from submission to settlement.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "lania",
			Subsystem:   "request",
			Name:        "cache_hits_total",
			Help:        "Responses served from the cache.",
			ConstLabels: labels,
		}),
		coalescerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "lania",
			Subsystem:   "request",
			Name:        "coalescer_rejections_total",
			Help:        "Requests rejected by debounce or throttle.",
			ConstLabels: labels,
		}, []string{"kind"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "lania",
			Subsystem:   "request",
			Name:        "retries_total",
			Help:        "Retry attempts scheduled by the retry policy.",
			ConstLabels: labels,
		}),
		refreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "lania",
			Subsystem:   "request",
			Name:        "token_refreshes_total",
			Help:        "Access-token refresh flights observed.",
			ConstLabels: labels,
		}),
	}
}

// Register attaches all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.cacheHits,
		m.coalescerRejects,
		m.retriesTotal,
		m.refreshesTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RequestSettled implements pipeline.Observer.
func (m *Metrics) RequestSettled(method, outcome string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// CacheHit implements pipeline.Observer.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CoalescerRejected implements pipeline.Observer.
func (m *Metrics) CoalescerRejected(kind string) {
	m.coalescerRejects.WithLabelValues(kind).Inc()
}

// RetryScheduled implements pipeline.Observer.
func (m *Metrics) RetryScheduled() { m.retriesTotal.Inc() }

// RefreshStarted implements pipeline.Observer.
func (m *Metrics) RefreshStarted() { m.refreshesTotal.Inc() }
