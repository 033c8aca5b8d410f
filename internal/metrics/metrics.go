// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recompute outcomes.
const (
	RecomputeOK      = "ok"
	RecomputeRetried = "retried"
	RecomputeFailed  = "failed"
)

var (
	// AggregateRecomputes counts average-rating recompute attempts by outcome.
	AggregateRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_aggregate_recompute_total",
			Help: "Movie average-rating recomputations by result",
		},
		[]string{"result"},
	)

	// ReviewMutations counts committed review writes.
	ReviewMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_mutations_total",
			Help: "Committed review mutations by operation",
		},
		[]string{"operation"},
	)

	// CascadeDeletedReviews counts reviews removed because their movie or author was deleted.
	CascadeDeletedReviews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_cascade_deleted_total",
			Help: "Reviews removed by cascading parent deletes",
		},
		[]string{"parent"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordHTTPRequest records one served request. An empty route is reported as
// "unmatched" to keep label cardinality bounded.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// PoolStats is a snapshot of database connection pool usage.
type PoolStats struct {
	Acquired int32
	Idle     int32
	Total    int32
	Max      int32
}

var (
	poolAcquiredDesc = prometheus.NewDesc("db_pool_acquired_connections", "Connections currently checked out of the pool", nil, nil)
	poolIdleDesc     = prometheus.NewDesc("db_pool_idle_connections", "Idle connections held by the pool", nil, nil)
	poolTotalDesc    = prometheus.NewDesc("db_pool_total_connections", "All connections currently open in the pool", nil, nil)
	poolMaxDesc      = prometheus.NewDesc("db_pool_max_connections", "Configured pool size limit", nil, nil)
)

type poolCollector struct {
	stats func() PoolStats
}

// NewPoolCollector returns a collector that reads stats on every scrape.
func NewPoolCollector(stats func() PoolStats) prometheus.Collector {
	return poolCollector{stats: stats}
}

func (c poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolAcquiredDesc
	ch <- poolIdleDesc
	ch <- poolTotalDesc
	ch <- poolMaxDesc
}

func (c poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(poolAcquiredDesc, prometheus.GaugeValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(poolTotalDesc, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(poolMaxDesc, prometheus.GaugeValue, float64(s.Max))
}

// RegisterPoolStats exposes pool gauges on reg. A second registration of the
// same collector is ignored.
func RegisterPoolStats(reg prometheus.Registerer, stats func() PoolStats) error {
	err := reg.Register(NewPoolCollector(stats))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
