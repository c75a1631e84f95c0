package observability

import (
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Submission decisions used as the "decision" label.
const (
	DecisionAccepted  = "accepted"
	DecisionReview    = "review"
	DecisionRejected  = "rejected"
	DecisionDuplicate = "duplicate"
)

// HistoryCache is the cache label for payment method history lookups.
const HistoryCache = "history"

// Metrics holds all Prometheus metrics for the queue engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	submissions       *prometheus.CounterVec
	matches           prometheus.Counter
	matchConflicts    prometheus.Counter
	expired           prometheus.Counter
	operationDuration *prometheus.HistogramVec
	validationScore   prometheus.Histogram
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2pq_submissions_total",
				Help: "Queue submissions by decision.",
			},
			[]string{"decision"},
		),
		matches: factory.NewCounter(prometheus.CounterOpts{
			Name: "p2pq_matches_total",
			Help: "Matches committed.",
		}),
		matchConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "p2pq_match_conflicts_total",
			Help: "Match proposals lost to a concurrent status change.",
		}),
		expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "p2pq_expired_total",
			Help: "Pending items expired by cleanup.",
		}),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "p2pq_operation_duration_seconds",
				Help:    "Duration of queue operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		validationScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "p2pq_validation_score",
			Help:    "Distribution of validation scores.",
			Buckets: []float64{10, 20, 30, 40, 50, 65, 75, 85, 95, 100},
		}),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2pq_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2pq_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2pq_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
	}
}

// IncrSubmission counts a submission outcome.
func (m *Metrics) IncrSubmission(decision string) {
	m.submissions.WithLabelValues(decision).Inc()
}

// ObserveValidationScore records a computed validation score.
func (m *Metrics) ObserveValidationScore(score int) {
	m.validationScore.Observe(float64(score))
}

// AddMatches counts committed matches.
func (m *Metrics) AddMatches(n int) {
	m.matches.Add(float64(n))
}

// AddMatchConflicts counts proposals rejected at commit time.
func (m *Metrics) AddMatchConflicts(n int) {
	m.matchConflicts.Add(float64(n))
}

// AddExpired counts expired items.
func (m *Metrics) AddExpired(n int) {
	m.expired.Add(float64(n))
}

// RecordOperationDuration records the duration of an operation.
func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Snapshot returns the cumulative queue counters for GET /v1/queue/metrics.
func (m *Metrics) Snapshot() *domain.QueueMetrics {
	accepted := counterVecValue(m.submissions, DecisionAccepted)
	review := counterVecValue(m.submissions, DecisionReview)
	rejected := counterVecValue(m.submissions, DecisionRejected)
	hits := counterVecValue(m.cacheHits, HistoryCache)
	misses := counterVecValue(m.cacheMisses, HistoryCache)

	rejectionRate := float64(0)
	if scored := accepted + review + rejected; scored > 0 {
		rejectionRate = rejected / scored
	}
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.QueueMetrics{
		SubmissionsAccepted: accepted,
		SubmissionsReview:   review,
		SubmissionsRejected: rejected,
		Duplicates:          counterVecValue(m.submissions, DecisionDuplicate),
		MatchesCommitted:    counterValue(m.matches),
		MatchConflicts:      counterValue(m.matchConflicts),
		ItemsExpired:        counterValue(m.expired),
		RejectionRate:       rejectionRate,
		HistoryCacheHitRate: hitRate,
		Period:              "all_time",
	}
}

func counterVecValue(cv *prometheus.CounterVec, label string) float64 {
	return counterValue(cv.WithLabelValues(label))
}

// counterValue extracts the current float64 value of a counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
