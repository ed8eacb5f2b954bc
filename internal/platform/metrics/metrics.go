package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay. Every method is safe on
// a nil receiver so components can run without instrumentation in tests.
type Metrics struct {
	MessagesRelayed     *prometheus.CounterVec
	Verdicts            *prometheus.CounterVec
	ClassifierDuration  *prometheus.HistogramVec
	ClassifierFallbacks *prometheus.CounterVec
	ChallengeOutcomes   *prometheus.CounterVec
	AccessTransitions   *prometheus.CounterVec
	TopicsCreated       prometheus.Counter
	TopicCacheEntries   prometheus.Gauge
	RetentionRuns       *prometheus.CounterVec
	RetentionPurged     *prometheus.CounterVec
	StorageRetries      prometheus.Counter
	TransportCalls      *prometheus.HistogramVec
}

// New creates and registers all metrics on reg (prometheus.DefaultRegisterer
// in production, a fresh registry in tests).
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_messages_relayed_total",
			Help: "Messages relayed, by direction (to_topic, to_user) and outcome",
		}, []string{"direction", "outcome"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_spam_verdicts_total",
			Help: "Spam classification verdicts by source and class",
		}, []string{"source", "class"}),
		ClassifierDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaygate_classifier_duration_seconds",
			Help:    "Latency of classification strategies",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"strategy"}),
		ClassifierFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_classifier_fallbacks_total",
			Help: "Strategies skipped in favor of the next one, by reason",
		}, []string{"strategy", "reason"}),
		ChallengeOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_challenge_outcomes_total",
			Help: "Challenge verifications by outcome",
		}, []string{"outcome"}),
		AccessTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_access_transitions_total",
			Help: "Access state transitions",
		}, []string{"from", "to"}),
		TopicsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "relaygate_topics_created_total",
			Help: "Sub-conversations created in the operator space",
		}),
		TopicCacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "relaygate_topic_cache_entries",
			Help: "Entries currently held in the topic directory cache",
		}),
		RetentionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_retention_runs_total",
			Help: "Retention job runs by job and result",
		}, []string{"job", "result"}),
		RetentionPurged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_retention_purged_total",
			Help: "Records removed by retention jobs",
		}, []string{"job"}),
		StorageRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "relaygate_storage_retries_total",
			Help: "Transient storage errors retried at the storage boundary",
		}),
		TransportCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaygate_transport_call_duration_seconds",
			Help:    "Bot API call latency by method and result",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "result"}),
	}
}

func (m *Metrics) ObserveRelayed(direction, outcome string) {
	if m == nil {
		return
	}
	m.MessagesRelayed.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) ObserveVerdict(source, class string) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(source, class).Inc()
}

func (m *Metrics) ObserveClassifier(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.ClassifierDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Metrics) IncrementFallback(strategy, reason string) {
	if m == nil {
		return
	}
	m.ClassifierFallbacks.WithLabelValues(strategy, reason).Inc()
}

func (m *Metrics) ObserveChallenge(outcome string) {
	if m == nil {
		return
	}
	m.ChallengeOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.AccessTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncrementTopicsCreated() {
	if m == nil {
		return
	}
	m.TopicsCreated.Inc()
}

func (m *Metrics) SetTopicCacheEntries(n int) {
	if m == nil {
		return
	}
	m.TopicCacheEntries.Set(float64(n))
}

func (m *Metrics) ObserveRetention(job string, err error, purged int64) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RetentionRuns.WithLabelValues(job, result).Inc()
	if purged > 0 {
		m.RetentionPurged.WithLabelValues(job).Add(float64(purged))
	}
}

func (m *Metrics) IncrementStorageRetries() {
	if m == nil {
		return
	}
	m.StorageRetries.Inc()
}

func (m *Metrics) ObserveTransportCall(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TransportCalls.WithLabelValues(method, result).Observe(d.Seconds())
}
