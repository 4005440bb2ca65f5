package metrics

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cardscan/internal/commit"
	"cardscan/internal/pricing"
	"cardscan/internal/scan"
	"cardscan/internal/services"
)

const namespace = "cardscan"

// Metrics holds every collector the daemon reports.
type Metrics struct {
	registry *prometheus.Registry

	scanTransitions *prometheus.CounterVec
	activeRuns      prometheus.Gauge

	recognitionImages   *prometheus.CounterVec
	recognitionDuration *prometheus.HistogramVec

	commitsTotal *prometheus.CounterVec
	commitCards  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// New creates and registers the daemon metrics on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.scanTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_transitions_total",
			Help:      "Scan status changes by destination status",
		},
		[]string{"status"},
	)
	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_recognition_runs",
		Help:      "Scans currently being processed",
	})

	m.recognitionImages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_images_total",
			Help:      "Images resolved by the recognition worker",
		},
		[]string{"outcome"}, // recognized, empty, refused, failed
	)
	m.recognitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_image_duration_seconds",
			Help:      "Time spent resolving one image including retries",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2m
		},
		[]string{"outcome"},
	)

	m.commitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commit attempts by result",
		},
		[]string{"result"}, // success, recovered, rejected, error
	)
	m.commitCards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_cards_total",
			Help:      "Cards written to the collection by commits",
		},
		[]string{"kind"}, // new, stacked
	)

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code",
		},
		[]string{"method", "route", "status_code"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.collectors = []prometheus.Collector{
		m.scanTransitions,
		m.activeRuns,
		m.recognitionImages,
		m.recognitionDuration,
		m.commitsTotal,
		m.commitCards,
		m.httpRequests,
		m.httpDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// Registry returns the registry the metrics were registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveImage records one resolved image.
func (m *Metrics) ObserveImage(outcome scan.Outcome, elapsed time.Duration) {
	label := string(outcome)
	if label == "" {
		label = "unknown"
	}
	m.recognitionImages.WithLabelValues(label).Inc()
	m.recognitionDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveTransition records a scan entering status.
func (m *Metrics) ObserveTransition(status scan.Status) {
	m.scanTransitions.WithLabelValues(string(status)).Inc()
}

// SetActiveRuns reports the number of in-flight recognition runs.
func (m *Metrics) SetActiveRuns(n int) {
	m.activeRuns.Set(float64(n))
}

// ObserveCommit records the outcome of one commit attempt.
func (m *Metrics) ObserveCommit(result commit.Result, err error) {
	m.commitsTotal.WithLabelValues(commitLabel(result, err)).Inc()
	if err != nil || result.Recovered {
		return
	}
	m.commitCards.WithLabelValues("new").Add(float64(result.NewCards))
	m.commitCards.WithLabelValues("stacked").Add(float64(result.StackedCards))
}

func commitLabel(result commit.Result, err error) string {
	switch {
	case err == nil && result.Recovered:
		return "recovered"
	case err == nil:
		return "success"
	case errors.Is(err, services.ErrNothingAccepted),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

// ObserveHTTP records one served API request. route is the registered path
// pattern, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// WatchPricingCache exports the pricing lookup cache counters. stats is
// sampled on every scrape.
func (m *Metrics) WatchPricingCache(stats func() pricing.CacheStats) error {
	if stats == nil {
		return nil
	}
	funcs := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_cache_hits_total",
			Help:      "Pricing lookups served from cache",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_cache_misses_total",
			Help:      "Pricing lookups that required a remote request",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_requests_total",
			Help:      "Pricing lookups received",
		}, func() float64 { return float64(stats().Requests) }),
	}
	for _, c := range funcs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
