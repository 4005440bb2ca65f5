package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardscan/internal/commit"
	"cardscan/internal/pricing"
	"cardscan/internal/scan"
	"cardscan/internal/services"
)

func newMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestObserveImageByOutcome(t *testing.T) {
	m := newMetrics(t)
	m.ObserveImage(scan.OutcomeRecognized, 2*time.Second)
	m.ObserveImage(scan.OutcomeRecognized, time.Second)
	m.ObserveImage(scan.OutcomeRefused, time.Second)
	m.ObserveImage(scan.OutcomeNone, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.recognitionImages.WithLabelValues("recognized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recognitionImages.WithLabelValues("refused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recognitionImages.WithLabelValues("unknown")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.recognitionDuration))
}

func TestObserveCommitLabels(t *testing.T) {
	tests := []struct {
		name   string
		result commit.Result
		err    error
		want   string
	}{
		{name: "success", result: commit.Result{NewCards: 2, StackedCards: 1}, want: "success"},
		{name: "recovered", result: commit.Result{Recovered: true}, want: "recovered"},
		{name: "nothing accepted", err: services.ErrNothingAccepted, want: "rejected"},
		{name: "wrong status", err: services.ErrInvalidTransition, want: "rejected"},
		{name: "storage", err: errors.Join(services.ErrCommit, errors.New("disk full")), want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMetrics(t)
			m.ObserveCommit(tt.result, tt.err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.commitsTotal.WithLabelValues(tt.want)))
		})
	}
}

func TestObserveCommitCountsCards(t *testing.T) {
	m := newMetrics(t)
	m.ObserveCommit(commit.Result{NewCards: 2, StackedCards: 1}, nil)
	m.ObserveCommit(commit.Result{NewCards: 5, Recovered: true}, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commitCards.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commitCards.WithLabelValues("stacked")))
}

func TestTransitionsAndActiveRuns(t *testing.T) {
	m := newMetrics(t)
	m.ObserveTransition(scan.StatusProcessing)
	m.ObserveTransition(scan.StatusReadyForReview)
	m.ObserveTransition(scan.StatusProcessing)
	m.SetActiveRuns(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scanTransitions.WithLabelValues("PROCESSING")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeRuns))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := newMetrics(t)
	hits := int64(0)
	require.NoError(t, m.WatchPricingCache(func() pricing.CacheStats {
		return pricing.CacheStats{Hits: hits, Misses: 4, Requests: hits + 4}
	}))
	hits = 7
	m.ObserveHTTP(http.MethodGet, "/scan/:id", http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTP(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `cardscan_http_requests_total{method="GET",route="/scan/:id",status_code="200"} 1`)
	assert.Contains(t, text, `route="unmatched"`)
	assert.Contains(t, text, "cardscan_pricing_cache_hits_total 7")
	assert.Contains(t, text, "cardscan_pricing_requests_total 11")
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)
	_, err = New(registry)
	require.Error(t, err)
}
