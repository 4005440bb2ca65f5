package recognition_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardscan/internal/pricing"
	"cardscan/internal/recognition"
	"cardscan/internal/scan"
	"cardscan/internal/services"
	"cardscan/internal/services/vision"
	"cardscan/internal/testsupport"
)

type reply struct {
	ident vision.Identification
	err   error
}

// fakeIdentifier answers by image payload.
type fakeIdentifier struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   map[string]int
	gate    chan struct{}
	started chan string
}

func newFakeIdentifier(replies map[string]reply) *fakeIdentifier {
	return &fakeIdentifier{replies: replies, calls: map[string]int{}}
}

func (f *fakeIdentifier) IdentifyCards(ctx context.Context, image []byte, _ string) (vision.Identification, error) {
	key := string(image)
	f.mu.Lock()
	f.calls[key]++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- key
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return vision.Identification{}, ctx.Err()
		}
	}
	r, ok := f.replies[key]
	if !ok {
		return vision.Identification{Raw: `{"cards":[]}`}, nil
	}
	return r.ident, r.err
}

func (f *fakeIdentifier) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func cards(raw string, cs ...vision.Candidate) reply {
	return reply{ident: vision.Identification{Cards: cs, Raw: raw, Attempts: 1}}
}

func TestProcessScanRecordsEveryOutcome(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenScanStore(t, cfg)
	sc := testsupport.NewProcessingScan(t, store, "two-cards", "blank", "refuse", "broken")

	ident := newFakeIdentifier(map[string]reply{
		"two-cards": cards(`{"cards":[...]}`,
			vision.Candidate{Name: "Lightning Bolt", SetCode: "M10", Confidence: 95, Quantity: 1},
			vision.Candidate{Name: "Counterspell", SetCode: "7ED", Confidence: 40, Quantity: 2},
		),
		"blank":  cards(`{"cards":[]}`),
		"refuse": {err: &vision.RefusalError{Reason: "not a card", Raw: "I can't help with that."}},
		"broken": {ident: vision.Identification{Raw: "garbage"}, err: &vision.ServiceError{Op: "parse answer", Raw: "garbage", Err: errors.New("bad json")}},
	})
	worker := recognition.NewWorker(store, ident, recognition.WithConcurrency(2))

	summary, err := worker.ProcessScan(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, recognition.Summary{
		Total: 4, Processed: 4, Recognized: 1, Empty: 1, Refused: 1, Failed: 1, Results: 2,
	}, summary)

	snap, err := store.Snapshot(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.ProcessedImages)
	assert.Equal(t, 4, snap.TotalImages)
	assert.Equal(t, 1, snap.FailedImages)
	assert.Equal(t, 1, snap.RefusedImages)
	assert.Equal(t, scan.StatusProcessing, snap.Status, "the worker never finalizes the scan itself")

	results, err := store.Results(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Lightning Bolt", results[0].CardName)
	assert.False(t, results[0].RequiresReview)
	assert.Equal(t, "Counterspell", results[1].CardName)
	assert.True(t, results[1].RequiresReview)
	assert.Equal(t, 2, results[1].Quantity)
	assert.Equal(t, scan.ResultPending, results[1].Status)

	refused, err := store.GetImage(context.Background(), sc.ID, sc.Images[2].ID)
	require.NoError(t, err)
	assert.Equal(t, scan.OutcomeRefused, refused.Outcome)
	assert.Equal(t, "not a card", refused.OutcomeDetail)
	assert.Equal(t, "I can't help with that.", refused.RawResponse)

	failed, err := store.GetImage(context.Background(), sc.ID, sc.Images[3].ID)
	require.NoError(t, err)
	assert.Equal(t, scan.OutcomeFailed, failed.Outcome)
	assert.Equal(t, "garbage", failed.RawResponse)
}

func TestProcessScanSkipsProcessedImagesOnRerun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenScanStore(t, cfg)
	sc := testsupport.NewProcessingScan(t, store, "bolt")

	ident := newFakeIdentifier(map[string]reply{
		"bolt": cards("raw", vision.Candidate{Name: "Lightning Bolt", Confidence: 90, Quantity: 1}),
	})
	worker := recognition.NewWorker(store, ident)

	_, err := worker.ProcessScan(context.Background(), sc.ID)
	require.NoError(t, err)
	summary, err := worker.ProcessScan(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Equal(t, 1, ident.callCount("bolt"))

	results, err := store.Results(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestProcessScanDiscardsResultsAfterCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenScanStore(t, cfg)
	sc := testsupport.NewProcessingScan(t, store, "a", "b", "c")

	ident := newFakeIdentifier(map[string]reply{
		"a": cards("raw", vision.Candidate{Name: "Island", Confidence: 99, Quantity: 1}),
		"b": cards("raw", vision.Candidate{Name: "Forest", Confidence: 99, Quantity: 1}),
		"c": cards("raw", vision.Candidate{Name: "Swamp", Confidence: 99, Quantity: 1}),
	})
	ident.gate = make(chan struct{})
	ident.started = make(chan string, 3)
	worker := recognition.NewWorker(store, ident, recognition.WithConcurrency(1))

	type outcome struct {
		summary recognition.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		summary, err := worker.ProcessScan(context.Background(), sc.ID)
		done <- outcome{summary, err}
	}()

	<-ident.started
	require.NoError(t, store.UpdateStatus(context.Background(), sc.ID, scan.StatusCancelled, ""))
	require.NoError(t, store.DeleteScan(context.Background(), sc.ID))
	close(ident.gate)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.Equal(t, 1, got.summary.Discarded)
		assert.Zero(t, got.summary.Processed)
	case <-time.After(5 * time.Second):
		t.Fatal("ProcessScan did not return after cancellation")
	}
	assert.Zero(t, ident.callCount("c"), "no images are dispatched once the scan is gone")

	_, err := store.Results(context.Background(), sc.ID)
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestProcessScanLeavesImagesUnprocessedWhenContextCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenScanStore(t, cfg)
	sc := testsupport.NewProcessingScan(t, store, "a", "b")

	ident := newFakeIdentifier(nil)
	ident.gate = make(chan struct{})
	ident.started = make(chan string, 2)
	worker := recognition.NewWorker(store, ident, recognition.WithConcurrency(2))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := worker.ProcessScan(ctx, sc.ID)
		errCh <- err
	}()
	<-ident.started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	pending, err := store.UnprocessedImages(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

type fakeEnricher struct {
	card pricing.Card
	err  error
}

func (f fakeEnricher) Lookup(context.Context, string, string, string) (pricing.Card, error) {
	return f.card, f.err
}

func TestBuildResultsEnrichesCardData(t *testing.T) {
	usd := 2.5
	worker := recognition.NewWorker(nil, nil,
		recognition.WithReviewThreshold(80),
		recognition.WithEnricher(fakeEnricher{card: pricing.Card{
			ScryfallID: "sf-1", SetName: "Magic 2010", CollectorNumber: "146", Rarity: "common",
			Prices: pricing.Prices{USD: &usd},
		}}),
	)
	img := scan.Image{ID: "img-1", ScanID: "scan-1", Position: 2}
	results := worker.BuildResults(context.Background(), img, []vision.Candidate{
		{Name: "Lightning Bolt", SetCode: "M10", Confidence: 75, Quantity: 1, Notes: "slightly worn"},
	})
	require.Len(t, results, 1)
	res := results[0]
	assert.True(t, res.RequiresReview, "75 is below the configured threshold of 80")
	assert.Equal(t, "Magic 2010", res.SetName)
	assert.Equal(t, "146", res.CollectorNumber)
	assert.Equal(t, 2000, res.Position)

	data := res.Data()
	assert.Equal(t, "sf-1", data.ScryfallID)
	assert.Equal(t, "slightly worn", data.Notes)
	require.NotNil(t, data.PriceUSD)
	assert.InDelta(t, 2.5, *data.PriceUSD, 0.001)
}

func TestBuildResultsToleratesLookupFailure(t *testing.T) {
	worker := recognition.NewWorker(nil, nil,
		recognition.WithEnricher(fakeEnricher{err: services.Wrap(services.ErrTransient, "pricing", "lookup", "http 503", nil)}),
	)
	results := worker.BuildResults(context.Background(), scan.Image{ID: "i", ScanID: "s"}, []vision.Candidate{
		{Name: "Island", Confidence: 100, Quantity: 1},
	})
	require.Len(t, results, 1)
	assert.Empty(t, results[0].CardData)
	assert.False(t, results[0].RequiresReview)
}

func TestResultIDIsDeterministic(t *testing.T) {
	a := recognition.ResultID("2b0f3c2e-6a0e-4b8f-9a53-6c1a3a9b8f10", "img-1", 0)
	assert.Equal(t, a, recognition.ResultID("2b0f3c2e-6a0e-4b8f-9a53-6c1a3a9b8f10", "img-1", 0))
	assert.NotEqual(t, a, recognition.ResultID("2b0f3c2e-6a0e-4b8f-9a53-6c1a3a9b8f10", "img-1", 1))
	assert.NotEqual(t, a, recognition.ResultID("2b0f3c2e-6a0e-4b8f-9a53-6c1a3a9b8f10", "img-2", 0))
	assert.NotEqual(t, recognition.ResultID("not-a-uuid", "img", 0), recognition.ResultID("other", "img", 0))
}

func TestPrepareRequiresProcessing(t *testing.T) {
	worker := recognition.NewWorker(nil, nil)
	err := worker.Prepare(context.Background(), &scan.Scan{ID: "s", Status: scan.StatusCreated})
	require.ErrorIs(t, err, services.ErrInvalidState)
	require.NoError(t, worker.Prepare(context.Background(), &scan.Scan{ID: "s", Status: scan.StatusProcessing}))
}

func TestHealthCheckWithoutIdentifier(t *testing.T) {
	health := recognition.NewWorker(nil, nil).HealthCheck(context.Background())
	assert.False(t, health.Ready)
}
