package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cardscan/internal/collection"
	"cardscan/internal/commit"
	"cardscan/internal/notifications"
	"cardscan/internal/recognition"
	"cardscan/internal/scan"
	"cardscan/internal/services"
	"cardscan/internal/services/vision"
	"cardscan/internal/stage"
	"cardscan/internal/testsupport"
	"cardscan/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeVision answers from the image payload. When gate is set every call
// blocks until the gate closes or the context ends.
type fakeVision struct {
	mu      sync.Mutex
	calls   map[string]int
	gate    chan struct{}
	started chan string
	respond func(payload string) (vision.Identification, error)
}

func newFakeVision(respond func(string) (vision.Identification, error)) *fakeVision {
	return &fakeVision{calls: map[string]int{}, respond: respond}
}

func (f *fakeVision) IdentifyCards(ctx context.Context, image []byte, _ string) (vision.Identification, error) {
	payload := string(image)
	f.mu.Lock()
	f.calls[payload]++
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- payload:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return vision.Identification{}, ctx.Err()
		}
	}
	return f.respond(payload)
}

func (f *fakeVision) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// cardNamed identifies "image of <name> @<confidence>" payloads.
func cardNamed(payload string) (vision.Identification, error) {
	name := strings.TrimPrefix(payload, "image of ")
	confidence := 95.0
	if idx := strings.LastIndex(name, " @"); idx >= 0 {
		switch name[idx+2:] {
		case "40":
			confidence = 40
		}
		name = name[:idx]
	}
	return vision.Identification{
		Cards: []vision.Candidate{{Name: name, SetCode: "TST", CollectorNumber: "1", Confidence: confidence, Quantity: 1}},
		Raw:   `{"cards":[{"name":"` + name + `"}]}`,
	}, nil
}

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubNotifier) seen(event notifications.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	store    *scan.Store
	cards    *collection.Store
	mgr      *workflow.Manager
	notifier *stubNotifier
}

func newHarness(t *testing.T, fv *fakeVision) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenScanStore(t, cfg)
	cards := testsupport.MustOpenCollection(t, cfg)
	h := &harness{store: store, cards: cards, notifier: &stubNotifier{}}
	h.mgr = newManager(t, store, cards, fv, h.notifier)
	return h
}

func newManager(t *testing.T, store *scan.Store, cards *collection.Store, fv *fakeVision, notifier notifications.Service) *workflow.Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	worker := recognition.NewWorker(store, fv, recognition.WithConcurrency(2), recognition.WithReviewThreshold(70))
	mgr := workflow.NewManager(cfg, store, worker, commit.NewEngine(store, cards, nil), nil,
		workflow.WithNotifier(notifier),
		workflow.WithRunRetry(1, 0),
	)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)
	return mgr
}

func waitForStatus(t *testing.T, mgr *workflow.Manager, scanID string, want scan.Status) scan.Snapshot {
	t.Helper()
	var snap scan.Snapshot
	require.Eventually(t, func() bool {
		s, err := mgr.ScanStatus(context.Background(), scanID)
		if err != nil {
			return false
		}
		snap = s
		return s.Status == want && mgr.ActiveRuns() == 0
	}, 5*time.Second, 10*time.Millisecond, "scan never reached %s", want)
	return snap
}

func TestScanRoundTripToCollection(t *testing.T) {
	h := newHarness(t, newFakeVision(cardNamed))
	ctx := context.Background()
	sc := testsupport.NewScan(t, h.store, "image of Lightning Bolt", "image of Counterspell @40")

	snap, err := h.mgr.StartProcessing(ctx, sc.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, snap.ProcessedImages, snap.TotalImages)

	snap = waitForStatus(t, h.mgr, sc.ID, scan.StatusReadyForReview)
	assert.Equal(t, 2, snap.ProcessedImages)
	assert.Equal(t, 2, snap.TotalImages)

	results, err := h.mgr.Results(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].RequiresReview)
	assert.True(t, results[1].RequiresReview)
	assert.InDelta(t, 40, results[1].ConfidenceScore, 0.001)
	assert.True(t, h.notifier.seen(notifications.EventScanReady))

	changed, err := h.mgr.AcceptResults(ctx, sc.ID, workflow.Selection{All: true})
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	result, err := h.mgr.Commit(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CardsCreated)

	snap, err = h.mgr.ScanStatus(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCompleted, snap.Status)

	cards, err := h.cards.ListCards(ctx, collection.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.True(t, h.notifier.seen(notifications.EventScanCommitted))
}

func TestStartProcessingLaunchesOneRun(t *testing.T) {
	fv := newFakeVision(cardNamed)
	fv.gate = make(chan struct{})
	fv.started = make(chan string, 8)
	h := newHarness(t, fv)
	ctx := context.Background()
	sc := testsupport.NewScan(t, h.store, "image of Opt", "image of Ponder")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.mgr.StartProcessing(ctx, sc.ID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	<-fv.started
	assert.Equal(t, 1, h.mgr.ActiveRuns())

	snap, err := h.mgr.ScanStatus(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusProcessing, snap.Status)
	assert.LessOrEqual(t, snap.ProcessedImages, snap.TotalImages)

	close(fv.gate)
	waitForStatus(t, h.mgr, sc.ID, scan.StatusReadyForReview)
	assert.Equal(t, 2, fv.totalCalls())
}

func TestAllImagesFailingMarksScanFailed(t *testing.T) {
	fv := newFakeVision(func(string) (vision.Identification, error) {
		return vision.Identification{}, &vision.ServiceError{Op: "identify", Attempts: 3, Err: errors.New("502 bad gateway")}
	})
	h := newHarness(t, fv)
	ctx := context.Background()
	sc := testsupport.NewScan(t, h.store, "a", "b", "c")

	_, err := h.mgr.StartProcessing(ctx, sc.ID)
	require.NoError(t, err)
	snap := waitForStatus(t, h.mgr, sc.ID, scan.StatusFailed)
	assert.Equal(t, 3, snap.ProcessedImages)
	assert.Equal(t, 3, snap.FailedImages)
	assert.Equal(t, 0, snap.ResultCount)
	assert.Contains(t, snap.ErrorMessage, "all 3 images failed")
	assert.True(t, h.notifier.seen(notifications.EventScanFailed))

	_, err = h.mgr.StartProcessing(ctx, sc.ID)
	require.ErrorIs(t, err, services.ErrInvalidTransition)
}

// flakyStage fails Execute with a storage error until healed.
type flakyStage struct {
	stage.Handler
	mu       sync.Mutex
	broken   bool
	attempts int
}

func (f *flakyStage) Execute(ctx context.Context, sc *scan.Scan) error {
	f.mu.Lock()
	f.attempts++
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return services.Wrap(services.ErrStorage, "test", "record outcome", "disk full", nil)
	}
	return f.Handler.Execute(ctx, sc)
}

func (f *flakyStage) heal() {
	f.mu.Lock()
	f.broken = false
	f.mu.Unlock()
}

func (f *flakyStage) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func TestStorageFailureLeavesScanProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenScanStore(t, cfg)
	cards := testsupport.MustOpenCollection(t, cfg)
	worker := &flakyStage{Handler: recognition.NewWorker(store, newFakeVision(cardNamed)), broken: true}
	mgr := workflow.NewManager(cfg, store, worker, commit.NewEngine(store, cards, nil), nil, workflow.WithRunRetry(2, 0))
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)

	ctx := context.Background()
	sc := testsupport.NewScan(t, store, "image of Opt")
	_, err := mgr.StartProcessing(ctx, sc.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return worker.attemptCount() == 2 && mgr.ActiveRuns() == 0
	}, 5*time.Second, 10*time.Millisecond)
	snap, err := mgr.ScanStatus(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusProcessing, snap.Status)
	assert.Empty(t, snap.ErrorMessage)

	worker.heal()
	_, err = mgr.StartProcessing(ctx, sc.ID)
	require.NoError(t, err)
	snap = waitForStatus(t, mgr, sc.ID, scan.StatusReadyForReview)
	assert.Equal(t, 1, snap.ResultCount)
}

func TestPartialFailureStillReachesReview(t *testing.T) {
	fv := newFakeVision(func(payload string) (vision.Identification, error) {
		if payload == "bad" {
			return vision.Identification{}, &vision.ServiceError{Op: "identify", Attempts: 3, Err: errors.New("timeout")}
		}
		return cardNamed(payload)
	})
	h := newHarness(t, fv)
	sc := testsupport.NewScan(t, h.store, "bad", "image of Island")

	_, err := h.mgr.StartProcessing(context.Background(), sc.ID)
	require.NoError(t, err)
	snap := waitForStatus(t, h.mgr, sc.ID, scan.StatusReadyForReview)
	assert.Equal(t, 1, snap.FailedImages)
	assert.Equal(t, 1, snap.ResultCount)
}

func TestRefusalReachesReviewWithDiagnostics(t *testing.T) {
	fv := newFakeVision(func(string) (vision.Identification, error) {
		return vision.Identification{}, &vision.RefusalError{Reason: "I can't help with that.", Raw: "I can't help with that."}
	})
	h := newHarness(t, fv)
	ctx := context.Background()
	sc := testsupport.NewScan(t, h.store, "blurry")

	_, err := h.mgr.StartProcessing(ctx, sc.ID)
	require.NoError(t, err)
	snap := waitForStatus(t, h.mgr, sc.ID, scan.StatusReadyForReview)
	assert.Equal(t, 1, snap.RefusedImages)
	assert.Equal(t, 0, snap.ResultCount)

	responses, err := h.mgr.AIResponse(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, scan.OutcomeRefused, responses[0].Outcome)
	assert.Equal(t, "I can't help with that.", responses[0].RawResponse)
	assert.Equal(t, "card-1.jpg", responses[0].OriginalFilename)

	_, err = h.mgr.Commit(ctx, sc.ID)
	require.ErrorIs(t, err, services.ErrNothingAccepted)
}

func TestCancelDuringProcessingRemovesScan(t *testing.T) {
	fv := newFakeVision(cardNamed)
	fv.gate = make(chan struct{})
	fv.started = make(chan string, 8)
	h := newHarness(t, fv)
	ctx := context.Background()
	sc := testsupport.NewScan(t, h.store, "image of Shock", "image of Duress")

	_, err := h.mgr.StartProcessing(ctx, sc.ID)
	require.NoError(t, err)
	<-fv.started

	require.NoError(t, h.mgr.Cancel(ctx, sc.ID))
	_, err = h.mgr.ScanStatus(ctx, sc.ID)
	require.ErrorIs(t, err, services.ErrNotFound)

	// In-flight calls finish after the scan is gone; nothing is written back.
	close(fv.gate)
	require.Eventually(t, func() bool { return h.mgr.ActiveRuns() == 0 }, 5*time.Second, 10*time.Millisecond)
	_, err = h.store.Results(ctx, sc.ID)
	require.ErrorIs(t, err, services.ErrNotFound)
	_, err = h.mgr.ScanStatus(ctx, sc.ID)
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestCancelTerminalScanIsRejected(t *testing.T) {
	h := newHarness(t, newFakeVision(cardNamed))
	ctx := context.Background()
	sc := testsupport.NewReviewScan(t, h.store, "Giant Growth")
	_, err := h.mgr.AcceptResults(ctx, sc.ID, workflow.Selection{All: true})
	require.NoError(t, err)
	_, err = h.mgr.Commit(ctx, sc.ID)
	require.NoError(t, err)

	err = h.mgr.Cancel(ctx, sc.ID)
	require.ErrorIs(t, err, services.ErrInvalidTransition)

	require.ErrorIs(t, h.mgr.Cancel(ctx, "missing"), services.ErrNotFound)
}

func TestReviewRequiresReadyForReview(t *testing.T) {
	h := newHarness(t, newFakeVision(cardNamed))
	ctx := context.Background()

	created := testsupport.NewScan(t, h.store, "x")
	_, err := h.mgr.AcceptResults(ctx, created.ID, workflow.Selection{All: true})
	require.ErrorIs(t, err, services.ErrInvalidState)

	sc := testsupport.NewReviewScan(t, h.store, "Llanowar Elves", "Birds of Paradise")
	_, err = h.mgr.RejectResults(ctx, sc.ID, workflow.Selection{})
	require.ErrorIs(t, err, services.ErrValidation)

	ids := []string{sc.Results[0].ID}
	changed, err := h.mgr.AcceptResults(ctx, sc.ID, workflow.Selection{IDs: ids})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	changed, err = h.mgr.AcceptResults(ctx, sc.ID, workflow.Selection{IDs: ids})
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	_, err = h.mgr.AcceptResults(ctx, sc.ID, workflow.Selection{IDs: []string{"nope"}})
	require.ErrorIs(t, err, services.ErrNotFound)

	_, err = h.mgr.StartProcessing(ctx, sc.ID)
	require.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestStopLeavesScanProcessingAndStartResumes(t *testing.T) {
	fv := newFakeVision(cardNamed)
	fv.gate = make(chan struct{})
	fv.started = make(chan string, 8)
	h := newHarness(t, fv)
	ctx := context.Background()
	sc := testsupport.NewScan(t, h.store, "image of Mox Pearl")

	_, err := h.mgr.StartProcessing(ctx, sc.ID)
	require.NoError(t, err)
	<-fv.started
	h.mgr.Stop()

	snap, err := h.mgr.ScanStatus(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusProcessing, snap.Status)
	assert.Equal(t, 0, snap.ProcessedImages)

	_, err = h.mgr.StartProcessing(ctx, sc.ID)
	require.ErrorIs(t, err, services.ErrTransient)

	resumed := newManager(t, h.store, h.cards, newFakeVision(cardNamed), &stubNotifier{})
	snap = waitForStatus(t, resumed, sc.ID, scan.StatusReadyForReview)
	assert.Equal(t, 1, snap.ResultCount)
}

func TestStatusReportsHealthAndCounts(t *testing.T) {
	h := newHarness(t, newFakeVision(cardNamed))
	testsupport.NewScan(t, h.store, "a")
	testsupport.NewReviewScan(t, h.store, "b")

	summary := h.mgr.Status(context.Background())
	assert.True(t, summary.Running)
	assert.Equal(t, 1, summary.ScanStats[scan.StatusCreated])
	assert.Equal(t, 1, summary.ScanStats[scan.StatusReadyForReview])
	require.NotEmpty(t, summary.StageHealth)
	assert.Equal(t, "recognition", summary.StageHealth[0].Name)
	assert.True(t, summary.StageHealth[0].Ready)
}
