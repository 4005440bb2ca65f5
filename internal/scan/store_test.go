package scan_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cardscan/internal/imagestore"
	"cardscan/internal/scan"
	"cardscan/internal/services"
)

func openStore(t *testing.T) (*scan.Store, string) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := imagestore.NewLocal(filepath.Join(dir, "uploads"), 0, 1<<20)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	store, err := scan.OpenPath(filepath.Join(dir, "scans.db"), blobs, 5)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, filepath.Join(dir, "uploads")
}

func uploads(names ...string) []scan.Upload {
	out := make([]scan.Upload, 0, len(names))
	for _, name := range names {
		out = append(out, scan.Upload{
			OriginalFilename: name,
			ContentType:      "image/jpeg",
			Body:             strings.NewReader("bytes of " + name),
		})
	}
	return out
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	count := 0
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			count++
		}
		return nil
	})
	return count
}

func mustCreate(t *testing.T, store *scan.Store, names ...string) *scan.Scan {
	t.Helper()
	sc, err := store.CreateScan(context.Background(), uploads(names...))
	if err != nil {
		t.Fatalf("CreateScan: %v", err)
	}
	return sc
}

func TestCreateScanRecordsImagesInOrder(t *testing.T) {
	store, root := openStore(t)
	sc := mustCreate(t, store, "front.jpg", "back.JPG", "binder page.png")

	if sc.Status != scan.StatusCreated {
		t.Fatalf("expected CREATED, got %s", sc.Status)
	}
	if len(sc.Images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(sc.Images))
	}
	for i, img := range sc.Images {
		if img.Position != i {
			t.Fatalf("image %d has position %d", i, img.Position)
		}
		if img.Processed {
			t.Fatalf("image %d should start unprocessed", i)
		}
		if !strings.HasPrefix(img.Filename, sc.ID+"/"+img.ID) {
			t.Fatalf("filename %q not server assigned", img.Filename)
		}
	}
	if sc.Images[1].OriginalFilename != "back.JPG" || !strings.HasSuffix(sc.Images[1].Filename, ".jpg") {
		t.Fatalf("unexpected naming for second image: %+v", sc.Images[1])
	}
	if countFiles(t, root) != 3 {
		t.Fatalf("expected 3 stored files")
	}
}

func TestCreateScanValidatesImageCount(t *testing.T) {
	store, _ := openStore(t)
	if _, err := store.CreateScan(context.Background(), nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty upload, got %v", err)
	}
	if _, err := store.CreateScan(context.Background(), uploads("1", "2", "3", "4", "5", "6")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error above limit, got %v", err)
	}
}

type failingBlobs struct {
	inner   scan.BlobStore
	failOn  int
	mu      sync.Mutex
	puts    int
	deleted []string
}

func (f *failingBlobs) Put(ctx context.Context, key string, body io.Reader, ct string) (int64, error) {
	f.mu.Lock()
	f.puts++
	n := f.puts
	f.mu.Unlock()
	if n == f.failOn {
		return 0, errors.New("no space left on device")
	}
	return f.inner.Put(ctx, key, body, ct)
}

func (f *failingBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return f.inner.Open(ctx, key)
}

func (f *failingBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, key)
	f.mu.Unlock()
	return f.inner.Delete(ctx, key)
}

func TestCreateScanIsAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	local, err := imagestore.NewLocal(filepath.Join(dir, "uploads"), 0, 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	blobs := &failingBlobs{inner: local, failOn: 3}
	store, err := scan.OpenPath(filepath.Join(dir, "scans.db"), blobs, 10)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer store.Close()

	_, err = store.CreateScan(context.Background(), uploads("a.jpg", "b.jpg", "c.jpg"))
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(blobs.deleted) != 2 {
		t.Fatalf("expected both written blobs removed, got %v", blobs.deleted)
	}
	if countFiles(t, filepath.Join(dir, "uploads")) != 0 {
		t.Fatal("expected no files left behind")
	}
	summaries, err := store.ListScans(context.Background())
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected no scans recorded, got %d", len(summaries))
	}
}

func TestGetScanMissingIsNotFound(t *testing.T) {
	store, _ := openStore(t)
	if _, err := store.GetScan(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Snapshot(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found from snapshot, got %v", err)
	}
}

func TestUpdateStatusFollowsTransitionTable(t *testing.T) {
	all := scan.AllStatuses()
	for _, from := range all {
		for _, to := range all {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				store, _ := openStore(t)
				sc := mustCreate(t, store, "a.jpg")
				if err := forceStatus(store, sc.ID, from); err != nil {
					t.Skipf("cannot reach %s: %v", from, err)
				}

				err := store.UpdateStatus(context.Background(), sc.ID, to, "")
				snap, snapErr := store.Snapshot(context.Background(), sc.ID)
				if snapErr != nil {
					t.Fatalf("Snapshot: %v", snapErr)
				}
				if scan.CanTransition(from, to) {
					if err != nil {
						t.Fatalf("expected legal transition, got %v", err)
					}
					if snap.Status != to {
						t.Fatalf("expected status %s, got %s", to, snap.Status)
					}
					return
				}
				if !errors.Is(err, services.ErrInvalidTransition) {
					t.Fatalf("expected invalid transition, got %v", err)
				}
				var te *scan.TransitionError
				if !errors.As(err, &te) || te.From != from || te.To != to {
					t.Fatalf("expected TransitionError %s->%s, got %v", from, to, err)
				}
				if snap.Status != from {
					t.Fatalf("status changed on illegal transition: %s", snap.Status)
				}
			})
		}
	}
}

// forceStatus walks a fresh scan to target along legal edges.
func forceStatus(store *scan.Store, id string, target scan.Status) error {
	paths := map[scan.Status][]scan.Status{
		scan.StatusCreated:        nil,
		scan.StatusProcessing:     {scan.StatusProcessing},
		scan.StatusReadyForReview: {scan.StatusProcessing, scan.StatusReadyForReview},
		scan.StatusFailed:         {scan.StatusProcessing, scan.StatusFailed},
		scan.StatusCompleted:      {scan.StatusProcessing, scan.StatusReadyForReview, scan.StatusCompleted},
		scan.StatusCancelled:      {scan.StatusCancelled},
	}
	for _, step := range paths[target] {
		if err := store.UpdateStatus(context.Background(), id, step, ""); err != nil {
			return err
		}
	}
	return nil
}

func result(id, imageID string, confidence float64) scan.Result {
	return scan.Result{
		ID:              id,
		ImageID:         imageID,
		CardName:        "Lightning Bolt",
		SetName:         "Magic 2010",
		SetCode:         "M10",
		CollectorNumber: "146",
		ConfidenceScore: confidence,
		Quantity:        1,
		RequiresReview:  confidence < 70,
	}
}

func TestRecordImageOutcomeIsIdempotentPerResultID(t *testing.T) {
	store, _ := openStore(t)
	sc := mustCreate(t, store, "a.jpg", "b.jpg")
	ctx := context.Background()
	if err := store.UpdateStatus(ctx, sc.ID, scan.StatusProcessing, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	outcome := scan.ImageOutcome{
		ScanID:      sc.ID,
		ImageID:     sc.Images[0].ID,
		Outcome:     scan.OutcomeRecognized,
		RawResponse: `{"cards":[{"name":"Lightning Bolt"}]}`,
		Results:     []scan.Result{result("r1", sc.Images[0].ID, 95)},
	}
	if err := store.RecordImageOutcome(ctx, outcome); err != nil {
		t.Fatalf("RecordImageOutcome: %v", err)
	}
	if err := store.RecordImageOutcome(ctx, outcome); err != nil {
		t.Fatalf("second RecordImageOutcome: %v", err)
	}
	if err := store.AppendResults(ctx, sc.ID, []scan.Result{result("r1", sc.Images[0].ID, 95)}); err != nil {
		t.Fatalf("AppendResults: %v", err)
	}

	snap, err := store.Snapshot(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ResultCount != 1 {
		t.Fatalf("expected 1 result, got %d", snap.ResultCount)
	}
	if snap.ProcessedImages != 1 || snap.TotalImages != 2 {
		t.Fatalf("unexpected progress %d/%d", snap.ProcessedImages, snap.TotalImages)
	}

	remaining, err := store.UnprocessedImages(ctx, sc.ID)
	if err != nil {
		t.Fatalf("UnprocessedImages: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != sc.Images[1].ID {
		t.Fatalf("unexpected unprocessed images %+v", remaining)
	}

	full, err := store.GetScan(ctx, sc.ID)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if full.Images[0].RawResponse == "" || full.Images[0].Outcome != scan.OutcomeRecognized {
		t.Fatalf("expected outcome recorded, got %+v", full.Images[0])
	}
	if full.Results[0].Status != scan.ResultPending {
		t.Fatalf("expected PENDING default, got %s", full.Results[0].Status)
	}
}

func TestRecordImageOutcomeDiscardsLateResults(t *testing.T) {
	store, _ := openStore(t)
	sc := mustCreate(t, store, "a.jpg")
	ctx := context.Background()
	if err := store.UpdateStatus(ctx, sc.ID, scan.StatusProcessing, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := store.UpdateStatus(ctx, sc.ID, scan.StatusCancelled, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err := store.RecordImageOutcome(ctx, scan.ImageOutcome{
		ScanID:  sc.ID,
		ImageID: sc.Images[0].ID,
		Outcome: scan.OutcomeRecognized,
		Results: []scan.Result{result("late", sc.Images[0].ID, 90)},
	})
	if !errors.Is(err, scan.ErrScanGone) {
		t.Fatalf("expected ErrScanGone, got %v", err)
	}

	if err := store.DeleteScan(ctx, sc.ID); err != nil {
		t.Fatalf("DeleteScan: %v", err)
	}
	err = store.RecordImageOutcome(ctx, scan.ImageOutcome{ScanID: sc.ID, ImageID: sc.Images[0].ID, Outcome: scan.OutcomeEmpty})
	if !errors.Is(err, scan.ErrScanGone) {
		t.Fatalf("expected ErrScanGone after delete, got %v", err)
	}
}

func TestSetResultStatusesAllOrNothing(t *testing.T) {
	store, _ := openStore(t)
	sc := mustCreate(t, store, "a.jpg")
	ctx := context.Background()
	_ = store.UpdateStatus(ctx, sc.ID, scan.StatusProcessing, "")
	img := sc.Images[0].ID
	if err := store.RecordImageOutcome(ctx, scan.ImageOutcome{
		ScanID: sc.ID, ImageID: img, Outcome: scan.OutcomeRecognized,
		Results: []scan.Result{result("r1", img, 95), result("r2", img, 40), result("r3", img, 80)},
	}); err != nil {
		t.Fatalf("RecordImageOutcome: %v", err)
	}

	if _, err := store.SetResultStatuses(ctx, sc.ID, []string{"r1", "nope"}, scan.ResultAccepted); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	accepted, err := store.ResultsWithStatus(ctx, sc.ID, scan.ResultAccepted)
	if err != nil {
		t.Fatalf("ResultsWithStatus: %v", err)
	}
	if len(accepted) != 0 {
		t.Fatalf("partial update applied: %+v", accepted)
	}

	changed, err := store.SetResultStatuses(ctx, sc.ID, []string{"r1", "r1"}, scan.ResultAccepted)
	if err != nil || changed != 1 {
		t.Fatalf("expected 1 change, got %d (%v)", changed, err)
	}
	changed, err = store.SetResultStatuses(ctx, sc.ID, []string{"r1"}, scan.ResultAccepted)
	if err != nil || changed != 0 {
		t.Fatalf("expected no-op re-accept, got %d (%v)", changed, err)
	}
	if err := store.SetResultStatus(ctx, sc.ID, "r1", scan.ResultRejected); err != nil {
		t.Fatalf("flip to rejected: %v", err)
	}

	changed, err = store.SetAllPending(ctx, sc.ID, scan.ResultAccepted)
	if err != nil || changed != 2 {
		t.Fatalf("expected 2 pending accepted, got %d (%v)", changed, err)
	}
	snap, _ := store.Snapshot(ctx, sc.ID)
	if snap.AcceptedCount != 2 || snap.RejectedCount != 1 || snap.PendingCount != 0 {
		t.Fatalf("unexpected counts %+v", snap)
	}

	if err := store.SetResultStatus(ctx, "missing-scan", "r1", scan.ResultAccepted); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing scan, got %v", err)
	}
}

func TestDeleteScanRemovesRowsAndFiles(t *testing.T) {
	store, root := openStore(t)
	sc := mustCreate(t, store, "a.jpg", "b.jpg")
	ctx := context.Background()
	_ = store.UpdateStatus(ctx, sc.ID, scan.StatusProcessing, "")
	_ = store.RecordImageOutcome(ctx, scan.ImageOutcome{
		ScanID: sc.ID, ImageID: sc.Images[0].ID, Outcome: scan.OutcomeRecognized,
		Results: []scan.Result{result("r1", sc.Images[0].ID, 95)},
	})

	if err := store.DeleteScan(ctx, sc.ID); err != nil {
		t.Fatalf("DeleteScan: %v", err)
	}
	if countFiles(t, root) != 0 {
		t.Fatal("expected stored images removed")
	}
	if _, err := store.GetScan(ctx, sc.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := store.Results(ctx, sc.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected results gone, got %v", err)
	}
	if err := store.DeleteScan(ctx, sc.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestClearFailedAndCounts(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	failed := mustCreate(t, store, "a.jpg")
	keep := mustCreate(t, store, "b.jpg")
	_ = store.UpdateStatus(ctx, failed.ID, scan.StatusProcessing, "")
	_ = store.UpdateStatus(ctx, failed.ID, scan.StatusFailed, "vision unavailable")

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[scan.StatusFailed] != 1 || counts[scan.StatusCreated] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	removed, err := store.ClearFailed(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 removed, got %d (%v)", removed, err)
	}
	list, err := store.ListScans(ctx)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(list) != 1 || list[0].ID != keep.ID || list[0].TotalImages != 1 {
		t.Fatalf("unexpected remaining scans %+v", list)
	}
}

func TestImageBlobReturnsStoredBytes(t *testing.T) {
	store, _ := openStore(t)
	sc := mustCreate(t, store, "a.jpg")

	rc, img, err := store.ImageBlob(context.Background(), sc.ID, sc.Images[0].ID)
	if err != nil {
		t.Fatalf("ImageBlob: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "bytes of a.jpg" || img.OriginalFilename != "a.jpg" {
		t.Fatalf("unexpected blob %q for %+v", data, img)
	}
	if _, _, err := store.ImageBlob(context.Background(), sc.ID, "other"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
