package testsupport

import (
	"context"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"cardscan/internal/collection"
	"cardscan/internal/config"
	"cardscan/internal/imagestore"
	"cardscan/internal/scan"
)

// MustOpenScanStore opens a scan.Store backed by local image storage and
// registers cleanup.
func MustOpenScanStore(t testing.TB, cfg *config.Config) *scan.Store {
	t.Helper()

	blobs, err := imagestore.NewLocal(cfg.Paths.UploadDir, cfg.Storage.MinFreeMB, cfg.MaxUploadBytes())
	if err != nil {
		t.Fatalf("imagestore.NewLocal: %v", err)
	}
	store, err := scan.Open(cfg, blobs)
	if err != nil {
		t.Fatalf("scan.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewScan creates a scan whose images hold the given payloads, in order.
func NewScan(t testing.TB, store *scan.Store, payloads ...string) *scan.Scan {
	t.Helper()

	sc, err := store.CreateScan(context.Background(), Uploads(payloads...))
	if err != nil {
		t.Fatalf("store.CreateScan: %v", err)
	}
	return sc
}

// NewProcessingScan creates a scan and moves it to PROCESSING.
func NewProcessingScan(t testing.TB, store *scan.Store, payloads ...string) *scan.Scan {
	t.Helper()

	sc := NewScan(t, store, payloads...)
	if err := store.UpdateStatus(context.Background(), sc.ID, scan.StatusProcessing, ""); err != nil {
		t.Fatalf("store.UpdateStatus: %v", err)
	}
	sc.Status = scan.StatusProcessing
	return sc
}

// MustOpenCollection opens the SQLite collection named by cfg and registers
// cleanup.
func MustOpenCollection(t testing.TB, cfg *config.Config, opts ...collection.Option) *collection.Store {
	t.Helper()

	store, err := collection.Open(cfg.Collection, opts...)
	if err != nil {
		t.Fatalf("collection.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewReviewScan creates a scan with one image per card name, records one
// pending result for each, and leaves the scan READY_FOR_REVIEW.
func NewReviewScan(t testing.TB, store *scan.Store, names ...string) *scan.Scan {
	t.Helper()

	payloads := make([]string, len(names))
	for i, name := range names {
		payloads[i] = "image of " + name
	}
	sc := NewProcessingScan(t, store, payloads...)
	ctx := context.Background()
	for i, img := range sc.Images {
		err := store.RecordImageOutcome(ctx, scan.ImageOutcome{
			ScanID:  sc.ID,
			ImageID: img.ID,
			Outcome: scan.OutcomeRecognized,
			Results: []scan.Result{{
				ID:              uuid.NewString(),
				ImageID:         img.ID,
				Position:        img.Position * 1000,
				CardName:        names[i],
				SetCode:         "TST",
				SetName:         "Test Set",
				CollectorNumber: strconv.Itoa(i + 1),
				ConfidenceScore: 95,
				Quantity:        1,
			}},
		})
		if err != nil {
			t.Fatalf("store.RecordImageOutcome: %v", err)
		}
	}
	if err := store.UpdateStatus(ctx, sc.ID, scan.StatusReadyForReview, ""); err != nil {
		t.Fatalf("store.UpdateStatus: %v", err)
	}
	loaded, err := store.GetScan(ctx, sc.ID)
	if err != nil {
		t.Fatalf("store.GetScan: %v", err)
	}
	return loaded
}
