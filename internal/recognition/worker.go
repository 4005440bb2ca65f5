package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cardscan/internal/logging"
	"cardscan/internal/pricing"
	"cardscan/internal/scan"
	"cardscan/internal/services"
	"cardscan/internal/services/vision"
	"cardscan/internal/stage"
)

const (
	stageName = "recognition"

	// DefaultReviewThreshold flags results below this confidence for review.
	DefaultReviewThreshold = 70.0
	defaultConcurrency     = 3
	maxImageBytes          = 64 << 20
)

// Store is the slice of the scan store the worker needs.
type Store interface {
	UnprocessedImages(ctx context.Context, scanID string) ([]scan.Image, error)
	ImageBlob(ctx context.Context, scanID, imageID string) (io.ReadCloser, *scan.Image, error)
	RecordImageOutcome(ctx context.Context, outcome scan.ImageOutcome) error
}

// Enricher fills market data for an identified card.
type Enricher interface {
	Lookup(ctx context.Context, name, setCode, collectorNumber string) (pricing.Card, error)
}

// Observer receives one call per resolved image.
type Observer interface {
	ObserveImage(outcome scan.Outcome, elapsed time.Duration)
}

// Summary tallies one ProcessScan run.
type Summary struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Recognized int `json:"recognized"`
	Empty      int `json:"empty"`
	Refused    int `json:"refused"`
	Failed     int `json:"failed"`
	Discarded  int `json:"discarded"`
	Results    int `json:"results"`
}

// Worker identifies cards in scan images.
type Worker struct {
	store      Store
	identifier vision.Identifier
	enricher   Enricher
	observer   Observer
	logger     *slog.Logger

	threshold   float64
	concurrency int
}

// Option customizes the worker.
type Option func(*Worker)

// WithEnricher enables per-candidate market data lookup.
func WithEnricher(enricher Enricher) Option {
	return func(w *Worker) { w.enricher = enricher }
}

// WithObserver reports image outcomes, typically to metrics.
func WithObserver(observer Observer) Option {
	return func(w *Worker) { w.observer = observer }
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logging.NewComponentLogger(logger, stageName) }
}

// WithReviewThreshold sets the confidence below which results require review.
func WithReviewThreshold(threshold float64) Option {
	return func(w *Worker) {
		if threshold >= 0 && threshold <= 100 {
			w.threshold = threshold
		}
	}
}

// WithConcurrency bounds how many images of one scan are identified at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// NewWorker builds a worker around the scan store and a vision identifier.
func NewWorker(store Store, identifier vision.Identifier, opts ...Option) *Worker {
	w := &Worker{
		store:       store,
		identifier:  identifier,
		logger:      logging.NewComponentLogger(nil, stageName),
		threshold:   DefaultReviewThreshold,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ReviewThreshold reports the active threshold.
func (w *Worker) ReviewThreshold() float64 {
	return w.threshold
}

// ProcessImage loads the image bytes and asks the model to identify cards.
// The returned Identification keeps the raw model text even on error.
func (w *Worker) ProcessImage(ctx context.Context, img scan.Image) (vision.Identification, error) {
	rc, _, err := w.store.ImageBlob(ctx, img.ScanID, img.ID)
	if err != nil {
		return vision.Identification{}, err
	}
	data, err := io.ReadAll(io.LimitReader(rc, maxImageBytes))
	closeErr := rc.Close()
	if err != nil {
		return vision.Identification{}, services.Wrap(services.ErrStorage, stageName, "read image", img.Filename, err)
	}
	if closeErr != nil {
		w.logger.Debug("image close failed", logging.String(logging.FieldImageID, img.ID), logging.Error(closeErr))
	}
	return w.identifier.IdentifyCards(ctx, data, img.ContentType)
}

// ProcessScan identifies every unprocessed image of the scan. Images already
// processed by an earlier run are skipped. A cancelled context stops dispatch
// and leaves in-flight images unrecorded so a later run picks them up.
func (w *Worker) ProcessScan(ctx context.Context, scanID string) (Summary, error) {
	ctx = stage.Annotate(ctx, scanID, stageName)
	logger := logging.WithContext(ctx, w.logger)

	images, err := w.store.UnprocessedImages(ctx, scanID)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Total: len(images)}
	if len(images) == 0 {
		return summary, nil
	}
	logger.Info("recognition started",
		logging.Int("images", len(images)),
		logging.Int("concurrency", w.concurrency),
	)

	var (
		mu       sync.Mutex
		gone     bool
		storeErr error
	)
	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gone || storeErr != nil
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, img := range images {
		if ctx.Err() != nil || stopped() {
			break
		}
		g.Go(func() error {
			if stopped() {
				return nil
			}
			outcome, ok := w.resolveImage(ctx, img)
			if !ok {
				return nil
			}
			err := w.store.RecordImageOutcome(ctx, outcome)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Processed++
				summary.Results += len(outcome.Results)
				switch outcome.Outcome {
				case scan.OutcomeRecognized:
					summary.Recognized++
				case scan.OutcomeEmpty:
					summary.Empty++
				case scan.OutcomeRefused:
					summary.Refused++
				case scan.OutcomeFailed:
					summary.Failed++
				}
			case errors.Is(err, scan.ErrScanGone):
				summary.Discarded++
				gone = true
				logger.Info("late recognition result discarded",
					logging.String(logging.FieldImageID, img.ID),
					logging.String("outcome", string(outcome.Outcome)),
					logging.Int("results", len(outcome.Results)),
				)
			default:
				if storeErr == nil {
					storeErr = err
				}
				logging.ErrorWithContext(logger, "record image outcome failed", "recognition_record_failed",
					logging.String(logging.FieldImageID, img.ID),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check scan database health; the image is retried on the next run"),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("recognition finished",
		logging.Int("processed", summary.Processed),
		logging.Int("recognized", summary.Recognized),
		logging.Int("empty", summary.Empty),
		logging.Int("refused", summary.Refused),
		logging.Int("failed", summary.Failed),
		logging.Int("discarded", summary.Discarded),
	)
	if storeErr != nil {
		return summary, storeErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// resolveImage runs one image to an outcome. ok is false when the context was
// cancelled before the image resolved.
func (w *Worker) resolveImage(ctx context.Context, img scan.Image) (scan.ImageOutcome, bool) {
	ctx = services.WithImageID(ctx, img.ID)
	logger := logging.WithContext(ctx, w.logger)
	start := time.Now()

	ident, err := w.ProcessImage(ctx, img)
	if ctx.Err() != nil {
		return scan.ImageOutcome{}, false
	}

	outcome := scan.ImageOutcome{
		ScanID:      img.ScanID,
		ImageID:     img.ID,
		RawResponse: ident.Raw,
	}
	var refusal *vision.RefusalError
	switch {
	case err == nil && len(ident.Cards) == 0:
		outcome.Outcome = scan.OutcomeEmpty
		logger.Info("no cards found in image", logging.String("original_filename", img.OriginalFilename))
	case err == nil:
		outcome.Outcome = scan.OutcomeRecognized
		outcome.Results = w.BuildResults(ctx, img, ident.Cards)
		logger.Info("cards identified",
			logging.Int("cards", len(outcome.Results)),
			logging.Int("attempts", ident.Attempts),
		)
	case errors.As(err, &refusal):
		outcome.Outcome = scan.OutcomeRefused
		outcome.Detail = refusal.Reason
		if outcome.RawResponse == "" {
			outcome.RawResponse = refusal.Raw
		}
		logging.WarnWithContext(logger, "vision model refused image", "recognition_refused",
			logging.String("original_filename", img.OriginalFilename),
			logging.String("reason", refusal.Reason),
			logging.String(logging.FieldImpact, "image yields no results"),
			logging.String(logging.FieldErrorHint, "inspect the ai-response diagnostics; retake the photo if needed"),
		)
	default:
		outcome.Outcome = scan.OutcomeFailed
		outcome.Detail = err.Error()
		var svcErr *vision.ServiceError
		if errors.As(err, &svcErr) && outcome.RawResponse == "" {
			outcome.RawResponse = svcErr.Raw
		}
		logging.WarnWithContext(logger, "image recognition failed", "recognition_failed",
			logging.String("original_filename", img.OriginalFilename),
			logging.Error(err),
			logging.String(logging.FieldImpact, "image marked failed; sibling images continue"),
			logging.String(logging.FieldErrorHint, "check vision API key, quota, and connectivity"),
		)
	}
	if w.observer != nil {
		w.observer.ObserveImage(outcome.Outcome, time.Since(start))
	}
	return outcome, true
}

// BuildResults converts candidates into pending scan results with stable ids.
func (w *Worker) BuildResults(ctx context.Context, img scan.Image, cards []vision.Candidate) []scan.Result {
	results := make([]scan.Result, 0, len(cards))
	for i, card := range cards {
		res := scan.Result{
			ID:              ResultID(img.ScanID, img.ID, i),
			ScanID:          img.ScanID,
			ImageID:         img.ID,
			Position:        img.Position*1000 + i,
			CardName:        card.Name,
			SetName:         card.SetName,
			SetCode:         card.SetCode,
			CollectorNumber: card.CollectorNumber,
			ConfidenceScore: card.Confidence,
			Quantity:        card.Quantity,
			Status:          scan.ResultPending,
			RequiresReview:  card.Confidence < w.threshold,
		}
		data := scan.CardData{Notes: card.Notes}
		if w.enricher != nil {
			w.enrich(ctx, &res, &data)
		}
		if encoded, err := json.Marshal(data); err == nil && string(encoded) != "{}" {
			res.CardData = encoded
		}
		results = append(results, res)
	}
	return results
}

func (w *Worker) enrich(ctx context.Context, res *scan.Result, data *scan.CardData) {
	card, err := w.enricher.Lookup(ctx, res.CardName, res.SetCode, res.CollectorNumber)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, services.ErrNotFound) {
			level = slog.LevelDebug
		}
		logging.WithContext(ctx, w.logger).Log(ctx, level, "card lookup failed",
			logging.String("card_name", res.CardName),
			logging.String("set_code", res.SetCode),
			logging.Error(err),
			logging.String(logging.FieldEventType, "pricing_lookup_failed"),
			logging.String(logging.FieldImpact, "result stored without market data"),
			logging.String(logging.FieldErrorHint, "check pricing.base_url connectivity"),
		)
		return
	}
	if res.SetName == "" {
		res.SetName = card.SetName
	}
	if res.SetCode == "" {
		res.SetCode = card.SetCode
	}
	if res.CollectorNumber == "" {
		res.CollectorNumber = card.CollectorNumber
	}
	data.ScryfallID = card.ScryfallID
	data.Rarity = card.Rarity
	data.ManaCost = card.ManaCost
	data.TypeLine = card.TypeLine
	data.OracleText = card.OracleText
	data.ImageURL = card.ImageURL
	data.PriceUSD = card.Prices.USD
	data.PriceEUR = card.Prices.EUR
	data.PriceTix = card.Prices.Tix
}

// ResultID derives a stable result id from its scan, image, and candidate index.
func ResultID(scanID, imageID string, index int) string {
	namespace, err := uuid.Parse(scanID)
	if err != nil {
		namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte(scanID))
	}
	return uuid.NewSHA1(namespace, []byte(imageID+"/"+strconv.Itoa(index))).String()
}

// Prepare rejects scans that are not in PROCESSING.
func (w *Worker) Prepare(_ context.Context, sc *scan.Scan) error {
	if sc == nil {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "scan is required", nil)
	}
	if sc.Status != scan.StatusProcessing {
		return services.Wrap(services.ErrInvalidState, stageName, "prepare",
			fmt.Sprintf("scan %s is %s, expected %s", sc.ID, sc.Status, scan.StatusProcessing), nil)
	}
	return nil
}

// Execute runs ProcessScan for the scan.
func (w *Worker) Execute(ctx context.Context, sc *scan.Scan) error {
	_, err := w.ProcessScan(ctx, sc.ID)
	return err
}

// HealthCheck reports whether the vision dependency answers.
func (w *Worker) HealthCheck(ctx context.Context) stage.Health {
	if w.identifier == nil {
		return stage.Unhealthy(stageName, "vision client not configured")
	}
	if checker, ok := w.identifier.(interface{ HealthCheck(context.Context) error }); ok {
		return stage.FromError(stageName, checker.HealthCheck(ctx))
	}
	return stage.Healthy(stageName)
}
