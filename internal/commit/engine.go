package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cardscan/internal/collection"
	"cardscan/internal/logging"
	"cardscan/internal/scan"
	"cardscan/internal/services"
)

const component = "commit"

// Collection is the slice of the card store the engine writes through.
type Collection interface {
	LookupCommit(ctx context.Context, scanID string) (collection.ScanCommit, bool, error)
	ApplyCommit(ctx context.Context, scanID string, additions []collection.Addition) (collection.ScanCommit, error)
}

// Result reports what a commit added to the collection.
type Result struct {
	ScanID string `json:"scan_id"`
	// CardsCreated counts physical copies added, summed over accepted quantities.
	CardsCreated int `json:"cards_created"`
	NewCards     int `json:"new_cards"`
	StackedCards int `json:"stacked_cards"`
	// Recovered is set when the collection write had already happened and
	// only the status change was outstanding.
	Recovered bool `json:"recovered,omitempty"`
}

// Engine commits READY_FOR_REVIEW scans. Callers serialize commits per scan.
type Engine struct {
	scans  *scan.Store
	cards  Collection
	logger *slog.Logger
}

// NewEngine wires the scan store and collection together.
func NewEngine(scans *scan.Store, cards Collection, logger *slog.Logger) *Engine {
	return &Engine{
		scans:  scans,
		cards:  cards,
		logger: logging.NewComponentLogger(logger, component),
	}
}

// Commit adds every ACCEPTED result of scanID to the collection and moves
// the scan to COMPLETED.
func (e *Engine) Commit(ctx context.Context, scanID string) (Result, error) {
	ctx = services.WithScanID(ctx, scanID)
	logger := logging.WithContext(ctx, e.logger)

	snap, err := e.scans.Snapshot(ctx, scanID)
	if err != nil {
		return Result{}, err
	}
	if snap.Status != scan.StatusReadyForReview {
		return Result{}, &scan.TransitionError{ScanID: scanID, From: snap.Status, To: scan.StatusCompleted}
	}

	record, done, err := e.cards.LookupCommit(ctx, scanID)
	if err != nil {
		return Result{}, err
	}
	if done {
		logging.WarnWithContext(logger, "collection already holds this scan; completing status only", "commit_recovered",
			logging.Int("copies", record.Copies),
			logging.String(logging.FieldErrorHint, "an earlier commit stopped before the status change"),
			logging.String(logging.FieldImpact, "no cards are added twice"),
		)
		return e.finish(ctx, logger, record, true)
	}

	accepted, err := e.scans.ResultsWithStatus(ctx, scanID, scan.ResultAccepted)
	if err != nil {
		return Result{}, err
	}
	if len(accepted) == 0 {
		return Result{}, services.Wrap(services.ErrNothingAccepted, component, "commit",
			fmt.Sprintf("scan %s has no accepted results", scanID), nil)
	}

	additions := make([]collection.Addition, 0, len(accepted))
	for _, res := range accepted {
		additions = append(additions, additionFor(res))
	}

	record, err = e.cards.ApplyCommit(ctx, scanID, additions)
	if errors.Is(err, collection.ErrAlreadyCommitted) {
		record, done, err = e.cards.LookupCommit(ctx, scanID)
		if err == nil && done {
			return e.finish(ctx, logger, record, true)
		}
	}
	if err != nil {
		logging.ErrorWithContext(logger, "collection write failed; scan left for retry", "commit_failed",
			logging.Int("accepted", len(accepted)),
			logging.String(logging.FieldErrorHint, "retry the commit once the collection database is healthy"),
			logging.Error(err),
		)
		if errors.Is(err, services.ErrCommit) || errors.Is(err, services.ErrNothingAccepted) {
			return Result{}, err
		}
		return Result{}, services.Wrap(services.ErrCommit, component, "commit", scanID, err)
	}
	return e.finish(ctx, logger, record, false)
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, record collection.ScanCommit, recovered bool) (Result, error) {
	result := Result{
		ScanID:       record.ScanID,
		CardsCreated: record.Copies,
		NewCards:     record.NewCards,
		StackedCards: record.StackedCards,
		Recovered:    recovered,
	}
	if err := e.scans.UpdateStatus(ctx, record.ScanID, scan.StatusCompleted, ""); err != nil {
		// The ledger row makes the next attempt finish the job without
		// adding cards twice.
		logging.WarnWithContext(logger, "cards committed but scan status not updated", "commit_status_pending",
			logging.String(logging.FieldImpact, "scan stays READY_FOR_REVIEW until the commit is retried"),
			logging.Error(err),
		)
		return Result{}, err
	}
	logger.Info("scan committed",
		logging.String(logging.FieldEventType, "scan_committed"),
		logging.Int("cards_created", result.CardsCreated),
		logging.Int("new_cards", result.NewCards),
		logging.Int("stacked_cards", result.StackedCards),
		logging.Bool("recovered", recovered),
	)
	return result, nil
}

func additionFor(res scan.Result) collection.Addition {
	data := res.Data()
	return collection.Addition{
		ResultID:        res.ID,
		ScanImageID:     res.ImageID,
		Name:            strings.TrimSpace(res.CardName),
		SetCode:         res.SetCode,
		SetName:         res.SetName,
		CollectorNumber: res.CollectorNumber,
		Quantity:        res.Quantity,
		ScryfallID:      data.ScryfallID,
		Rarity:          data.Rarity,
		ManaCost:        data.ManaCost,
		TypeLine:        data.TypeLine,
		OracleText:      data.OracleText,
		ImageURL:        data.ImageURL,
		PriceUSD:        data.PriceUSD,
		PriceEUR:        data.PriceEUR,
		PriceTix:        data.PriceTix,
	}
}
