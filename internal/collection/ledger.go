package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cardscan/internal/services"
)

// ErrAlreadyCommitted reports that a scan already has a ledger row.
var ErrAlreadyCommitted = errors.New("scan already committed")

// LookupCommit returns the ledger row for scanID, if any.
func (s *Store) LookupCommit(ctx context.Context, scanID string) (ScanCommit, bool, error) {
	var record ScanCommit
	err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ScanCommit{}, false, nil
	}
	if err != nil {
		return ScanCommit{}, false, storageErr("lookup commit", scanID, err)
	}
	return record, true, nil
}

// ApplyCommit folds additions into the collection in one transaction: each
// addition stacks onto the existing card with the same identity key or
// creates a new card, gets a provenance row, and the scan's ledger row is
// written last. Any failure rolls everything back.
func (s *Store) ApplyCommit(ctx context.Context, scanID string, additions []Addition) (ScanCommit, error) {
	if strings.TrimSpace(scanID) == "" {
		return ScanCommit{}, services.Wrap(services.ErrValidation, component, "apply commit", "scan id is required", nil)
	}
	if len(additions) == 0 {
		return ScanCommit{}, services.Wrap(services.ErrNothingAccepted, component, "apply commit", scanID, nil)
	}

	var record ScanCommit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&ScanCommit{}).Where("scan_id = ?", scanID).Count(&existing).Error; err != nil {
			return fmt.Errorf("check ledger: %w", err)
		}
		if existing > 0 {
			return ErrAlreadyCommitted
		}

		now := s.now().UTC()
		record = ScanCommit{ScanID: scanID, CommittedAt: now}
		for i, add := range additions {
			if s.hook != nil {
				if err := s.hook(i, add); err != nil {
					return fmt.Errorf("write %q: %w", add.Name, err)
				}
			}
			quantity := add.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			card, stacked, err := upsertCard(tx, scanID, add, quantity, now)
			if err != nil {
				return err
			}
			prov := Provenance{
				CardID:       card.ID,
				ScanID:       scanID,
				ScanImageID:  add.ScanImageID,
				ScanResultID: add.ResultID,
				Quantity:     quantity,
				AddedMethod:  AddedScanned,
				AddedAt:      now,
			}
			if err := tx.Create(&prov).Error; err != nil {
				return fmt.Errorf("record provenance for %q: %w", add.Name, err)
			}
			record.Copies += quantity
			if stacked {
				record.StackedCards++
			} else {
				record.NewCards++
			}
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrAlreadyCommitted) {
		return ScanCommit{}, err
	}
	if err != nil {
		return ScanCommit{}, services.Wrap(services.ErrCommit, component, "apply commit", scanID, err)
	}
	return record, nil
}

// upsertCard stacks quantity onto the oldest live card sharing the addition's
// identity key, or creates a new card. stacked reports which happened.
func upsertCard(tx *gorm.DB, scanID string, add Addition, quantity int, now time.Time) (*Card, bool, error) {
	key := IdentityKey(add.Name, add.SetCode, add.CollectorNumber)

	var card Card
	err := tx.Where("identity_key = ?", key).Order("created_at, id").Take(&card).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"count":     gorm.Expr("count + ?", quantity),
			"last_seen": now,
		}
		// Newer market data wins; missing data never erases what is known.
		if add.PriceUSD != nil {
			updates["price_usd"] = *add.PriceUSD
		}
		if add.PriceEUR != nil {
			updates["price_eur"] = *add.PriceEUR
		}
		if add.PriceTix != nil {
			updates["price_tix"] = *add.PriceTix
		}
		if card.ImageURL == "" && add.ImageURL != "" {
			updates["image_url"] = add.ImageURL
		}
		if err := tx.Model(&card).Updates(updates).Error; err != nil {
			return nil, false, fmt.Errorf("stack %q: %w", add.Name, err)
		}
		return &card, true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, false, fmt.Errorf("find %q: %w", add.Name, err)
	}

	scanRef := scanID
	card = Card{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(add.Name),
		SetCode:         strings.TrimSpace(add.SetCode),
		SetName:         strings.TrimSpace(add.SetName),
		CollectorNumber: strings.TrimSpace(add.CollectorNumber),
		IdentityKey:     key,
		ScryfallID:      add.ScryfallID,
		Rarity:          add.Rarity,
		ManaCost:        add.ManaCost,
		TypeLine:        add.TypeLine,
		OracleText:      add.OracleText,
		ImageURL:        add.ImageURL,
		PriceUSD:        add.PriceUSD,
		PriceEUR:        add.PriceEUR,
		PriceTix:        add.PriceTix,
		Count:           quantity,
		Condition:       DefaultCondition,
		AddedMethod:     AddedScanned,
		ScanID:          &scanRef,
		FirstSeen:       now,
		LastSeen:        now,
	}
	if add.ScanImageID != "" {
		imageRef := add.ScanImageID
		card.ScanImageID = &imageRef
	}
	if err := tx.Create(&card).Error; err != nil {
		return nil, false, fmt.Errorf("create %q: %w", add.Name, err)
	}
	return &card, false, nil
}
