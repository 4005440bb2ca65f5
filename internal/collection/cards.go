package collection

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cardscan/internal/services"
)

// ListOptions filters and orders card listings.
type ListOptions struct {
	// Sort is one of name, set, price, count, recent. Empty means name.
	Sort  string
	Set   string
	Query string
}

var sortClauses = map[string]string{
	"":       "name, set_code, collector_number",
	"name":   "name, set_code, collector_number",
	"set":    "set_code, collector_number, name",
	"price":  "price_usd DESC, name",
	"count":  "count DESC, name",
	"recent": "last_seen DESC, name",
}

// NewCard describes a manually added card.
type NewCard struct {
	Name            string
	SetCode         string
	SetName         string
	CollectorNumber string
	Count           int
	Condition       string
	Notes           string
	IsExample       bool
	PriceUSD        *float64
	PriceEUR        *float64
	ImageURL        string
}

// CardPatch carries the editable card fields; nil fields are left alone.
type CardPatch struct {
	Count     *int
	Condition *string
	Notes     *string
	IsExample *bool
}

func (s *Store) filtered(ctx context.Context, opts ListOptions) (*gorm.DB, error) {
	order, ok := sortClauses[strings.ToLower(strings.TrimSpace(opts.Sort))]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, component, "list cards",
			fmt.Sprintf("unknown sort %q", opts.Sort), nil)
	}
	q := s.db.WithContext(ctx).Model(&Card{}).Order(order)
	if set := strings.TrimSpace(opts.Set); set != "" {
		q = q.Where("UPPER(set_code) = ?", strings.ToUpper(set))
	}
	if text := strings.TrimSpace(opts.Query); text != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(text)+"%")
	}
	return q, nil
}

// ListCards returns individual card rows.
func (s *Store) ListCards(ctx context.Context, opts ListOptions) ([]Card, error) {
	q, err := s.filtered(ctx, opts)
	if err != nil {
		return nil, err
	}
	var cards []Card
	if err := q.Find(&cards).Error; err != nil {
		return nil, storageErr("list cards", "", err)
	}
	return cards, nil
}

// ListStacks groups card rows by identity key, preserving the listing order
// of each group's first row.
func (s *Store) ListStacks(ctx context.Context, opts ListOptions) ([]Stack, error) {
	cards, err := s.ListCards(ctx, opts)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var stacks []Stack
	for _, card := range cards {
		i, ok := index[card.IdentityKey]
		if !ok {
			i = len(stacks)
			index[card.IdentityKey] = i
			stacks = append(stacks, Stack{
				IdentityKey:     card.IdentityKey,
				Name:            card.Name,
				SetCode:         card.SetCode,
				SetName:         card.SetName,
				CollectorNumber: card.CollectorNumber,
			})
		}
		stacks[i].StackCount++
		stacks[i].TotalCards += card.Count
		stacks[i].Duplicates = append(stacks[i].Duplicates, card)
	}
	return stacks, nil
}

// GetCard returns one live card.
func (s *Store) GetCard(ctx context.Context, id string) (*Card, error) {
	var card Card
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&card).Error; err != nil {
		return nil, storageErr("get card", "card "+id, err)
	}
	return &card, nil
}

// CreateCard adds a manually entered card.
func (s *Store) CreateCard(ctx context.Context, in NewCard) (*Card, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, component, "create card", "name is required", nil)
	}
	count := in.Count
	if count <= 0 {
		count = 1
	}
	condition, err := normalizeCondition(in.Condition)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	card := Card{
		ID:              uuid.NewString(),
		Name:            name,
		SetCode:         strings.ToUpper(strings.TrimSpace(in.SetCode)),
		SetName:         strings.TrimSpace(in.SetName),
		CollectorNumber: strings.TrimSpace(in.CollectorNumber),
		IdentityKey:     IdentityKey(name, in.SetCode, in.CollectorNumber),
		PriceUSD:        in.PriceUSD,
		PriceEUR:        in.PriceEUR,
		ImageURL:        strings.TrimSpace(in.ImageURL),
		Count:           count,
		Condition:       condition,
		Notes:           strings.TrimSpace(in.Notes),
		AddedMethod:     AddedManual,
		IsExample:       in.IsExample,
		FirstSeen:       now,
		LastSeen:        now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&card).Error; err != nil {
			return err
		}
		return tx.Create(&Provenance{
			CardID:      card.ID,
			Quantity:    count,
			AddedMethod: AddedManual,
			AddedAt:     now,
		}).Error
	})
	if err != nil {
		return nil, storageErr("create card", name, err)
	}
	return &card, nil
}

// UpdateCard applies patch to a card.
func (s *Store) UpdateCard(ctx context.Context, id string, patch CardPatch) (*Card, error) {
	updates := map[string]any{}
	if patch.Count != nil {
		if *patch.Count < 1 {
			return nil, services.Wrap(services.ErrValidation, component, "update card", "count must be at least 1", nil)
		}
		updates["count"] = *patch.Count
	}
	if patch.Condition != nil {
		condition, err := normalizeCondition(*patch.Condition)
		if err != nil {
			return nil, err
		}
		updates["condition"] = condition
	}
	if patch.Notes != nil {
		updates["notes"] = strings.TrimSpace(*patch.Notes)
	}
	if patch.IsExample != nil {
		updates["is_example"] = *patch.IsExample
	}

	card, err := s.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return card, nil
	}
	if err := s.db.WithContext(ctx).Model(card).Updates(updates).Error; err != nil {
		return nil, storageErr("update card", id, err)
	}
	return s.GetCard(ctx, id)
}

// IncrementCard adds copies to a card and records a manual provenance row.
func (s *Store) IncrementCard(ctx context.Context, id string, by int) (*Card, error) {
	if by < 1 {
		return nil, services.Wrap(services.ErrValidation, component, "increment card", "increment must be at least 1", nil)
	}
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Card{}).Where("id = ?", id).
			Updates(map[string]any{"count": gorm.Expr("count + ?", by), "last_seen": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(&Provenance{CardID: id, Quantity: by, AddedMethod: AddedManual, AddedAt: now}).Error
	})
	if err != nil {
		return nil, storageErr("increment card", "card "+id, err)
	}
	return s.GetCard(ctx, id)
}

// DeleteCard soft-deletes a card. Its provenance rows stay for audit.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Card{})
	if res.Error != nil {
		return storageErr("delete card", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return storageErr("delete card", "card "+id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Provenance lists where a card's copies came from, oldest first.
func (s *Store) Provenance(ctx context.Context, cardID string) ([]Provenance, error) {
	if _, err := s.GetCard(ctx, cardID); err != nil {
		return nil, err
	}
	var rows []Provenance
	if err := s.db.WithContext(ctx).Where("card_id = ?", cardID).Order("added_at, id").Find(&rows).Error; err != nil {
		return nil, storageErr("provenance", cardID, err)
	}
	return rows, nil
}

func normalizeCondition(value string) (string, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return DefaultCondition, nil
	}
	if !slices.Contains(Conditions, value) {
		return "", services.Wrap(services.ErrValidation, component, "condition",
			fmt.Sprintf("unknown condition %q", value), nil)
	}
	return value, nil
}
