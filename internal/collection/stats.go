package collection

import "context"

// Stats aggregates counts and market value over live cards.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var row struct {
		UniqueCards  int64
		TotalCopies  int64
		ValueUSD     float64
		ValueEUR     float64
		ExampleCards int64
		RowCount     int64
	}
	err := s.db.WithContext(ctx).Model(&Card{}).Select(`
		COUNT(DISTINCT identity_key) AS unique_cards,
		COALESCE(SUM(count), 0) AS total_copies,
		COALESCE(SUM(COALESCE(price_usd, 0) * count), 0) AS value_usd,
		COALESCE(SUM(COALESCE(price_eur, 0) * count), 0) AS value_eur,
		COALESCE(SUM(CASE WHEN is_example THEN 1 ELSE 0 END), 0) AS example_cards,
		COUNT(*) AS row_count`).Scan(&row).Error
	if err != nil {
		return Stats{}, storageErr("stats", "", err)
	}
	return Stats{
		UniqueCards:  row.UniqueCards,
		TotalCopies:  row.TotalCopies,
		ValueUSD:     row.ValueUSD,
		ValueEUR:     row.ValueEUR,
		OwnedCards:   row.RowCount - row.ExampleCards,
		ExampleCards: row.ExampleCards,
	}, nil
}
