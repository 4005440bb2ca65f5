package pricing_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardscan/internal/pricing"
	"cardscan/internal/services"
)

const baseURL = "https://scryfall.test"

const boltJSON = `{
	"id": "e3285e6b-3e79-4d7c-bf96-d920f973b122",
	"name": "Lightning Bolt",
	"set": "m10",
	"set_name": "Magic 2010",
	"collector_number": "146",
	"rarity": "common",
	"mana_cost": "{R}",
	"type_line": "Instant",
	"oracle_text": "Lightning Bolt deals 3 damage to any target.",
	"image_uris": {"normal": "https://cards.scryfall.io/normal/bolt.jpg"},
	"prices": {"usd": "2.15", "eur": "1.80", "tix": null}
}`

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func newClient() *pricing.Client {
	return pricing.NewClient(pricing.Config{BaseURL: baseURL, RequestsPerSecond: 1000})
}

func TestLookupBySetAndCollectorNumber(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/cards/m10/146",
		httpmock.NewStringResponder(http.StatusOK, boltJSON))

	card, err := newClient().Lookup(context.Background(), "Lightning Bolt", "M10", "146")
	require.NoError(t, err)
	assert.Equal(t, "Lightning Bolt", card.Name)
	assert.Equal(t, "M10", card.SetCode)
	assert.Equal(t, "common", card.Rarity)
	assert.Equal(t, "https://cards.scryfall.io/normal/bolt.jpg", card.ImageURL)
	require.NotNil(t, card.Prices.USD)
	assert.InDelta(t, 2.15, *card.Prices.USD, 0.0001)
	assert.Nil(t, card.Prices.Tix)
}

func TestLookupCachesResponses(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/cards/m10/146",
		httpmock.NewStringResponder(http.StatusOK, boltJSON))

	client := newClient()
	for range 3 {
		_, err := client.Lookup(context.Background(), "Lightning Bolt", "m10", "146")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	stats := client.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLookupFallsBackToFuzzyName(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/cards/m10/999",
		httpmock.NewStringResponder(http.StatusNotFound, `{"status":404,"code":"not_found","details":"No card"}`))
	httpmock.RegisterResponderWithQuery(http.MethodGet, baseURL+"/cards/named",
		map[string]string{"fuzzy": "Lightning Bolt", "set": "m10"},
		httpmock.NewStringResponder(http.StatusOK, boltJSON))

	card, err := newClient().Lookup(context.Background(), "Lightning Bolt", "m10", "999")
	require.NoError(t, err)
	assert.Equal(t, "146", card.CollectorNumber)
}

func TestLookupNotFoundIsCached(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/cards/named",
		httpmock.NewStringResponder(http.StatusNotFound, `{"status":404,"code":"not_found","details":"No card"}`))

	client := newClient()
	_, err := client.Lookup(context.Background(), "Not A Real Card", "", "")
	require.ErrorIs(t, err, services.ErrNotFound)
	_, err = client.Lookup(context.Background(), "Not A Real Card", "", "")
	require.ErrorIs(t, err, services.ErrNotFound)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestLookupServerErrorIsTransient(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/cards/named",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	_, err := newClient().Lookup(context.Background(), "Island", "", "")
	require.ErrorIs(t, err, services.ErrTransient)
	assert.True(t, services.Retryable(err))
}

func TestLookupRequiresIdentity(t *testing.T) {
	_, err := newClient().Lookup(context.Background(), " ", "m10", "")
	require.ErrorIs(t, err, services.ErrValidation)
}
