package vision_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardscan/internal/services"
	"cardscan/internal/services/vision"
)

const endpoint = "https://vision.test/v1/chat/completions"

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func newTestClient(sleeps *[]time.Duration) *vision.Client {
	return vision.NewClient(
		vision.Config{APIKey: "test-key", BaseURL: endpoint, Model: "test-model"},
		vision.WithRetryBackoff(time.Second, 10*time.Second),
		vision.WithSleeper(func(d time.Duration) {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
		}),
	)
}

func completionBody(t *testing.T, content, refusal string) string {
	t.Helper()
	body := map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"content": content, "refusal": refusal},
			"finish_reason": "stop",
		}},
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return string(data)
}

func TestIdentifyCardsParsesFencedAnswer(t *testing.T) {
	setupHTTPMock(t)
	answer := "```json\n" + `{"cards":[
		{"name":"Lightning Bolt","set_name":"Magic 2010","set_code":"m10","collector_number":"146","confidence":92,"quantity":2},
		{"name":"Counterspell","confidence":55.5}
	]}` + "\n```"

	httpmock.RegisterResponder(http.MethodPost, endpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
		raw, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"image_url"`)
		assert.Contains(t, string(raw), "data:image/png;base64,")
		assert.Contains(t, string(raw), `"model":"test-model"`)
		return httpmock.NewStringResponse(http.StatusOK, completionBody(t, answer, "")), nil
	})

	ident, err := newTestClient(nil).IdentifyCards(context.Background(), []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	require.Len(t, ident.Cards, 2)

	bolt := ident.Cards[0]
	assert.Equal(t, "Lightning Bolt", bolt.Name)
	assert.Equal(t, "M10", bolt.SetCode)
	assert.Equal(t, "146", bolt.CollectorNumber)
	assert.InDelta(t, 92, bolt.Confidence, 0.001)
	assert.Equal(t, 2, bolt.Quantity)

	spell := ident.Cards[1]
	assert.Equal(t, 1, spell.Quantity, "quantity defaults to one")
	assert.InDelta(t, 55.5, spell.Confidence, 0.001)
	assert.Equal(t, answer, ident.Raw)
	assert.Equal(t, 1, ident.Attempts)
}

func TestIdentifyCardsAcceptsBareArrayAndNumericCollectorNumber(t *testing.T) {
	setupHTTPMock(t)
	answer := `[{"name":"Island","collector_number":264,"confidence":"88"}]`
	httpmock.RegisterResponder(http.MethodPost, endpoint,
		httpmock.NewStringResponder(http.StatusOK, completionBody(t, answer, "")))

	ident, err := newTestClient(nil).IdentifyCards(context.Background(), []byte("img"), "")
	require.NoError(t, err)
	require.Len(t, ident.Cards, 1)
	assert.Equal(t, "264", ident.Cards[0].CollectorNumber)
	assert.InDelta(t, 88, ident.Cards[0].Confidence, 0.001)
}

func TestIdentifyCardsEmptyImageYieldsNoCards(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint,
		httpmock.NewStringResponder(http.StatusOK, completionBody(t, `{"cards":[]}`, "")))

	ident, err := newTestClient(nil).IdentifyCards(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Empty(t, ident.Cards)
}

func TestIdentifyCardsRefusals(t *testing.T) {
	cases := []struct {
		name    string
		content string
		refusal string
	}{
		{name: "provider refusal field", refusal: "I can't help with that request."},
		{name: "json refusal", content: `{"cards":[],"refusal":"image is not a card"}`},
		{name: "prose refusal", content: "I'm sorry, but I can't identify people in images."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setupHTTPMock(t)
			httpmock.RegisterResponder(http.MethodPost, endpoint,
				httpmock.NewStringResponder(http.StatusOK, completionBody(t, tc.content, tc.refusal)))

			ident, err := newTestClient(nil).IdentifyCards(context.Background(), []byte("img"), "image/jpeg")
			require.Error(t, err)
			assert.True(t, errors.Is(err, services.ErrRecognitionRefusal))
			assert.False(t, errors.Is(err, services.ErrRecognitionService))

			var refusal *vision.RefusalError
			require.ErrorAs(t, err, &refusal)
			assert.NotEmpty(t, refusal.Raw)
			assert.Equal(t, refusal.Raw, ident.Raw)
			assert.Equal(t, 1, httpmock.GetTotalCallCount(), "refusals are not retried")
		})
	}
}

func TestIdentifyCardsRejectsOutOfRangeConfidence(t *testing.T) {
	setupHTTPMock(t)
	answer := `{"cards":[{"name":"Forest","confidence":140}]}`
	httpmock.RegisterResponder(http.MethodPost, endpoint,
		httpmock.NewStringResponder(http.StatusOK, completionBody(t, answer, "")))

	ident, err := newTestClient(nil).IdentifyCards(context.Background(), []byte("img"), "image/jpeg")
	require.ErrorIs(t, err, services.ErrRecognitionService)
	var svcErr *vision.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, answer, svcErr.Raw)
	assert.Equal(t, answer, ident.Raw)
	assert.True(t, services.Retryable(err))
}

func TestIdentifyCardsUnparseableAnswerIsServiceError(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint,
		httpmock.NewStringResponder(http.StatusOK, completionBody(t, "Lightning Bolt, probably.", "")))

	_, err := newTestClient(nil).IdentifyCards(context.Background(), []byte("img"), "image/jpeg")
	require.ErrorIs(t, err, services.ErrRecognitionService)
	assert.NotErrorIs(t, err, services.ErrRecognitionRefusal)
}

func TestIdentifyCardsRetriesTransientFailures(t *testing.T) {
	setupHTTPMock(t)
	var calls atomic.Int32
	httpmock.RegisterResponder(http.MethodPost, endpoint, func(*http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			resp := httpmock.NewStringResponse(http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)
			resp.Header.Set("Retry-After", "3")
			return resp, nil
		}
		return httpmock.NewStringResponse(http.StatusOK,
			completionBody(t, `{"cards":[{"name":"Swamp","confidence":99}]}`, "")), nil
	})

	var sleeps []time.Duration
	ident, err := newTestClient(&sleeps).IdentifyCards(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	require.Len(t, ident.Cards, 1)
	assert.Equal(t, 2, ident.Attempts)
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeps)
}

func TestIdentifyCardsGivesUpAfterMaxAttempts(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint,
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	var sleeps []time.Duration
	_, err := newTestClient(&sleeps).IdentifyCards(context.Background(), []byte("img"), "image/jpeg")
	require.ErrorIs(t, err, services.ErrRecognitionService)

	var svcErr *vision.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 3, svcErr.Attempts)
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
}

func TestIdentifyCardsDoesNotRetryClientErrors(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint,
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`))

	_, err := newTestClient(nil).IdentifyCards(context.Background(), []byte("img"), "image/jpeg")
	require.ErrorIs(t, err, services.ErrRecognitionService)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.True(t, strings.Contains(err.Error(), "401"))
}

func TestIdentifyCardsStopsOnCancelledContext(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

	ctx, cancel := context.WithCancel(context.Background())
	client := vision.NewClient(
		vision.Config{APIKey: "k", BaseURL: endpoint},
		vision.WithSleeper(func(time.Duration) { cancel() }),
	)
	_, err := client.IdentifyCards(ctx, []byte("img"), "image/jpeg")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestIdentifyCardsRequiresAPIKey(t *testing.T) {
	client := vision.NewClient(vision.Config{BaseURL: endpoint})
	_, err := client.IdentifyCards(context.Background(), []byte("img"), "image/jpeg")
	require.ErrorIs(t, err, services.ErrRecognitionService)
}

func TestHealthCheck(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint,
		httpmock.NewStringResponder(http.StatusOK, completionBody(t, `{"ok":true}`, "")))

	require.NoError(t, newTestClient(nil).HealthCheck(context.Background()))
}

func TestDecodeJSONToleratesSurroundingProse(t *testing.T) {
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, vision.DecodeJSON("Sure! Here you go: {\"ok\": true} Hope that helps.", &out))
	assert.True(t, out.OK)
	require.Error(t, vision.DecodeJSON("   ", &out))
}
