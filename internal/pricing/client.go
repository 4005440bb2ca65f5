// Package pricing looks up card metadata and market prices on Scryfall.
//
// Responses are cached in memory (including misses) and outgoing requests are
// spaced by a client-side rate limiter so a burst of recognized cards does not
// trip Scryfall's request limits.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"cardscan/internal/logging"
	"cardscan/internal/services"
)

const (
	component         = "pricing"
	defaultBaseURL    = "https://api.scryfall.com"
	defaultCacheTTL   = 6 * time.Hour
	defaultMissTTL    = 30 * time.Minute
	defaultTimeout    = 10 * time.Second
	defaultRatePerSec = 8
	userAgent         = "cardscan/1.0"
)

// Config holds the lookup endpoint and throttling settings.
type Config struct {
	BaseURL           string
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Prices holds market prices; nil means Scryfall reported none.
type Prices struct {
	USD *float64 `json:"usd,omitempty"`
	EUR *float64 `json:"eur,omitempty"`
	Tix *float64 `json:"tix,omitempty"`
}

// Card is the subset of a Scryfall card object cardscan keeps.
type Card struct {
	ScryfallID      string `json:"scryfall_id"`
	Name            string `json:"name"`
	SetCode         string `json:"set_code"`
	SetName         string `json:"set_name"`
	CollectorNumber string `json:"collector_number"`
	Rarity          string `json:"rarity,omitempty"`
	ManaCost        string `json:"mana_cost,omitempty"`
	TypeLine        string `json:"type_line,omitempty"`
	OracleText      string `json:"oracle_text,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	Prices          Prices `json:"prices"`
}

// CacheStats reports lookup cache effectiveness.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Requests int64
}

// Client queries Scryfall.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *rate.Limiter
	logger     *slog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	requests atomic.Int64
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger used for cache and request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, component)
	}
}

// NewClient builds a Scryfall client, filling defaults for zero values.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRatePerSec
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:     logging.NewComponentLogger(nil, component),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup resolves a card by set and collector number when both are known,
// falling back to a name search scoped to the set. A card Scryfall does not
// know yields services.ErrNotFound.
func (c *Client) Lookup(ctx context.Context, name, setCode, collectorNumber string) (Card, error) {
	name = strings.TrimSpace(name)
	setCode = strings.ToLower(strings.TrimSpace(setCode))
	collectorNumber = strings.TrimSpace(collectorNumber)
	if name == "" && (setCode == "" || collectorNumber == "") {
		return Card{}, services.Wrap(services.ErrValidation, component, "lookup", "card name or set and collector number required", nil)
	}

	key := cacheKey(name, setCode, collectorNumber)
	if cached, found := c.cache.Get(key); found {
		c.hits.Add(1)
		c.logger.Debug("scryfall cache hit", logging.String("cache_key", key))
		if card, ok := cached.(Card); ok {
			return card, nil
		}
		return Card{}, services.Wrap(services.ErrNotFound, component, "lookup", "card not found (cached)", nil)
	}
	c.misses.Add(1)

	card, err := c.lookupUncached(ctx, name, setCode, collectorNumber)
	switch {
	case err == nil:
		c.cache.Set(key, card, cache.DefaultExpiration)
	case isNotFound(err):
		c.cache.Set(key, notFoundMarker{}, defaultMissTTL)
	}
	return card, err
}

type notFoundMarker struct{}

func (c *Client) lookupUncached(ctx context.Context, name, setCode, collectorNumber string) (Card, error) {
	if setCode != "" && collectorNumber != "" {
		path := "/cards/" + url.PathEscape(setCode) + "/" + url.PathEscape(collectorNumber)
		card, err := c.fetch(ctx, path, nil)
		if err == nil || !isNotFound(err) || name == "" {
			return card, err
		}
	}
	query := url.Values{}
	query.Set("fuzzy", name)
	if setCode != "" {
		query.Set("set", setCode)
	}
	card, err := c.fetch(ctx, "/cards/named", query)
	if err != nil && isNotFound(err) && setCode != "" {
		// The model sometimes misreads the set symbol; retry without it.
		query.Del("set")
		return c.fetch(ctx, "/cards/named", query)
	}
	return card, err
}

// HealthCheck confirms the API answers a trivial lookup.
func (c *Client) HealthCheck(ctx context.Context) error {
	query := url.Values{}
	query.Set("exact", "Island")
	_, err := c.fetch(ctx, "/cards/named", query)
	return err
}

// Stats returns cache hit/miss counters since construction.
func (c *Client) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Requests: c.requests.Load()}
}

type scryfallCard struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Set             string `json:"set"`
	SetName         string `json:"set_name"`
	CollectorNumber string `json:"collector_number"`
	Rarity          string `json:"rarity"`
	ManaCost        string `json:"mana_cost"`
	TypeLine        string `json:"type_line"`
	OracleText      string `json:"oracle_text"`
	ImageURIs       struct {
		Normal string `json:"normal"`
		Large  string `json:"large"`
	} `json:"image_uris"`
	CardFaces []struct {
		ManaCost  string `json:"mana_cost"`
		ImageURIs struct {
			Normal string `json:"normal"`
		} `json:"image_uris"`
	} `json:"card_faces"`
	Prices struct {
		USD *string `json:"usd"`
		EUR *string `json:"eur"`
		Tix *string `json:"tix"`
	} `json:"prices"`
}

type scryfallError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values) (Card, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Card{}, err
	}
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Card{}, services.Wrap(services.ErrValidation, component, "build request", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.requests.Add(1)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Card{}, services.Wrap(services.ErrTransient, component, "request", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Card{}, services.Wrap(services.ErrTransient, component, "read body", path, err)
	}
	c.logger.Debug("scryfall request",
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		var apiErr scryfallError
		_ = json.Unmarshal(body, &apiErr)
		detail := fmt.Sprintf("http %d %s", resp.StatusCode, strings.TrimSpace(apiErr.Details))
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return Card{}, services.Wrap(services.ErrNotFound, component, "lookup", detail, nil)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return Card{}, services.Wrap(services.ErrTransient, component, "lookup", detail, nil)
		default:
			return Card{}, services.Wrap(services.ErrValidation, component, "lookup", detail, nil)
		}
	}

	var raw scryfallCard
	if err := json.Unmarshal(body, &raw); err != nil {
		return Card{}, services.Wrap(services.ErrTransient, component, "decode", path, err)
	}
	return raw.card(), nil
}

func (s scryfallCard) card() Card {
	card := Card{
		ScryfallID:      s.ID,
		Name:            s.Name,
		SetCode:         strings.ToUpper(s.Set),
		SetName:         s.SetName,
		CollectorNumber: s.CollectorNumber,
		Rarity:          s.Rarity,
		ManaCost:        s.ManaCost,
		TypeLine:        s.TypeLine,
		OracleText:      s.OracleText,
		ImageURL:        s.ImageURIs.Normal,
		Prices: Prices{
			USD: parsePrice(s.Prices.USD),
			EUR: parsePrice(s.Prices.EUR),
			Tix: parsePrice(s.Prices.Tix),
		},
	}
	// Double-faced cards carry images and costs per face.
	if len(s.CardFaces) > 0 {
		if card.ImageURL == "" {
			card.ImageURL = s.CardFaces[0].ImageURIs.Normal
		}
		if card.ManaCost == "" {
			card.ManaCost = s.CardFaces[0].ManaCost
		}
	}
	return card
}

func parsePrice(value *string) *float64 {
	if value == nil {
		return nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(*value), 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func cacheKey(name, setCode, collectorNumber string) string {
	return strings.ToLower(name) + "|" + setCode + "|" + strings.ToLower(collectorNumber)
}

func isNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
