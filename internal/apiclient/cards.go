package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"cardscan/internal/api"
	"cardscan/internal/collection"
)

// CardQuery filters card listings.
type CardQuery struct {
	Sort  string
	Set   string
	Query string
}

func (q CardQuery) values(view string) url.Values {
	values := url.Values{}
	values.Set("view_mode", view)
	if s := strings.TrimSpace(q.Sort); s != "" {
		values.Set("sort", s)
	}
	if s := strings.TrimSpace(q.Set); s != "" {
		values.Set("set", s)
	}
	if s := strings.TrimSpace(q.Query); s != "" {
		values.Set("q", s)
	}
	return values
}

// ListCards returns the individual card view.
func (c *Client) ListCards(ctx context.Context, q CardQuery) (api.CardListResponse, error) {
	var out api.CardListResponse
	err := c.do(ctx, http.MethodGet, "/cards", q.values("individual"), nil, &out)
	return out, err
}

// ListStacks returns cards grouped by identity.
func (c *Client) ListStacks(ctx context.Context, q CardQuery) (api.StackListResponse, error) {
	var out api.StackListResponse
	err := c.do(ctx, http.MethodGet, "/cards", q.values("stacked"), nil, &out)
	return out, err
}

// CreateCard adds a card by hand.
func (c *Client) CreateCard(ctx context.Context, req api.CardRequest) (collection.Card, error) {
	var out collection.Card
	err := c.do(ctx, http.MethodPost, "/cards", nil, req, &out)
	return out, err
}

// UpdateCard edits a card.
func (c *Client) UpdateCard(ctx context.Context, id string, req api.CardUpdateRequest) (collection.Card, error) {
	var out collection.Card
	err := c.do(ctx, http.MethodPut, "/cards/"+url.PathEscape(id), nil, req, &out)
	return out, err
}

// DeleteCard removes a card from the collection.
func (c *Client) DeleteCard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/cards/"+url.PathEscape(id), nil, nil, nil)
}

// Stats summarizes the collection.
func (c *Client) Stats(ctx context.Context) (api.StatsResponse, error) {
	var out api.StatsResponse
	err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &out)
	return out, err
}

// DaemonStatus reports daemon and workflow state.
func (c *Client) DaemonStatus(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}
