package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardscan/internal/api"
	"cardscan/internal/services"
)

// ErrUnavailable marks requests that never reached the daemon.
var ErrUnavailable = errors.New("cardscan API unavailable")

// Client talks to a running daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New builds a client for the daemon listening on bind (host:port or URL).
func New(bind string, opts ...Option) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, fmt.Errorf("%w: api bind address is empty", ErrUnavailable)
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		base: base,
		// Uploads of large scans can take a while; per-call deadlines come from ctx.
		http: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Error is a non-2xx response from the daemon.
type Error struct {
	Status int
	Body   api.ErrorResponse
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Body.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Body.CorrelationID != "" {
		return fmt.Sprintf("%s (status %d, request %s)", msg, e.Status, e.Body.CorrelationID)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.Status)
}

// Unwrap maps the response onto the services marker it was produced from.
func (e *Error) Unwrap() error {
	switch e.Body.Error {
	case "not_found":
		return services.ErrNotFound
	case "invalid_transition":
		return services.ErrInvalidTransition
	case "invalid_state":
		return services.ErrInvalidState
	case "nothing_accepted":
		return services.ErrNothingAccepted
	case "validation_failed":
		return services.ErrValidation
	case "commit_failed":
		return services.ErrCommit
	case "storage_unavailable":
		return services.ErrStorage
	case "temporarily_unavailable":
		return services.ErrTransient
	}
	switch {
	case e.Status == http.StatusNotFound:
		return services.ErrNotFound
	case e.Status == http.StatusServiceUnavailable:
		return services.ErrTransient
	case e.Status >= 400 && e.Status < 500:
		return services.ErrValidation
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}

// transient reports whether repeating the request may succeed.
func transient(err error) bool {
	return IsUnavailable(err) || services.Retryable(err)
}

func (c *Client) endpoint(path string, query url.Values) string {
	ref := &url.URL{Path: path}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(raw, &apiErr.Body); err != nil {
			apiErr.Body.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
