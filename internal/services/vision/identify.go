package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Candidate is one card the model believes it sees in an image.
type Candidate struct {
	Name            string  `json:"name"`
	SetName         string  `json:"set_name,omitempty"`
	SetCode         string  `json:"set_code,omitempty"`
	CollectorNumber string  `json:"collector_number,omitempty"`
	Confidence      float64 `json:"confidence"`
	Quantity        int     `json:"quantity"`
	Notes           string  `json:"notes,omitempty"`
}

// Identification is the parsed answer for one image. Raw keeps the model's
// text verbatim for diagnostics.
type Identification struct {
	Cards    []Candidate
	Raw      string
	Attempts int
}

// Identifier is the capability the recognition worker depends on.
type Identifier interface {
	IdentifyCards(ctx context.Context, image []byte, contentType string) (Identification, error)
}

// IdentifyCards sends one image to the model and parses the cards it names.
// Refusals come back as *RefusalError; transport and format problems as
// *ServiceError.
func (c *Client) IdentifyCards(ctx context.Context, image []byte, contentType string) (Identification, error) {
	if len(image) == 0 {
		return Identification{}, &ServiceError{Op: "identify", Err: errors.New("empty image")}
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Identification{}, &ServiceError{Op: "identify", Err: errors.New("api key required")}
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURI := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: identifySystemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: identifyUserPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURI, Detail: "high"}},
			}},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	result, attempts, err := c.completeWithRetry(ctx, payload, "identify")
	if err != nil {
		if ctx.Err() != nil {
			return Identification{Attempts: attempts}, ctx.Err()
		}
		return Identification{Attempts: attempts}, &ServiceError{Op: "identify", Attempts: attempts, Err: err}
	}

	ident, err := interpret(result)
	ident.Attempts = attempts
	return ident, err
}

func interpret(result completion) (Identification, error) {
	raw := result.Content
	if raw == "" {
		raw = result.Refusal
	}
	ident := Identification{Raw: raw}

	if result.Content == "" && result.Refusal != "" {
		return ident, &RefusalError{Reason: result.Refusal, Raw: raw}
	}

	answer, err := parseAnswer(result.Content)
	if err != nil {
		if looksLikeRefusal(result.Content) {
			return ident, &RefusalError{Reason: result.Content, Raw: raw}
		}
		return ident, &ServiceError{Op: "parse answer", Raw: raw, Err: err}
	}
	if refusal := strings.TrimSpace(answer.Refusal); refusal != "" && len(answer.Cards) == 0 {
		return ident, &RefusalError{Reason: refusal, Raw: raw}
	}

	cards := make([]Candidate, 0, len(answer.Cards))
	for i, wc := range answer.Cards {
		candidate, err := wc.candidate()
		if err != nil {
			return ident, &ServiceError{Op: "parse answer", Raw: raw, Err: fmt.Errorf("card %d: %w", i, err)}
		}
		if candidate.Name == "" {
			continue
		}
		cards = append(cards, candidate)
	}
	ident.Cards = cards
	return ident, nil
}

// HealthCheck verifies the API key and model respond to a trivial JSON prompt.
func (c *Client) HealthCheck(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return &ServiceError{Op: "health", Err: errors.New("api key required")}
	}
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You must respond with JSON only."},
			{Role: "user", Content: "Respond with {\"ok\":true}"},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	result, attempts, err := c.completeWithRetry(ctx, payload, "health")
	if err != nil {
		return &ServiceError{Op: "health", Attempts: attempts, Err: err}
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(result.Content, &parsed); err != nil {
		return &ServiceError{Op: "health", Raw: result.Content, Err: fmt.Errorf("parse payload: %w", err)}
	}
	if !parsed.OK {
		return &ServiceError{Op: "health", Raw: result.Content, Err: errors.New("unexpected response")}
	}
	return nil
}
