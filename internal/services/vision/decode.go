package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals model output into target, tolerating code fences and
// prose around the JSON body.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, summarizePayloadSnippet(trimmed))
	}

	sanitizedErr := json.Unmarshal([]byte(sanitized), target)
	if sanitizedErr == nil {
		return nil
	}
	return fmt.Errorf("%w (sanitized payload snippet: %s)", sanitizedErr, summarizePayloadSnippet(sanitized))
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// flexString decodes a JSON string or number as text. Models emit collector
// numbers both ways.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(trimmed)
	return nil
}

// wireCard mirrors one entry of the model's JSON answer. Confidence is kept
// as json.Number so integer and fractional answers both decode.
type wireCard struct {
	Name            string      `json:"name"`
	SetName         string      `json:"set_name"`
	SetCode         string      `json:"set_code"`
	CollectorNumber flexString  `json:"collector_number"`
	Confidence      json.Number `json:"confidence"`
	Quantity        int         `json:"quantity"`
	Notes           string      `json:"notes"`
}

type wireAnswer struct {
	Cards   []wireCard `json:"cards"`
	Refusal string     `json:"refusal"`
}

// parseAnswer accepts either the documented object or a bare array of cards.
func parseAnswer(content string) (wireAnswer, error) {
	var answer wireAnswer
	objectErr := DecodeJSON(content, &answer)
	if objectErr == nil {
		return answer, nil
	}
	var cards []wireCard
	if err := DecodeJSON(content, &cards); err == nil {
		return wireAnswer{Cards: cards}, nil
	}
	return wireAnswer{}, objectErr
}

func (w wireCard) candidate() (Candidate, error) {
	confidence, err := parseConfidence(w.Confidence)
	if err != nil {
		return Candidate{}, err
	}
	quantity := w.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	return Candidate{
		Name:            strings.TrimSpace(w.Name),
		SetName:         strings.TrimSpace(w.SetName),
		SetCode:         strings.ToUpper(strings.TrimSpace(w.SetCode)),
		CollectorNumber: strings.TrimSpace(string(w.CollectorNumber)),
		Confidence:      confidence,
		Quantity:        quantity,
		Notes:           strings.TrimSpace(w.Notes),
	}, nil
}

func parseConfidence(raw json.Number) (float64, error) {
	text := strings.TrimSpace(raw.String())
	if text == "" {
		return 0, errors.New("confidence missing")
	}
	value, err := raw.Float64()
	if err != nil {
		return 0, fmt.Errorf("confidence %q is not a number", text)
	}
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("confidence %v outside 0-100", value)
	}
	return value, nil
}

var refusalPhrases = []string{
	"i can't",
	"i cannot",
	"i'm unable",
	"i am unable",
	"i'm not able",
	"unable to assist",
	"unable to help",
	"can't assist",
	"cannot assist",
	"i'm sorry",
	"i apologize",
}

// looksLikeRefusal reports whether free text without JSON reads as a decline.
func looksLikeRefusal(content string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))
	if lower == "" || strings.ContainsAny(lower, "{[") {
		return false
	}
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
