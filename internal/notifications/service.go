package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cardscan/internal/config"
)

const userAgent = "cardscan/0.1.0"

// Event names a scan milestone.
type Event string

const (
	EventScanStarted   Event = "scan_started"
	EventScanReady     Event = "scan_ready"
	EventScanFailed    Event = "scan_failed"
	EventScanCommitted Event = "scan_committed"
	EventError         Event = "error"
	EventTest          Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes scan events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

// format renders an event. Events that would be noisy on a phone return false.
func format(event Event, payload Payload) (message, bool) {
	scanID := shortID(stringValue(payload, "scanID"))
	switch event {
	case EventScanReady:
		results := intValue(payload, "results")
		review := intValue(payload, "needsReview")
		body := fmt.Sprintf("🃏 Scan %s ready: %d cards found", scanID, results)
		if review > 0 {
			body += fmt.Sprintf(", %d need a closer look", review)
		}
		if results == 0 {
			body = fmt.Sprintf("🃏 Scan %s finished with no cards recognized", scanID)
		}
		return message{
			title: "Cardscan - Ready for Review",
			body:  body,
			tags:  []string{"cardscan", "scan", "review"},
		}, true
	case EventScanFailed:
		reason := stringValue(payload, "reason")
		if reason == "" {
			reason = "recognition failed"
		}
		return message{
			title:    "Cardscan - Scan Failed",
			body:     fmt.Sprintf("❌ Scan %s failed: %s", scanID, reason),
			tags:     []string{"cardscan", "scan", "failed"},
			priority: "high",
		}, true
	case EventScanCommitted:
		return message{
			title: "Cardscan - Collection Updated",
			body: fmt.Sprintf("📚 Added %d cards from scan %s (%d new, %d stacked)",
				intValue(payload, "cardsCreated"), scanID,
				intValue(payload, "newCards"), intValue(payload, "stackedCards")),
			tags: []string{"cardscan", "collection", "added"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := stringValue(payload, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := stringValue(payload, "error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Cardscan - Error",
			body:     builder.String(),
			tags:     []string{"cardscan", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Cardscan - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"cardscan", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func stringValue(payload Payload, key string) string {
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func intValue(payload Payload, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
