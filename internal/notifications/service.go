package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autosumm/internal/config"
)

const userAgent = "autosumm/0.1"

// Event names a run milestone worth telling the user about.
type Event string

const (
	EventRunStarted      Event = "run_started"
	EventRunCompleted    Event = "run_completed"
	EventRunAborted      Event = "run_aborted"
	EventDigestDelivered Event = "digest_delivered"
	EventTest            Event = "test"
)

// Payload carries the event fields. Keys are documented per event in
// format.
type Payload map[string]any

// Service publishes run events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
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
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

// format renders an event. Fields:
//
//	run_started:      category
//	run_completed:    category, selected, succeeded, failed, skipped, duration
//	run_aborted:      category, error
//	digest_delivered: category, papers, recipients
func format(event Event, p Payload) (message, bool) {
	switch event {
	case EventRunStarted:
		return message{
			title: "autosumm - Run Started",
			body:  fmt.Sprintf("Collecting new papers in %s", p.text("category", "unknown")),
			tags:  []string{"autosumm", "run", "started"},
		}, true
	case EventRunCompleted:
		failed := p.number("failed")
		title := "autosumm - Digest Ready"
		if failed > 0 {
			title = "autosumm - Digest Ready (with errors)"
		}
		body := fmt.Sprintf("📚 %s: %d papers summarized", p.text("category", "unknown"), p.number("selected"))
		if failed > 0 {
			body += fmt.Sprintf(", %d failed", failed)
		}
		if d, ok := p["duration"].(time.Duration); ok {
			body += fmt.Sprintf(" in %s", max(d.Round(time.Second), 0))
		}
		return message{
			title: title,
			body:  body,
			tags:  []string{"autosumm", "run", "completed"},
		}, true
	case EventRunAborted:
		return message{
			title:    "autosumm - Run Aborted",
			body:     fmt.Sprintf("❌ Run for %s aborted: %s", p.text("category", "unknown"), p.text("error", "unknown error")),
			tags:     []string{"autosumm", "error", "alert"},
			priority: "high",
		}, true
	case EventDigestDelivered:
		return message{
			title: "autosumm - Digest Sent",
			body: fmt.Sprintf("✉️ %d papers from %s sent to %d recipients",
				p.number("papers"), p.text("category", "unknown"), p.number("recipients")),
			tags: []string{"autosumm", "deliver", "completed"},
		}, true
	case EventTest:
		return message{
			title:    "autosumm - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"autosumm", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (p Payload) text(key, fallback string) string {
	switch v := p[key].(type) {
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	case error:
		if v != nil {
			return strings.TrimSpace(v.Error())
		}
	case fmt.Stringer:
		return v.String()
	}
	return fallback
}

func (p Payload) number(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
