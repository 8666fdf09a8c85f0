package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pushrelay/pushrelay/internal/audit"
	"github.com/pushrelay/pushrelay/internal/event"
	"github.com/pushrelay/pushrelay/internal/logging"
	"github.com/pushrelay/pushrelay/internal/metrics"
	"github.com/pushrelay/pushrelay/internal/store"
	"github.com/pushrelay/pushrelay/internal/tracing"
)

// Discord embed colors (decimal RGB)
const (
	colorInfo    = 3447003  // blue
	colorSuccess = 3066993  // green
	colorWarning = 16776960 // yellow
	colorError   = 15158332 // red
)

// ntfy priority thresholds
const (
	priorityHigh   = 4
	priorityUrgent = 5
)

const (
	emojiInfo    = "ℹ️"
	emojiSuccess = "✅"
	emojiWarning = "⚠️"
	emojiError   = "❌"
)

// Tag sets that override priority when picking the embed style
var (
	errorTags   = tagSet("error", "skull", "rotating_light", "fire", "boom")
	warningTags = tagSet("warning", "exclamation", "construction")
	successTags = tagSet("white_check_mark", "heavy_check_mark", "partying_face", "tada", "check")
)

func tagSet(tags ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		m[t] = struct{}{}
	}
	return m
}

// styleFor picks the embed color and title emoji. Tags win over priority.
func styleFor(priority int, tags []string) (int, string) {
	for _, tag := range tags {
		tag = strings.ToLower(tag)
		if _, ok := errorTags[tag]; ok {
			return colorError, emojiError
		}
		if _, ok := warningTags[tag]; ok {
			return colorWarning, emojiWarning
		}
		if _, ok := successTags[tag]; ok {
			return colorSuccess, emojiSuccess
		}
	}
	switch {
	case priority >= priorityUrgent:
		return colorError, emojiError
	case priority >= priorityHigh:
		return colorWarning, emojiWarning
	default:
		return colorInfo, emojiInfo
	}
}

type Payload struct {
	Embeds []Embed `json:"embeds"`
}

type Embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
	Footer      Footer `json:"footer"`
}

type Footer struct {
	Text string `json:"text"`
}

// payloadFor shapes one notification into a webhook embed.
func payloadFor(n event.Notification) Payload {
	title := n.Title
	if title == "" {
		title = "New notification"
	}
	message := n.Message
	if message == "" {
		message = "*No content*"
	}

	color, emoji := styleFor(n.Priority, n.Tags)
	if !strings.HasPrefix(title, emoji) {
		title = emoji + " " + title
	}

	ts := time.Now().UTC()
	if n.Time > 0 {
		ts = time.Unix(n.Time, 0).UTC()
	}

	return Payload{
		Embeds: []Embed{{
			Title:       title,
			Description: message,
			Color:       color,
			Timestamp:   ts.Format(time.RFC3339),
			Footer:      Footer{Text: "Topic: " + n.Topic},
		}},
	}
}

// Dispatcher delivers formatted notifications to chat webhooks. It owns
// its own HTTP client so a slow webhook never shares a connection with
// the inbound stream path.
type Dispatcher struct {
	client *http.Client
	logger *logging.Logger
	audit  *audit.Publisher // nil when the audit feed is disabled
}

func New(timeout time.Duration, auditPub *audit.Publisher) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		logger: logging.New("pushrelay-dispatch"),
		audit:  auditPub,
	}
}

// Deliver formats and posts one notification to the rule's webhook.
// Failures end this one delivery attempt; they are logged and counted
// but never surfaced to the caller, so a broken webhook cannot take
// down its listener.
func (d *Dispatcher) Deliver(ctx context.Context, r store.Rule, n event.Notification) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.deliver",
		attribute.String("rule_id", r.ID),
		attribute.String("topic", n.Topic),
	)
	defer span.End()

	if d.audit != nil {
		d.audit.Publish(ctx, r.ID, n)
	}

	body, err := json.Marshal(payloadFor(n))
	if err != nil {
		d.logger.WithContext(ctx).WithRule(r.ID).WithError(err).Error("payload marshal failed")
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		tracing.SetSpanError(ctx, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.WebhookURL, bytes.NewReader(body))
	if err != nil {
		d.logger.WithContext(ctx).WithRule(r.ID).WithError(err).Error("webhook request build failed")
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		tracing.SetSpanError(ctx, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		d.logger.WithContext(ctx).WithRule(r.ID).WithTopic(n.Topic).WithError(err).Error("webhook delivery failed")
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		tracing.SetSpanError(ctx, err)
		return
	}
	defer resp.Body.Close()

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.WithContext(ctx).WithRule(r.ID).WithTopic(n.Topic).
			WithField("status", resp.StatusCode).Error("webhook rejected delivery")
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		return
	}

	metrics.DispatchesTotal.WithLabelValues("delivered").Inc()
	d.logger.WithContext(ctx).WithRule(r.ID).WithTopic(n.Topic).Info("notification delivered")
}
