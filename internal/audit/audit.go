package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/pushrelay/pushrelay/internal/event"
	"github.com/pushrelay/pushrelay/internal/logging"
	"github.com/pushrelay/pushrelay/internal/metrics"
	"github.com/pushrelay/pushrelay/internal/tracing"
)

const EnvelopeType = "relay.notification"

// Envelope is the versioned record published for every relayed
// notification, for downstream consumers (archival, search, alert dedup).
type Envelope struct {
	Type         string             `json:"type"`    // "relay.notification"
	Version      string             `json:"version"` // schema version
	At           string             `json:"at"`      // RFC3339 publish time
	RuleID       string             `json:"rule_id"`
	Topic        string             `json:"topic"`
	Notification event.Notification `json:"notification"`
	TraceHeaders map[string]string  `json:"trace_headers,omitempty"`
}

// NewEnvelope snapshots one relayed notification.
func NewEnvelope(ctx context.Context, ruleID string, n event.Notification) Envelope {
	return Envelope{
		Type:         EnvelopeType,
		Version:      "v1",
		At:           time.Now().Format(time.RFC3339Nano),
		RuleID:       ruleID,
		Topic:        n.Topic,
		Notification: n,
		TraceHeaders: tracing.CarrierFromContext(ctx),
	}
}

// Publisher mirrors relayed notifications onto an NSQ topic. Publishing is
// best-effort; a down nsqd must never affect the relay path.
type Publisher struct {
	prod   *nsq.Producer
	topic  string
	logger *logging.Logger
}

func NewPublisher(nsqdTCPAddr, topic string) (*Publisher, error) {
	prod, err := nsq.NewProducer(nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	return &Publisher{
		prod:   prod,
		topic:  topic,
		logger: logging.New("pushrelay-audit"),
	}, nil
}

// Publish emits one envelope. Failures are logged and counted, never
// returned.
func (p *Publisher) Publish(ctx context.Context, ruleID string, n event.Notification) {
	env := NewEnvelope(ctx, ruleID, n)
	body, err := json.Marshal(env)
	if err != nil {
		p.logger.WithContext(ctx).WithRule(ruleID).WithError(err).Error("audit envelope marshal failed")
		metrics.AuditPublishesTotal.WithLabelValues("failed").Inc()
		return
	}
	if err := p.prod.Publish(p.topic, body); err != nil {
		p.logger.WithContext(ctx).WithRule(ruleID).WithError(err).Error("audit publish failed")
		metrics.AuditPublishesTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.AuditPublishesTotal.WithLabelValues("published").Inc()
}

// Stop flushes and shuts down the underlying producer.
func (p *Publisher) Stop() {
	p.prod.Stop()
}
