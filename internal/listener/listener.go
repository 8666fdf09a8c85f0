package listener

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pushrelay/pushrelay/internal/config"
	"github.com/pushrelay/pushrelay/internal/event"
	"github.com/pushrelay/pushrelay/internal/logging"
	"github.com/pushrelay/pushrelay/internal/metrics"
	"github.com/pushrelay/pushrelay/internal/store"
	"github.com/pushrelay/pushrelay/internal/tracing"
)

const userAgent = "pushrelay/0.1.0"

// maxLineSize bounds a single stream record; ntfy messages are capped far
// below this.
const maxLineSize = 1024 * 1024

// errStreamClosed marks an upstream that ended the stream cleanly; the
// listener reconnects as if the connection had dropped.
var errStreamClosed = errors.New("stream closed by upstream")

// statusError is a non-2xx response on the stream connection. Client
// errors (4xx) are terminal for the invocation; everything else retries.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected stream status %d", e.code)
}

func (e *statusError) terminal() bool {
	return e.code >= 400 && e.code < 500
}

// Dispatcher hands one decoded notification to the outbound side.
// Implementations swallow their own failures.
type Dispatcher interface {
	Deliver(ctx context.Context, r store.Rule, n event.Notification)
}

// Listener maintains one rule's inbound stream connection. A single
// Listener is safe to share across rules; all per-rule state lives in
// Run's frame.
type Listener struct {
	cfg        config.Listener
	dispatcher Dispatcher
	client     *http.Client
	logger     *logging.Logger
}

func New(cfg config.Listener, d Dispatcher) *Listener {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
	}
	return &Listener{
		cfg:        cfg,
		dispatcher: d,
		// No overall client timeout: the stream stays open indefinitely
		// while idle. Cancellation rides on the request context.
		client: &http.Client{Transport: transport},
		logger: logging.New("pushrelay-listener"),
	}
}

// streamURL joins the server base and topic into the JSON stream path.
func streamURL(server, topic string) string {
	return strings.TrimRight(server, "/") + "/" + strings.Trim(topic, "/") + "/json"
}

// Run relays rule r until a terminal failure, the reconnect budget runs
// out, or ctx is cancelled. A nil return means a terminal (4xx) stop; a
// context error means cancellation; any other error means the reconnect
// budget was exhausted. The supervisor treats all three as "finished".
func (l *Listener) Run(ctx context.Context, r store.Rule) error {
	url := streamURL(r.Server, r.Topic)
	l.logger.Plain().WithRule(r.ID).WithTopic(r.Topic).WithField("url", url).Info("starting stream listener")

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = l.cfg.InitialBackoff
	expo.MaxInterval = l.cfg.MaxBackoff

	// seqStart anchors the reconnect budget. It resets whenever a
	// connection reaches streaming, so only consecutive failures count
	// against the ceiling.
	seqStart := time.Now()
	resetBackoff := func() {
		expo.Reset()
		seqStart = time.Now()
	}

	for {
		err := l.attempt(ctx, r, url, resetBackoff)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var se *statusError
		if errors.As(err, &se) && se.terminal() {
			l.logger.Plain().WithRule(r.ID).WithTopic(r.Topic).
				WithField("status", se.code).
				Error("stream rejected with client error, stopping retries; check credentials/topic")
			return nil
		}

		reason := reconnectReason(err)
		metrics.StreamReconnectsTotal.WithLabelValues(reason).Inc()

		if reason == "unexpected" {
			// Unclassified failure: log loudly, pause briefly to avoid a
			// tight loop, then retry like any transient fault.
			l.logger.Plain().WithRule(r.ID).WithTopic(r.Topic).WithError(err).
				WithField("delay", l.cfg.UnexpectedDelay.String()).
				Error("unexpected stream failure")
			if !sleepCtx(ctx, l.cfg.UnexpectedDelay) {
				return ctx.Err()
			}
			if time.Since(seqStart) > l.cfg.MaxElapsed {
				l.logger.Plain().WithRule(r.ID).WithTopic(r.Topic).WithError(err).Warn("reconnect budget exhausted")
				return err
			}
			continue
		}

		if time.Since(seqStart) > l.cfg.MaxElapsed {
			l.logger.Plain().WithRule(r.ID).WithTopic(r.Topic).WithError(err).Warn("reconnect budget exhausted")
			return err
		}

		delay := expo.NextBackOff()
		l.logger.Plain().WithRule(r.ID).WithTopic(r.Topic).WithError(err).WithFields(map[string]any{
			"reason": reason,
			"delay":  delay.String(),
		}).Warn("stream connection lost, reconnecting")
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
	}
}

// attempt opens the stream and pumps it until it fails. onConnected fires
// once the response comes back 2xx.
func (l *Listener) attempt(ctx context.Context, r store.Rule, url string, onConnected func()) error {
	ctx, span := tracing.StartSpan(ctx, "listener.attempt",
		attribute.String("rule_id", r.ID),
		attribute.String("topic", r.Topic),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/x-ndjson, application/json")
	if r.AuthHeader != "" {
		req.Header.Set("Authorization", r.AuthHeader)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused, then classify.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		err := &statusError{code: resp.StatusCode}
		tracing.SetSpanError(ctx, err)
		return err
	}

	l.logger.WithContext(ctx).WithRule(r.ID).WithTopic(r.Topic).Info("connected to stream")
	metrics.StreamConnectsTotal.Inc()
	onConnected()

	return l.pump(ctx, r, resp.Body)
}

// pump reads newline-delimited records until the stream errors or ends.
func (l *Listener) pump(ctx context.Context, r store.Rule, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		n, err := event.Decode(line)
		if err != nil {
			l.logger.WithContext(ctx).WithRule(r.ID).WithTopic(r.Topic).
				WithField("line", string(line)).Warn("invalid JSON on stream")
			metrics.MalformedLinesTotal.Inc()
			continue
		}
		if !n.IsMessage() {
			continue
		}

		l.logger.WithContext(ctx).WithRule(r.ID).WithTopic(r.Topic).
			WithField("title", n.Title).Info("received message")
		metrics.MessagesRelayedTotal.Inc()
		l.dispatcher.Deliver(ctx, r, n)
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errStreamClosed
}

// reconnectReason buckets a retryable failure for metrics and logs.
func reconnectReason(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		// 4xx is terminal and never reaches here; a retryable status is
		// either a server error or a redirect the client did not follow.
		if se.code >= 500 {
			return "http_5xx"
		}
		return "http_3xx"
	}
	if errors.Is(err, errStreamClosed) {
		return "stream_closed"
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return "timeout"
		}
		return "network"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "network"
	}
	return "unexpected"
}

// sleepCtx waits d or until ctx is done; reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
