package supervisor

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pushrelay/pushrelay/internal/logging"
	"github.com/pushrelay/pushrelay/internal/metrics"
	"github.com/pushrelay/pushrelay/internal/store"
	"github.com/pushrelay/pushrelay/internal/tracing"
)

// Lister is the read side of the rule store.
type Lister interface {
	List(ctx context.Context) ([]store.Rule, error)
}

// RunFunc runs one rule's listener until it finishes. The listener
// contract: nil means a terminal stop, a context error means clean
// cancellation, anything else means the reconnect budget ran out.
type RunFunc func(ctx context.Context, r store.Rule) error

// task is one supervised listener. done is buffered so the goroutine
// never blocks on a supervisor that has moved on.
type task struct {
	rule   store.Rule
	cancel context.CancelFunc
	done   chan error
}

// finished reports, without blocking, whether the listener goroutine has
// returned, and with what error.
func (t *task) finished() (error, bool) {
	select {
	case err := <-t.done:
		return err, true
	default:
		return nil, false
	}
}

// Supervisor reconciles the rule table against running listener tasks on
// a fixed interval. The task registry is owned by the supervisor's own
// goroutine and is only ever touched from inside a tick, so it needs no
// locking.
type Supervisor struct {
	store    Lister
	run      RunFunc
	interval time.Duration
	logger   *logging.Logger
	tasks    map[string]*task
}

func New(st Lister, run RunFunc, interval time.Duration) *Supervisor {
	return &Supervisor{
		store:    st,
		run:      run,
		interval: interval,
		logger:   logging.New("pushrelay-supervisor"),
		tasks:    make(map[string]*task),
	}
}

// Run ticks until ctx is cancelled, then winds down every task.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Plain().WithField("interval", s.interval.String()).Info("supervisor started")
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass: reap finished tasks, start listeners
// for unserved rules, stop listeners for deleted rules. Any failure is
// contained here; the loop must survive every tick.
func (s *Supervisor) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Plain().WithField("panic", r).Error("reconciliation tick panicked")
		}
		metrics.ActiveListeners.Set(float64(len(s.tasks)))
	}()

	// Listener tasks derive from the supervisor's root context, not from
	// the tick span context, so they outlive the tick's span.
	rootCtx := ctx

	ctx, span := tracing.StartSpan(ctx, "supervisor.tick")
	defer span.End()

	rules, err := s.store.List(ctx)
	if err != nil {
		// Store unavailable: leave the registry alone and retry next tick.
		s.logger.WithContext(ctx).WithError(err).Error("rule list fetch failed")
		tracing.SetSpanError(ctx, err)
		return
	}
	span.SetAttributes(attribute.Int("rules", len(rules)))

	desired := make(map[string]store.Rule, len(rules))
	for _, r := range rules {
		desired[r.ID] = r
	}

	// Reap finished tasks first so their rules restart within this tick.
	reaped := s.reapFinished(ctx)

	// Start listeners for rules with no live task.
	for _, r := range rules {
		if _, running := s.tasks[r.ID]; running {
			continue
		}
		if reaped[r.ID] {
			s.logger.WithContext(ctx).WithRule(r.ID).WithTopic(r.Topic).Info("restarting listener")
			metrics.ListenerRestartsTotal.Inc()
		} else {
			s.logger.WithContext(ctx).WithRule(r.ID).WithTopic(r.Topic).Info("found new rule, starting listener")
		}
		s.start(rootCtx, r)
	}

	// Stop listeners whose rule was deleted.
	for id, t := range s.tasks {
		if _, ok := desired[id]; ok {
			continue
		}
		s.logger.WithContext(ctx).WithRule(id).Info("rule deleted, stopping listener")
		delete(s.tasks, id)
		s.stop(ctx, id, t)
	}
}

// reapFinished removes tasks whose goroutine has already returned and
// reports their rule IDs, making them eligible for an immediate restart.
func (s *Supervisor) reapFinished(ctx context.Context) map[string]bool {
	reaped := make(map[string]bool)
	for id, t := range s.tasks {
		err, done := t.finished()
		if !done {
			continue
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithContext(ctx).WithRule(id).WithError(err).
				Warn("listener task failed, will restart if rule still exists")
		} else {
			s.logger.WithContext(ctx).WithRule(id).Warn("listener task completed unexpectedly")
		}
		delete(s.tasks, id)
		reaped[id] = true
	}
	return reaped
}

// start launches a listener goroutine for rule r and registers it.
func (s *Supervisor) start(ctx context.Context, r store.Rule) {
	taskCtx, cancel := context.WithCancel(ctx)

	t := &task{
		rule:   r,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() {
		t.done <- s.run(taskCtx, r)
	}()
	s.tasks[r.ID] = t
}

// stop cancels a task and waits for it to unwind. The listener's only
// blocking points are context-bound network waits, so this completes
// promptly.
func (s *Supervisor) stop(ctx context.Context, id string, t *task) {
	t.cancel()
	err := <-t.done
	if err == nil || errors.Is(err, context.Canceled) {
		s.logger.WithContext(ctx).WithRule(id).Debug("listener task cancelled")
		return
	}
	s.logger.WithContext(ctx).WithRule(id).WithError(err).Warn("listener task ended with error during stop")
}

// shutdown cancels and awaits every registered task.
func (s *Supervisor) shutdown() {
	s.logger.Plain().WithField("tasks", len(s.tasks)).Info("supervisor shutting down")
	for id, t := range s.tasks {
		delete(s.tasks, id)
		t.cancel()
		<-t.done
	}
	metrics.ActiveListeners.Set(0)
	s.logger.Plain().Info("supervisor stopped")
}
