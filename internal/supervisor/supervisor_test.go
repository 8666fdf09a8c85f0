package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pushrelay/pushrelay/internal/store"
)

type fakeStore struct {
	mu    sync.Mutex
	rules []store.Rule
	err   error
}

func (f *fakeStore) List(_ context.Context) ([]store.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]store.Rule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeStore) set(rules ...store.Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = rules
	f.err = nil
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// blockingRunner counts starts per rule and blocks until cancelled. Each
// start is also announced on the started channel so tests can wait for the
// spawned goroutine instead of racing it.
type blockingRunner struct {
	mu      sync.Mutex
	starts  map[string]int
	started chan string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{starts: make(map[string]int), started: make(chan string, 16)}
}

func (b *blockingRunner) run(ctx context.Context, r store.Rule) error {
	b.mu.Lock()
	b.starts[r.ID]++
	b.mu.Unlock()
	b.started <- r.ID
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingRunner) startCount(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts[id]
}

// awaitStarts blocks until n listener goroutines have announced themselves.
func (b *blockingRunner) awaitStarts(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-b.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for start %d of %d", i+1, n)
		}
	}
}

// assertNoStart fails if any listener goroutine announces a start within
// the grace window.
func (b *blockingRunner) assertNoStart(t *testing.T) {
	t.Helper()
	select {
	case id := <-b.started:
		t.Errorf("unexpected start for rule %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func rule(id string) store.Rule {
	return store.Rule{ID: id, Server: "https://ntfy.example", Topic: "t-" + id, WebhookURL: "https://hooks.example/" + id}
}

func TestTickStartsNewRules(t *testing.T) {
	fs := &fakeStore{}
	fs.set(rule("a"), rule("b"))
	br := newBlockingRunner()
	s := New(fs, br.run, time.Minute)

	s.Tick(context.Background())
	br.awaitStarts(t, 2)

	if len(s.tasks) != 2 {
		t.Fatalf("registry size = %d, want 2", len(s.tasks))
	}
	if br.startCount("a") != 1 || br.startCount("b") != 1 {
		t.Errorf("starts = a:%d b:%d, want 1 each", br.startCount("a"), br.startCount("b"))
	}

	// Rules observed again on later ticks must not start twice.
	s.Tick(context.Background())
	s.Tick(context.Background())
	br.assertNoStart(t)
	if br.startCount("a") != 1 {
		t.Errorf("rule a started %d times across ticks, want 1", br.startCount("a"))
	}

	s.shutdown()
}

func TestTickStopsDeletedRule(t *testing.T) {
	fs := &fakeStore{}
	fs.set(rule("a"), rule("b"))
	br := newBlockingRunner()
	s := New(fs, br.run, time.Minute)

	s.Tick(context.Background())
	aTask := s.tasks["a"]

	fs.set(rule("a"))
	s.Tick(context.Background())

	if _, ok := s.tasks["b"]; ok {
		t.Error("deleted rule b still registered")
	}
	if got, ok := s.tasks["a"]; !ok || got != aTask {
		t.Error("rule a's task was disturbed by b's removal")
	}
	// The stopped task's goroutine has unwound: its done channel was
	// drained by stop, so finished() reports nothing left.
	s.shutdown()
}

func TestTickRestartsFailedRule(t *testing.T) {
	fs := &fakeStore{}
	fs.set(rule("a"))

	var mu sync.Mutex
	starts := 0
	started := make(chan int, 4)
	failFirst := func(ctx context.Context, r store.Rule) error {
		mu.Lock()
		starts++
		n := starts
		mu.Unlock()
		started <- n
		if n == 1 {
			return errors.New("reconnect budget exhausted")
		}
		<-ctx.Done()
		return ctx.Err()
	}

	s := New(fs, failFirst, time.Minute)
	s.Tick(context.Background())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never started")
	}

	// Wait for the first run to finish (it fails immediately).
	deadline := time.After(2 * time.Second)
	for {
		if err, done := s.tasks["a"].finished(); done {
			// Put the result back for the tick to observe.
			s.tasks["a"].done <- err
			break
		}
		select {
		case <-deadline:
			t.Fatal("first run never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.Tick(context.Background())

	select {
	case n := <-started:
		if n != 2 {
			t.Errorf("start sequence = %d, want 2 (failed rule restarts on the next tick)", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failed rule was not restarted")
	}
	if _, ok := s.tasks["a"]; !ok {
		t.Error("rule a missing from registry after restart")
	}
	s.shutdown()
}

func TestFailedAndDeletedRuleNotRestarted(t *testing.T) {
	fs := &fakeStore{}
	fs.set(rule("a"))

	ran := make(chan struct{}, 1)
	failOnce := func(ctx context.Context, r store.Rule) error {
		ran <- struct{}{}
		return errors.New("boom")
	}

	s := New(fs, failOnce, time.Minute)
	s.Tick(context.Background())
	<-ran

	// Give the goroutine a moment to park its error.
	time.Sleep(20 * time.Millisecond)

	fs.set() // rule deleted
	s.Tick(context.Background())

	if len(s.tasks) != 0 {
		t.Errorf("registry size = %d, want 0", len(s.tasks))
	}
	select {
	case <-ran:
		t.Error("failed rule was restarted despite deletion")
	default:
	}
}

func TestStoreFailureLeavesRegistryUntouched(t *testing.T) {
	fs := &fakeStore{}
	fs.set(rule("a"))
	br := newBlockingRunner()
	s := New(fs, br.run, time.Minute)

	s.Tick(context.Background())
	br.awaitStarts(t, 1)
	if len(s.tasks) != 1 {
		t.Fatalf("registry size = %d, want 1", len(s.tasks))
	}

	fs.fail(errors.New("store unavailable"))
	s.Tick(context.Background())

	if len(s.tasks) != 1 {
		t.Errorf("registry size = %d after store failure, want 1", len(s.tasks))
	}
	br.assertNoStart(t)
	if br.startCount("a") != 1 {
		t.Errorf("starts = %d after store failure, want 1", br.startCount("a"))
	}
	s.shutdown()
}

func TestStopAwaitsCancellation(t *testing.T) {
	fs := &fakeStore{}
	fs.set(rule("a"))

	unwound := make(chan struct{})
	runner := func(ctx context.Context, r store.Rule) error {
		defer close(unwound)
		<-ctx.Done()
		return ctx.Err()
	}

	s := New(fs, runner, time.Minute)
	s.Tick(context.Background())

	fs.set()
	done := make(chan struct{})
	go func() {
		s.Tick(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not complete while stopping a listener")
	}
	select {
	case <-unwound:
	default:
		t.Error("tick returned before the cancelled listener unwound")
	}
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	fs := &fakeStore{}
	fs.set(rule("a"))
	br := newBlockingRunner()
	s := New(fs, br.run, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Let the first tick start the listener.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down after context cancel")
	}
	if len(s.tasks) != 0 {
		t.Errorf("registry size = %d after shutdown, want 0", len(s.tasks))
	}
}
