package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/vibelab/internal/experiments"
	"github.com/haasonsaas/vibelab/internal/generation"
)

const svgOutput = "Here you go:\n<svg viewBox=\"0 0 10 10\"><rect width=\"10\" height=\"10\"/></svg>"

func makeTasks(n int) []*Task {
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = &Task{
			ID:            uuid.NewString(),
			Position:      i,
			Prompt:        experiments.Prompt{Text: fmt.Sprintf("prompt %d", i)},
			Model:         "gpt-4o",
			Variation:     experiments.Variation{Type: experiments.BaselineType, Name: "baseline"},
			InstanceIndex: 1,
			Status:        StatusPending,
		}
	}
	return tasks
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Emit(_ context.Context, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) states() []RunState {
	var out []RunState
	for _, e := range c.all() {
		if e.Type == EventRunState {
			out = append(out, e.State)
		}
	}
	return out
}

// gatedClient blocks each call until a token arrives on release.
type gatedClient struct {
	release chan struct{}
	started chan string

	current atomic.Int32
	max     atomic.Int32
}

func newGatedClient() *gatedClient {
	return &gatedClient{release: make(chan struct{}), started: make(chan string, 100)}
}

func (c *gatedClient) Generate(ctx context.Context, req *generation.Request) (*generation.Response, error) {
	n := c.current.Add(1)
	defer c.current.Add(-1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			break
		}
	}
	c.started <- req.Prompt
	<-c.release
	return &generation.Response{Output: svgOutput, Provider: "test", Model: req.Model}, nil
}

func waitStarted(t *testing.T, c *gatedClient, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for call %d", i+1)
		}
	}
}

func waitRun(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestSchedulerRespectsConcurrencyLimit(t *testing.T) {
	var current, peak atomic.Int32
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(1))
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		mu.Lock()
		d := time.Duration(rng.Intn(5)) * time.Millisecond
		mu.Unlock()
		time.Sleep(d)
		return &generation.Response{Output: svgOutput}, nil
	})

	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(40)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Start(context.Background(), 4, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)

	if got := peak.Load(); got > 4 {
		t.Fatalf("peak in-flight = %d, want <= 4", got)
	}
	counts := s.Counts()
	if counts.Completed != 40 || counts.Pending != 0 || counts.Running != 0 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestSchedulerAdmitsUpToLimit(t *testing.T) {
	client := newGatedClient()
	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(10)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sink := &collector{}
	if err := s.Start(context.Background(), 3, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitStarted(t, client, 3)

	select {
	case p := <-client.started:
		t.Fatalf("fourth task %q admitted while three in flight", p)
	case <-time.After(50 * time.Millisecond):
	}
	counts := s.Counts()
	if counts.Running != 3 || counts.Pending != 7 {
		t.Fatalf("counts = %+v, want 3 running and 7 pending", counts)
	}

	// Admission is FIFO in queue order.
	for i, task := range s.Snapshot() {
		wantRunning := i < 3
		if (task.Status == StatusRunning) != wantRunning {
			t.Fatalf("task %d status = %s", i, task.Status)
		}
	}

	close(client.release)
	waitRun(t, s)

	counts = s.Counts()
	if counts.Completed != 10 {
		t.Fatalf("completed = %d, want 10", counts.Completed)
	}
	if got := client.max.Load(); got != 3 {
		t.Fatalf("peak in-flight = %d, want 3", got)
	}
	states := sink.states()
	if len(states) != 2 || states[0] != RunStarted || states[1] != RunCompleted {
		t.Fatalf("run states = %v", states)
	}
}

func TestSchedulerCompletesWhenAllFail(t *testing.T) {
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		return nil, generation.NewError("test", req.Model, errors.New("backend unavailable")).WithStatus(503)
	})
	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(5)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sink := &collector{}
	if err := s.Start(context.Background(), 2, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)

	for _, task := range s.Snapshot() {
		if task.Status != StatusFailed {
			t.Fatalf("task status = %s, want failed", task.Status)
		}
		if task.Result != nil {
			t.Fatal("failed task has a result")
		}
		if !strings.Contains(task.Error, "backend unavailable") {
			t.Fatalf("task error = %q", task.Error)
		}
	}
	events := sink.all()
	last := events[len(events)-1]
	if last.Type != EventRunState || last.State != RunCompleted {
		t.Fatalf("last event = %+v, want completed", last)
	}
	if last.Counts.Failed != 5 {
		t.Fatalf("failed count = %d, want 5", last.Counts.Failed)
	}
}

func TestSchedulerNoSVG(t *testing.T) {
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		return &generation.Response{Output: "I cannot draw that."}, nil
	})
	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Start(context.Background(), 1, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)

	task := s.Snapshot()[0]
	if task.Status != StatusFailed || task.Error != ErrNoSVG.Error() {
		t.Fatalf("task = %s %q, want failed with %q", task.Status, task.Error, ErrNoSVG)
	}
}

func TestSchedulerResult(t *testing.T) {
	var got *generation.Request
	var mu sync.Mutex
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		mu.Lock()
		got = req
		mu.Unlock()
		return &generation.Response{Output: svgOutput, Provider: "openai", Model: "gpt-4o-2024"}, nil
	})
	tasks, err := Build(&experiments.Definition{
		ID:                    "exp-9",
		Prompts:               []experiments.Prompt{{Text: "a kite", Animated: true}},
		Models:                []string{"gpt-4o"},
		Variations:            []experiments.Variation{{Type: experiments.BaselineType, Name: "baseline"}},
		InstancesPerVariation: 1,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	s := NewScheduler(client, SchedulerConfig{MaxTokens: 2048})
	if err := s.Load(tasks); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Start(context.Background(), 1, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)

	task, ok := s.Task(tasks[0].ID)
	if !ok {
		t.Fatal("task not found")
	}
	if task.Status != StatusCompleted || task.Progress != ProgressDone {
		t.Fatalf("task = %s/%d", task.Status, task.Progress)
	}
	if task.Result == nil || !strings.HasPrefix(task.Result.SVGContent, "<svg") || !strings.HasSuffix(task.Result.SVGContent, "</svg>") {
		t.Fatalf("result = %+v", task.Result)
	}
	if task.Result.RawResponse != svgOutput || task.Result.Provider != "openai" || task.Result.ServedModel != "gpt-4o-2024" {
		t.Fatalf("result = %+v", task.Result)
	}
	if task.StartedAt == nil || task.FinishedAt == nil {
		t.Fatal("timestamps not set")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.ExperimentID != "exp-9" || got.PromptType != "svg" || got.MaxTokens != 2048 {
		t.Fatalf("request = %+v", got)
	}
	if got.Prompt != experiments.Enhance("a kite", tasks[0].Variation, true) {
		t.Fatalf("prompt = %q", got.Prompt)
	}
	// The scheduler's copy is independent of the caller's slice.
	if tasks[0].Status != StatusPending {
		t.Fatalf("caller task mutated to %s", tasks[0].Status)
	}
}

func TestSchedulerPauseAndResume(t *testing.T) {
	client := newGatedClient()
	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(6)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sink := &collector{}
	if err := s.Start(context.Background(), 2, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitStarted(t, client, 2)

	s.Pause()
	if !s.IsRunning() {
		t.Fatal("run ended before in-flight tasks finished")
	}
	client.release <- struct{}{}
	client.release <- struct{}{}
	waitRun(t, s)

	counts := s.Counts()
	if counts.Completed != 2 || counts.Pending != 4 || counts.Running != 0 {
		t.Fatalf("counts after pause = %+v", counts)
	}
	if states := sink.states(); states[len(states)-1] != RunPaused {
		t.Fatalf("run states = %v, want trailing paused", states)
	}

	close(client.release)
	resumed := &collector{}
	if err := s.Start(context.Background(), 10, resumed); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)

	if counts := s.Counts(); counts.Completed != 6 {
		t.Fatalf("completed = %d, want 6", counts.Completed)
	}
	states := resumed.states()
	if len(states) != 2 || states[1] != RunCompleted {
		t.Fatalf("resumed run states = %v", states)
	}
}

func TestSchedulerContextCancelPauses(t *testing.T) {
	client := newGatedClient()
	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(4)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sink := &collector{}
	if err := s.Start(ctx, 1, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitStarted(t, client, 1)
	cancel()

	// Let the cancellation land before the in-flight task finishes.
	deadline := time.Now().Add(5 * time.Second)
	for {
		s.mu.Lock()
		paused := s.paused
		s.mu.Unlock()
		if paused || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	client.release <- struct{}{}
	waitRun(t, s)

	if counts := s.Counts(); counts.Completed != 1 || counts.Pending != 3 {
		t.Fatalf("counts = %+v", counts)
	}
	if states := sink.states(); states[len(states)-1] != RunPaused {
		t.Fatalf("run states = %v", states)
	}
}

func TestSchedulerEmptyQueue(t *testing.T) {
	calls := 0
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		calls++
		return nil, nil
	})
	s := NewScheduler(client, SchedulerConfig{})
	sink := &collector{}
	if err := s.Start(context.Background(), 3, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)

	if s.IsRunning() {
		t.Fatal("scheduler still running")
	}
	if calls != 0 {
		t.Fatalf("client called %d times", calls)
	}
	events := sink.all()
	if len(events) != 1 || events[0].State != RunCompleted {
		t.Fatalf("events = %+v, want single completed", events)
	}
}

func TestSchedulerMisuseWhileRunning(t *testing.T) {
	client := newGatedClient()
	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(3)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sink := &collector{}
	if err := s.Start(context.Background(), 1, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitStarted(t, client, 1)

	if err := s.Start(context.Background(), 5, sink); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if err := s.Clear(); !errors.Is(err, ErrRunning) {
		t.Fatalf("Clear() error = %v, want ErrRunning", err)
	}
	if err := s.Load(makeTasks(1)); !errors.Is(err, ErrRunning) {
		t.Fatalf("Load() error = %v, want ErrRunning", err)
	}
	if _, err := s.Retry(); !errors.Is(err, ErrRunning) {
		t.Fatalf("Retry() error = %v, want ErrRunning", err)
	}

	close(client.release)
	waitRun(t, s)

	if got := client.max.Load(); got != 1 {
		t.Fatalf("peak in-flight = %d, second Start changed the limit", got)
	}
	started := 0
	for _, st := range sink.states() {
		if st == RunStarted {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("started events = %d, want 1", started)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if counts := s.Counts(); counts.Total != 0 {
		t.Fatalf("counts after clear = %+v", counts)
	}
}

func TestSchedulerTimeout(t *testing.T) {
	var current, peak atomic.Int32
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			m := peak.Load()
			if n <= m || peak.CompareAndSwap(m, n) {
				break
			}
		}
		// Ignores ctx on purpose.
		time.Sleep(60 * time.Millisecond)
		return &generation.Response{Output: svgOutput}, nil
	})
	s := NewScheduler(client, SchedulerConfig{TaskTimeout: 10 * time.Millisecond})
	if err := s.Load(makeTasks(4)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Start(context.Background(), 1, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)

	if got := peak.Load(); got != 1 {
		t.Fatalf("peak concurrent generation calls = %d, want 1", got)
	}
	for _, task := range s.Snapshot() {
		if task.Status != StatusFailed || !strings.Contains(task.Error, "timed out") {
			t.Fatalf("task = %s %q, want timeout failure", task.Status, task.Error)
		}
	}
}

func TestSchedulerIsolatesPanics(t *testing.T) {
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		if strings.Contains(req.Prompt, "prompt 1") {
			panic("boom")
		}
		return &generation.Response{Output: svgOutput}, nil
	})
	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(3)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Start(context.Background(), 3, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)

	snap := s.Snapshot()
	if snap[1].Status != StatusFailed || !strings.Contains(snap[1].Error, "boom") {
		t.Fatalf("panicking task = %s %q", snap[1].Status, snap[1].Error)
	}
	if snap[0].Status != StatusCompleted || snap[2].Status != StatusCompleted {
		t.Fatalf("sibling tasks = %s, %s", snap[0].Status, snap[2].Status)
	}
}

func TestSchedulerRetry(t *testing.T) {
	var fail atomic.Bool
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		if fail.Load() && !strings.Contains(req.Prompt, "prompt 0") {
			return nil, errors.New("flaky")
		}
		return &generation.Response{Output: svgOutput}, nil
	})
	fail.Store(true)
	s := NewScheduler(client, SchedulerConfig{})
	if err := s.Load(makeTasks(3)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Start(context.Background(), 3, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)
	first := s.Snapshot()

	n, err := s.Retry()
	if err != nil || n != 2 {
		t.Fatalf("Retry() = %d, %v", n, err)
	}
	for _, old := range first {
		if _, ok := s.Task(old.ID); ok {
			t.Fatalf("finished task %s still in the retried queue", old.ID)
		}
	}
	retried := s.Snapshot()
	for i, task := range retried {
		if task.Status != StatusPending || task.Position != i || task.Error != "" {
			t.Fatalf("retried task %d = %+v", i, task)
		}
		if task.Prompt.Text != first[i+1].Prompt.Text {
			t.Fatalf("retried task %d prompt = %q, want %q", i, task.Prompt.Text, first[i+1].Prompt.Text)
		}
	}
	if first[1].Status != StatusFailed {
		t.Fatalf("original task status changed to %s", first[1].Status)
	}

	fail.Store(false)
	if err := s.Start(context.Background(), 3, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, s)
	if counts := s.Counts(); counts.Completed != 2 || counts.Total != 2 {
		t.Fatalf("counts = %+v", counts)
	}
	if n, err := s.Retry(); err != nil || n != 0 {
		t.Fatalf("Retry() with nothing failed = %d, %v", n, err)
	}
	if counts := s.Counts(); counts.Total != 2 {
		t.Fatalf("queue replaced with nothing to retry: %+v", counts)
	}
}

// slowSink records events after a delay so delivery lags the run.
type slowSink struct {
	collector
	delay time.Duration
}

func (s *slowSink) Emit(ctx context.Context, e Event) {
	time.Sleep(s.delay)
	s.collector.Emit(ctx, e)
}

func TestSchedulerWaitDeliversEvents(t *testing.T) {
	client := generation.ClientFunc(func(ctx context.Context, req *generation.Request) (*generation.Response, error) {
		return nil, errors.New("down")
	})

	t.Run("after run ended", func(t *testing.T) {
		s := NewScheduler(client, SchedulerConfig{})
		if err := s.Load(makeTasks(5)); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		sink := &slowSink{delay: 20 * time.Millisecond}
		if err := s.Start(context.Background(), 5, sink); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		deadline := time.Now().Add(5 * time.Second)
		for s.IsRunning() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		waitRun(t, s)

		// started + 5 x (running, failed) + completed
		if got := len(sink.all()); got != 12 {
			t.Fatalf("events delivered when Wait returned = %d, want 12", got)
		}
	})

	t.Run("empty queue", func(t *testing.T) {
		s := NewScheduler(client, SchedulerConfig{})
		sink := &slowSink{delay: 20 * time.Millisecond}
		if err := s.Start(context.Background(), 1, sink); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		waitRun(t, s)
		if states := sink.states(); len(states) != 1 || states[0] != RunCompleted {
			t.Fatalf("states = %v, want [completed]", states)
		}
	})

	t.Run("never started", func(t *testing.T) {
		s := NewScheduler(client, SchedulerConfig{})
		waitRun(t, s)
	})
}
