package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/vibelab/internal/experiments"
	"github.com/haasonsaas/vibelab/internal/generation"
	"github.com/haasonsaas/vibelab/internal/observability"
	"github.com/haasonsaas/vibelab/internal/svg"
)

// SchedulerConfig configures the generation scheduler.
type SchedulerConfig struct {
	// TaskTimeout bounds a single generation call. Zero disables the bound.
	TaskTimeout time.Duration

	// PromptType is sent with every request. Defaults to "svg".
	PromptType string

	// MaxTokens is sent with every request when positive.
	MaxTokens int

	// Logger for scheduler events.
	Logger *slog.Logger

	// Metrics and Tracer are optional.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Scheduler runs a queue of tasks against a generation client, keeping at
// most the run's concurrency limit of tasks in flight. Admission is FIFO in
// queue order. Pausing stops admission but lets in-flight tasks finish.
//
// All task state is owned by the scheduler and guarded by mu; readers get
// snapshots.
type Scheduler struct {
	client generation.Client
	config SchedulerConfig
	logger *slog.Logger

	mu     sync.Mutex
	tasks  []*Task
	byID   map[string]*Task
	cursor int

	running  bool
	paused   bool
	slots    []string
	inFlight int
	run      *run
	// lastDone is closed once the most recent run has ended and all of its
	// events were delivered.
	lastDone chan struct{}
}

// run is the state of one Start..settle cycle.
type run struct {
	ctx    context.Context
	events *dispatcher
	stop   func() bool
	done   chan struct{}
}

// NewScheduler creates a scheduler that calls client for every task.
func NewScheduler(client generation.Client, config SchedulerConfig) *Scheduler {
	if config.PromptType == "" {
		config.PromptType = generation.DefaultPromptType
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "queue-scheduler")
	}
	return &Scheduler{
		client: client,
		config: config,
		logger: logger,
		byID:   make(map[string]*Task),
	}
}

// Load replaces the queue. The scheduler keeps its own copies of tasks.
func (s *Scheduler) Load(tasks []*Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.replaceLocked(tasks)
	return nil
}

func (s *Scheduler) replaceLocked(tasks []*Task) {
	s.tasks = make([]*Task, 0, len(tasks))
	s.byID = make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		c := t.Clone()
		s.tasks = append(s.tasks, c)
		s.byID[c.ID] = c
	}
	s.cursor = 0
	s.updatePendingLocked()
}

// LoadDefinition builds a queue from def and loads it.
func (s *Scheduler) LoadDefinition(def *experiments.Definition) ([]*Task, error) {
	tasks, err := Build(def)
	if err != nil {
		return nil, err
	}
	if err := s.Load(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Clear empties the queue. It fails while a run is active.
func (s *Scheduler) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.tasks = nil
	s.byID = make(map[string]*Task)
	s.cursor = 0
	s.updatePendingLocked()
	return nil
}

// Start begins processing pending tasks with at most limit in flight. Limits
// below 1 are treated as 1. Events are delivered to sink in publish order
// from a single goroutine.
//
// Start returns immediately. Calling it while a run is active does nothing.
// With no pending tasks the run completes at once. Canceling ctx pauses the
// run; in-flight generations are not interrupted.
func (s *Scheduler) Start(ctx context.Context, limit int, sink EventSink) error {
	if limit < 1 {
		limit = 1
	}
	if sink == nil {
		sink = NopSink{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("start ignored, run already active")
		return nil
	}

	r := &run{
		ctx:    context.WithoutCancel(ctx),
		events: newDispatcher(context.WithoutCancel(ctx), sink, s.logger),
		done:   make(chan struct{}),
	}
	s.run = r
	s.lastDone = r.done
	s.running = true
	s.paused = false
	s.slots = make([]string, limit)
	s.inFlight = 0
	s.cursor = 0

	if s.countLocked().Pending == 0 {
		s.logger.Info("no pending tasks")
		s.finishLocked(r, RunCompleted)
		return nil
	}

	s.logger.Info("starting run", "concurrency", limit, "pending", s.countLocked().Pending)
	s.publishStateLocked(r, RunStarted)
	r.stop = context.AfterFunc(ctx, func() { s.pauseRun(r) })
	s.admitLocked(r)
	return nil
}

// Pause stops admission. In-flight tasks finish normally and the run ends
// with a paused event once they have.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseLocked(s.run)
}

func (s *Scheduler) pauseRun(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseLocked(r)
}

func (s *Scheduler) pauseLocked(r *run) {
	if !s.running || s.paused || s.run != r {
		return
	}
	s.paused = true
	s.logger.Info("pausing run", "in_flight", s.inFlight)
	s.settleLocked(r)
}

// Wait blocks until the most recent run has ended and every event it
// published has been delivered to the sink. It returns at once if no run was
// ever started.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.lastDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a run is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot returns copies of all tasks in queue order.
func (s *Scheduler) Snapshot() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Task returns a copy of the task with id.
func (s *Scheduler) Task(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Counts summarizes the queue.
func (s *Scheduler) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

// Retry replaces the queue with fresh pending tasks, one per failed task,
// so the next run generates those combinations again. Finished tasks are
// never reopened. With nothing failed the queue is left as it is. It returns
// the number of tasks queued.
func (s *Scheduler) Retry() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return 0, ErrRunning
	}
	fresh := Requeue(s.tasks)
	if len(fresh) == 0 {
		return 0, nil
	}
	s.replaceLocked(fresh)
	return len(fresh), nil
}

func (s *Scheduler) admitLocked(r *run) {
	for !s.paused && s.inFlight < len(s.slots) {
		t := s.nextPendingLocked()
		if t == nil {
			return
		}
		s.startLocked(r, t)
	}
}

func (s *Scheduler) nextPendingLocked() *Task {
	for s.cursor < len(s.tasks) {
		t := s.tasks[s.cursor]
		s.cursor++
		if t.Status == StatusPending {
			return t
		}
	}
	return nil
}

func (s *Scheduler) startLocked(r *run, t *Task) {
	if t.Status != StatusPending {
		s.logger.Debug("ignoring non-pending task", "task_id", t.ID, "status", t.Status)
		return
	}
	slot := -1
	for i, id := range s.slots {
		if id == "" {
			slot = i
			break
		}
	}
	if slot < 0 {
		return
	}
	s.slots[slot] = t.ID
	s.inFlight++

	now := time.Now()
	t.Status = StatusRunning
	t.Progress = ProgressStarted
	t.StartedAt = &now
	t.FinishedAt = nil
	t.Error = ""
	t.Result = nil
	s.publishTaskLocked(r, t)

	if m := s.config.Metrics; m != nil {
		m.TaskStarted()
	}
	s.updatePendingLocked()

	go s.execute(r, t, slot)
}

// execute runs outside the lock. Only identity fields of t are read here.
func (s *Scheduler) execute(r *run, t *Task, slot int) {
	ctx := observability.WithTaskID(observability.WithExperimentID(r.ctx, t.ExperimentID), t.ID)
	ctx, span := s.config.Tracer.TraceTask(ctx, t.ID, t.Model, t.Variation.Label())
	defer span.End()

	s.logger.DebugContext(ctx, "generating", "model", t.Model, "variation", t.Variation.Label(), "instance", t.InstanceIndex)
	resp, pending, err := s.generate(ctx, s.request(t))
	s.config.Tracer.RecordError(span, err)

	s.mu.Lock()
	s.completeLocked(r, t, resp, err)
	s.mu.Unlock()

	// A call that outlived its timeout keeps the slot until it returns.
	if pending != nil {
		<-pending
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[slot] == t.ID {
		s.slots[slot] = ""
	}
	s.inFlight--
	s.admitLocked(r)
	s.settleLocked(r)
}

func (s *Scheduler) request(t *Task) *generation.Request {
	return &generation.Request{
		Model:        t.Model,
		Prompt:       t.EnhancedPrompt(),
		ExperimentID: t.ExperimentID,
		PromptType:   s.config.PromptType,
		MaxTokens:    s.config.MaxTokens,
		Metadata: map[string]any{
			"task_id":        t.ID,
			"prompt":         t.Prompt.Text,
			"variation":      t.Variation.Label(),
			"variation_type": t.Variation.Type,
			"instance":       t.InstanceIndex,
			"animated":       t.Animated,
		},
	}
}

// generate calls the client, converting panics to errors. With a task
// timeout the task fails at the deadline even when the client ignores its
// context; the returned channel is then non-nil and closes once the
// abandoned call has actually returned.
func (s *Scheduler) generate(ctx context.Context, req *generation.Request) (*generation.Response, <-chan struct{}, error) {
	timeout := s.config.TaskTimeout
	if timeout <= 0 {
		resp, err := s.call(ctx, req)
		return resp, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp *generation.Response
		err  error
	}
	ch := make(chan result, 1)
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		resp, err := s.call(ctx, req)
		ch <- result{resp: resp, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, &TimeoutError{After: timeout}
		}
		return res.resp, nil, res.err
	case <-ctx.Done():
		return nil, returned, &TimeoutError{After: timeout}
	}
}

func (s *Scheduler) call(ctx context.Context, req *generation.Request) (resp *generation.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	resp, err = s.client.Generate(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("generation returned no response")
	}
	return resp, err
}

func (s *Scheduler) completeLocked(r *run, t *Task, resp *generation.Response, err error) {
	now := time.Now()
	if err == nil {
		t.Progress = ProgressGenerated
		s.publishTaskLocked(r, t)

		if content, ok := svg.Extract(resp.Output); ok {
			t.Status = StatusCompleted
			t.Progress = ProgressDone
			t.FinishedAt = &now
			t.Result = &Result{
				RawResponse: resp.Output,
				SVGContent:  content,
				Timestamp:   now,
				DurationMS:  t.Duration().Milliseconds(),
				Provider:    resp.Provider,
				ServedModel: resp.Model,
			}
		} else {
			err = ErrNoSVG
		}
	}
	if err != nil {
		t.Status = StatusFailed
		t.Progress = ProgressDone
		t.FinishedAt = &now
		t.Error = err.Error()
		s.logger.Warn("task failed",
			"task_id", t.ID,
			"model", t.Model,
			"variation", t.Variation.Label(),
			"reason", generation.Classify(err),
			"error", err,
		)
	}
	s.publishTaskLocked(r, t)

	if m := s.config.Metrics; m != nil {
		m.TaskFinished(string(t.Status), t.Model, t.Variation.Label(), t.Duration())
	}
}

// settleLocked ends the run once nothing is in flight and either a pause was
// requested or nothing is left to admit.
func (s *Scheduler) settleLocked(r *run) {
	if s.run != r || s.inFlight > 0 {
		return
	}
	if s.paused {
		s.finishLocked(r, RunPaused)
		return
	}
	if s.countLocked().Pending > 0 {
		return
	}
	s.finishLocked(r, RunCompleted)
}

func (s *Scheduler) finishLocked(r *run, state RunState) {
	s.publishStateLocked(r, state)
	s.logger.Info("run ended", "state", state)

	s.running = false
	s.paused = false
	s.run = nil
	if r.stop != nil {
		r.stop()
	}
	r.events.close()
	go func() {
		<-r.events.done
		close(r.done)
	}()
}

func (s *Scheduler) publishTaskLocked(r *run, t *Task) {
	r.events.publish(Event{Type: EventTaskUpdate, Task: t.Clone(), Time: time.Now()})
}

func (s *Scheduler) publishStateLocked(r *run, state RunState) {
	counts := s.countLocked()
	r.events.publish(Event{Type: EventRunState, State: state, Counts: &counts, Time: time.Now()})
	if m := s.config.Metrics; m != nil {
		m.RunTransition(string(state))
	}
}

func (s *Scheduler) countLocked() Counts {
	return CountTasks(s.tasks)
}

// CountTasks summarizes tasks by status.
func CountTasks(tasks []*Task) Counts {
	c := Counts{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			c.Pending++
		case StatusRunning:
			c.Running++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

func (s *Scheduler) updatePendingLocked() {
	if m := s.config.Metrics; m != nil {
		m.SetPending(s.countLocked().Pending)
	}
}
