package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType distinguishes task updates from run state changes.
type EventType string

const (
	EventTaskUpdate EventType = "task_update"
	EventRunState   EventType = "run_state"
)

// RunState is the state announced by an EventRunState event.
type RunState string

const (
	RunStarted   RunState = "started"
	RunPaused    RunState = "paused"
	RunCompleted RunState = "completed"
)

// Counts summarizes a queue by status.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Done is the number of tasks in a terminal state.
func (c Counts) Done() int { return c.Completed + c.Failed }

// Event is delivered to an EventSink. Task is a snapshot and may be retained.
type Event struct {
	Type   EventType `json:"type"`
	Task   *Task     `json:"task,omitempty"`
	State  RunState  `json:"state,omitempty"`
	Counts *Counts   `json:"counts,omitempty"`
	Time   time.Time `json:"time"`
}

// EventSink receives scheduler events.
// Implementations must be safe for concurrent use and should not block.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// ChanSink sends events to a channel, dropping them when it is full.
type ChanSink struct {
	ch chan<- Event
}

// NewChanSink creates a sink that sends to ch. ch should be buffered.
func NewChanSink(ch chan<- Event) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit implements EventSink.
func (s *ChanSink) Emit(ctx context.Context, e Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans events out to several sinks in order.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a fan-out sink. Nil sinks are skipped.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit implements EventSink.
func (s *MultiSink) Emit(ctx context.Context, e Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink adapts a function to EventSink.
type CallbackSink struct {
	fn func(Event)
}

// NewCallbackSink wraps fn.
func NewCallbackSink(fn func(Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit implements EventSink.
func (s *CallbackSink) Emit(_ context.Context, e Event) {
	if s.fn != nil {
		s.fn(e)
	}
}

// NopSink discards events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(context.Context, Event) {}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging to logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements EventSink.
func (s *LogSink) Emit(ctx context.Context, e Event) {
	switch e.Type {
	case EventRunState:
		attrs := []any{"state", e.State}
		if e.Counts != nil {
			attrs = append(attrs, "completed", e.Counts.Completed, "failed", e.Counts.Failed, "total", e.Counts.Total)
		}
		s.logger.InfoContext(ctx, "run state changed", attrs...)
	case EventTaskUpdate:
		if e.Task == nil {
			return
		}
		level := slog.LevelDebug
		if e.Task.Status == StatusFailed {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "task updated",
			"task_id", e.Task.ID,
			"model", e.Task.Model,
			"variation", e.Task.Variation.Label(),
			"instance", e.Task.InstanceIndex,
			"status", e.Task.Status,
			"progress", e.Task.Progress,
			"error", e.Task.Error,
		)
	}
}

// dispatcher delivers events to a sink from a single goroutine, preserving
// publish order. Publishing never blocks the scheduler.
type dispatcher struct {
	ctx    context.Context
	sink   EventSink
	logger *slog.Logger

	mu      sync.Mutex
	pending []Event
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

func newDispatcher(ctx context.Context, sink EventSink, logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		ctx:    ctx,
		sink:   sink,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) publish(e Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, e)
	d.mu.Unlock()
	d.wake()
}

// close stops accepting events; queued events are still delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wake()
}

func (d *dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		closed := d.closed
		d.mu.Unlock()

		for _, e := range batch {
			d.deliver(e)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.notify
	}
}

func (d *dispatcher) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event sink panicked", "event", e.Type, "panic", r)
		}
	}()
	d.sink.Emit(d.ctx, e)
}
