package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/haasonsaas/vibelab/internal/queue"
)

// progressPrinter renders scheduler events for a human. On a terminal it
// redraws a single status line; otherwise it prints one line per finished
// task.
type progressPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	tty    bool
	width  int
	counts queue.Counts
	start  time.Time
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	p := &progressPrinter{out: out, width: 80}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			p.width = w
		}
	}
	return p
}

// Emit implements queue.EventSink.
func (p *progressPrinter) Emit(_ context.Context, e queue.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case queue.EventRunState:
		if e.Counts != nil {
			p.counts = *e.Counts
		}
		switch e.State {
		case queue.RunStarted:
			p.start = time.Now()
			fmt.Fprintf(p.out, "Running %d tasks (%d pending)\n", p.counts.Total, p.counts.Pending)
		default:
			if p.tty {
				fmt.Fprint(p.out, "\r\033[K")
			}
			fmt.Fprintf(p.out, "Run %s: %d completed, %d failed, %d pending (%s)\n",
				e.State, p.counts.Completed, p.counts.Failed, p.counts.Pending,
				time.Since(p.start).Round(time.Millisecond))
		}
	case queue.EventTaskUpdate:
		t := e.Task
		if t == nil || !t.Status.IsTerminal() {
			return
		}
		if t.Status == queue.StatusCompleted {
			p.counts.Completed++
		} else {
			p.counts.Failed++
		}
		if p.counts.Pending > 0 {
			p.counts.Pending--
		}
		if p.tty {
			p.redraw(t)
			return
		}
		fmt.Fprintf(p.out, "[%d/%d] %s\n", p.counts.Done(), p.counts.Total, describeTask(t))
	}
}

func (p *progressPrinter) redraw(t *queue.Task) {
	const barWidth = 24
	filled := 0
	if p.counts.Total > 0 {
		filled = barWidth * p.counts.Done() / p.counts.Total
	}
	bar := strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)
	line := fmt.Sprintf("[%s] %d/%d ok=%d failed=%d  %s",
		bar, p.counts.Done(), p.counts.Total, p.counts.Completed, p.counts.Failed, describeTask(t))
	if len(line) > p.width-1 {
		line = line[:p.width-1]
	}
	fmt.Fprintf(p.out, "\r\033[K%s", line)
}

func describeTask(t *queue.Task) string {
	desc := fmt.Sprintf("%s %s %s #%d", t.Status, t.Model, t.Variation.Label(), t.InstanceIndex)
	if d := t.Duration(); d > 0 {
		desc += fmt.Sprintf(" (%s)", d.Round(10*time.Millisecond))
	}
	if t.Status == queue.StatusFailed && t.Error != "" {
		desc += ": " + t.Error
	}
	return desc
}
