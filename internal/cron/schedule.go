package cron

import (
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/haasonsaas/vibelab/internal/config"
)

// Schedule is a parsed cron expression bound to a time zone.
type Schedule struct {
	Expr     string
	Timezone string

	spec robfig.Schedule
	loc  *time.Location
}

// NewSchedule parses expr. An empty timezone uses the clock's zone.
func NewSchedule(expr, timezone string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression is required")
	}
	spec, err := config.CronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	sched := Schedule{Expr: expr, Timezone: strings.TrimSpace(timezone), spec: spec}
	if sched.Timezone != "" {
		loc, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid timezone: %w", err)
		}
		sched.loc = loc
	}
	return sched, nil
}

// Next returns the first activation strictly after now, or false when the
// expression never fires again.
func (s Schedule) Next(now time.Time) (time.Time, bool) {
	if s.spec == nil {
		return time.Time{}, false
	}
	if s.loc != nil {
		now = now.In(s.loc)
	}
	next := s.spec.Next(now)
	return next, !next.IsZero()
}
