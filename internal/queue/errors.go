package queue

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRunning is returned by operations that require an idle scheduler.
	ErrRunning = errors.New("scheduler is running")

	// ErrNoSVG is the failure recorded when a response holds no SVG markup.
	ErrNoSVG = errors.New("no SVG found in response")
)

// TimeoutError reports a generation call that exceeded the task timeout.
type TimeoutError struct {
	After time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("generation timed out after %s", e.After)
}

// Timeout lets callers detect the error with a net.Error-style check.
func (e *TimeoutError) Timeout() bool { return true }
