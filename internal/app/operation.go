package app

import (
	"time"

	"crepo/internal/cr"
)

// Operation records one CLI command run against the repository. Its ID tags
// every log line the command produces.
type Operation struct {
	ID      string
	Name    string
	Started time.Time
	Ended   time.Time
	Err     error
}

// NewOperation starts an operation. The ID is the UTC start time, which keeps
// log lines from one run grouped and sortable.
func NewOperation(name string, clock cr.Clock) *Operation {
	now := clock.Now().UTC()
	return &Operation{
		ID:      now.Format("20060102T150405Z"),
		Name:    name,
		Started: now,
	}
}

// Finish marks the operation complete. Only the first call has an effect.
func (op *Operation) Finish(clock cr.Clock, err error) {
	if !op.Ended.IsZero() {
		return
	}
	op.Ended = clock.Now().UTC()
	op.Err = err
}

// Status is "running", "success" or "error".
func (op *Operation) Status() string {
	switch {
	case op.Ended.IsZero():
		return "running"
	case op.Err != nil:
		return "error"
	}
	return "success"
}

func (op *Operation) Duration() time.Duration {
	if op.Ended.IsZero() {
		return 0
	}
	return op.Ended.Sub(op.Started)
}
