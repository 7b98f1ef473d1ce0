package app

import (
	"errors"
	"testing"
	"time"

	"crepo/internal/testutil"
)

func TestOperation(t *testing.T) {
	clock := testutil.FixedClock()
	op := NewOperation("db upgrade", clock)

	if op.ID != "20240115T103000Z" {
		t.Errorf("ID = %q, want %q", op.ID, "20240115T103000Z")
	}
	if op.Status() != "running" || op.Duration() != 0 {
		t.Errorf("new operation: status %q duration %v", op.Status(), op.Duration())
	}

	clock.Advance(3 * time.Second)
	op.Finish(clock, nil)
	if op.Status() != "success" {
		t.Errorf("Status() = %q, want success", op.Status())
	}
	if op.Duration() != 3*time.Second {
		t.Errorf("Duration() = %v, want 3s", op.Duration())
	}

	clock.Advance(time.Minute)
	op.Finish(clock, errors.New("late"))
	if op.Status() != "success" || op.Duration() != 3*time.Second {
		t.Error("second Finish() changed the recorded outcome")
	}
}

func TestOperation_Error(t *testing.T) {
	clock := testutil.FixedClock()
	op := NewOperation("backup run", clock)
	op.Finish(clock, errors.New("archive unreachable"))
	if op.Status() != "error" {
		t.Errorf("Status() = %q, want error", op.Status())
	}
}
