package testutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeClockSleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	c.Sleep(time.Second)
	c.Advance(2 * time.Second)

	if got := c.Now().Sub(start); got != 3*time.Second {
		t.Errorf("expected clock to advance 3s, got %v", got)
	}
	if sleeps := c.Sleeps(); len(sleeps) != 1 || sleeps[0] != time.Second {
		t.Errorf("unexpected recorded sleeps: %v", sleeps)
	}
}

func TestFixedRand(t *testing.T) {
	r := FixedRand{Index: 4, Float: 0.25}
	if got := r.IntN(3); got != 1 {
		t.Errorf("IntN(3) = %d, want 1", got)
	}
	if got := r.IntN(0); got != 0 {
		t.Errorf("IntN(0) = %d, want 0", got)
	}
	if got := r.Float64(); got != 0.25 {
		t.Errorf("Float64() = %v, want 0.25", got)
	}
}

func TestRecordingMessenger(t *testing.T) {
	m := &RecordingMessenger{Err: errors.New("boom")}
	if err := m.Send(context.Background(), "alice", "alice: hi"); err == nil {
		t.Error("expected configured error")
	}
	sent := m.Sent()
	if len(sent) != 1 || sent[0].To != "alice" || sent[0].Body != "alice: hi" {
		t.Errorf("unexpected sent messages: %+v", sent)
	}
	m.Reset()
	if len(m.Sent()) != 0 {
		t.Error("expected Reset to drop messages")
	}
}
