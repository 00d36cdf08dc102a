package connect

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type scheduleRecord struct {
	attempt int
	delay   time.Duration
}

type reconnectorHarness struct {
	reconnector *Reconnector
	attempts    *atomic.Int32
	scheduled   *[]scheduleRecord
	gaveUp      *atomic.Bool
	canceled    *atomic.Bool
}

func newReconnectorHarness(t *testing.T, clock clockwork.Clock, attemptErr error) *reconnectorHarness {
	t.Helper()

	var (
		attempts  atomic.Int32
		scheduled []scheduleRecord
		gaveUp    atomic.Bool
		canceled  atomic.Bool
	)

	reconnector, err := CreateReconnector(context.Background(), nil,
		func(context.Context) error {
			attempts.Add(1)
			return attemptErr
		},
		WithClock(clock),
		WithScheduledCallback(func(attempt int, delay time.Duration) {
			scheduled = append(scheduled, scheduleRecord{attempt: attempt, delay: delay})
		}),
		WithGaveUpCallback(func() { gaveUp.Store(true) }),
		WithCanceledCallback(func() { canceled.Store(true) }),
	)
	if err != nil {
		t.Fatalf("CreateReconnector failed: %v", err)
	}

	return &reconnectorHarness{
		reconnector: reconnector,
		attempts:    &attempts,
		scheduled:   &scheduled,
		gaveUp:      &gaveUp,
		canceled:    &canceled,
	}
}

func TestBackoffScheduleAndCeiling(t *testing.T) {
	h := newReconnectorHarness(t, clockwork.NewFakeClock(), errors.New("still down"))

	h.reconnector.Start()

	// Drive every pending attempt immediately; each failure re-enters the
	// schedule until the ceiling is reached.
	for i := 0; i < MaxReconnectAttempts; i++ {
		h.reconnector.ReconnectNow()
	}

	want := []scheduleRecord{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
	}
	got := *h.scheduled
	if len(got) != len(want) {
		t.Fatalf("scheduled %d attempts, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("schedule[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if !h.gaveUp.Load() {
		t.Error("expected the machine to give up after the final failure")
	}
	if !h.reconnector.GaveUp() {
		t.Error("GaveUp() = false after exhaustion")
	}
	if n := h.attempts.Load(); n != MaxReconnectAttempts {
		t.Errorf("ran %d attempts, want %d", n, MaxReconnectAttempts)
	}

	// Exhausted means parked: further failure reports change nothing.
	h.reconnector.Start()
	if n := h.attempts.Load(); n != MaxReconnectAttempts {
		t.Errorf("Start after give-up ran an attempt; count = %d", n)
	}
}

func TestBackoffTimerFiresAttempt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newReconnectorHarness(t, clock, errors.New("still down"))

	h.reconnector.Start()
	if n := h.attempts.Load(); n != 0 {
		t.Fatalf("attempt ran before the delay elapsed; count = %d", n)
	}

	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for h.attempts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer fired but no attempt ran")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCancelResetsCounter(t *testing.T) {
	h := newReconnectorHarness(t, clockwork.NewFakeClock(), errors.New("still down"))

	h.reconnector.Start()
	h.reconnector.ReconnectNow()
	h.reconnector.ReconnectNow()
	if n := h.reconnector.Attempts(); n != 3 {
		t.Fatalf("Attempts() = %d, want 3", n)
	}

	h.reconnector.Cancel()
	if !h.canceled.Load() {
		t.Error("cancel callback did not fire")
	}
	if n := h.reconnector.Attempts(); n != 0 {
		t.Errorf("Attempts() = %d after cancel, want 0", n)
	}

	// A later outage starts the schedule from the top.
	h.reconnector.Start()
	got := *h.scheduled
	last := got[len(got)-1]
	if last.attempt != 1 || last.delay != 2*time.Second {
		t.Errorf("first schedule after cancel = %+v, want attempt 1 in 2s", last)
	}
}

func TestNotifyConnectedEndsCycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newReconnectorHarness(t, clock, errors.New("still down"))

	h.reconnector.Start()
	h.reconnector.NotifyConnected()

	clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if n := h.attempts.Load(); n != 0 {
		t.Errorf("stopped timer still ran %d attempts", n)
	}
	if n := h.reconnector.Attempts(); n != 0 {
		t.Errorf("Attempts() = %d after NotifyConnected, want 0", n)
	}
}

func TestSuccessfulAttemptLeavesCycleToHealthEvents(t *testing.T) {
	h := newReconnectorHarness(t, clockwork.NewFakeClock(), nil)

	h.reconnector.Start()
	h.reconnector.ReconnectNow()

	if h.reconnector.GaveUp() {
		t.Error("successful attempt should not give up")
	}
	// One schedule entry from Start, none from the successful attempt.
	if got := len(*h.scheduled); got != 1 {
		t.Errorf("scheduled %d attempts, want 1", got)
	}

	// The next outage schedules from the top only after a confirmed
	// connection; without one the counter keeps its place.
	h.reconnector.Start()
	got := *h.scheduled
	last := got[len(got)-1]
	if last.attempt != 2 {
		t.Errorf("attempt after unconfirmed success = %d, want 2", last.attempt)
	}
}

func TestStartWhileScheduledIsIgnored(t *testing.T) {
	h := newReconnectorHarness(t, clockwork.NewFakeClock(), errors.New("still down"))

	h.reconnector.Start()
	h.reconnector.Start()
	h.reconnector.Start()

	if got := len(*h.scheduled); got != 1 {
		t.Errorf("scheduled %d attempts from repeated Start calls, want 1", got)
	}
}
