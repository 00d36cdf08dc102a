package connect

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/logging"
)

type reconnectPhase int

const (
	phaseIdle reconnectPhase = iota
	phaseScheduled
	phaseAttempting
	phaseGaveUp
)

// Reconnector schedules renegotiation attempts with exponential backoff.
// The attempt counter survives individual failures and only resets on a
// confirmed connection or an explicit cancel, so a flapping link cannot
// retry forever: after MaxReconnectAttempts the machine parks in a gave-up
// phase and waits for manual action.
type Reconnector struct {
	clock   clockwork.Clock
	logger  logging.LeveledLogger
	attempt func(ctx context.Context) error

	onScheduled func(attempt int, delay time.Duration)
	onGaveUp    func()
	onCanceled  func()

	mux      sync.Mutex
	phase    reconnectPhase
	attempts int
	timer    clockwork.Timer
	ctx      context.Context
}

type ReconnectorOption = func(*Reconnector) error

// WithClock swaps the wall clock, so backoff schedules can run against a
// fake clock.
func WithClock(clock clockwork.Clock) ReconnectorOption {
	return func(reconnector *Reconnector) error {
		reconnector.clock = clock
		return nil
	}
}

func WithScheduledCallback(fn func(attempt int, delay time.Duration)) ReconnectorOption {
	return func(reconnector *Reconnector) error {
		reconnector.onScheduled = fn
		return nil
	}
}

func WithGaveUpCallback(fn func()) ReconnectorOption {
	return func(reconnector *Reconnector) error {
		reconnector.onGaveUp = fn
		return nil
	}
}

func WithCanceledCallback(fn func()) ReconnectorOption {
	return func(reconnector *Reconnector) error {
		reconnector.onCanceled = fn
		return nil
	}
}

// CreateReconnector builds the machine around an attempt callback that
// performs one full renegotiation. The callback runs off the caller's
// goroutine when a backoff timer fires.
func CreateReconnector(ctx context.Context, loggerFactory logging.LoggerFactory, attempt func(ctx context.Context) error, options ...ReconnectorOption) (*Reconnector, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	reconnector := &Reconnector{
		clock:   clockwork.NewRealClock(),
		logger:  loggerFactory.NewLogger("reconnect"),
		attempt: attempt,
		ctx:     ctx,
	}

	for _, option := range options {
		if err := option(reconnector); err != nil {
			return nil, err
		}
	}

	return reconnector, nil
}

// Start reports a lost connection and schedules the next attempt. While a
// cycle is already in flight (scheduled, attempting, or given up) further
// Start calls are ignored, so repeated failure events collapse into one
// backoff schedule.
func (reconnector *Reconnector) Start() {
	reconnector.mux.Lock()
	defer reconnector.mux.Unlock()

	if reconnector.phase != phaseIdle {
		return
	}
	reconnector.schedule()
}

// ReconnectNow runs an attempt immediately, skipping any pending backoff
// delay. It does not reset the attempt counter: a manual retry that fails
// re-enters the schedule where it left off, and the ceiling still applies.
func (reconnector *Reconnector) ReconnectNow() {
	reconnector.mux.Lock()
	if reconnector.phase == phaseAttempting {
		reconnector.mux.Unlock()
		return
	}
	reconnector.stopTimer()
	reconnector.phase = phaseAttempting
	reconnector.mux.Unlock()

	reconnector.runAttempt()
}

// Cancel abandons the current cycle and resets the attempt counter.
func (reconnector *Reconnector) Cancel() {
	reconnector.mux.Lock()
	reconnector.stopTimer()
	wasActive := reconnector.phase != phaseIdle
	reconnector.phase = phaseIdle
	reconnector.attempts = 0
	onCanceled := reconnector.onCanceled
	reconnector.mux.Unlock()

	if wasActive && onCanceled != nil {
		onCanceled()
	}
}

// NotifyConnected reports a confirmed connection, ending the cycle and
// resetting the counter so the next outage starts the schedule from the top.
func (reconnector *Reconnector) NotifyConnected() {
	reconnector.mux.Lock()
	defer reconnector.mux.Unlock()

	reconnector.stopTimer()
	reconnector.phase = phaseIdle
	reconnector.attempts = 0
}

// Attempts returns how many attempts the current cycle has consumed.
func (reconnector *Reconnector) Attempts() int {
	reconnector.mux.Lock()
	defer reconnector.mux.Unlock()
	return reconnector.attempts
}

// GaveUp reports whether the machine exhausted its attempts.
func (reconnector *Reconnector) GaveUp() bool {
	reconnector.mux.Lock()
	defer reconnector.mux.Unlock()
	return reconnector.phase == phaseGaveUp
}

// schedule arms the next backoff timer. Callers must hold the mutex.
func (reconnector *Reconnector) schedule() {
	if reconnector.attempts >= MaxReconnectAttempts {
		reconnector.phase = phaseGaveUp
		reconnector.logger.Errorf("reconnect failed after %d attempts; giving up", reconnector.attempts)
		if reconnector.onGaveUp != nil {
			reconnector.onGaveUp()
		}
		return
	}

	reconnector.attempts++
	delay := backoffDelay(reconnector.attempts)
	reconnector.phase = phaseScheduled

	reconnector.logger.Infof("reconnect attempt %d scheduled in %s", reconnector.attempts, delay)
	if reconnector.onScheduled != nil {
		reconnector.onScheduled(reconnector.attempts, delay)
	}

	reconnector.timer = reconnector.clock.AfterFunc(delay, func() {
		reconnector.mux.Lock()
		if reconnector.phase != phaseScheduled {
			reconnector.mux.Unlock()
			return
		}
		reconnector.phase = phaseAttempting
		reconnector.mux.Unlock()

		reconnector.runAttempt()
	})
}

func (reconnector *Reconnector) runAttempt() {
	err := reconnector.attempt(reconnector.ctx)

	reconnector.mux.Lock()
	defer reconnector.mux.Unlock()

	// Cancel or NotifyConnected raced the attempt; their outcome wins.
	if reconnector.phase != phaseAttempting {
		return
	}

	if err != nil {
		reconnector.logger.Warnf("reconnect attempt %d failed: %v", reconnector.attempts, err)
		reconnector.schedule()
		return
	}

	// Renegotiation completed; the connection confirms (or fails) through
	// the health monitor from here.
	reconnector.phase = phaseIdle
}

func (reconnector *Reconnector) stopTimer() {
	if reconnector.timer != nil {
		reconnector.timer.Stop()
		reconnector.timer = nil
	}
}

// backoffDelay returns min(MaxReconnectDelay, 2^attempt * BaseReconnectDelay),
// giving the sequence 2s, 4s, 8s, 16s, 30s.
func backoffDelay(attempt int) time.Duration {
	delay := BaseReconnectDelay << attempt
	if delay > MaxReconnectDelay {
		return MaxReconnectDelay
	}
	return delay
}
