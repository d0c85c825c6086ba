// Package outage owns per-adapter availability and the reconnect policy.
package outage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/backoff"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

// ErrBudgetExceeded is wrapped into the fatal error raised when an adapter
// goes down more often than its budget allows.
var ErrBudgetExceeded = errors.New("transient failure budget exceeded")

// Connector is the part of an adapter the tracker drives.
type Connector interface {
	Name() string
	Connect(ctx context.Context) error
}

// Scheduler runs f after d and returns a function that cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

// Hooks are invoked outside the tracker lock.
type Hooks struct {
	// OnRecover fires on every unavailable -> available transition.
	OnRecover func(side domain.Side)
	// OnFatal fires once when the adapter becomes permanently unavailable.
	// Escalations wrap ErrBudgetExceeded.
	OnFatal func(side domain.Side, err error)
}

// Options parameterize a tracker.
type Options struct {
	ReconnectDelay time.Duration
	// ReconnectMaxDelay caps the doubling between failed attempts of one
	// outage. Below ReconnectDelay the delay stays fixed.
	ReconnectMaxDelay time.Duration
	ConnectTimeout    time.Duration
	TransientBudget   int
	TransientWindow   time.Duration
	Now               func() time.Time
	Schedule          Scheduler
}

// Tracker is the availability state machine for one adapter:
// connected -> reconnecting -> connected, or -> fatal.
type Tracker struct {
	side      domain.Side
	connector Connector
	policy    *backoff.Policy
	opts      Options
	hooks     Hooks
	logger    *zap.Logger

	mu    sync.Mutex
	state domain.AdapterState
	epoch uint64
	stop  func() bool
	ctx   context.Context
}

// NewTracker builds a tracker that starts out available, as a freshly
// started process assumes.
func NewTracker(side domain.Side, connector Connector, opts Options, hooks Hooks, logger *zap.Logger) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Schedule == nil {
		opts.Schedule = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		side:      side,
		connector: connector,
		policy:    backoff.New(opts.ReconnectDelay, opts.ReconnectMaxDelay, opts.TransientBudget, opts.TransientWindow),
		opts:      opts,
		hooks:     hooks,
		logger:    logger.Named("outage").With(zap.String("side", string(side)), zap.String("platform", connector.Name())),
		state:     domain.AdapterState{Side: side, Status: domain.ConnectionConnected, Available: true},
		ctx:       context.Background(),
	}
}

// Start performs the initial connect. ctx bounds every later reconnect
// attempt too. A failed initial connect is handled like any other failure.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	t.attempt()
}

// Stop cancels a pending reconnect.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelTimerLocked()
}

// Side returns the side this tracker guards.
func (t *Tracker) Side() domain.Side { return t.side }

// Available reports whether sends should be attempted.
func (t *Tracker) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Available
}

// Epoch increments on every available -> unavailable transition, so
// callers can do things once per outage.
func (t *Tracker) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// State returns a snapshot.
func (t *Tracker) State() domain.AdapterState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	if s.LastFailureAt != nil {
		at := *s.LastFailureAt
		s.LastFailureAt = &at
	}
	if s.NextRetryAt != nil {
		at := *s.NextRetryAt
		s.NextRetryAt = &at
	}
	return s
}

// ReportFailure records a failed send, a send timeout or a lifecycle
// disconnect. Failures reported while already reconnecting are ignored;
// concurrent in-flight sends failing together are one outage.
func (t *Tracker) ReportFailure(err error) {
	t.mu.Lock()
	if !t.state.Available {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.recordFailure(err)
}

// MarkConnected records an observed successful connection.
func (t *Tracker) MarkConnected() {
	t.mu.Lock()
	if t.state.Status == domain.ConnectionFatal {
		t.mu.Unlock()
		return
	}
	recovered := !t.state.Available
	t.cancelTimerLocked()
	t.state.Status = domain.ConnectionConnected
	t.state.Available = true
	t.state.ConsecutiveFailures = 0
	t.state.NextRetryAt = nil
	t.state.LastError = ""
	t.mu.Unlock()

	if recovered {
		t.logger.Info("adapter recovered")
		if t.hooks.OnRecover != nil {
			t.hooks.OnRecover(t.side)
		}
	}
}

func (t *Tracker) attempt() {
	t.mu.Lock()
	ctx := t.ctx
	t.stop = nil
	fatal := t.state.Status == domain.ConnectionFatal
	t.mu.Unlock()
	if fatal || ctx.Err() != nil {
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	err := t.connector.Connect(connectCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.recordFailure(err)
		return
	}
	t.MarkConnected()
}

func (t *Tracker) recordFailure(err error) {
	now := t.opts.Now()

	t.mu.Lock()
	if t.state.Status == domain.ConnectionFatal {
		t.mu.Unlock()
		return
	}
	newOutage := t.state.Available
	if newOutage {
		t.epoch++
	}
	t.state.Available = false
	t.state.ConsecutiveFailures++
	t.state.LastFailureAt = &now
	if err != nil {
		t.state.LastError = err.Error()
	}

	var fatalErr error
	switch {
	case apperrors.IsFatal(err):
		fatalErr = err
	case newOutage:
		// Only the failure that starts an outage counts toward the budget;
		// retries of the same outage back off instead.
		if decision := t.policy.Record(now); decision.Exceeded {
			fatalErr = apperrors.NewEscalatedPlatformError(t.connector.Name(),
				fmt.Errorf("%d outages within %s: %w", decision.Count, t.policy.Window(), ErrBudgetExceeded))
		}
	}

	if fatalErr != nil {
		t.cancelTimerLocked()
		t.state.Status = domain.ConnectionFatal
		t.state.NextRetryAt = nil
		t.state.LastError = fatalErr.Error()
		t.mu.Unlock()

		t.logger.Error("adapter permanently unavailable", zap.Error(fatalErr))
		if t.hooks.OnFatal != nil {
			t.hooks.OnFatal(t.side, fatalErr)
		}
		return
	}

	attempt := t.state.ConsecutiveFailures
	delay := t.policy.Attempt(attempt)
	next := now.Add(delay)
	t.state.Status = domain.ConnectionReconnecting
	t.state.NextRetryAt = &next
	t.cancelTimerLocked()
	t.stop = t.opts.Schedule(delay, t.attempt)
	t.mu.Unlock()

	t.logger.Warn("adapter unavailable, reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Int("outages_in_window", t.policy.Count(now)),
		zap.Duration("delay", delay),
		zap.Error(err))
}

func (t *Tracker) cancelTimerLocked() {
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}
