// Package watchdog supervises the bridge process: it restarts abnormal
// exits with graduated backoff and keeps the restart history on disk so
// the budget survives its own restarts.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/backoff"
)

// Options tune the supervisor.
type Options struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	RestartBudget  int
	Window         time.Duration
	GracePeriod    time.Duration
	ShutdownSignal os.Signal
	Now            func() time.Time
	// Sleep waits d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Supervisor runs one child at a time.
type Supervisor struct {
	launcher Launcher
	history  *History
	policy   *backoff.Policy
	opts     Options
	logger   *zap.Logger
}

// NewSupervisor builds a supervisor whose budget is seeded from history.
func NewSupervisor(launcher Launcher, history *History, opts Options, logger *zap.Logger) *Supervisor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.ShutdownSignal == nil {
		opts.ShutdownSignal = syscall.SIGTERM
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := backoff.New(opts.InitialDelay, opts.MaxDelay, opts.RestartBudget, opts.Window)
	policy.Seed(history.Times())
	return &Supervisor{
		launcher: launcher,
		history:  history,
		policy:   policy,
		opts:     opts,
		logger:   logger.Named("watchdog"),
	}
}

// Run starts the child and restarts it after every abnormal exit. It
// returns nil when the child exits cleanly or ctx is cancelled; in the
// latter case the shutdown signal is forwarded and the child gets the
// grace period before it is killed.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		code, reason, err := s.runOnce(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopped", zap.Int("exit_code", code))
			return nil
		}
		if code == 0 {
			s.logger.Info("child exited cleanly; not restarting")
			return nil
		}

		now := s.opts.Now()
		if err := s.history.Append(Restart{At: now, Reason: reason, ExitCode: code}); err != nil {
			s.logger.Warn("restart history not persisted", zap.Error(err))
		}
		decision := s.policy.Record(now)
		s.logger.Warn("child exited abnormally; restart scheduled",
			zap.Int("exit_code", code),
			zap.String("reason", reason),
			zap.Int("restarts_in_window", decision.Count),
			zap.Bool("budget_exceeded", decision.Exceeded),
			zap.Duration("delay", decision.Delay))

		if err := s.opts.Sleep(ctx, decision.Delay); err != nil {
			return nil
		}
	}
}

// runOnce starts one child and waits for it. A child that cannot be
// spawned counts as an abnormal exit.
func (s *Supervisor) runOnce(ctx context.Context) (int, string, error) {
	proc, err := s.launcher.Start(ctx)
	if err != nil {
		return -1, "spawn failed: " + err.Error(), nil
	}
	s.logger.Info("child started")

	type exit struct {
		code int
		err  error
	}
	done := make(chan exit, 1)
	go func() {
		code, err := proc.Wait()
		done <- exit{code: code, err: err}
	}()

	select {
	case res := <-done:
		return res.code, describeExit(res.code, res.err), nil
	case <-ctx.Done():
	}

	s.logger.Info("forwarding shutdown to child", zap.Duration("grace_period", s.opts.GracePeriod))
	if err := proc.Signal(s.opts.ShutdownSignal); err != nil {
		s.logger.Warn("signal child failed", zap.Error(err))
	}
	timer := time.NewTimer(s.opts.GracePeriod)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.code, describeExit(res.code, res.err), nil
	case <-timer.C:
	}

	s.logger.Warn("child ignored shutdown; killing")
	if err := proc.Kill(); err != nil {
		return -1, "", fmt.Errorf("kill child: %w", err)
	}
	res := <-done
	return res.code, describeExit(res.code, res.err), nil
}

func describeExit(code int, err error) string {
	switch {
	case err != nil:
		return "wait failed: " + err.Error()
	case code < 0:
		return "killed by signal"
	}
	return fmt.Sprintf("exit code %d", code)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
