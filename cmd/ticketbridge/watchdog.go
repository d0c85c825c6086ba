package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/watchdog"
)

func NewWatchdogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchdog [-- serve flags]",
		Short: "Supervise the bridge and restart it after abnormal exits",
		Long:  "Runs `serve` as a child process. Clean exits stop the watchdog; abnormal exits are restarted with a delay that grows once the restart budget for the window is spent.",
		RunE: func(_ *cobra.Command, args []string) error {
			return runWatchdog(args)
		},
	}

	return cmd
}

func runWatchdog(serveArgs []string) error {
	cfg, logger, err := bootstrap("watchdog")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	history, err := watchdog.OpenHistory(cfg.Watchdog.HistoryFile, cfg.Watchdog.Window, time.Now())
	if err != nil {
		return fmt.Errorf("open restart history: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher := watchdog.ExecLauncher{
		Path: exe,
		Args: append([]string{"serve"}, serveArgs...),
		Env:  os.Environ(),
	}
	supervisor := watchdog.NewSupervisor(launcher, history, watchdog.Options{
		InitialDelay:  cfg.Watchdog.InitialDelay,
		MaxDelay:      cfg.Watchdog.MaxDelay,
		RestartBudget: cfg.Watchdog.RestartBudget,
		Window:        cfg.Watchdog.Window,
		GracePeriod:   cfg.Watchdog.GracePeriod,
	}, logger)

	logger.Info("watchdog started",
		zap.String("child", exe),
		zap.Int("restarts_in_window", len(history.Entries())))
	return supervisor.Run(ctx)
}
