// Package worker hosts background jobs that run alongside the bridge.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/repository"
)

const archiveBatchSize = 50

// Archiver turns a closed ticket into a transcript.
type Archiver interface {
	ArchiveTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)
}

// ArchiveWorker periodically archives tickets that have been closed for
// longer than the configured age.
type ArchiveWorker struct {
	tickets  repository.TicketRepository
	archiver Archiver
	cfg      config.ArchiveConfig
	logger   *zap.Logger
	now      func() time.Time
}

// ArchiveDependencies bundles collaborators for the worker.
type ArchiveDependencies struct {
	TicketRepo repository.TicketRepository
	Archiver   Archiver
	Config     config.ArchiveConfig
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewArchiveWorker validates the cron schedule and builds the worker.
func NewArchiveWorker(deps ArchiveDependencies) (*ArchiveWorker, error) {
	if !gronx.New().IsValid(deps.Config.Schedule) {
		return nil, fmt.Errorf("invalid ARCHIVE_SCHEDULE %q", deps.Config.Schedule)
	}
	if deps.Config.After <= 0 {
		return nil, errors.New("ARCHIVE_AFTER must be positive")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ArchiveWorker{
		tickets:  deps.TicketRepo,
		archiver: deps.Archiver,
		cfg:      deps.Config,
		logger:   deps.Logger.Named("archive"),
		now:      deps.Now,
	}, nil
}

// Run sweeps on every schedule tick until ctx is done.
func (w *ArchiveWorker) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTickAfter(w.cfg.Schedule, w.now(), false)
		if err != nil {
			return fmt.Errorf("next archive tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := w.Sweep(ctx); err != nil {
			w.logger.Warn("archive sweep failed", zap.Error(err))
		}
	}
}

// Sweep archives closed tickets older than the cutoff, one batch at a
// time. Individual failures are logged and skipped.
func (w *ArchiveWorker) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.cfg.After)
	archived := 0
	skipped := make(map[string]bool)

	for {
		limit := archiveBatchSize + len(skipped)
		batch, err := w.tickets.ListClosedBefore(ctx, cutoff, limit)
		if err != nil {
			return archived, err
		}
		progressed := false
		for _, t := range batch {
			if skipped[t.ID] {
				continue
			}
			if _, err := w.archiver.ArchiveTicket(ctx, t.ID); err != nil {
				skipped[t.ID] = true
				w.logger.Warn("archive ticket failed", zap.String("ticket_id", t.ID), zap.Error(err))
				continue
			}
			archived++
			progressed = true
		}
		if !progressed || len(batch) < limit {
			break
		}
	}

	if archived > 0 {
		w.logger.Info("closed tickets archived", zap.Int("count", archived), zap.Time("cutoff", cutoff))
	}
	return archived, nil
}
