package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/repository"
)

type stubArchiver struct {
	tickets repository.TicketRepository
	fail    map[string]bool
	calls   []string
}

func (s *stubArchiver) ArchiveTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	s.calls = append(s.calls, ticketID)
	if s.fail[ticketID] {
		return nil, errors.New("channel move refused")
	}
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TicketStatusTranscript
	return t, s.tickets.UpdateStatus(ctx, t)
}

func closedTicket(t *testing.T, repo repository.TicketRepository, userID string, closedAt time.Time) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	tk := &domain.Ticket{ExternalKey: "TCK-" + userID, UserID: userID, CategoryID: "general", Status: domain.TicketStatusOpen}
	require.NoError(t, repo.Create(ctx, tk))
	tk.Status = domain.TicketStatusClosed
	tk.ClosedAt = &closedAt
	require.NoError(t, repo.UpdateStatus(ctx, tk))
	return tk
}

func TestNewArchiveWorkerRejectsBadSchedule(t *testing.T) {
	_, err := NewArchiveWorker(ArchiveDependencies{Config: config.ArchiveConfig{Schedule: "every hour", After: time.Hour}})
	require.Error(t, err)
}

func TestSweepArchivesOnlyOldClosedTickets(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	repo := store.Tickets()

	old := closedTicket(t, repo, "u1", now.Add(-48*time.Hour))
	broken := closedTicket(t, repo, "u2", now.Add(-30*time.Hour))
	recent := closedTicket(t, repo, "u3", now.Add(-time.Hour))

	archiver := &stubArchiver{tickets: repo, fail: map[string]bool{broken.ID: true}}
	w, err := NewArchiveWorker(ArchiveDependencies{
		TicketRepo: repo,
		Archiver:   archiver,
		Config:     config.ArchiveConfig{Enabled: true, Schedule: "0 * * * *", After: 24 * time.Hour},
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	archived, err := w.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, archived)
	require.ElementsMatch(t, []string{old.ID, broken.ID}, archiver.calls)

	got, err := repo.GetByID(context.Background(), recent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusClosed, got.Status)
}
