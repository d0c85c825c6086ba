package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/platform"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

// staffCommand applies one destination-side command to a ticket and returns
// the acknowledgement posted back into the channel. An empty
// acknowledgement means the transition notice covers it.
type staffCommand func(ctx context.Context, t *domain.Ticket, staffID string) (string, error)

func (m *Manager) staffCommands() map[string]staffCommand {
	return map[string]staffCommand{
		"claim": func(ctx context.Context, t *domain.Ticket, staffID string) (string, error) {
			_, err := m.machine.Claim(ctx, t.ID, staffID)
			return fmt.Sprintf("Ticket %s claimed by <@%s>.", t.ExternalKey, staffID), err
		},
		"unclaim": func(ctx context.Context, t *domain.Ticket, staffID string) (string, error) {
			_, err := m.machine.Unclaim(ctx, t.ID, staffID)
			return fmt.Sprintf("Ticket %s is unclaimed.", t.ExternalKey), err
		},
		"close": func(ctx context.Context, t *domain.Ticket, staffID string) (string, error) {
			_, err := m.machine.Close(ctx, t.ID, domain.StaffActor(staffID))
			return "", err
		},
		"closerequest": func(ctx context.Context, t *domain.Ticket, staffID string) (string, error) {
			_, err := m.machine.RequestClose(ctx, t.ID, domain.StaffActor(staffID))
			return "Close requested; waiting for the user to confirm.", err
		},
		"cancelclose": func(ctx context.Context, t *domain.Ticket, staffID string) (string, error) {
			_, err := m.machine.CancelClose(ctx, t.ID, domain.StaffActor(staffID))
			return "Close request withdrawn.", err
		},
		"archive": func(ctx context.Context, t *domain.Ticket, staffID string) (string, error) {
			_, err := m.machine.Archive(ctx, t.ID, domain.StaffActor(staffID))
			return fmt.Sprintf("Ticket %s archived to transcripts.", t.ExternalKey), err
		},
	}
}

// handleCommand runs a staff command. Unknown commands are not handled and
// fall through to relaying. Only datastore failures are returned, so the
// event is redelivered; rule violations are answered in the channel.
func (m *Manager) handleCommand(ctx context.Context, t *domain.Ticket, ev platform.InboundEvent) (bool, error) {
	cmd, ok := m.staffCommands()[ev.CommandHint.Name]
	if !ok {
		return false, nil
	}

	ack, err := cmd(ctx, t, ev.SourceUserID)
	if err != nil {
		m.logger.Info("staff command rejected",
			zap.String("ticket_id", t.ID),
			zap.String("command", ev.CommandHint.Name),
			zap.String("staff_id", ev.SourceUserID),
			zap.Error(err))
		if apperrors.IsCode(err, apperrors.CodePersistence) {
			return true, err
		}
		m.reply(ctx, domain.SideDestination, ev.ChannelRef, commandError(ev.CommandHint.Name, err))
		return true, nil
	}
	if ack != "" {
		m.reply(ctx, domain.SideDestination, ev.ChannelRef, ack)
	}
	return true, nil
}

func commandError(name string, err error) string {
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		return fmt.Sprintf("/%s failed.", name)
	}
	switch domainErr.Code {
	case apperrors.CodeInvalidTransition:
		return fmt.Sprintf("/%s is not possible: ticket is %v.", name, domainErr.Details["current_status"])
	case apperrors.CodeForbidden:
		return fmt.Sprintf("/%s refused: %s.", name, domainErr.Message)
	}
	return fmt.Sprintf("/%s failed: %s.", name, domainErr.Message)
}
