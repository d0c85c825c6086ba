package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/repository"
	"github.com/spec-kit/ticket-bridge/internal/ticket"
)

func NewCloseTicketCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close-ticket <ticket-id>",
		Short: "Force-close a ticket through the state machine",
		Long:  "Closes a ticket regardless of who claimed it. The running bridge sees the new status on the next message for that ticket; no notices are sent from here.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := closeTicket(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", t.ExternalKey, t.Status)
			return nil
		},
	}

	return cmd
}

func closeTicket(ticketID string) (*domain.Ticket, error) {
	cfg, logger, err := bootstrap("close-ticket")
	if err != nil {
		return nil, err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	if !store.postgres.Enabled() {
		return nil, errors.New("close-ticket needs POSTGRES_DSN: the in-memory store only lives inside serve")
	}

	categories, err := repository.LoadCategories(cfg.Bridge.CategoriesFile)
	if err != nil {
		return nil, err
	}

	machine := ticket.NewMachine(ticket.Dependencies{
		TicketRepo:   store.tickets,
		CategoryRepo: categories,
		Logger:       logger,
	})
	t, err := machine.ForceClose(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	logger.Info("ticket force-closed", zap.String("ticket_id", t.ID), zap.String("key", t.ExternalKey))
	return t, nil
}
