package ticket

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/events"
	"github.com/spec-kit/ticket-bridge/internal/repository"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

type fakeChannels struct {
	mu        sync.Mutex
	moves     map[string]string
	err       error
	deadlines []bool
	// entered and release, when set, hold MoveChannel until released.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeChannels) CreateChannel(context.Context, *domain.Ticket, *domain.Category) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeChannels) MoveChannel(ctx context.Context, channelRef, parent string) error {
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	if f.err != nil {
		return f.err
	}
	if f.moves == nil {
		f.moves = map[string]string{}
	}
	f.moves[channelRef] = parent
	return nil
}

// guardedTickets counts creates the store had to refuse because the user
// already had a live ticket.
type guardedTickets struct {
	repository.TicketRepository
	refused atomic.Int32
}

func (g *guardedTickets) Create(ctx context.Context, ticket *domain.Ticket) error {
	err := g.TicketRepository.Create(ctx, ticket)
	if errors.Is(err, repository.ErrLiveTicketExists) {
		g.refused.Add(1)
	}
	return err
}

type fixture struct {
	store      *repository.MemoryStore
	tickets    *guardedTickets
	channels   *fakeChannels
	dispatcher events.Dispatcher
	machine    *Machine
	changes    atomic.Int32
	closes     atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	f := &fixture{
		store:    store,
		tickets:  &guardedTickets{TicketRepository: store.Tickets()},
		channels: &fakeChannels{},
	}
	dispatcher := events.NewInMemoryDispatcher(nil)
	f.dispatcher = dispatcher
	dispatcher.Subscribe(events.EventTicketStatusChanged, func(_ context.Context, e events.Event) error {
		f.changes.Add(1)
		if e.Payload.(events.TicketStatusChangedPayload).NewStatus == domain.TicketStatusClosed {
			f.closes.Add(1)
		}
		return nil
	})
	f.machine = NewMachine(Dependencies{
		TicketRepo: f.tickets,
		CategoryRepo: repository.NewStaticCategories(domain.Category{
			ID:                  "general",
			Name:                "General",
			ParentRef:           "cat-open",
			TranscriptParentRef: "cat-transcripts",
		}),
		Channels:   f.channels,
		Dispatcher: dispatcher,
	})
	return f
}

func (f *fixture) open(t *testing.T, userID string) *domain.Ticket {
	t.Helper()
	ticket, created, err := f.machine.ResolveOrCreate(context.Background(), userID, "general")
	require.NoError(t, err)
	require.True(t, created)
	return ticket
}

func TestResolveOrCreateReusesLiveTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.open(t, "u1")
	require.Equal(t, domain.TicketStatusOpen, first.Status)
	require.Regexp(t, `^TCK-[0-9A-F]{8}$`, first.ExternalKey)

	again, created, err := f.machine.ResolveOrCreate(ctx, "u1", "general")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	_, err = f.machine.Close(ctx, first.ID, domain.UserActor("u1"))
	require.NoError(t, err)

	next, created, err := f.machine.ResolveOrCreate(ctx, "u1", "general")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ID, next.ID)
}

func TestResolveOrCreateUnknownCategory(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.machine.ResolveOrCreate(context.Background(), "u1", "billing")
	require.True(t, apperrors.IsCode(err, apperrors.CodeCategoryNotFound))
}

func TestResolveOrCreatePersistenceError(t *testing.T) {
	f := newFixture(t)
	f.store.InjectFault(errors.New("connection reset"))
	_, _, err := f.machine.ResolveOrCreate(context.Background(), "u1", "general")
	require.True(t, apperrors.IsCode(err, apperrors.CodePersistence))
}

func TestClaimRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.open(t, "u1")

	claimed, err := f.machine.Claim(ctx, ticket.ID, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusClaimed, claimed.Status)
	require.Equal(t, "s1", *claimed.ClaimedBy)

	again, err := f.machine.Claim(ctx, ticket.ID, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusClaimed, again.Status)

	current, err := f.machine.Claim(ctx, ticket.ID, "s2")
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
	require.Equal(t, domain.TicketStatusClaimed, current.Status)

	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "claimed", domainErr.Details["current_status"])
	require.Equal(t, "s1", domainErr.Details["claimed_by"])

	_, err = f.machine.Unclaim(ctx, ticket.ID, "s2")
	require.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	unclaimed, err := f.machine.Unclaim(ctx, ticket.ID, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusOpen, unclaimed.Status)
	require.Nil(t, unclaimed.ClaimedBy)

	require.Equal(t, int32(2), f.changes.Load())
}

func TestCloseRequestAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.open(t, "u1")
	_, err := f.machine.Claim(ctx, ticket.ID, "s1")
	require.NoError(t, err)

	pending, err := f.machine.RequestClose(ctx, ticket.ID, domain.StaffActor("s1"))
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusPendingClose, pending.Status)

	back, err := f.machine.CancelClose(ctx, ticket.ID, domain.StaffActor("s1"))
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusClaimed, back.Status)

	_, err = f.machine.CancelClose(ctx, ticket.ID, domain.StaffActor("s1"))
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
}

func TestCloseByOtherStaffIsForbiddenButForceCloseIsNot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.open(t, "u1")
	_, err := f.machine.Claim(ctx, ticket.ID, "s1")
	require.NoError(t, err)

	_, err = f.machine.Close(ctx, ticket.ID, domain.StaffActor("s2"))
	require.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	closed, err := f.machine.ForceClose(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.open(t, "u1")

	_, err := f.machine.Close(ctx, ticket.ID, domain.UserActor("u1"))
	require.NoError(t, err)
	again, err := f.machine.Close(ctx, ticket.ID, domain.StaffActor("s1"))
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusClosed, again.Status)
	require.Equal(t, int32(1), f.closes.Load())
}

func TestConcurrentCloseAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ticket := f.open(t, "u1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.machine.Close(context.Background(), ticket.ID, domain.SystemActor())
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(1), f.closes.Load())
}

func TestArchiveMovesChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.open(t, "u1")
	_, err := f.machine.AssignChannel(ctx, ticket.ID, "chan-1")
	require.NoError(t, err)

	_, err = f.machine.Archive(ctx, ticket.ID, domain.SystemActor())
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))

	_, err = f.machine.Close(ctx, ticket.ID, domain.SystemActor())
	require.NoError(t, err)

	f.channels.err = errors.New("missing permissions")
	current, err := f.machine.Archive(ctx, ticket.ID, domain.SystemActor())
	require.Error(t, err)
	require.Equal(t, domain.TicketStatusClosed, current.Status)

	f.channels.err = nil
	archived, err := f.machine.Archive(ctx, ticket.ID, domain.SystemActor())
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusTranscript, archived.Status)
	require.Equal(t, "cat-transcripts", f.channels.moves["chan-1"])
	require.Equal(t, []bool{true, true}, f.channels.deadlines)

	_, err = f.machine.Archive(ctx, ticket.ID, domain.SystemActor())
	require.NoError(t, err)
	require.Len(t, f.channels.deadlines, 2)

	_, err = f.machine.Delete(ctx, ticket.ID, domain.SystemActor())
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
}

func TestArchiveMoveDoesNotHoldTicketLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.open(t, "u1")
	_, err := f.machine.AssignChannel(ctx, ticket.ID, "chan-1")
	require.NoError(t, err)
	_, err = f.machine.Close(ctx, ticket.ID, domain.SystemActor())
	require.NoError(t, err)

	f.channels.entered = make(chan struct{})
	f.channels.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.machine.Archive(ctx, ticket.ID, domain.SystemActor())
		done <- err
	}()
	<-f.channels.entered

	// A slow move must not block other work on the same ticket.
	current, err := f.machine.Close(ctx, ticket.ID, domain.SystemActor())
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusClosed, current.Status)

	close(f.channels.release)
	require.NoError(t, <-done)
	archived, err := f.machine.Get(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusTranscript, archived.Status)
}

func TestAssignChannelOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.open(t, "u1")

	assigned, err := f.machine.AssignChannel(ctx, ticket.ID, "chan-1")
	require.NoError(t, err)
	require.Equal(t, "chan-1", assigned.DestinationChannelRef)

	kept, err := f.machine.AssignChannel(ctx, ticket.ID, "chan-2")
	require.NoError(t, err)
	require.Equal(t, "chan-1", kept.DestinationChannelRef)

	found, err := f.machine.FindByChannel(ctx, "chan-1")
	require.NoError(t, err)
	require.Equal(t, ticket.ID, found.ID)

	_, err = f.machine.FindByChannel(ctx, "chan-2")
	require.True(t, apperrors.IsNotFound(err))
}

func TestDeleteLiveTicket(t *testing.T) {
	f := newFixture(t)
	ticket := f.open(t, "u1")
	deleted, err := f.machine.Delete(context.Background(), ticket.ID, domain.SystemActor())
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusDeleted, deleted.Status)
}

// Randomized concurrent traffic must never leave a user with two live
// tickets, checked at every creation while the traffic runs.
func TestAtMostOneLiveTicketPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := []string{"u1", "u2", "u3", "u4"}

	var mu sync.Mutex
	history := map[string][]string{}
	var overlaps []string
	f.dispatcher.Subscribe(events.EventTicketCreated, func(ctx context.Context, e events.Event) error {
		user := e.Payload.(events.TicketCreatedPayload).UserID
		mu.Lock()
		defer mu.Unlock()
		for _, id := range history[user] {
			earlier, err := f.store.Tickets().GetByID(ctx, id)
			if err != nil || !earlier.Status.Terminal() {
				overlaps = append(overlaps, fmt.Sprintf("%s: %s still live when %s opened", user, id, e.TicketID))
			}
		}
		history[user] = append(history[user], e.TicketID)
		return nil
	})

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				user := users[rng.Intn(len(users))]
				ticket, _, err := f.machine.ResolveOrCreate(ctx, user, "general")
				if err != nil {
					t.Errorf("resolve: %v", err)
					return
				}
				switch rng.Intn(4) {
				case 0:
					_, _ = f.machine.Close(ctx, ticket.ID, domain.UserActor(user))
				case 1:
					_, _ = f.machine.Claim(ctx, ticket.ID, fmt.Sprintf("s%d", rng.Intn(2)))
				case 2:
					_, _ = f.machine.RequestClose(ctx, ticket.ID, domain.UserActor(user))
				}
			}
		}(int64(worker))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, overlaps)
	require.NotEmpty(t, history)
	// The user lock serializes creation, so the store never has to refuse.
	require.Zero(t, f.tickets.refused.Load())

	for _, user := range users {
		live := 0
		for _, id := range history[user] {
			ticket, err := f.store.Tickets().GetByID(ctx, id)
			require.NoError(t, err)
			if !ticket.Status.Terminal() {
				live++
			}
		}
		require.LessOrEqual(t, live, 1, "user %s", user)
	}
}
