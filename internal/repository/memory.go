package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// MemoryStore is an in-process datastore with the same contract as the
// Postgres repositories. It backs the bridge when no DSN is configured.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	tickets  map[string]*domain.Ticket
	messages map[string]*domain.Message
	seq      int64
	fault    error
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*domain.User),
		tickets:  make(map[string]*domain.Ticket),
		messages: make(map[string]*domain.Message),
		now:      time.Now,
	}
}

// InjectFault makes every subsequent write fail with err until cleared
// with nil.
func (s *MemoryStore) InjectFault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = err
}

// Users returns the store as a UserRepository.
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// Tickets returns the store as a TicketRepository.
func (s *MemoryStore) Tickets() TicketRepository { return memoryTickets{s} }

// Messages returns the store as a MessageRepository.
func (s *MemoryStore) Messages() MessageRepository { return memoryMessages{s} }

// tick returns a strictly increasing timestamp so enqueue order survives
// sorting even when the wall clock does not advance.
func (s *MemoryStore) tick() time.Time {
	s.seq++
	return s.now().Add(time.Duration(s.seq))
}

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fault != nil {
		return r.s.fault
	}
	for _, existing := range r.s.users {
		if existing.OriginPlatformID == user.OriginPlatformID {
			*user = *existing
			return nil
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = r.s.tick()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r memoryUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *user
	return &cp, nil
}

func (r memoryUsers) GetByOriginID(_ context.Context, originPlatformID string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.users {
		if user.OriginPlatformID == originPlatformID {
			cp := *user
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r memoryUsers) UpdateDisplayName(_ context.Context, id, displayName string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fault != nil {
		return r.s.fault
	}
	user, ok := r.s.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.DisplayName = displayName
	user.UpdatedAt = r.s.tick()
	return nil
}

type memoryTickets struct{ s *MemoryStore }

func (r memoryTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fault != nil {
		return r.s.fault
	}
	for _, existing := range r.s.tickets {
		if existing.UserID == ticket.UserID && !existing.Status.Terminal() {
			return ErrLiveTicketExists
		}
	}
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = r.s.tick()
	ticket.UpdatedAt = ticket.CreatedAt
	r.s.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r memoryTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ticket, ok := r.s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return ticket.Clone(), nil
}

func (r memoryTickets) FindOpenForUser(_ context.Context, userID string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ticket := range r.s.tickets {
		if ticket.UserID == userID && !ticket.Status.Terminal() {
			return ticket.Clone(), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r memoryTickets) FindByChannelRef(_ context.Context, channelRef string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ticket := range r.s.tickets {
		if ticket.DestinationChannelRef == channelRef {
			return ticket.Clone(), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r memoryTickets) UpdateStatus(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fault != nil {
		return r.s.fault
	}
	stored, ok := r.s.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = r.s.tick()
	updated := ticket.Clone()
	updated.DestinationChannelRef = stored.DestinationChannelRef
	r.s.tickets[ticket.ID] = updated
	return nil
}

func (r memoryTickets) AssignChannel(_ context.Context, ticketID, channelRef string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fault != nil {
		return false, r.s.fault
	}
	stored, ok := r.s.tickets[ticketID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if stored.DestinationChannelRef != "" {
		return false, nil
	}
	stored.DestinationChannelRef = channelRef
	stored.UpdatedAt = r.s.tick()
	return true, nil
}

func (r memoryTickets) ListClosedBefore(_ context.Context, before time.Time, limit int) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range r.s.tickets {
		if ticket.Status == domain.TicketStatusClosed && ticket.ClosedAt != nil && ticket.ClosedAt.Before(before) {
			result = append(result, *ticket.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClosedAt.Before(*result[j].ClosedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type memoryMessages struct{ s *MemoryStore }

func (r memoryMessages) Insert(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fault != nil {
		return r.s.fault
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = domain.DeliveryStatusPending
	}
	msg.ID = uuid.NewString()
	msg.EnqueuedAt = r.s.tick()
	cp := *msg
	r.s.messages[msg.ID] = &cp
	return nil
}

func (r memoryMessages) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.messages[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *msg
	return &cp, nil
}

func (r memoryMessages) UpdateDeliveryStatus(_ context.Context, id string, status domain.DeliveryStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fault != nil {
		return r.s.fault
	}
	msg, ok := r.s.messages[id]
	if !ok {
		return pgx.ErrNoRows
	}
	msg.DeliveryStatus = status
	if status == domain.DeliveryStatusDelivered {
		now := r.s.now()
		msg.DeliveredAt = &now
	}
	return nil
}

func (r memoryMessages) ListUndelivered(_ context.Context) ([]domain.Message, error) {
	return r.filter(func(m *domain.Message) bool {
		return m.DeliveryStatus == domain.DeliveryStatusPending || m.DeliveryStatus == domain.DeliveryStatusQueued
	}), nil
}

func (r memoryMessages) ListByTicket(_ context.Context, ticketID string) ([]domain.Message, error) {
	return r.filter(func(m *domain.Message) bool { return m.TicketID == ticketID }), nil
}

func (r memoryMessages) filter(keep func(*domain.Message) bool) []domain.Message {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []domain.Message
	for _, msg := range r.s.messages {
		if keep(msg) {
			result = append(result, *msg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EnqueuedAt.Equal(result[j].EnqueuedAt) {
			return strings.Compare(result[i].ID, result[j].ID) < 0
		}
		return result[i].EnqueuedAt.Before(result[j].EnqueuedAt)
	})
	return result
}
