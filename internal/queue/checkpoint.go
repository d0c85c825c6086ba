package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// Checkpointer mirrors queue contents outside the process so a restarted
// bridge can rebuild its queues. The datastore stays authoritative.
type Checkpointer interface {
	Append(ctx context.Context, side domain.Side, entry domain.QueueEntry) error
	// PopHead removes the oldest entry of a ticket's queue.
	PopHead(ctx context.Context, side domain.Side, ticketID string) error
	Clear(ctx context.Context, side domain.Side, ticketID string) error
	Load(ctx context.Context, side domain.Side) ([]domain.QueueEntry, error)
}

// NoopCheckpoint is used when Redis is not configured.
type NoopCheckpoint struct{}

func (NoopCheckpoint) Append(context.Context, domain.Side, domain.QueueEntry) error { return nil }
func (NoopCheckpoint) PopHead(context.Context, domain.Side, string) error           { return nil }
func (NoopCheckpoint) Clear(context.Context, domain.Side, string) error             { return nil }
func (NoopCheckpoint) Load(context.Context, domain.Side) ([]domain.QueueEntry, error) {
	return nil, nil
}

// RedisCheckpoint keeps one Redis list per ticket plus a set indexing the
// tickets that have a list. All keys of one side share a hash tag so the
// transactional writes stay on one cluster slot.
type RedisCheckpoint struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCheckpoint builds a checkpoint over client.
func NewRedisCheckpoint(client redis.UniversalClient, prefix string) *RedisCheckpoint {
	if prefix == "" {
		prefix = "ticketbridge:queue"
	}
	return &RedisCheckpoint{client: client, prefix: prefix}
}

func (r *RedisCheckpoint) indexKey(side domain.Side) string {
	return fmt.Sprintf("{%s:%s}:tickets", r.prefix, side)
}

func (r *RedisCheckpoint) listKey(side domain.Side, ticketID string) string {
	return fmt.Sprintf("{%s:%s}:%s", r.prefix, side, ticketID)
}

func (r *RedisCheckpoint) Append(ctx context.Context, side domain.Side, entry domain.QueueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.listKey(side, entry.TicketID), payload)
		pipe.SAdd(ctx, r.indexKey(side), entry.TicketID)
		return nil
	})
	return err
}

func (r *RedisCheckpoint) PopHead(ctx context.Context, side domain.Side, ticketID string) error {
	err := r.client.LPop(ctx, r.listKey(side, ticketID)).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

func (r *RedisCheckpoint) Clear(ctx context.Context, side domain.Side, ticketID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.listKey(side, ticketID))
		pipe.SRem(ctx, r.indexKey(side), ticketID)
		return nil
	})
	return err
}

func (r *RedisCheckpoint) Load(ctx context.Context, side domain.Side) ([]domain.QueueEntry, error) {
	ticketIDs, err := r.client.SMembers(ctx, r.indexKey(side)).Result()
	if err != nil {
		return nil, err
	}
	var entries []domain.QueueEntry
	for _, ticketID := range ticketIDs {
		raw, err := r.client.LRange(ctx, r.listKey(side, ticketID), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, item := range raw {
			var entry domain.QueueEntry
			if err := json.Unmarshal([]byte(item), &entry); err != nil {
				return nil, fmt.Errorf("decode checkpoint entry for ticket %s: %w", ticketID, err)
			}
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt) })
	return entries, nil
}
