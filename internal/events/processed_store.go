// Package events remembers which inbound webhook events were already handled
// so provider redeliveries are processed once.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an event id is remembered.
const DefaultTTL = 24 * time.Hour

// ProcessedStore records webhook events that were already handled.
type ProcessedStore interface {
	// MarkProcessed records eventID for provider and reports whether this
	// was the first time it was seen.
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// RedisProcessedStore uses SET NX EX so concurrent deliveries race on one key.
type RedisProcessedStore struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisProcessedStore(client redis.Cmdable, ttl time.Duration) *RedisProcessedStore {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisProcessedStore{client: client, ttl: ttl, prefix: "coop:processed:"}
}

func (s *RedisProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+provider+":"+eventID, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ok, nil
}

// MemoryProcessedStore is a process-local TTL set.
type MemoryProcessedStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
	sweep time.Time
}

func NewMemoryProcessedStore(ttl time.Duration) *MemoryProcessedStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryProcessedStore{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.sweep) > time.Minute {
		for k, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, k)
			}
		}
		s.sweep = now
	}

	key := provider + ":" + eventID
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(s.ttl)
	return true, nil
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProcessedStore keeps event ids in the processed_events table. It
// serves deployments without Redis that still run several API replicas.
type PostgresProcessedStore struct {
	pool rowQuerier
}

func NewPostgresProcessedStore(pool rowQuerier) *PostgresProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &PostgresProcessedStore{pool: pool}
}

// AlreadyProcessed checks if we've seen this provider event id.
func (s *PostgresProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts an event id for the provider, returning false if it already exists.
func (s *PostgresProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Prune deletes event ids older than ttl.
func (s *PostgresProcessedStore) Prune(ctx context.Context, ttl time.Duration) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, time.Now().Add(-ttl).UTC())
	if err != nil {
		return 0, fmt.Errorf("events: prune processed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// FailOpen wraps a store so that backend errors let the event through and
// are reported to onError. A lost dedupe costs a repeated reply; a failed
// webhook costs the message.
type FailOpen struct {
	Store   ProcessedStore
	OnError func(provider, eventID string, err error)
}

func (f FailOpen) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	first, err := f.Store.MarkProcessed(ctx, provider, eventID)
	if err != nil {
		if f.OnError != nil {
			f.OnError(provider, eventID, err)
		}
		return true, nil
	}
	return first, nil
}

var (
	_ ProcessedStore = (*RedisProcessedStore)(nil)
	_ ProcessedStore = (*MemoryProcessedStore)(nil)
	_ ProcessedStore = (*PostgresProcessedStore)(nil)
	_ ProcessedStore = FailOpen{}
)
