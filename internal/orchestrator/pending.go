package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"

	"github.com/thebtf/cohort/pkg/models"
)

const pendingKeyPrefix = "cohort:pending:"

// pendingItem is the stored envelope for one pending feedback ref. The
// enqueue timestamp gives List a stable, deterministic ordering, which the
// order-dependent batch strategies rely on for reproducible clusters.
type pendingItem struct {
	models.FeedbackRef
	EnqueuedAt int64 `json:"enqueued_at"`
}

// PendingSet is the durable per-tenant set of feedback ids awaiting
// clustering, stored as a redis hash keyed by feedback id. Draining an
// already-removed id is a no-op, never an error.
type PendingSet struct {
	pool *redis.Pool
}

// NewPendingSet creates a pending-work set over the given redis pool.
func NewPendingSet(pool *redis.Pool) (*PendingSet, error) {
	if pool == nil {
		return nil, fmt.Errorf("redis pool is required")
	}
	return &PendingSet{pool: pool}, nil
}

// Add enqueues feedback refs for a tenant. Re-adding an id replaces its
// payload.
func (p *PendingSet) Add(ctx context.Context, tenant string, refs ...models.FeedbackRef) error {
	if len(refs) == 0 {
		return nil
	}

	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	args := []any{pendingKeyPrefix + tenant}
	now := time.Now().UnixNano()
	for i, ref := range refs {
		payload, err := json.Marshal(pendingItem{FeedbackRef: ref, EnqueuedAt: now + int64(i)})
		if err != nil {
			return fmt.Errorf("marshal pending item %s: %w", ref.ID, err)
		}
		args = append(args, ref.ID, payload)
	}

	if _, err := redis.DoContext(conn, ctx, "HSET", args...); err != nil {
		return fmt.Errorf("add pending items: %w", err)
	}
	return nil
}

// List returns the tenant's full pending set in enqueue order.
func (p *PendingSet) List(ctx context.Context, tenant string) ([]models.FeedbackRef, error) {
	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	values, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", pendingKeyPrefix+tenant))
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}

	items := make([]pendingItem, 0, len(values))
	for id, payload := range values {
		var item pendingItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("decode pending item %s: %w", id, err)
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].EnqueuedAt != items[j].EnqueuedAt {
			return items[i].EnqueuedAt < items[j].EnqueuedAt
		}
		return items[i].ID < items[j].ID
	})

	refs := make([]models.FeedbackRef, len(items))
	for i, item := range items {
		refs[i] = item.FeedbackRef
	}
	return refs, nil
}

// Drain removes processed ids from the tenant's pending set. Idempotent:
// ids already removed are skipped silently.
func (p *PendingSet) Drain(ctx context.Context, tenant string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	args := []any{pendingKeyPrefix + tenant}
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := redis.DoContext(conn, ctx, "HDEL", args...); err != nil {
		return fmt.Errorf("drain pending items: %w", err)
	}
	return nil
}

// Count returns the number of pending items for a tenant.
func (p *PendingSet) Count(ctx context.Context, tenant string) (int, error) {
	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	n, err := redis.Int(redis.DoContext(conn, ctx, "HLEN", pendingKeyPrefix+tenant))
	if err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return n, nil
}
