// Package repository implements data persistence adapters
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-chat/internal/core/ports"
)

// Ensure RedisRepository implements the cache-backed ports
var (
	_ ports.DedupRepository = (*RedisRepository)(nil)
	_ ports.UsageRepository = (*RedisRepository)(nil)
)

// usageKeyTTL keeps monthly counters a little past month end for reporting
const usageKeyTTL = 40 * 24 * time.Hour

// RedisRepository implements webhook deduplication and usage counters
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// MarkIfFirstSeen records the event id with SET NX
// Check and mark are one atomic step so concurrent deliveries of the
// same event cannot both pass
func (r *RedisRepository) MarkIfFirstSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := buildDedupKey(eventID)

	// Value is timestamp for debugging purposes
	first, err := r.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		slog.Error("Failed to check deduplication",
			"error", err,
			"event_id", eventID,
		)
		return false, fmt.Errorf("mark event: %w", err)
	}

	if !first {
		slog.Warn("Duplicate webhook event detected",
			"event_id", eventID,
			"key", key,
		)
	}
	return first, nil
}

// IncrementMonthly bumps the tenant's AI message counter for the month of now
func (r *RedisRepository) IncrementMonthly(ctx context.Context, tenantID int64, now time.Time) (int64, error) {
	key := buildUsageKey(tenantID, now)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, usageKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return incr.Val(), nil
}

// MonthlyCount returns the tenant's AI message count for the month of now
func (r *RedisRepository) MonthlyCount(ctx context.Context, tenantID int64, now time.Time) (int64, error) {
	val, err := r.client.Get(ctx, buildUsageKey(tenantID, now)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse usage %q: %w", val, err)
	}
	return n, nil
}

// buildDedupKey constructs the Redis key for deduplication
// Key format dedup:msg:{platform}:{platform_msg_id}
func buildDedupKey(eventID string) string {
	return fmt.Sprintf("dedup:msg:%s", eventID)
}

// buildUsageKey: usage:{tenant_id}:{yyyy-mm}
func buildUsageKey(tenantID int64, now time.Time) string {
	return fmt.Sprintf("usage:%d:%s", tenantID, now.UTC().Format("2006-01"))
}
