package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// refreshScript extends a lease only while the caller still owns it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes a lease only while the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore holds campaign leases and the latest snapshot per campaign.
type RedisStore struct {
	Client      *redis.Client
	SnapshotTTL time.Duration
}

// InitRedis connects to Redis with tracing enabled.
func InitRedis(ctx context.Context, addr string, snapshotTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return NewRedisStore(client, snapshotTTL), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, snapshotTTL time.Duration) *RedisStore {
	return &RedisStore{Client: client, SnapshotTTL: snapshotTTL}
}

func leaseKey(campaign string) string {
	return fmt.Sprintf("lease:campaign:%s", campaign)
}

func snapshotKey(campaign string) string {
	return fmt.Sprintf("snapshot:campaign:%s", campaign)
}

// AcquireLease claims the campaign for owner if nobody else holds it.
func (r *RedisStore) AcquireLease(ctx context.Context, campaign, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, leaseKey(campaign), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", campaign, err)
	}
	return ok, nil
}

// RefreshLease extends owner's lease by ttl. It returns false when the lease
// expired or belongs to someone else.
func (r *RedisStore) RefreshLease(ctx context.Context, campaign, owner string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, r.Client, []string{leaseKey(campaign)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("refresh lease %s: %w", campaign, err)
	}
	return n == 1, nil
}

// ReleaseLease drops owner's lease. Releasing a lease held by someone else is a no-op.
func (r *RedisStore) ReleaseLease(ctx context.Context, campaign, owner string) error {
	if err := releaseScript.Run(ctx, r.Client, []string{leaseKey(campaign)}, owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", campaign, err)
	}
	return nil
}

// LeaseOwner returns the run currently holding the campaign, or "" when free.
func (r *RedisStore) LeaseOwner(ctx context.Context, campaign string) (string, error) {
	owner, err := r.Client.Get(ctx, leaseKey(campaign)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lease owner %s: %w", campaign, err)
	}
	return owner, nil
}

// CacheSnapshot stores snap as the campaign's latest snapshot.
func (r *RedisStore) CacheSnapshot(ctx context.Context, campaign string, snap models.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.Client.Set(ctx, snapshotKey(campaign), b, r.SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("cache snapshot %s: %w", campaign, err)
	}
	return nil
}

// RecordSnapshot caches every snapshot an orchestrator takes.
func (r *RedisStore) RecordSnapshot(ctx context.Context, campaign string, snap models.Snapshot) error {
	return r.CacheSnapshot(ctx, campaign, snap)
}

// CachedSnapshot returns the latest cached snapshot, or models.ErrNotFound.
func (r *RedisStore) CachedSnapshot(ctx context.Context, campaign string) (*models.Snapshot, error) {
	b, err := r.Client.Get(ctx, snapshotKey(campaign)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cached snapshot %s: %w", campaign, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", campaign, err)
	}
	return &snap, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
