package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Lease decides which keeper replica scans. Acquire both takes and renews.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Solo is the lease for a single-replica deployment: always held.
type Solo struct{}

func (Solo) Acquire(context.Context) (bool, error) { return true, nil }
func (Solo) Release(context.Context) error         { return nil }

// LeaseConfig holds Redis lease configuration.
type LeaseConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long a lease survives without renewal
	TTL time.Duration
	// Key is the lease key shared by all replicas
	Key string
}

// LeaseConfigDefaults returns defaults for the Redis lease.
func LeaseConfigDefaults() LeaseConfig {
	return LeaseConfig{
		Addr: "localhost:6379",
		DB:   0,
		TTL:  15 * time.Second,
		Key:  "twap:keeper:leader",
	}
}

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLease is a single-key leader lease held by owner.
type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

var _ Lease = (*RedisLease)(nil)

// NewRedisLease creates a lease client. It does not contact Redis.
func NewRedisLease(cfg LeaseConfig, owner string) (*RedisLease, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if owner == "" {
		return nil, errors.New("lease owner is required")
	}
	defaults := LeaseConfigDefaults()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.Key == "" {
		cfg.Key = defaults.Key
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})
	return &RedisLease{client: client, key: cfg.Key, owner: owner, ttl: cfg.TTL}, nil
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		log.Info().Str("owner", l.owner).Str("key", l.key).Msg("keeper lease acquired")
		return true, nil
	}
	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return renewed == 1, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (l *RedisLease) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *RedisLease) Close() error {
	return l.client.Close()
}
