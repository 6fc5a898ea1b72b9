package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"liveclass/pkg/interfaces"
)

// RedisConfig selects the Redis server that holds sweep leases.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"LIVECLASS_REDIS_ADDR"`
	Password  string `yaml:"password" env:"LIVECLASS_REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"LIVECLASS_REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"LIVECLASS_REDIS_KEY_PREFIX"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// RedisLocker grants leases with SET NX PX. Each lease carries a random
// token so a holder whose lease expired cannot release its successor's.
type RedisLocker struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ interfaces.Locker = (*RedisLocker)(nil)

// NewRedisLocker connects and pings the server.
func NewRedisLocker(ctx context.Context, cfg RedisConfig) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisLockerFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(client redis.UniversalClient, keyPrefix string) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "liveclass:"
	}
	return &RedisLocker{client: client, keyPrefix: keyPrefix}
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	fullKey := l.keyPrefix + "lock:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
	}
	return release, true, nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
