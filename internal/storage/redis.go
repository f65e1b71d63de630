package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// incrWithExpiry increments KEYS[1] and sets its expiry to ARGV[1]
// milliseconds only when the increment created the key.
var incrWithExpiry = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

type RedisClient struct {
	client *redis.Client
}

// NewRedis returns a client even when Redis is unreachable. Connections are
// made lazily, so a store that comes up later is picked up without a restart
// and the limiter fails open in the meantime.
func NewRedis(addr, password string, db int, logger *zap.Logger) *RedisClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, rate limiting will fail open until it recovers",
			zap.String("addr", addr),
			zap.Error(err),
		)
	} else {
		logger.Info("Connected to redis successfully", zap.String("addr", addr))
	}

	return &RedisClient{client: client}
}

// IncrWithExpiry runs as a single script so the first increment and its
// expiry are applied together.
func (r *RedisClient) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return incrWithExpiry.Run(ctx, r.client, []string{key}, ms).Int64()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
