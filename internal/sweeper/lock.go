package sweeper

import (
	"context"
	"log/slog"
	"time"

	"campus_market/internal/logging"
	rediskey "campus_market/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// RedisLocker SET NX PX 互斥锁；TTL 应略小于扫描周期，实例崩溃后锁自动过期。
type RedisLocker struct {
	rdb rd.Cmdable
	key string
	ttl time.Duration
	log *slog.Logger
}

func NewRedisLocker(rdb rd.Cmdable, name string, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb: rdb,
		key: rediskey.LockKey(name),
		ttl: ttl,
		log: logging.OrDefault(logger),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := rediskey.AcquireLock(ctx, l.rdb, l.key, token, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	unlock := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := rediskey.ReleaseLockIfMatch(rctx, l.rdb, l.key, token); err != nil {
			l.log.Warn("release sweeper lock failed", "key", l.key, "error", err)
		}
	}
	return unlock, true, nil
}
