package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值匹配 token 时才删除，避免误删别的实例续上的锁。
const luaReleaseLockIfMatch = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// AcquireLock SET NX PX；已被占用返回 false。
func AcquireLock(ctx context.Context, rdb rd.Cmdable, key, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseLockIfMatch 安全释放锁，返回是否真正删除。
func ReleaseLockIfMatch(ctx context.Context, rdb rd.Cmdable, key, token string) (bool, error) {
	n, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
