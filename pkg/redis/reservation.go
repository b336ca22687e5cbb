package redis

import (
	"context"
	"errors"

	rd "github.com/redis/go-redis/v9"
)

const (
	ProductReserved = "reserved"
	ProductSold     = "sold"
)

// ErrHeldByOther 商品正被另一笔订单占用或已售出。
var ErrHeldByOther = errors.New("product held by another order")

// luaReserve：空闲则占用；同一订单重复占用视为成功（返回 0）；被别人占用返回 -1。
const luaReserve = `
local key = KEYS[1]
local orderID = ARGV[1]
local state = redis.call('HGET', key, 'state')
if not state then
  redis.call('HSET', key, 'state', 'reserved', 'order_id', orderID)
  return 1
end
if redis.call('HGET', key, 'order_id') == orderID then
  return 0
end
return -1
`

// luaRelease：只释放本订单持有的占用，已售出不释放。
const luaRelease = `
local key = KEYS[1]
if redis.call('HGET', key, 'order_id') == ARGV[1] and redis.call('HGET', key, 'state') == 'reserved' then
  redis.call('DEL', key)
  return 1
end
return 0
`

// luaFinalize：本订单占用 -> 已售；占用丢失时直接标记已售；被别人持有返回 -1。
const luaFinalize = `
local key = KEYS[1]
local orderID = ARGV[1]
local state = redis.call('HGET', key, 'state')
if not state then
  redis.call('HSET', key, 'state', 'sold', 'order_id', orderID)
  return 1
end
if redis.call('HGET', key, 'order_id') ~= orderID then
  return -1
end
if state == 'sold' then
  return 0
end
redis.call('HSET', key, 'state', 'sold')
return 1
`

func evalOwned(ctx context.Context, rdb rd.Cmdable, script string, productID uint, orderID string) (bool, error) {
	n, err := rdb.Eval(ctx, script, []string{ProductKey(productID)}, orderID).Int()
	if err != nil {
		return false, err
	}
	if n < 0 {
		return false, ErrHeldByOther
	}
	return n == 1, nil
}

// ReserveProduct 幂等占用：首次占用返回 true，重复占用返回 false。
func ReserveProduct(ctx context.Context, rdb rd.Cmdable, productID uint, orderID string) (bool, error) {
	return evalOwned(ctx, rdb, luaReserve, productID, orderID)
}

// ReleaseProduct 幂等释放：非本订单持有时不做任何事。
func ReleaseProduct(ctx context.Context, rdb rd.Cmdable, productID uint, orderID string) (bool, error) {
	return evalOwned(ctx, rdb, luaRelease, productID, orderID)
}

// FinalizeProduct 幂等标记已售。
func FinalizeProduct(ctx context.Context, rdb rd.Cmdable, productID uint, orderID string) (bool, error) {
	return evalOwned(ctx, rdb, luaFinalize, productID, orderID)
}

// ProductState 返回当前状态与持有订单；空闲时 state 为空。
func ProductState(ctx context.Context, rdb rd.Cmdable, productID uint) (state, orderID string, err error) {
	m, err := rdb.HGetAll(ctx, ProductKey(productID)).Result()
	if err != nil {
		return "", "", err
	}
	return m["state"], m["order_id"], nil
}
