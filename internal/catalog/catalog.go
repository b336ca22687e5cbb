// Package catalog is the boundary to the product listing service. The settlement
// core only needs to know whether a product can be ordered and to tell the
// catalog when an order reserves, releases or finalizes it.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"campus_market/internal/apperr"
	rediskey "campus_market/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// Catalog 商品可用性。Reserve/Release/Finalize 需幂等，调用方至少投递一次。
type Catalog interface {
	Available(ctx context.Context, productID uint) (bool, error)
	Reserve(ctx context.Context, productID uint, orderID string) error
	Release(ctx context.Context, productID uint, orderID string) error
	Finalize(ctx context.Context, productID uint, orderID string) error
}

// StateReserved 商品被一笔未结束订单占用。
const StateReserved = rediskey.ProductReserved

// HoldReporter 可选能力：报告商品当前状态与持有订单，空闲时 state 为空。
type HoldReporter interface {
	Hold(ctx context.Context, productID uint) (state, orderID string, err error)
}

// Noop 未接 Redis 时使用：商品总是可用，通知直接丢弃。
type Noop struct{}

func (Noop) Available(context.Context, uint) (bool, error) { return true, nil }
func (Noop) Reserve(context.Context, uint, string) error { return nil }
func (Noop) Release(context.Context, uint, string) error { return nil }
func (Noop) Finalize(context.Context, uint, string) error { return nil }

// Redis 以 hash 记录商品被哪个订单占用。
type Redis struct {
	rdb rd.Cmdable
}

func NewRedis(rdb rd.Cmdable) *Redis {
	return &Redis{rdb: rdb}
}

// Available 空闲（无记录）即可下单。
func (c *Redis) Available(ctx context.Context, productID uint) (bool, error) {
	state, _, err := rediskey.ProductState(ctx, c.rdb, productID)
	if err != nil {
		return false, fmt.Errorf("catalog state %d: %w", productID, err)
	}
	return state == "", nil
}

func (c *Redis) Hold(ctx context.Context, productID uint) (string, string, error) {
	state, orderID, err := rediskey.ProductState(ctx, c.rdb, productID)
	if err != nil {
		return "", "", fmt.Errorf("catalog state %d: %w", productID, err)
	}
	return state, orderID, nil
}

func (c *Redis) Reserve(ctx context.Context, productID uint, orderID string) error {
	_, err := rediskey.ReserveProduct(ctx, c.rdb, productID, orderID)
	return mapErr(err, "reserve", productID)
}

func (c *Redis) Release(ctx context.Context, productID uint, orderID string) error {
	_, err := rediskey.ReleaseProduct(ctx, c.rdb, productID, orderID)
	return mapErr(err, "release", productID)
}

func (c *Redis) Finalize(ctx context.Context, productID uint, orderID string) error {
	_, err := rediskey.FinalizeProduct(ctx, c.rdb, productID, orderID)
	return mapErr(err, "finalize", productID)
}

func mapErr(err error, op string, productID uint) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rediskey.ErrHeldByOther) {
		return fmt.Errorf("catalog %s %d: %w: %w", op, productID, apperr.ErrConflict, err)
	}
	return fmt.Errorf("catalog %s %d: %w", op, productID, err)
}
