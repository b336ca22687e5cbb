package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// PaySucceeded 该幂等键对应的支付已成功。
	PaySucceeded = "success"
	// PayFailed 记录最近一次失败原因，不阻止重试。
	PayFailed = "failed"
)

// PayState 对应 Redis 内一次支付请求的结果。
type PayState struct {
	OrderID string
	Status  string
	Reason  string
}

// GetPayState 查询幂等键当前状态。found=false 表示 key 不存在。
func GetPayState(ctx context.Context, rdb rd.Cmdable, userID int64, orderID, idemKey string) (PayState, bool, error) {
	m, err := rdb.HGetAll(ctx, PayIdempotencyKey(userID, orderID, idemKey)).Result()
	if err != nil {
		return PayState{}, false, err
	}
	if len(m) == 0 {
		return PayState{}, false, nil
	}
	return PayState{
		OrderID: m["order_id"],
		Status:  m["status"],
		Reason:  m["reason"],
	}, true, nil
}

// PutPayState 写入结果并刷新 TTL。
func PutPayState(ctx context.Context, rdb rd.Cmdable, userID int64, idemKey string, st PayState, ttl time.Duration) error {
	key := PayIdempotencyKey(userID, st.OrderID, idemKey)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"order_id", st.OrderID,
		"status", st.Status,
		"reason", st.Reason,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
