package redis

import "fmt"

// ProductKey 商品占用状态（hash: state / order_id）。
func ProductKey(productID uint) string {
	return fmt.Sprintf("campus_market:product:%d", productID)
}

// LockKey 后台任务的互斥锁。
func LockKey(name string) string {
	return fmt.Sprintf("campus_market:lock:%s", name)
}

// PayIdempotencyKey 将客户端幂等键映射到一次支付结果。
func PayIdempotencyKey(userID int64, orderID, idemKey string) string {
	return fmt.Sprintf("campus_market:idem:pay:%d:%s:%s", userID, orderID, idemKey)
}

// RateLimitKey 滑动窗口限流 key，scope 区分接口。
func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("campus_market:rate_limit:%s:%s", scope, subject)
}
