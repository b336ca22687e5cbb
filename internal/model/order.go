package model

import (
	"fmt"
	"time"
)

// OrderStatus 订单生命周期状态（封闭枚举，零值非法）。
type OrderStatus int

const (
	OrderPendingPayment OrderStatus = iota + 1 // 待支付，占用商品，带过期时间
	OrderPaid                                  // 已支付，资金已从买家转给卖家
	OrderShipped                               // 卖家已发货
	OrderDelivered                             // 买家确认收货
	OrderCompleted                             // 交易完成（终态）
	OrderCancelled                             // 已取消（终态）
)

var orderStatusNames = map[OrderStatus]string{
	OrderPendingPayment: "pending_payment",
	OrderPaid:           "paid",
	OrderShipped:        "shipped",
	OrderDelivered:      "delivered",
	OrderCompleted:      "completed",
	OrderCancelled:      "cancelled",
}

func (s OrderStatus) String() string {
	if n, ok := orderStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("order_status(%d)", int(s))
}

// Valid 报告 s 是否为已定义状态。
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// Terminal 终态不再接受任何迁移。
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Active 非终态订单会占用商品。
func (s OrderStatus) Active() bool {
	return s.Valid() && !s.Terminal()
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid order status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := ParseOrderStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseOrderStatus 将外部字符串解析为状态。
func ParseOrderStatus(v string) (OrderStatus, error) {
	for s, n := range orderStatusNames {
		if n == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

// ActiveOrderStatuses 会占用商品的状态集合。
var ActiveOrderStatuses = []OrderStatus{OrderPendingPayment, OrderPaid, OrderShipped, OrderDelivered}

// Order 一笔买卖双方针对单个商品的交易。
// 金额单位均为分；FinalPrice 为空表示按 BasePrice 结算。
type Order struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BuyerID   int64 `gorm:"not null;index" json:"buyer_id"`
	SellerID  int64 `gorm:"not null;index" json:"seller_id"`
	ProductID uint  `gorm:"not null;index" json:"product_id"`

	BasePrice  int64  `gorm:"not null" json:"base_price"`
	FinalPrice *int64 `json:"final_price,omitempty"`

	Status    OrderStatus `gorm:"not null;index" json:"status"`
	ExpiresAt *time.Time  `gorm:"index" json:"expires_at,omitempty"`

	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	// RefundedAt 只由退款流程写入；已支付订单取消前必须先有它。
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
	CancelReason string     `gorm:"size:64" json:"cancel_reason,omitempty"`
}

func (Order) TableName() string { return "orders" }

// ChargeAmount 支付时实际扣款金额：协商价优先，否则原价。
func (o *Order) ChargeAmount() int64 {
	if o.FinalPrice != nil {
		return *o.FinalPrice
	}
	return o.BasePrice
}

// Expired 订单是否已过支付截止时间。
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}
