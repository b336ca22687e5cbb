package settlement

import (
	"time"

	"campus_market/internal/model"
	"campus_market/internal/queue"
	"campus_market/internal/store"
)

// orderEvent 订单事件负载，供通知服务等下游消费。
type orderEvent struct {
	OrderID   string            `json:"order_id"`
	BuyerID   int64             `json:"buyer_id"`
	SellerID  int64             `json:"seller_id"`
	ProductID uint              `json:"product_id"`
	Status    model.OrderStatus `json:"status"`
	Amount    int64             `json:"amount"`
	Reason    string            `json:"reason,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

func (c *Coordinator) emit(tx *store.Tx, typ string, o *model.Order, reason string) error {
	return queue.Enqueue(tx, typ, o.ID, c.now(), orderEvent{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		SellerID:  o.SellerID,
		ProductID: o.ProductID,
		Status:    o.Status,
		Amount:    o.ChargeAmount(),
		Reason:    reason,
		ExpiresAt: o.ExpiresAt,
	})
}
