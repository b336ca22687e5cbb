package store

import (
	"fmt"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/model"
)

// CreateOrder 插入订单；同一商品已有未终结订单时（唯一索引冲突）返回 apperr.ErrInvalidArgument。
func (t *Tx) CreateOrder(o *model.Order) error {
	err := t.db.Create(o).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("product %d already has an active order: %w", o.ProductID, apperr.ErrInvalidArgument)
	}
	return wrap(err, "create order")
}

// GetOrder 事务内加行锁读取。
func (t *Tx) GetOrder(id string) (*model.Order, error) {
	var o model.Order
	if err := t.forUpdate().Where("id = ?", id).Take(&o).Error; err != nil {
		return nil, getErr(err, "order", id)
	}
	return &o, nil
}

// UpdateOrder 以当前状态为条件的 CAS 更新；状态已被并发修改时返回 apperr.ErrConflict。
func (t *Tx) UpdateOrder(id string, from model.OrderStatus, updates map[string]any) error {
	res := t.db.Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return wrap(res.Error, "update order")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %s left status %s: %w", id, from, apperr.ErrConflict)
	}
	return nil
}

// SetFinalPrice 仅在订单仍待支付时写入协商价。
func (t *Tx) SetFinalPrice(orderID string, price int64) error {
	return t.UpdateOrder(orderID, model.OrderPendingPayment, map[string]any{"final_price": price})
}

// HasActiveOrderForProduct 商品是否已被一个未终结的订单占用。
func (t *Tx) HasActiveOrderForProduct(productID uint) (bool, error) {
	var n int64
	err := t.db.Model(&model.Order{}).
		Where("product_id = ? AND status IN ?", productID, model.ActiveOrderStatuses).
		Count(&n).Error
	if err != nil {
		return false, wrap(err, "count active orders")
	}
	return n > 0, nil
}

// ListExpiredPending 按 id 游标分页扫描已过期的待支付订单。
func (t *Tx) ListExpiredPending(now time.Time, afterID string, limit int) ([]model.Order, error) {
	var out []model.Order
	err := t.db.
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ? AND id > ?",
			model.OrderPendingPayment, now, afterID).
		Order("id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, wrap(err, "list expired orders")
	}
	return out, nil
}

// ListOrdersByUser 用户作为买家或卖家参与的订单，新单在前。
func (t *Tx) ListOrdersByUser(userID int64, limit int) ([]model.Order, error) {
	var out []model.Order
	err := t.db.
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, wrap(err, "list orders")
	}
	return out, nil
}
