// Package order owns the order lifecycle: which edges exist, who may take them,
// and which timestamps each edge stamps.
package order

import (
	"fmt"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/model"
	"campus_market/internal/store"

	"github.com/google/uuid"
)

// DefaultTTL 未指定时的支付时限。
const DefaultTTL = 30 * time.Minute

type edge struct {
	from, to model.OrderStatus
}

// edges 全部合法迁移及其允许的角色，表外的迁移一律 InvalidTransition。
var edges = map[edge][]Role{
	{model.OrderPendingPayment, model.OrderPaid}:      {RoleBuyer},
	{model.OrderPaid, model.OrderShipped}:             {RoleSeller},
	{model.OrderShipped, model.OrderDelivered}:        {RoleBuyer},
	{model.OrderDelivered, model.OrderCompleted}:      {RoleBuyer},
	{model.OrderPendingPayment, model.OrderCancelled}: {RoleBuyer, RoleSeller, RoleSystem},
	{model.OrderPaid, model.OrderCancelled}:           {RoleSeller, RoleSystem},
}

type Machine struct {
	now func() time.Time
}

func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Machine{now: now}
}

// CreateParams 建单参数；TTL<=0 时取 DefaultTTL。
type CreateParams struct {
	BuyerID   int64
	SellerID  int64
	ProductID uint
	BasePrice int64
	TTL       time.Duration
}

func (p CreateParams) validate() error {
	switch {
	case p.BuyerID <= 0 || p.SellerID <= 0:
		return fmt.Errorf("buyer and seller are required: %w", apperr.ErrInvalidArgument)
	case p.BuyerID == p.SellerID:
		return fmt.Errorf("buyer cannot buy own product: %w", apperr.ErrInvalidArgument)
	case p.ProductID == 0:
		return fmt.Errorf("product is required: %w", apperr.ErrInvalidArgument)
	case p.BasePrice <= 0:
		return fmt.Errorf("base price must be > 0: %w", apperr.ErrInvalidArgument)
	}
	return nil
}

// Create 在 tx 内建一笔 PendingPayment 订单并写入过期时间。
// 商品已被其它未终结订单占用时返回 InvalidArgument。
func (m *Machine) Create(tx *store.Tx, p CreateParams) (*model.Order, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	busy, err := tx.HasActiveOrderForProduct(p.ProductID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, fmt.Errorf("product %d is not available: %w", p.ProductID, apperr.ErrInvalidArgument)
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	expires := now.Add(ttl)
	o := &model.Order{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		BuyerID:   p.BuyerID,
		SellerID:  p.SellerID,
		ProductID: p.ProductID,
		BasePrice: p.BasePrice,
		Status:    model.OrderPendingPayment,
		ExpiresAt: &expires,
	}
	if err := tx.CreateOrder(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Check 纯校验，不落库。顺序：终态 -> 角色 -> 边 -> 边上的附加条件。
func (m *Machine) Check(o *model.Order, actor Actor, target model.OrderStatus) error {
	if !target.Valid() {
		return fmt.Errorf("target status %d: %w", int(target), apperr.ErrInvalidArgument)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, apperr.ErrAlreadyTerminal)
	}
	role := RoleOf(o, actor)
	if role == RoleStranger {
		return fmt.Errorf("%s is not a party of order %s: %w", actor, o.ID, apperr.ErrForbidden)
	}
	roles, ok := edges[edge{o.Status, target}]
	if !ok {
		return fmt.Errorf("order %s: %s -> %s: %w", o.ID, o.Status, target, apperr.ErrInvalidTransition)
	}
	if !allowed(roles, role) {
		return fmt.Errorf("%s may not move order %s to %s: %w", role, o.ID, target, apperr.ErrForbidden)
	}

	now := m.now()
	switch {
	case o.Status == model.OrderPendingPayment && target == model.OrderPaid:
		if o.Expired(now) {
			return fmt.Errorf("order %s expired at %s: %w", o.ID, o.ExpiresAt.Format(time.RFC3339), apperr.ErrOrderExpired)
		}
	case o.Status == model.OrderPendingPayment && target == model.OrderCancelled && role == RoleSystem:
		if !o.Expired(now) {
			return fmt.Errorf("order %s has not expired yet: %w", o.ID, apperr.ErrInvalidTransition)
		}
	case o.Status == model.OrderPaid && target == model.OrderCancelled:
		if o.RefundedAt == nil {
			return fmt.Errorf("paid order %s must be refunded before cancel: %w", o.ID, apperr.ErrInvalidTransition)
		}
	}
	return nil
}

func allowed(roles []Role, r Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

// Transition 在 tx 内加锁读取订单、校验并以 CAS 写入目标状态与对应时间戳。
func (m *Machine) Transition(tx *store.Tx, orderID string, actor Actor, target model.OrderStatus) (*model.Order, error) {
	o, err := tx.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if err := m.Check(o, actor, target); err != nil {
		return nil, err
	}

	now := m.now()
	updates := map[string]any{"status": target}
	switch target {
	case model.OrderPaid:
		updates["paid_at"] = now
		updates["expires_at"] = nil
		o.PaidAt, o.ExpiresAt = &now, nil
	case model.OrderShipped:
		updates["shipped_at"] = now
		o.ShippedAt = &now
	case model.OrderDelivered:
		updates["delivered_at"] = now
		o.DeliveredAt = &now
	case model.OrderCompleted:
		updates["completed_at"] = now
		o.CompletedAt = &now
	case model.OrderCancelled:
		reason := cancelReason(o, actor)
		updates["cancelled_at"] = now
		updates["cancel_reason"] = reason
		o.CancelledAt, o.CancelReason = &now, reason
	}
	if err := tx.UpdateOrder(o.ID, o.Status, updates); err != nil {
		return nil, err
	}
	o.Status = target
	o.UpdatedAt = now
	return o, nil
}

// MarkRefunded 为已支付订单写退款时间戳，是 Paid -> Cancelled 的前置条件。
func (m *Machine) MarkRefunded(tx *store.Tx, o *model.Order) error {
	now := m.now()
	if err := tx.UpdateOrder(o.ID, model.OrderPaid, map[string]any{"refunded_at": now}); err != nil {
		return err
	}
	o.RefundedAt = &now
	return nil
}

// 取消原因码
const (
	CancelByBuyer  = "buyer_cancelled"
	CancelBySeller = "seller_cancelled"
	CancelExpired  = "expired"
	CancelRefunded = "refunded"
)

func cancelReason(o *model.Order, actor Actor) string {
	if o.Status == model.OrderPaid {
		return CancelRefunded
	}
	switch RoleOf(o, actor) {
	case RoleBuyer:
		return CancelByBuyer
	case RoleSeller:
		return CancelBySeller
	default:
		return CancelExpired
	}
}
