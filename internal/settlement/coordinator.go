// Package settlement binds the order state machine, the wallet ledger and the
// negotiation tracker into order-affecting operations. Every operation that moves
// money or status runs as one unit of work. Catalog commands are queued in the
// same unit and applied later by the catalog relay, so they never undo it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/catalog"
	"campus_market/internal/logging"
	"campus_market/internal/model"
	"campus_market/internal/negotiation"
	"campus_market/internal/order"
	"campus_market/internal/queue"
	"campus_market/internal/store"
	"campus_market/internal/wallet"
)

type Options struct {
	// OrderTTL 新订单的支付时限
	OrderTTL time.Duration
	Catalog  catalog.Catalog
	Now      func() time.Time
	Logger   *slog.Logger
}

type Coordinator struct {
	store   *store.Store
	machine *order.Machine
	ledger  *wallet.Ledger
	tracker *negotiation.Tracker
	catalog catalog.Catalog

	ttl time.Duration
	now func() time.Time
	log *slog.Logger
}

func New(s *store.Store, ledger *wallet.Ledger, tracker *negotiation.Tracker, opts Options) *Coordinator {
	if opts.OrderTTL <= 0 {
		opts.OrderTTL = order.DefaultTTL
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Noop{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		store:   s,
		machine: order.NewMachine(opts.Now),
		ledger:  ledger,
		tracker: tracker,
		catalog: opts.Catalog,
		ttl:     opts.OrderTTL,
		now:     opts.Now,
		log:     logging.OrDefault(opts.Logger).With("component", "settlement"),
	}
}

// CreateRequest 下单参数；TTL<=0 时使用 Options.OrderTTL。
type CreateRequest struct {
	BuyerID   int64
	SellerID  int64
	ProductID uint
	BasePrice int64
	TTL       time.Duration
}

// CreateOrder 校验商品可用后建单，同一工作单元内登记 catalog 占用指令。
func (c *Coordinator) CreateOrder(ctx context.Context, req CreateRequest) (*model.Order, error) {
	ok, err := c.catalog.Available(ctx, req.ProductID)
	switch {
	case err != nil:
		// catalog 不可用不阻塞下单，商品互斥仍由数据库保证
		c.log.Warn("catalog availability check failed", "product_id", req.ProductID, "error", err)
	case !ok && !c.staleHold(ctx, req.ProductID):
		return nil, fmt.Errorf("product %d is not available: %w", req.ProductID, apperr.ErrInvalidArgument)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = c.ttl
	}
	var o *model.Order
	err = c.store.Atomic(ctx, func(tx *store.Tx) error {
		var err error
		o, err = c.machine.Create(tx, order.CreateParams{
			BuyerID:   req.BuyerID,
			SellerID:  req.SellerID,
			ProductID: req.ProductID,
			BasePrice: req.BasePrice,
			TTL:       ttl,
		})
		if err != nil {
			return err
		}
		if err := c.command(tx, queue.CatalogReserve, o); err != nil {
			return err
		}
		return c.emit(tx, queue.EventOrderCreated, o, "")
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("order created", "order_id", o.ID, "buyer_id", o.BuyerID, "seller_id", o.SellerID,
		"product_id", o.ProductID, "base_price", o.BasePrice, "expires_at", o.ExpiresAt)
	return o, nil
}

// Get 时点读。
func (c *Coordinator) Get(ctx context.Context, orderID string) (*model.Order, error) {
	return c.store.Reader(ctx).GetOrder(orderID)
}

// ListForUser 用户作为买家或卖家的订单。
func (c *Coordinator) ListForUser(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return c.store.Reader(ctx).ListOrdersByUser(userID, limit)
}

// Pay 在一个工作单元内：校验 -> 买家转账给卖家 -> PendingPayment -> Paid -> 关闭未决报价 -> 写事件。
// 转账失败返回 PaymentFailed（包裹具体原因），订单保持待支付；
// 已被取消返回 AlreadyTerminal，已过期未扫描返回 OrderExpired。
func (c *Coordinator) Pay(ctx context.Context, orderID string, payerID int64) (*model.Order, error) {
	actor := order.User(payerID)
	var paid *model.Order
	err := c.store.Atomic(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if err := c.machine.Check(o, actor, model.OrderPaid); err != nil {
			return err
		}
		amount := o.ChargeAmount()
		if err := c.ledger.Transfer(tx, o.BuyerID, o.SellerID, amount, model.ReasonOrderPayment, wallet.OrderRef(o.ID)); err != nil {
			return paymentFailed(err)
		}
		paid, err = c.machine.Transition(tx, o.ID, actor, model.OrderPaid)
		if err != nil {
			return err
		}
		if _, err := c.tracker.RejectOpen(tx, o.ID); err != nil {
			return err
		}
		return c.emit(tx, queue.EventOrderPaid, paid, "")
	})
	if err != nil {
		c.logFailure("pay", orderID, actor, err)
		return nil, err
	}
	c.log.Info("order paid", "order_id", paid.ID, "buyer_id", paid.BuyerID, "seller_id", paid.SellerID, "amount", paid.ChargeAmount())
	return paid, nil
}

// Cancel 取消待支付订单。系统身份只能取消已过期的订单（过期扫描）。
// 已支付订单不能直接取消，必须走 Refund。
func (c *Coordinator) Cancel(ctx context.Context, orderID string, actor order.Actor) (*model.Order, error) {
	var cancelled *model.Order
	err := c.store.Atomic(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o.Status == model.OrderPaid {
			if err := c.machine.Check(o, actor, model.OrderCancelled); errors.Is(err, apperr.ErrForbidden) {
				return err
			}
			return fmt.Errorf("order %s is paid, refund it instead: %w", o.ID, apperr.ErrInvalidTransition)
		}
		cancelled, err = c.machine.Transition(tx, orderID, actor, model.OrderCancelled)
		if err != nil {
			return err
		}
		if _, err := c.tracker.RejectOpen(tx, orderID); err != nil {
			return err
		}
		if err := c.command(tx, queue.CatalogRelease, cancelled); err != nil {
			return err
		}
		typ := queue.EventOrderCancelled
		if actor.IsSystem() {
			typ = queue.EventOrderExpired
		}
		return c.emit(tx, typ, cancelled, cancelled.CancelReason)
	})
	if err != nil {
		c.logFailure("cancel", orderID, actor, err)
		return nil, err
	}
	c.log.Info("order cancelled", "order_id", cancelled.ID, "actor", actor.String(), "reason", cancelled.CancelReason)
	return cancelled, nil
}

// Refund 已支付订单的取消流程：卖家把货款原路退回买家，写退款时间戳，再 Paid -> Cancelled。
// 卖家余额不足以退款时返回 PaymentFailed，不做任何修改。
func (c *Coordinator) Refund(ctx context.Context, orderID string, actor order.Actor) (*model.Order, error) {
	var refunded *model.Order
	err := c.store.Atomic(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, apperr.ErrAlreadyTerminal)
		}
		if role := order.RoleOf(o, actor); role != order.RoleSeller && role != order.RoleSystem {
			return fmt.Errorf("%s may not refund order %s: %w", role, o.ID, apperr.ErrForbidden)
		}
		if o.Status != model.OrderPaid {
			return fmt.Errorf("order %s is %s, only paid orders can be refunded: %w", o.ID, o.Status, apperr.ErrInvalidTransition)
		}
		amount := o.ChargeAmount()
		if err := c.ledger.Transfer(tx, o.SellerID, o.BuyerID, amount, model.ReasonOrderRefund, wallet.OrderRef(o.ID)); err != nil {
			return paymentFailed(err)
		}
		if err := c.machine.MarkRefunded(tx, o); err != nil {
			return err
		}
		refunded, err = c.machine.Transition(tx, o.ID, actor, model.OrderCancelled)
		if err != nil {
			return err
		}
		if err := c.command(tx, queue.CatalogRelease, refunded); err != nil {
			return err
		}
		return c.emit(tx, queue.EventOrderRefunded, refunded, refunded.CancelReason)
	})
	if err != nil {
		c.logFailure("refund", orderID, actor, err)
		return nil, err
	}
	c.log.Info("order refunded", "order_id", refunded.ID, "actor", actor.String(), "amount", refunded.ChargeAmount())
	return refunded, nil
}

// Ship 卖家发货。
func (c *Coordinator) Ship(ctx context.Context, orderID string, sellerID int64) (*model.Order, error) {
	return c.advance(ctx, orderID, order.User(sellerID), model.OrderShipped, queue.EventOrderShipped, "")
}

// ConfirmDelivery 买家确认收货。
func (c *Coordinator) ConfirmDelivery(ctx context.Context, orderID string, buyerID int64) (*model.Order, error) {
	return c.advance(ctx, orderID, order.User(buyerID), model.OrderDelivered, queue.EventOrderDelivered, "")
}

// Complete 仅状态迁移，资金已在 Pay 时结清；同时登记 catalog 已售指令。
func (c *Coordinator) Complete(ctx context.Context, orderID string, buyerID int64) (*model.Order, error) {
	return c.advance(ctx, orderID, order.User(buyerID), model.OrderCompleted, queue.EventOrderCompleted, queue.CatalogFinalize)
}

// advance 单步迁移；cmd 非空时同一单元内登记 catalog 指令。
func (c *Coordinator) advance(ctx context.Context, orderID string, actor order.Actor, target model.OrderStatus, typ, cmd string) (*model.Order, error) {
	var out *model.Order
	err := c.store.Atomic(ctx, func(tx *store.Tx) error {
		var err error
		out, err = c.machine.Transition(tx, orderID, actor, target)
		if err != nil {
			return err
		}
		if cmd != "" {
			if err := c.command(tx, cmd, out); err != nil {
				return err
			}
		}
		return c.emit(tx, typ, out, "")
	})
	if err != nil {
		c.logFailure(target.String(), orderID, actor, err)
		return nil, err
	}
	c.log.Info("order transitioned", "order_id", out.ID, "actor", actor.String(), "status", out.Status.String())
	return out, nil
}

// paymentFailed 将资金腿的业务失败包装为 PaymentFailed，保留具体原因；存储错误原样返回。
func paymentFailed(err error) error {
	if errors.Is(err, apperr.ErrInsufficientFunds) || errors.Is(err, apperr.ErrInvalidArgument) {
		return fmt.Errorf("%w: %w", apperr.ErrPaymentFailed, err)
	}
	return err
}

// command 登记 catalog 指令，由 catalog relay 至少投递一次。
func (c *Coordinator) command(tx *store.Tx, typ string, o *model.Order) error {
	return queue.EnqueueCatalog(tx, typ, o.ProductID, o.ID, c.now())
}

// staleHold 商品仍被一笔已取消订单占用，说明释放指令还在排队，不阻塞新订单。
func (c *Coordinator) staleHold(ctx context.Context, productID uint) bool {
	hr, ok := c.catalog.(catalog.HoldReporter)
	if !ok {
		return false
	}
	state, holder, err := hr.Hold(ctx, productID)
	if err != nil || state != catalog.StateReserved || holder == "" {
		return false
	}
	o, err := c.store.Reader(ctx).GetOrder(holder)
	if err != nil || o.Status != model.OrderCancelled {
		return false
	}
	c.log.Info("catalog hold is stale, release pending", "product_id", productID, "holder_order_id", holder)
	return true
}

func (c *Coordinator) logFailure(op, orderID string, actor order.Actor, err error) {
	kind := apperr.Kind(err)
	if kind == "internal" {
		c.log.Error("settlement operation failed", "op", op, "order_id", orderID, "actor", actor.String(), "error", err)
		return
	}
	c.log.Debug("settlement operation rejected", "op", op, "order_id", orderID, "actor", actor.String(), "kind", kind, "error", err)
}
