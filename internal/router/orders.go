package router

import (
	"fmt"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/model"
	"campus_market/internal/order"
	"campus_market/internal/settlement"
	rediskey "campus_market/pkg/redis"

	"github.com/gin-gonic/gin"
)

// createOrder 下单：调用方为买家。
func (h *handler) createOrder(c *gin.Context) {
	var req struct {
		SellerID   int64 `json:"seller_id" binding:"required,min=1"`
		ProductID  uint  `json:"product_id" binding:"required,min=1"`
		BasePrice  int64 `json:"base_price" binding:"required,min=1"`
		TTLSeconds int64 `json:"ttl_seconds" binding:"omitempty,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	o, err := h.Settlement.CreateOrder(c.Request.Context(), settlement.CreateRequest{
		BuyerID:   userID(c),
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		BasePrice: req.BasePrice,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}

func (h *handler) listOrders(c *gin.Context) {
	list, err := h.Settlement.ListForUser(c.Request.Context(), userID(c), queryLimit(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

// loadOwnOrder 仅买卖双方可见。
func (h *handler) loadOwnOrder(c *gin.Context) (*model.Order, bool) {
	o, err := h.Settlement.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if order.RoleOf(o, order.User(userID(c))) == order.RoleStranger {
		h.fail(c, fmt.Errorf("order %s: %w", o.ID, apperr.ErrForbidden))
		return nil, false
	}
	return o, true
}

func (h *handler) getOrder(c *gin.Context) {
	if o, found := h.loadOwnOrder(c); found {
		ok(c, o)
	}
}

// payOrder 支持 Idempotency-Key：同一键已成功时直接返回订单当前状态，不再扣款。
func (h *handler) payOrder(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	orderID := c.Param("id")
	idemKey := c.GetHeader("Idempotency-Key")
	useIdem := idemKey != "" && h.Redis != nil

	if useIdem {
		st, found, err := rediskey.GetPayState(ctx, h.Redis, uid, orderID, idemKey)
		if err != nil {
			h.log.Warn("read pay idempotency state", "order_id", orderID, "error", err)
		} else if found && st.Status == rediskey.PaySucceeded {
			o, err := h.Settlement.Get(ctx, orderID)
			if err != nil {
				h.fail(c, err)
				return
			}
			c.Header("Idempotent-Replay", "true")
			ok(c, o)
			return
		}
	}

	o, err := h.Settlement.Pay(ctx, orderID, uid)
	if useIdem {
		st := rediskey.PayState{OrderID: orderID, Status: rediskey.PaySucceeded}
		if err != nil {
			st.Status, st.Reason = rediskey.PayFailed, apperr.Kind(err)
		}
		if perr := rediskey.PutPayState(ctx, h.Redis, uid, idemKey, st, h.IdempotencyTTL); perr != nil {
			h.log.Warn("write pay idempotency state", "order_id", orderID, "error", perr)
		}
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}

func (h *handler) cancelOrder(c *gin.Context) {
	o, err := h.Settlement.Cancel(c.Request.Context(), c.Param("id"), order.User(userID(c)))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}

func (h *handler) refundOrder(c *gin.Context) {
	o, err := h.Settlement.Refund(c.Request.Context(), c.Param("id"), order.User(userID(c)))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}

func (h *handler) shipOrder(c *gin.Context) {
	o, err := h.Settlement.Ship(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}

func (h *handler) deliverOrder(c *gin.Context) {
	o, err := h.Settlement.ConfirmDelivery(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}

func (h *handler) completeOrder(c *gin.Context) {
	o, err := h.Settlement.Complete(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}
