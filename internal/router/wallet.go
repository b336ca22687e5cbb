package router

import (
	"github.com/gin-gonic/gin"
)

func (h *handler) balance(c *gin.Context) {
	uid := userID(c)
	b, err := h.Wallet.GetBalance(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"user_id": uid, "balance": b})
}

func (h *handler) entries(c *gin.Context) {
	list, err := h.Wallet.History(c.Request.Context(), userID(c), queryLimit(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

// startRecharge 登记充值单，由支付网关异步回调结果。
func (h *handler) startRecharge(c *gin.Context) {
	var req struct {
		Amount int64 `json:"amount" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rec, err := h.Wallet.StartRecharge(c.Request.Context(), userID(c), req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, rec)
}

// rechargeResult 网关同步回调：{"status":"success|failed","reason":"..."}
func (h *handler) rechargeResult(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required,oneof=success failed"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rec, err := h.Wallet.CompleteRecharge(c.Request.Context(), c.Param("id"), req.Status == "success", req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, rec)
}
