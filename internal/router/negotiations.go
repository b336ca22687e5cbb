package router

import (
	"campus_market/internal/negotiation"

	"github.com/gin-gonic/gin"
)

func (h *handler) propose(c *gin.Context) {
	var req struct {
		Price int64 `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	n, err := h.Negotiation.Propose(c.Request.Context(), c.Param("id"), userID(c), req.Price)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, n)
}

func (h *handler) listNegotiations(c *gin.Context) {
	if _, found := h.loadOwnOrder(c); !found {
		return
	}
	list, err := h.Negotiation.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

// respond body: {"decision":"accept|reject|counter_offer","counter_price":90}
func (h *handler) respond(c *gin.Context) {
	var req struct {
		Decision     string `json:"decision" binding:"required"`
		CounterPrice int64  `json:"counter_price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := negotiation.ParseDecision(req.Decision)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.Negotiation.Respond(c.Request.Context(), c.Param("id"), userID(c), d, req.CounterPrice)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{
		"responded": res.Responded,
		"counter":   res.Counter,
		"order":     res.Order,
	})
}
