package router

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/logging"
	"campus_market/internal/middleware"
	"campus_market/internal/negotiation"
	"campus_market/internal/settlement"
	"campus_market/internal/wallet"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// Deps 路由依赖。Redis 为空时不启用支付限流与幂等键。
type Deps struct {
	Settlement  *settlement.Coordinator
	Negotiation *negotiation.Tracker
	Wallet      *wallet.Ledger
	Redis       rd.Cmdable
	// Health 返回 nil 表示存储可用
	Health func(ctx context.Context) error
	Logger *slog.Logger

	PayRateLimit  int
	PayRateWindow time.Duration
	AdminToken    string
	// IdempotencyTTL 支付幂等键保留时长
	IdempotencyTTL time.Duration
}

type handler struct {
	Deps
	log *slog.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 24 * time.Hour
	}
	h := &handler{Deps: d, log: logging.OrDefault(d.Logger).With("component", "router")}

	r.GET("/ping", h.ping)

	api := r.Group("/api", middleware.RequireUser())
	// Orders
	api.POST("/orders", h.createOrder)
	api.GET("/orders", h.listOrders)
	api.GET("/orders/:id", h.getOrder)
	pay := []gin.HandlerFunc{}
	if d.Redis != nil && d.PayRateLimit > 0 {
		pay = append(pay, middleware.RedisRateLimit(d.Redis, "pay", d.PayRateLimit, d.PayRateWindow))
	}
	api.POST("/orders/:id/pay", append(pay, h.payOrder)...)
	api.POST("/orders/:id/cancel", h.cancelOrder)
	api.POST("/orders/:id/refund", h.refundOrder)
	api.POST("/orders/:id/ship", h.shipOrder)
	api.POST("/orders/:id/deliver", h.deliverOrder)
	api.POST("/orders/:id/complete", h.completeOrder)
	// Negotiations
	api.POST("/orders/:id/negotiations", h.propose)
	api.GET("/orders/:id/negotiations", h.listNegotiations)
	api.POST("/negotiations/:id/respond", h.respond)
	// Wallet
	api.GET("/wallet/balance", h.balance)
	api.GET("/wallet/entries", h.entries)
	api.POST("/wallet/recharges", h.startRecharge)

	// 支付网关回调（同步通道；异步结果走 Kafka 消费者）
	r.POST("/internal/recharges/:id/result", middleware.RequireAdmin(d.AdminToken), h.rechargeResult)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": msg})
}

// fail 按错误种类映射状态码；内部错误不向外暴露细节。
func (h *handler) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.Kind(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"code": status, "kind": kind, "msg": msg})
}

func userID(c *gin.Context) int64 {
	id, _ := middleware.UserIDFrom(c)
	return id
}

func (h *handler) ping(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "msg": "storage unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"msg": "pong"})
}

func queryLimit(c *gin.Context) int {
	n, _ := strconv.Atoi(c.Query("limit"))
	return n
}
