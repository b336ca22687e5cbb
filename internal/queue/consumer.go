package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/logging"
	"campus_market/internal/model"

	"github.com/segmentio/kafka-go"
)

// RechargeCompleter 由 wallet.Ledger 实现。
type RechargeCompleter interface {
	CompleteRecharge(ctx context.Context, rechargeID string, success bool, reason string) (*model.RechargeRecord, error)
}

// RechargeResult 支付网关回传的充值结果。
type RechargeResult struct {
	RechargeID string `json:"recharge_id"`
	Status     string `json:"status"` // success / failed
	Reason     string `json:"reason,omitempty"`
}

func (m RechargeResult) Validate() error {
	if m.RechargeID == "" {
		return fmt.Errorf("recharge_id is required")
	}
	if m.Status != "success" && m.Status != "failed" {
		return fmt.Errorf("status must be success or failed, got %q", m.Status)
	}
	return nil
}

// Consumer 消费充值结果。处理完成后才提交 offset（至少一次），CompleteRecharge 本身幂等。
type Consumer struct {
	r   *kafka.Reader
	h   RechargeCompleter
	log *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, h RechargeCompleter, logger *slog.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
		}),
		h:   h,
		log: logging.OrDefault(logger).With("component", "recharge_consumer"),
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("fetch recharge result", "error", err)
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		// 可重试错误原地退避重试，直到成功或退出，再提交 offset
		for attempt := 1; ; attempt++ {
			err := Handle(ctx, c.h, m.Value, c.log)
			if err == nil {
				break
			}
			c.log.Warn("handle recharge result failed, retrying", "offset", m.Offset, "attempt", attempt, "error", err)
			if !sleepCtx(ctx, backoff(attempt)) {
				return nil
			}
		}
		if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Error("commit recharge result", "offset", m.Offset, "error", err)
		}
	}
}

// Handle 处理一条消息。脏消息与业务上已无法应用的结果记日志后丢弃（返回 nil），
// 只有基础设施错误返回 error 供调用方重试。
func Handle(ctx context.Context, h RechargeCompleter, value []byte, log *slog.Logger) error {
	log = logging.OrDefault(log)
	var msg RechargeResult
	if err := json.Unmarshal(value, &msg); err != nil {
		log.Warn("drop malformed recharge result", "error", err)
		return nil
	}
	if err := msg.Validate(); err != nil {
		log.Warn("drop invalid recharge result", "error", err)
		return nil
	}
	_, err := h.CompleteRecharge(ctx, msg.RechargeID, msg.Status == "success", msg.Reason)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrAlreadyTerminal),
		errors.Is(err, apperr.ErrInvalidArgument):
		log.Warn("drop unappliable recharge result", "recharge_id", msg.RechargeID, "kind", apperr.Kind(err), "error", err)
		return nil
	default:
		return err
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 500 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
