package queue

import (
	"context"
	"log/slog"
	"time"

	"campus_market/internal/logging"
	"campus_market/internal/model"
	"campus_market/internal/store"
)

type RelayConfig struct {
	// Sink 投递哪一类 outbox 记录，默认 kafka
	Sink        string
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// RetryForever 不放弃，退避封顶 MaxBackoff；用于必须最终生效的指令
	RetryForever bool
	MaxBackoff   time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Relay 将 outbox 表中某个 sink 的记录异步投递（Kafka 或 catalog）。
// 语义：发布成功后才标记 sent；失败按 attempts*interval 退避（封顶 MaxBackoff），
// 超过 MaxAttempts 标记 failed，RetryForever 时一直重试。
// 投递失败不会影响已提交的业务事务。
type Relay struct {
	store *store.Store
	pub   Publisher
	cfg   RelayConfig
	log   *slog.Logger
}

func NewRelay(s *store.Store, pub Publisher, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Sink == "" {
		cfg.Sink = model.SinkKafka
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Relay{
		store: s,
		pub:   pub,
		cfg:   cfg,
		log:   logging.OrDefault(cfg.Logger).With("component", "relay", "sink", cfg.Sink),
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		// 批次打满说明还有积压，立即继续
		for {
			sent, _, err := r.DispatchOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.log.Error("relay dispatch failed", "error", err)
				break
			}
			if sent < r.cfg.BatchSize {
				break
			}
		}
	}
}

// DispatchOnce 投递一批到期事件。遇到第一条发布失败即停止本批，尽量保持顺序。
func (r *Relay) DispatchOnce(ctx context.Context) (sent, failed int, err error) {
	now := r.cfg.Now()
	events, err := r.store.Reader(ctx).DueOutbox(r.cfg.Sink, now, r.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	for i := range events {
		ev := &events[i]
		if err := r.publish(ctx, ev); err != nil {
			failed++
			if markErr := r.retry(ctx, ev, now, err); markErr != nil {
				return sent, failed, markErr
			}
			break
		}
		if err := r.store.Atomic(ctx, func(tx *store.Tx) error { return tx.MarkOutboxSent(ev.ID, now) }); err != nil {
			return sent, failed, err
		}
		sent++
	}
	return sent, failed, nil
}

func (r *Relay) publish(ctx context.Context, ev *model.OutboxEvent) error {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.pub.Publish(pctx, ev.AggregateID, ev.Type, ev.Payload)
}

func (r *Relay) retry(ctx context.Context, ev *model.OutboxEvent, now time.Time, cause error) error {
	attempts := ev.Attempts + 1
	giveUp := !r.cfg.RetryForever && attempts >= r.cfg.MaxAttempts
	next := now.Add(min(time.Duration(attempts)*r.cfg.Interval, r.cfg.MaxBackoff))
	if giveUp {
		r.log.Error("event delivery abandoned", "event_id", ev.EventID, "type", ev.Type, "attempts", attempts, "error", cause)
	} else {
		r.log.Warn("event delivery failed, will retry", "event_id", ev.EventID, "type", ev.Type, "attempts", attempts, "next_run_at", next, "error", cause)
	}
	return r.store.Atomic(ctx, func(tx *store.Tx) error {
		return tx.MarkOutboxRetry(ev.ID, attempts, next, cause.Error(), giveUp)
	})
}
