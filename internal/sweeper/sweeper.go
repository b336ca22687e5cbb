// Package sweeper periodically cancels pending orders whose payment deadline
// has passed, through the settlement coordinator's system cancel path.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/logging"
	"campus_market/internal/model"
	"campus_market/internal/order"
	"campus_market/internal/store"
)

// Canceller 由 settlement.Coordinator 实现。
type Canceller interface {
	Cancel(ctx context.Context, orderID string, actor order.Actor) (*model.Order, error)
}

// Locker 多实例部署时保证同一周期只有一个实例在扫。
type Locker interface {
	// TryLock 拿不到锁时返回 ok=false；拿到时 unlock 必须被调用。
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

type Config struct {
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
	Locker     Locker
	Now        func() time.Time
	Logger     *slog.Logger
}

// Stats 单轮扫描结果。
type Stats struct {
	Scanned   int
	Cancelled int
	Skipped   int // 已被并发支付/取消，不再是待支付
	Failed    int
	// LockBusy 本轮因其它实例持锁而跳过
	LockBusy bool
}

type Sweeper struct {
	store  *store.Store
	cancel Canceller
	cfg    Config
	log    *slog.Logger
}

func New(s *store.Store, c Canceller, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 20
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{
		store:  s,
		cancel: c,
		cfg:    cfg,
		log:    logging.OrDefault(cfg.Logger).With("component", "sweeper"),
	}
}

// Run 启动即扫一次，之后按 Interval 周期执行，直到 ctx 取消。
// 单轮失败只记录日志，下一轮重试。
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper started", "interval", s.cfg.Interval.String(), "batch_size", s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.runCycle(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runCycle(ctx context.Context) {
	start := time.Now()
	st, err := s.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("sweep cycle failed", "error", err, "scanned", st.Scanned, "cancelled", st.Cancelled)
		return
	}
	if st.Scanned > 0 {
		s.log.Info("sweep cycle done",
			"scanned", st.Scanned, "cancelled", st.Cancelled, "skipped", st.Skipped,
			"failed", st.Failed, "took", time.Since(start).String())
	}
}

// SweepOnce 按 id 游标分页扫描过期待支付订单，至多 MaxBatches 批。
// 单个订单失败不影响其它订单；查询失败（存储不可用）中止本轮并返回错误。
func (s *Sweeper) SweepOnce(ctx context.Context) (Stats, error) {
	var st Stats
	if s.cfg.Locker != nil {
		unlock, ok, err := s.cfg.Locker.TryLock(ctx)
		if err != nil {
			return st, err
		}
		if !ok {
			st.LockBusy = true
			return st, nil
		}
		defer unlock()
	}

	now := s.cfg.Now()
	after := ""
	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		page, err := s.store.Reader(ctx).ListExpiredPending(now, after, s.cfg.BatchSize)
		if err != nil {
			return st, err
		}
		for _, o := range page {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			st.Scanned++
			s.cancelOne(ctx, o.ID, &st)
			after = o.ID
		}
		if len(page) < s.cfg.BatchSize {
			break
		}
	}
	return st, nil
}

func (s *Sweeper) cancelOne(ctx context.Context, orderID string, st *Stats) {
	_, err := s.cancel.Cancel(ctx, orderID, order.System)
	switch {
	case err == nil:
		st.Cancelled++
	case skippable(err):
		st.Skipped++
		s.log.Debug("order no longer pending, skipped", "order_id", orderID, "kind", apperr.Kind(err))
	default:
		st.Failed++
		s.log.Warn("cancel expired order failed", "order_id", orderID, "error", err)
	}
}

// skippable 订单已被并发支付或取消：重复扫描是 no-op。
func skippable(err error) bool {
	return errors.Is(err, apperr.ErrAlreadyTerminal) ||
		errors.Is(err, apperr.ErrInvalidTransition) ||
		errors.Is(err, apperr.ErrConflict) ||
		errors.Is(err, apperr.ErrNotFound)
}
