// Package wallet is the only place that mutates user balances.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/logging"
	"campus_market/internal/model"
	"campus_market/internal/store"

	"github.com/google/uuid"
)

// DefaultMaxBalance 单账户余额上限（分）。
const DefaultMaxBalance int64 = 100_000_000

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Options struct {
	MaxBalance int64
	Now        func() time.Time
	Logger     *slog.Logger
}

// Ledger 钱包账本。Debit/Credit/Transfer 必须在调用方打开的工作单元内执行。
type Ledger struct {
	store      *store.Store
	maxBalance int64
	now        func() time.Time
	log        *slog.Logger
}

func New(s *store.Store, opts Options) *Ledger {
	if opts.MaxBalance <= 0 {
		opts.MaxBalance = DefaultMaxBalance
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		store:      s,
		maxBalance: opts.MaxBalance,
		now:        opts.Now,
		log:        logging.OrDefault(opts.Logger).With("component", "wallet"),
	}
}

// OrderRef / RechargeRef 流水的 reference 字段。
func OrderRef(orderID string) string       { return "order:" + orderID }
func RechargeRef(rechargeID string) string { return "recharge:" + rechargeID }

func validAmount(userID, amount int64) error {
	if userID <= 0 {
		return fmt.Errorf("user id %d: %w", userID, apperr.ErrInvalidArgument)
	}
	if amount <= 0 {
		return fmt.Errorf("amount %d must be > 0: %w", amount, apperr.ErrInvalidArgument)
	}
	return nil
}

// Debit 扣减余额；余额不足返回 apperr.ErrInsufficientFunds 且不做任何修改。
func (l *Ledger) Debit(tx *store.Tx, userID, amount int64, reason model.EntryReason, ref string) (*model.WalletEntry, error) {
	if err := validAmount(userID, amount); err != nil {
		return nil, err
	}
	after, err := tx.DebitBalance(userID, amount)
	if err != nil {
		return nil, err
	}
	return l.journal(tx, userID, model.EntryDebit, amount, after, reason, ref)
}

// Credit 增加余额，账户不存在时先创建。
func (l *Ledger) Credit(tx *store.Tx, userID, amount int64, reason model.EntryReason, ref string) (*model.WalletEntry, error) {
	if err := validAmount(userID, amount); err != nil {
		return nil, err
	}
	if err := tx.EnsureAccount(userID); err != nil {
		return nil, err
	}
	after, err := tx.CreditBalance(userID, amount, l.maxBalance)
	if err != nil {
		return nil, err
	}
	return l.journal(tx, userID, model.EntryCredit, amount, after, reason, ref)
}

// Transfer 先扣后加；两边账户按 user_id 升序加锁。
// 任一腿失败都由调用方的工作单元整体回滚。
func (l *Ledger) Transfer(tx *store.Tx, fromUserID, toUserID, amount int64, reason model.EntryReason, ref string) error {
	if fromUserID == toUserID {
		return fmt.Errorf("transfer to self: %w", apperr.ErrInvalidArgument)
	}
	if err := validAmount(fromUserID, amount); err != nil {
		return err
	}
	if err := tx.EnsureAccount(toUserID); err != nil {
		return err
	}
	lo, hi := fromUserID, toUserID
	if lo > hi {
		lo, hi = hi, lo
	}
	if err := tx.LockAccounts(lo, hi); err != nil {
		return err
	}
	if _, err := l.Debit(tx, fromUserID, amount, reason, ref); err != nil {
		return err
	}
	if _, err := l.Credit(tx, toUserID, amount, reason, ref); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) journal(tx *store.Tx, userID int64, dir model.EntryDirection, amount, after int64, reason model.EntryReason, ref string) (*model.WalletEntry, error) {
	e := &model.WalletEntry{
		ID:           uuid.NewString(),
		CreatedAt:    l.now(),
		UserID:       userID,
		Direction:    dir,
		Amount:       amount,
		BalanceAfter: after,
		Reason:       reason,
		Reference:    ref,
	}
	if err := tx.AddEntry(e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetBalance 时点读；账户不存在视为 0。
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	acc, err := l.store.Reader(ctx).GetAccount(userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// HasSufficientBalance 仅供展示；真正扣款时 Debit 会在事务内重新校验。
func (l *Ledger) HasSufficientBalance(ctx context.Context, userID, amount int64) (bool, error) {
	bal, err := l.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal >= amount, nil
}

// History 最近的流水，新的在前。
func (l *Ledger) History(ctx context.Context, userID int64, limit int) ([]model.WalletEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return l.store.Reader(ctx).ListEntries(userID, limit)
}
