package wallet

import (
	"context"
	"errors"
	"fmt"

	"campus_market/internal/apperr"
	"campus_market/internal/model"
	"campus_market/internal/queue"
	"campus_market/internal/store"

	"github.com/google/uuid"
)

// StartRecharge 登记一笔已提交到网关的充值，状态 Processing，尚未入账。
func (l *Ledger) StartRecharge(ctx context.Context, userID, amount int64) (*model.RechargeRecord, error) {
	if err := validAmount(userID, amount); err != nil {
		return nil, err
	}
	if amount > l.maxBalance {
		return nil, fmt.Errorf("recharge %d exceeds balance limit %d: %w", amount, l.maxBalance, apperr.ErrInvalidArgument)
	}
	now := l.now()
	rec := &model.RechargeRecord{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UserID:    userID,
		Amount:    amount,
		Status:    model.RechargeProcessing,
	}
	err := l.store.Atomic(ctx, func(tx *store.Tx) error {
		return tx.CreateRecharge(rec)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("recharge started", "recharge_id", rec.ID, "user_id", userID, "amount", amount)
	return rec, nil
}

// CompleteRecharge 应用网关回调：Processing -> Success 时恰好入账一次，-> Failed 不入账。
// 重复投递同一结果是 no-op；与已落定结果相反的回调返回 apperr.ErrAlreadyTerminal。
func (l *Ledger) CompleteRecharge(ctx context.Context, rechargeID string, success bool, reason string) (*model.RechargeRecord, error) {
	if rechargeID == "" {
		return nil, fmt.Errorf("recharge id is required: %w", apperr.ErrInvalidArgument)
	}
	var (
		out     *model.RechargeRecord
		applied bool
	)
	err := l.store.Atomic(ctx, func(tx *store.Tx) error {
		rec, err := tx.GetRecharge(rechargeID)
		if err != nil {
			return err
		}
		want := model.RechargeFailed
		if success {
			want = model.RechargeSuccess
		}
		if rec.Status != model.RechargeProcessing {
			if rec.Status == want {
				out = rec
				return nil
			}
			return fmt.Errorf("recharge %s already %s: %w", rec.ID, rec.Status, apperr.ErrAlreadyTerminal)
		}

		now := l.now()
		var entry *model.WalletEntry
		if success {
			entry, err = l.Credit(tx, rec.UserID, rec.Amount, model.ReasonRecharge, RechargeRef(rec.ID))
			if err != nil {
				return err
			}
			reason = ""
		}
		if err := tx.FinishRecharge(rec.ID, want, now, reason); err != nil {
			return err
		}
		if entry != nil {
			err := queue.Enqueue(tx, queue.EventWalletRecharged, rec.ID, now, map[string]any{
				"recharge_id":   rec.ID,
				"user_id":       rec.UserID,
				"amount":        rec.Amount,
				"balance_after": entry.BalanceAfter,
			})
			if err != nil {
				return err
			}
		}
		rec.Status = want
		rec.CompletedAt = &now
		rec.ErrorMsg = reason
		out = rec
		applied = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, apperr.ErrAlreadyTerminal) && !errors.Is(err, apperr.ErrNotFound) {
			l.log.Error("complete recharge failed", "recharge_id", rechargeID, "error", err)
		}
		return nil, err
	}
	if applied {
		l.log.Info("recharge completed", "recharge_id", out.ID, "user_id", out.UserID, "status", out.Status.String())
	}
	return out, nil
}
