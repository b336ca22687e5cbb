package store

import (
	"fmt"

	"campus_market/internal/apperr"
	"campus_market/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (t *Tx) GetAccount(userID int64) (*model.WalletAccount, error) {
	var acc model.WalletAccount
	if err := t.db.Where("user_id = ?", userID).Take(&acc).Error; err != nil {
		return nil, getErr(err, "wallet account", userID)
	}
	return &acc, nil
}

// EnsureAccount 账户不存在则创建（并发创建时依赖 user_id 唯一索引）。
func (t *Tx) EnsureAccount(userID int64) error {
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&model.WalletAccount{UserID: userID}).Error
	return wrap(err, "ensure wallet account")
}

// LockAccounts 按 user_id 升序锁定账户行，固定加锁顺序避免转账互锁。
func (t *Tx) LockAccounts(userIDs ...int64) error {
	var accs []model.WalletAccount
	err := t.forUpdate().
		Where("user_id IN ?", userIDs).
		Order("user_id").
		Find(&accs).Error
	return wrap(err, "lock wallet accounts")
}

// DebitBalance 单条条件 UPDATE 扣减余额，余额不足（或账户不存在）时不做任何修改。
func (t *Tx) DebitBalance(userID, amount int64) (int64, error) {
	res := t.db.Model(&model.WalletAccount{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]any{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, wrap(res.Error, "debit balance")
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("user %d debit %d: %w", userID, amount, apperr.ErrInsufficientFunds)
	}
	return t.balanceOf(userID)
}

// CreditBalance 单条条件 UPDATE 增加余额；超过 maxBalance 时拒绝。
func (t *Tx) CreditBalance(userID, amount, maxBalance int64) (int64, error) {
	res := t.db.Model(&model.WalletAccount{}).
		Where("user_id = ? AND balance <= ?", userID, maxBalance-amount).
		Updates(map[string]any{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, wrap(res.Error, "credit balance")
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("user %d credit %d exceeds balance limit %d: %w",
			userID, amount, maxBalance, apperr.ErrInvalidArgument)
	}
	return t.balanceOf(userID)
}

func (t *Tx) balanceOf(userID int64) (int64, error) {
	acc, err := t.GetAccount(userID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func (t *Tx) AddEntry(e *model.WalletEntry) error {
	return wrap(t.db.Create(e).Error, "add wallet entry")
}

// ListEntries 最近的流水，新的在前。
func (t *Tx) ListEntries(userID int64, limit int) ([]model.WalletEntry, error) {
	var out []model.WalletEntry
	err := t.db.Where("user_id = ?", userID).
		Order("created_at DESC, id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, wrap(err, "list wallet entries")
	}
	return out, nil
}

// EntriesByReference 某个订单/充值产生的全部流水。
func (t *Tx) EntriesByReference(ref string) ([]model.WalletEntry, error) {
	var out []model.WalletEntry
	if err := t.db.Where("reference = ?", ref).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, wrap(err, "list entries by reference")
	}
	return out, nil
}
