package model

import "time"

// WalletAccount 每个用户一个内部余额账户（单位：分）。
type WalletAccount struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID  int64 `gorm:"not null;uniqueIndex" json:"user_id"`
	Balance int64 `gorm:"not null;default:0" json:"balance"`
	// Version 每次余额变动 +1，便于排查并发写入。
	Version int64 `gorm:"not null;default:0" json:"version"`
}

func (WalletAccount) TableName() string { return "wallet_accounts" }

// EntryDirection 流水方向。
type EntryDirection string

const (
	EntryCredit EntryDirection = "credit"
	EntryDebit  EntryDirection = "debit"
)

// EntryReason 余额变动原因码。
type EntryReason string

const (
	ReasonOrderPayment EntryReason = "order_payment"
	ReasonOrderRefund  EntryReason = "order_refund"
	ReasonRecharge     EntryReason = "recharge"
)

// WalletEntry 每一次 Credit/Debit 对应一条流水，余额变动可追溯到订单或充值。
type WalletEntry struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	UserID       int64          `gorm:"not null;index" json:"user_id"`
	Direction    EntryDirection `gorm:"size:8;not null" json:"direction"`
	Amount       int64          `gorm:"not null" json:"amount"`
	BalanceAfter int64          `gorm:"not null" json:"balance_after"`
	Reason       EntryReason    `gorm:"size:32;not null" json:"reason"`
	// Reference 形如 order:<id> / recharge:<id>
	Reference string `gorm:"size:64;index" json:"reference"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }
