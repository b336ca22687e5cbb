package model

import (
	"fmt"
	"time"
)

// RechargeStatus 充值单状态机：Processing -> Success | Failed。
type RechargeStatus int

const (
	RechargeProcessing RechargeStatus = iota + 1 // 已提交网关，等待回调
	RechargeSuccess                              // 到账，已入账钱包
	RechargeFailed                               // 网关失败，不入账
)

var rechargeStatusNames = map[RechargeStatus]string{
	RechargeProcessing: "processing",
	RechargeSuccess:    "success",
	RechargeFailed:     "failed",
}

func (s RechargeStatus) String() string {
	if n, ok := rechargeStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("recharge_status(%d)", int(s))
}

func (s RechargeStatus) MarshalText() ([]byte, error) {
	if _, ok := rechargeStatusNames[s]; !ok {
		return nil, fmt.Errorf("invalid recharge status %d", int(s))
	}
	return []byte(s.String()), nil
}

// RechargeRecord 一次外部充值。
type RechargeRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID      int64          `gorm:"not null;index" json:"user_id"`
	Amount      int64          `gorm:"not null" json:"amount"`
	Status      RechargeStatus `gorm:"not null;index" json:"status"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ErrorMsg    string         `gorm:"size:255" json:"error_msg,omitempty"`
}

func (RechargeRecord) TableName() string { return "recharge_records" }
