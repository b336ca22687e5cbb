package store

import (
	"fmt"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/model"
)

func (t *Tx) CreateRecharge(r *model.RechargeRecord) error {
	return wrap(t.db.Create(r).Error, "create recharge")
}

func (t *Tx) GetRecharge(id string) (*model.RechargeRecord, error) {
	var r model.RechargeRecord
	if err := t.forUpdate().Where("id = ?", id).Take(&r).Error; err != nil {
		return nil, getErr(err, "recharge", id)
	}
	return &r, nil
}

// FinishRecharge CAS：Processing -> to。
func (t *Tx) FinishRecharge(id string, to model.RechargeStatus, at time.Time, errMsg string) error {
	res := t.db.Model(&model.RechargeRecord{}).
		Where("id = ? AND status = ?", id, model.RechargeProcessing).
		Updates(map[string]any{"status": to, "completed_at": at, "error_msg": errMsg})
	if res.Error != nil {
		return wrap(res.Error, "finish recharge")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recharge %s no longer processing: %w", id, apperr.ErrConflict)
	}
	return nil
}
