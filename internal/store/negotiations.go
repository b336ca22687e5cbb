package store

import (
	"fmt"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/model"
)

func (t *Tx) CreateNegotiation(n *model.Negotiation) error {
	return wrap(t.db.Create(n).Error, "create negotiation")
}

func (t *Tx) GetNegotiation(id string) (*model.Negotiation, error) {
	var n model.Negotiation
	if err := t.forUpdate().Where("id = ?", id).Take(&n).Error; err != nil {
		return nil, getErr(err, "negotiation", id)
	}
	return &n, nil
}

// OpenNegotiations 订单当前未决的报价（正常情况下至多一条）。
func (t *Tx) OpenNegotiations(orderID string) ([]model.Negotiation, error) {
	var out []model.Negotiation
	err := t.forUpdate().
		Where("order_id = ? AND status IN ?", orderID, model.OpenNegotiationStatuses).
		Order("created_at").
		Find(&out).Error
	if err != nil {
		return nil, wrap(err, "list open negotiations")
	}
	return out, nil
}

// CloseNegotiation CAS：仅当报价仍处于 from 状态时改为 to。
func (t *Tx) CloseNegotiation(id string, from, to model.NegotiationStatus, at time.Time) error {
	res := t.db.Model(&model.Negotiation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "responded_at": at})
	if res.Error != nil {
		return wrap(res.Error, "close negotiation")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("negotiation %s left status %s: %w", id, from, apperr.ErrConflict)
	}
	return nil
}

// RejectOpenNegotiations 将订单所有未决报价标记为 Rejected，返回受影响条数。
func (t *Tx) RejectOpenNegotiations(orderID string, at time.Time) (int64, error) {
	res := t.db.Model(&model.Negotiation{}).
		Where("order_id = ? AND status IN ?", orderID, model.OpenNegotiationStatuses).
		Updates(map[string]any{"status": model.NegotiationRejected, "responded_at": at})
	if res.Error != nil {
		return 0, wrap(res.Error, "reject open negotiations")
	}
	return res.RowsAffected, nil
}

func (t *Tx) ListNegotiations(orderID string) ([]model.Negotiation, error) {
	var out []model.Negotiation
	err := t.db.Where("order_id = ?", orderID).Order("created_at, id").Find(&out).Error
	if err != nil {
		return nil, wrap(err, "list negotiations")
	}
	return out, nil
}
