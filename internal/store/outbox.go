package store

import (
	"strings"
	"time"
	"unicode/utf8"

	"campus_market/internal/model"
)

func (t *Tx) AddOutbox(e *model.OutboxEvent) error {
	return wrap(t.db.Create(e).Error, "add outbox event")
}

// DueOutbox 某个 sink 下到期待投递的事件，按写入顺序。
func (t *Tx) DueOutbox(sink string, now time.Time, limit int) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	err := t.db.
		Where("sink = ? AND status = ? AND next_run_at <= ?", sink, model.OutboxPending, now).
		Order("id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, wrap(err, "list due outbox")
	}
	return out, nil
}

func (t *Tx) MarkOutboxSent(id uint, at time.Time) error {
	err := t.db.Model(&model.OutboxEvent{}).
		Where("id = ? AND status = ?", id, model.OutboxPending).
		Updates(map[string]any{"status": model.OutboxSent, "sent_at": at, "last_error": ""}).Error
	return wrap(err, "mark outbox sent")
}

// MarkOutboxRetry 记录一次失败；giveUp 为 true 时标记为最终失败。
func (t *Tx) MarkOutboxRetry(id uint, attempts int, next time.Time, lastErr string, giveUp bool) error {
	status := model.OutboxPending
	if giveUp {
		status = model.OutboxFailed
	}
	lastErr = truncateUTF8(lastErr, 255)
	err := t.db.Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      status,
			"attempts":    attempts,
			"next_run_at": next,
			"last_error":  lastErr,
		}).Error
	return wrap(err, "mark outbox retry")
}

func (t *Tx) ListOutbox(sink, aggregateID string) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	if err := t.db.Where("sink = ? AND aggregate_id = ?", sink, aggregateID).Order("id").Find(&out).Error; err != nil {
		return nil, wrap(err, "list outbox")
	}
	return out, nil
}

// truncateUTF8 截断到至多 max 字节，不切开多字节字符；非法字节替换掉，Postgres 拒收非法 UTF-8。
func truncateUTF8(s string, max int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "?")
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
