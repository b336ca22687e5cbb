package model

import "time"

// OutboxStatus 事件投递状态。
type OutboxStatus int

const (
	OutboxPending OutboxStatus = iota // 待投递（含重试中）
	OutboxSent                        // 已写入 Kafka
	OutboxFailed                      // 超过最大重试次数，放弃
)

// 投递目标：领域事件发往 Kafka，商品占用指令发往 catalog。
const (
	SinkKafka   = "kafka"
	SinkCatalog = "catalog"
)

// OutboxEvent 与业务状态在同一事务内落库，由各 Sink 的 Relay 异步投递。
type OutboxEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Sink string `gorm:"size:16;not null;default:'kafka';index" json:"sink"`

	EventID     string       `gorm:"size:36;uniqueIndex;not null" json:"event_id"`
	Type        string       `gorm:"size:64;not null" json:"type"`
	AggregateID string       `gorm:"size:64;not null;index" json:"aggregate_id"`
	Payload     []byte       `gorm:"not null" json:"payload"`
	Status      OutboxStatus `gorm:"not null;default:0;index" json:"status"`
	Attempts    int          `gorm:"not null;default:0" json:"attempts"`
	NextRunAt   time.Time    `gorm:"index" json:"next_run_at"`
	SentAt      *time.Time   `json:"sent_at,omitempty"`
	LastError   string       `gorm:"size:255" json:"last_error,omitempty"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
