package queue

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher Relay 依赖的最小发布接口，便于测试替换。
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, payload []byte) error
}

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者：
// - Hash + Key: 同一订单的事件落到同一分区，保持分区内有序。
// - RequireAll: 等待 ISR 副本确认。
// - MaxAttempts/Timeout: 控制重试与超时边界，外层 Relay 还有自己的退避重试。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条事件，key 为聚合 id，事件类型放在 header 里方便下游过滤。
func (p *Producer) Publish(ctx context.Context, key, eventType string, payload []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
	})
}
