package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"campus_market/internal/model"
	"campus_market/internal/store"

	"github.com/google/uuid"
)

// 事件类型，写入 Kafka 时原样作为 type 字段。
const (
	EventOrderCreated   = "order.created"
	EventOrderPaid      = "order.paid"
	EventOrderShipped   = "order.shipped"
	EventOrderDelivered = "order.delivered"
	EventOrderCompleted = "order.completed"
	EventOrderCancelled = "order.cancelled"
	EventOrderExpired   = "order.expired"
	EventOrderRefunded  = "order.refunded"

	EventNegotiationProposed  = "negotiation.proposed"
	EventNegotiationCountered = "negotiation.countered"
	EventNegotiationAccepted  = "negotiation.accepted"
	EventNegotiationRejected  = "negotiation.rejected"

	EventWalletRecharged = "wallet.recharged"

	// catalog 指令，只走 catalog sink，不发往 Kafka。
	CatalogReserve  = "catalog.reserve"
	CatalogRelease  = "catalog.release"
	CatalogFinalize = "catalog.finalize"
)

var knownEvents = map[string]bool{
	EventOrderCreated: true, EventOrderPaid: true, EventOrderShipped: true,
	EventOrderDelivered: true, EventOrderCompleted: true, EventOrderCancelled: true,
	EventOrderExpired: true, EventOrderRefunded: true,
	EventNegotiationProposed: true, EventNegotiationCountered: true,
	EventNegotiationAccepted: true, EventNegotiationRejected: true,
	EventWalletRecharged: true,
	CatalogReserve: true, CatalogRelease: true, CatalogFinalize: true,
}

// CatalogCommand catalog 指令负载。
type CatalogCommand struct {
	ProductID uint   `json:"product_id"`
	OrderID   string `json:"order_id"`
}

// Event 是写入 outbox 并最终投递到 Kafka 的领域事件。
type Event struct {
	ID          string          `json:"event_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// Validate 做最小字段校验，防止投递脏消息。
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event_id is required")
	}
	if !knownEvents[e.Type] {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.AggregateID == "" {
		return fmt.Errorf("aggregate_id is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// Enqueue 在调用方的工作单元内写入一条 outbox 记录，随业务状态一起提交或回滚。
func Enqueue(tx *store.Tx, typ, aggregateID string, at time.Time, data any) error {
	return enqueue(tx, model.SinkKafka, typ, aggregateID, at, data)
}

// EnqueueCatalog 在同一工作单元内登记一条 catalog 指令，由 catalog relay 重试直到成功。
func EnqueueCatalog(tx *store.Tx, typ string, productID uint, orderID string, at time.Time) error {
	switch typ {
	case CatalogReserve, CatalogRelease, CatalogFinalize:
	default:
		return fmt.Errorf("unknown catalog command %q", typ)
	}
	return enqueue(tx, model.SinkCatalog, typ, orderID, at, CatalogCommand{ProductID: productID, OrderID: orderID})
}

func enqueue(tx *store.Tx, sink, typ, aggregateID string, at time.Time, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	ev := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		AggregateID: aggregateID,
		OccurredAt:  at,
		Data:        raw,
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return tx.AddOutbox(&model.OutboxEvent{
		Sink:        sink,
		EventID:     ev.ID,
		Type:        ev.Type,
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      model.OutboxPending,
		NextRunAt:   at,
	})
}

// DecodeEvent 解析 outbox payload。
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, ev.Validate()
}
