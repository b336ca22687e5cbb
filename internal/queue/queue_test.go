package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"campus_market/internal/model"
	"campus_market/internal/queue"
	"campus_market/internal/store"
	"campus_market/internal/store/storetest"
	"campus_market/internal/wallet"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func enqueue(t *testing.T, s *store.Store, typ, agg string) {
	t.Helper()
	err := s.Atomic(context.Background(), func(tx *store.Tx) error {
		return queue.Enqueue(tx, typ, agg, t0, map[string]string{"order_id": agg})
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestEnqueueRoundTrip(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	enqueue(t, s, queue.EventOrderPaid, "o1")

	rows, err := s.Reader(context.Background()).ListOutbox(model.SinkKafka, "o1")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one outbox row, got %d err=%v", len(rows), err)
	}
	ev, err := queue.DecodeEvent(rows[0].Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != queue.EventOrderPaid || ev.AggregateID != "o1" || ev.ID != rows[0].EventID {
		t.Fatalf("unexpected event %+v", ev)
	}
	var data map[string]string
	if err := json.Unmarshal(ev.Data, &data); err != nil || data["order_id"] != "o1" {
		t.Fatalf("unexpected data %s err=%v", ev.Data, err)
	}
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	err := s.Atomic(context.Background(), func(tx *store.Tx) error {
		return queue.Enqueue(tx, "order.teleported", "o1", t0, nil)
	})
	if err == nil {
		t.Fatalf("expected unknown event type to be rejected")
	}
}

// fakePublisher 前 failN 次发布失败。
type fakePublisher struct {
	mu    sync.Mutex
	failN int
	keys  []string
}

func (p *fakePublisher) Publish(_ context.Context, key, _ string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failN > 0 {
		p.failN--
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, key)
	return nil
}

func TestRelayPublishesAndMarksSent(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	for _, id := range []string{"o1", "o2", "o3"} {
		enqueue(t, s, queue.EventOrderCreated, id)
	}
	pub := &fakePublisher{}
	r := queue.NewRelay(s, pub, queue.RelayConfig{BatchSize: 10, Now: func() time.Time { return t0 }})

	sent, failed, err := r.DispatchOnce(context.Background())
	if err != nil || sent != 3 || failed != 0 {
		t.Fatalf("expected 3 sent, got sent=%d failed=%d err=%v", sent, failed, err)
	}
	if len(pub.keys) != 3 || pub.keys[0] != "o1" || pub.keys[2] != "o3" {
		t.Fatalf("expected in-order publish, got %v", pub.keys)
	}

	sent, _, err = r.DispatchOnce(context.Background())
	if err != nil || sent != 0 {
		t.Fatalf("expected nothing left, got sent=%d err=%v", sent, err)
	}
}

func TestRelayBacksOffThenGivesUp(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	enqueue(t, s, queue.EventOrderCreated, "o1")

	now := t0
	pub := &fakePublisher{failN: 100}
	r := queue.NewRelay(s, pub, queue.RelayConfig{
		Interval: time.Second, BatchSize: 10, MaxAttempts: 3,
		Now: func() time.Time { return now },
	})
	ctx := context.Background()

	if _, failed, err := r.DispatchOnce(ctx); err != nil || failed != 1 {
		t.Fatalf("expected one failure, got failed=%d err=%v", failed, err)
	}
	rows, _ := s.Reader(ctx).ListOutbox(model.SinkKafka, "o1")
	if rows[0].Attempts != 1 || rows[0].Status != model.OutboxPending || !rows[0].NextRunAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("unexpected row after first failure %+v", rows[0])
	}

	// 退避期内不重试
	if _, failed, _ := r.DispatchOnce(ctx); failed != 0 {
		t.Fatalf("expected backoff to suppress retry, got %d failures", failed)
	}

	for i := 0; i < 2; i++ {
		now = now.Add(time.Minute)
		if _, _, err := r.DispatchOnce(ctx); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	rows, _ = s.Reader(ctx).ListOutbox(model.SinkKafka, "o1")
	if rows[0].Status != model.OutboxFailed || rows[0].Attempts != 3 || rows[0].LastError == "" {
		t.Fatalf("expected failed after max attempts, got %+v", rows[0])
	}
}

func TestRelayRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	enqueue(t, s, queue.EventOrderCreated, "o1")
	enqueue(t, s, queue.EventOrderPaid, "o1")

	now := t0
	pub := &fakePublisher{failN: 1}
	r := queue.NewRelay(s, pub, queue.RelayConfig{Interval: time.Second, BatchSize: 10, Now: func() time.Time { return now }})
	ctx := context.Background()

	sent, failed, err := r.DispatchOnce(ctx)
	if err != nil || sent != 0 || failed != 1 {
		t.Fatalf("expected batch to stop at first failure, got sent=%d failed=%d err=%v", sent, failed, err)
	}
	now = now.Add(2 * time.Second)
	sent, _, err = r.DispatchOnce(ctx)
	if err != nil || sent != 2 {
		t.Fatalf("expected both events after backoff, got sent=%d err=%v", sent, err)
	}
}

func TestCatalogSinkRetriesForever(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()
	err := s.Atomic(ctx, func(tx *store.Tx) error {
		return queue.EnqueueCatalog(tx, queue.CatalogRelease, 7, "o1", t0)
	})
	if err != nil {
		t.Fatalf("enqueue catalog: %v", err)
	}
	enqueue(t, s, queue.EventOrderCancelled, "o1")

	now := t0
	pub := &fakePublisher{failN: 20}
	r := queue.NewRelay(s, pub, queue.RelayConfig{
		Sink: model.SinkCatalog, Interval: time.Second, BatchSize: 10, MaxAttempts: 2,
		RetryForever: true, MaxBackoff: 3 * time.Second,
		Now: func() time.Time { return now },
	})

	for i := 0; i < 10; i++ {
		if _, _, err := r.DispatchOnce(ctx); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		now = now.Add(3 * time.Second)
	}
	rows, _ := s.Reader(ctx).ListOutbox(model.SinkCatalog, "o1")
	if len(rows) != 1 || rows[0].Status != model.OutboxPending || rows[0].Attempts != 10 {
		t.Fatalf("expected command still pending after 10 attempts, got %+v", rows)
	}
	if wait := rows[0].NextRunAt.Sub(now.Add(-3 * time.Second)); wait != 3*time.Second {
		t.Fatalf("expected backoff capped at 3s, got %v", wait)
	}
	if len(pub.keys) != 0 {
		t.Fatalf("expected kafka events untouched by catalog relay, got %v", pub.keys)
	}

	pub.mu.Lock()
	pub.failN = 0
	pub.mu.Unlock()
	if sent, _, err := r.DispatchOnce(ctx); err != nil || sent != 1 {
		t.Fatalf("expected command delivered after recovery, got sent=%d err=%v", sent, err)
	}
}

func TestEnqueueCatalogRejectsUnknownCommand(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	err := s.Atomic(context.Background(), func(tx *store.Tx) error {
		return queue.EnqueueCatalog(tx, queue.EventOrderPaid, 7, "o1", t0)
	})
	if err == nil {
		t.Fatalf("expected unknown catalog command rejected")
	}
}

func TestHandleRechargeResult(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	l := wallet.New(s, wallet.Options{})
	ctx := context.Background()

	rec, err := l.StartRecharge(ctx, 4, 250)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	msg, _ := json.Marshal(queue.RechargeResult{RechargeID: rec.ID, Status: "success"})

	for i := 0; i < 2; i++ {
		if err := queue.Handle(ctx, l, msg, nil); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}
	if b, _ := l.GetBalance(ctx, 4); b != 250 {
		t.Fatalf("expected 250 after duplicate delivery, got %d", b)
	}

	drops := [][]byte{
		[]byte("not json"),
		[]byte(`{"recharge_id":"","status":"success"}`),
		[]byte(`{"recharge_id":"x","status":"maybe"}`),
		[]byte(`{"recharge_id":"missing","status":"success"}`),
	}
	contradict, _ := json.Marshal(queue.RechargeResult{RechargeID: rec.ID, Status: "failed"})
	drops = append(drops, contradict)
	for _, d := range drops {
		if err := queue.Handle(ctx, l, d, nil); err != nil {
			t.Fatalf("expected %s to be dropped, got %v", d, err)
		}
	}
	if b, _ := l.GetBalance(ctx, 4); b != 250 {
		t.Fatalf("expected balance unchanged, got %d", b)
	}
}

type brokenCompleter struct{}

func (brokenCompleter) CompleteRecharge(context.Context, string, bool, string) (*model.RechargeRecord, error) {
	return nil, errors.New("database is down")
}

func TestHandleReturnsInfraErrors(t *testing.T) {
	t.Parallel()
	msg, _ := json.Marshal(queue.RechargeResult{RechargeID: "r1", Status: "success"})
	if err := queue.Handle(context.Background(), brokenCompleter{}, msg, nil); err == nil {
		t.Fatalf("expected infrastructure error to be returned for retry")
	}
}
