package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"campus_market/internal/apperr"
	"campus_market/internal/model"
	"campus_market/internal/store"
	"campus_market/internal/store/storetest"

	"github.com/google/uuid"
)

func newOrder(buyer, seller int64, product uint, expires time.Time) *model.Order {
	return &model.Order{
		ID:        uuid.NewString(),
		BuyerID:   buyer,
		SellerID:  seller,
		ProductID: product,
		BasePrice: 100,
		Status:    model.OrderPendingPayment,
		ExpiresAt: &expires,
	}
}

func TestAtomicRollsBackOnError(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()
	o := newOrder(1, 2, 7, time.Now().UTC().Add(time.Hour))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx *store.Tx) error {
		if err := tx.CreateOrder(o); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.Reader(ctx).GetOrder(o.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after rollback, got %v", err)
	}
}

func TestUpdateOrderCompareAndSwap(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()
	o := newOrder(1, 2, 7, time.Now().UTC().Add(time.Hour))

	err := s.Atomic(ctx, func(tx *store.Tx) error { return tx.CreateOrder(o) })
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = s.Atomic(ctx, func(tx *store.Tx) error {
		return tx.UpdateOrder(o.ID, model.OrderPendingPayment, map[string]any{"status": model.OrderPaid, "expires_at": nil})
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}

	err = s.Atomic(ctx, func(tx *store.Tx) error {
		return tx.UpdateOrder(o.ID, model.OrderPendingPayment, map[string]any{"status": model.OrderCancelled})
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := s.Reader(ctx).GetOrder(o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.OrderPaid || got.ExpiresAt != nil {
		t.Fatalf("expected paid with no expiry, got %s %v", got.Status, got.ExpiresAt)
	}
}

func TestListExpiredPendingPaginates(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var expired int
	err := s.Atomic(ctx, func(tx *store.Tx) error {
		for i := 0; i < 5; i++ {
			if err := tx.CreateOrder(newOrder(1, 2, uint(i+1), now.Add(-time.Minute))); err != nil {
				return err
			}
			expired++
		}
		// 未过期
		if err := tx.CreateOrder(newOrder(1, 2, 100, now.Add(time.Minute))); err != nil {
			return err
		}
		// 已支付的不在扫描范围
		paid := newOrder(1, 2, 101, now.Add(-time.Minute))
		paid.Status = model.OrderPaid
		return tx.CreateOrder(paid)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	seen := map[string]bool{}
	after := ""
	for {
		page, err := s.Reader(ctx).ListExpiredPending(now, after, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > 2 {
			t.Fatalf("expected page size <= 2, got %d", len(page))
		}
		for _, o := range page {
			if seen[o.ID] {
				t.Fatalf("order %s returned twice", o.ID)
			}
			seen[o.ID] = true
			after = o.ID
		}
	}
	if len(seen) != expired {
		t.Fatalf("expected %d expired orders, got %d", expired, len(seen))
	}
}

func TestHasActiveOrderForProduct(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()

	cancelled := newOrder(1, 2, 9, time.Now().UTC())
	cancelled.Status = model.OrderCancelled
	err := s.Atomic(ctx, func(tx *store.Tx) error { return tx.CreateOrder(cancelled) })
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	busy, err := s.Reader(ctx).HasActiveOrderForProduct(9)
	if err != nil || busy {
		t.Fatalf("expected product free, got busy=%v err=%v", busy, err)
	}

	err = s.Atomic(ctx, func(tx *store.Tx) error { return tx.CreateOrder(newOrder(3, 2, 9, time.Now().UTC().Add(time.Hour))) })
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	busy, err = s.Reader(ctx).HasActiveOrderForProduct(9)
	if err != nil || !busy {
		t.Fatalf("expected product busy, got busy=%v err=%v", busy, err)
	}
}

func TestDebitBalanceNeverNegative(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureAccount(1); err != nil {
			return err
		}
		_, err := tx.CreditBalance(1, 50, 1000)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = s.Atomic(ctx, func(tx *store.Tx) error {
		_, err := tx.DebitBalance(1, 80)
		return err
	})
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	acc, err := s.Reader(ctx).GetAccount(1)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance != 50 {
		t.Fatalf("expected balance 50, got %d", acc.Balance)
	}

	var after int64
	err = s.Atomic(ctx, func(tx *store.Tx) error {
		var err error
		after, err = tx.DebitBalance(1, 50)
		return err
	})
	if err != nil || after != 0 {
		t.Fatalf("expected balance 0, got %d err=%v", after, err)
	}
}

func TestCreditBalanceRespectsLimit(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx *store.Tx) error {
		if err := tx.EnsureAccount(1); err != nil {
			return err
		}
		// 重复创建是 no-op
		if err := tx.EnsureAccount(1); err != nil {
			return err
		}
		_, err := tx.CreditBalance(1, 90, 100)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = s.Atomic(ctx, func(tx *store.Tx) error {
		_, err := tx.CreditBalance(1, 11, 100)
		return err
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRejectOpenNegotiations(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	o := newOrder(1, 2, 3, now.Add(time.Hour))
	open := &model.Negotiation{ID: uuid.NewString(), OrderID: o.ID, ProposerID: 1, Price: 90, Status: model.NegotiationPending}
	done := &model.Negotiation{ID: uuid.NewString(), OrderID: o.ID, ProposerID: 2, Price: 95, Status: model.NegotiationRejected}

	var n int64
	err := s.Atomic(ctx, func(tx *store.Tx) error {
		for _, err := range []error{tx.CreateOrder(o), tx.CreateNegotiation(open), tx.CreateNegotiation(done)} {
			if err != nil {
				return err
			}
		}
		var err error
		n, err = tx.RejectOpenNegotiations(o.ID, now)
		return err
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 rejected, got %d", n)
	}
	openList, err := s.Reader(ctx).OpenNegotiations(o.ID)
	if err != nil || len(openList) != 0 {
		t.Fatalf("expected no open negotiations, got %d err=%v", len(openList), err)
	}
}

func TestOutboxRetryKeepsValidUTF8(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := &model.OutboxEvent{Sink: model.SinkKafka, EventID: uuid.NewString(), Type: "order.created", AggregateID: "o1", Payload: []byte("{}"), NextRunAt: now}
	if err := s.Atomic(ctx, func(tx *store.Tx) error { return tx.AddOutbox(ev) }); err != nil {
		t.Fatalf("add outbox: %v", err)
	}

	tests := []struct {
		name string
		msg  string
	}{
		// 每个汉字 3 字节，255 落在字符中间
		{"multibyte", "x" + strings.Repeat("连接失败", 40)},
		{"invalid bytes", strings.Repeat("a", 250) + "\xff\xfe\xfd" + strings.Repeat("b", 10)},
	}
	for i, tt := range tests {
		err := s.Atomic(ctx, func(tx *store.Tx) error {
			return tx.MarkOutboxRetry(ev.ID, i+1, now.Add(time.Second), tt.msg, false)
		})
		if err != nil {
			t.Fatalf("%s: mark retry: %v", tt.name, err)
		}
		rows, err := s.Reader(ctx).ListOutbox(model.SinkKafka, "o1")
		if err != nil || len(rows) != 1 {
			t.Fatalf("%s: expected one row, got %d err=%v", tt.name, len(rows), err)
		}
		got := rows[0]
		if !utf8.ValidString(got.LastError) || len(got.LastError) > 255 || got.LastError == "" {
			t.Fatalf("%s: expected valid trimmed error, got %d bytes %q", tt.name, len(got.LastError), got.LastError)
		}
		if got.Attempts != i+1 {
			t.Fatalf("%s: expected attempts %d, got %d", tt.name, i+1, got.Attempts)
		}
	}
}

func TestDueOutboxFiltersBySink(t *testing.T) {
	t.Parallel()
	s := storetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.Atomic(ctx, func(tx *store.Tx) error {
		for _, sink := range []string{model.SinkKafka, model.SinkCatalog, model.SinkKafka} {
			ev := &model.OutboxEvent{Sink: sink, EventID: uuid.NewString(), Type: "t", AggregateID: "o1", Payload: []byte("{}"), NextRunAt: now}
			if err := tx.AddOutbox(ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("add outbox: %v", err)
	}
	kafka, err := s.Reader(ctx).DueOutbox(model.SinkKafka, now, 10)
	if err != nil || len(kafka) != 2 {
		t.Fatalf("expected 2 kafka rows, got %d err=%v", len(kafka), err)
	}
	catalog, err := s.Reader(ctx).DueOutbox(model.SinkCatalog, now, 10)
	if err != nil || len(catalog) != 1 {
		t.Fatalf("expected 1 catalog row, got %d err=%v", len(catalog), err)
	}
}
