package settlement_test

import (
	"context"
	"testing"
	"time"

	"campus_market/internal/catalog"
	"campus_market/internal/model"
	"campus_market/internal/negotiation"
	"campus_market/internal/order"
	"campus_market/internal/queue"
	"campus_market/internal/settlement"
	"campus_market/internal/store"
	"campus_market/internal/store/storetest"
	"campus_market/internal/wallet"
	rediskey "campus_market/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
)

type redisFixture struct {
	mr    *miniredis.Miniredis
	rdb   *rd.Client
	clock *clock
	store *store.Store
	coord *settlement.Coordinator
	relay *queue.Relay
}

func setupRedis(t *testing.T) *redisFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := storetest.New(t)
	cat := catalog.NewRedis(rdb)
	ledger := wallet.New(s, wallet.Options{Now: c.Now})
	tracker := negotiation.NewTracker(s, negotiation.Options{Now: c.Now})
	return &redisFixture{
		mr:    mr,
		rdb:   rdb,
		clock: c,
		store: s,
		coord: settlement.New(s, ledger, tracker, settlement.Options{Catalog: cat, Now: c.Now}),
		relay: queue.NewRelay(s, settlement.NewCatalogDispatcher(s, cat, nil), queue.RelayConfig{
			Sink:         model.SinkCatalog,
			Interval:     time.Second,
			RetryForever: true,
			MaxBackoff:   5 * time.Second,
			Now:          c.Now,
		}),
	}
}

func (f *redisFixture) create(t *testing.T, buyerID int64, product uint) *model.Order {
	t.Helper()
	o, err := f.coord.CreateOrder(context.Background(), settlement.CreateRequest{
		BuyerID: buyerID, SellerID: seller, ProductID: product, BasePrice: 100,
	})
	if err != nil {
		t.Fatalf("create order for product %d: %v", product, err)
	}
	return o
}

func (f *redisFixture) dispatch(t *testing.T) (sent, failed int) {
	t.Helper()
	sent, failed, err := f.relay.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return sent, failed
}

func (f *redisFixture) holder(t *testing.T, product uint) (string, string) {
	t.Helper()
	state, orderID, err := rediskey.ProductState(context.Background(), f.rdb, product)
	if err != nil {
		t.Fatalf("product state: %v", err)
	}
	return state, orderID
}

func TestTransientReleaseFailureIsRetried(t *testing.T) {
	t.Parallel()
	f := setupRedis(t)
	ctx := context.Background()

	first := f.create(t, buyer, 7)
	if sent, _ := f.dispatch(t); sent != 1 {
		t.Fatalf("expected reserve delivered, got sent=%d", sent)
	}
	if state, holder := f.holder(t, 7); state != rediskey.ProductReserved || holder != first.ID {
		t.Fatalf("expected product reserved by %s, got %q %q", first.ID, state, holder)
	}

	f.mr.SetError("transient outage")
	if _, err := f.coord.Cancel(ctx, first.ID, order.User(buyer)); err != nil {
		t.Fatalf("cancel during outage: %v", err)
	}
	if _, failed := f.dispatch(t); failed != 1 {
		t.Fatalf("expected release to fail during outage, got %d failures", failed)
	}
	f.mr.SetError("")

	f.clock.Advance(2 * time.Second)
	if sent, failed := f.dispatch(t); sent != 1 || failed != 0 {
		t.Fatalf("expected release retried, got sent=%d failed=%d", sent, failed)
	}
	if state, _ := f.holder(t, 7); state != "" {
		t.Fatalf("expected product free, got %q", state)
	}

	second := f.create(t, 3, 7)
	f.dispatch(t)
	if state, holder := f.holder(t, 7); state != rediskey.ProductReserved || holder != second.ID {
		t.Fatalf("expected product reserved by %s, got %q %q", second.ID, state, holder)
	}
}

func TestReorderWhileReleaseIsPending(t *testing.T) {
	t.Parallel()
	f := setupRedis(t)
	ctx := context.Background()

	first := f.create(t, buyer, 8)
	f.dispatch(t)
	f.mr.SetError("transient outage")
	if _, err := f.coord.Cancel(ctx, first.ID, order.User(buyer)); err != nil {
		t.Fatalf("cancel during outage: %v", err)
	}
	f.dispatch(t)
	f.mr.SetError("")

	// catalog 仍显示被已取消订单占用，不阻塞新订单
	second := f.create(t, 3, 8)

	// 释放先于新占用生效
	f.clock.Advance(2 * time.Second)
	if sent, failed := f.dispatch(t); sent != 2 || failed != 0 {
		t.Fatalf("expected release and reserve delivered, got sent=%d failed=%d", sent, failed)
	}
	if state, holder := f.holder(t, 8); state != rediskey.ProductReserved || holder != second.ID {
		t.Fatalf("expected product reserved by %s, got %q %q", second.ID, state, holder)
	}
}

func TestLateReserveForCancelledOrderReleases(t *testing.T) {
	t.Parallel()
	f := setupRedis(t)

	f.mr.SetError("transient outage")
	o := f.create(t, buyer, 9)
	if _, err := f.coord.Cancel(context.Background(), o.ID, order.User(seller)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, failed := f.dispatch(t); failed != 1 {
		t.Fatalf("expected failure during outage, got %d", failed)
	}
	f.mr.SetError("")

	f.clock.Advance(2 * time.Second)
	if sent, _ := f.dispatch(t); sent != 2 {
		t.Fatalf("expected both commands delivered, got %d", sent)
	}
	if state, _ := f.holder(t, 9); state != "" {
		t.Fatalf("expected product free, got %q", state)
	}
}

func TestSoldProductStaysUnavailable(t *testing.T) {
	t.Parallel()
	f := setupRedis(t)
	ctx := context.Background()

	// 已售的商品不能再下单
	if _, err := rediskey.FinalizeProduct(ctx, f.rdb, 10, "earlier-order"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := f.coord.CreateOrder(ctx, settlement.CreateRequest{
		BuyerID: buyer, SellerID: seller, ProductID: 10, BasePrice: 100,
	}); err == nil {
		t.Fatalf("expected sold product rejected")
	}
}
