package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"campus_market/internal/apperr"
	"campus_market/internal/catalog"
	"campus_market/internal/logging"
	"campus_market/internal/model"
	"campus_market/internal/queue"
	"campus_market/internal/store"
)

// CatalogDispatcher 把 outbox 里的 catalog 指令应用到 Catalog，作为 catalog sink 的 Publisher。
// 返回 error 表示可重试，Relay 会退避后再投。
type CatalogDispatcher struct {
	store   *store.Store
	catalog catalog.Catalog
	log     *slog.Logger
}

var _ queue.Publisher = (*CatalogDispatcher)(nil)

func NewCatalogDispatcher(s *store.Store, cat catalog.Catalog, logger *slog.Logger) *CatalogDispatcher {
	if cat == nil {
		cat = catalog.Noop{}
	}
	return &CatalogDispatcher{
		store:   s,
		catalog: cat,
		log:     logging.OrDefault(logger).With("component", "catalog_dispatch"),
	}
}

func (d *CatalogDispatcher) Publish(ctx context.Context, _, _ string, payload []byte) error {
	ev, err := queue.DecodeEvent(payload)
	if err != nil {
		d.log.Warn("drop malformed catalog command", "error", err)
		return nil
	}
	var cmd queue.CatalogCommand
	if err := json.Unmarshal(ev.Data, &cmd); err != nil || cmd.OrderID == "" {
		d.log.Warn("drop malformed catalog command", "event_id", ev.ID, "error", err)
		return nil
	}

	switch ev.Type {
	case queue.CatalogReserve:
		return d.reserve(ctx, cmd)
	case queue.CatalogRelease:
		return d.catalog.Release(ctx, cmd.ProductID, cmd.OrderID)
	case queue.CatalogFinalize:
		return d.catalog.Finalize(ctx, cmd.ProductID, cmd.OrderID)
	default:
		d.log.Warn("drop unknown catalog command", "event_id", ev.ID, "type", ev.Type)
		return nil
	}
}

// reserve 订单在占用生效前已取消时改为释放，迟到的占用不能锁住商品。
func (d *CatalogDispatcher) reserve(ctx context.Context, cmd queue.CatalogCommand) error {
	o, err := d.store.Reader(ctx).GetOrder(cmd.OrderID)
	if errors.Is(err, apperr.ErrNotFound) {
		d.log.Warn("drop reserve for unknown order", "order_id", cmd.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if o.Status == model.OrderCancelled {
		return d.catalog.Release(ctx, cmd.ProductID, cmd.OrderID)
	}
	return d.catalog.Reserve(ctx, cmd.ProductID, cmd.OrderID)
}
