// Package negotiation records price proposals against a pending order and binds
// an accepted price into the order in the same unit of work.
package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campus_market/internal/apperr"
	"campus_market/internal/logging"
	"campus_market/internal/model"
	"campus_market/internal/queue"
	"campus_market/internal/store"

	"github.com/google/uuid"
)

// Decision 对一条报价的回应。
type Decision int

const (
	Accept Decision = iota + 1
	Reject
	Counter
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Counter:
		return "counter_offer"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

func ParseDecision(v string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "accept":
		return Accept, nil
	case "reject":
		return Reject, nil
	case "counter", "counter_offer":
		return Counter, nil
	}
	return 0, fmt.Errorf("unknown decision %q: %w", v, apperr.ErrInvalidArgument)
}

// Response Respond 的结果：Responded 是被回应的报价；还价时 Counter 为新报价。
type Response struct {
	Responded *model.Negotiation
	Counter   *model.Negotiation
	Order     *model.Order
}

type Options struct {
	Band   Band
	Now    func() time.Time
	Logger *slog.Logger
}

type Tracker struct {
	store *store.Store
	band  Band
	now   func() time.Time
	log   *slog.Logger
}

func NewTracker(s *store.Store, opts Options) *Tracker {
	if opts.Band == (Band{}) {
		opts.Band = DefaultBand
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		store: s,
		band:  opts.Band,
		now:   opts.Now,
		log:   logging.OrDefault(opts.Logger).With("component", "negotiation"),
	}
}

// negotiable 订单仍待支付且未过期，actor 为买卖双方之一。
func (t *Tracker) negotiable(o *model.Order, userID int64) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, apperr.ErrAlreadyTerminal)
	}
	if o.Status != model.OrderPendingPayment {
		return fmt.Errorf("order %s is %s, price is fixed: %w", o.ID, o.Status, apperr.ErrInvalidTransition)
	}
	if o.Expired(t.now()) {
		return fmt.Errorf("order %s: %w", o.ID, apperr.ErrOrderExpired)
	}
	if userID <= 0 || (userID != o.BuyerID && userID != o.SellerID) {
		return fmt.Errorf("user %d is not a party of order %s: %w", userID, o.ID, apperr.ErrForbidden)
	}
	return nil
}

// Propose 新报价取代该订单上所有未决报价（标记为 Rejected）。
func (t *Tracker) Propose(ctx context.Context, orderID string, proposerID, price int64) (*model.Negotiation, error) {
	var out *model.Negotiation
	err := t.store.Atomic(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if err := t.negotiable(o, proposerID); err != nil {
			return err
		}
		if err := t.band.Check(o.BasePrice, price); err != nil {
			return err
		}
		now := t.now()
		if err := t.supersede(tx, orderID, now); err != nil {
			return err
		}
		out, err = t.insert(tx, orderID, proposerID, price, model.NegotiationPending, "", now)
		if err != nil {
			return err
		}
		return queue.Enqueue(tx, queue.EventNegotiationProposed, orderID, now, out)
	})
	if err != nil {
		return nil, err
	}
	t.log.Info("negotiation proposed", "order_id", orderID, "negotiation_id", out.ID, "proposer_id", proposerID, "price", price)
	return out, nil
}

// Respond 只有非报价方可以回应。Accept 在同一事务内写入订单 final_price。
func (t *Tracker) Respond(ctx context.Context, negotiationID string, responderID int64, d Decision, counterPrice int64) (*Response, error) {
	var out Response
	err := t.store.Atomic(ctx, func(tx *store.Tx) error {
		n, err := tx.GetNegotiation(negotiationID)
		if err != nil {
			return err
		}
		if !n.Status.Open() {
			return fmt.Errorf("negotiation %s is %s: %w", n.ID, n.Status, apperr.ErrInvalidTransition)
		}
		o, err := tx.GetOrder(n.OrderID)
		if err != nil {
			return err
		}
		if err := t.negotiable(o, responderID); err != nil {
			return err
		}
		if responderID == n.ProposerID {
			return fmt.Errorf("proposer cannot respond to own offer: %w", apperr.ErrForbidden)
		}

		now := t.now()
		switch d {
		case Accept:
			if err := tx.CloseNegotiation(n.ID, n.Status, model.NegotiationAccepted, now); err != nil {
				return err
			}
			if err := tx.SetFinalPrice(o.ID, n.Price); err != nil {
				return err
			}
			price := n.Price
			o.FinalPrice = &price
			n.Status = model.NegotiationAccepted
			n.RespondedAt = &now
			if err := queue.Enqueue(tx, queue.EventNegotiationAccepted, o.ID, now, n); err != nil {
				return err
			}
		case Reject:
			if err := tx.CloseNegotiation(n.ID, n.Status, model.NegotiationRejected, now); err != nil {
				return err
			}
			n.Status = model.NegotiationRejected
			n.RespondedAt = &now
			if err := queue.Enqueue(tx, queue.EventNegotiationRejected, o.ID, now, n); err != nil {
				return err
			}
		case Counter:
			if err := t.band.Check(o.BasePrice, counterPrice); err != nil {
				return err
			}
			if err := tx.CloseNegotiation(n.ID, n.Status, model.NegotiationRejected, now); err != nil {
				return err
			}
			n.Status = model.NegotiationRejected
			n.RespondedAt = &now
			out.Counter, err = t.insert(tx, o.ID, responderID, counterPrice, model.NegotiationCounterOffer, n.ID, now)
			if err != nil {
				return err
			}
			if err := queue.Enqueue(tx, queue.EventNegotiationCountered, o.ID, now, out.Counter); err != nil {
				return err
			}
		default:
			return fmt.Errorf("decision %s: %w", d, apperr.ErrInvalidArgument)
		}
		out.Responded = n
		out.Order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.log.Info("negotiation responded", "negotiation_id", negotiationID, "responder_id", responderID, "decision", d.String())
	return &out, nil
}

// List 订单的报价历史，按创建时间排序。
func (t *Tracker) List(ctx context.Context, orderID string) ([]model.Negotiation, error) {
	r := t.store.Reader(ctx)
	if _, err := r.GetOrder(orderID); err != nil {
		return nil, err
	}
	return r.ListNegotiations(orderID)
}

// RejectOpen 订单取消时在调用方的工作单元内关闭未决报价。
func (t *Tracker) RejectOpen(tx *store.Tx, orderID string) (int64, error) {
	return tx.RejectOpenNegotiations(orderID, t.now())
}

func (t *Tracker) supersede(tx *store.Tx, orderID string, now time.Time) error {
	open, err := tx.OpenNegotiations(orderID)
	if err != nil {
		return err
	}
	for i := range open {
		n := &open[i]
		if err := tx.CloseNegotiation(n.ID, n.Status, model.NegotiationRejected, now); err != nil {
			return err
		}
		n.Status = model.NegotiationRejected
		n.RespondedAt = &now
		if err := queue.Enqueue(tx, queue.EventNegotiationRejected, orderID, now, n); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) insert(tx *store.Tx, orderID string, proposerID, price int64, status model.NegotiationStatus, parentID string, now time.Time) (*model.Negotiation, error) {
	n := &model.Negotiation{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
		OrderID:    orderID,
		ProposerID: proposerID,
		Price:      price,
		Status:     status,
		ParentID:   parentID,
	}
	if err := tx.CreateNegotiation(n); err != nil {
		return nil, err
	}
	return n, nil
}
