package wallet_test

import (
	"context"
	"errors"
	"testing"

	"campus_market/internal/apperr"
	"campus_market/internal/model"
	"campus_market/internal/queue"
	"campus_market/internal/wallet"
)

func TestRechargeSuccessCreditsOnce(t *testing.T) {
	t.Parallel()
	s, l := newLedger(t)
	ctx := context.Background()

	rec, err := l.StartRecharge(ctx, 5, 300)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.Status != model.RechargeProcessing {
		t.Fatalf("expected processing, got %s", rec.Status)
	}
	if got := balance(t, l, 5); got != 0 {
		t.Fatalf("expected no credit before completion, got %d", got)
	}

	for i := 0; i < 3; i++ {
		done, err := l.CompleteRecharge(ctx, rec.ID, true, "")
		if err != nil {
			t.Fatalf("complete #%d: %v", i, err)
		}
		if done.Status != model.RechargeSuccess {
			t.Fatalf("expected success, got %s", done.Status)
		}
	}
	if got := balance(t, l, 5); got != 300 {
		t.Fatalf("expected 300 after repeated callbacks, got %d", got)
	}

	entries, err := s.Reader(ctx).EntriesByReference(wallet.RechargeRef(rec.ID))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d err=%v", len(entries), err)
	}
	events, err := s.Reader(ctx).ListOutbox(model.SinkKafka, rec.ID)
	if err != nil || len(events) != 1 || events[0].Type != queue.EventWalletRecharged {
		t.Fatalf("expected one wallet.recharged event, got %+v err=%v", events, err)
	}
}

func TestRechargeFailureDoesNotCredit(t *testing.T) {
	t.Parallel()
	_, l := newLedger(t)
	ctx := context.Background()

	rec, err := l.StartRecharge(ctx, 5, 300)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := l.CompleteRecharge(ctx, rec.ID, false, "card declined")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != model.RechargeFailed || done.ErrorMsg != "card declined" {
		t.Fatalf("unexpected record %+v", done)
	}
	if got := balance(t, l, 5); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}

	_, err = l.CompleteRecharge(ctx, rec.ID, true, "")
	if !errors.Is(err, apperr.ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal, got %v", err)
	}
}

func TestRechargeValidation(t *testing.T) {
	t.Parallel()
	_, l := newLedger(t)
	ctx := context.Background()

	if _, err := l.StartRecharge(ctx, 5, 0); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := l.StartRecharge(ctx, 5, 10_001); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := l.CompleteRecharge(ctx, "missing", true, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
