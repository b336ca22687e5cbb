package negotiation

import (
	"errors"
	"testing"

	"campus_market/internal/apperr"
)

func TestBandBounds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		band   Band
		base   int64
		lo, hi int64
	}{
		{"default on 100", DefaultBand, 100, 50, 120},
		{"rounds inward", Band{MaxDiscountPercent: 33, MaxMarkupPercent: 15}, 999, 670, 1148},
		{"no slack", Band{}, 250, 250, 250},
		{"one cent", DefaultBand, 1, 1, 1},
	}
	for _, tt := range tests {
		lo, hi := tt.band.Bounds(tt.base)
		if lo != tt.lo || hi != tt.hi {
			t.Fatalf("%s: expected [%d,%d], got [%d,%d]", tt.name, tt.lo, tt.hi, lo, hi)
		}
	}
}

func TestBandCheck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		price int64
		want  error
	}{
		{80, nil},
		{50, nil},
		{120, nil},
		{49, apperr.ErrPriceOutOfRange},
		{121, apperr.ErrPriceOutOfRange},
		{0, apperr.ErrInvalidArgument},
		{-10, apperr.ErrInvalidArgument},
	}
	for _, tt := range tests {
		err := DefaultBand.Check(100, tt.price)
		if tt.want == nil && err != nil {
			t.Fatalf("price %d: expected ok, got %v", tt.price, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Fatalf("price %d: expected %v, got %v", tt.price, tt.want, err)
		}
	}
}
